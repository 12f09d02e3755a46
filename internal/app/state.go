package app

// State этап жизненного цикла приложения.
type State int32

const (
	// StateUninitialized приложение создано, Bootstrap не вызывался.
	StateUninitialized State = iota
	// StateModulesInstalling устанавливаются capability-модули.
	StateModulesInstalling
	// StateRegistryBuilding регистрируются встроенные команды.
	StateRegistryBuilding
	// StateRunning реестр запечатан, мост принимает вызовы.
	StateRunning
	// StateTerminated терминальное состояние; причина в Err().
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateModulesInstalling:
		return "modules_installing"
	case StateRegistryBuilding:
		return "registry_building"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// IsTerminal true для Terminated.
func (s State) IsTerminal() bool { return s == StateTerminated }
