// Package host отдает front-end сведения об операционной системе и памяти узла.
package host

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"devstash/internal/core"
)

// Имена команд модуля.
const (
	CmdInfo   = "plugin:os|info"
	CmdMemory = "plugin:os|memory"
)

// Info ответ plugin:os|info.
type Info struct {
	Hostname        string `json:"hostname"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platformVersion"`
	Kernel          string `json:"kernel"`
	Arch            string `json:"arch"`
	Family          string `json:"family"`
	UptimeSec       uint64 `json:"uptimeSec"`
	BootTime        string `json:"bootTime"`
}

// Memory ответ plugin:os|memory.
type Memory struct {
	Total       uint64  `json:"total"`
	Available   uint64  `json:"available"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
	Load1       float64 `json:"load1"`
	Load5       float64 `json:"load5"`
	Load15      float64 `json:"load15"`
}

// Module capability-модуль "os".
type Module struct {
	// источники данных подменяются в тестах
	hostInfo func(context.Context) (*host.InfoStat, error)
	vmem     func(context.Context) (*mem.VirtualMemoryStat, error)
	loadAvg  func(context.Context) (*load.AvgStat, error)
}

// New создает модуль поверх gopsutil.
func New() *Module {
	return &Module{
		hostInfo: host.InfoWithContext,
		vmem:     mem.VirtualMemoryWithContext,
		loadAvg:  load.AvgWithContext,
	}
}

func (m *Module) Name() string { return "os" }

func (m *Module) Install(reg *core.Registry, app *core.AppContext) error {
	if err := reg.Register(CmdInfo, core.Async(m.info)); err != nil {
		return fmt.Errorf("register %s: %w", CmdInfo, err)
	}
	if err := reg.Register(CmdMemory, core.Async(m.memory)); err != nil {
		return fmt.Errorf("register %s: %w", CmdMemory, err)
	}
	return nil
}

type noArgs struct{}

func (m *Module) info(ctx context.Context, _ noArgs) (Info, error) {
	h, err := m.hostInfo(ctx)
	if err != nil {
		return Info{}, fmt.Errorf("host info: %w", err)
	}
	return Info{
		Hostname:        h.Hostname,
		Platform:        h.Platform,
		PlatformVersion: h.PlatformVersion,
		Kernel:          h.KernelVersion,
		Arch:            runtime.GOARCH,
		Family:          h.OS,
		UptimeSec:       h.Uptime,
		BootTime:        time.Unix(int64(h.BootTime), 0).UTC().Format(time.RFC3339), // #nosec G115 -- boot time в секундах
	}, nil
}

func (m *Module) memory(ctx context.Context, _ noArgs) (Memory, error) {
	vm, err := m.vmem(ctx)
	if err != nil {
		return Memory{}, fmt.Errorf("memory info: %w", err)
	}
	out := Memory{
		Total:       vm.Total,
		Available:   vm.Available,
		Used:        vm.Used,
		UsedPercent: vm.UsedPercent,
	}
	// load average есть не на всех платформах
	if ld, err := m.loadAvg(ctx); err == nil {
		out.Load1, out.Load5, out.Load15 = ld.Load1, ld.Load5, ld.Load15
	}
	return out, nil
}
