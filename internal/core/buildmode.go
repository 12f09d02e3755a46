package core

import "fmt"

// BuildMode режим сборки; задается при линковке и читается один раз на bootstrap.
type BuildMode int

const (
	BuildDebug BuildMode = iota
	BuildRelease
)

func (m BuildMode) String() string {
	switch m {
	case BuildDebug:
		return "debug"
	case BuildRelease:
		return "release"
	default:
		return fmt.Sprintf("BuildMode(%d)", int(m))
	}
}

// IsDebug true для не-production сборок.
func (m BuildMode) IsDebug() bool { return m == BuildDebug }

// ParseBuildMode разбирает значение, заданное через -ldflags.
func ParseBuildMode(s string) (BuildMode, error) {
	switch s {
	case "", "debug", "dev":
		return BuildDebug, nil
	case "release", "production":
		return BuildRelease, nil
	default:
		return BuildDebug, fmt.Errorf("unknown build mode %q: %w", s, errInvalidArguments)
	}
}
