package host

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"devstash/internal/core"
)

func newBridge(t *testing.T, m *Module) *core.Bridge {
	t.Helper()
	reg := core.NewRegistry()
	if err := m.Install(reg, core.NewAppContext(core.BuildDebug, nil, t.TempDir(), "")); err != nil {
		t.Fatalf("install: %v", err)
	}
	reg.Seal()
	return core.NewBridge(reg)
}

func fakeModule() *Module {
	return &Module{
		hostInfo: func(context.Context) (*host.InfoStat, error) {
			return &host.InfoStat{Hostname: "stash-box", OS: "linux", Platform: "debian", PlatformVersion: "12", KernelVersion: "6.1.0", Uptime: 42, BootTime: 0}, nil
		},
		vmem: func(context.Context) (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{Total: 1024, Available: 512, Used: 512, UsedPercent: 50}, nil
		},
		loadAvg: func(context.Context) (*load.AvgStat, error) {
			return nil, errors.New("not implemented on this platform")
		},
	}
}

func TestInfo(t *testing.T) {
	b := newBridge(t, fakeModule())
	resp := b.Invoke(context.Background(), core.Invocation{ID: "1", Command: CmdInfo})
	if resp.Err != nil {
		t.Fatalf("info: %v", resp.Err)
	}
	info, ok := resp.OK.(Info)
	if !ok {
		t.Fatalf("unexpected type %T", resp.OK)
	}
	if info.Hostname != "stash-box" || info.Family != "linux" || info.BootTime != "1970-01-01T00:00:00Z" {
		t.Fatalf("unexpected info: %#v", info)
	}
}

func TestMemoryIgnoresMissingLoadAverage(t *testing.T) {
	b := newBridge(t, fakeModule())
	resp := b.Invoke(context.Background(), core.Invocation{ID: "2", Command: CmdMemory, Args: json.RawMessage(`{}`)})
	if resp.Err != nil {
		t.Fatalf("memory: %v", resp.Err)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":"2","ok":{"total":1024,"available":512,"used":512,"usedPercent":50,"load1":0,"load5":0,"load15":0}}`
	if string(raw) != want {
		t.Fatalf("wire = %s\nwant %s", raw, want)
	}
}

func TestHostFailureIsHandlerError(t *testing.T) {
	m := fakeModule()
	m.hostInfo = func(context.Context) (*host.InfoStat, error) { return nil, errors.New("boom") }
	b := newBridge(t, m)
	resp := b.Invoke(context.Background(), core.Invocation{ID: "3", Command: CmdInfo})
	if resp.Err == nil || resp.Err.Kind != core.KindHandlerError {
		t.Fatalf("expected handler_error, got %#v", resp)
	}
}

func TestRealHostInfo(t *testing.T) {
	b := newBridge(t, New())
	resp := b.Invoke(context.Background(), core.Invocation{ID: "4", Command: CmdMemory})
	if resp.Err != nil {
		t.Skipf("host memory unavailable: %v", resp.Err)
	}
	if got, ok := resp.OK.(Memory); !ok || got.Total == 0 {
		t.Fatalf("unexpected memory: %#v", resp.OK)
	}
}
