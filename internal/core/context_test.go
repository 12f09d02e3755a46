package core

import (
	"context"
	"testing"
)

type lifecycleRecorder struct {
	seen []string
}

func (r *lifecycleRecorder) ObserveInvocation(context.Context, InvocationEvent) {}

func (r *lifecycleRecorder) ObserveLifecycle(_ context.Context, ev LifecycleEvent) {
	r.seen = append(r.seen, ev.From+"->"+ev.To)
}

func TestLateObserverGetsPastTransitions(t *testing.T) {
	app := NewAppContext(BuildDebug, nil, "", "")
	early := &lifecycleRecorder{}
	app.Observe(early)
	app.NotifyLifecycle(context.Background(), LifecycleEvent{From: "uninitialized", To: "modules_installing"})

	late := &lifecycleRecorder{}
	app.Observe(late)
	app.NotifyLifecycle(context.Background(), LifecycleEvent{From: "modules_installing", To: "registry_building"})

	want := []string{"uninitialized->modules_installing", "modules_installing->registry_building"}
	for _, r := range []*lifecycleRecorder{early, late} {
		if len(r.seen) != len(want) {
			t.Fatalf("seen = %v, want %v", r.seen, want)
		}
		for i := range want {
			if r.seen[i] != want[i] {
				t.Fatalf("seen = %v, want %v", r.seen, want)
			}
		}
	}
	if n := len(app.Observers()); n != 2 {
		t.Fatalf("observers = %d, want 2", n)
	}
}
