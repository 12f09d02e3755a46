package core

import (
	"testing"
	"time"
)

func TestEventHubFanOut(t *testing.T) {
	hub := NewEventHub(4)
	a, unsubA := hub.Subscribe()
	b, unsubB := hub.Subscribe()
	defer unsubB()

	hub.Emit("fs://change", map[string]string{"path": "notes.md"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Name != "fs://change" {
				t.Fatalf("unexpected event %q", ev.Name)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("channel must be closed after unsubscribe")
	}
	hub.Emit("after", nil)
}

func TestBuildModeParse(t *testing.T) {
	for in, want := range map[string]BuildMode{"": BuildDebug, "debug": BuildDebug, "release": BuildRelease} {
		got, err := ParseBuildMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseBuildMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseBuildMode("staging"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
