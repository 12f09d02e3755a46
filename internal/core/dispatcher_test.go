package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return string(args), nil
	})
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("echo", echoHandler()); err != nil {
		t.Fatalf("register: %v", err)
	}
	h, err := r.Resolve("echo")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	out, err := h.Invoke(context.Background(), json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != `{"a":1}` {
		t.Fatalf("unexpected output: %#v", out)
	}
}

func TestDuplicateCommand(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("dup", echoHandler()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register("dup", echoHandler())
	if !errors.Is(err, ErrDuplicateCommand) {
		t.Fatalf("expected ErrDuplicateCommand, got %v", err)
	}
}

func TestRegisterRejectsEmptyAndNil(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", echoHandler()); !errors.Is(err, errInvalidArguments) {
		t.Fatalf("expected invalid arguments for empty name, got %v", err)
	}
	if err := r.Register("nil", nil); !errors.Is(err, errInvalidArguments) {
		t.Fatalf("expected invalid arguments for nil handler, got %v", err)
	}
}

func TestRegisterAfterSeal(t *testing.T) {
	r := NewRegistry()
	r.Seal()
	if err := r.Register("late", echoHandler()); !errors.Is(err, ErrRegistrySealed) {
		t.Fatalf("expected ErrRegistrySealed, got %v", err)
	}
	if !r.Sealed() {
		t.Fatal("registry must report sealed")
	}
}

func TestResolveUnknownCommand(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("none")
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if e.Kind != KindUnknownCommand {
		t.Fatalf("kind = %s, want %s", e.Kind, KindUnknownCommand)
	}
	if !errors.Is(err, &Error{Kind: KindUnknownCommand}) {
		t.Fatal("errors.Is must match by kind")
	}
}

func TestCommandsSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"plugin:fs|stat", "greet", "plugin:fs|exists"} {
		if err := r.Register(name, echoHandler()); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	got := r.Commands()
	want := []string{"greet", "plugin:fs|exists", "plugin:fs|stat"}
	if len(got) != len(want) {
		t.Fatalf("commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("commands = %v, want %v", got, want)
		}
	}
}
