package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeTransport struct {
	name       string
	startErr   error
	stopErr    error
	startCalls int
	stopCalls  int
	done       chan error
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Start(ctx context.Context) error {
	f.startCalls++
	return f.startErr
}

func (f *fakeTransport) Stop(ctx context.Context) error {
	f.stopCalls++
	return f.stopErr
}

type terminatingTransport struct {
	fakeTransport
}

func (f *terminatingTransport) Done() <-chan error { return f.done }

func TestTransportManagerRegisterStartStop(t *testing.T) {
	mgr := NewTransportManager()
	tr := &fakeTransport{name: "ipc"}
	if err := mgr.Register(tr); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.StartAll(context.Background()); err != nil {
		t.Fatalf("start all: %v", err)
	}
	if err := mgr.StopAll(context.Background()); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if tr.startCalls != 1 || tr.stopCalls != 1 {
		t.Fatalf("unexpected calls: start=%d stop=%d", tr.startCalls, tr.stopCalls)
	}
}

func TestTransportManagerDuplicateRegister(t *testing.T) {
	mgr := NewTransportManager()
	if err := mgr.Register(&fakeTransport{name: "ipc"}); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if err := mgr.Register(&fakeTransport{name: "ipc"}); !errors.Is(err, errTransportExists) {
		t.Fatalf("expected errTransportExists, got %v", err)
	}
}

func TestTransportManagerStopOneUnknown(t *testing.T) {
	mgr := NewTransportManager()
	err := mgr.StopOne(context.Background(), "missing")
	if !errors.Is(err, errUnknownTransport) {
		t.Fatalf("expected errUnknownTransport, got: %v", err)
	}
}

func TestTransportManagerWait(t *testing.T) {
	t.Run("context cancel is clean", func(t *testing.T) {
		mgr := NewTransportManager()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if err := mgr.Wait(ctx); err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	})

	t.Run("clean termination", func(t *testing.T) {
		mgr := NewTransportManager()
		tr := &terminatingTransport{fakeTransport{name: "ipc", done: make(chan error, 1)}}
		if err := mgr.Register(tr); err != nil {
			t.Fatalf("register: %v", err)
		}
		tr.done <- nil
		if err := mgr.Wait(context.Background()); err != nil {
			t.Fatalf("expected nil for clean termination, got %v", err)
		}
	})

	t.Run("failure", func(t *testing.T) {
		mgr := NewTransportManager()
		tr := &terminatingTransport{fakeTransport{name: "ipc", done: make(chan error, 1)}}
		if err := mgr.Register(tr); err != nil {
			t.Fatalf("register: %v", err)
		}
		cause := errors.New("pipe broken")
		tr.done <- cause
		if err := mgr.Wait(context.Background()); !errors.Is(err, cause) {
			t.Fatalf("expected wrapped failure, got %v", err)
		}
	})
}
