package driver

import (
	"context"
	"testing"
)

type fakeDriver struct{ name string }

func (f *fakeDriver) Name() string { return f.name }
func (f *fakeDriver) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	return Result{ExitCode: 0}, nil
}

func TestRegisterThenResolve(t *testing.T) {
	r := NewRegistry()
	d := &fakeDriver{name: "cliagent"}
	r.Register(d)

	got, err := r.Resolve("cliagent")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != d {
		t.Errorf("Resolve returned a different driver")
	}
}

func TestResolveUnregisteredNameFails(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve("no-such-driver"); err == nil {
		t.Fatal("expected an error for an unregistered driver name")
	}
}

func TestRegisterOverwritesSameName(t *testing.T) {
	r := NewRegistry()
	first := &fakeDriver{name: "cliagent"}
	second := &fakeDriver{name: "cliagent"}
	r.Register(first)
	r.Register(second)

	got, err := r.Resolve("cliagent")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != second {
		t.Errorf("Resolve returned the first registration, want the second")
	}
}
