package config

import "testing"

func TestResolveMaxIterationsPrecedence(t *testing.T) {
	t.Setenv(EnvMaxIterations, "20")

	if got := ResolveMaxIterations(7, 0); got != 7 {
		t.Errorf("override should win: got %d, want 7", got)
	}
	if got := ResolveMaxIterations(0, 15); got != 15 {
		t.Errorf("project default should win over env: got %d, want 15", got)
	}
	if got := ResolveMaxIterations(0, 0); got != 20 {
		t.Errorf("env var should win over the hardcoded default: got %d, want 20", got)
	}
}

func TestResolveMaxIterationsFallsBackToDefault(t *testing.T) {
	t.Setenv(EnvMaxIterations, "")
	if got := ResolveMaxIterations(0, 0); got != DefaultMaxIterations {
		t.Errorf("got %d, want default %d", got, DefaultMaxIterations)
	}
}

func TestResolveMaxIterationsIgnoresNonPositiveOverrides(t *testing.T) {
	if got := ResolveMaxIterations(-1, 5); got != 5 {
		t.Errorf("negative override should be ignored: got %d, want 5", got)
	}
}

func TestGlobalConcurrencyDefaultsWhenUnset(t *testing.T) {
	t.Setenv(EnvGlobalConcurrency, "")
	if got := GlobalConcurrency(); got != DefaultGlobalConcurrency {
		t.Errorf("got %d, want %d", got, DefaultGlobalConcurrency)
	}
}

func TestGlobalConcurrencyReadsEnv(t *testing.T) {
	t.Setenv(EnvGlobalConcurrency, "8")
	if got := GlobalConcurrency(); got != 8 {
		t.Errorf("got %d, want 8", got)
	}
}

func TestExecutorModeDefaultsToLocal(t *testing.T) {
	t.Setenv(EnvExecutorMode, "")
	if got := ExecutorMode(); got != DefaultExecutorMode {
		t.Errorf("got %q, want %q", got, DefaultExecutorMode)
	}
}

func TestExecutorModeReadsEnv(t *testing.T) {
	t.Setenv(EnvExecutorMode, "containerized")
	if got := ExecutorMode(); got != "containerized" {
		t.Errorf("got %q, want containerized", got)
	}
}

func TestIterationTimeoutReadsEnvMilliseconds(t *testing.T) {
	t.Setenv(EnvIterationTimeoutMs, "5000")
	if got := IterationTimeout(); got.Seconds() != 5 {
		t.Errorf("got %v, want 5s", got)
	}
}

func TestIterationTimeoutIgnoresUnparsableValue(t *testing.T) {
	t.Setenv(EnvIterationTimeoutMs, "not-a-number")
	if got := IterationTimeout(); got != DefaultIterationTimeout {
		t.Errorf("got %v, want default %v", got, DefaultIterationTimeout)
	}
}
