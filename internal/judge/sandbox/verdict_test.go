package sandbox

import (
	"testing"

	"judged/internal/judge/model"
)

func TestVerdictFromMetaExplicitReasonWins(t *testing.T) {
	lim := model.ResourceLimits{TimeLimitMs: 1000, MemoryLimitKB: 65536}

	tests := []struct {
		name string
		meta Meta
		want model.Verdict
	}{
		{"timeout", Meta{Status: StatusTimeout, TimeMs: 10}, model.VerdictTLE},
		{"signal under memory limit", Meta{Status: StatusSignal, MemoryKB: 100}, model.VerdictRE},
		{"signal at memory limit", Meta{Status: StatusSignal, MemoryKB: 65536}, model.VerdictMLE},
		{"nonzero exit", Meta{Status: StatusNonZero, ExitCode: 1}, model.VerdictRE},
		{"isolator fault", Meta{Status: StatusInternal}, model.VerdictIE},
		// a TO status must win even when the counters look fine
		{"timeout with small counters", Meta{Status: StatusTimeout, TimeMs: 5, MemoryKB: 10}, model.VerdictTLE},
	}

	for _, tt := range tests {
		if got := verdictFromMeta(tt.meta, lim); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestVerdictFromMetaCounterFallback(t *testing.T) {
	lim := model.ResourceLimits{TimeLimitMs: 1000, MemoryLimitKB: 65536}

	tests := []struct {
		name string
		meta Meta
		want model.Verdict
	}{
		{"clean run", Meta{ExitCode: 0, TimeMs: 50, MemoryKB: 1024}, model.VerdictAC},
		{"exactly at time limit", Meta{TimeMs: 1000, MemoryKB: 1024}, model.VerdictAC},
		{"one ms over", Meta{TimeMs: 1001, MemoryKB: 1024}, model.VerdictTLE},
		{"exactly at memory limit", Meta{TimeMs: 10, MemoryKB: 65536}, model.VerdictAC},
		{"one kb over", Meta{TimeMs: 10, MemoryKB: 65537}, model.VerdictMLE},
		{"nonzero exit without status", Meta{ExitCode: 2}, model.VerdictRE},
	}

	for _, tt := range tests {
		if got := verdictFromMeta(tt.meta, lim); got != tt.want {
			t.Errorf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestLanguageTemplates(t *testing.T) {
	cpp, err := GetLanguage("cpp")
	if err != nil {
		t.Fatalf("cpp: %v", err)
	}
	args := cpp.CompileArgs()
	if args[len(args)-1] != "main.cpp" {
		t.Errorf("cpp compile input = %q, want main.cpp", args[len(args)-1])
	}

	java, err := GetLanguage("java")
	if err != nil {
		t.Fatalf("java: %v", err)
	}
	exec := java.ExecuteArgs()
	if exec[len(exec)-1] != "Main" {
		t.Errorf("java classname = %q, want Main", exec[len(exec)-1])
	}

	python, err := GetLanguage("python")
	if err != nil {
		t.Fatalf("python: %v", err)
	}
	if python.Compiled() {
		t.Error("python must not have a compile step")
	}

	if _, err := GetLanguage("brainfuck"); err == nil {
		t.Error("unknown language must be rejected")
	}
}
