package sandbox

import (
	"testing"

	appErr "judged/pkg/errors"
)

func TestParseMetaConversions(t *testing.T) {
	data := []byte("time:0.123\ntime-wall:0.456\nmax-rss:2097152\nexitcode:0\n")
	m, err := ParseMeta(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.TimeMs != 123 {
		t.Errorf("time = %d ms, want 123", m.TimeMs)
	}
	if m.WallTimeMs != 456 {
		t.Errorf("wall time = %d ms, want 456", m.WallTimeMs)
	}
	if m.MemoryKB != 2048 {
		t.Errorf("memory = %d kb, want 2048", m.MemoryKB)
	}
}

func TestParseMetaKillReason(t *testing.T) {
	data := []byte("status:TO\nmessage:Time limit exceeded\nkilled:1\ntime:2.001\nmax-rss:1024\n")
	m, err := ParseMeta(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Status != StatusTimeout {
		t.Errorf("status = %q, want TO", m.Status)
	}
	if !m.Killed {
		t.Error("killed flag not parsed")
	}
	if m.Message != "Time limit exceeded" {
		t.Errorf("message = %q", m.Message)
	}
}

func TestParseMetaEmpty(t *testing.T) {
	_, err := ParseMeta([]byte("\n\n"))
	if appErr.GetCode(err) != appErr.MetaParseFailed {
		t.Errorf("empty meta: got %v, want MetaParseFailed", err)
	}
}

func TestParseMetaSkipsGarbage(t *testing.T) {
	m, err := ParseMeta([]byte("garbage line without colon is impossible\ntime:1.5\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.TimeMs != 1500 {
		t.Errorf("time = %d, want 1500", m.TimeMs)
	}
}
