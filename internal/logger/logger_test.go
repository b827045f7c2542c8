package logger

import (
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		mode, level string
		wantDebug   bool
	}{
		{"dev", "", false},
		{"dev", "debug", true},
		{"prod", "", false},
		{"production", "debug", true},
	}
	for _, tt := range tests {
		l, err := New(tt.mode, tt.level)
		if err != nil {
			t.Fatalf("New(%q, %q): %v", tt.mode, tt.level, err)
		}
		if got := l.Core().Enabled(zap.DebugLevel); got != tt.wantDebug {
			t.Errorf("New(%q, %q) debug enabled = %v, want %v", tt.mode, tt.level, got, tt.wantDebug)
		}
	}
}

func TestNewQuiet(t *testing.T) {
	l, err := New("quiet", "debug")
	if err != nil {
		t.Fatal(err)
	}
	if l.Core().Enabled(zap.ErrorLevel) {
		t.Error("quiet logger should discard everything")
	}
}

func TestNewBadLevel(t *testing.T) {
	if _, err := New("dev", "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
