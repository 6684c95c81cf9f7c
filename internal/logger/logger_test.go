package logger

import "testing"

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", ""} {
		t.Run(mode, func(t *testing.T) {
			l, err := New(mode, "debug")
			if err != nil {
				t.Fatalf("New(%q) error: %v", mode, err)
			}
			l.With("service", "test").Info("hello", "k", 1)
		})
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New("dev", "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Warn("dropped", "k", "v")
	l.Sync()
}
