package logging

import "testing"

func TestNewParsesLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "WARN", "error"} {
		logger, err := New(level)
		if err != nil {
			t.Fatalf("level %q: %v", level, err)
		}
		logger.Debugf("level %q ok", level)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("chatty"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
