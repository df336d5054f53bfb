package logger

import "testing"

func TestInitLevels(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", "INFO"} {
		l, err := Init(lvl, "json")
		if err != nil {
			t.Fatalf("Init(%q): %v", lvl, err)
		}
		if l == nil || L() != l {
			t.Fatalf("Init(%q) did not install the logger", lvl)
		}
	}
}

func TestInitInvalidLevel(t *testing.T) {
	if _, err := Init("loud", "text"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNamedBeforeInit(t *testing.T) {
	if Named("covenant") == nil {
		t.Fatal("Named should never return nil")
	}
}
