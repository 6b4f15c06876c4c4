package display

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

// TestSysfsBacklightWritesValues verifies the bl_power protocol: 0 for
// on, 1 for off.
func TestSysfsBacklightWritesValues(t *testing.T) {
	node := filepath.Join(t.TempDir(), "bl_power")
	sink := NewSysfsBacklight(node)

	if err := sink.Apply(true); err != nil {
		t.Fatalf("Apply(true) failed: %v", err)
	}
	data, err := os.ReadFile(node)
	if err != nil {
		t.Fatalf("failed to read node: %v", err)
	}
	if string(data) != "0" {
		t.Errorf("Expected \"0\" for on, got %q", data)
	}

	if err := sink.Apply(false); err != nil {
		t.Fatalf("Apply(false) failed: %v", err)
	}
	data, err = os.ReadFile(node)
	if err != nil {
		t.Fatalf("failed to read node: %v", err)
	}
	if string(data) != "1" {
		t.Errorf("Expected \"1\" for off, got %q", data)
	}
}

// TestSysfsBacklightMissingNode verifies a missing node surfaces as a
// hardware write error.
func TestSysfsBacklightMissingNode(t *testing.T) {
	sink := NewSysfsBacklight(filepath.Join(t.TempDir(), "no-such-dir", "bl_power"))

	err := sink.Apply(true)
	if err == nil {
		t.Fatal("Expected error for missing node, got nil")
	}
	if !errors.Is(err, types.ErrHardwareWrite) {
		t.Errorf("Expected ErrHardwareWrite, got %v", err)
	}
}
