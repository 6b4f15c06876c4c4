package display

import (
	"fmt"
	"os"

	"github.com/vithurshanselvarajah/WakeOnPi/internal/types"
)

// Kernel backlight class semantics: bl_power 0 drives the panel, 1 blanks it.
const (
	sysfsPowerOn  = "0"
	sysfsPowerOff = "1"
)

// PowerSink drives a physical display power line.
type PowerSink interface {
	Apply(on bool) error
}

// SysfsBacklight toggles a panel through the kernel backlight class, e.g.
// /sys/class/backlight/11-0045/bl_power for the Pi 7" touchscreen.
type SysfsBacklight struct {
	path string
}

// NewSysfsBacklight creates a sink writing to the given bl_power node.
func NewSysfsBacklight(path string) *SysfsBacklight {
	return &SysfsBacklight{path: path}
}

// Apply writes the bl_power value for the requested state.
func (b *SysfsBacklight) Apply(on bool) error {
	value := sysfsPowerOff
	if on {
		value = sysfsPowerOn
	}
	if err := os.WriteFile(b.path, []byte(value), 0644); err != nil {
		return fmt.Errorf("write %q to %s: %v: %w", value, b.path, err, types.ErrHardwareWrite)
	}
	return nil
}
