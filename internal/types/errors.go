package types

import "errors"

// Error kinds for the capture/display pipeline. Call sites wrap these
// with %w and branch with errors.Is.
var (
	// ErrDevice is a camera read or mode-switch failure. The coordinator
	// retries on the next tick and escalates to a degraded health signal
	// after enough consecutive occurrences.
	ErrDevice = errors.New("device error")

	// ErrInvalidInput is a frame of the wrong class or format reaching the
	// detector or encoder. Wiring bug, not a runtime condition.
	ErrInvalidInput = errors.New("invalid input")

	// ErrHardwareWrite is a failed backlight power command. Logged; the
	// display state machine proceeds regardless.
	ErrHardwareWrite = errors.New("hardware write error")
)
