package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Defaults mirror the reference deployment: a Pi camera sampling 320x180
// YUV at 2 fps for motion, streaming 1920x1080 at 10 fps scaled down to
// 854x480 JPEG, and a touchscreen that sleeps after 15 s of stillness.
const (
	defaultIdleWidth    = 320
	defaultIdleHeight   = 180
	defaultIdleFPS      = 2
	defaultActiveWidth  = 1920
	defaultActiveHeight = 1080
	defaultActiveFPS    = 10

	defaultThreshold      = 10.0
	defaultSettlePeriodS  = 2.0
	defaultCheckIntervalS = 1.0

	defaultBacklightPath      = "/sys/class/backlight/11-0045/bl_power"
	defaultInactivityTimeoutS = 15.0

	defaultQuality          = 75
	defaultOutputWidth      = 854
	defaultOutputHeight     = 480
	defaultViewerBuffer     = 8
	defaultActiveIntervalMS = 100

	defaultCaptureTimeoutS = 5
	defaultMaxConsecutive  = 5

	defaultWebListen    = ":8000"
	defaultHealthListen = ":8080"
)

// Validate checks the configuration and fills in defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "wakeonpi"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if err := validateMode(&cfg.Camera.Idle, defaultIdleWidth, defaultIdleHeight, defaultIdleFPS); err != nil {
		return fmt.Errorf("camera.idle: %w", err)
	}
	if err := validateMode(&cfg.Camera.Active, defaultActiveWidth, defaultActiveHeight, defaultActiveFPS); err != nil {
		return fmt.Errorf("camera.active: %w", err)
	}
	if cfg.Camera.CaptureTimeoutS <= 0 {
		cfg.Camera.CaptureTimeoutS = defaultCaptureTimeoutS
	}

	if cfg.Motion.Threshold == 0 {
		cfg.Motion.Threshold = defaultThreshold
	}
	if cfg.Motion.Threshold < 0 {
		return fmt.Errorf("motion.threshold must be >= 0, got %v", cfg.Motion.Threshold)
	}
	if cfg.Motion.SettlePeriodS == 0 {
		cfg.Motion.SettlePeriodS = defaultSettlePeriodS
	}
	if cfg.Motion.SettlePeriodS < 0 {
		return fmt.Errorf("motion.settle_period_s must be >= 0, got %v", cfg.Motion.SettlePeriodS)
	}
	if cfg.Motion.CheckIntervalS <= 0 {
		cfg.Motion.CheckIntervalS = defaultCheckIntervalS
	}

	if cfg.Display.BacklightPath == "" {
		cfg.Display.BacklightPath = defaultBacklightPath
	}
	if cfg.Display.InactivityTimeoutS <= 0 {
		cfg.Display.InactivityTimeoutS = defaultInactivityTimeoutS
	}
	switch cfg.Display.Initial {
	case "":
		cfg.Display.Initial = "on"
	case "on", "off":
	default:
		return fmt.Errorf("display.initial must be \"on\" or \"off\", got %q", cfg.Display.Initial)
	}

	if cfg.Stream.Quality == 0 {
		cfg.Stream.Quality = defaultQuality
	}
	if cfg.Stream.Quality < 1 || cfg.Stream.Quality > 100 {
		return fmt.Errorf("stream.quality must be 1-100, got %d", cfg.Stream.Quality)
	}
	if cfg.Stream.OutputWidth <= 0 {
		cfg.Stream.OutputWidth = defaultOutputWidth
	}
	if cfg.Stream.OutputHeight <= 0 {
		cfg.Stream.OutputHeight = defaultOutputHeight
	}
	if cfg.Stream.ViewerBuffer <= 0 {
		cfg.Stream.ViewerBuffer = defaultViewerBuffer
	}
	if cfg.Stream.ActiveIntervalMS <= 0 {
		cfg.Stream.ActiveIntervalMS = defaultActiveIntervalMS
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = defaultWebListen
	}
	if cfg.Health.Listen == "" {
		cfg.Health.Listen = defaultHealthListen
	}
	if cfg.Health.MaxConsecutiveErrors <= 0 {
		cfg.Health.MaxConsecutiveErrors = defaultMaxConsecutive
	}

	// MQTT is optional; topics and QoS only matter with a broker.
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Events == "" {
			cfg.MQTT.Topics.Events = fmt.Sprintf("wakeonpi/%s/events", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Health == "" {
			cfg.MQTT.Topics.Health = fmt.Sprintf("wakeonpi/%s/health", cfg.InstanceID)
		}
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{
				"motion_started":   1,
				"motion_stopped":   1,
				"display_on":       0,
				"display_off":      0,
				"health_degraded":  1,
				"health_recovered": 1,
			}
		}
	}

	return nil
}

func validateMode(mode *ModeConfig, defWidth, defHeight, defFPS int) error {
	if mode.Width == 0 && mode.Height == 0 {
		mode.Width, mode.Height = defWidth, defHeight
	}
	if mode.Width <= 0 || mode.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", mode.Width, mode.Height)
	}
	if mode.FPS == 0 {
		mode.FPS = defFPS
	}
	if mode.FPS <= 0 {
		return fmt.Errorf("fps must be > 0, got %d", mode.FPS)
	}
	return nil
}
