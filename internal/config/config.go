package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Camera           CameraConfig  `yaml:"camera"`
	Motion           MotionConfig  `yaml:"motion"`
	Display          DisplayConfig `yaml:"display"`
	Stream           StreamConfig  `yaml:"stream"`
	Web              WebConfig     `yaml:"web"`
	Health           HealthConfig  `yaml:"health"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
	Journal          JournalConfig `yaml:"journal"`
}

// CameraConfig contains camera settings for both capture modes
type CameraConfig struct {
	// Device selects the camera by libcamera name. Empty picks the first
	// camera; the literal "mock" runs the synthetic source instead.
	Device string `yaml:"device"`
	VFlip  bool   `yaml:"vflip"`
	// CaptureTimeoutS bounds a single blocking capture before it is
	// reported as a device error.
	CaptureTimeoutS int        `yaml:"capture_timeout_s"`
	Idle            ModeConfig `yaml:"idle"`
	Active          ModeConfig `yaml:"active"`
}

// ModeConfig is the capture geometry for one mode
type ModeConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	FPS    int `yaml:"fps"`
}

// MotionConfig contains motion detection settings
type MotionConfig struct {
	// Threshold is the mean absolute luma difference at or above which a
	// tick counts as motion.
	Threshold float64 `yaml:"threshold"`
	// SettlePeriodS suppresses detection after a mode switch while the
	// sensor re-adjusts exposure.
	SettlePeriodS float64 `yaml:"settle_period_s"`
	// CheckIntervalS is the idle-mode tick interval in seconds.
	CheckIntervalS float64 `yaml:"check_interval_s"`
}

// DisplayConfig contains display power settings
type DisplayConfig struct {
	// BacklightPath is the sysfs bl_power attribute of the panel.
	BacklightPath string `yaml:"backlight_path"`
	// InactivityTimeoutS is how long after the last motion the display
	// stays on.
	InactivityTimeoutS float64 `yaml:"inactivity_timeout_s"`
	// Initial is the power state assumed at startup: "on" or "off".
	Initial string `yaml:"initial"`
}

// StreamConfig contains MJPEG stream settings
type StreamConfig struct {
	// Quality is the JPEG quality (1-100).
	Quality int `yaml:"quality"`
	// OutputWidth/OutputHeight is the size frames are scaled to before
	// encoding.
	OutputWidth  int `yaml:"output_width"`
	OutputHeight int `yaml:"output_height"`
	// ViewerBuffer is the per-viewer payload buffer; a slower viewer
	// drops frames beyond it.
	ViewerBuffer int `yaml:"viewer_buffer"`
	// ActiveIntervalMS is the streaming-mode tick interval.
	ActiveIntervalMS int `yaml:"active_interval_ms"`
}

// WebConfig contains the viewer-facing HTTP server settings
type WebConfig struct {
	Listen string `yaml:"listen"`
	// Username/Password guard the index, stream and event endpoints with
	// basic auth. Empty username disables auth.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HealthConfig contains the health server settings
type HealthConfig struct {
	Listen string `yaml:"listen"`
	// MaxConsecutiveErrors is how many capture failures in a row flip the
	// readiness status to degraded.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables the
// emitter entirely.
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Events string `yaml:"events"`
	Health string `yaml:"health"`
}

// JournalConfig contains the motion journal settings. An empty path
// disables persistence.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// Load reads a YAML configuration file, applies environment overrides and
// validates the result. A missing file is not an error: the daemon then
// runs on defaults plus environment, matching the env-only deployments.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		// Defaults + environment only.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides layers the environment contract over the file values.
// A .env file next to the binary is honored when present.
func applyEnvOverrides(cfg *Config) {
	// Ignore a missing .env; the process environment still applies.
	_ = godotenv.Load()

	cfg.Web.Username = getEnv("MOTION_USERNAME", cfg.Web.Username)
	cfg.Web.Password = getEnv("MOTION_PASSWORD", cfg.Web.Password)
	cfg.Motion.Threshold = getEnvAsFloat("MOTION_THRESHOLD", cfg.Motion.Threshold)
	cfg.Motion.CheckIntervalS = getEnvAsFloat("CHECK_INTERVAL", cfg.Motion.CheckIntervalS)
	cfg.Display.InactivityTimeoutS = getEnvAsFloat("INACTIVITY_TIMEOUT", cfg.Display.InactivityTimeoutS)
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", cfg.MQTT.Broker)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
