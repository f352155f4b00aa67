// Package config provides configuration management for go-pdr
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-pdr/internal/fusion"
	"github.com/teslashibe/go-pdr/internal/sensor"
	"github.com/teslashibe/go-pdr/internal/session"
)

// Config is the root configuration structure
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Fusion  FusionConfig  `mapstructure:"fusion"`
	Session SessionConfig `mapstructure:"session"`
	Sensor  SensorConfig  `mapstructure:"sensor"`
	Store   StoreConfig   `mapstructure:"store"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Uplink  UplinkConfig  `mapstructure:"uplink"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	BroadcastHz     int           `mapstructure:"broadcast_hz"` // live stream rate
}

// KalmanConfig configures one scalar Kalman filter
type KalmanConfig struct {
	MeasurementNoise float64 `mapstructure:"measurement_noise" yaml:"measurement_noise"`
	ProcessNoise     float64 `mapstructure:"process_noise" yaml:"process_noise"`
	InitialError     float64 `mapstructure:"initial_error" yaml:"initial_error"`
}

// MetricsConfig configures fitness metric coefficients
type MetricsConfig struct {
	PaceScale            float64 `mapstructure:"pace_scale"`
	CaloriesPerStep      float64 `mapstructure:"calories_per_step"`
	CaloriesPerMeter     float64 `mapstructure:"calories_per_meter"`
	CaloriesPerPace      float64 `mapstructure:"calories_per_pace"`
	IntermediateCalories float64 `mapstructure:"intermediate_calories"`
	AdvancedCalories     float64 `mapstructure:"advanced_calories"`
}

// FusionConfig configures the dead-reckoning engine
type FusionConfig struct {
	// Profile names a YAML calibration file whose keys overlay this section
	Profile string `mapstructure:"profile"`

	MaxAccel          float64       `mapstructure:"max_accel"`
	FilterAlpha       float64       `mapstructure:"filter_alpha"`
	StepStrategy      string        `mapstructure:"step_strategy"` // peak, hardware
	PeakThreshold     float64       `mapstructure:"peak_threshold"`
	MinStepInterval   time.Duration `mapstructure:"min_step_interval"`
	StepLength        float64       `mapstructure:"step_length"`
	StepsMultiplier   float64       `mapstructure:"steps_multiplier"`
	PositionStrategy  string        `mapstructure:"position_strategy"` // step, inertial
	MovementThreshold float64       `mapstructure:"movement_threshold"`
	VelocityDecay     float64       `mapstructure:"velocity_decay"`
	MaxDt             time.Duration `mapstructure:"max_dt"`
	MinCornerDistance float64       `mapstructure:"min_corner_distance"`

	HeadingKalman  KalmanConfig  `mapstructure:"heading_kalman"`
	PositionKalman KalmanConfig  `mapstructure:"position_kalman"`
	Metrics        MetricsConfig `mapstructure:"metrics"`
}

// SessionConfig configures the session runner
type SessionConfig struct {
	TrailSize     int           `mapstructure:"trail_size"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// SensorConfig selects the sensor source
type SensorConfig struct {
	Driver       string             `mapstructure:"driver"` // mock, serial
	Fallback     bool               `mapstructure:"fallback"`
	MockRate     time.Duration      `mapstructure:"mock_rate"`
	Serial       SerialConfig       `mapstructure:"serial"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
}

// SerialConfig configures the IMU bridge port
type SerialConfig struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`
}

// CapabilitiesConfig lists the streams the serial bridge sends
type CapabilitiesConfig struct {
	Accelerometer bool `mapstructure:"accelerometer"`
	Compass       bool `mapstructure:"compass"`
	StepDetector  bool `mapstructure:"step_detector"`
	StepCounter   bool `mapstructure:"step_counter"`
}

// StoreConfig configures layout persistence
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MQTTConfig configures snapshot and layout publishing
type MQTTConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Broker          string        `mapstructure:"broker"`
	ClientID        string        `mapstructure:"client_id"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	TopicPrefix     string        `mapstructure:"topic_prefix"`
	PublishInterval time.Duration `mapstructure:"publish_interval"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// UplinkConfig configures the collector WebSocket client
type UplinkConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	SendInterval     time.Duration `mapstructure:"send_interval"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	p := fusion.DefaultParams()

	return &Config{
		Server: ServerConfig{
			Port:            9100,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
			BroadcastHz:     10,
		},
		Fusion: FusionConfig{
			MaxAccel:          p.MaxAccel,
			FilterAlpha:       p.FilterAlpha,
			StepStrategy:      p.StepStrategy,
			PeakThreshold:     p.PeakThreshold,
			MinStepInterval:   p.MinStepInterval,
			StepLength:        p.StepLength,
			StepsMultiplier:   p.StepsMultiplier,
			PositionStrategy:  p.PositionStrategy,
			MovementThreshold: p.MovementThreshold,
			VelocityDecay:     p.VelocityDecay,
			MaxDt:             p.MaxDt,
			MinCornerDistance: p.MinCornerDistance,
			HeadingKalman:     kalmanConfig(p.HeadingKalman),
			PositionKalman:    kalmanConfig(p.PositionKalman),
			Metrics: MetricsConfig{
				PaceScale:            p.Metrics.PaceScale,
				CaloriesPerStep:      p.Metrics.CaloriesPerStep,
				CaloriesPerMeter:     p.Metrics.CaloriesPerMeter,
				CaloriesPerPace:      p.Metrics.CaloriesPerPace,
				IntermediateCalories: p.Metrics.IntermediateCalories,
				AdvancedCalories:     p.Metrics.AdvancedCalories,
			},
		},
		Session: SessionConfig{
			TrailSize:     100,
			StatsInterval: time.Minute,
		},
		Sensor: SensorConfig{
			Driver:   "mock",
			Fallback: true,
			MockRate: 20 * time.Millisecond,
			Serial: SerialConfig{
				Port:     "/dev/ttyUSB0",
				BaudRate: 115200,
				DataBits: 8,
				StopBits: 1,
				Parity:   "N",
			},
			Capabilities: CapabilitiesConfig{
				Accelerometer: true,
				Compass:       true,
			},
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "/var/lib/go-pdr/layouts.db",
		},
		MQTT: MQTTConfig{
			Enabled:         false,
			Broker:          "tcp://localhost:1883",
			ClientID:        "go-pdr",
			TopicPrefix:     "pdr",
			PublishInterval: time.Second,
			ConnectTimeout:  10 * time.Second,
		},
		Uplink: UplinkConfig{
			Enabled:          false,
			URL:              "ws://localhost:8080/ws/pdr",
			ReconnectBackoff: 1 * time.Second,
			MaxBackoff:       30 * time.Second,
			PingInterval:     10 * time.Second,
			WriteTimeout:     5 * time.Second,
			SendInterval:     time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func kalmanConfig(k fusion.KalmanParams) KalmanConfig {
	return KalmanConfig{
		MeasurementNoise: k.MeasurementNoise,
		ProcessNoise:     k.ProcessNoise,
		InitialError:     k.InitialError,
	}
}

// Load loads configuration from file and environment. Precedence, highest
// first: environment, calibration profile, config file, defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			// Only warn, don't fail - we have defaults
			fmt.Fprintf(os.Stderr, "Warning: config file not loaded from %s (%v), using defaults\n", path, err)
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("GOPDR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Calibration profile overlays the fusion section
	if profile := v.GetString("fusion.profile"); profile != "" {
		overlay, err := LoadProfile(profile)
		if err != nil {
			return nil, err
		}
		if err := v.MergeConfigMap(map[string]interface{}{"fusion": overlay}); err != nil {
			return nil, fmt.Errorf("failed to merge profile %s: %w", profile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadProfile reads a calibration profile: a YAML mapping with the same
// keys as the fusion section.
func LoadProfile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	overlay := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	delete(overlay, "profile")
	return overlay, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	// Server defaults
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.graceful_timeout", "5s")
	v.SetDefault("server.broadcast_hz", d.Server.BroadcastHz)

	// Fusion defaults
	f := d.Fusion
	v.SetDefault("fusion.profile", "")
	v.SetDefault("fusion.max_accel", f.MaxAccel)
	v.SetDefault("fusion.filter_alpha", f.FilterAlpha)
	v.SetDefault("fusion.step_strategy", f.StepStrategy)
	v.SetDefault("fusion.peak_threshold", f.PeakThreshold)
	v.SetDefault("fusion.min_step_interval", "250ms")
	v.SetDefault("fusion.step_length", f.StepLength)
	v.SetDefault("fusion.steps_multiplier", f.StepsMultiplier)
	v.SetDefault("fusion.position_strategy", f.PositionStrategy)
	v.SetDefault("fusion.movement_threshold", f.MovementThreshold)
	v.SetDefault("fusion.velocity_decay", f.VelocityDecay)
	v.SetDefault("fusion.max_dt", "100ms")
	v.SetDefault("fusion.min_corner_distance", f.MinCornerDistance)

	for _, k := range []struct {
		prefix string
		cfg    KalmanConfig
	}{
		{"fusion.heading_kalman", f.HeadingKalman},
		{"fusion.position_kalman", f.PositionKalman},
	} {
		v.SetDefault(k.prefix+".measurement_noise", k.cfg.MeasurementNoise)
		v.SetDefault(k.prefix+".process_noise", k.cfg.ProcessNoise)
		v.SetDefault(k.prefix+".initial_error", k.cfg.InitialError)
	}

	v.SetDefault("fusion.metrics.pace_scale", f.Metrics.PaceScale)
	v.SetDefault("fusion.metrics.calories_per_step", f.Metrics.CaloriesPerStep)
	v.SetDefault("fusion.metrics.calories_per_meter", f.Metrics.CaloriesPerMeter)
	v.SetDefault("fusion.metrics.calories_per_pace", f.Metrics.CaloriesPerPace)
	v.SetDefault("fusion.metrics.intermediate_calories", f.Metrics.IntermediateCalories)
	v.SetDefault("fusion.metrics.advanced_calories", f.Metrics.AdvancedCalories)

	// Session defaults
	v.SetDefault("session.trail_size", d.Session.TrailSize)
	v.SetDefault("session.stats_interval", "1m")

	// Sensor defaults
	v.SetDefault("sensor.driver", d.Sensor.Driver)
	v.SetDefault("sensor.fallback", d.Sensor.Fallback)
	v.SetDefault("sensor.mock_rate", "20ms")
	v.SetDefault("sensor.serial.port", d.Sensor.Serial.Port)
	v.SetDefault("sensor.serial.baud_rate", d.Sensor.Serial.BaudRate)
	v.SetDefault("sensor.serial.data_bits", d.Sensor.Serial.DataBits)
	v.SetDefault("sensor.serial.stop_bits", d.Sensor.Serial.StopBits)
	v.SetDefault("sensor.serial.parity", d.Sensor.Serial.Parity)
	v.SetDefault("sensor.capabilities.accelerometer", true)
	v.SetDefault("sensor.capabilities.compass", true)
	v.SetDefault("sensor.capabilities.step_detector", false)
	v.SetDefault("sensor.capabilities.step_counter", false)

	// Store defaults
	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.path", d.Store.Path)

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", d.MQTT.TopicPrefix)
	v.SetDefault("mqtt.publish_interval", "1s")
	v.SetDefault("mqtt.connect_timeout", "10s")

	// Uplink defaults
	v.SetDefault("uplink.enabled", false)
	v.SetDefault("uplink.url", d.Uplink.URL)
	v.SetDefault("uplink.reconnect_backoff", "1s")
	v.SetDefault("uplink.max_backoff", "30s")
	v.SetDefault("uplink.ping_interval", "10s")
	v.SetDefault("uplink.write_timeout", "5s")
	v.SetDefault("uplink.send_interval", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Params converts the fusion section into engine parameters
func (f FusionConfig) Params() fusion.Params {
	return fusion.Params{
		MaxAccel:          f.MaxAccel,
		FilterAlpha:       f.FilterAlpha,
		StepStrategy:      f.StepStrategy,
		PeakThreshold:     f.PeakThreshold,
		MinStepInterval:   f.MinStepInterval,
		StepLength:        f.StepLength,
		StepsMultiplier:   f.StepsMultiplier,
		HeadingKalman:     f.HeadingKalman.params(),
		PositionStrategy:  f.PositionStrategy,
		PositionKalman:    f.PositionKalman.params(),
		MovementThreshold: f.MovementThreshold,
		VelocityDecay:     f.VelocityDecay,
		MaxDt:             f.MaxDt,
		MinCornerDistance: f.MinCornerDistance,
		Metrics: fusion.MetricsParams{
			PaceScale:            f.Metrics.PaceScale,
			CaloriesPerStep:      f.Metrics.CaloriesPerStep,
			CaloriesPerMeter:     f.Metrics.CaloriesPerMeter,
			CaloriesPerPace:      f.Metrics.CaloriesPerPace,
			IntermediateCalories: f.Metrics.IntermediateCalories,
			AdvancedCalories:     f.Metrics.AdvancedCalories,
		},
	}
}

func (k KalmanConfig) params() fusion.KalmanParams {
	return fusion.KalmanParams{
		MeasurementNoise: k.MeasurementNoise,
		ProcessNoise:     k.ProcessNoise,
		InitialError:     k.InitialError,
	}
}

// SourceConfig converts the sensor section into a source config
func (s SensorConfig) SourceConfig() sensor.Config {
	return sensor.Config{
		Driver: s.Driver,
		Serial: sensor.SerialConfig{
			Port:     s.Serial.Port,
			BaudRate: s.Serial.BaudRate,
			DataBits: s.Serial.DataBits,
			StopBits: s.Serial.StopBits,
			Parity:   s.Serial.Parity,
		},
		Capabilities: sensor.Capabilities{
			Accelerometer: s.Capabilities.Accelerometer,
			Compass:       s.Capabilities.Compass,
			StepDetector:  s.Capabilities.StepDetector,
			StepCounter:   s.Capabilities.StepCounter,
		},
		MockRate: s.MockRate,
	}
}

// SessionConfig converts the session section
func (s SessionConfig) SessionConfig() session.Config {
	return session.Config{
		TrailSize:     s.TrailSize,
		StatsInterval: s.StatsInterval,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.BroadcastHz < 1 || c.Server.BroadcastHz > 100 {
		return fmt.Errorf("broadcast_hz must be between 1 and 100, got %d", c.Server.BroadcastHz)
	}

	if err := c.Fusion.Params().Validate(); err != nil {
		return err
	}

	if c.Session.TrailSize < 1 {
		return fmt.Errorf("trail_size must be positive, got %d", c.Session.TrailSize)
	}

	switch c.Sensor.Driver {
	case "mock":
	case "serial":
		if c.Sensor.Serial.Port == "" && !c.Sensor.Fallback {
			return fmt.Errorf("sensor.serial.port is required for the serial driver")
		}
	default:
		return fmt.Errorf("unknown sensor driver %q", c.Sensor.Driver)
	}

	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("store.path is required when the store is enabled")
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if c.MQTT.PublishInterval <= 0 {
			return fmt.Errorf("mqtt.publish_interval must be positive, got %v", c.MQTT.PublishInterval)
		}
	}

	if c.Uplink.Enabled {
		if c.Uplink.URL == "" {
			return fmt.Errorf("uplink.url is required when the uplink is enabled")
		}
		if c.Uplink.SendInterval <= 0 {
			return fmt.Errorf("uplink.send_interval must be positive, got %v", c.Uplink.SendInterval)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}

	return nil
}
