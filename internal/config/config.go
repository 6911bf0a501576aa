package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/edirooss/hdr-recorder/internal/domain/camera"
	"gopkg.in/yaml.v3"
)

// Build metadata, set via -ldflags "-X".
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

// DefaultPath is read when no -config flag is given. A missing file is not an
// error; defaults and HDR_* variables still apply.
const DefaultPath = "hdr-recorder.yaml"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Camera    CameraConfig    `yaml:"camera"`
	Stats     StatsConfig     `yaml:"stats"`
	Recording RecordingConfig `yaml:"recording"`
	Sim       SimConfig       `yaml:"sim"`
}

type ServerConfig struct {
	Address string   `yaml:"address" env:"HDR_SERVER_ADDRESS"`
	Port    string   `yaml:"port"    env:"HDR_SERVER_PORT"`
	Dev     bool     `yaml:"dev"     env:"HDR_DEV"`
	Origins []string `yaml:"origins" env:"HDR_SERVER_ORIGINS" envSeparator:","` // dev CORS allowlist
}

type RedisConfig struct {
	Enabled         bool          `yaml:"enabled"          env:"HDR_REDIS_ENABLED"`
	Address         string        `yaml:"address"          env:"HDR_REDIS_ADDRESS"`
	DB              int           `yaml:"db"               env:"HDR_REDIS_DB"`
	TTL             time.Duration `yaml:"ttl"              env:"HDR_REDIS_TTL"`
	PublishInterval time.Duration `yaml:"publish_interval" env:"HDR_REDIS_PUBLISH_INTERVAL"` // status cadence
}

type CameraConfig struct {
	DeviceID       string `yaml:"device_id"       env:"HDR_CAMERA_DEVICE_ID"`
	Fps            int    `yaml:"fps"             env:"HDR_CAMERA_FPS"`
	Quality        string `yaml:"quality"         env:"HDR_CAMERA_QUALITY"`
	Gamma          string `yaml:"gamma"           env:"HDR_CAMERA_GAMMA"`
	Focus          string `yaml:"focus"           env:"HDR_CAMERA_FOCUS"`
	NoiseReduction bool   `yaml:"noise_reduction" env:"HDR_CAMERA_NOISE_REDUCTION"`
}

type StatsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"HDR_STATS_POLL_INTERVAL"`
}

type RecordingConfig struct {
	TickInterval time.Duration `yaml:"tick_interval" env:"HDR_RECORDING_TICK_INTERVAL"`
	OutputDir    string        `yaml:"output_dir"    env:"HDR_RECORDING_OUTPUT_DIR"`
}

type SimConfig struct {
	BindDelay time.Duration `yaml:"bind_delay" env:"HDR_SIM_BIND_DELAY"`
	Jitter    time.Duration `yaml:"jitter"     env:"HDR_SIM_JITTER"`
	DropEvery int           `yaml:"drop_every" env:"HDR_SIM_DROP_EVERY"`
}

// Default returns the configuration used for any key the file and the
// environment leave unset.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address: "127.0.0.1",
			Port:    "8080",
			Origins: []string{"http://localhost:5173", "http://localhost:4173", "http://127.0.0.1:3000"},
		},
		Redis: RedisConfig{
			Address:         "127.0.0.1:6379",
			TTL:             10 * time.Second,
			PublishInterval: time.Second,
		},
		Camera: CameraConfig{
			DeviceID:       "cam0",
			Fps:            int(camera.FPS30),
			Quality:        camera.QualityFHD.String(),
			Gamma:          camera.GammaDevice.String(),
			Focus:          camera.FocusAuto.String(),
			NoiseReduction: true,
		},
		Stats:     StatsConfig{PollInterval: 500 * time.Millisecond},
		Recording: RecordingConfig{TickInterval: time.Second, OutputDir: "."},
		Sim:       SimConfig{BindDelay: 200 * time.Millisecond},
	}
}

// Load reads path over Default, applies HDR_* environment overrides and
// validates the result. An empty path means DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Camera.SessionConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := camera.ParseFocusMode(c.Camera.Focus); err != nil {
		errs = append(errs, fmt.Errorf("camera.focus: %w", err))
	}
	if c.Camera.DeviceID == "" {
		errs = append(errs, errors.New("camera.device_id: must not be empty"))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port: must not be empty"))
	}

	for name, d := range map[string]time.Duration{
		"stats.poll_interval":     c.Stats.PollInterval,
		"recording.tick_interval": c.Recording.TickInterval,
		"redis.ttl":               c.Redis.TTL,
		"redis.publish_interval":  c.Redis.PublishInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive (got %s)", name, d))
		}
	}
	if c.Sim.DropEvery < 0 {
		errs = append(errs, fmt.Errorf("sim.drop_every: must not be negative (got %d)", c.Sim.DropEvery))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SessionConfig maps the camera section to the initial bind configuration.
func (c CameraConfig) SessionConfig() (camera.SessionConfig, error) {
	q, err := camera.ParseQuality(c.Quality)
	if err != nil {
		return camera.SessionConfig{}, fmt.Errorf("camera.quality: %w", err)
	}
	g, err := camera.ParseGammaMode(c.Gamma)
	if err != nil {
		return camera.SessionConfig{}, fmt.Errorf("camera.gamma: %w", err)
	}
	sc := camera.DefaultSessionConfig().
		WithFrameRate(camera.FrameRate(c.Fps)).
		WithQuality(q).
		WithGamma(g)
	if err := sc.Validate(); err != nil {
		return camera.SessionConfig{}, fmt.Errorf("camera: %w", err)
	}
	return sc, nil
}

// FocusMode returns the initial focus mode; Load has already validated it.
func (c CameraConfig) FocusMode() camera.FocusMode {
	f, _ := camera.ParseFocusMode(c.Focus)
	return f
}
