package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// smtpPasswordEnv overrides alerts.password so the secret can stay out of
// the config file.
const smtpPasswordEnv = "GATEWATCH_SMTP_PASSWORD"

// Config is the full service configuration loaded from one YAML file.
type Config struct {
	Camera  CameraConfig  `yaml:"camera"`
	Gate    GateConfig    `yaml:"gate"`
	Phases  PhasesConfig  `yaml:"phases"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Storage StorageConfig `yaml:"storage"`
	Exports ExportsConfig `yaml:"exports"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// CameraConfig describes the single camera feed and its ingest limits.
type CameraConfig struct {
	ID            string  `yaml:"id"`
	FeedRateLimit float64 `yaml:"feed_rate_limit"` // messages/sec per connection
	FeedBurst     int     `yaml:"feed_burst"`
	ReplayPath    string  `yaml:"replay_path"` // JSONL file; empty means live feed only
	ReplayPaced   bool    `yaml:"replay_paced"`
}

// GateConfig is the virtual gate geometry plus anti-jitter tuning.
type GateConfig struct {
	Mode string `yaml:"mode"` // HORIZONTAL_BAND or LINE_BAND

	GateY      float64  `yaml:"gate_y"`
	GateHeight float64  `yaml:"gate_height"`
	GateXMin   *float64 `yaml:"gate_x_min"`
	GateXMax   *float64 `yaml:"gate_x_max"`

	P1X           float64 `yaml:"p1_x"`
	P1Y           float64 `yaml:"p1_y"`
	P2X           float64 `yaml:"p2_x"`
	P2Y           float64 `yaml:"p2_y"`
	GateThickness float64 `yaml:"gate_thickness"`

	CooldownSec     float64 `yaml:"cooldown_sec"`
	MinFramesInGate int     `yaml:"min_frames_in_gate"`
	MinTravelPx     float64 `yaml:"min_travel_px"`

	DirectionTopBottom string `yaml:"direction_top_bottom"`
	DirectionBottomTop string `yaml:"direction_bottom_top"`
	DirectionLeftRight string `yaml:"direction_left_right"`
	DirectionRightLeft string `yaml:"direction_right_left"`
}

// Cooldown returns the per-track suppression window after a count.
func (g GateConfig) Cooldown() time.Duration {
	return time.Duration(g.CooldownSec * float64(time.Second))
}

// PhasesConfig pins the daily phase boundaries as local HH:MM strings.
type PhasesConfig struct {
	Timezone   string `yaml:"timezone"`
	Reset      string `yaml:"reset"`
	MorningEnd string `yaml:"morning_end"`
	LunchStart string `yaml:"lunch_start"`
	LunchEnd   string `yaml:"lunch_end"`
	DayClose   string `yaml:"day_close"`
}

// Location resolves the configured timezone.
func (p PhasesConfig) Location() (*time.Location, error) {
	if p.Timezone == "" || strings.EqualFold(p.Timezone, "Local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", p.Timezone, err)
	}
	return loc, nil
}

// AlertsConfig drives the alert scheduler and the notification transport.
// Channel selects email, webhook, or telegram delivery.
type AlertsConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Channel          string   `yaml:"channel"`
	IntervalMin      int      `yaml:"interval_min"`
	FirstDelaySec    int      `yaml:"first_delay_sec"`
	SMTPHost         string   `yaml:"smtp_host"`
	SMTPPort         int      `yaml:"smtp_port"`
	FromAddress      string   `yaml:"from_address"`
	Password         string   `yaml:"password"`
	ToAddresses      []string `yaml:"to_addresses"`
	WebhookURL       string   `yaml:"webhook_url"`
	TelegramBotToken string   `yaml:"telegram_bot_token"`
	TelegramChatID   string   `yaml:"telegram_chat_id"`
}

// Interval returns the alert tick cadence.
func (a AlertsConfig) Interval() time.Duration {
	return time.Duration(a.IntervalMin) * time.Minute
}

// FirstDelay returns how long a shortfall must persist before the first
// alert is eligible. The default carries a 30 s debounce on top of the
// 30 min window.
func (a AlertsConfig) FirstDelay() time.Duration {
	return time.Duration(a.FirstDelaySec) * time.Second
}

// StorageConfig locates the database and sizes the frame queue.
type StorageConfig struct {
	DBPath         string `yaml:"db_path"`
	FrameQueueSize int    `yaml:"frame_queue_size"`
}

// ExportsConfig drives the workbook exporters and retention.
type ExportsConfig struct {
	DailyDir      string `yaml:"daily_dir"`
	SummaryDir    string `yaml:"summary_dir"`
	RollingDays   int    `yaml:"rolling_days"`
	RetentionDays int    `yaml:"retention_days"`
	IntervalMin   int    `yaml:"interval_min"`
}

// Interval returns the export cadence.
func (e ExportsConfig) Interval() time.Duration {
	return time.Duration(e.IntervalMin) * time.Minute
}

// HTTPConfig is the ops/ingest HTTP listener.
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig selects level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, console, json
}

// Default returns the configuration used when no file (or a partial file)
// is provided.
func Default() Config {
	return Config{
		Camera: CameraConfig{
			ID:            "camera_01",
			FeedRateLimit: 60,
			FeedBurst:     120,
		},
		Gate: GateConfig{
			Mode:               "HORIZONTAL_BAND",
			GateY:              360,
			GateHeight:         80,
			GateThickness:      60,
			CooldownSec:        0.5,
			MinFramesInGate:    1,
			MinTravelPx:        12.0,
			DirectionTopBottom: "OUT",
			DirectionBottomTop: "IN",
			DirectionLeftRight: "IN",
			DirectionRightLeft: "OUT",
		},
		Phases: PhasesConfig{
			Timezone:   "Local",
			Reset:      "06:00",
			MorningEnd: "08:30",
			LunchStart: "11:55",
			LunchEnd:   "13:15",
			DayClose:   "23:59",
		},
		Alerts: AlertsConfig{
			Enabled:       false,
			Channel:       "email",
			IntervalMin:   30,
			FirstDelaySec: 1830,
			SMTPHost:      "smtp.gmail.com",
			SMTPPort:      587,
		},
		Storage: StorageConfig{
			DBPath:         "data/gatewatch.db",
			FrameQueueSize: 256,
		},
		Exports: ExportsConfig{
			DailyDir:      "exports/daily",
			SummaryDir:    "exports/summary",
			RollingDays:   5,
			RetentionDays: 5,
			IntervalMin:   30,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads the YAML config at path over the defaults and validates it.
// A missing file is not an error; the defaults apply unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if path != "" {
			log.Warn().Str("path", path).Msg("config file not found, using defaults")
		}
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if pw := os.Getenv(smtpPasswordEnv); pw != "" {
		cfg.Alerts.Password = pw
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot run on.
func (c *Config) Validate() error {
	switch c.Gate.Mode {
	case "HORIZONTAL_BAND":
		if c.Gate.GateHeight <= 0 {
			return fmt.Errorf("gate.gate_height must be positive, got %.1f", c.Gate.GateHeight)
		}
		if c.Gate.GateXMin != nil && c.Gate.GateXMax != nil && *c.Gate.GateXMin >= *c.Gate.GateXMax {
			return fmt.Errorf("gate.gate_x_min %.1f must be below gate.gate_x_max %.1f", *c.Gate.GateXMin, *c.Gate.GateXMax)
		}
	case "LINE_BAND":
		if c.Gate.GateThickness <= 0 {
			return fmt.Errorf("gate.gate_thickness must be positive, got %.1f", c.Gate.GateThickness)
		}
		if c.Gate.P1X == c.Gate.P2X && c.Gate.P1Y == c.Gate.P2Y {
			return fmt.Errorf("gate line endpoints must differ")
		}
	default:
		return fmt.Errorf("gate.mode must be HORIZONTAL_BAND or LINE_BAND, got %q", c.Gate.Mode)
	}

	if c.Gate.MinFramesInGate < 1 {
		return fmt.Errorf("gate.min_frames_in_gate must be at least 1, got %d", c.Gate.MinFramesInGate)
	}
	if c.Gate.MinTravelPx < 0 || c.Gate.CooldownSec < 0 {
		return fmt.Errorf("gate anti-jitter values must not be negative")
	}
	for name, v := range map[string]string{
		"direction_top_bottom": c.Gate.DirectionTopBottom,
		"direction_bottom_top": c.Gate.DirectionBottomTop,
		"direction_left_right": c.Gate.DirectionLeftRight,
		"direction_right_left": c.Gate.DirectionRightLeft,
	} {
		if v != "IN" && v != "OUT" {
			return fmt.Errorf("gate.%s must be IN or OUT, got %q", name, v)
		}
	}

	if _, err := c.Phases.Location(); err != nil {
		return err
	}
	bounds := []struct {
		name  string
		value string
	}{
		{"reset", c.Phases.Reset},
		{"morning_end", c.Phases.MorningEnd},
		{"lunch_start", c.Phases.LunchStart},
		{"lunch_end", c.Phases.LunchEnd},
		{"day_close", c.Phases.DayClose},
	}
	prev := -1
	for _, b := range bounds {
		m, err := ParseMinuteOfDay(b.value)
		if err != nil {
			return fmt.Errorf("phases.%s: %w", b.name, err)
		}
		if m <= prev {
			return fmt.Errorf("phases.%s %q must be after the preceding boundary", b.name, b.value)
		}
		prev = m
	}

	if c.Alerts.IntervalMin <= 0 {
		return fmt.Errorf("alerts.interval_min must be positive, got %d", c.Alerts.IntervalMin)
	}
	if c.Alerts.FirstDelaySec <= 0 {
		return fmt.Errorf("alerts.first_delay_sec must be positive, got %d", c.Alerts.FirstDelaySec)
	}
	if c.Alerts.Enabled {
		switch c.Alerts.Channel {
		case "", "email":
			if c.Alerts.SMTPHost == "" || c.Alerts.SMTPPort == 0 {
				return fmt.Errorf("alerts enabled but smtp_host/smtp_port missing")
			}
			if c.Alerts.FromAddress == "" || len(c.Alerts.ToAddresses) == 0 {
				return fmt.Errorf("alerts enabled but from_address/to_addresses missing")
			}
		case "webhook":
			if c.Alerts.WebhookURL == "" {
				return fmt.Errorf("alerts channel webhook but webhook_url missing")
			}
		case "telegram":
			if c.Alerts.TelegramBotToken == "" || c.Alerts.TelegramChatID == "" {
				return fmt.Errorf("alerts channel telegram but telegram_bot_token/telegram_chat_id missing")
			}
		default:
			return fmt.Errorf("alerts.channel must be email, webhook, or telegram, got %q", c.Alerts.Channel)
		}
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path must not be empty")
	}
	if c.Storage.FrameQueueSize < 1 {
		return fmt.Errorf("storage.frame_queue_size must be at least 1, got %d", c.Storage.FrameQueueSize)
	}

	if c.Exports.RollingDays < 1 {
		return fmt.Errorf("exports.rolling_days must be at least 1, got %d", c.Exports.RollingDays)
	}
	if c.Exports.RetentionDays < 1 {
		return fmt.Errorf("exports.retention_days must be at least 1, got %d", c.Exports.RetentionDays)
	}
	if c.Exports.IntervalMin <= 0 {
		return fmt.Errorf("exports.interval_min must be positive, got %d", c.Exports.IntervalMin)
	}
	return nil
}

// ParseMinuteOfDay parses an HH:MM string into minutes since midnight.
func ParseMinuteOfDay(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid HH:MM value %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("HH:MM value %q out of range", s)
	}
	return h*60 + m, nil
}
