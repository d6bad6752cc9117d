package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the runtime configuration of the meeting recorder.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Audio       AudioConfig       `mapstructure:"audio"`
	Meeting     MeetingConfig     `mapstructure:"meeting"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	Summary     SummaryConfig     `mapstructure:"summary"`
	Upload      UploadConfig      `mapstructure:"upload"`
	Webhook     WebhookConfig     `mapstructure:"webhook"`
	Recordings  RecordingsConfig  `mapstructure:"recordings"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	LogLevel       string   `mapstructure:"log_level"`
	LogFormat      string   `mapstructure:"log_format"`
	PublicDir      string   `mapstructure:"public_dir"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// StorageConfig locates scratch segments and merged recordings.
type StorageConfig struct {
	SegmentsDir   string `mapstructure:"segments_dir"`
	RecordingsDir string `mapstructure:"recordings_dir"`
}

// AudioConfig drives the ffmpeg encoder and the merge pipeline.
type AudioConfig struct {
	FFmpegPath      string        `mapstructure:"ffmpeg_path"`
	FFprobePath     string        `mapstructure:"ffprobe_path"`
	DefaultCodec    string        `mapstructure:"default_codec"`
	FallbackCodec   string        `mapstructure:"fallback_codec"`
	Bitrate         string        `mapstructure:"bitrate"`
	Channels        int           `mapstructure:"channels"`
	SampleRate      int           `mapstructure:"sample_rate"`
	SegmentExt      string        `mapstructure:"segment_ext"`
	MinSegmentBytes int64         `mapstructure:"min_segment_bytes"`
	EncodeTimeout   time.Duration `mapstructure:"encode_timeout"`
	MergeTimeout    time.Duration `mapstructure:"merge_timeout"`
}

// MeetingConfig tunes the session state machine.
type MeetingConfig struct {
	AutoStartRecording bool          `mapstructure:"auto_start_recording"`
	MaxParticipants    int           `mapstructure:"max_participants"`
	StopGrace          time.Duration `mapstructure:"stop_grace"`
	EndGrace           time.Duration `mapstructure:"end_grace"`
	EndSettle          time.Duration `mapstructure:"end_settle"`
}

// RealtimeConfig tunes websocket liveness.
type RealtimeConfig struct {
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	SendBuffer      int           `mapstructure:"send_buffer"`
}

// SummaryConfig points at the summary/PDF service.
type SummaryConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	FinalPath        string        `mapstructure:"final_path"`
	IntermediatePath string        `mapstructure:"intermediate_path"`
	Timeout          time.Duration `mapstructure:"timeout"`
	DeliveryDelay    time.Duration `mapstructure:"delivery_delay"`
	OAuth            OAuthConfig   `mapstructure:"oauth"`
}

// OAuthConfig enables client-credentials authentication.
type OAuthConfig struct {
	TokenURL     string   `mapstructure:"token_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
}

// UploadConfig configures object storage uploads.
type UploadConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BaseURL      string        `mapstructure:"base_url"`
	Bucket       string        `mapstructure:"bucket"`
	Intermediate bool          `mapstructure:"intermediate"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// WebhookConfig secures the webhook receivers. An empty secret disables auth.
type WebhookConfig struct {
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
	// RateStore is "memory" or "database". The database store shares limits
	// across instances.
	RateStore string `mapstructure:"rate_store"`
}

// RecordingsConfig controls catalogued recordings.
type RecordingsConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// MaintenanceConfig schedules background cleanup.
type MaintenanceConfig struct {
	ScratchSchedule   string        `mapstructure:"scratch_schedule"`
	RetentionSchedule string        `mapstructure:"retention_schedule"`
	ScratchMaxAge     time.Duration `mapstructure:"scratch_max_age"`
	RetentionBatch    int           `mapstructure:"retention_batch"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig reads config.yaml from ./config and the given paths, then
// overlays MEETREC_* environment variables onto the defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("MEETREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// LoadConfigFile reads one explicit YAML file instead of searching paths.
func LoadConfigFile(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(file)
	setDefaults(v)

	v.SetEnvPrefix("MEETREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", file, err)
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.public_dir", "")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/meetrec.sqlite")

	v.SetDefault("storage.segments_dir", "./data/temp")
	v.SetDefault("storage.recordings_dir", "./data/recordings")

	v.SetDefault("audio.ffmpeg_path", "ffmpeg")
	v.SetDefault("audio.ffprobe_path", "ffprobe")
	v.SetDefault("audio.default_codec", "libmp3lame")
	v.SetDefault("audio.fallback_codec", "aac")
	v.SetDefault("audio.bitrate", "128k")
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.segment_ext", ".webm")
	v.SetDefault("audio.min_segment_bytes", 1000)
	v.SetDefault("audio.encode_timeout", "2m")
	v.SetDefault("audio.merge_timeout", "10m")

	v.SetDefault("meeting.auto_start_recording", true)
	v.SetDefault("meeting.max_participants", 0)
	v.SetDefault("meeting.stop_grace", "2s")
	v.SetDefault("meeting.end_grace", "5s")
	v.SetDefault("meeting.end_settle", "3s")

	v.SetDefault("realtime.ping_interval", "30s")
	v.SetDefault("realtime.pong_timeout", "10s")
	v.SetDefault("realtime.max_message_bytes", 32<<20)
	v.SetDefault("realtime.send_buffer", 64)

	v.SetDefault("summary.base_url", "")
	v.SetDefault("summary.final_path", "/meetingInfo/%s/getPdf")
	v.SetDefault("summary.intermediate_path", "/meetingInfo/%s/getSummary/latest")
	v.SetDefault("summary.timeout", "15s")
	v.SetDefault("summary.delivery_delay", "5m")

	v.SetDefault("upload.enabled", false)
	v.SetDefault("upload.bucket", "recordings")
	v.SetDefault("upload.intermediate", false)
	v.SetDefault("upload.timeout", "2m")

	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.issuer", "meetrec")
	v.SetDefault("webhook.rate_limit", 60)
	v.SetDefault("webhook.rate_window", "1m")
	v.SetDefault("webhook.rate_store", "memory")

	v.SetDefault("recordings.retention_days", 30)

	v.SetDefault("maintenance.scratch_schedule", "@hourly")
	v.SetDefault("maintenance.retention_schedule", "@daily")
	v.SetDefault("maintenance.scratch_max_age", "6h")
	v.SetDefault("maintenance.retention_batch", 100)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
