package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

// ChannelConfig covers the packet channel both processes share: where the
// FIFOs live and how the loops around them behave.
type ChannelConfig struct {
	Dir                   string `yaml:"dir"`
	QueueCapacity         int    `yaml:"queue_capacity"`
	ResponseQueueCapacity int    `yaml:"response_queue_capacity"`
	RetryAttempts         int    `yaml:"retry_attempts"`
	RetryBackoffMS        int    `yaml:"retry_backoff_ms"`
	HandshakeTimeoutMS    int    `yaml:"handshake_timeout_ms"`
}

type KeypadConfig struct {
	PollIntervalMS      int `yaml:"poll_interval_ms"`
	HoldThresholdMS     int `yaml:"hold_threshold_ms"`
	DebounceLimit       int `yaml:"debounce_limit"`
	DoublePulseWindowMS int `yaml:"double_pulse_window_ms"`
	SourceHoldMS        int `yaml:"source_hold_ms"`
}

type SpeechConfig struct {
	Mode            string  `yaml:"mode"` // mock, exec
	Command         string  `yaml:"command"`
	Voice           string  `yaml:"voice"`
	Rate            float64 `yaml:"rate"`
	SampleRate      int     `yaml:"sample_rate"`
	Channels        int     `yaml:"channels"`
	ChunkDurationMS int     `yaml:"chunk_duration_ms"`
	CacheDir        string  `yaml:"cache_dir"`
	CacheToDisk     bool    `yaml:"cache_to_disk"`
}

type AudioConfig struct {
	BeepDir      string `yaml:"beep_dir"`
	BeepsEnabled bool   `yaml:"beeps_enabled"`
	DeviceInfo   int    `yaml:"device_info"`
}

type RigConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type EventLogConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
}

type BridgeConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Channel     ChannelConfig   `yaml:"channel"`
	Keypad      KeypadConfig    `yaml:"keypad"`
	Speech      SpeechConfig    `yaml:"speech"`
	Audio       AudioConfig     `yaml:"audio"`
	Rig         RigConfig       `yaml:"rig"`
	EventLog    EventLogConfig  `yaml:"event_log"`
	Bridge      BridgeConfig    `yaml:"bridge"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxpod",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Channel: ChannelConfig{
			Dir:                   "./run",
			QueueCapacity:         16,
			ResponseQueueCapacity: 16,
			RetryAttempts:         3,
			RetryBackoffMS:        100,
			HandshakeTimeoutMS:    5000,
		},
		Keypad: KeypadConfig{
			PollIntervalMS:      50,
			HoldThresholdMS:     500,
			DebounceLimit:       6,
			DoublePulseWindowMS: 30,
			SourceHoldMS:        150,
		},
		Speech: SpeechConfig{
			Mode:            "mock",
			Voice:           "en-US",
			Rate:            1.0,
			SampleRate:      22050,
			Channels:        1,
			ChunkDurationMS: 50,
			CacheDir:        "./data/speech-cache",
			CacheToDisk:     true,
		},
		Audio: AudioConfig{
			BeepDir:      "./assets/beeps",
			BeepsEnabled: true,
			DeviceInfo:   0,
		},
		Rig: RigConfig{
			Enabled:   false,
			Address:   "localhost:4532",
			TimeoutMS: 5000,
		},
		EventLog: EventLogConfig{
			Path:          "./data/voxpod-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRuns:       1000,
		},
		Bridge: BridgeConfig{
			Enabled:        false,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
	}
}

// Load reads the YAML file at path (defaults apply when path is empty),
// layers VOXPOD_* environment overrides on top, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration back to path. User-adjustable settings
// (speech rate, beeps, rig address) live in the same file, so the daemon
// persists changes made from the keypad here.
func Save(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOXPOD_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOXPOD_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOXPOD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXPOD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOXPOD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXPOD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXPOD_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOXPOD_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Channel.Dir, "VOXPOD_CHANNEL_DIR")
	overrideInt(&cfg.Channel.QueueCapacity, "VOXPOD_CHANNEL_QUEUE_CAPACITY")
	overrideInt(&cfg.Channel.ResponseQueueCapacity, "VOXPOD_CHANNEL_RESPONSE_QUEUE_CAPACITY")
	overrideInt(&cfg.Channel.RetryAttempts, "VOXPOD_CHANNEL_RETRY_ATTEMPTS")
	overrideInt(&cfg.Channel.RetryBackoffMS, "VOXPOD_CHANNEL_RETRY_BACKOFF_MS")
	overrideInt(&cfg.Channel.HandshakeTimeoutMS, "VOXPOD_CHANNEL_HANDSHAKE_TIMEOUT_MS")
	overrideInt(&cfg.Keypad.PollIntervalMS, "VOXPOD_KEYPAD_POLL_INTERVAL_MS")
	overrideInt(&cfg.Keypad.HoldThresholdMS, "VOXPOD_KEYPAD_HOLD_THRESHOLD_MS")
	overrideInt(&cfg.Keypad.DebounceLimit, "VOXPOD_KEYPAD_DEBOUNCE_LIMIT")
	overrideInt(&cfg.Keypad.DoublePulseWindowMS, "VOXPOD_KEYPAD_DOUBLE_PULSE_WINDOW_MS")
	overrideInt(&cfg.Keypad.SourceHoldMS, "VOXPOD_KEYPAD_SOURCE_HOLD_MS")
	overrideString(&cfg.Speech.Mode, "VOXPOD_SPEECH_MODE")
	overrideString(&cfg.Speech.Command, "VOXPOD_SPEECH_COMMAND")
	overrideString(&cfg.Speech.Voice, "VOXPOD_SPEECH_VOICE")
	overrideFloat(&cfg.Speech.Rate, "VOXPOD_SPEECH_RATE")
	overrideInt(&cfg.Speech.SampleRate, "VOXPOD_SPEECH_SAMPLE_RATE")
	overrideInt(&cfg.Speech.Channels, "VOXPOD_SPEECH_CHANNELS")
	overrideInt(&cfg.Speech.ChunkDurationMS, "VOXPOD_SPEECH_CHUNK_DURATION_MS")
	overrideString(&cfg.Speech.CacheDir, "VOXPOD_SPEECH_CACHE_DIR")
	overrideBool(&cfg.Speech.CacheToDisk, "VOXPOD_SPEECH_CACHE_TO_DISK")
	overrideString(&cfg.Audio.BeepDir, "VOXPOD_AUDIO_BEEP_DIR")
	overrideBool(&cfg.Audio.BeepsEnabled, "VOXPOD_AUDIO_BEEPS_ENABLED")
	overrideInt(&cfg.Audio.DeviceInfo, "VOXPOD_AUDIO_DEVICE_INFO")
	overrideBool(&cfg.Rig.Enabled, "VOXPOD_RIG_ENABLED")
	overrideString(&cfg.Rig.Address, "VOXPOD_RIG_ADDRESS")
	overrideInt(&cfg.Rig.TimeoutMS, "VOXPOD_RIG_TIMEOUT_MS")
	overrideString(&cfg.EventLog.Path, "VOXPOD_EVENT_LOG_PATH")
	overrideString(&cfg.EventLog.RetentionMode, "VOXPOD_EVENT_LOG_RETENTION_MODE")
	overrideInt(&cfg.EventLog.RetentionDays, "VOXPOD_EVENT_LOG_RETENTION_DAYS")
	overrideInt(&cfg.EventLog.MaxRuns, "VOXPOD_EVENT_LOG_MAX_RUNS")
	overrideBool(&cfg.Bridge.Enabled, "VOXPOD_BRIDGE_ENABLED")
	overrideStringSlice(&cfg.Bridge.Servers, "VOXPOD_BRIDGE_SERVERS")
	overrideString(&cfg.Bridge.Username, "VOXPOD_BRIDGE_USERNAME")
	overrideString(&cfg.Bridge.Password, "VOXPOD_BRIDGE_PASSWORD")
	overrideString(&cfg.Bridge.Token, "VOXPOD_BRIDGE_TOKEN")
	overrideInt(&cfg.Bridge.ConnectTimeout, "VOXPOD_BRIDGE_CONNECT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Channel.Dir == "" {
		return errors.New("channel.dir must not be empty")
	}
	if cfg.Channel.QueueCapacity <= 0 {
		return errors.New("channel.queue_capacity must be positive")
	}
	if cfg.Channel.ResponseQueueCapacity <= 0 {
		return errors.New("channel.response_queue_capacity must be positive")
	}
	if cfg.Channel.RetryAttempts < 0 {
		return errors.New("channel.retry_attempts must be >= 0")
	}
	if cfg.Keypad.PollIntervalMS <= 0 {
		return errors.New("keypad.poll_interval_ms must be positive")
	}
	if cfg.Keypad.HoldThresholdMS <= cfg.Keypad.PollIntervalMS {
		return errors.New("keypad.hold_threshold_ms must be greater than the poll interval")
	}
	if cfg.Keypad.DebounceLimit <= 0 {
		return errors.New("keypad.debounce_limit must be >= 1")
	}
	if cfg.Keypad.DoublePulseWindowMS <= 0 {
		return errors.New("keypad.double_pulse_window_ms must be positive")
	}
	if cfg.Keypad.SourceHoldMS <= 0 {
		return errors.New("keypad.source_hold_ms must be positive")
	}
	switch cfg.Speech.Mode {
	case "mock", "exec":
	default:
		return errors.New("speech.mode must be one of mock|exec")
	}
	if cfg.Speech.Mode == "exec" && cfg.Speech.Command == "" {
		return errors.New("speech.command must be set when mode=exec")
	}
	if cfg.Speech.Rate <= 0 {
		return errors.New("speech.rate must be positive")
	}
	if cfg.Speech.SampleRate <= 0 {
		return errors.New("speech.sample_rate must be positive")
	}
	if cfg.Speech.Channels <= 0 {
		return errors.New("speech.channels must be positive")
	}
	if cfg.Speech.ChunkDurationMS <= 0 {
		return errors.New("speech.chunk_duration_ms must be positive")
	}
	if cfg.Rig.Enabled && cfg.Rig.Address == "" {
		return errors.New("rig.address must be set when rig is enabled")
	}
	if cfg.EventLog.Path == "" {
		return errors.New("event_log.path must not be empty")
	}
	switch cfg.EventLog.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_log.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventLog.RetentionDays < 0 {
		return errors.New("event_log.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bridge.Enabled && len(cfg.Bridge.Servers) == 0 {
		return errors.New("bridge.servers must not be empty when the bridge is enabled")
	}
	return nil
}

// ChunkBytes derives the arbiter chunk size from the speech audio format:
// 16-bit samples, chunk_duration_ms worth of them.
func (s SpeechConfig) ChunkBytes() int {
	return s.SampleRate * s.Channels * 2 * s.ChunkDurationMS / 1000
}
