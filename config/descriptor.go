// Package config loads and validates the runtime Descriptor cmd/ builds
// its stack from — logging, metrics, reactor tuning, and the bind
// addresses — exactly the ambient configuration surface spec.md §1
// scopes out of the core. Load layers a viper-driven env-prefixed
// unmarshal with go-playground/validator struct-tag validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Descriptor is the full set of values spec.md §6 lists as
// configuration, plus the metrics/logging additions SPEC_FULL.md
// §4.10-§4.12 name.
type Descriptor struct {
	ListenIP   string `mapstructure:"listen_ip" validate:"required"`
	ListenPort int    `mapstructure:"listen_port" validate:"required,gt=0,lt=65536"`

	LogLevel       string        `mapstructure:"log_level"`
	LogFileName    string        `mapstructure:"log_file_name" validate:"required"`
	LogFilePath    string        `mapstructure:"log_file_path" validate:"required"`
	LogMaxFileSize int64         `mapstructure:"log_max_file_size" validate:"gt=0"`
	LogSyncInterval time.Duration `mapstructure:"log_sync_interval" validate:"gt=0"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	EpollTimeout  time.Duration `mapstructure:"epoll_timeout" validate:"gt=0"`
	WorkerThreads int           `mapstructure:"worker_threads" validate:"gt=0"`

	RPCCallTimeout time.Duration `mapstructure:"rpc_call_timeout" validate:"gt=0"`
}

// defaults are applied before validation, so an absent key never trips
// a "required" tag unnecessarily.
func defaults() Descriptor {
	return Descriptor{
		ListenIP:        "0.0.0.0",
		ListenPort:      8080,
		LogLevel:        "DEBUG",
		LogFileName:     "rpcgo",
		LogFilePath:     "./log",
		LogMaxFileSize:  100 << 20,
		LogSyncInterval: 500 * time.Millisecond,
		MetricsAddr:     "",
		EpollTimeout:    10 * time.Second,
		WorkerThreads:   2,
		RPCCallTimeout:  time.Second,
	}
}

// Load reads path (YAML/JSON/TOML, autodetected by extension) through
// viper, overlays RPCGO_-prefixed environment variables, fills in
// defaults() for anything unset, and validates the result. An empty
// path skips file reading and returns pure defaults plus environment
// overrides.
func Load(path string) (*Descriptor, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RPCGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	d := defaults()
	if err := v.Unmarshal(&d); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	normalizeLogLevel(&d)

	if err := validateDescriptor(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func setDefaults(v *viper.Viper) {
	d := defaults()
	v.SetDefault("listen_ip", d.ListenIP)
	v.SetDefault("listen_port", d.ListenPort)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file_name", d.LogFileName)
	v.SetDefault("log_file_path", d.LogFilePath)
	v.SetDefault("log_max_file_size", d.LogMaxFileSize)
	v.SetDefault("log_sync_interval", d.LogSyncInterval)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("epoll_timeout", d.EpollTimeout)
	v.SetDefault("worker_threads", d.WorkerThreads)
	v.SetDefault("rpc_call_timeout", d.RPCCallTimeout)
}

// normalizeLogLevel defaults log_level to DEBUG on anything other than
// DEBUG/INFO/ERROR, per spec.md §6's stated default-on-unknown
// behavior — this runs before struct validation, which otherwise would
// have no tag expressive enough to "warn rather than reject" on this
// one field.
func normalizeLogLevel(d *Descriptor) {
	switch strings.ToUpper(strings.TrimSpace(d.LogLevel)) {
	case "DEBUG", "INFO", "ERROR":
		d.LogLevel = strings.ToUpper(strings.TrimSpace(d.LogLevel))
	default:
		d.LogLevel = "DEBUG"
	}
}

func validateDescriptor(d *Descriptor) error {
	val := validator.New()
	err := val.Struct(d)
	if err == nil {
		return nil
	}
	if _, ok := err.(*validator.InvalidValidationError); ok {
		return fmt.Errorf("config: %w", err)
	}
	var msgs []string
	for _, fe := range err.(validator.ValidationErrors) {
		msgs = append(msgs, fmt.Sprintf("field %q fails constraint %q", fe.Field(), fe.ActualTag()))
	}
	return fmt.Errorf("config: validation failed: %s", strings.Join(msgs, "; "))
}
