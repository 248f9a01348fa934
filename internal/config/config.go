package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/hopmq/internal/protocol/session"
)

// MetricsConfig enables the HTTP status router when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr  string
	CorsOrigins []string
}

type RouteConfig struct {
	Exchange string
	Queue    string
}

// ClientConfig is the runtime shape of mqctl's config.toml.
type ClientConfig struct {
	Session session.Config
	Channel string
	Route   RouteConfig
	Metrics MetricsConfig
}

type fileTLS struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type fileBackoff struct {
	InitialDelayMS int     `toml:"initial_delay_ms"`
	Multiplier     float64 `toml:"multiplier"`
	MaxDelayMS     int     `toml:"max_delay_ms"`
	Jitter         bool    `toml:"jitter"`
}

type fileMetrics struct {
	ListenAddr  string   `toml:"listen_addr"`
	CorsOrigins []string `toml:"cors_origins"`
}

type fileRoute struct {
	Exchange string `toml:"exchange"`
	Queue    string `toml:"queue"`
}

// mqctl config.toml key mapping.
type fileClientConfig struct {
	Address            string      `toml:"address"`
	VirtualHost        string      `toml:"virtual_host"`
	Channel            string      `toml:"channel"`
	ConnectTimeoutMS   int         `toml:"connect_timeout_ms"`
	HandshakeTimeoutMS int         `toml:"handshake_timeout_ms"`
	ReadTimeoutMS      int         `toml:"read_timeout_ms"`
	WriteTimeoutMS     int         `toml:"write_timeout_ms"`
	MaxConnectAttempts int         `toml:"max_connect_attempts"`
	MaxPayloadBytes    int64       `toml:"max_payload_bytes"`
	SecurityMode       string      `toml:"security_mode"`
	TLS                fileTLS     `toml:"tls"`
	Backoff            fileBackoff `toml:"backoff"`
	Route              fileRoute   `toml:"route"`
	Metrics            fileMetrics `toml:"metrics"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Session: session.DefaultConfig(),
		Channel: "MQ_CHANNEL",
		Route:   RouteConfig{Exchange: "base_exc", Queue: "base_queue"},
	}
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// LoadClientConfig overlays the keys present in path onto
// DefaultClientConfig and validates the result.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw fileClientConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ClientConfig{}, fmt.Errorf("load client config: unknown key %q", undecoded[0].String())
	}

	s := &cfg.Session
	if meta.IsDefined("address") {
		s.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("virtual_host") {
		s.VirtualHost = strings.TrimSpace(raw.VirtualHost)
	}
	if meta.IsDefined("channel") {
		cfg.Channel = strings.TrimSpace(raw.Channel)
	}
	if meta.IsDefined("connect_timeout_ms") {
		s.ConnectTimeout = millis(raw.ConnectTimeoutMS)
	}
	if meta.IsDefined("handshake_timeout_ms") {
		s.HandshakeTimeout = millis(raw.HandshakeTimeoutMS)
	}
	if meta.IsDefined("read_timeout_ms") {
		s.ReadTimeout = millis(raw.ReadTimeoutMS)
	}
	if meta.IsDefined("write_timeout_ms") {
		s.WriteTimeout = millis(raw.WriteTimeoutMS)
	}
	if meta.IsDefined("max_connect_attempts") {
		s.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("max_payload_bytes") {
		if raw.MaxPayloadBytes <= 0 {
			return ClientConfig{}, fmt.Errorf("load client config: max_payload_bytes must be positive")
		}
		s.MaxPayloadBytes = uint64(raw.MaxPayloadBytes)
	}
	if meta.IsDefined("security_mode") {
		s.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	overlayTLS(meta, &s.TLS, raw.TLS)
	overlayBackoff(meta, &s.Backoff, raw.Backoff)
	if meta.IsDefined("route", "exchange") {
		cfg.Route.Exchange = strings.TrimSpace(raw.Route.Exchange)
	}
	if meta.IsDefined("route", "queue") {
		cfg.Route.Queue = strings.TrimSpace(raw.Route.Queue)
	}
	overlayMetrics(meta, &cfg.Metrics, raw.Metrics)

	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func overlayTLS(meta toml.MetaData, dst *session.TLSConfig, raw fileTLS) {
	if meta.IsDefined("tls", "enabled") {
		dst.Enabled = raw.Enabled
	}
	if meta.IsDefined("tls", "mutual") {
		dst.Mutual = raw.Mutual
	}
	if meta.IsDefined("tls", "cert_file") {
		dst.CertFile = strings.TrimSpace(raw.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		dst.KeyFile = strings.TrimSpace(raw.KeyFile)
	}
	if meta.IsDefined("tls", "ca_file") {
		dst.CAFile = strings.TrimSpace(raw.CAFile)
	}
	if meta.IsDefined("tls", "server_name") {
		dst.ServerName = strings.TrimSpace(raw.ServerName)
	}
	if meta.IsDefined("tls", "insecure_skip_verify") {
		dst.InsecureSkipVerify = raw.InsecureSkipVerify
	}
}

func overlayBackoff(meta toml.MetaData, dst *session.BackoffConfig, raw fileBackoff) {
	if meta.IsDefined("backoff", "initial_delay_ms") {
		dst.InitialDelay = millis(raw.InitialDelayMS)
	}
	if meta.IsDefined("backoff", "multiplier") {
		dst.Multiplier = raw.Multiplier
	}
	if meta.IsDefined("backoff", "max_delay_ms") {
		dst.MaxDelay = millis(raw.MaxDelayMS)
	}
	if meta.IsDefined("backoff", "jitter") {
		dst.Jitter = raw.Jitter
	}
}

func overlayMetrics(meta toml.MetaData, dst *MetricsConfig, raw fileMetrics) {
	if meta.IsDefined("metrics", "listen_addr") {
		dst.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("metrics", "cors_origins") {
		dst.CorsOrigins = append([]string(nil), raw.CorsOrigins...)
	}
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Session.Address) == "" {
		return fmt.Errorf("client config missing address")
	}
	if err := cfg.Session.Validate(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}
	if cfg.Session.ConnectTimeout <= 0 || cfg.Session.HandshakeTimeout <= 0 {
		return fmt.Errorf("client config: connect and handshake timeouts must be positive")
	}
	if len(cfg.Channel) > 32 {
		return fmt.Errorf("client config: channel %q longer than 32 bytes", cfg.Channel)
	}
	return nil
}

// ToSessionConfig returns the session settings with defaults filled in.
func (c ClientConfig) ToSessionConfig() session.Config {
	return c.Session.WithDefaults()
}
