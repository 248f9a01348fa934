package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/hopmq/internal/protocol/frame"
)

// BackoffConfig defines connect retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig is shared by the client dialer and the dev broker listener.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines the transport target and timeouts of one session.
type Config struct {
	Address            string
	VirtualHost        string
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	MaxPayloadBytes    uint64
	Backoff            BackoffConfig
	SecurityMode       SecurityMode
	TLS                TLSConfig
}

var (
	ErrVirtualHostRequired = errors.New("session: virtual host required")
	ErrAddressRequired     = errors.New("session: address required")
)

// DefaultConfig mirrors the reference client: 1024ms read and write timeouts.
func DefaultConfig() Config {
	return Config{
		Address:            "127.0.0.1:11451",
		VirtualHost:        "MQ_HOST",
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		ReadTimeout:        1024 * time.Millisecond,
		WriteTimeout:       1024 * time.Millisecond,
		MaxConnectAttempts: 3,
		MaxPayloadBytes:    frame.DefaultLimits().MaxPayloadBytes,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig. Address and
// VirtualHost are left as given.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = def.MaxPayloadBytes
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}

func (c Config) Limits() frame.Limits {
	return frame.Limits{MaxPayloadBytes: c.MaxPayloadBytes}
}

// Validate checks the fields a session needs once a connection exists.
func (c Config) Validate() error {
	host := strings.TrimSpace(c.VirtualHost)
	if host == "" {
		return ErrVirtualHostRequired
	}
	var scratch [frame.NameLen]byte
	if err := frame.PutText(scratch[:], host); err != nil {
		return fmt.Errorf("session: virtual host: %w", err)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("session: read and write timeouts must be positive")
	}
	return nil
}
