package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/hopmq/internal/devbroker"
	"github.com/danmuck/hopmq/internal/protocol/frame"
	"github.com/danmuck/hopmq/internal/protocol/session"
)

type ExchangeConfig struct {
	Name string `toml:"name"`
	Type string `toml:"type"`
}

type QueueConfig struct {
	Name     string   `toml:"name"`
	Bindings []string `toml:"bindings"`
}

type VHostConfig struct {
	Name      string           `toml:"name"`
	Exchanges []ExchangeConfig `toml:"exchanges"`
	Queues    []QueueConfig    `toml:"queues"`
}

// BrokerConfig is the runtime shape of devbroker's config.toml.
type BrokerConfig struct {
	Listen          string
	SecurityMode    session.SecurityMode
	TLS             session.TLSConfig
	MaxPayloadBytes uint64
	VHosts          []VHostConfig
	Metrics         MetricsConfig
}

type fileBrokerConfig struct {
	Listen          string        `toml:"listen"`
	SecurityMode    string        `toml:"security_mode"`
	MaxPayloadBytes int64         `toml:"max_payload_bytes"`
	TLS             fileTLS       `toml:"tls"`
	VHosts          []VHostConfig `toml:"vhosts"`
	Metrics         fileMetrics   `toml:"metrics"`
}

func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Listen:          "127.0.0.1:11451",
		SecurityMode:    session.SecurityModeDevelopment,
		MaxPayloadBytes: frame.DefaultLimits().MaxPayloadBytes,
	}
}

func LoadBrokerConfig(path string) (BrokerConfig, error) {
	cfg := DefaultBrokerConfig()

	var raw fileBrokerConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return BrokerConfig{}, fmt.Errorf("load broker config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return BrokerConfig{}, fmt.Errorf("load broker config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("security_mode") {
		cfg.SecurityMode = session.SecurityMode(strings.TrimSpace(raw.SecurityMode))
	}
	if meta.IsDefined("max_payload_bytes") {
		if raw.MaxPayloadBytes <= 0 {
			return BrokerConfig{}, fmt.Errorf("load broker config: max_payload_bytes must be positive")
		}
		cfg.MaxPayloadBytes = uint64(raw.MaxPayloadBytes)
	}
	overlayTLS(meta, &cfg.TLS, raw.TLS)
	overlayMetrics(meta, &cfg.Metrics, raw.Metrics)
	cfg.VHosts = raw.VHosts

	if err := ValidateBrokerConfig(cfg); err != nil {
		return BrokerConfig{}, err
	}
	return cfg, nil
}

func ValidateBrokerConfig(cfg BrokerConfig) error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("broker config missing listen")
	}
	if err := session.ValidateServerTransport(cfg.SecurityMode, cfg.TLS); err != nil {
		return fmt.Errorf("broker config: %w", err)
	}
	seen := make(map[string]struct{}, len(cfg.VHosts))
	for i, v := range cfg.VHosts {
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("vhost[%d] missing name", i)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("vhost[%d] duplicate name %q", i, v.Name)
		}
		seen[v.Name] = struct{}{}
		for j, ex := range v.Exchanges {
			if strings.TrimSpace(ex.Name) == "" {
				return fmt.Errorf("vhost[%d].exchanges[%d] missing name", i, j)
			}
			if _, err := ParseRoutingType(ex.Type); err != nil {
				return fmt.Errorf("vhost[%d].exchanges[%d]: %w", i, j, err)
			}
		}
		for j, q := range v.Queues {
			if strings.TrimSpace(q.Name) == "" {
				return fmt.Errorf("vhost[%d].queues[%d] missing name", i, j)
			}
		}
	}
	return nil
}

// ParseRoutingType maps an exchange type name to its wire routing type.
// Empty means direct.
func ParseRoutingType(s string) (frame.RoutingType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct":
		return frame.Direct, nil
	case "topic":
		return frame.Topic, nil
	case "fanout":
		return frame.Fanout, nil
	}
	return frame.RoutingUnset, fmt.Errorf("unknown exchange type %q", s)
}

// ToBrokerConfig builds the devbroker runtime config, loading TLS material
// when enabled.
func (c BrokerConfig) ToBrokerConfig() (devbroker.Config, error) {
	out := devbroker.Config{
		Listen: c.Listen,
		Limits: frame.Limits{MaxPayloadBytes: c.MaxPayloadBytes},
	}
	if c.TLS.Enabled {
		tlsCfg, err := session.ServerTLSConfig(c.TLS)
		if err != nil {
			return devbroker.Config{}, err
		}
		out.TLS = tlsCfg
	}
	for _, v := range c.VHosts {
		spec := devbroker.VHostSpec{Name: v.Name}
		for _, ex := range v.Exchanges {
			rt, err := ParseRoutingType(ex.Type)
			if err != nil {
				return devbroker.Config{}, err
			}
			spec.Exchanges = append(spec.Exchanges, devbroker.ExchangeSpec{Name: ex.Name, Routing: rt})
		}
		for _, q := range v.Queues {
			spec.Queues = append(spec.Queues, devbroker.QueueSpec{Name: q.Name, Bindings: q.Bindings})
		}
		out.VHosts = append(out.VHosts, spec)
	}
	return out, nil
}
