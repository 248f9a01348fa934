package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return clientTemplate, nil
	case "broker":
		return brokerTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `address = "127.0.0.1:11451"
virtual_host = "MQ_HOST"
channel = "MQ_CHANNEL"
connect_timeout_ms = 5000
handshake_timeout_ms = 5000
read_timeout_ms = 1024
write_timeout_ms = 1024
max_connect_attempts = 3
security_mode = "development"

[route]
exchange = "base_exc"
queue = "base_queue"

[backoff]
initial_delay_ms = 250
multiplier = 2.0
max_delay_ms = 5000
jitter = true

[tls]
enabled = false

[metrics]
listen_addr = ""
cors_origins = ["http://localhost:3000"]
`

const brokerTemplate = `listen = "127.0.0.1:11451"
security_mode = "development"

[tls]
enabled = false

[metrics]
listen_addr = "127.0.0.1:9464"

[[vhosts]]
name = "MQ_HOST"

[[vhosts.exchanges]]
name = "base_exc"
type = "direct"

[[vhosts.queues]]
name = "base_queue"
bindings = ["base_exc"]
`
