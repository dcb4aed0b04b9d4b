package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
	LogThrottleMS  int    `yaml:"log_throttle_ms"` // min gap between repeated log lines
}

type Cooldown struct {
	DefaultMS  int            `yaml:"default_ms"`
	KeyHeader  string         `yaml:"key_header"` // caller identity, falls back to remote host
	Namespaces map[string]int `yaml:"namespaces"` // path -> cooldown ms
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Cooldown      Cooldown      `yaml:"cooldown"`
}

// maxMS is the largest millisecond count a time.Duration can hold.
const maxMS = math.MaxInt64 / int64(time.Millisecond)

// ms converts a millisecond setting, using def when it is unset.
func ms(v int, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func (s Server) ReadTimeout() time.Duration  { return ms(s.ReadTimeoutMS, 5*time.Second) }
func (s Server) WriteTimeout() time.Duration { return ms(s.WriteTimeoutMS, 10*time.Second) }
func (s Server) IdleTimeout() time.Duration  { return ms(s.IdleTimeoutMS, 60*time.Second) }

func (o Observability) LogThrottle() time.Duration { return ms(o.LogThrottleMS, 0) }

// For returns the cooldown for a namespace, falling back to the default.
func (c Cooldown) For(namespace string) time.Duration {
	if v, ok := c.Namespaces[namespace]; ok {
		return ms(v, 0)
	}
	return ms(c.DefaultMS, 0)
}

// Routes is the set of paths that carry a cooldown.
func (c Cooldown) Routes() map[string]struct{} {
	routes := make(map[string]struct{}, len(c.Namespaces))
	for path := range c.Namespaces {
		routes[path] = struct{}{}
	}
	return routes
}

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Root, error) {
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Observability.LogThrottleMS <= 0 {
		cfg.Observability.LogThrottleMS = 5000
	}
	if cfg.Cooldown.DefaultMS <= 0 {
		cfg.Cooldown.DefaultMS = 1000
	}
	if cfg.Cooldown.KeyHeader == "" {
		cfg.Cooldown.KeyHeader = "X-API-Key"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Root) validate() error {
	fields := map[string]int{
		"server.read_timeout_ms":        cfg.Server.ReadTimeoutMS,
		"server.write_timeout_ms":       cfg.Server.WriteTimeoutMS,
		"server.idle_timeout_ms":        cfg.Server.IdleTimeoutMS,
		"observability.log_throttle_ms": cfg.Observability.LogThrottleMS,
		"cooldown.default_ms":           cfg.Cooldown.DefaultMS,
	}
	for path, v := range cfg.Cooldown.Namespaces {
		fields[fmt.Sprintf("cooldown.namespaces[%q]", path)] = v
	}
	for name, v := range fields {
		if v < 0 {
			return fmt.Errorf("%s: negative value %d", name, v)
		}
		if int64(v) > maxMS {
			return fmt.Errorf("%s: %d ms overflows a duration", name, v)
		}
	}
	return nil
}
