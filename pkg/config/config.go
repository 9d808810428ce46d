// Package config loads the gateway configuration.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wundergraph/federation-gateway/pkg/federation/servicemap"
	"github.com/wundergraph/federation-gateway/pkg/subscriptionclient"
)

// EnvPrefix prefixes environment overrides, e.g. GATEWAY_LOG_LEVEL.
const EnvPrefix = "GATEWAY"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	LogLevel      string        `mapstructure:"log_level"`
	Services      []Service     `mapstructure:"services"`
	Subscriptions Subscriptions `mapstructure:"subscriptions"`
}

type Service struct {
	Name    string              `mapstructure:"name"`
	URL     string              `mapstructure:"url"`
	WSURL   string              `mapstructure:"ws_url"`
	Headers map[string][]string `mapstructure:"headers"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// Subscriptions configures subscription clients. MaxReconnectAttempts -1,
// the default, retries forever.
type Subscriptions struct {
	Protocols            []string `mapstructure:"protocols"`
	MaxReconnectAttempts int      `mapstructure:"max_reconnect_attempts"`
}

// Load reads the config file at path. Any format supported by viper works,
// the format is taken from the file extension.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("subscriptions.max_reconnect_attempts", subscriptionclient.UnlimitedReconnectAttempts)
	// scalar keys that may be set from the environment only
	_ = v.BindEnv("log_level")
	_ = v.BindEnv("subscriptions.max_reconnect_attempts")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Subscriptions.MaxReconnectAttempts < subscriptionclient.UnlimitedReconnectAttempts {
		return fmt.Errorf("%w: max_reconnect_attempts must be -1 (unlimited) or more", ErrInvalidConfig)
	}

	seen := make(map[string]struct{}, len(c.Services))
	for i, service := range c.Services {
		if service.Name == "" {
			return fmt.Errorf("%w: services[%d]: name is required", ErrInvalidConfig, i)
		}
		if _, ok := seen[service.Name]; ok {
			return fmt.Errorf("%w: services[%d]: duplicate name %s", ErrInvalidConfig, i, service.Name)
		}
		seen[service.Name] = struct{}{}

		if err := validateURL(service.URL, "http", "https"); err != nil {
			return fmt.Errorf("%w: service %s: url: %w", ErrInvalidConfig, service.Name, err)
		}
		if service.WSURL != "" {
			if err := validateURL(service.WSURL, "ws", "wss", "http", "https"); err != nil {
				return fmt.Errorf("%w: service %s: ws_url: %w", ErrInvalidConfig, service.Name, err)
			}
		}
		if service.Timeout < 0 {
			return fmt.Errorf("%w: service %s: timeout must not be negative", ErrInvalidConfig, service.Name)
		}
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			return nil
		}
	}
	return fmt.Errorf("scheme of %q must be one of %s", raw, strings.Join(schemes, ", "))
}

// ServiceDescriptors returns the services in configuration order.
func (c *Config) ServiceDescriptors() []servicemap.ServiceDescriptor {
	out := make([]servicemap.ServiceDescriptor, 0, len(c.Services))
	for _, service := range c.Services {
		var header http.Header
		if len(service.Headers) > 0 {
			header = make(http.Header, len(service.Headers))
			for name, values := range service.Headers {
				for _, value := range values {
					header.Add(name, value)
				}
			}
		}
		out = append(out, servicemap.ServiceDescriptor{
			Name:    service.Name,
			URL:     service.URL,
			WSURL:   service.WSURL,
			Headers: header,
			Timeout: service.Timeout,
		})
	}
	return out
}

// SubscriptionConfig returns the base configuration of subscription clients.
func (c *Config) SubscriptionConfig() subscriptionclient.Config {
	return subscriptionclient.Config{
		Protocols:            c.Subscriptions.Protocols,
		MaxReconnectAttempts: c.Subscriptions.MaxReconnectAttempts,
	}
}
