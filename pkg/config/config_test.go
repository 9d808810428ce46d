package config

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wundergraph/federation-gateway/pkg/federation/servicemap"
	"github.com/wundergraph/federation-gateway/pkg/subscriptionclient"
)

const gatewayYAML = `
log_level: debug
services:
  - name: accounts
    url: http://accounts:4001/graphql
    timeout: 5s
    headers:
      Authorization:
        - Bearer secret
  - name: reviews
    url: https://reviews:4002/graphql
    ws_url: ws://reviews:4002/graphql
subscriptions:
  protocols:
    - graphql-transport-ws
  max_reconnect_attempts: 5
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "gateway.yaml", gatewayYAML))
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.LogLevel)
		require.Len(t, cfg.Services, 2)
		assert.Equal(t, "accounts", cfg.Services[0].Name)
		assert.Equal(t, 5*time.Second, cfg.Services[0].Timeout)
		assert.Equal(t, "ws://reviews:4002/graphql", cfg.Services[1].WSURL)
		assert.Equal(t, []string{"graphql-transport-ws"}, cfg.Subscriptions.Protocols)
		assert.Equal(t, 5, cfg.Subscriptions.MaxReconnectAttempts)
	})

	t.Run("json", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "gateway.json", `{"services":[{"name":"accounts","url":"http://accounts/graphql"}]}`))
		require.NoError(t, err)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Len(t, cfg.Services, 1)
		assert.Equal(t, subscriptionclient.UnlimitedReconnectAttempts, cfg.Subscriptions.MaxReconnectAttempts)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("GATEWAY_LOG_LEVEL", "warn")
		t.Setenv("GATEWAY_SUBSCRIPTIONS_MAX_RECONNECT_ATTEMPTS", "2")

		cfg, err := Load(writeConfig(t, "gateway.yaml", gatewayYAML))
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, 2, cfg.Subscriptions.MaxReconnectAttempts)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid services", func(t *testing.T) {
		_, err := Load(writeConfig(t, "gateway.yaml", `
services:
  - name: accounts
    url: ftp://accounts/graphql
`))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestConfig_Validate(t *testing.T) {
	for name, tc := range map[string]struct {
		cfg   Config
		valid bool
	}{
		"valid": {
			cfg:   Config{Services: []Service{{Name: "a", URL: "http://a/graphql", WSURL: "wss://a/graphql"}}},
			valid: true,
		},
		"no services": {
			cfg:   Config{},
			valid: true,
		},
		"missing name": {
			cfg: Config{Services: []Service{{URL: "http://a/graphql"}}},
		},
		"duplicate name": {
			cfg: Config{Services: []Service{{Name: "a", URL: "http://a/graphql"}, {Name: "a", URL: "http://b/graphql"}}},
		},
		"missing host": {
			cfg: Config{Services: []Service{{Name: "a", URL: "http:///graphql"}}},
		},
		"invalid ws scheme": {
			cfg: Config{Services: []Service{{Name: "a", URL: "http://a/graphql", WSURL: "tcp://a:4000"}}},
		},
		"negative timeout": {
			cfg: Config{Services: []Service{{Name: "a", URL: "http://a/graphql", Timeout: -time.Second}}},
		},
		"unlimited reconnect attempts": {
			cfg:   Config{Subscriptions: Subscriptions{MaxReconnectAttempts: subscriptionclient.UnlimitedReconnectAttempts}},
			valid: true,
		},
		"invalid reconnect attempts": {
			cfg: Config{Subscriptions: Subscriptions{MaxReconnectAttempts: -2}},
		},
	} {
		t.Run(name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfig_ServiceDescriptors(t *testing.T) {
	cfg, err := Load(writeConfig(t, "gateway.yaml", gatewayYAML))
	require.NoError(t, err)

	assert.Equal(t, []servicemap.ServiceDescriptor{
		{
			Name:    "accounts",
			URL:     "http://accounts:4001/graphql",
			Headers: http.Header{"Authorization": []string{"Bearer secret"}},
			Timeout: 5 * time.Second,
		},
		{
			Name:  "reviews",
			URL:   "https://reviews:4002/graphql",
			WSURL: "ws://reviews:4002/graphql",
		},
	}, cfg.ServiceDescriptors())

	subscriptions := cfg.SubscriptionConfig()
	assert.Equal(t, []string{"graphql-transport-ws"}, subscriptions.Protocols)
	assert.Equal(t, 5, subscriptions.MaxReconnectAttempts)
}
