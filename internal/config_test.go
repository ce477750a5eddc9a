package internal

import (
	"testing"
	"time"

	"github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"
)

func TestClientConfig_Defaults_And_URLs(t *testing.T) {
	req := require.New(t)

	// Given the user and the host are configured
	t.Setenv("CHAT_USER_ID", "u1")
	t.Setenv("CHAT_HOST", "chat.example.org")
	t.Setenv("CHAT_PORT", "8443")
	t.Setenv("CHAT_SECURE", "true")
	var cfg ClientConfig
	_, err := env.UnmarshalFromEnviron(&cfg)
	req.NoError(err)

	// Then the secure endpoints are derived from host and port
	req.Equal("wss://chat.example.org:8443", cfg.SocketBaseURI())
	req.Equal("https://chat.example.org:8443", cfg.HistoryBaseURL())
	req.Equal(time.Second, cfg.PollInterval)
	req.Equal(10*time.Second, cfg.AckTimeout)

	// And the insecure flavour switches both schemes
	cfg.Secure = false
	req.Equal("ws://chat.example.org:8443", cfg.SocketBaseURI())
	req.Equal("http://chat.example.org:8443", cfg.HistoryBaseURL())
}

func TestClientConfig_ReconnectPolicy(t *testing.T) {
	req := require.New(t)
	cfg := ClientConfig{
		ReconnectInitialInterval: time.Second,
		ReconnectMaxInterval:     time.Minute,
		ReconnectMaxRetries:      3,
	}

	policy := cfg.ReconnectPolicy()

	req.Equal(time.Second, policy.InitialInterval)
	req.Equal(time.Minute, policy.MaxInterval)
	req.Equal(uint64(3), policy.MaxRetries)
	req.Equal(time.Second, policy.CheckInterval)
}

func TestServerConfig(t *testing.T) {
	req := require.New(t)
	t.Setenv("BADGER_FILEPATH", t.TempDir())
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "9000")
	t.Setenv("LIMIT_MESSAGES", "25")

	var cfg ServerConfig
	_, err := env.UnmarshalFromEnviron(&cfg)
	req.NoError(err)

	req.Equal("0.0.0.0:9000", cfg.Addr())
	req.False(cfg.TLSEnabled())
	req.NotNil(cfg.LimitMessages)
	req.Equal(25, *cfg.LimitMessages)
	req.Equal(60*time.Second, cfg.PongWait)
}
