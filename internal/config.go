package internal

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"konnekt-chat/runtime/workers"
)

// ClientConfig drives the chat CLI. Host, port and the secure flag are
// process wide: every socket and history call of the process uses them.
type ClientConfig struct {
	Host   string `env:"CHAT_HOST,default=localhost"`
	Port   int    `env:"CHAT_PORT,default=8443"`
	Secure bool   `env:"CHAT_SECURE,default=true"`

	UserID string `env:"CHAT_USER_ID,required=true"`
	Token  string `env:"CHAT_TOKEN"`
	// JWTSecret lets the CLI mint its own token against a dev server.
	JWTSecret     string        `env:"JWT_SECRET"`
	TokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT,default=60s"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT,default=60s"`
	BufferSize     int           `env:"BUFFER_SIZE,default=64"`
	PollInterval   time.Duration `env:"POLL_INTERVAL,default=1s"`
	AckTimeout     time.Duration `env:"ACK_TIMEOUT,default=10s"`

	ReconnectInitialInterval time.Duration `env:"RECONNECT_INITIAL_INTERVAL,default=500ms"`
	ReconnectMaxInterval     time.Duration `env:"RECONNECT_MAX_INTERVAL,default=30s"`
	ReconnectMaxRetries      int           `env:"RECONNECT_MAX_RETRIES,default=10"`

	LogLevel string `env:"LOG_LEVEL,default=INFO"`
}

func (c ClientConfig) hostPort() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SocketBaseURI returns ws(s)://host:port.
func (c ClientConfig) SocketBaseURI() string {
	scheme := "ws"
	if c.Secure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s", scheme, c.hostPort())
}

// HistoryBaseURL returns http(s)://host:port.
func (c ClientConfig) HistoryBaseURL() string {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.hostPort())
}

func (c ClientConfig) ReconnectPolicy() workers.ReconnectPolicy {
	policy := workers.DefaultReconnectPolicy()
	policy.InitialInterval = c.ReconnectInitialInterval
	policy.MaxInterval = c.ReconnectMaxInterval
	policy.MaxRetries = uint64(max(c.ReconnectMaxRetries, 0))
	return policy
}

// ServerConfig drives the development chat server.
type ServerConfig struct {
	Host string `env:"HOST,default=0.0.0.0"`
	Port int    `env:"PORT,default=8443"`
	// TLS is served when both files are set.
	TLSCertFile string `env:"TLS_CERT_FILE"`
	TLSKeyFile  string `env:"TLS_KEY_FILE"`

	BadgerFilepath string        `env:"BADGER_FILEPATH,required=true"`
	LimitMessages  *int          `env:"LIMIT_MESSAGES"`
	JWTSecret      string        `env:"JWT_SECRET"`
	PongWait       time.Duration `env:"PONG_WAIT,default=60s"`
	BufferSize     int           `env:"CONNECTION_BUFFER_SIZE,default=128"`
	DebugInspect   bool          `env:"DEBUG_INSPECT,default=false"`
	ShutdownGrace  time.Duration `env:"SHUTDOWN_GRACE,default=5s"`
	LogLevel       string        `env:"LOG_LEVEL,default=INFO"`
}

func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c ServerConfig) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}
