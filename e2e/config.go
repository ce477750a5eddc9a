package e2e

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_SERVER_URL targets a running server (https://host:port). When empty
	// the suite starts an in-process dev server.
	ServerURL string `envconfig:"E2E_SERVER_URL"`
	// E2E_JWT_SECRET must match the server's JWT_SECRET
	JWTSecret string `envconfig:"E2E_JWT_SECRET" default:"e2e-local-secret-value"`
	// E2E_DEBUG_JSON dumps session snapshots as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool          `envconfig:"E2E_COLOURS" default:"true"`
	Timeout time.Duration `envconfig:"E2E_TIMEOUT" default:"5s"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
