package licenseserver

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config configures the license service. Fields carry mapstructure tags for
// viper and envconfig tags for ISUL_SERVER_* environment variables.
type Config struct {
	Addr          string        `mapstructure:"addr" envconfig:"ADDR" default:":8080"`
	CatalogPath   string        `mapstructure:"catalog" envconfig:"CATALOG" default:"licenses.yaml"`
	PrivateKey    string        `mapstructure:"private_key" envconfig:"PRIVATE_KEY"` // base64 Ed25519 seed or key
	TokenTTL      time.Duration `mapstructure:"token_ttl" envconfig:"TOKEN_TTL" default:"720h"`
	StaleAfter    time.Duration `mapstructure:"stale_after" envconfig:"STALE_AFTER" default:"0"`
	PruneInterval time.Duration `mapstructure:"prune_interval" envconfig:"PRUNE_INTERVAL" default:"1h"`
	AdminToken    string        `mapstructure:"admin_token" envconfig:"ADMIN_TOKEN"`
	Issuer        string        `mapstructure:"issuer" envconfig:"ISSUER" default:"isul-licenseserver"`

	Registry      string `mapstructure:"registry" envconfig:"REGISTRY" default:"memory"` // memory, postgres or mongo
	DatabaseURL   string `mapstructure:"database_url" envconfig:"DATABASE_URL"`
	MongoURI      string `mapstructure:"mongo_uri" envconfig:"MONGO_URI"`
	MongoDatabase string `mapstructure:"mongo_database" envconfig:"MONGO_DATABASE" default:"isul"`
}

// LoadConfig reads Config from ISUL_SERVER_* environment variables.
func LoadConfig() (Config, error) {
	var c Config
	if err := envconfig.Process("ISUL_SERVER", &c); err != nil {
		return Config{}, fmt.Errorf("load server config: %w", err)
	}
	return c, nil
}
