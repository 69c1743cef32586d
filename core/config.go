package core

import (
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type (
	Config struct {
		Env              string        `mapstructure:"env"`
		Build            string        `mapstructure:"build"`
		Debug            bool          `mapstructure:"debug"`
		TestMode         bool          `mapstructure:"testMode"`
		AppName          string        `mapstructure:"appName"`
		Namespace        string        `mapstructure:"namespace"`
		AdminEmails      []string      `mapstructure:"adminEmails"`
		NoticeTimeout    time.Duration `mapstructure:"noticeTimeout"`
		SecretKey        string        `mapstructure:"secretKey"`
		FrontendBaseURL  string        `mapstructure:"frontendBaseURL"`
		DefaultFromEmail string        `mapstructure:"defaultFromEmail"`
		RollbarToken     string        `mapstructure:"rollbarToken"`
		SendgridApiKey   string        `mapstructure:"sendgridApiKey"`

		Server   ServerConfig   `mapstructure:"server"`
		Identity IdentityConfig `mapstructure:"identity"`
		Store    StoreConfig    `mapstructure:"store"`
		Database DatabaseConfig `mapstructure:"database"`
		Redis    RedisConfig    `mapstructure:"redis"`
	}

	ServerConfig struct {
		Host            string        `mapstructure:"host"`
		DebugHost       string        `mapstructure:"debugHost"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
		TokenTTL        time.Duration `mapstructure:"tokenTTL"`
	}

	// IdentityConfig describes how federated ID tokens are verified.
	// PublicKeyPEM (RS256) takes precedence over SharedSecret (HS256).
	IdentityConfig struct {
		Issuer       string `mapstructure:"issuer"`
		Audience     string `mapstructure:"audience"`
		SharedSecret string `mapstructure:"sharedSecret"`
		PublicKeyPEM string `mapstructure:"publicKeyPEM"`
	}

	StoreConfig struct {
		Backend string `mapstructure:"backend"`
	}

	DatabaseConfig struct {
		Engine     string `mapstructure:"engine"`
		Host       string `mapstructure:"host"`
		Port       string `mapstructure:"port"`
		Name       string `mapstructure:"name"`
		User       string `mapstructure:"user"`
		Password   string `mapstructure:"password"`
		DisableTLS bool   `mapstructure:"disableTLS"`
	}

	RedisConfig struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	}
)

func (c DatabaseConfig) Address() string {
	if c.Port == "" {
		return c.Host
	}
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) DefaultFromAddress() mail.Address {
	if addr, err := mail.ParseAddress(c.DefaultFromEmail); err == nil {
		return *addr
	}
	return mail.Address{Name: c.AppName, Address: c.DefaultFromEmail}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "DEV")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "MemberHub")
	v.SetDefault("namespace", "memberhub")
	v.SetDefault("adminEmails", []string{})
	v.SetDefault("noticeTimeout", 5*time.Second)
	v.SetDefault("secretKey", "t0p-s3cr3t-d3v-k3y(change-me)")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.tokenTTL", 7*24*time.Hour)

	v.SetDefault("identity.issuer", "")
	v.SetDefault("identity.audience", "")
	v.SetDefault("identity.sharedSecret", "")
	v.SetDefault("identity.publicKeyPEM", "")

	v.SetDefault("store.backend", StoreMemory)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.disableTLS", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
}

// NewConfig loads the configuration from defaults, an optional `config/.env.<env>` file and the environment.
// Environment variables are prefixed with the upper-cased env name, e.g. DEV_NAMESPACE or PROD_DATABASE_HOST.
func NewConfig() (*Config, error) {
	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}

	// load .env if it exists (ignore if it does not)
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "config"
	}
	dotEnvPath := filepath.Join(dir, ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking %s", dotEnvPath)
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v)
	if env == "TEST" {
		v.SetDefault("testMode", true)
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	conf := new(Config)
	if err := v.Unmarshal(conf); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	conf.Env = env
	conf.AdminEmails = splitList(conf.AdminEmails)
	return conf, nil
}

// Validate checks that the selected store backend is fully configured.
func (c *Config) Validate() error {
	if CleanString(c.Namespace) == "" {
		return NewConfigError("namespace", "is required")
	}
	if strings.ContainsAny(c.Namespace, `/*?[\`) {
		return NewConfigError("namespace", `must not contain any of / * ? [ \`)
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres:
		if c.Database.Host == "" {
			return NewConfigError("database.host", "is required by the postgres store")
		}
		if c.Database.Name == "" {
			return NewConfigError("database.name", "is required by the postgres store")
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			return NewConfigError("redis.addr", "is required by the redis store")
		}
	default:
		return NewConfigError("store.backend", "unknown backend "+c.Store.Backend)
	}

	if c.NoticeTimeout <= 0 {
		return NewConfigError("noticeTimeout", "must be positive")
	}
	return nil
}

// splitList flattens comma separated entries and drops blanks.
func splitList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		for _, s := range strings.Split(item, ",") {
			if s = CleanString(s, true /* lower */); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
