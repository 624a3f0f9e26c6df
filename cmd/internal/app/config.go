package app

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gatehouse/cmd/internal/auth/api"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/internal/realtime"
	"gatehouse/cmd/security/password"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config contains all runtime configuration.
//
// Precedence: DefaultConfig < YAML file < GATEHOUSE_* environment.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json | pretty

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseDriver string
	DatabaseURL    string
	SQLitePath     string
	DBSchema       string
	DBMaxConns     int32
	DBMinConns     int32
	AutoMigrate    bool
	StoreTimeout   time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	Session  session.Config
	Auth     api.Config
	Password password.Config
	WS       realtime.Config
}

func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,

		DatabaseDriver: DriverSQLite,
		SQLitePath:     filepath.Join("data", "gatehouse.db"),
		DBSchema:       "gatehouse",
		DBMaxConns:     10,
		StoreTimeout:   3 * time.Second,

		CORSMaxAgeSeconds: 600,

		Session:  session.DefaultConfig(),
		Auth:     api.DefaultConfig(),
		Password: password.DefaultConfig(),
		WS:       realtime.DefaultConfig(),
	}
}

// LoadConfig builds the runtime configuration. path may be empty, in which case
// GATEHOUSE_CONFIG is consulted; with neither set only defaults and env apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = EnvString("GATEHOUSE_CONFIG", "")
	}
	if path != "" {
		fc, err := readConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := fc.applyTo(&cfg); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = EnvString("GATEHOUSE_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = EnvString("GATEHOUSE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = EnvString("GATEHOUSE_LOG_FORMAT", c.LogFormat)

	c.ReadHeaderTimeout = EnvDuration("GATEHOUSE_HTTP_READ_HEADER_TIMEOUT", c.ReadHeaderTimeout)
	c.ReadTimeout = EnvDuration("GATEHOUSE_HTTP_READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = EnvDuration("GATEHOUSE_HTTP_WRITE_TIMEOUT", c.WriteTimeout)
	c.IdleTimeout = EnvDuration("GATEHOUSE_HTTP_IDLE_TIMEOUT", c.IdleTimeout)
	c.ShutdownTimeout = EnvDuration("GATEHOUSE_HTTP_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.MaxHeaderBytes = EnvInt("GATEHOUSE_HTTP_MAX_HEADER_BYTES", c.MaxHeaderBytes)

	if v := EnvString("GATEHOUSE_DATABASE_URL", ""); v != "" {
		c.DatabaseURL = v
		c.DatabaseDriver = DriverPostgres
	}
	c.DatabaseDriver = strings.ToLower(EnvString("GATEHOUSE_DATABASE_DRIVER", c.DatabaseDriver))
	c.SQLitePath = EnvString("GATEHOUSE_SQLITE_PATH", c.SQLitePath)
	c.DBSchema = EnvString("GATEHOUSE_DB_SCHEMA", c.DBSchema)
	c.DBMaxConns = EnvInt32("GATEHOUSE_DB_MAX_CONNS", c.DBMaxConns)
	c.DBMinConns = EnvInt32("GATEHOUSE_DB_MIN_CONNS", c.DBMinConns)
	c.AutoMigrate = EnvBool("GATEHOUSE_DB_AUTO_MIGRATE", c.AutoMigrate)
	c.StoreTimeout = EnvDuration("GATEHOUSE_STORE_TIMEOUT", c.StoreTimeout)

	c.CORSAllowedOrigins = EnvCSV("GATEHOUSE_CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)
	c.CORSAllowCredentials = EnvBool("GATEHOUSE_CORS_ALLOW_CREDENTIALS", c.CORSAllowCredentials)
	c.CORSMaxAgeSeconds = EnvInt("GATEHOUSE_CORS_MAX_AGE_SECONDS", c.CORSMaxAgeSeconds)

	// Token settings are validated at startup by ValidateSecurityConfig, not here,
	// so that commands which never touch tokens run without a secret.
	c.Session = c.Session.WithEnv()

	c.Auth = c.Auth.WithEnv()
	c.WS = c.WS.WithEnv()

	pw, err := c.Password.WithEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Password = pw
	return nil
}

func (c Config) check() error {
	switch c.DatabaseDriver {
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("config: database driver %q requires a database url", c.DatabaseDriver)
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("config: database driver %q requires a sqlite path", c.DatabaseDriver)
		}
	default:
		return fmt.Errorf("config: unknown database driver %q", c.DatabaseDriver)
	}
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
}

// ---- YAML file ----

// fileConfig mirrors the YAML layout. Zero values leave the current setting alone.
type fileConfig struct {
	HTTP struct {
		Addr              string   `yaml:"addr"`
		ReadHeaderTimeout duration `yaml:"read_header_timeout"`
		ReadTimeout       duration `yaml:"read_timeout"`
		WriteTimeout      duration `yaml:"write_timeout"`
		IdleTimeout       duration `yaml:"idle_timeout"`
		ShutdownTimeout   duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Database struct {
		Driver       string   `yaml:"driver"`
		URL          string   `yaml:"url"`
		SQLitePath   string   `yaml:"sqlite_path"`
		Schema       string   `yaml:"schema"`
		MaxConns     int32    `yaml:"max_conns"`
		MinConns     int32    `yaml:"min_conns"`
		AutoMigrate  *bool    `yaml:"auto_migrate"`
		StoreTimeout duration `yaml:"store_timeout"`
	} `yaml:"database"`

	Token struct {
		Algorithm      string `yaml:"algorithm"`
		Secret         string `yaml:"secret"`
		Header         string `yaml:"header"`
		HandshakeParam string `yaml:"handshake_param"`
	} `yaml:"token"`

	CORS struct {
		AllowedOrigins   []string `yaml:"allowed_origins"`
		AllowCredentials *bool    `yaml:"allow_credentials"`
		MaxAgeSeconds    int      `yaml:"max_age_seconds"`
	} `yaml:"cors"`

	Auth struct {
		TrustProxy    *bool    `yaml:"trust_proxy"`
		MaxBodyBytes  int64    `yaml:"max_body_bytes"`
		LoginIPMax    int      `yaml:"login_ip_max"`
		LoginIPWindow duration `yaml:"login_ip_window"`
	} `yaml:"auth"`

	Password struct {
		Scheme string `yaml:"scheme"`
	} `yaml:"password"`

	WS struct {
		OriginRequired    *bool    `yaml:"origin_required"`
		AllowedOrigins    []string `yaml:"allowed_origins"`
		HeartbeatInterval duration `yaml:"heartbeat_interval"`
		ReadIdleTimeout   duration `yaml:"read_idle_timeout"`
		RateEvents        int      `yaml:"rate_events"`
		RateWindow        duration `yaml:"rate_window"`
	} `yaml:"ws"`
}

// duration accepts Go duration strings ("15s", "2m").
type duration time.Duration

func (d *duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = duration(v)
	return nil
}

var envRefRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvRefs replaces ${VAR} with the value of VAR. Bare $VAR is left alone.
func expandEnvRefs(s string) string {
	return envRefRe.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRefRe.FindStringSubmatch(m)[1])
	})
}

func readConfigFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- operator-supplied path.
	if err != nil {
		return fileConfig{}, fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(strings.NewReader(expandEnvRefs(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fileConfig{}, fmt.Errorf("parsing config file: %w", err)
	}
	return fc, nil
}

func (fc fileConfig) applyTo(c *Config) error {
	setString(&c.HTTPAddr, fc.HTTP.Addr)
	setDuration(&c.ReadHeaderTimeout, fc.HTTP.ReadHeaderTimeout)
	setDuration(&c.ReadTimeout, fc.HTTP.ReadTimeout)
	setDuration(&c.WriteTimeout, fc.HTTP.WriteTimeout)
	setDuration(&c.IdleTimeout, fc.HTTP.IdleTimeout)
	setDuration(&c.ShutdownTimeout, fc.HTTP.ShutdownTimeout)

	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFormat, fc.Log.Format)

	setString(&c.DatabaseURL, fc.Database.URL)
	if fc.Database.URL != "" {
		c.DatabaseDriver = DriverPostgres
	}
	setString(&c.DatabaseDriver, strings.ToLower(fc.Database.Driver))
	setString(&c.SQLitePath, fc.Database.SQLitePath)
	setString(&c.DBSchema, fc.Database.Schema)
	if fc.Database.MaxConns > 0 {
		c.DBMaxConns = fc.Database.MaxConns
	}
	if fc.Database.MinConns > 0 {
		c.DBMinConns = fc.Database.MinConns
	}
	setBool(&c.AutoMigrate, fc.Database.AutoMigrate)
	setDuration(&c.StoreTimeout, fc.Database.StoreTimeout)

	setString(&c.Session.TokenAlgorithm, fc.Token.Algorithm)
	setString(&c.Session.TokenSecret, fc.Token.Secret)
	setString(&c.Session.TokenHeader, fc.Token.Header)
	setString(&c.Session.HandshakeParam, fc.Token.HandshakeParam)

	if len(fc.CORS.AllowedOrigins) > 0 {
		c.CORSAllowedOrigins = fc.CORS.AllowedOrigins
	}
	setBool(&c.CORSAllowCredentials, fc.CORS.AllowCredentials)
	if fc.CORS.MaxAgeSeconds > 0 {
		c.CORSMaxAgeSeconds = fc.CORS.MaxAgeSeconds
	}

	setBool(&c.Auth.TrustProxy, fc.Auth.TrustProxy)
	if fc.Auth.MaxBodyBytes > 0 {
		c.Auth.MaxBodyBytes = fc.Auth.MaxBodyBytes
	}
	if fc.Auth.LoginIPMax > 0 {
		c.Auth.LoginIPMax = fc.Auth.LoginIPMax
	}
	setDuration(&c.Auth.LoginIPWindow, fc.Auth.LoginIPWindow)

	if fc.Password.Scheme != "" {
		s, err := password.ParseScheme(fc.Password.Scheme)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		c.Password.Scheme = s
	}

	setBool(&c.WS.OriginRequired, fc.WS.OriginRequired)
	if len(fc.WS.AllowedOrigins) > 0 {
		c.WS.AllowedOrigins = fc.WS.AllowedOrigins
	}
	setDuration(&c.WS.HeartbeatInterval, fc.WS.HeartbeatInterval)
	setDuration(&c.WS.ReadIdleTimeout, fc.WS.ReadIdleTimeout)
	if fc.WS.RateEvents > 0 {
		c.WS.RateEvents = fc.WS.RateEvents
	}
	setDuration(&c.WS.RateWindow, fc.WS.RateWindow)
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v duration) {
	if v > 0 {
		*dst = time.Duration(v)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
