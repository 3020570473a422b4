package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	MongoURIKey              = "MONGO_URI"
	MongoHostKey             = "MONGO_HOST"
	MongoPortKey             = "MONGO_PORT"
	MongoUserKey             = "MONGO_USER"
	MongoPasswordKey         = "MONGO_PASSWORD" //nolint:gosec
	MongoAuthSourceKey       = "MONGO_AUTH_SOURCE"
	MongoAuthMechanismKey    = "MONGO_AUTH_MECHANISM"
	MongoConnectTimeoutKey   = "MONGO_CONNECT_TIMEOUT"
	MongoOperationTimeoutKey = "MONGO_OPERATION_TIMEOUT"
	JournalPathKey           = "PROVISION_JOURNAL"
	JournalBackupsKey        = "PROVISION_JOURNAL_BACKUPS"
	LogLevelKey              = "LOG_LEVEL"

	defaultHost             = "localhost"
	defaultPort             = 27017
	defaultAuthSource       = "admin"
	defaultConnectTimeout   = 15 * time.Second
	defaultOperationTimeout = 30 * time.Second
	defaultJournalPath      = "provision.db"
	defaultJournalBackups   = 5
	defaultLogLevel         = "info"
)

// Config holds how to reach the MongoDB server and where to keep the run
// journal. The declarations applied to the server are not configurable.
type Config struct {
	URI              string
	Host             string
	Port             int
	User             string
	Password         string
	AuthSource       string
	AuthMechanism    string
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	JournalPath      string
	JournalBackups   int
	LogLevel         string
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(MongoHostKey, defaultHost)
	v.SetDefault(MongoPortKey, defaultPort)
	v.SetDefault(MongoAuthSourceKey, defaultAuthSource)
	v.SetDefault(MongoConnectTimeoutKey, defaultConnectTimeout)
	v.SetDefault(MongoOperationTimeoutKey, defaultOperationTimeout)
	v.SetDefault(JournalPathKey, defaultJournalPath)
	v.SetDefault(JournalBackupsKey, defaultJournalBackups)
	v.SetDefault(LogLevelKey, defaultLogLevel)
}

// Load reads defaults, then the optional config file, then the environment.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	v.AutomaticEnv() // binds environment variables to viper config
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		URI:              v.GetString(MongoURIKey),
		Host:             v.GetString(MongoHostKey),
		Port:             v.GetInt(MongoPortKey),
		User:             v.GetString(MongoUserKey),
		Password:         v.GetString(MongoPasswordKey),
		AuthSource:       v.GetString(MongoAuthSourceKey),
		AuthMechanism:    v.GetString(MongoAuthMechanismKey),
		ConnectTimeout:   v.GetDuration(MongoConnectTimeoutKey),
		OperationTimeout: v.GetDuration(MongoOperationTimeoutKey),
		JournalPath:      v.GetString(JournalPathKey),
		JournalBackups:   v.GetInt(JournalBackupsKey),
		LogLevel:         v.GetString(LogLevelKey),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every setting that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	if c.URI == "" {
		if c.Host == "" {
			errs = append(errs, fmt.Errorf("config: %s or %s must be set", MongoURIKey, MongoHostKey))
		}
		if c.Port <= 0 || c.Port > 65535 {
			errs = append(errs, fmt.Errorf("config: %s %d is out of range", MongoPortKey, c.Port))
		}
	}
	if c.User == "" && c.Password != "" {
		errs = append(errs, fmt.Errorf("config: %s is set without %s", MongoPasswordKey, MongoUserKey))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("config: %s must be positive", MongoConnectTimeoutKey))
	}
	if c.OperationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("config: %s must be positive", MongoOperationTimeoutKey))
	}
	if c.JournalBackups < 0 {
		errs = append(errs, fmt.Errorf("config: %s must not be negative", JournalBackupsKey))
	}
	return errors.Join(errs...)
}

// ConnectionURI returns the configured URI, or one built from host and port.
func (c *Config) ConnectionURI() string {
	if c.URI != "" {
		return c.URI
	}
	return fmt.Sprintf("mongodb://%s:%d/", c.Host, c.Port)
}
