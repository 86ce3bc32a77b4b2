// Package config loads the metadata store connection parameters from the
// environment and an optional dotenv file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fortiblox/block-meta-rpc/pkg/metastore"
)

// EnvPrefix namespaces every variable read by Load.
const EnvPrefix = "SVC"

// PathEnv names the variable holding the dotenv file path.
const PathEnv = EnvPrefix + "_CONFIG_PATH"

// DefaultPath is read when PathEnv is unset.
const DefaultPath = ".env"

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the MySQL connection parameters.
type Config struct {
	MySQLHost     string `mapstructure:"mysql_host"`
	MySQLPort     uint16 `mapstructure:"mysql_port"`
	MySQLUser     string `mapstructure:"mysql_user"`
	MySQLPassword string `mapstructure:"mysql_password"`
	MySQLName     string `mapstructure:"mysql_name"`
}

// Load reads the dotenv file named by SVC_CONFIG_PATH (default .env) and the
// SVC_* environment. The environment wins over the file. A missing file is
// not an error.
func Load() (*Config, error) {
	path := os.Getenv(PathEnv)
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile is Load with an explicit dotenv path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := mergeDotenv(v, path); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so that AutomaticEnv sees it on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mysql_host", "")
	v.SetDefault("mysql_port", 3306)
	v.SetDefault("mysql_user", "")
	v.SetDefault("mysql_password", "")
	v.SetDefault("mysql_name", "")
}

// mergeDotenv layers the file's values over the defaults. Keys may carry the
// SVC_ prefix or not.
func mergeDotenv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat config file %s: %w", path, err)
	}

	f := viper.New()
	f.SetConfigFile(path)
	f.SetConfigType("env")
	if err := f.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	prefix := strings.ToLower(EnvPrefix) + "_"
	for _, key := range f.AllKeys() {
		v.SetDefault(strings.TrimPrefix(key, prefix), f.Get(key))
	}
	return nil
}

// Validate checks that the connection parameters are usable.
func (c *Config) Validate() error {
	if c.MySQLHost == "" {
		return fmt.Errorf("%w: %s_MYSQL_HOST is required", ErrInvalid, EnvPrefix)
	}
	if c.MySQLPort == 0 {
		return fmt.Errorf("%w: %s_MYSQL_PORT must be non-zero", ErrInvalid, EnvPrefix)
	}
	if c.MySQLName == "" {
		return fmt.Errorf("%w: %s_MYSQL_NAME is required", ErrInvalid, EnvPrefix)
	}
	return nil
}

// MetaStore returns a read-only MySQL store configuration for these
// parameters.
func (c *Config) MetaStore(timeout time.Duration) metastore.Config {
	store := metastore.DefaultConfig()
	store.Host = c.MySQLHost
	store.Port = c.MySQLPort
	store.Username = c.MySQLUser
	store.Password = c.MySQLPassword
	store.DBName = c.MySQLName
	store.Timeout = timeout
	return store
}
