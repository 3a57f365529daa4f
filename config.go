package qavault

import (
	"time"

	"github.com/dpup/qavault/internal/config"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Filename of the standard configuration file.
const ConfigFile = "qavault.yaml"

// ConfigKeyInfo contains metadata about a known configuration key.
type ConfigKeyInfo = config.KeyInfo

// Config is a global koanf instance used to access application level
// configuration options.
//
// Config is loaded in the following order (later sources override earlier):
// 1. Auto-discovered qavault.yaml (in init())
// 2. Environment variables with QV__ prefix (in init())
// 3. Additional sources loaded via LoadConfigFile() or LoadConfigDefaults()
//
// Registered defaults fill in whatever none of the sources set.
//
// Environment variable transformation:
//   - QV__API__BASE_URL → api.baseUrl
//   - QV__AUTH__SIGNING_KEY → auth.signingKey
var Config = koanf.New(".")

const (
	defaultHost    = "localhost"
	defaultPort    = 8000
	defaultBaseURL = "http://localhost:8000"
)

func init() {
	registerCoreConfigKeys()

	// Look for a qavault.yaml file in the current directory or any parent.
	if cfg := config.SearchForConfig(ConfigFile, "."); cfg != "" {
		if err := Config.Load(file.Provider(cfg), yaml.Parser()); err != nil {
			panic("error loading config: " + err.Error())
		}
	}

	if err := Config.Load(env.Provider(config.EnvPrefix, ".", config.TransformEnv), nil); err != nil {
		panic("error loading env config: " + err.Error())
	}

	config.ApplyDefaults(Config)
}

// RegisterConfigKeys registers known configuration keys with metadata so
// they can be validated and documented.
func RegisterConfigKeys(infos ...ConfigKeyInfo) {
	config.RegisterKeys(infos...)
	config.ApplyDefaults(Config)
}

// LoadConfigFile loads additional configuration from a YAML file into the
// global Config instance, typically from a --config flag.
func LoadConfigFile(path string) error {
	if err := Config.Load(file.Provider(path), yaml.Parser()); err != nil {
		return err
	}
	return nil
}

// LoadConfigDefaults loads configuration values into the global Config
// instance, overriding values from earlier sources.
//
// Example:
//
//	qavault.LoadConfigDefaults(map[string]interface{}{
//	    "api.baseUrl": "https://vault.example.com",
//	})
func LoadConfigDefaults(values map[string]interface{}) error {
	return Config.Load(confmap.Provider(values, "."), nil)
}

// ConfigWarnings returns a human readable description of unknown keys in the
// loaded configuration, or an empty string when every key is known.
func ConfigWarnings() string {
	return config.FormatWarnings(config.ValidateKeys(Config))
}

// ConfigString returns the string value for the given key.
func ConfigString(key string) string {
	return Config.String(key)
}

// ConfigInt returns the int value for the given key.
func ConfigInt(key string) int {
	return Config.Int(key)
}

// ConfigBool returns the bool value for the given key.
func ConfigBool(key string) bool {
	return Config.Bool(key)
}

// ConfigDuration returns the duration value for the given key.
// Duration strings like "5m", "1h", "30s" are parsed automatically.
func ConfigDuration(key string) time.Duration {
	return Config.Duration(key)
}

// ConfigStrings returns the string slice value for the given key.
func ConfigStrings(key string) []string {
	return Config.Strings(key)
}

// ConfigBytes returns the byte slice value for the given key.
func ConfigBytes(key string) []byte {
	return Config.Bytes(key)
}

// ConfigExists checks if the given key exists in the configuration.
func ConfigExists(key string) bool {
	return Config.Exists(key)
}

// registerCoreConfigKeys registers every key used by the client and the
// server. This is called from init() before any config loading happens.
func registerCoreConfigKeys() {
	registerClientConfigKeys()
	registerServerConfigKeys()
}

func registerClientConfigKeys() {
	config.RegisterKeys(
		ConfigKeyInfo{
			Key:         "api.baseUrl",
			Description: "Base URL of the qavault backend",
			Type:        "string",
			Default:     defaultBaseURL,
		},
		ConfigKeyInfo{
			Key:         "api.timeout",
			Description: "Timeout for a single backend request",
			Type:        "duration",
			Default:     "15s",
		},
		ConfigKeyInfo{
			Key:         "google.clientId",
			Description: "OAuth client ID used by the CLI sign-in flow, discovered from the backend when unset",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "google.clientSecret",
			Description: "OAuth client secret for the installed-app client",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "session.backend",
			Description: "Where the session is kept: sqlite or memory",
			Type:        "string",
			Default:     "sqlite",
		},
		ConfigKeyInfo{
			Key:         "session.path",
			Description: "Path of the session database, defaults to the user config directory",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "log.format",
			Description: "Log output: dev, prod or none",
			Type:        "string",
			Default:     "dev",
		},
	)
}

func registerServerConfigKeys() {
	config.RegisterKeys(
		ConfigKeyInfo{
			Key:         "server.host",
			Description: "Host to bind the server to",
			Type:        "string",
			Default:     defaultHost,
		},
		ConfigKeyInfo{
			Key:         "server.port",
			Description: "Port to bind the server to",
			Type:        "int",
			Default:     defaultPort,
		},
		ConfigKeyInfo{
			Key:         "server.corsOrigins",
			Description: "Allowed CORS origins",
			Type:        "[]string",
		},
		ConfigKeyInfo{
			Key:         "auth.signingKey",
			Description: "HS256 key used to sign access tokens",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "auth.tokenExpiration",
			Description: "Lifetime of issued access tokens",
			Type:        "duration",
			Default:     "24h",
		},
		ConfigKeyInfo{
			Key:         "auth.google.clientId",
			Description: "OAuth client ID that Google ID tokens must be issued for",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "database.driver",
			Description: "Vault database driver: postgres or sqlite3",
			Type:        "string",
			Default:     "sqlite3",
		},
		ConfigKeyInfo{
			Key:         "database.url",
			Description: "Vault database connection string or file path",
			Type:        "string",
			Default:     "qavault.db",
		},
		ConfigKeyInfo{
			Key:         "blocklist.path",
			Description: "SQLite file for revoked tokens, kept in memory when unset",
			Type:        "string",
		},
	)
}
