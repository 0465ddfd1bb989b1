package config

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAPIURL       = "http://127.0.0.1:8080"
	DefaultDBFileName   = "mycloud.db"
	DefaultStorageDir   = "blobs"
	DefaultLogLevel     = "info"
	DefaultCacheBackend = CacheBackendMemory

	DefaultPendingTTL    = time.Hour
	DefaultSweepInterval = 10 * time.Minute

	DefaultMaxUploadBytes     int64 = 100 * 1024 * 1024
	DefaultMaxFilesPerUser          = 1000
	DefaultMultipartMaxMemory int64 = 10 * 1024 * 1024

	DefaultCacheTTL    = 5 * time.Minute
	DefaultCacheSize   = 1000
	DefaultRedisPrefix = "mycloud:usage:"

	DefaultTokenTTL         = 24 * time.Hour
	DefaultLoginMaxFailures = 5

	DefaultLogMaxSizeMB  = 100
	DefaultLogMaxBackups = 3
	DefaultLogMaxAgeDays = 28

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"

	configFileName           = ".mycloud.toml"
	configDirEnvKey          = "MYCLOUD_CONFIG_DIR"
	trustProjectConfigEnvKey = "MYCLOUD_TRUST_PROJECT_CONFIG"

	apiURLEnvKey      = "MYCLOUD_API_URL"
	dbPathEnvKey      = "MYCLOUD_DB"
	storageRootEnvKey = "MYCLOUD_STORAGE_ROOT"
	jwtSecretEnvKey   = "MYCLOUD_JWT_SECRET"
	redisAddrEnvKey   = "MYCLOUD_REDIS_ADDR"
	logLevelEnvKey    = "MYCLOUD_LOG_LEVEL"
)

// Duration is a time.Duration stored as a Go duration string ("5m", "24h").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// StorageConfig locates file content and controls reservation cleanup.
type StorageConfig struct {
	Root          string   `toml:"root"`
	PendingTTL    Duration `toml:"pending_ttl"`
	SweepInterval Duration `toml:"sweep_interval"`
}

// LimitsConfig holds upload limits enforced by the guard and the transport.
type LimitsConfig struct {
	MaxUploadBytes     int64    `toml:"max_upload_bytes"`
	MaxFilesPerUser    int      `toml:"max_files_per_user"`
	MultipartMaxMemory int64    `toml:"multipart_max_memory"`
	AllowedExtensions  []string `toml:"allowed_extensions"`
	AllowedMediaTypes  []string `toml:"allowed_media_types"`
}

// CacheConfig selects the usage statistics cache.
type CacheConfig struct {
	Backend       string   `toml:"backend"`
	TTL           Duration `toml:"ttl"`
	Size          int      `toml:"size"`
	RedisAddr     string   `toml:"redis_addr"`
	RedisPassword string   `toml:"redis_password"`
	RedisDB       int      `toml:"redis_db"`
	RedisPrefix   string   `toml:"redis_prefix"`
}

// AuthConfig configures token issuance and login throttling.
type AuthConfig struct {
	JWTSecret        string   `toml:"jwt_secret"`
	TokenTTL         Duration `toml:"token_ttl"`
	LoginMaxFailures int      `toml:"login_max_failures"`
}

// LogConfig configures the default logger and the optional rolling file sink.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// Config defines runtime configuration for mycloud.
type Config struct {
	APIURL                   string        `toml:"api_url"`
	DBPath                   string        `toml:"db_path"`
	Storage                  StorageConfig `toml:"storage"`
	Limits                   LimitsConfig  `toml:"limits"`
	Cache                    CacheConfig   `toml:"cache"`
	Auth                     AuthConfig    `toml:"auth"`
	Log                      LogConfig     `toml:"log"`
	TrustedProjectConfigPath string        `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		APIURL: DefaultAPIURL,
		Storage: StorageConfig{
			PendingTTL:    Duration{DefaultPendingTTL},
			SweepInterval: Duration{DefaultSweepInterval},
		},
		Limits: LimitsConfig{
			MaxUploadBytes:     DefaultMaxUploadBytes,
			MaxFilesPerUser:    DefaultMaxFilesPerUser,
			MultipartMaxMemory: DefaultMultipartMaxMemory,
		},
		Cache: CacheConfig{
			Backend:     DefaultCacheBackend,
			TTL:         Duration{DefaultCacheTTL},
			Size:        DefaultCacheSize,
			RedisPrefix: DefaultRedisPrefix,
		},
		Auth: AuthConfig{
			TokenTTL:         Duration{DefaultTokenTTL},
			LoginMaxFailures: DefaultLoginMaxFailures,
		},
		Log: LogConfig{
			Level:      DefaultLogLevel,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   true,
		},
	}
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"api_url",
	"db_path",
	"storage.root",
	"storage.pending_ttl",
	"storage.sweep_interval",
	"limits.max_upload_bytes",
	"limits.max_files_per_user",
	"limits.multipart_max_memory",
	"limits.allowed_extensions",
	"limits.allowed_media_types",
	"cache.backend",
	"cache.ttl",
	"cache.size",
	"cache.redis_addr",
	"cache.redis_db",
	"cache.redis_prefix",
	"auth.jwt_secret",
	"auth.token_ttl",
	"auth.login_max_failures",
	"log.level",
	"log.file",
	"log.max_size_mb",
	"log.max_backups",
	"log.max_age_days",
	"log.compress",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "api_url":
		return c.APIURL, nil
	case "db_path":
		return c.DBPath, nil
	case "storage.root":
		return c.Storage.Root, nil
	case "storage.pending_ttl":
		return c.Storage.PendingTTL.String(), nil
	case "storage.sweep_interval":
		return c.Storage.SweepInterval.String(), nil
	case "limits.max_upload_bytes":
		return strconv.FormatInt(c.Limits.MaxUploadBytes, 10), nil
	case "limits.max_files_per_user":
		return strconv.Itoa(c.Limits.MaxFilesPerUser), nil
	case "limits.multipart_max_memory":
		return strconv.FormatInt(c.Limits.MultipartMaxMemory, 10), nil
	case "limits.allowed_extensions":
		return strings.Join(c.Limits.AllowedExtensions, ","), nil
	case "limits.allowed_media_types":
		return strings.Join(c.Limits.AllowedMediaTypes, ","), nil
	case "cache.backend":
		return c.Cache.Backend, nil
	case "cache.ttl":
		return c.Cache.TTL.String(), nil
	case "cache.size":
		return strconv.Itoa(c.Cache.Size), nil
	case "cache.redis_addr":
		return c.Cache.RedisAddr, nil
	case "cache.redis_db":
		return strconv.Itoa(c.Cache.RedisDB), nil
	case "cache.redis_prefix":
		return c.Cache.RedisPrefix, nil
	case "auth.jwt_secret":
		if c.Auth.JWTSecret == "" {
			return "", nil
		}
		return "(set)", nil
	case "auth.token_ttl":
		return c.Auth.TokenTTL.String(), nil
	case "auth.login_max_failures":
		return strconv.Itoa(c.Auth.LoginMaxFailures), nil
	case "log.level":
		return c.Log.Level, nil
	case "log.file":
		return c.Log.File, nil
	case "log.max_size_mb":
		return strconv.Itoa(c.Log.MaxSizeMB), nil
	case "log.max_backups":
		return strconv.Itoa(c.Log.MaxBackups), nil
	case "log.max_age_days":
		return strconv.Itoa(c.Log.MaxAgeDays), nil
	case "log.compress":
		return strconv.FormatBool(c.Log.Compress), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads config from trusted files and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	if apiURL := strings.TrimSpace(os.Getenv(apiURLEnvKey)); apiURL != "" {
		cfg.APIURL = apiURL
	}
	if dbPath := strings.TrimSpace(os.Getenv(dbPathEnvKey)); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if root := strings.TrimSpace(os.Getenv(storageRootEnvKey)); root != "" {
		cfg.Storage.Root = root
	}
	if secret := os.Getenv(jwtSecretEnvKey); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if addr := strings.TrimSpace(os.Getenv(redisAddrEnvKey)); addr != "" {
		cfg.Cache.RedisAddr = addr
	}

	if cfg.DBPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
	}
	if cfg.Storage.Root == "" && cfg.DBPath != "" {
		cfg.Storage.Root = filepath.Join(filepath.Dir(cfg.DBPath), DefaultStorageDir)
	}

	cfg.normalizeDefaults()

	return &cfg, nil
}

// LogLevelFromEnv returns the log level set through the environment, if any.
func LogLevelFromEnv() string {
	return strings.TrimSpace(os.Getenv(logLevelEnvKey))
}

// LogLevelEnvKey names the environment variable read by LogLevelFromEnv.
func LogLevelEnvKey() string {
	return logLevelEnvKey
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "limits.max_upload_bytes", "limits.multipart_max_memory":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "limits.max_files_per_user", "cache.size", "auth.login_max_failures",
		"log.max_size_mb", "log.max_backups", "log.max_age_days":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "cache.redis_db":
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			return nil, fmt.Errorf("%s must be a non-negative integer", key)
		}
		return parsed, nil
	case "storage.pending_ttl", "storage.sweep_interval", "cache.ttl", "auth.token_ttl":
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration such as 5m or 24h", key)
		}
		return parsed.String(), nil
	case "log.compress":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return parsed, nil
	case "cache.backend":
		switch strings.ToLower(value) {
		case CacheBackendMemory, CacheBackendRedis, CacheBackendNone:
			return strings.ToLower(value), nil
		}
		return nil, fmt.Errorf("%s must be one of memory, redis, none", key)
	case "limits.allowed_extensions", "limits.allowed_media_types":
		return splitCSV(value), nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

func splitCSV(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func (c *Config) normalizeDefaults() {
	if c.Storage.PendingTTL.Duration <= 0 {
		c.Storage.PendingTTL.Duration = DefaultPendingTTL
	}
	if c.Storage.SweepInterval.Duration <= 0 {
		c.Storage.SweepInterval.Duration = DefaultSweepInterval
	}
	if c.Limits.MaxUploadBytes <= 0 {
		c.Limits.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Limits.MaxFilesPerUser <= 0 {
		c.Limits.MaxFilesPerUser = DefaultMaxFilesPerUser
	}
	if c.Limits.MultipartMaxMemory <= 0 {
		c.Limits.MultipartMaxMemory = DefaultMultipartMaxMemory
	}
	c.Limits.AllowedMediaTypes = normalizeConfiguredMediaTypes(c.Limits.AllowedMediaTypes)

	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if c.Cache.Backend == "" {
		c.Cache.Backend = DefaultCacheBackend
	}
	if c.Cache.TTL.Duration <= 0 {
		c.Cache.TTL.Duration = DefaultCacheTTL
	}
	if c.Cache.Size <= 0 {
		c.Cache.Size = DefaultCacheSize
	}
	if c.Cache.RedisPrefix == "" {
		c.Cache.RedisPrefix = DefaultRedisPrefix
	}

	if c.Auth.TokenTTL.Duration <= 0 {
		c.Auth.TokenTTL.Duration = DefaultTokenTTL
	}
	if c.Auth.LoginMaxFailures <= 0 {
		c.Auth.LoginMaxFailures = DefaultLoginMaxFailures
	}

	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func normalizeConfiguredMediaTypes(rawValues []string) []string {
	if len(rawValues) == 0 {
		return nil
	}
	out := make([]string, 0, len(rawValues))
	seen := map[string]struct{}{}
	for _, raw := range rawValues {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parsed, _, err := mime.ParseMediaType(raw)
		if err != nil {
			continue
		}
		normalized := strings.ToLower(strings.TrimSpace(parsed))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
