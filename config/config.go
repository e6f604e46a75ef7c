package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the sync service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Feed      FeedConfig      `mapstructure:"feed"`
	ArcGIS    ArcGISConfig    `mapstructure:"arcgis"`
	Encoding  EncodingConfig  `mapstructure:"encoding"`
	Retention RetentionConfig `mapstructure:"retention"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug       bool          `mapstructure:"debug"`
	LogLevel    string        `mapstructure:"log_level"`
	Listen      string        `mapstructure:"listen"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"` // outbound calls; zero means no timeout
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// StrictStatus maps pipeline failures to distinct status codes instead of
	// always answering 200.
	StrictStatus bool `mapstructure:"strict_status"`
}

// FeedConfig describes the upstream incident feed.
type FeedConfig struct {
	Endpoint string            `mapstructure:"endpoint"`
	Types    []string          `mapstructure:"types"`
	Headers  map[string]string `mapstructure:"headers"`
	Params   map[string]string `mapstructure:"params"`
}

// Normalize trims and deduplicates the accepted feed types.
func (c FeedConfig) Normalize() FeedConfig {
	seen := make(map[string]struct{}, len(c.Types))
	var types []string
	for _, t := range c.Types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		types = append(types, t)
	}
	if len(types) == 0 {
		types = []string{"alerts"}
	}
	c.Types = types
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	return c
}

func (c FeedConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("feed.endpoint is required")
	}
	return nil
}

// ArcGISConfig carries the identity endpoint and feature service settings.
type ArcGISConfig struct {
	OAuth2URL              string `mapstructure:"oauth2_url"`
	ClientID               string `mapstructure:"client_id"`
	ClientSecret           string `mapstructure:"client_secret"`
	TokenExpirationMinutes int    `mapstructure:"token_expiration_minutes"`
	FeatureServerURL       string `mapstructure:"feature_server_url"`
	LayerID                int    `mapstructure:"layer_id"`
}

// Normalize applies defaults for unset values.
func (c ArcGISConfig) Normalize() ArcGISConfig {
	c.OAuth2URL = strings.TrimSpace(c.OAuth2URL)
	if c.OAuth2URL == "" {
		c.OAuth2URL = "https://www.arcgis.com/sharing/rest/oauth2/token/"
	}
	if c.TokenExpirationMinutes <= 0 {
		c.TokenExpirationMinutes = 1440
	}
	c.FeatureServerURL = strings.TrimRight(strings.TrimSpace(c.FeatureServerURL), "/")
	return c
}

func (c ArcGISConfig) Validate() error {
	if c.FeatureServerURL == "" {
		return fmt.Errorf("arcgis.feature_server_url is required")
	}
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return fmt.Errorf("arcgis.client_id and arcgis.client_secret are required (set INCIDENTSYNC_ARCGIS_CLIENT_ID/SECRET)")
	}
	if c.LayerID < 0 {
		return fmt.Errorf("arcgis.layer_id cannot be negative")
	}
	return nil
}

// EncodingConfig controls how the CSV artifact is rendered.
type EncodingConfig struct {
	ArtifactDir    string `mapstructure:"artifact_dir"`
	Timezone       string `mapstructure:"timezone"`
	DateTimeLayout string `mapstructure:"datetime_layout"`
}

// Normalize applies defaults for unset values.
func (c EncodingConfig) Normalize() EncodingConfig {
	if strings.TrimSpace(c.ArtifactDir) == "" {
		c.ArtifactDir = os.TempDir()
	}
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = "UTC"
	}
	if strings.TrimSpace(c.DateTimeLayout) == "" {
		c.DateTimeLayout = "1/2/2006 3:04:05 PM"
	}
	return c
}

func (c EncodingConfig) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("encoding.timezone: %w", err)
	}
	return nil
}

// Location resolves the configured timezone, falling back to UTC.
func (c EncodingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RetentionConfig defines how long features stay in the layer.
type RetentionConfig struct {
	Window         time.Duration `mapstructure:"window"`
	PredicateField string        `mapstructure:"predicate_field"`
}

// Normalize applies defaults for unset values.
func (c RetentionConfig) Normalize() RetentionConfig {
	if c.Window <= 0 {
		c.Window = 72 * time.Hour
	}
	if strings.TrimSpace(c.PredicateField) == "" {
		c.PredicateField = "pubMillis"
	}
	return c
}

// SchedulerConfig drives the in-process cron scheduler.
type SchedulerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	AppendCron string        `mapstructure:"append_cron"`
	DeleteCron string        `mapstructure:"delete_cron"`
	Tick       time.Duration `mapstructure:"tick"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
	// run history older than this is removed after each delete job
	HistoryRetention time.Duration `mapstructure:"history_retention"`
}

// Normalize applies defaults for unset values.
func (c SchedulerConfig) Normalize() SchedulerConfig {
	if strings.TrimSpace(c.AppendCron) == "" {
		c.AppendCron = "*/2 * * * *"
	}
	if strings.TrimSpace(c.DeleteCron) == "" {
		c.DeleteCron = "@hourly"
	}
	if c.Tick <= 0 {
		c.Tick = 30 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 30 * 24 * time.Hour
	}
	return c
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	S3       S3Config       `mapstructure:"s3"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// run lifecycle events are appended here
	EventsStream string `mapstructure:"events_stream"`
	EventsMaxLen int64  `mapstructure:"events_max_len"`
}

// Enabled reports whether a Redis host has been configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether run history persistence is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

// DSN returns URL when set, otherwise a postgres:// URL assembled from the parts.
// Credentials are escaped; Timeout becomes connect_timeout.
func (p PostgresConfig) DSN() (string, error) {
	if u := strings.TrimSpace(p.URL); u != "" {
		return u, nil
	}
	if strings.TrimSpace(p.Host) == "" || strings.TrimSpace(p.DBName) == "" {
		return "", fmt.Errorf("storage.postgres: host and dbname required when url is not provided")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	q := url.Values{}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	q.Set("sslmode", ssl)
	if secs := int(p.Timeout / time.Second); secs > 0 {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(p.Host, port),
		Path:     "/" + p.DBName,
		RawQuery: q.Encode(),
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u.String(), nil
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" || !p.Enabled() {
		return nil
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// S3Config contains object storage configuration for artifact archiving.
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// Enabled reports whether archiving is configured.
func (s S3Config) Enabled() bool { return strings.TrimSpace(s.Endpoint) != "" }

func (s S3Config) Validate() error {
	if !s.Enabled() {
		return nil
	}
	if strings.TrimSpace(s.Bucket) == "" {
		return fmt.Errorf("storage.s3.bucket required when endpoint is provided")
	}
	if s.AccessKeyID == "" || s.SecretAccessKey == "" {
		return fmt.Errorf("storage.s3 credentials required when endpoint is provided")
	}
	return nil
}

// Normalize applies defaults across every section.
func (c *Config) Normalize() {
	c.Feed = c.Feed.Normalize()
	c.ArcGIS = c.ArcGIS.Normalize()
	c.Encoding = c.Encoding.Normalize()
	c.Retention = c.Retention.Normalize()
	c.Scheduler = c.Scheduler.Normalize()
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "incidentsync"
	}
	if c.Storage.Redis.EventsStream == "" {
		c.Storage.Redis.EventsStream = "incidentsync:runs"
	}
	if c.Storage.Redis.EventsMaxLen <= 0 {
		c.Storage.Redis.EventsMaxLen = 10000
	}
	if c.Storage.S3.Prefix == "" {
		c.Storage.S3.Prefix = "feeds"
	}
}

// ValidatePipeline checks the settings needed to actually talk to the feed and the
// feature service. Commands that never sync (migrate, inspect) skip it.
func (c *Config) ValidatePipeline() error {
	if err := c.Feed.Validate(); err != nil {
		return err
	}
	return c.ArcGIS.Validate()
}

// Validate runs the section validators every command depends on.
func (c *Config) Validate() error {
	validators := []func() error{
		c.Encoding.Validate,
		c.Storage.Redis.Validate,
		c.Storage.Postgres.Validate,
		c.Storage.S3.Validate,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig loads config from file and environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.SetDefault("general.listen", ":3000")
	v.SetDefault("general.log_level", "info")
	v.SetDefault("feed.types", []string{"alerts"})
	v.SetDefault("arcgis.token_expiration_minutes", 1440)
	v.SetDefault("arcgis.layer_id", 0)
	v.SetDefault("retention.window", "72h")
	v.SetDefault("retention.predicate_field", "pubMillis")
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("telemetry.enabled", true)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("INCIDENTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match (INCIDENTSYNC_*)
	bindSecrets(v)

	if err := v.ReadInConfig(); err != nil {
		// a missing file is fine when everything comes from the environment
		if _, notFound := err.(viper.ConfigFileNotFoundError); path != "" || !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindSecrets makes secret keys resolvable from env even when absent from the file;
// AutomaticEnv alone does not surface them through Unmarshal.
func bindSecrets(v *viper.Viper) {
	for _, key := range []string{
		"arcgis.client_id",
		"arcgis.client_secret",
		"arcgis.feature_server_url",
		"feed.endpoint",
		"server.jwt_secret",
		"storage.postgres.url",
		"storage.redis.host",
		"storage.redis.port",
		"storage.redis.password",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
	} {
		_ = v.BindEnv(key)
	}
}
