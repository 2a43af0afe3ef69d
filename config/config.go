package config

import (
	"github.com/go-playground/validator/v10"
	"github.com/hauke96/sigolo/v2"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"os"
	"strconv"
	"time"
)

const EnvPrefix = "OSMROUTE_"

const (
	SourceOverpass = "overpass"
	SourceOsmAPI   = "osmapi"
	SourceFile     = "file"
)

type Config struct {
	Logging  string         `yaml:"logging" validate:"oneof=info debug trace"`
	Source   string         `yaml:"source" validate:"oneof=overpass osmapi file"`
	Input    string         `yaml:"input" validate:"required_if=Source file"`
	Overpass OverpassConfig `yaml:"overpass"`
	OsmAPI   OsmAPIConfig   `yaml:"osmapi"`
	Redis    RedisConfig    `yaml:"redis"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Search   SearchConfig   `yaml:"search"`
	Server   ServerConfig   `yaml:"server"`
}

type OverpassConfig struct {
	URL        string        `yaml:"url" validate:"required,url"`
	Attempts   int           `yaml:"attempts" validate:"gte=1"`
	RetryDelay time.Duration `yaml:"retry_delay" validate:"gte=0"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
}

type OsmAPIConfig struct {
	URL        string        `yaml:"url" validate:"required,url"`
	Attempts   int           `yaml:"attempts" validate:"gte=1"`
	RetryDelay time.Duration `yaml:"retry_delay" validate:"gte=0"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
}

// RedisConfig configures the shared feature cache. An empty address disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

type FetchConfig struct {
	Parallelism int `yaml:"parallelism" validate:"gte=1,lte=64"`
}

type SearchConfig struct {
	MaxExpansions int           `yaml:"max_expansions" validate:"gte=0"`
	Timeout       time.Duration `yaml:"timeout" validate:"gte=0"`
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"gt=0,lte=65535"`
}

func Default() *Config {
	return &Config{
		Logging: "info",
		Source:  SourceOverpass,
		Overpass: OverpassConfig{
			URL:        "https://overpass-api.de/api/",
			Attempts:   3,
			RetryDelay: time.Second,
			Timeout:    30 * time.Second,
		},
		OsmAPI: OsmAPIConfig{
			URL:        "https://api.openstreetmap.org/api/0.6",
			Attempts:   3,
			RetryDelay: time.Second,
			Timeout:    time.Minute,
		},
		Redis: RedisConfig{
			TTL: 24 * time.Hour,
		},
		Fetch: FetchConfig{
			Parallelism: 4,
		},
		Search: SearchConfig{
			Timeout: 5 * time.Minute,
		},
		Server: ServerConfig{
			Port: 8080,
		},
	}
}

// Load reads the configuration from the YAML file (if a path is given), then applies .env files and environment
// variables with the OSMROUTE_ prefix. Values not set anywhere keep their defaults. The result is not validated, call
// Validate after all overrides (e.g. CLI flags) have been applied.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "Unable to read config file %s", path)
		}

		err = yaml.Unmarshal(data, config)
		if err != nil {
			return nil, errors.Wrapf(err, "Unable to parse config file %s", path)
		}
		sigolo.Debugf("Read config file %s", path)
	}

	err := godotenv.Load()
	if err == nil {
		sigolo.Debugf("Read .env file")
	}

	err = config.applyEnv(os.LookupEnv)
	if err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err != nil {
		return errors.Wrap(err, "Invalid configuration")
	}
	return nil
}

func (c *Config) applyEnv(lookup func(key string) (string, bool)) error {
	stringValues := map[string]*string{
		"LOGGING":        &c.Logging,
		"SOURCE":         &c.Source,
		"INPUT":          &c.Input,
		"OVERPASS_URL":   &c.Overpass.URL,
		"OSMAPI_URL":     &c.OsmAPI.URL,
		"REDIS_ADDR":     &c.Redis.Addr,
		"REDIS_PASSWORD": &c.Redis.Password,
	}
	for key, target := range stringValues {
		if value, ok := lookup(EnvPrefix + key); ok {
			*target = value
		}
	}

	intValues := map[string]*int{
		"OVERPASS_ATTEMPTS":     &c.Overpass.Attempts,
		"OSMAPI_ATTEMPTS":       &c.OsmAPI.Attempts,
		"REDIS_DB":              &c.Redis.DB,
		"FETCH_PARALLELISM":     &c.Fetch.Parallelism,
		"SEARCH_MAX_EXPANSIONS": &c.Search.MaxExpansions,
		"PORT":                  &c.Server.Port,
	}
	for key, target := range intValues {
		if value, ok := lookup(EnvPrefix + key); ok {
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return errors.Wrapf(err, "Invalid value of %s%s", EnvPrefix, key)
			}
			*target = parsed
		}
	}

	durationValues := map[string]*time.Duration{
		"OVERPASS_RETRY_DELAY": &c.Overpass.RetryDelay,
		"OSMAPI_RETRY_DELAY":   &c.OsmAPI.RetryDelay,
		"REDIS_TTL":            &c.Redis.TTL,
		"SEARCH_TIMEOUT":       &c.Search.Timeout,
	}
	for key, target := range durationValues {
		if value, ok := lookup(EnvPrefix + key); ok {
			parsed, err := time.ParseDuration(value)
			if err != nil {
				return errors.Wrapf(err, "Invalid value of %s%s", EnvPrefix, key)
			}
			*target = parsed
		}
	}

	return nil
}
