package utils

import (
	"fmt"
	"image/color"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v2"
)

var EtcDir = "."

const (
	DefaultFetchTimeout     = 25 * time.Second
	DefaultMaxRetries       = 1
	DefaultRetryBackoff     = 500 * time.Millisecond
	DefaultCacheTTL         = 15 * time.Minute
	DefaultSearchLimit      = 30
	DefaultMaxCloudCover    = 80.0
	DefaultNativeResolution = 10.0
	DefaultMaxFetchSize     = 2048
	DefaultMinSignal        = 0.005
	DefaultWindowDays       = 45
	DefaultMaxIngests       = 8
)

// DefaultProviderOrder is the priority used when the config names none.
var DefaultProviderOrder = []string{"sentinelhub", "planetary", "earthsearch"}

var knownProviders = map[string]bool{
	"sentinelhub": true,
	"planetary":   true,
	"earthsearch": true,
	"archive":     true,
}

type ServiceConfig struct {
	Verbose          bool   `yaml:"verbose"`
	FetchTimeoutSecs int    `yaml:"fetch_timeout_seconds"`
	MaxRetries       *int   `yaml:"max_retries"`
	RetryBackoffMs   int    `yaml:"retry_backoff_ms"`
	CacheTTLSecs     int    `yaml:"cache_ttl_seconds"`
	CacheBackend     string `yaml:"cache_backend"`
	MaxIngests       int    `yaml:"max_concurrent_ingests"`
}

func (s ServiceConfig) FetchTimeout() time.Duration {
	return time.Duration(s.FetchTimeoutSecs) * time.Second
}

func (s ServiceConfig) RetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoffMs) * time.Millisecond
}

func (s ServiceConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSecs) * time.Second
}

type SentinelHubConfig struct {
	BaseURL    string `yaml:"base_url"`
	TokenURL   string `yaml:"token_url"`
	Collection string `yaml:"collection"`
}

type STACConfig struct {
	STACURL    string `yaml:"stac_url"`
	DataURL    string `yaml:"data_url"`
	TilerURL   string `yaml:"tiler_url"`
	Collection string `yaml:"collection"`
}

type ArchiveConfig struct {
	Table    string `yaml:"table"`
	TilerURL string `yaml:"tiler_url"`
}

type ProvidersConfig struct {
	Order         []string          `yaml:"order"`
	SearchLimit   int               `yaml:"search_limit"`
	MaxCloudCover float64           `yaml:"max_cloud_cover"`
	SentinelHub   SentinelHubConfig `yaml:"sentinelhub"`
	Planetary     STACConfig        `yaml:"planetary"`
	EarthSearch   STACConfig        `yaml:"earthsearch"`
	Archive       ArchiveConfig     `yaml:"archive"`
}

type IndexConfig struct {
	MinSignal        float64 `yaml:"min_signal"`
	NativeResolution float64 `yaml:"native_resolution_m"`
	MaxFetchSize     int     `yaml:"max_fetch_size"`
	DefaultWindow    int     `yaml:"default_window_days"`
}

// StressPolicy holds the thresholds used to classify grid cells and to
// warn about sparse results.
type StressPolicy struct {
	UnknownBelowValidRatio float64 `yaml:"unknown_below_valid_ratio"`
	HighBelow              float64 `yaml:"high_below"`
	ModerateBelow          float64 `yaml:"moderate_below"`
	LowValidPixelWarning   float64 `yaml:"low_valid_pixel_warning"`
}

var DefaultStressPolicy = StressPolicy{
	UnknownBelowValidRatio: 0.1,
	HighBelow:              0.28,
	ModerateBelow:          0.42,
	LowValidPixelWarning:   0.45,
}

type Palette struct {
	Interpolate bool         `yaml:"interpolate"`
	Colours     []color.RGBA `yaml:"colours"`
}

type Config struct {
	ServiceConfig ServiceConfig     `yaml:"service"`
	Providers     ProvidersConfig   `yaml:"providers"`
	Index         IndexConfig       `yaml:"index"`
	StressPolicy  *StressPolicy     `yaml:"stress_policy"`
	Scoring       map[string]string `yaml:"scoring"`
	Palette       *Palette          `yaml:"palette"`
}

// NewConfig returns a Config holding only defaults.
func NewConfig() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

func (config *Config) applyDefaults() {
	s := &config.ServiceConfig
	if s.FetchTimeoutSecs <= 0 {
		s.FetchTimeoutSecs = int(DefaultFetchTimeout / time.Second)
	}
	if s.MaxRetries == nil {
		retries := DefaultMaxRetries
		s.MaxRetries = &retries
	}
	if s.RetryBackoffMs <= 0 {
		s.RetryBackoffMs = int(DefaultRetryBackoff / time.Millisecond)
	}
	if s.CacheTTLSecs <= 0 {
		s.CacheTTLSecs = int(DefaultCacheTTL / time.Second)
	}
	if s.CacheBackend == "" {
		s.CacheBackend = "memory"
	}
	if s.MaxIngests <= 0 {
		s.MaxIngests = DefaultMaxIngests
	}

	p := &config.Providers
	if len(p.Order) == 0 {
		p.Order = append([]string{}, DefaultProviderOrder...)
	}
	if p.SearchLimit <= 0 {
		p.SearchLimit = DefaultSearchLimit
	}
	if p.MaxCloudCover <= 0 {
		p.MaxCloudCover = DefaultMaxCloudCover
	}
	if p.SentinelHub.BaseURL == "" {
		p.SentinelHub.BaseURL = "https://services.sentinel-hub.com"
	}
	if p.SentinelHub.TokenURL == "" {
		p.SentinelHub.TokenURL = "https://services.sentinel-hub.com/auth/realms/main/protocol/openid-connect/token"
	}
	if p.SentinelHub.Collection == "" {
		p.SentinelHub.Collection = "sentinel-2-l2a"
	}
	if p.Planetary.STACURL == "" {
		p.Planetary.STACURL = "https://planetarycomputer.microsoft.com/api/stac/v1"
	}
	if p.Planetary.DataURL == "" {
		p.Planetary.DataURL = "https://planetarycomputer.microsoft.com/api/data/v1"
	}
	if p.Planetary.Collection == "" {
		p.Planetary.Collection = "sentinel-2-l2a"
	}
	if p.EarthSearch.STACURL == "" {
		p.EarthSearch.STACURL = "https://earth-search.aws.element84.com/v1"
	}
	if p.EarthSearch.TilerURL == "" {
		p.EarthSearch.TilerURL = "https://titiler.xyz"
	}
	if p.EarthSearch.Collection == "" {
		p.EarthSearch.Collection = "sentinel-2-l2a"
	}
	if p.Archive.Table == "" {
		p.Archive.Table = "scenes"
	}
	if p.Archive.TilerURL == "" {
		p.Archive.TilerURL = p.EarthSearch.TilerURL
	}

	ix := &config.Index
	if ix.MinSignal <= 0 {
		ix.MinSignal = DefaultMinSignal
	}
	if ix.NativeResolution <= 0 {
		ix.NativeResolution = DefaultNativeResolution
	}
	if ix.MaxFetchSize <= 0 {
		ix.MaxFetchSize = DefaultMaxFetchSize
	}
	if ix.DefaultWindow <= 0 {
		ix.DefaultWindow = DefaultWindowDays
	}

	if config.StressPolicy == nil {
		policy := DefaultStressPolicy
		config.StressPolicy = &policy
	}
}

func (config *Config) validate() error {
	for _, name := range config.Providers.Order {
		if !knownProviders[name] {
			return fmt.Errorf("unknown provider %q in providers.order", name)
		}
	}

	sp := config.StressPolicy
	if !(sp.HighBelow < sp.ModerateBelow) {
		return fmt.Errorf("stress_policy.high_below (%v) must be below moderate_below (%v)", sp.HighBelow, sp.ModerateBelow)
	}
	if sp.UnknownBelowValidRatio < 0 || sp.UnknownBelowValidRatio > 1 {
		return fmt.Errorf("stress_policy.unknown_below_valid_ratio must be within [0, 1]")
	}

	if config.Palette != nil && config.Palette.Colours != nil && len(config.Palette.Colours) < 2 {
		return fmt.Errorf("the colour palette must contain at least 2 colours")
	}
	return nil
}

// LoadConfigFile parses a YAML config document, fills in defaults and
// validates the result.
func (config *Config) LoadConfigFile(configFile string) error {
	*config = Config{}
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("error while reading config file: %s. Error: %v", configFile, err)
	}

	err = yaml.UnmarshalStrict(cfg, config)
	if err != nil {
		return fmt.Errorf("error at YAML parsing config document: %s. Error: %v", configFile, err)
	}

	config.applyDefaults()
	return config.validate()
}

// WatchConfig reloads configFile whenever the process receives SIGHUP and
// hands the result to onReload. A config that fails to load or apply
// leaves the previous one active. The returned func stops watching.
func WatchConfig(infoLog, errLog *log.Logger, configFile string, onReload func(*Config) error) func() {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			infoLog.Println("Caught SIGHUP, reloading config...")
			config := &Config{}
			if err := config.LoadConfigFile(configFile); err != nil {
				errLog.Printf("Error in loading config file: %v\n", err)
				continue
			}
			if err := onReload(config); err != nil {
				errLog.Printf("Error in applying reloaded config: %v\n", err)
			}
		}
	}()
	return func() {
		signal.Stop(sighup)
		close(sighup)
	}
}
