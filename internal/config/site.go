package config

import (
	"maps"
	"strings"
	"time"
)

// SiteConfig holds request settings for one destination host.
type SiteConfig struct {
	// Cookie is an HTTP cookie sent with every request to this host.
	// Format: "name=value" or "name1=value1; name2=value2"
	Cookie string `yaml:"cookie,omitempty"`

	// Headers are custom HTTP headers to include in requests to this host.
	Headers map[string]string `yaml:"headers,omitempty"`

	// UserAgent overrides the global User-Agent for this host.
	UserAgent string `yaml:"userAgent,omitempty"`
}

// IsZero reports whether the site config carries no settings.
func (s SiteConfig) IsZero() bool {
	return s.Cookie == "" && len(s.Headers) == 0 && s.UserAgent == ""
}

// CrawlSection holds engine defaults in the config file.
// Zero values mean "keep the built-in default".
type CrawlSection struct {
	Backends       int           `yaml:"backends,omitempty"`
	SlotsPerGroup  int           `yaml:"slotsPerGroup,omitempty"`
	BaseSocksPort  int           `yaml:"baseSocksPort,omitempty"`
	OutputDir      string        `yaml:"outputDir,omitempty"`
	ConnectTimeout time.Duration `yaml:"connectTimeout,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty"`
	MaxRedirects   *int          `yaml:"maxRedirects,omitempty"`
	UserAgent      string        `yaml:"userAgent,omitempty"`
}

// TorSection holds Tor launch defaults in the config file.
type TorSection struct {
	Binary               string        `yaml:"binary,omitempty"`
	DataDir              string        `yaml:"dataDir,omitempty"`
	StartupTimeout       time.Duration `yaml:"startupTimeout,omitempty"`
	WaitBootstrap        *bool         `yaml:"waitBootstrap,omitempty"`
	TrackHostExitsExpire time.Duration `yaml:"trackHostExitsExpire,omitempty"`
}

// File represents the structure of the .torcrawl configuration file.
type File struct {
	// Crawl contains engine defaults.
	Crawl CrawlSection `yaml:"crawl,omitempty"`

	// Tor contains Tor launch defaults.
	Tor TorSection `yaml:"tor,omitempty"`

	// Sites maps host names (without port) to their request settings.
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`

	// Defaults contains request settings applied to all hosts
	// unless overridden in the host-specific configuration.
	Defaults SiteConfig `yaml:"defaults,omitempty"`
}

// GetSiteConfig returns the request settings for a host.
// It merges the host-specific configuration over the defaults. Host lookup
// is case-insensitive and ignores a "www." prefix when there is no exact match.
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := cf.Defaults
	if result.Headers != nil {
		result.Headers = maps.Clone(result.Headers)
	}

	siteConfig, ok := cf.lookup(host)
	if !ok {
		return result
	}

	if siteConfig.Cookie != "" {
		result.Cookie = siteConfig.Cookie
	}
	if siteConfig.UserAgent != "" {
		result.UserAgent = siteConfig.UserAgent
	}
	if len(siteConfig.Headers) > 0 {
		if result.Headers == nil {
			result.Headers = make(map[string]string)
		}
		maps.Copy(result.Headers, siteConfig.Headers)
	}

	return result
}

func (cf *File) lookup(host string) (SiteConfig, bool) {
	if len(cf.Sites) == 0 {
		return SiteConfig{}, false
	}
	host = strings.ToLower(host)
	if sc, ok := cf.Sites[host]; ok {
		return sc, true
	}
	for key, sc := range cf.Sites {
		if strings.EqualFold(key, host) {
			return sc, true
		}
	}
	if trimmed, found := strings.CutPrefix(host, "www."); found {
		return cf.lookup(trimmed)
	}
	return SiteConfig{}, false
}

// Apply copies the non-zero settings of the file onto cfg.
// CLI flags are applied afterwards and take precedence.
func (cf *File) Apply(cfg *Config) {
	c := cf.Crawl
	if c.Backends > 0 {
		cfg.NumBackends = c.Backends
	}
	if c.SlotsPerGroup > 0 {
		cfg.SlotsPerGroup = c.SlotsPerGroup
	}
	if c.BaseSocksPort > 0 {
		cfg.BaseSocksPort = c.BaseSocksPort
	}
	if c.OutputDir != "" {
		cfg.OutputDir = c.OutputDir
	}
	if c.ConnectTimeout > 0 {
		cfg.ConnectTimeout = c.ConnectTimeout
	}
	if c.Timeout > 0 {
		cfg.TransferTimeout = c.Timeout
	}
	if c.MaxRedirects != nil {
		cfg.MaxRedirects = *c.MaxRedirects
	}
	if c.UserAgent != "" {
		cfg.UserAgent = c.UserAgent
	}

	t := cf.Tor
	if t.Binary != "" {
		cfg.TorBinary = t.Binary
	}
	if t.DataDir != "" {
		cfg.TorDataDir = t.DataDir
	}
	if t.StartupTimeout > 0 {
		cfg.TorStartupTimeout = t.StartupTimeout
	}
	if t.WaitBootstrap != nil {
		cfg.WaitBootstrap = *t.WaitBootstrap
	}
	if t.TrackHostExitsExpire > 0 {
		cfg.TrackHostExitsExpire = t.TrackHostExitsExpire
	}

	cfg.Sites = cf
}
