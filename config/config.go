// Package config loads the shared YAML configuration for the ingestion
// jobs. One file serves all of the jobs; each job validates only the
// sections it actually uses.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRealtimeEndpoint  = "https://mlse-analytics-api.yinzcam.com"
	DefaultProfilesEndpoint  = "https://ydp-api.yinzcam.com"
	DefaultPageLimit         = 250
	DefaultMaxRecordsPerFile = 1000000
	DefaultProfilesPageLimit = 10000
)

// The mobile app hostname for each team's app registration, used to pick
// the right janrain login record out of a user profile.
var defaultMobileHosts = map[string]string{
	"nhl": "mobile.leafsnation.com",
	"nba": "mobile.northside4life.com",
	"mls": "mobile.torontotilidie.com",
}

// DefaultMetaURLs is the set of card content metadata files mirrored into
// the lake when the config does not name its own.
var DefaultMetaURLs = []string{
	"http://data-ftp.yinzcam.com/mlse/meta/meta-push.csv",
	"http://data-ftp.yinzcam.com/mlse/meta/meta-media-mls.csv",
	"http://data-ftp.yinzcam.com/mlse/meta/meta-media-nhl.csv",
	"http://data-ftp.yinzcam.com/mlse/meta/meta-media-nba.csv",
	"http://data-ftp.yinzcam.com/mlse/meta/meta-card-views.csv",
}

type Config struct {
	Realtime RealtimeConfig `yaml:"realtime"`
	Profiles ProfilesConfig `yaml:"profiles"`
	Meta     MetaConfig     `yaml:"meta"`
	Lake     LakeConfig     `yaml:"lake"`
}

func (c *Config) SetDefaults() {
	c.Realtime.SetDefaults()
	c.Profiles.SetDefaults()
	c.Meta.SetDefaults()
}

// Load reads the configuration file at path and applies defaults for
// anything the file leaves unset.
func Load(path string) (*Config, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(bs, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}
	cfg.SetDefaults()

	return &cfg, nil
}

// RealtimeConfig configures the realtime analytics ingestion.
type RealtimeConfig struct {
	Endpoint string `yaml:"endpoint"`

	// APIKeys maps a team code (nhl_tor, nba_tor, mls_tor) to its realtime
	// API key.
	APIKeys map[string]string `yaml:"api_keys"`

	// PageLimit is how many actions are requested per API call.
	PageLimit int `yaml:"page_limit"`

	// MaxRecordsPerFile caps how many actions are accumulated into a single
	// output file before it is written out.
	MaxRecordsPerFile int `yaml:"max_records_per_file"`
}

func (c *RealtimeConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultRealtimeEndpoint
	}
	if c.PageLimit == 0 {
		c.PageLimit = DefaultPageLimit
	}
	if c.MaxRecordsPerFile == 0 {
		c.MaxRecordsPerFile = DefaultMaxRecordsPerFile
	}
}

func (c *RealtimeConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("missing 'endpoint'")
	} else if c.PageLimit <= 0 {
		return fmt.Errorf("'page_limit' must be positive")
	} else if c.MaxRecordsPerFile <= 0 {
		return fmt.Errorf("'max_records_per_file' must be positive")
	}

	return nil
}

// APIKey returns the realtime API key configured for a team.
func (c *RealtimeConfig) APIKey(team string) (string, error) {
	key := c.APIKeys[team]
	if key == "" {
		return "", fmt.Errorf("no realtime api key configured for team %q", team)
	}

	return key, nil
}

// TeamProfiles holds one team's credentials for the profiles API.
type TeamProfiles struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// MobileHost is the clientId of the team's mobile app registration.
	// Defaults are known for nhl, nba and mls.
	MobileHost string `yaml:"mobile_host"`
}

// ProfilesConfig configures the user profiles ingestion.
type ProfilesConfig struct {
	Endpoint  string                  `yaml:"endpoint"`
	PageLimit int                     `yaml:"page_limit"`
	Teams     map[string]TeamProfiles `yaml:"teams"`
}

func (c *ProfilesConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultProfilesEndpoint
	}
	if c.PageLimit == 0 {
		c.PageLimit = DefaultProfilesPageLimit
	}
	for team, tc := range c.Teams {
		if tc.MobileHost == "" {
			if host, ok := defaultMobileHosts[team]; ok {
				tc.MobileHost = host
				c.Teams[team] = tc
			}
		}
	}
}

func (c *ProfilesConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("missing 'endpoint'")
	} else if c.PageLimit <= 0 {
		return fmt.Errorf("'page_limit' must be positive")
	}

	return nil
}

// Team returns the profiles credentials configured for a team (nhl, nba or
// mls).
func (c *ProfilesConfig) Team(team string) (TeamProfiles, error) {
	tc, ok := c.Teams[team]
	if !ok {
		return TeamProfiles{}, fmt.Errorf("no profiles credentials configured for team %q", team)
	} else if tc.Username == "" {
		return TeamProfiles{}, fmt.Errorf("missing 'username' for team %q", team)
	} else if tc.Password == "" {
		return TeamProfiles{}, fmt.Errorf("missing 'password' for team %q", team)
	} else if tc.MobileHost == "" {
		return TeamProfiles{}, fmt.Errorf("no mobile host known for team %q: set 'mobile_host'", team)
	}

	return tc, nil
}

// MetaConfig configures the card content metadata mirror.
type MetaConfig struct {
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	URLs     []string `yaml:"urls"`
}

func (c *MetaConfig) SetDefaults() {
	if len(c.URLs) == 0 {
		c.URLs = append([]string(nil), DefaultMetaURLs...)
	}
}

func (c *MetaConfig) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("missing 'username'")
	} else if c.Password == "" {
		return fmt.Errorf("missing 'password'")
	} else if len(c.URLs) == 0 {
		return fmt.Errorf("no 'urls' to mirror")
	}

	return nil
}

// LakeConfig configures access to the data lake storage account. Jobs
// authenticate with a service principal unless a storage account key is
// set.
type LakeConfig struct {
	AccountName  string `yaml:"account_name"`
	Container    string `yaml:"container"`
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	AccountKey   string `yaml:"account_key"`

	// Endpoint overrides the default blob endpoint, mostly for pointing at
	// a storage emulator.
	Endpoint string `yaml:"endpoint"`
}

func (c *LakeConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("missing 'account_name'")
	} else if c.Container == "" {
		return fmt.Errorf("missing 'container'")
	}

	if c.AccountKey != "" {
		return nil
	}

	var requiredProperties = [][]string{
		{"tenant_id", c.TenantID},
		{"client_id", c.ClientID},
		{"client_secret", c.ClientSecret},
	}
	for _, req := range requiredProperties {
		if req[1] == "" {
			return fmt.Errorf("missing '%s' (or set 'account_key' instead)", req[0])
		}
	}

	return nil
}
