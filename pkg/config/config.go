// Package config loads the consolidation order file and applies environment
// overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kimcharli/apstra-bp-consolidate/pkg/apstra"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/batch"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/identity"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/migrate"
	"github.com/kimcharli/apstra-bp-consolidate/pkg/util"
)

// DefaultSitePrefix is stripped from the ToR name to form the rename prefix.
const DefaultSitePrefix = "atl1tor-"

// Config is the parsed order file
type Config struct {
	Server    Server    `yaml:"apstra_server"`
	Blueprint Blueprint `yaml:"blueprint"`
	Rename    Rename    `yaml:"rename"`
	Wait      Wait      `yaml:"wait"`
	Batch     Batch     `yaml:"batch"`
	Journal   Journal   `yaml:"journal"`
	Output    Output    `yaml:"output"`
	AuditLog  string    `yaml:"audit_log"`
	LogLevel  string    `yaml:"log_level"`
	VerifyTLS bool      `yaml:"verify_tls"`
	PairFile  string    `yaml:"switch_pair_template"`

	// path is the file the config was read from; relative paths inside it
	// resolve against its directory.
	path string
}

// Server holds the controller address and credentials
type Server struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	SSHJump  *SSHJump `yaml:"ssh_jump,omitempty"`
}

// SSHJump is an optional bastion in front of the controller
type SSHJump struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Blueprint names the two blueprints of the move
type Blueprint struct {
	Main struct {
		Name string `yaml:"name"`
	} `yaml:"main"`
	Tor struct {
		Name        string   `yaml:"name"`
		TorName     string   `yaml:"torname"`
		SwitchNames []string `yaml:"switch_names"`
	} `yaml:"tor"`
}

// Rename controls generic system relabeling
type Rename struct {
	SitePrefix     string   `yaml:"site_prefix"`
	LegacyPrefixes []string `yaml:"legacy_prefixes"`
	MaxLength      int      `yaml:"max_length"`
}

// Wait bounds polling for eventually consistent results
type Wait struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// Batch tunes policy submissions
type Batch struct {
	ChunkSize     int     `yaml:"chunk_size"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// Journal locates the Redis run journal; an empty address disables it
type Journal struct {
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// Output holds the directories of the report commands
type Output struct {
	ConfigDir  string `yaml:"config_dir"`
	CablingDir string `yaml:"cabling_dir"`
}

// Load reads the order file at path and applies environment overrides.
// An empty path loads only the environment.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading order file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("%w: parsing order file %s: %v", util.ErrInvalidConfig, path, err)
		}
		c.path = path
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return c, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("APSTRA_HOST", &c.Server.Host)
	str("APSTRA_USER", &c.Server.Username)
	str("APSTRA_PASS", &c.Server.Password)
	str("MAIN_BP", &c.Blueprint.Main.Name)
	str("TOR_BP", &c.Blueprint.Tor.Name)
	str("TOR_NAME", &c.Blueprint.Tor.TorName)
	str("CONFIG_DIR", &c.Output.ConfigDir)
	str("CABLING_MAPS_DIR", &c.Output.CablingDir)
	str("CONSOLIDATION_LOG_LEVEL", &c.LogLevel)
	str("CONSOLIDATION_REDIS", &c.Journal.RedisAddr)

	if v, ok := lookup("APSTRA_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: APSTRA_PORT %q is not a port number", util.ErrInvalidConfig, v)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("TOR_SWITCHES"); ok && v != "" {
		c.Blueprint.Tor.SwitchNames = util.SplitCommaSeparated(v)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 443
	}
	if c.Rename.SitePrefix == "" {
		c.Rename.SitePrefix = DefaultSitePrefix
	}
	if c.Rename.MaxLength == 0 {
		c.Rename.MaxLength = identity.MaxLabelLength
	}
	if c.Wait.Interval == 0 {
		c.Wait.Interval = batch.DefaultInterval
	}
	if c.Wait.MaxAttempts == 0 {
		c.Wait.MaxAttempts = batch.DefaultMaxAttempts
	}
	if c.Batch.ChunkSize == 0 {
		c.Batch.ChunkSize = batch.DefaultChunkSize
	}
	if c.Output.ConfigDir == "" {
		c.Output.ConfigDir = "configs"
	}
	if c.Output.CablingDir == "" {
		c.Output.CablingDir = "cabling-maps"
	}
}

// Validate checks what every command needs: a controller and both
// blueprints. ValidateMove adds what the move phases need.
func (c *Config) Validate() error {
	v := &util.ValidationBuilder{}
	v.Add(c.Server.Host != "", "apstra_server.host is required")
	v.Add(c.Server.Username != "", "apstra_server.username is required")
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		v.AddErrorf("apstra_server.port %d is out of range", c.Server.Port)
	}
	v.Add(c.Blueprint.Main.Name != "", "blueprint.main.name is required")
	if j := c.Server.SSHJump; j != nil {
		v.Add(j.Host != "", "apstra_server.ssh_jump.host is required")
		v.Add(j.User != "", "apstra_server.ssh_jump.user is required")
	}
	v.Add(c.Batch.ChunkSize > 0, "batch.chunk_size must be positive")
	v.Add(c.Batch.RatePerSecond >= 0, "batch.rate_per_second must not be negative")
	v.Add(c.Wait.Interval > 0, "wait.interval must be positive")
	v.Add(c.Wait.MaxAttempts > 0, "wait.max_attempts must be positive")
	v.Add(c.Rename.MaxLength > 0, "rename.max_length must be positive")
	v.Add(c.Journal.RedisDB >= 0, "journal.redis_db must not be negative")
	return v.Build()
}

// ValidateMove checks the fields of a move between the two blueprints
func (c *Config) ValidateMove() error {
	if err := c.Validate(); err != nil {
		return err
	}
	tor := c.Blueprint.Tor
	v := &util.ValidationBuilder{}
	v.Add(tor.Name != "", "blueprint.tor.name is required")
	v.Add(tor.TorName != "", "blueprint.tor.torname is required")
	if len(tor.SwitchNames) != 2 {
		v.AddErrorf("blueprint.tor.switch_names needs two labels, got %d", len(tor.SwitchNames))
	}
	v.Add(tor.Name == "" || tor.Name != c.Blueprint.Main.Name, "blueprint.tor.name and blueprint.main.name must differ")
	return v.Build()
}

// APIConfig returns the controller session settings
func (c *Config) APIConfig() apstra.Config {
	cfg := apstra.Config{
		Host:      c.Server.Host,
		Port:      c.Server.Port,
		Username:  c.Server.Username,
		Password:  c.Server.Password,
		VerifyTLS: c.VerifyTLS,
	}
	if j := c.Server.SSHJump; j != nil {
		cfg.Jump = &apstra.JumpConfig{Host: j.Host, Port: j.Port, User: j.User, Password: j.Password}
	}
	return cfg
}

// Order builds the move order, reading the switch pair template if one is
// configured.
func (c *Config) Order() (migrate.Order, error) {
	o := migrate.Order{
		TorName:    c.Blueprint.Tor.TorName,
		SwitchPair: c.Blueprint.Tor.SwitchNames,
	}
	if c.PairFile == "" {
		return o, nil
	}
	tmpl, err := loadPairTemplate(c.Resolve(c.PairFile))
	if err != nil {
		return o, err
	}
	o.PairTemplate = tmpl
	return o, nil
}

// Renamer builds the generic system renamer for the order's ToR
func (c *Config) Renamer() *identity.Renamer {
	r := identity.NewRenamer(identity.ShortPrefixFrom(c.Blueprint.Tor.TorName, c.Rename.SitePrefix), c.Rename.LegacyPrefixes)
	r.MaxLen = c.Rename.MaxLength
	return r
}

// Waiter builds the poller for eventually consistent results
func (c *Config) Waiter() *batch.Waiter {
	return batch.NewWaiter(c.Wait.Interval, c.Wait.MaxAttempts)
}

// BatchOptions returns the applier settings
func (c *Config) BatchOptions() batch.Options {
	return batch.Options{ChunkSize: c.Batch.ChunkSize, RatePerSecond: c.Batch.RatePerSecond}
}

// Resolve makes p relative to the order file's directory
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.path == "" {
		return p
	}
	return filepath.Join(filepath.Dir(c.path), p)
}

// loadPairTemplate reads a switch-system-links document and returns its
// first new system, or the file itself when it is a bare system object.
func loadPairTemplate(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading switch pair template: %w", err)
	}
	var doc struct {
		NewSystems []json.RawMessage `json:"new_systems"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing switch pair template %s: %w", path, err)
	}
	if len(doc.NewSystems) > 0 {
		return doc.NewSystems[0], nil
	}
	return json.RawMessage(data), nil
}
