// Package config loads the trust policy of a validator from TOML.
//
// A configuration is initialized with InitDefaults, checked with Validate
// and turned into ready validators with Build. Sample writes a commented
// configuration that decodes to the defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/joncooperworks/ndnsec/validator"
)

const (
	defaultCacheExpiration = time.Minute
	defaultGrace           = 3 * time.Second
)

// Duration wraps time.Duration for TOML strings such as "3s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root of the trust policy file.
type Config struct {
	Validator    Validator     `toml:"validator"`
	Command      Command       `toml:"command"`
	TrustAnchors []TrustAnchor `toml:"trust_anchor"`
	Rules        []Rule        `toml:"rule"`

	// dir resolves relative paths; it is the directory of the loaded file.
	dir string
}

// Validator configures chain validation.
type Validator struct {
	MaxDepth   int        `toml:"max_depth,omitempty"`
	CertDir    string     `toml:"cert_dir,omitempty"`
	FetchCache FetchCache `toml:"fetch_cache"`
}

// FetchCache configures the cache of fetched certificates.
type FetchCache struct {
	Disable    bool     `toml:"disable,omitempty"`
	Expiration Duration `toml:"expiration,omitempty"`
}

// Command configures command interest validation.
type Command struct {
	GraceBackward Duration      `toml:"grace_backward,omitempty"`
	GraceForward  Duration      `toml:"grace_forward,omitempty"`
	Rules         []CommandRule `toml:"rule"`
}

// CommandRule pins the certificate allowed to sign commands under Name.
type CommandRule struct {
	Name        string `toml:"name"`
	Certificate string `toml:"certificate,omitempty"`
	Bypass      bool   `toml:"bypass,omitempty"`
}

// TrustAnchor names one source of global anchors. Exactly one of File,
// Base64 and Dir is set.
type TrustAnchor struct {
	File   string `toml:"file,omitempty"`
	Base64 string `toml:"base64,omitempty"`
	Dir    string `toml:"dir,omitempty"`
	// Watch reloads Dir when its contents change.
	Watch bool `toml:"watch,omitempty"`
}

// Rule is one validator rule. Exactly one of Name and Prefix is set.
type Rule struct {
	ID           string   `toml:"id"`
	For          string   `toml:"for,omitempty"`
	Name         string   `toml:"name,omitempty"`
	Prefix       string   `toml:"prefix,omitempty"`
	Hierarchical bool     `toml:"hierarchical,omitempty"`
	Anchors      []string `toml:"anchors,omitempty"`
}

// Load reads, initializes and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Decode parses raw TOML, rejecting unknown keys, then initializes and
// validates the result. Relative paths resolve against the working
// directory.
func Decode(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(cfg); err != nil {
		return nil, err
	}
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InitDefaults fills unset fields.
func (cfg *Config) InitDefaults() {
	cfg.Validator.InitDefaults()
	cfg.Command.InitDefaults()
	for i := range cfg.Rules {
		if cfg.Rules[i].For == "" {
			cfg.Rules[i].For = validator.KindData.String()
		}
	}
}

func (cfg *Validator) InitDefaults() {
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = validator.DefaultHopBudget
	}
	if cfg.FetchCache.Expiration.Duration == 0 {
		cfg.FetchCache.Expiration.Duration = defaultCacheExpiration
	}
}

func (cfg *Command) InitDefaults() {
	if cfg.GraceBackward.Duration == 0 {
		cfg.GraceBackward.Duration = defaultGrace
	}
	if cfg.GraceForward.Duration == 0 {
		cfg.GraceForward.Duration = defaultGrace
	}
}

// Validate checks the configuration for contradictions.
func (cfg *Config) Validate() error {
	if cfg.Validator.MaxDepth < 0 {
		return errors.New("validator.max_depth must not be negative")
	}
	if cfg.Command.GraceBackward.Duration < 0 || cfg.Command.GraceForward.Duration < 0 {
		return errors.New("command grace periods must not be negative")
	}
	for i, a := range cfg.TrustAnchors {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("trust_anchor[%d]: %w", i, err)
		}
	}
	ids := make(map[string]bool)
	for i, r := range cfg.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule[%d]: %w", i, err)
		}
		if ids[r.ID] {
			return fmt.Errorf("rule[%d]: duplicate id %q", i, r.ID)
		}
		ids[r.ID] = true
	}
	for i, r := range cfg.Command.Rules {
		if r.Name == "" {
			return fmt.Errorf("command.rule[%d]: name is required", i)
		}
		if r.Bypass == (r.Certificate != "") {
			return fmt.Errorf("command.rule[%d]: set either certificate or bypass", i)
		}
	}
	return nil
}

func (a TrustAnchor) Validate() error {
	set := 0
	for _, s := range []string{a.File, a.Base64, a.Dir} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return errors.New("exactly one of file, base64 and dir is required")
	}
	if a.Watch && a.Dir == "" {
		return errors.New("watch requires dir")
	}
	return nil
}

func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.New("id is required")
	}
	if (r.Name == "") == (r.Prefix == "") {
		return fmt.Errorf("rule %q: exactly one of name and prefix is required", r.ID)
	}
	if _, err := validator.ParsePacketKind(r.For); err != nil {
		return fmt.Errorf("rule %q: %w", r.ID, err)
	}
	return nil
}

// Sample writes a commented configuration holding the defaults.
func Sample(dst io.Writer) {
	io.WriteString(dst, sample)
}

const sample = `[validator]
# Maximum number of certificates fetched to validate one packet.
max_depth = 10

# Directory of base64 certificates (*.cert) used to answer fetches.
# cert_dir = "/var/lib/ndnsec/certs"

[validator.fetch_cache]
# Disable caching of fetched certificates.
disable = false

# How long a fetched certificate is cached.
expiration = "1m0s"

[command]
# How far command timestamps may lie behind and ahead of local time.
grace_backward = "3s"
grace_forward = "3s"

# [[command.rule]]
# name = "^<localhost><nfd>"
# certificate = "operator.cert"

# [[trust_anchor]]
# file = "root.cert"

# [[trust_anchor]]
# dir = "anchors"
# watch = true

# [[rule]]
# id = "site data"
# for = "data"
# prefix = "/example"
# hierarchical = true
`

func (cfg *Config) path(p string) string {
	if p == "" || filepath.IsAbs(p) || cfg.dir == "" {
		return p
	}
	return filepath.Join(cfg.dir, p)
}
