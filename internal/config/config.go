// Package config loads mintgate settings from a YAML file with environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"

	"github.com/roach88/mintgate/internal/allowlist"
	"github.com/roach88/mintgate/internal/chain/onchain"
	"github.com/roach88/mintgate/internal/chaintime"
	"github.com/roach88/mintgate/internal/guard"
	"github.com/roach88/mintgate/internal/runner"
)

// Environment variables overriding the file.
const (
	EnvMachine     = "MINTGATE_CANDY_MACHINE_ID"
	EnvRPCEndpoint = "SOLANA_RPC_ENDPOINT"
)

// DefaultFile is read when no --config path is given and it exists.
const DefaultFile = "mintgate.yaml"

// maxLabelLen is the on-chain size of a guard group label.
const maxLabelLen = 6

// LabelText holds the display texts of one guard group.
type LabelText struct {
	Header      string `yaml:"header" json:"header"`
	MintText    string `yaml:"mint_text" json:"mint_text,omitempty"`
	ButtonLabel string `yaml:"button_label" json:"button_label"`
}

// Config holds all settings.
type Config struct {
	Machine             string               `yaml:"machine"`
	RPCEndpoint         string               `yaml:"rpc_endpoint"`
	RPCTimeout          time.Duration        `yaml:"rpc_timeout"`
	RPCRateLimit        float64              `yaml:"rpc_rate_limit"`
	TimePollInterval    time.Duration        `yaml:"time_poll_interval"`
	EligibilityInterval time.Duration        `yaml:"eligibility_interval"`
	MaxMintAmount       uint64               `yaml:"max_mint_amount"`
	Journal             string               `yaml:"journal"`
	Wallet              string               `yaml:"wallet"`
	Fixture             string               `yaml:"fixture"`
	Labels              map[string]LabelText `yaml:"labels"`
	AllowLists          map[string][]string  `yaml:"allow_lists"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		RPCEndpoint:         onchain.DevnetEndpoint,
		RPCTimeout:          onchain.DefaultTimeout,
		RPCRateLimit:        onchain.DefaultRateLimit,
		TimePollInterval:    chaintime.DefaultInterval,
		EligibilityInterval: runner.DefaultInterval,
		MaxMintAmount:       1,
	}
}

// Load reads path, applies environment overrides and fills defaults.
//
// An empty path reads DefaultFile when it exists and otherwise starts from
// Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

func readFile(path string) ([]byte, error) {
	if path == "" {
		data, err := os.ReadFile(DefaultFile)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return data, nil
}

// Parse decodes YAML settings, applies environment overrides and fills
// defaults.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.Machine = getenvDefault(EnvMachine, cfg.Machine)
	cfg.RPCEndpoint = getenvDefault(EnvRPCEndpoint, cfg.RPCEndpoint)
	cfg.fillDefaults()

	if err := cfg.normalizeLabels(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.RPCEndpoint == "" {
		c.RPCEndpoint = def.RPCEndpoint
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = def.RPCTimeout
	}
	if c.RPCRateLimit == 0 {
		c.RPCRateLimit = def.RPCRateLimit
	}
	if c.TimePollInterval == 0 {
		c.TimePollInterval = def.TimePollInterval
	}
	if c.EligibilityInterval == 0 {
		c.EligibilityInterval = def.EligibilityInterval
	}
	if c.MaxMintAmount == 0 {
		c.MaxMintAmount = def.MaxMintAmount
	}
}

// normalizeLabels rewrites label keys to NFC so they compare equal to the
// labels decoded from chain.
func (c *Config) normalizeLabels() error {
	if c.Labels != nil {
		out := make(map[string]LabelText, len(c.Labels))
		for k, v := range c.Labels {
			n := NormalizeLabel(k)
			if _, dup := out[n]; dup {
				return fmt.Errorf("labels: %q is listed twice after normalization", n)
			}
			out[n] = v
		}
		c.Labels = out
	}
	if c.AllowLists != nil {
		out := make(map[string][]string, len(c.AllowLists))
		for k, v := range c.AllowLists {
			n := NormalizeLabel(k)
			if _, dup := out[n]; dup {
				return fmt.Errorf("allow_lists: %q is listed twice after normalization", n)
			}
			out[n] = v
		}
		c.AllowLists = out
	}
	return nil
}

// Validate checks addresses, durations and label sizes.
// A missing machine address is not an error; see Warnings.
func (c Config) Validate() error {
	if c.Machine != "" {
		if _, err := solana.PublicKeyFromBase58(c.Machine); err != nil {
			return fmt.Errorf("machine: invalid address %q: %w", c.Machine, err)
		}
	}
	if c.Wallet != "" {
		if _, err := solana.PublicKeyFromBase58(c.Wallet); err != nil {
			return fmt.Errorf("wallet: invalid address %q: %w", c.Wallet, err)
		}
	}
	if c.RPCTimeout < 0 || c.TimePollInterval < 0 || c.EligibilityInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.RPCRateLimit < 0 {
		return fmt.Errorf("rpc_rate_limit must not be negative")
	}
	for label := range c.Labels {
		if err := checkLabel("labels", label); err != nil {
			return err
		}
	}
	for label, addrs := range c.AllowLists {
		if err := checkLabel("allow_lists", label); err != nil {
			return err
		}
		if len(addrs) == 0 {
			return fmt.Errorf("allow_lists.%s: no addresses", label)
		}
		for i, a := range addrs {
			if _, err := solana.PublicKeyFromBase58(a); err != nil {
				return fmt.Errorf("allow_lists.%s[%d]: invalid address %q: %w", label, i, a, err)
			}
		}
	}
	return nil
}

func checkLabel(field, label string) error {
	if label == "" || len(label) > maxLabelLen {
		return fmt.Errorf("%s: label %q must be 1 to %d bytes", field, label, maxLabelLen)
	}
	return nil
}

// Warnings returns problems that do not stop the CLI.
func (c Config) Warnings() []string {
	var ws []string
	if c.Machine == "" {
		ws = append(ws, fmt.Sprintf("candy machine address not set: configure %s or machine in %s", EnvMachine, DefaultFile))
	}
	return ws
}

// MachineKey returns the candy machine address, zero when unset.
func (c Config) MachineKey() solana.PublicKey {
	if c.Machine == "" {
		return solana.PublicKey{}
	}
	return solana.MustPublicKeyFromBase58(c.Machine)
}

// WalletKey returns the configured wallet, nil when unset.
func (c Config) WalletKey() *solana.PublicKey {
	if c.Wallet == "" {
		return nil
	}
	k := solana.MustPublicKeyFromBase58(c.Wallet)
	return &k
}

// AllowListTrees builds a merkle tree per allow-list label.
func (c Config) AllowListTrees() (map[string]*allowlist.Tree, error) {
	labels := make([]string, 0, len(c.AllowLists))
	for label := range c.AllowLists {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	trees := make(map[string]*allowlist.Tree, len(labels))
	for _, label := range labels {
		addrs := c.AllowLists[label]
		keys := make([]solana.PublicKey, len(addrs))
		for i, a := range addrs {
			keys[i] = solana.MustPublicKeyFromBase58(a)
		}
		tree, err := allowlist.New(keys)
		if err != nil {
			return nil, fmt.Errorf("allow_lists.%s: %w", label, err)
		}
		trees[label] = tree
	}
	return trees, nil
}

// Text returns the display texts of label. Unset fields fall back to the
// label itself and a generic button.
func (c Config) Text(label string) LabelText {
	t := c.Labels[NormalizeLabel(label)]
	if t.Header == "" {
		t.Header = label
	}
	if t.ButtonLabel == "" {
		t.ButtonLabel = "Mint"
	}
	return t
}

// NormalizeLabel returns label in NFC.
func NormalizeLabel(label string) string {
	return guard.NormalizeLabel(label)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
