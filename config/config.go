package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"emberlend/crypto"
)

// AssetFeed configures one oracle-backed price stream.
type AssetFeed struct {
	ID             string `toml:"ID"`
	Decimals       uint8  `toml:"Decimals"`
	TimeoutSeconds uint64 `toml:"TimeoutSeconds"`
}

// TokenAmount pairs a token address with a decimal amount string.
type TokenAmount struct {
	Token  string `toml:"Token"`
	Amount string `toml:"Amount"`
}

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	EmissionsFile  string `toml:"EmissionsFile"`

	// ProgramStart is the unix second the emission program began.
	ProgramStart uint64 `toml:"ProgramStart"`

	GovToken        string `toml:"GovToken"`
	TreasuryAddress string `toml:"TreasuryAddress"`
	PenaltySink     string `toml:"PenaltySink"`

	LockDurationDays uint64 `toml:"LockDurationDays"`
	VestDurationDays uint64 `toml:"VestDurationDays"`
	PenaltyBps       uint64 `toml:"PenaltyBps"`

	// RewardTokens lists the fee-sharing tokens distributable to vesting
	// balances. The governance token is always registered.
	RewardTokens []string `toml:"RewardTokens"`
	// TreasurySeed is minted into the treasury account the first time the
	// daemon starts against an empty database.
	TreasurySeed []TokenAmount `toml:"TreasurySeed"`

	OracleEndpoint string      `toml:"OracleEndpoint"`
	AssetFeeds     []AssetFeed `toml:"AssetFeeds"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8080"
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = ":9091"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./emberlend-data"
	}
	if strings.TrimSpace(c.EmissionsFile) == "" {
		c.EmissionsFile = "emissions.yaml"
	}
	if c.LockDurationDays == 0 {
		c.LockDurationDays = 90
	}
	if c.VestDurationDays == 0 {
		c.VestDurationDays = 30
	}
	if c.PenaltyBps == 0 {
		c.PenaltyBps = 5000
	}
}

// Validate checks the addresses and bounds that cannot be defaulted away.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GovToken) == "" {
		return fmt.Errorf("config: GovToken is required")
	}
	for name, value := range map[string]string{
		"GovToken":        c.GovToken,
		"TreasuryAddress": c.TreasuryAddress,
		"PenaltySink":     c.PenaltySink,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := crypto.DecodeAddress(value); err != nil {
			return fmt.Errorf("config: invalid %s: %w", name, err)
		}
	}
	if c.PenaltyBps > 10_000 {
		return fmt.Errorf("config: PenaltyBps must not exceed 10000")
	}
	for _, token := range c.RewardTokens {
		if _, err := crypto.DecodeAddress(token); err != nil {
			return fmt.Errorf("config: invalid reward token %q: %w", token, err)
		}
	}
	for _, seed := range c.TreasurySeed {
		if _, err := crypto.DecodeAddress(seed.Token); err != nil {
			return fmt.Errorf("config: invalid treasury seed token %q: %w", seed.Token, err)
		}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(seed.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("config: treasury seed for %s requires a positive amount", seed.Token)
		}
	}
	seen := make(map[string]struct{}, len(c.AssetFeeds))
	for _, feed := range c.AssetFeeds {
		id := strings.TrimSpace(feed.ID)
		if id == "" {
			return fmt.Errorf("config: asset feed requires an ID")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("config: duplicate asset feed %s", id)
		}
		seen[id] = struct{}{}
		if feed.TimeoutSeconds == 0 {
			return fmt.Errorf("config: asset feed %s requires TimeoutSeconds", id)
		}
	}
	return nil
}

// createDefault creates and saves a default configuration file. The token
// addresses stay empty so the operator has to fill them in before the daemon
// will start.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
