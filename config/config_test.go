package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"emberlend/crypto"
)

func testTokenAddress(t *testing.T, suffix byte) string {
	t.Helper()
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.TokenPrefix, raw).String()
}

func testAccountAddress(t *testing.T, suffix byte) string {
	t.Helper()
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw).String()
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesFullConfig(t *testing.T) {
	gov := testTokenAddress(t, 0x01)
	treasury := testAccountAddress(t, 0x02)
	contents := fmt.Sprintf(`RPCAddress = "0.0.0.0:9000"
DataDir = "./data"
EmissionsFile = "emissions.yaml"
ProgramStart = 1700000000
GovToken = "%s"
TreasuryAddress = "%s"
LockDurationDays = 60
PenaltyBps = 2500
OracleEndpoint = "http://oracle.local/values"

[[AssetFeeds]]
ID = "emb-usd"
Decimals = 6
TimeoutSeconds = 3600
`, gov, treasury)
	cfg, err := Load(writeConfig(t, contents))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" {
		t.Fatalf("rpc address: %s", cfg.RPCAddress)
	}
	if cfg.GovToken != gov {
		t.Fatalf("gov token: %s", cfg.GovToken)
	}
	if cfg.LockDurationDays != 60 || cfg.VestDurationDays != 30 {
		t.Fatalf("durations: lock %d vest %d", cfg.LockDurationDays, cfg.VestDurationDays)
	}
	if cfg.PenaltyBps != 2500 {
		t.Fatalf("penalty: %d", cfg.PenaltyBps)
	}
	if len(cfg.AssetFeeds) != 1 || cfg.AssetFeeds[0].Decimals != 6 {
		t.Fatalf("asset feeds: %+v", cfg.AssetFeeds)
	}
}

func TestLoadRejectsInvalidAddress(t *testing.T) {
	contents := `GovToken = "not-a-bech32-address"`
	if _, err := Load(writeConfig(t, contents)); err == nil {
		t.Fatalf("expected error for invalid gov token")
	}
}

func TestLoadRejectsExcessivePenalty(t *testing.T) {
	contents := fmt.Sprintf(`GovToken = "%s"
PenaltyBps = 10001`, testTokenAddress(t, 0x01))
	if _, err := Load(writeConfig(t, contents)); err == nil {
		t.Fatalf("expected error for penalty above 100%%")
	}
}

func TestLoadParsesRewardTokensAndTreasurySeed(t *testing.T) {
	gov := testTokenAddress(t, 0x01)
	stable := testTokenAddress(t, 0x02)
	contents := fmt.Sprintf(`GovToken = "%s"
RewardTokens = ["%s"]

[[TreasurySeed]]
Token = "%s"
Amount = "5000000"
`, gov, stable, gov)
	cfg, err := Load(writeConfig(t, contents))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.RewardTokens) != 1 || cfg.RewardTokens[0] != stable {
		t.Fatalf("reward tokens: %v", cfg.RewardTokens)
	}
	if len(cfg.TreasurySeed) != 1 || cfg.TreasurySeed[0].Amount != "5000000" {
		t.Fatalf("treasury seed: %+v", cfg.TreasurySeed)
	}
}

func TestLoadRejectsInvalidRewardToken(t *testing.T) {
	contents := fmt.Sprintf(`GovToken = "%s"
RewardTokens = ["not-a-token"]`, testTokenAddress(t, 0x01))
	if _, err := Load(writeConfig(t, contents)); err == nil {
		t.Fatalf("expected error for invalid reward token")
	}
}

func TestLoadRejectsNonPositiveTreasurySeed(t *testing.T) {
	gov := testTokenAddress(t, 0x01)
	for _, amount := range []string{"0", "-5", "lots"} {
		contents := fmt.Sprintf(`GovToken = "%s"

[[TreasurySeed]]
Token = "%s"
Amount = "%s"
`, gov, gov, amount)
		if _, err := Load(writeConfig(t, contents)); err == nil {
			t.Fatalf("expected error for seed amount %q", amount)
		}
	}
}

func TestLoadRejectsDuplicateAssetFeeds(t *testing.T) {
	contents := fmt.Sprintf(`GovToken = "%s"

[[AssetFeeds]]
ID = "emb-usd"
Decimals = 6
TimeoutSeconds = 3600

[[AssetFeeds]]
ID = "emb-usd"
Decimals = 8
TimeoutSeconds = 3600
`, testTokenAddress(t, 0x01))
	if _, err := Load(writeConfig(t, contents)); err == nil {
		t.Fatalf("expected error for duplicate feed")
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8080" {
		t.Fatalf("default rpc address: %s", cfg.RPCAddress)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
}
