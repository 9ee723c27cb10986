package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesJWTSecretAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "TREASURY_JWT_SECRET")
	setEnvWithCleanup(t, "JWT_SECRET", "alias-only-secret")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.JWTSecret != "alias-only-secret" {
		t.Fatalf("expected JWTSecret from alias env var, got %q", cfg.JWTSecret)
	}
}

func TestLoadConfig_PrimaryJWTSecretTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "TREASURY_JWT_SECRET", "primary-secret")
	setEnvWithCleanup(t, "JWT_SECRET", "alias-secret")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.JWTSecret != "primary-secret" {
		t.Fatalf("expected JWTSecret to prioritize TREASURY_JWT_SECRET, got %q", cfg.JWTSecret)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "PRICE_VALIDITY_WINDOW_MINUTES")
	unsetEnvWithCleanup(t, "BATCH_DEPOSIT_CAP")
	unsetEnvWithCleanup(t, "COMMISSION_RATE_BPS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PriceValidityMinutes != 60 {
		t.Fatalf("expected default PriceValidityMinutes 60, got %d", cfg.PriceValidityMinutes)
	}
	if cfg.BatchDepositCap != 100 {
		t.Fatalf("expected default BatchDepositCap 100, got %d", cfg.BatchDepositCap)
	}
	if cfg.CommissionRateBps != 500 {
		t.Fatalf("expected default CommissionRateBps 500, got %d", cfg.CommissionRateBps)
	}
	if cfg.ReconcileCron != "*/15 * * * *" {
		t.Fatalf("expected default ReconcileCron, got %q", cfg.ReconcileCron)
	}
}

func TestLoadConfig_NegativeCommissionRateCoercedToZero(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "COMMISSION_RATE_BPS", "-25")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.CommissionRateBps != 0 {
		t.Fatalf("expected negative commission rate coerced to 0, got %d", cfg.CommissionRateBps)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
