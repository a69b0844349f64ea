package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, ScopeForm, cfg.DuplicateScope)
	require.Equal(t, DefaultRedemptionURL, cfg.RedemptionURLTemplate)
	require.EqualValues(t, 5<<20, cfg.UploadMaxBytes)
	require.True(t, cfg.MongoTransactions)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DUPLICATE_SCOPE", "Global")
	t.Setenv("MONGO_DB", "regs_test")
	t.Setenv("MONGO_TRANSACTIONS", "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, ScopeGlobal, cfg.DuplicateScope)
	require.Equal(t, "regs_test", cfg.MongoDB)
	require.False(t, cfg.MongoTransactions)
}

func TestLoadRejectsUnknownScope(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DUPLICATE_SCOPE", "tenant")

	_, err := Load()
	require.Error(t, err)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("COUPON_TEST_KEY", "set")
	require.Equal(t, "set", GetEnv("COUPON_TEST_KEY", "fallback"))
	require.Equal(t, "fallback", GetEnv("COUPON_TEST_MISSING", "fallback"))
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestValidateRedemptionTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		ok       bool
	}{
		{"default", DefaultRedemptionURL, true},
		{"disabled", "", true},
		{"escaped percent", "https://example.com/r?code=%s&note=a%%20b", true},
		{"no verb", "https://example.com/redeem", false},
		{"two verbs", "https://example.com/%s/%s", false},
		{"literal escape", "https://example.com/r?code=%s&note=a%20b", false},
		{"wrong verb", "https://example.com/r?code=%d", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{DuplicateScope: ScopeForm, UploadMaxBytes: 1, RedemptionURLTemplate: tt.template}
			err := cfg.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestLoadRejectsBadRedemptionTemplate(t *testing.T) {
	chdirTemp(t)
	t.Setenv("REDEMPTION_URL_TEMPLATE", "https://example.com/redeem")

	_, err := Load()
	require.Error(t, err)
}
