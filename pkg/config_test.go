package pkg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datanova-ai/datanova-exchange/domain"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Gate.SigningSecret = "secret"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	cases := map[string]func(c *Config){
		"rpc without endpoint":   func(c *Config) { c.Ledger.Mode = LedgerRPC },
		"unknown ledger":         func(c *Config) { c.Ledger.Mode = "carrier-pigeon" },
		"no signing secret":      func(c *Config) { c.Gate.SigningSecret = "" },
		"unknown digest":         func(c *Config) { c.Registry.Digest = "md5" },
		"no reconcile workers":   func(c *Config) { c.Agreements.ReconcileWorkers = 0 },
		"negative audit workers": func(c *Config) { c.Registry.AuditWorkers = -1 },
		"no payment window":      func(c *Config) { c.Agreements.PaymentWindow = 0 },
		"bad devnet account":     func(c *Config) { c.Ledger.DevnetAccounts = []string{"alice"} },
		"bad devnet amount":      func(c *Config) { c.Ledger.DevnetAccounts = []string{"alice=lots"} },
		"unknown log format":     func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), domain.ErrConfiguration)
		})
	}

	t.Run("rpc with endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Ledger.Mode = LedgerRPC
		cfg.Ledger.Endpoint = "http://localhost:8899"
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("flags", func(t *testing.T) {
		flags := FlagSet()
		require.NoError(t, flags.Parse([]string{
			"--gate.signing-secret=s3cret",
			"--agreements.payment-window=5m",
			"--ledger.devnet-accounts=alice=10,bob=5",
			"--registry.digest=blake3",
		}))
		cfg, err := LoadConfig(flags)
		require.NoError(t, err)
		assert.Equal(t, "s3cret", cfg.Gate.SigningSecret)
		assert.Equal(t, 5*time.Minute, cfg.Agreements.PaymentWindow)
		assert.Equal(t, []string{"alice=10", "bob=5"}, cfg.Ledger.DevnetAccounts)
		assert.Equal(t, "blake3", cfg.Registry.Digest)
		assert.Equal(t, DefaultConfig().Ledger.MinConfirmations, cfg.Ledger.MinConfirmations)

		accounts, err := cfg.devnetAccounts()
		require.NoError(t, err)
		assert.Equal(t, map[string]uint64{"alice": 10, "bob": 5}, accounts)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("DATANOVA_GATE_SIGNING_SECRET", "from-env")
		t.Setenv("DATANOVA_LEDGER_MIN_CONFIRMATIONS", "7")
		cfg, err := LoadConfig(FlagSet())
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Gate.SigningSecret)
		assert.Equal(t, uint64(7), cfg.Ledger.MinConfirmations)
	})

	t.Run("config file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "datanova.yaml")
		require.NoError(t, os.WriteFile(file, []byte("gate:\n  signing-secret: from-file\nagreements:\n  default-exclusive: true\n"), 0o600))
		flags := FlagSet()
		require.NoError(t, flags.Parse([]string{"--configfile=" + file}))
		cfg, err := LoadConfig(flags)
		require.NoError(t, err)
		assert.Equal(t, "from-file", cfg.Gate.SigningSecret)
		assert.True(t, cfg.Agreements.DefaultExclusive)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := LoadConfig(FlagSet())
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})
}
