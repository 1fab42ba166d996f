/*
 *  DataNova exchange holds the settlement logic for dataset access
 *  Copyright (C) 2026 DataNova community
 *
 *  This program is free software: you can redistribute it and/or modify
 *  it under the terms of the GNU General Public License as published by
 *  the Free Software Foundation, either version 3 of the License, or
 *  (at your option) any later version.
 *
 *  This program is distributed in the hope that it will be useful,
 *  but WITHOUT ANY WARRANTY; without even the implied warranty of
 *  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 *  GNU General Public License for more details.
 *
 *  You should have received a copy of the GNU General Public License
 *  along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package pkg

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/datanova-ai/datanova-exchange/agreement"
	"github.com/datanova-ai/datanova-exchange/cidutil"
	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/gate"
	"github.com/datanova-ai/datanova-exchange/ledger"
	"github.com/datanova-ai/datanova-exchange/registry"
)

const EnvPrefix = "DATANOVA"

const LedgerDevnet = "devnet"
const LedgerRPC = "rpc"

type StorageConfig struct {
	Dir      string `mapstructure:"dir"`
	Compress bool   `mapstructure:"compress"`
}

type LedgerConfig struct {
	Mode             string        `mapstructure:"mode"`
	Endpoint         string        `mapstructure:"endpoint"`
	MinConfirmations uint64        `mapstructure:"min-confirmations"`
	SubmitTimeout    time.Duration `mapstructure:"submit-timeout"`
	ConfirmTimeout   time.Duration `mapstructure:"confirm-timeout"`
	RetryMin         time.Duration `mapstructure:"retry-min"`
	RetryMax         time.Duration `mapstructure:"retry-max"`
	RetryAttempts    int           `mapstructure:"retry-attempts"`
	EscrowCheck      bool          `mapstructure:"escrow-check"`
	// DevnetAccounts funds devnet accounts at start, as account=amount.
	DevnetAccounts []string `mapstructure:"devnet-accounts"`
}

type AgreementsConfig struct {
	PaymentWindow     time.Duration `mapstructure:"payment-window"`
	AccessDuration    time.Duration `mapstructure:"access-duration"`
	DefaultExclusive  bool          `mapstructure:"default-exclusive"`
	ReconcileInterval time.Duration `mapstructure:"reconcile-interval"`
	ReconcileWorkers  int           `mapstructure:"reconcile-workers"`
	ConflictRetries   int           `mapstructure:"conflict-retries"`
}

type RegistryConfig struct {
	AllowDuplicates bool          `mapstructure:"allow-duplicates"`
	Digest          string        `mapstructure:"digest"`
	AuditInterval   time.Duration `mapstructure:"audit-interval"`
	AuditWorkers    int           `mapstructure:"audit-workers"`
}

type GateConfig struct {
	SigningSecret string        `mapstructure:"signing-secret"`
	TokenTTL      time.Duration `mapstructure:"token-ttl"`
}

type HTTPConfig struct {
	Interface string `mapstructure:"interface"`
	Port      int    `mapstructure:"port"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the configuration of the exchange.
type Config struct {
	Datadir    string           `mapstructure:"datadir"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Agreements AgreementsConfig `mapstructure:"agreements"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Gate       GateConfig       `mapstructure:"gate"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
}

func DefaultConfig() Config {
	lcfg := ledger.DefaultConfig()
	acfg := agreement.DefaultConfig()
	rcfg := registry.DefaultConfig()
	return Config{
		Ledger: LedgerConfig{
			Mode:             LedgerDevnet,
			MinConfirmations: lcfg.MinConfirmations,
			SubmitTimeout:    lcfg.SubmitTimeout,
			ConfirmTimeout:   lcfg.ConfirmTimeout,
			RetryMin:         lcfg.RetryMin,
			RetryMax:         lcfg.RetryMax,
			RetryAttempts:    lcfg.RetryAttempts,
			EscrowCheck:      lcfg.EscrowCheck,
		},
		Agreements: AgreementsConfig{
			PaymentWindow:     acfg.PaymentWindow,
			AccessDuration:    acfg.AccessDuration,
			DefaultExclusive:  acfg.DefaultExclusive,
			ReconcileInterval: acfg.ReconcileInterval,
			ReconcileWorkers:  acfg.ReconcileWorkers,
			ConflictRetries:   acfg.ConflictRetries,
		},
		Registry: RegistryConfig{
			AllowDuplicates: rcfg.AllowDuplicates,
			Digest:          string(rcfg.Digest),
			AuditInterval:   rcfg.AuditInterval,
			AuditWorkers:    rcfg.AuditWorkers,
		},
		Gate: GateConfig{TokenTTL: gate.DefaultConfig().TokenTTL},
		HTTP: HTTPConfig{Interface: "localhost", Port: 1324},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// FlagSet returns the command line flags of all configuration keys, with
// their defaults.
func FlagSet() *pflag.FlagSet {
	d := DefaultConfig()
	flags := pflag.NewFlagSet("datanova", pflag.ContinueOnError)
	flags.String("configfile", "", "Path to a configuration file (yaml, json or toml)")

	flags.String("datadir", d.Datadir, "Directory of the record store, in memory when empty")
	flags.String("storage.dir", d.Storage.Dir, "Directory of the content store, in memory when empty")
	flags.Bool("storage.compress", d.Storage.Compress, "Compress stored content with zstd")

	flags.String("ledger.mode", d.Ledger.Mode, "Ledger to settle on: devnet or rpc")
	flags.String("ledger.endpoint", d.Ledger.Endpoint, "JSON-RPC endpoint of the ledger node, required in rpc mode")
	flags.Uint64("ledger.min-confirmations", d.Ledger.MinConfirmations, "Confirmation depth before a payment is final")
	flags.Duration("ledger.submit-timeout", d.Ledger.SubmitTimeout, "Upper bound of a transaction submission")
	flags.Duration("ledger.confirm-timeout", d.Ledger.ConfirmTimeout, "Upper bound of a confirmation poll")
	flags.Duration("ledger.retry-min", d.Ledger.RetryMin, "First retry delay of ledger calls")
	flags.Duration("ledger.retry-max", d.Ledger.RetryMax, "Maximum retry delay of ledger calls")
	flags.Int("ledger.retry-attempts", d.Ledger.RetryAttempts, "Attempts per ledger call")
	flags.Bool("ledger.escrow-check", d.Ledger.EscrowCheck, "Check the payer balance before submitting")
	flags.StringSlice("ledger.devnet-accounts", d.Ledger.DevnetAccounts, "Devnet accounts to fund at start, as account=amount")

	flags.Duration("agreements.payment-window", d.Agreements.PaymentWindow, "Time a submitted payment has to confirm")
	flags.Duration("agreements.access-duration", d.Agreements.AccessDuration, "Access granted per agreement, unlimited when 0")
	flags.Bool("agreements.default-exclusive", d.Agreements.DefaultExclusive, "Grant datasets exclusively unless the dataset says otherwise")
	flags.Duration("agreements.reconcile-interval", d.Agreements.ReconcileInterval, "Interval of the reconciliation sweep")
	flags.Int("agreements.reconcile-workers", d.Agreements.ReconcileWorkers, "Agreements reconciled in parallel")
	flags.Int("agreements.conflict-retries", d.Agreements.ConflictRetries, "Retries of a transition on a concurrent write")

	flags.Bool("registry.allow-duplicates", d.Registry.AllowDuplicates, "Allow registering identical content twice")
	flags.String("registry.digest", d.Registry.Digest, "Content digest: sha2-256 or blake3")
	flags.Duration("registry.audit-interval", d.Registry.AuditInterval, "Interval of the content audit sweep, disabled when 0")
	flags.Int("registry.audit-workers", d.Registry.AuditWorkers, "Datasets verified in parallel by the audit")

	flags.String("gate.signing-secret", d.Gate.SigningSecret, "Secret signing access tokens")
	flags.Duration("gate.token-ttl", d.Gate.TokenTTL, "Lifetime of access tokens")

	flags.String("http.interface", d.HTTP.Interface, "Server interface binding")
	flags.Int("http.port", d.HTTP.Port, "Server listen port")
	flags.String("log.level", d.Log.Level, "Log level")
	flags.String("log.format", d.Log.Format, "Log format: text or json")
	return flags
}

// LoadConfig reads the configuration from flags, DATANOVA_ prefixed
// environment variables and the optional config file, in that order of
// precedence.
func LoadConfig(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, err
	}
	if file := v.GetString("configfile"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, domain.Errorf(domain.ErrConfiguration, "reading %s: %v", file, err)
		}
	}
	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, domain.Errorf(domain.ErrConfiguration, "%v", err)
	}
	return cfg, cfg.Validate()
}

// Validate reports configuration errors that must abort startup.
func (c Config) Validate() error {
	switch c.Ledger.Mode {
	case LedgerDevnet:
	case LedgerRPC:
		if c.Ledger.Endpoint == "" {
			return domain.Errorf(domain.ErrConfiguration, "ledger.endpoint is required in rpc mode")
		}
	default:
		return domain.Errorf(domain.ErrConfiguration, "unknown ledger.mode %q", c.Ledger.Mode)
	}
	if _, err := c.devnetAccounts(); err != nil {
		return err
	}
	if c.Gate.SigningSecret == "" {
		return domain.Errorf(domain.ErrConfiguration, "gate.signing-secret is required")
	}
	if !cidutil.Algorithm(c.Registry.Digest).Valid() {
		return domain.Errorf(domain.ErrConfiguration, "unsupported registry.digest %q", c.Registry.Digest)
	}
	if c.Agreements.ReconcileWorkers <= 0 || c.Registry.AuditWorkers <= 0 {
		return domain.Errorf(domain.ErrConfiguration, "worker counts must be positive")
	}
	if c.Agreements.PaymentWindow <= 0 {
		return domain.Errorf(domain.ErrConfiguration, "agreements.payment-window must be positive")
	}
	if c.Ledger.RetryAttempts <= 0 {
		return domain.Errorf(domain.ErrConfiguration, "ledger.retry-attempts must be positive")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return domain.Errorf(domain.ErrConfiguration, "unknown log.format %q", c.Log.Format)
	}
	return nil
}

func (c Config) devnetAccounts() (map[string]uint64, error) {
	out := map[string]uint64{}
	for _, entry := range c.Ledger.DevnetAccounts {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, domain.Errorf(domain.ErrConfiguration, "devnet account %q is not account=amount", entry)
		}
		amount, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, domain.Errorf(domain.ErrConfiguration, "devnet account %q: %v", entry, err)
		}
		out[parts[0]] += amount
	}
	return out, nil
}

func (c Config) ledgerConfig() ledger.Config {
	cfg := ledger.DefaultConfig()
	cfg.MinConfirmations = c.Ledger.MinConfirmations
	cfg.SubmitTimeout = c.Ledger.SubmitTimeout
	cfg.ConfirmTimeout = c.Ledger.ConfirmTimeout
	cfg.RetryMin = c.Ledger.RetryMin
	cfg.RetryMax = c.Ledger.RetryMax
	cfg.RetryAttempts = c.Ledger.RetryAttempts
	cfg.EscrowCheck = c.Ledger.EscrowCheck
	return cfg
}

func (c Config) agreementConfig() agreement.Config {
	return agreement.Config{
		PaymentWindow:     c.Agreements.PaymentWindow,
		AccessDuration:    c.Agreements.AccessDuration,
		DefaultExclusive:  c.Agreements.DefaultExclusive,
		ReconcileInterval: c.Agreements.ReconcileInterval,
		ReconcileWorkers:  c.Agreements.ReconcileWorkers,
		ConflictRetries:   c.Agreements.ConflictRetries,
	}
}

func (c Config) registryConfig() registry.Config {
	return registry.Config{
		AllowDuplicates: c.Registry.AllowDuplicates,
		Digest:          cidutil.Algorithm(c.Registry.Digest),
		AuditWorkers:    c.Registry.AuditWorkers,
		AuditInterval:   c.Registry.AuditInterval,
	}
}

func (c Config) gateConfig() gate.Config {
	cfg := gate.DefaultConfig()
	cfg.SigningSecret = []byte(c.Gate.SigningSecret)
	if c.Gate.TokenTTL > 0 {
		cfg.TokenTTL = c.Gate.TokenTTL
	}
	return cfg
}
