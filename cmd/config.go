package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/khanhnv2901/tlsinspect/internal/chain"
	"github.com/khanhnv2901/tlsinspect/internal/checks"
	"github.com/khanhnv2901/tlsinspect/internal/engine"
	"github.com/khanhnv2901/tlsinspect/internal/finding"
	"github.com/khanhnv2901/tlsinspect/internal/protocol"
	"github.com/khanhnv2901/tlsinspect/internal/scoring"
	"github.com/khanhnv2901/tlsinspect/internal/shared/constants"
	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
	"github.com/khanhnv2901/tlsinspect/internal/transparency"
	"github.com/khanhnv2901/tlsinspect/internal/webcheck"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultConcurrency     = 4
	defaultServeAddr       = "127.0.0.1:8080"
	defaultServeRateLimit  = 10
	defaultServeRateBurst  = 20
	defaultShutdownTimeout = 30 * time.Second
	defaultMaxJobs         = 1000
)

// systemTrustBundles are probed in order when trust_anchors is not set.
var systemTrustBundles = []string{
	"/etc/ssl/certs/ca-certificates.crt",
	"/etc/pki/tls/certs/ca-bundle.crt",
	"/etc/ssl/ca-bundle.pem",
	"/etc/pki/tls/cacert.pem",
	"/etc/ssl/cert.pem",
}

// CLIConfig captures everything read from the config file and environment.
type CLIConfig struct {
	TrustAnchors []string           `mapstructure:"trust_anchors"`
	CTLogList    string             `mapstructure:"ct_log_list"`
	Probe        ProbeConfig        `mapstructure:"probe"`
	Protocol     ProtocolConfig     `mapstructure:"protocol"`
	Transparency TransparencyConfig `mapstructure:"transparency"`
	Scoring      ScoringConfig      `mapstructure:"scoring"`
	Checks       ChecksConfig       `mapstructure:"checks"`
	Web          WebChecksConfig    `mapstructure:"web_checks"`
	Runner       RunnerConfig       `mapstructure:"runner"`
	Serve        ServeConfig        `mapstructure:"serve"`
}

// ProbeConfig groups connection settings.
type ProbeConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	Nameservers  []string      `mapstructure:"nameservers"`
	VersionSweep bool          `mapstructure:"version_sweep"`
}

// ProtocolConfig is the textual form of protocol.Policy.
type ProtocolConfig struct {
	MinVersion            string   `mapstructure:"min_version"`
	PreferredVersion      string   `mapstructure:"preferred_version"`
	ForbiddenCiphers      []string `mapstructure:"forbidden_ciphers"`
	RequireForwardSecrecy bool     `mapstructure:"require_forward_secrecy"`
}

type TransparencyConfig struct {
	MinValidSCTs int `mapstructure:"min_valid_scts"`
	MinOperators int `mapstructure:"min_operators"`
}

// ScoringConfig keys are category and severity names, matched without
// regard to case.
type ScoringConfig struct {
	Weights       map[string]float64 `mapstructure:"weights"`
	Penalties     map[string]float64 `mapstructure:"penalties"`
	DefaultWeight float64            `mapstructure:"default_weight"`
}

type ChecksConfig struct {
	ExpiryWarningDays int `mapstructure:"expiry_warning_days"`
	MinRSABits        int `mapstructure:"min_rsa_bits"`
	MinECBits         int `mapstructure:"min_ec_bits"`
}

type WebChecksConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	webcheck.Config `mapstructure:",squash"`
}

type RunnerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	RateLimit   int `mapstructure:"rate_limit"`
}

type ServeConfig struct {
	Addr            string        `mapstructure:"addr"`
	AuthToken       string        `mapstructure:"auth_token"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimit       int           `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	MaxTimeout      time.Duration `mapstructure:"max_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxJobs         int           `mapstructure:"max_jobs"`
}

// setConfigDefaults registers every key so that TLSINSPECT_* variables are
// picked up by Unmarshal even when no config file sets them.
func setConfigDefaults(v *viper.Viper) {
	def := protocol.DefaultPolicy()
	ct := transparency.DefaultPolicy()
	chk := checks.DefaultConfig()
	web := webcheck.DefaultConfig()

	v.SetDefault("trust_anchors", []string{})
	v.SetDefault("ct_log_list", "")
	v.SetDefault("probe.timeout", constants.DefaultProbeTimeout)
	v.SetDefault("probe.nameservers", []string{})
	v.SetDefault("probe.version_sweep", false)
	v.SetDefault("protocol.min_version", def.MinVersion.String())
	v.SetDefault("protocol.preferred_version", def.PreferredVersion.String())
	v.SetDefault("protocol.forbidden_ciphers", []string{})
	v.SetDefault("protocol.require_forward_secrecy", def.RequireForwardSecrecy)
	v.SetDefault("transparency.min_valid_scts", ct.MinValidSCTs)
	v.SetDefault("transparency.min_operators", ct.MinOperators)
	v.SetDefault("scoring.default_weight", 1.0)
	v.SetDefault("checks.expiry_warning_days", int(chk.ExpiryWarning/(24*time.Hour)))
	v.SetDefault("checks.min_rsa_bits", chk.MinRSABits)
	v.SetDefault("checks.min_ec_bits", chk.MinECBits)
	v.SetDefault("web_checks.enabled", false)
	v.SetDefault("web_checks.timeout", web.Timeout)
	v.SetDefault("web_checks.body_limit", web.BodyLimit)
	v.SetDefault("web_checks.min_hsts_max_age", web.MinHSTSMaxAge)
	v.SetDefault("web_checks.user_agent", web.UserAgent)
	v.SetDefault("runner.concurrency", defaultConcurrency)
	v.SetDefault("runner.rate_limit", 0)
	v.SetDefault("serve.addr", defaultServeAddr)
	v.SetDefault("serve.auth_token", "")
	v.SetDefault("serve.cors_origins", []string{})
	v.SetDefault("serve.rate_limit", defaultServeRateLimit)
	v.SetDefault("serve.rate_burst", defaultServeRateBurst)
	v.SetDefault("serve.max_timeout", 30*time.Second)
	v.SetDefault("serve.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("serve.max_jobs", defaultMaxJobs)
}

// loadCLIConfig decodes v into a CLIConfig and fills in locations that
// depend on the host: the system trust bundle and the cached CT log list.
func loadCLIConfig(v *viper.Viper) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.TrustAnchors) == 0 {
		if bundle := firstExisting(systemTrustBundles); bundle != "" {
			cfg.TrustAnchors = []string{bundle}
		}
	}
	if cfg.CTLogList == "" {
		path, err := defaultLogListPath()
		if err != nil {
			return nil, err
		}
		cfg.CTLogList = path
	}
	return cfg, nil
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// engineConfig loads the trust store and log directory and converts the
// textual settings into an engine.Config.
func (c *CLIConfig) engineConfig(logger *zap.Logger) (engine.Config, error) {
	if len(c.TrustAnchors) == 0 {
		return engine.Config{}, fmt.Errorf("%w: set trust_anchors in the config file", apperrors.ErrEmptyTrustStore)
	}
	store, err := chain.LoadTrustStore(c.TrustAnchors...)
	if err != nil {
		return engine.Config{}, err
	}

	logs, err := c.logDirectory()
	if err != nil {
		return engine.Config{}, err
	}

	policy, err := protocol.NewPolicy(c.Protocol.MinVersion, c.Protocol.PreferredVersion,
		c.Protocol.ForbiddenCiphers, c.Protocol.RequireForwardSecrecy)
	if err != nil {
		return engine.Config{}, err
	}

	scoringCfg, err := c.Scoring.toScoring()
	if err != nil {
		return engine.Config{}, err
	}

	return engine.Config{
		TrustStore:     store,
		LogDirectory:   logs,
		ProtocolPolicy: policy,
		CTPolicy: transparency.Policy{
			MinValidSCTs: c.Transparency.MinValidSCTs,
			MinOperators: c.Transparency.MinOperators,
		},
		Scoring: scoringCfg,
		Checks: checks.Config{
			ExpiryWarning: time.Duration(c.Checks.ExpiryWarningDays) * 24 * time.Hour,
			MinRSABits:    c.Checks.MinRSABits,
			MinECBits:     c.Checks.MinECBits,
		},
		VersionSweep: c.Probe.VersionSweep,
		WebChecks:    c.Web.Enabled,
		WebConfig:    c.Web.Config,
		Nameservers:  c.Probe.Nameservers,
		Logger:       logger,
	}, nil
}

func (c *CLIConfig) logDirectory() (*transparency.LogDirectory, error) {
	logs, err := transparency.LoadLogDirectory(c.CTLogList)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist; run `tlsinspect logs update`",
				apperrors.ErrMissingLogDirectory, c.CTLogList)
		}
		return nil, err
	}
	return logs, nil
}

// runner returns the worker pool settings for the CLI and the job manager.
func (c *CLIConfig) runner(logger *zap.Logger) engine.Runner {
	return engine.Runner{
		Concurrency: c.Runner.Concurrency,
		RateLimit:   c.Runner.RateLimit,
		Timeout:     c.Probe.Timeout,
		Logger:      logger,
	}
}

func (s ScoringConfig) toScoring() (scoring.Config, error) {
	out := scoring.Config{DefaultWeight: s.DefaultWeight}
	if len(s.Weights) > 0 {
		out.Weights = make(map[string]float64, len(s.Weights))
		for name, w := range s.Weights {
			out.Weights[canonicalCategory(name)] = w
		}
	}
	if len(s.Penalties) > 0 {
		out.Penalties = scoring.DefaultPenalties()
		for name, p := range s.Penalties {
			sev, err := finding.ParseSeverity(name)
			if err != nil {
				return scoring.Config{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidPenalties, err)
			}
			out.Penalties[sev] = p
		}
	}
	return out, nil
}

// canonicalCategory maps a config key back to the built-in category it
// names. Viper lowercases keys and YAML authors may use underscores.
func canonicalCategory(name string) string {
	normalized := strings.ReplaceAll(name, "_", " ")
	for _, c := range finding.Categories {
		if strings.EqualFold(c, normalized) {
			return c
		}
	}
	return name
}

// The apply*Flag helpers copy a flag's value into the config only when the
// user set it on the command line, so the config file stays the default.

func applyIntFlag(flags *pflag.FlagSet, name string, setter func(int)) {
	if flag := changedFlag(flags, name); flag != nil {
		if v, err := flags.GetInt(name); err == nil {
			setter(v)
		}
	}
}

func applyBoolFlag(flags *pflag.FlagSet, name string, setter func(bool)) {
	if flag := changedFlag(flags, name); flag != nil {
		if v, err := flags.GetBool(name); err == nil {
			setter(v)
		}
	}
}

func applyDurationFlag(flags *pflag.FlagSet, name string, setter func(time.Duration)) {
	if flag := changedFlag(flags, name); flag != nil {
		if v, err := flags.GetDuration(name); err == nil {
			setter(v)
		}
	}
}

func applyStringFlag(flags *pflag.FlagSet, name string, setter func(string)) {
	if flag := changedFlag(flags, name); flag != nil {
		setter(flag.Value.String())
	}
}

func applyStringSliceFlag(flags *pflag.FlagSet, name string, setter func([]string)) {
	if flag := changedFlag(flags, name); flag != nil {
		if v, err := flags.GetStringSlice(name); err == nil {
			setter(v)
		}
	}
}

func changedFlag(flags *pflag.FlagSet, name string) *pflag.Flag {
	if flags == nil {
		return nil
	}
	flag := flags.Lookup(name)
	if flag == nil || !flag.Changed {
		return nil
	}
	return flag
}
