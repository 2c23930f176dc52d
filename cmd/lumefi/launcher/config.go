package launcher

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"
)

// Config aggregates every subsystem's configuration the launcher needs.
type Config struct {
	DataDir string
	Logging LoggingConfig
	Network NetworkConfig
	Funds   FundsConfig
	Genesis GenesisConfig
	Oracle  OracleConfig
	Metrics MetricsConfig
	Daemon  DaemonConfig
}

type LoggingConfig struct {
	Verbosity int
	Format    string
	Color     bool
	SentryDSN string
}

type NetworkConfig struct {
	// Preset selects the rules set: main, test or fake.
	Preset string

	// EpochLength overrides the preset's epoch length when non-zero.
	EpochLength time.Duration
}

type FundsConfig struct {
	Reserve common.Address
	Dev     common.Address
}

type GenesisConfig struct {
	// Holder receives the genesis supply of both tokens.
	Holder common.Address

	// Supply is the peg asset's genesis external supply, in whole tokens.
	Supply uint64
}

type OracleConfig struct {
	Window time.Duration
}

type MetricsConfig struct {
	Enable   bool
	Endpoint string
}

type DaemonConfig struct {
	Interval time.Duration
	Once     bool
}

// MakeAllConfigs merges defaults, an optional TOML config file, then CLI flag
// overrides into a single config struct.
func MakeAllConfigs(ctx *cli.Context) (Config, error) {
	cfg := DefaultConfig()

	if file := ctx.GlobalString("config"); file != "" {
		if err := loadConfigFile(file, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file %s: %w", file, err)
		}
	}

	applyCLIOverrides(ctx, &cfg)

	if err := ensureDir(cfg.DataDir); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewDecoder(bufio.NewReader(f)).Decode(cfg)
}

func applyCLIOverrides(ctx *cli.Context, cfg *Config) {
	if ctx.GlobalIsSet("datadir") {
		cfg.DataDir = resolvePath(ctx.GlobalString("datadir"))
	}

	if ctx.GlobalIsSet("log.format") {
		cfg.Logging.Format = ctx.GlobalString("log.format")
	}
	if ctx.GlobalIsSet("log.verbosity") {
		cfg.Logging.Verbosity = ctx.GlobalInt("log.verbosity")
	}
	if ctx.GlobalIsSet("log.color") {
		cfg.Logging.Color = ctx.GlobalBool("log.color")
	}
	if ctx.GlobalIsSet("log.sentry") {
		cfg.Logging.SentryDSN = ctx.GlobalString("log.sentry")
	}

	if ctx.GlobalIsSet("preset") {
		cfg.Network.Preset = ctx.GlobalString("preset")
	}
	if ctx.GlobalIsSet("epoch.length") {
		cfg.Network.EpochLength = ctx.GlobalDuration("epoch.length")
	}

	if ctx.GlobalIsSet("funds.reserve") {
		cfg.Funds.Reserve = common.HexToAddress(ctx.GlobalString("funds.reserve"))
	}
	if ctx.GlobalIsSet("funds.dev") {
		cfg.Funds.Dev = common.HexToAddress(ctx.GlobalString("funds.dev"))
	}
	if ctx.GlobalIsSet("genesis.holder") {
		cfg.Genesis.Holder = common.HexToAddress(ctx.GlobalString("genesis.holder"))
	}
	if ctx.GlobalIsSet("genesis.supply") {
		cfg.Genesis.Supply = ctx.GlobalUint64("genesis.supply")
	}
	if ctx.GlobalIsSet("oracle.window") {
		cfg.Oracle.Window = ctx.GlobalDuration("oracle.window")
	}

	if ctx.GlobalIsSet("metrics") {
		cfg.Metrics.Enable = ctx.GlobalBool("metrics")
	}
	if ctx.GlobalIsSet("metrics.endpoint") {
		cfg.Metrics.Endpoint = ctx.GlobalString("metrics.endpoint")
	}

	if ctx.GlobalIsSet("daemon.interval") {
		cfg.Daemon.Interval = ctx.GlobalDuration("daemon.interval")
	}
	if ctx.GlobalIsSet("daemon.once") {
		cfg.Daemon.Once = ctx.GlobalBool("daemon.once")
	}
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create datadir %s: %w", dir, err)
	}
	return nil
}

func resolvePath(p string) string {
	if strings.HasPrefix(p, "~") {
		return filepath.Join(GuessHomeDir(), strings.TrimPrefix(p, "~"))
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(GuessWorkDir(), p)
}

func GuessWorkDir() string {
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

func GuessHomeDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return dir
	}
	return "."
}
