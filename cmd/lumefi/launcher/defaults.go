package launcher

import (
	"path/filepath"
	"time"
)

// Well-known protocol accounts. A real deployment substitutes operator-owned
// addresses via flags or the config file; the derived defaults keep the fake
// preset self-contained.
var (
	DefaultOwner        = nameAddr("lumefi:owner")
	DefaultDaemon       = nameAddr("lumefi:daemon")
	DefaultTreasury     = nameAddr("lumefi:treasury")
	DefaultBoardroom    = nameAddr("lumefi:boardroom")
	DefaultReserveFund  = nameAddr("lumefi:fund:reserve")
	DefaultDevFund      = nameAddr("lumefi:fund:dev")
	DefaultFeeCollector = nameAddr("lumefi:fees")
	DefaultGenesis      = nameAddr("lumefi:genesis")
)

// DefaultConfig returns the baseline configuration values the launcher uses
// before the config file and flags override them.
func DefaultConfig() Config {
	return Config{
		DataDir: filepath.Join(GuessHomeDir(), ".lumefi"),
		Logging: LoggingConfig{
			Verbosity: 3,
			Format:    "text",
			Color:     true,
		},
		Network: NetworkConfig{
			Preset: "fake",
		},
		Funds: FundsConfig{
			Reserve: DefaultReserveFund,
			Dev:     DefaultDevFund,
		},
		Genesis: GenesisConfig{
			Holder: DefaultGenesis,
			Supply: 50000,
		},
		Oracle: OracleConfig{
			Window: 30 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enable:   false,
			Endpoint: "127.0.0.1:6060",
		},
		Daemon: DaemonConfig{
			Interval: time.Second,
		},
	}
}
