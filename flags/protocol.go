package flags

import (
	"time"

	"gopkg.in/urfave/cli.v1"
)

// ProtocolFlags covers the monetary-policy configuration of the daemon.

func ProtocolFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "preset",
			Usage: "Rules preset (main|test|fake)",
			Value: "fake",
		},
		cli.DurationFlag{
			Name:  "epoch.length",
			Usage: "Override the preset epoch length",
		},
		cli.StringFlag{
			Name:  "funds.reserve",
			Usage: "Reserve fund address (hex)",
		},
		cli.StringFlag{
			Name:  "funds.dev",
			Usage: "Dev fund address (hex)",
		},
		cli.StringFlag{
			Name:  "genesis.holder",
			Usage: "Address receiving the genesis supply (hex)",
		},
		cli.Uint64Flag{
			Name:  "genesis.supply",
			Usage: "Genesis external supply of the peg asset (whole tokens)",
			Value: 50000,
		},
		cli.DurationFlag{
			Name:  "oracle.window",
			Usage: "TWAP averaging window",
			Value: 30 * time.Minute,
		},
	}
}

// DaemonFlags tunes the epoch-trigger loop.
func DaemonFlags() []cli.Flag {
	return []cli.Flag{
		cli.DurationFlag{
			Name:  "daemon.interval",
			Usage: "How often the daemon checks for a sealable epoch",
			Value: time.Second,
		},
		cli.BoolFlag{
			Name:  "daemon.once",
			Usage: "Attempt a single allocation and exit",
		},
	}
}
