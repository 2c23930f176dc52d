package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/evalphobia/logrus_sentry"
	"github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/lume-fi/lumefi-contracts/flags"
	"github.com/lume-fi/lumefi-contracts/inter"
	"github.com/lume-fi/lumefi-contracts/lume"
	"github.com/lume-fi/lumefi-contracts/monitoring/prometheus"
	"github.com/lume-fi/lumefi-contracts/token"
	"github.com/lume-fi/lumefi-contracts/treasury"
)

var app = flags.NewApp()

func init() {
	app.Action = lumefiMain
}

// Launch runs the daemon with the given command-line arguments.
func Launch(args []string) error {
	return app.Run(args)
}

func lumefiMain(ctx *cli.Context) error {
	cfg, err := MakeAllConfigs(ctx)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.Logging); err != nil {
		return err
	}

	rules, err := makeRules(cfg)
	if err != nil {
		return err
	}
	dep, err := deploy(rules, cfg)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"preset":      rules.Name,
		"epochLength": rules.Epochs.Length,
		"datadir":     cfg.DataDir,
	}).Info("deployment ready")

	if cfg.Metrics.Enable {
		prometheus.PrometheusListener(cfg.Metrics.Endpoint, dep.Alloc, dep.Board,
			[]token.Ledger{dep.Lume, dep.Share})
	}

	if cfg.Daemon.Once {
		return tryAllocate(dep)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(cfg.Daemon.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := tryAllocate(dep); err != nil {
				logrus.WithError(err).Error("allocation attempt failed")
			}
		case sig := <-stop:
			logrus.WithField("signal", sig).Info("shutting down")
			return nil
		}
	}
}

// tryAllocate attempts one epoch allocation. Not-yet-due epochs are a normal
// outcome, not an error.
func tryAllocate(dep *Deployment) error {
	err := dep.Alloc.AllocateSeigniorage(DefaultDaemon, inter.ToTimestamp(time.Now()))
	switch {
	case err == nil:
		logrus.WithField("epoch", dep.Alloc.CurrentEpoch()).Info("epoch sealed")
		return nil
	case errors.Is(err, treasury.ErrEpochNotReady), errors.Is(err, treasury.ErrDuplicateTrigger):
		return nil
	default:
		return err
	}
}

func makeRules(cfg Config) (lume.Rules, error) {
	var rules lume.Rules
	switch cfg.Network.Preset {
	case "main":
		rules = lume.MainNetRules()
	case "test":
		rules = lume.TestNetRules()
	case "fake":
		rules = lume.FakeNetRules()
	default:
		return rules, fmt.Errorf("unknown rules preset %q", cfg.Network.Preset)
	}
	if cfg.Network.EpochLength > 0 {
		rules.Epochs.Length = cfg.Network.EpochLength
	}
	if err := rules.Validate(); err != nil {
		return rules, err
	}
	return rules, nil
}

// setupLogging configures both logging stacks: logrus for the daemon's own
// operational output (with an optional Sentry hook) and the go-ethereum
// logger the accounting packages write to.
func setupLogging(cfg LoggingConfig) error {
	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{ForceColors: cfg.Color})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	logrus.SetLevel(verbosityToLogrus(cfg.Verbosity))

	if cfg.SentryDSN != "" {
		hook, err := logrus_sentry.NewSentryHook(cfg.SentryDSN, []logrus.Level{
			logrus.PanicLevel,
			logrus.FatalLevel,
			logrus.ErrorLevel,
		})
		if err != nil {
			return fmt.Errorf("sentry hook: %w", err)
		}
		logrus.AddHook(hook)
	}

	var gethFormat log.Format
	if cfg.Format == "json" {
		gethFormat = log.JSONFormat()
	} else {
		gethFormat = log.TerminalFormat(cfg.Color)
	}
	log.Root().SetHandler(log.LvlFilterHandler(
		log.Lvl(cfg.Verbosity),
		log.StreamHandler(os.Stderr, gethFormat),
	))
	return nil
}

func verbosityToLogrus(v int) logrus.Level {
	switch {
	case v <= 0:
		return logrus.FatalLevel
	case v == 1:
		return logrus.ErrorLevel
	case v == 2:
		return logrus.WarnLevel
	case v == 3:
		return logrus.InfoLevel
	case v == 4:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}
