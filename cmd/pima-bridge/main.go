package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	pima "github.com/caarlos0/pima-bridge"
	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "pima-bridge",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error("pima-bridge failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	}
	root := &cobra.Command{
		Use:   "pima-bridge",
		Short: "HTTP, MQTT and HomeKit bridge for PIMA Hunter Pro alarm systems",
		Long: `pima-bridge talks to a PIMA Hunter Pro panel over a serial port or its
network adapter, keeps the alarm state fresh and exposes it over HTTP,
MQTT, websockets and HomeKit.

All settings come from the environment, see PIMA_LOGIN, PIMA_SERIAL_PORT,
PIMA_HOST, PIMA_PORT, API_KEY, MQTT_HOST and HOMEKIT_PIN.`,
		Version:       fmt.Sprintf("%s (commit %s, built at %s)", version, commit, date),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the bridge (default)",
			Args:  cobra.NoArgs,
			RunE:  serve,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current panel status as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runStatus(cmd.Context(), cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "arm <disarm|full_arm|home1|home2> [partition...]",
			Short: "Set the arm mode of the given partitions (default 1)",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runArm(cmd.Context(), cmd.OutOrStdout(), args[0], args[1:])
			},
		},
	)
	return root
}

func runServe(ctx context.Context) error {
	log.Info(
		"pima-bridge",
		"version", version,
		"commit", commit,
		"date", date,
		"info", strings.Join([]string{
			"HTTP, MQTT and HomeKit bridge for PIMA Hunter Pro alarm systems",
			"https://github.com/caarlos0/pima-bridge",
		}, "\n"),
	)

	cfg, err := loadConfig[Config]()
	if err != nil {
		return err
	}
	setupLogging(cfg.PanelConfig)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	publishers := &fanout{}
	publishers.add(metrics{})

	engine, where, err := newEngine(cfg.PanelConfig, publishers)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Error("could not close panel connection", "err", err)
		}
	}()

	log.Info("connecting to the panel", "zones", cfg.Zones, "address", where)
	if _, err := engine.GetStatus(ctx); err != nil {
		if errors.Is(err, pima.ErrAuthentication) {
			return err
		}
		log.Warn("panel not reachable yet, will keep trying", "err", err)
	}

	events := newHub(engine)
	publishers.add(events)
	defer events.Close()

	if cfg.MQTTHost != "" {
		bridge := newMQTTBridge(cfg, engine)
		publishers.add(bridge)
		bridge.Connect()
		defer bridge.Close()
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.HomeKitPIN != "" {
		serial := where
		if cfg.Host != "" {
			if mac, err := pima.MacAddress(cfg.Host); err != nil {
				log.Warn(
					"could not get the mac address, needs 'cap_net_raw+ep' capabilities",
					"err", err,
				)
			} else {
				serial = mac
			}
		}
		hk, err := setupHomeKit(cfg, engine, serial)
		if err != nil {
			return fmt.Errorf("could not create homekit server: %w", err)
		}
		publishers.add(hk)
		g.Go(func() error { return hk.ListenAndServe(ctx) })
	}

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           newRouter(cfg, engine, events),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info("starting http server", "addr", server.Addr, "tls", cfg.SSLCert != "")
		var err error
		if cfg.SSLCert != "" {
			err = server.ListenAndServeTLS(cfg.SSLCert, cfg.SSLKey)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("stopping server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := engine.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	return g.Wait()
}

func runStatus(ctx context.Context, w io.Writer) error {
	cfg, err := loadConfig[PanelConfig]()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	engine, _, err := newEngine(cfg, nil)
	if err != nil {
		return err
	}
	defer engine.Close()

	state, err := retry(ctx, func() (pima.AlarmState, error) {
		return engine.GetStatus(ctx)
	})
	if err != nil {
		return err
	}
	return printJSON(w, state)
}

func runArm(ctx context.Context, w io.Writer, modeArg string, partitionArgs []string) error {
	mode, err := pima.ParseMode(modeArg)
	if err != nil {
		return err
	}
	partitions, err := parsePartitions(partitionArgs)
	if err != nil {
		return err
	}
	if len(partitions) == 0 {
		partitions = defaultPartitions
	}

	cfg, err := loadConfig[PanelConfig]()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	engine, _, err := newEngine(cfg, nil)
	if err != nil {
		return err
	}
	defer engine.Close()

	log.Info("setting arm mode", "mode", mode, "partitions", partitions)
	state, err := retry(ctx, func() (pima.AlarmState, error) {
		return engine.SetArmMode(ctx, mode, partitions)
	})
	if err != nil {
		return err
	}
	return printJSON(w, state)
}

// retry keeps trying one-shot commands while the panel is unreachable.
func retry(ctx context.Context, fn func() (pima.AlarmState, error)) (pima.AlarmState, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Second * 5
	bo.MaxElapsedTime = time.Minute

	return backoff.RetryNotifyWithData(func() (pima.AlarmState, error) {
		state, err := fn()
		if errors.Is(err, pima.ErrAuthentication) ||
			errors.Is(err, pima.ErrInvalidArgument) {
			return state, backoff.Permanent(err)
		}
		return state, err
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		log.Warn("command to panel failed", "err", err, "retry in", next)
	})
}

func newEngine(cfg PanelConfig, publisher pima.Publisher) (*pima.Engine, string, error) {
	open, where, err := cfg.opener()
	if err != nil {
		return nil, "", err
	}
	opts := cfg.options()
	opts.Publisher = publisher
	opts.Logger = log.WithPrefix("pima")
	opts.OnExchange = observeExchange
	engine, err := pima.New(open, opts)
	if err != nil {
		return nil, "", fmt.Errorf("could not create engine: %w", err)
	}
	return engine, where, nil
}

func loadConfig[T interface{ validate() error }]() (T, error) {
	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.New(
			strings.TrimPrefix(strings.ReplaceAll(err.Error(), "; ", "\n"), "env: "),
		)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func setupLogging(cfg PanelConfig) {
	if level, err := logp.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.LogFile == "" {
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}))
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
