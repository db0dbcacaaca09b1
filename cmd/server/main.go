package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mabridge/config"
	"mabridge/logger"
	"mabridge/metrics"
	"mabridge/registry"
	"mabridge/workers"
	"mabridge/workers/handlers"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the config file")
	flag.Parse()

	config.Init(*configPath)

	if err := logger.Setup(logger.Config{Level: config.Config.Log.Level, Dir: config.Config.Log.Dir}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	lg := logger.NewLogger("mabridge")
	lg.Info("starting bridge", "chains", len(config.Config.Chains), "storage", config.Config.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promRegistry := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(promRegistry)

	// without persistence do not continue
	reg, err := registry.Build(ctx, config.Config, lg, m)
	if err != nil {
		lg.Fatal("failed to build bridge instances", "error", err)
	}
	defer reg.Close()

	for _, ch := range reg.Chains() {
		lg.Info("hosting bridge instance", "chainId", ch.ID(), "name", ch.Config.Name, "ledger", ch.Config.Ledger)
	}

	// worker threads:
	// * observe swaps of every hosted chain and sign them
	// * redeem signed operations bound to hosted chains
	// * API serving HTTP(S) server
	// * metrics server
	g, ctx := errgroup.WithContext(ctx)

	if config.Config.Observer.Enabled {
		obs := workers.NewObserver(workers.Observer{
			Chains:     reg.Chains(),
			Operations: reg.Operations,
			Validator:  reg.Validator,
			Interval:   config.Config.Observer.Interval,
			Batch:      config.Config.Observer.Batch,
			Logger:     lg.NewSystem("observer"),
			Metrics:    m,
		})
		g.Go(func() error { return obs.Run(ctx) })
	}

	if config.Config.Relay.Enabled {
		relay := workers.NewRelay(workers.Relay{
			Registry:   reg,
			Operations: reg.Operations,
			Interval:   config.Config.Relay.Interval,
			Retries:    config.Config.Relay.Retries,
			Logger:     lg.NewSystem("relay"),
			Metrics:    m,
		})
		g.Go(func() error { return relay.Run(ctx) })
	}

	router := workers.NewRouter(handlers.New(reg, lg.NewSystem("api")))
	g.Go(func() error {
		return workers.ServeHTTP(ctx, workers.HTTPConfig{
			Listen:   config.Config.Server.Listen,
			UseSSL:   config.Config.Server.UseSSL,
			CertFile: config.Config.Server.CertFile,
			KeyFile:  config.Config.Server.KeyFile,
		}, router, lg.NewSystem("http"))
	})

	if config.Config.Server.MetricsListen != "" {
		g.Go(func() error {
			return workers.ServeMetrics(ctx, config.Config.Server.MetricsListen, promRegistry, lg.NewSystem("metrics"))
		})
	}

	if err := g.Wait(); err != nil {
		lg.Error("bridge exited with error", "error", err)
		reg.Close()
		os.Exit(1)
	}
	lg.Info("bridge stopped")
}
