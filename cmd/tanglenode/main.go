// Package main is the tanglenode entry point: running the node, and the
// ledgerdiff diagnostic subcommand, mirroring the teacher's cmd/kcn/main.go
// shape of one urfave/cli.App with a default Action plus a Commands list.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/tangleproto/tanglenode/internal/log"
	"github.com/tangleproto/tanglenode/pkg/app"
	"github.com/tangleproto/tanglenode/pkg/config"
	"github.com/tangleproto/tanglenode/pkg/ledger"
)

var logger = log.New("main")

var configFlag = cli.StringFlag{
	Name:  "config",
	Usage: "path to a TOML config file, applied on top of the built-in defaults",
}

var dataDirFlag = cli.StringFlag{
	Name:  "datadir",
	Usage: "overrides the configured badger data directory (if neither this flag nor the config sets one, an in-memory store is used)",
}

var metricsAddrFlag = cli.StringFlag{
	Name:  "metrics-addr",
	Usage: "address the Prometheus /metrics endpoint listens on",
	Value: ":9311",
}

func loadConfig(ctx *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := ctx.GlobalString(configFlag.Name); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("loading config: %w", err)
		}
	}
	if dir := ctx.GlobalString(dataDirFlag.Name); dir != "" {
		cfg.DataDir = dir
	}
	return cfg, nil
}

func runNode(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	backend, err := app.OpenBackend(cfg)
	if err != nil {
		return fmt.Errorf("opening backend: %w", err)
	}
	defer backend.Close()

	reg := prometheus.NewRegistry()
	if addr := ctx.GlobalString(metricsAddrFlag.Name); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Warnw("metrics server stopped", "addr", addr, "err", err)
			}
		}()
		logger.Infow("metrics listening", "addr", addr)
	}

	a := app.New(cfg, backend, reg)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.Run(runCtx)
}

func ledgerdiffCommand() cli.Command {
	return cli.Command{
		Name:      "ledgerdiff",
		Usage:     "print the persisted created/spent output diff for a milestone index",
		ArgsUsage: "<milestone-index>",
		Flags:     []cli.Flag{configFlag, dataDirFlag},
		Action:    runLedgerDiff,
	}
}

func runLedgerDiff(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.NewExitError("usage: tanglenode ledgerdiff <milestone-index>", 1)
	}
	index, err := strconv.ParseUint(ctx.Args().First(), 10, 32)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("invalid milestone index %q: %v", ctx.Args().First(), err), 1)
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	backend, err := app.OpenBackend(cfg)
	if err != nil {
		return fmt.Errorf("opening backend: %w", err)
	}
	defer backend.Close()

	l := ledger.New(backend)
	diff, found, err := l.DiffForMilestone(uint32(index))
	if err != nil {
		return fmt.Errorf("reading diff: %w", err)
	}
	if !found {
		fmt.Printf("no diff persisted for milestone %d\n", index)
		return nil
	}

	fmt.Printf("milestone %d: %d created, %d spent\n", diff.MilestoneIndex, len(diff.Created), len(diff.Spent))
	for _, id := range diff.Created {
		fmt.Printf("  +created %s\n", id)
	}
	for _, id := range diff.Spent {
		fmt.Printf("  -spent   %s\n", id)
	}
	return nil
}

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "tanglenode"
	cliApp.Usage = "a tangle DAG distributed-ledger node"
	cliApp.Flags = []cli.Flag{configFlag, dataDirFlag, metricsAddrFlag}
	cliApp.Action = runNode
	cliApp.Commands = []cli.Command{ledgerdiffCommand()}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
