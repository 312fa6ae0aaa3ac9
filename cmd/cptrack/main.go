// Command cptrack tracks critical points of a time-varying 2D scalar
// field. Without -peers every block runs in this process; with -peers
// each process runs the block given by -rank and the processes talk over
// websockets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/notargets/CPTrack/config"
	"github.com/notargets/CPTrack/fileio"
	"github.com/notargets/CPTrack/pipeline"
	"github.com/notargets/CPTrack/transport"
)

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("run failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// a trajectory file skips the analysis
	if cfg.ReadTraj != "" {
		trs, err := fileio.ReadTrajectoryFile(cfg.ReadTraj)
		if err != nil {
			return err
		}
		return pipeline.PrintTrajectories(os.Stdout, trs)
	}

	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, logger)
	}

	var res *pipeline.Result
	if len(cfg.Peers) == 0 {
		results, err := pipeline.Simulate(ctx, cfg, logger)
		if err != nil {
			return err
		}
		res = results[0]
	} else {
		var err error
		if res, err = runPeer(ctx, cfg, logger); err != nil {
			return err
		}
	}

	if res.Rank == 0 {
		logger.Info("done",
			slog.Int64("intersections", res.Intersections),
			slog.Int("components", len(res.Components)),
			slog.Int("trajectories", len(res.Trajectories)))
		if cfg.Print {
			return pipeline.PrintTrajectories(os.Stdout, res.Trajectories)
		}
	}
	return nil
}

func runPeer(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pipeline.Result, error) {
	r, err := pipeline.NewRun(cfg, logger)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", cfg.Peers[cfg.Rank])
	if err != nil {
		return nil, err
	}
	tr, err := transport.NewWebsocket(ctx, ln, cfg.Rank, cfg.Peers, logger)
	if err != nil {
		return nil, err
	}
	defer tr.Close()

	b, err := r.NewBlock(tr)
	if err != nil {
		return nil, err
	}
	return b.Run(ctx)
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", slog.String("addr", addr), slog.Any("err", err))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", addr))
}
