package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"trade_engine/internal/app"
	"trade_engine/internal/domain"
	"trade_engine/internal/feed"
	"trade_engine/internal/report"
	"trade_engine/internal/strategy"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	_ "net/http/pprof" // For pprof profiling
)

var (
	configPath string
	pprofAddr  string
)

var rootCmd = &cobra.Command{
	Use:           "trade_engine",
	Short:         "Event-driven trading engine: backtest and paper trade one strategy",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if pprofAddr == "" {
			return
		}
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", pprofAddr))
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	},
}

var backtestCmd = &cobra.Command{
	Use:   "backtest --data bars.csv",
	Short: "Replay a CSV file of bars through the simulated backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		instrument, _ := cmd.Flags().GetString("instrument")
		tfName, _ := cmd.Flags().GetString("timeframe")
		equityOut, _ := cmd.Flags().GetString("equity-out")

		tf, err := domain.ParseTimeframe(tfName)
		if err != nil {
			return err
		}
		strat, err := smaFromFlags(cmd, instrument, tf)
		if err != nil {
			return err
		}
		src, err := feed.OpenCSV(data, feed.CSVOptions{Instrument: instrument, Timeframe: tf})
		if err != nil {
			return err
		}

		return withBootstrap(func(ctx context.Context, b *app.Bootstrap) error {
			rec, runErr := b.Backtest(ctx, src, strat)
			if rec != nil {
				printRecord(rec)
				if equityOut != "" {
					if err := report.SaveEquityCSV(equityOut, rec.Run.Equity); err != nil {
						return errors.Join(runErr, err)
					}
					fmt.Println("Equity curve written to:", equityOut)
				}
			}
			return runErr
		})
	},
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Paper trade against a websocket feed (or a CSV file) until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, _ := cmd.Flags().GetString("data")
		instrument, _ := cmd.Flags().GetString("instrument")
		tfName, _ := cmd.Flags().GetString("timeframe")

		tf, err := domain.ParseTimeframe(tfName)
		if err != nil {
			return err
		}
		strat, err := smaFromFlags(cmd, instrument, tf)
		if err != nil {
			return err
		}

		return withBootstrap(func(ctx context.Context, b *app.Bootstrap) error {
			var src feed.Source
			if data != "" {
				csvSrc, err := feed.OpenCSV(data, feed.CSVOptions{Instrument: instrument, Timeframe: tf})
				if err != nil {
					return err
				}
				src = csvSrc
			} else {
				ws, err := b.WebSocketSource(tf)
				if err != nil {
					return err
				}
				ws.Start(ctx)
				defer func() {
					if err := ws.Stop(); err != nil {
						slog.Warn("Websocket source stopped with error", slog.Any("error", err))
					}
				}()
				src = ws
			}

			// SIGUSR1 re-arms a tripped drawdown breaker.
			usr1 := make(chan os.Signal, 1)
			signal.Notify(usr1, syscall.SIGUSR1)
			defer signal.Stop(usr1)
			go func() {
				for {
					select {
					case <-usr1:
						slog.Info("🔁 Breaker reset requested")
						b.ResetBreaker()
					case <-ctx.Done():
						return
					}
				}
			}()

			slog.InfoContext(ctx, "✨ Live session running. Press Ctrl+C to stop. Send SIGUSR1 to reset the drawdown breaker.")
			rec, runErr := b.Live(ctx, src, strat)
			if rec != nil {
				printRecord(rec)
			}
			return runErr
		})
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withBootstrap(func(_ context.Context, b *app.Bootstrap) error {
			runs, err := b.Storage.ListRuns(limit)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Run", "Mode", "Events", "Final Equity", "Halted", "Created"})
			for _, r := range runs {
				table.Append([]string{
					r.ID, r.Mode, strconv.FormatUint(r.Events, 10),
					r.FinalEquity.StringFixed(2), strconv.FormatBool(r.Halted),
					r.CreatedAt.Format("2006-01-02 15:04:05"),
				})
			}
			table.Render()
			return nil
		})
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect RUN_ID",
	Short: "Show a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		equityOut, _ := cmd.Flags().GetString("equity-out")
		return withBootstrap(func(_ context.Context, b *app.Bootstrap) error {
			rec, err := b.Load(args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			printRecord(rec)
			if equityOut != "" {
				return report.SaveEquityCSV(equityOut, rec.Run.Equity)
			}
			return nil
		})
	},
}

func withBootstrap(fn func(ctx context.Context, b *app.Bootstrap) error) error {
	bootstrap := app.NewBootstrap(configPath)
	if err := bootstrap.Initialize(); err != nil {
		return fmt.Errorf("bootstrapping failed: %w", err)
	}
	defer bootstrap.Close()

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, bootstrap)
}

func smaFromFlags(cmd *cobra.Command, instrument string, tf domain.Timeframe) (strategy.Strategy, error) {
	short, _ := cmd.Flags().GetInt("short")
	long, _ := cmd.Flags().GetInt("long")
	qty, _ := cmd.Flags().GetString("qty")
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return nil, fmt.Errorf("qty: %w", err)
	}
	return strategy.NewSMACrossStrategy(instrument, tf, short, long, q)
}

func printRecord(rec *report.Record) {
	report.RenderSummary(os.Stdout, *rec)
	if len(rec.Run.Positions) > 0 {
		report.RenderPositions(os.Stdout, *rec)
	}
	if len(rec.Run.Operations) > 0 {
		report.RenderOperations(os.Stdout, *rec)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "YAML config file (empty for defaults)")
	rootCmd.PersistentFlags().StringVar(&pprofAddr, "pprof", "", "serve pprof on this address, e.g. localhost:6060")

	for _, c := range []*cobra.Command{backtestCmd, liveCmd} {
		c.Flags().String("instrument", "BTC-USD", "instrument traded by the strategy")
		c.Flags().String("timeframe", "1m", "bar timeframe of the data and the strategy")
		c.Flags().Int("short", 10, "short SMA period")
		c.Flags().Int("long", 30, "long SMA period")
		c.Flags().String("qty", "1", "order quantity")
	}
	backtestCmd.Flags().String("data", "", "CSV file of bars")
	backtestCmd.MarkFlagRequired("data")
	backtestCmd.Flags().String("equity-out", "", "write the equity curve CSV here")
	liveCmd.Flags().String("data", "", "replay this CSV file instead of the websocket feed")
	runsCmd.Flags().Int("limit", 20, "number of runs to list")
	inspectCmd.Flags().String("equity-out", "", "write the equity curve CSV here")

	rootCmd.AddCommand(backtestCmd, liveCmd, runsCmd, inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("❌ Command failed", slog.Any("error", err))
		os.Exit(1)
	}
}
