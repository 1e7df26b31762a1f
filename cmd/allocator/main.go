package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"DebtAllocator/internal/config"
	"DebtAllocator/internal/logger"
	"DebtAllocator/internal/model"
	"DebtAllocator/internal/server"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	defaultPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		defaultPath = v
	}

	root := &cobra.Command{
		Use:          "allocator",
		Short:        "Moves vault debt toward the highest-yielding strategy",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultPath, "path to config file")

	root.AddCommand(serveCmd(), evaluateCmd(), executeCmd(), reportCmd(), statusCmd(), tokenCmd(),
		feesCmd(), vaultCmd())
	return root
}

// setup loads config and logger and wires the service.
func setup(ctx context.Context) (*app, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation: %w", err)
	}

	log, closeLog := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Pretty:     cfg.Log.Pretty,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	logger.SetGlobalLogger(log)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		_ = closeLog()
		return nil, nil, err
	}
	cleanup := func() {
		if err := a.close(); err != nil {
			log.Error().Err(err).Msg("close app")
		}
		_ = closeLog()
	}
	return a, cleanup, nil
}

func serveCmd() *cobra.Command {
	var runOnStart bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, Telegram bot and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			log := a.log

			if err := a.scheduler.RegisterAll(a.cfg.Schedule.RebalanceCron, a.cfg.Schedule.ReportCron); err != nil {
				return fmt.Errorf("register cron tasks: %w", err)
			}
			a.scheduler.Start()
			defer a.scheduler.Stop()

			if a.telegram != nil {
				go a.telegram.StartPolling(ctx, a.scheduler.HandleCommand)
				log.Info().Msg("telegram polling started")
			}

			srv := server.New(server.Config{
				Addr:           a.cfg.Server.Addr,
				AllowedOrigins: a.cfg.Server.AllowedOrigins,
				Engine:         a.engine,
				Treasury:       a.treasury,
				Vault:          a.vault,
				Fees:           a.accountant,
				Catalog:        a.catalog,
				Tokens:         a.tokens,
				Recorder:       a.recorder,
				Log:            log,
			})
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			if runOnStart || os.Getenv("RUN_ON_START") == "true" {
				log.Info().Msg("running rebalance on start")
				go func() {
					if _, err := a.scheduler.RunRebalanceNow(model.TriggerManual); err != nil {
						log.Error().Err(err).Msg("rebalance on start")
					}
				}()
			}

			log.Info().Int("strategies", len(a.engine.Strategies())).Msg("debt allocator is running")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-sigCh:
				log.Info().Msg("shutdown signal received, stopping")
			case err := <-errCh:
				if err != nil {
					log.Error().Err(err).Msg("http server stopped")
				}
			}

			cancel()
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "execute one rebalance immediately")
	return cmd
}

func evaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Print the current allocation proposal without moving funds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			p, err := a.engine.Evaluate(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}
}

func executeCmd() *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Run one allocation pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if as != "" {
				caller, err := model.ParseStrategyID(as)
				if err != nil {
					return err
				}
				res, err := a.engine.Execute(cmd.Context(), caller, model.TriggerManual)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			}
			res, err := a.scheduler.RunRebalanceNow(model.TriggerManual)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "caller address (defaults to the keeper)")
	return cmd
}

func reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Have every registered strategy report gains and losses",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			reports, err := a.scheduler.RunReportsNow()
			if perr := printJSON(cmd, reports); perr != nil {
				return perr
			}
			return err
		},
	}
}

func statusCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show vault balances and recent executions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			state := a.vault.Snapshot()
			rows, err := a.recorder.RecentExecutions(limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"registered":   a.engine.Strategies(),
				"idle_balance": state.IdleBalance,
				"minimum_idle": state.MinimumIdle,
				"total_debt":   state.TotalDebt(),
				"accrued_fees": state.AccruedFees,
				"strategies":   state.Strategies,
				"executions":   rows,
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent executions to show")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <address>",
		Short: "Issue an API token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			account, err := model.ParseStrategyID(args[0])
			if err != nil {
				return err
			}
			tok, err := a.tokens.Issue(account, ttl)
			if err != nil {
				return err
			}
			a.log.Info().
				Str("account", account.Hex()).
				Str("roles", a.acl.Roles(account).String()).
				Dur("ttl", ttl).
				Msg("token issued")
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func feesCmd() *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "fees",
		Short: "Show accrued fees and the fee manager",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return printJSON(cmd, map[string]interface{}{
				"fee_manager":        a.accountant.FeeManager(),
				"future_fee_manager": a.accountant.FutureFeeManager(),
				"vault_accrued_fees": a.vault.Snapshot().AccruedFees,
				"reserve":            a.accountant.Reserve(),
			})
		},
	}
	cmd.PersistentFlags().StringVar(&as, "as", "", "caller address")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "distribute",
			Short: "Pay accrued fees out of idle to the fee manager",
			RunE: withCaller(&as, func(cmd *cobra.Command, a *app, caller model.StrategyID, _ []string) error {
				paid, err := a.treasury.DistributeFees(cmd.Context(), caller)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{"distributed": paid})
			}),
		},
		&cobra.Command{
			Use:   "propose <address>",
			Short: "Propose a new fee manager",
			Args:  cobra.ExactArgs(1),
			RunE: withCaller(&as, func(cmd *cobra.Command, a *app, caller model.StrategyID, args []string) error {
				next, err := model.ParseStrategyID(args[0])
				if err != nil {
					return err
				}
				if err := a.accountant.ProposeFeeManager(caller, next); err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{"future_fee_manager": next})
			}),
		},
		&cobra.Command{
			Use:   "accept",
			Short: "Accept a proposed fee manager role",
			RunE: withCaller(&as, func(cmd *cobra.Command, a *app, caller model.StrategyID, _ []string) error {
				if err := a.accountant.AcceptFeeManager(caller); err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{"fee_manager": caller})
			}),
		},
	)
	return cmd
}

func vaultCmd() *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Move idle capital or revoke strategies",
	}
	cmd.PersistentFlags().StringVar(&as, "as", "", "caller address")

	amountCmd := func(use, short string, op func(*app) func(context.Context, model.StrategyID, decimal.Decimal) error) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <amount>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: withCaller(&as, func(cmd *cobra.Command, a *app, caller model.StrategyID, args []string) error {
				amount, err := decimal.NewFromString(args[0])
				if err != nil {
					return fmt.Errorf("amount: %w", err)
				}
				if err := op(a)(cmd.Context(), caller, amount); err != nil {
					return err
				}
				state := a.vault.Snapshot()
				return printJSON(cmd, map[string]interface{}{
					"idle_balance": state.IdleBalance,
					"total_assets": state.TotalAssets(),
				})
			}),
		}
	}
	cmd.AddCommand(
		amountCmd("deposit", "Add idle capital", func(a *app) func(context.Context, model.StrategyID, decimal.Decimal) error {
			return a.treasury.Deposit
		}),
		amountCmd("withdraw", "Take idle capital out", func(a *app) func(context.Context, model.StrategyID, decimal.Decimal) error {
			return a.treasury.Withdraw
		}),
		&cobra.Command{
			Use:   "revoke <address>",
			Short: "Deactivate an unregistered strategy with no debt",
			Args:  cobra.ExactArgs(1),
			RunE: withCaller(&as, func(cmd *cobra.Command, a *app, caller model.StrategyID, args []string) error {
				id, err := model.ParseStrategyID(args[0])
				if err != nil {
					return err
				}
				if err := a.treasury.RevokeStrategy(cmd.Context(), caller, id); err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{"revoked": id})
			}),
		},
	)
	return cmd
}

// withCaller wires the service and parses the --as address before running fn.
func withCaller(as *string, fn func(cmd *cobra.Command, a *app, caller model.StrategyID, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if *as == "" {
			return fmt.Errorf("--as is required")
		}
		caller, err := model.ParseStrategyID(*as)
		if err != nil {
			return fmt.Errorf("--as: %w", err)
		}
		a, cleanup, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(cmd, a, caller, args)
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
