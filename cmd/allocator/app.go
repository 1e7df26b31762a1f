package main

import (
	"context"
	"errors"
	"fmt"

	"DebtAllocator/internal/allocator"
	"DebtAllocator/internal/auth"
	"DebtAllocator/internal/config"
	"DebtAllocator/internal/fees"
	"DebtAllocator/internal/ledger"
	"DebtAllocator/internal/metrics"
	"DebtAllocator/internal/model"
	"DebtAllocator/internal/notifier"
	"DebtAllocator/internal/recorder"
	"DebtAllocator/internal/scheduler"
	"DebtAllocator/internal/strategy"

	"github.com/rs/zerolog"
)

// app holds every wired component of the service.
type app struct {
	cfg        *config.Config
	keeper     model.StrategyID
	accountant *fees.Accountant
	vault      *ledger.Vault
	acl        *auth.ACL
	catalog    *strategy.Catalog
	store      allocator.RegistryStore
	engine     *allocator.Engine
	treasury   *allocator.Treasury
	recorder   recorder.Recorder
	metrics    *metrics.Collector
	notifier   notifier.Notifier
	telegram   *notifier.TelegramNotifier
	scheduler  *scheduler.Scheduler
	tokens     *auth.TokenVerifier
	log        zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: metrics.NewCollector()}
	var err error

	if cfg.Auth.Keeper != "" {
		if a.keeper, err = model.ParseStrategyID(cfg.Auth.Keeper); err != nil {
			return nil, fmt.Errorf("keeper: %w", err)
		}
	}

	if err := a.initFees(); err != nil {
		return nil, err
	}
	if err := a.initVault(ctx); err != nil {
		return nil, err
	}
	if err := a.initACL(); err != nil {
		return nil, err
	}

	a.catalog, err = strategy.FromConfig(cfg.Strategies, a.vault, cfg.Proxy, log)
	if err != nil {
		return nil, fmt.Errorf("build strategies: %w", err)
	}

	a.recorder = recorder.NewNoopRecorder()
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, log)
		if err != nil {
			log.Warn().Err(err).Msg("init sqlite recorder failed, using noop")
		} else {
			a.recorder = sr
		}
	}

	if err := a.initEngine(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.notifier = notifier.Noop{}
	if cfg.TelegramEnabled() {
		a.telegram = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy,
			notifier.WithLogger(log))
		a.notifier = a.telegram
	}

	a.scheduler = scheduler.NewScheduler(ctx, a.engine, a.vault, a.keeper, a.notifier, a.recorder, a.metrics, log)
	a.tokens = auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	a.metrics.ObserveVault(ptr(a.vault.Snapshot()))
	return a, nil
}

func (a *app) initFees() error {
	cfg := a.cfg.Fees
	var manager model.StrategyID
	if cfg.Manager != "" {
		var err error
		if manager, err = model.ParseStrategyID(cfg.Manager); err != nil {
			return fmt.Errorf("fee manager: %w", err)
		}
	}
	opts := []fees.Option{
		fees.WithThresholds(cfg.ManagementThreshold, cfg.PerformanceThreshold),
		fees.WithLogger(a.log),
	}
	if cfg.Refunds {
		opts = append(opts, fees.WithRefunds())
	}
	var err error
	if a.accountant, err = fees.Open(cfg.StateFile, manager, opts...); err != nil {
		return err
	}
	if !a.accountant.Restored() {
		if err := a.accountant.FundReserve(cfg.Reserve.Decimal); err != nil {
			return err
		}
	}
	// A handover may have replaced the configured manager.
	manager = a.accountant.FeeManager()

	for _, sc := range a.cfg.Strategies {
		if sc.ManagementFee == 0 && sc.PerformanceFee == 0 {
			continue
		}
		id, err := model.ParseStrategyID(sc.ID)
		if err != nil {
			return err
		}
		if err := a.accountant.SetManagementFee(manager, id, sc.ManagementFee); err != nil {
			return fmt.Errorf("strategy %s: %w", sc.ID, err)
		}
		if err := a.accountant.SetPerformanceFee(manager, id, sc.PerformanceFee); err != nil {
			return fmt.Errorf("strategy %s: %w", sc.ID, err)
		}
	}
	return nil
}

// initVault opens the vault and activates any configured strategy it does
// not know yet. A brand new vault also takes the initial deposit and debts.
func (a *app) initVault(ctx context.Context) error {
	policy, err := ledger.ParseCapPolicy(a.cfg.Vault.CapPolicy)
	if err != nil {
		return err
	}
	a.vault, err = ledger.NewVault(a.cfg.Vault.StateFile,
		ledger.WithCapPolicy(policy),
		ledger.WithAccountant(a.accountant),
		ledger.WithLogger(a.log),
	)
	if err != nil {
		return err
	}

	fresh := len(a.vault.Snapshot().Strategies) == 0
	if err := a.vault.SetMinimumIdle(ctx, a.cfg.Vault.MinimumIdle.Decimal); err != nil {
		return err
	}
	if fresh && a.cfg.Vault.InitialDeposit.IsPositive() {
		if err := a.vault.Deposit(ctx, a.cfg.Vault.InitialDeposit.Decimal); err != nil {
			return err
		}
	}

	for _, sc := range a.cfg.Strategies {
		id, err := model.ParseStrategyID(sc.ID)
		if err != nil {
			return err
		}
		if a.vault.IsActive(id) {
			if err := a.vault.UpdateMaxDebt(ctx, id, sc.MaxDebt.Decimal); err != nil {
				return err
			}
			continue
		}
		if err := a.vault.AddStrategy(ctx, id, sc.MaxDebt.Decimal); err != nil {
			return err
		}
		if fresh && sc.InitialDebt.IsPositive() {
			if _, err := a.vault.SetTargetDebt(ctx, id, sc.InitialDebt.Decimal); err != nil {
				return fmt.Errorf("initial debt for %s: %w", sc.ID, err)
			}
		}
	}
	return nil
}

// initACL applies configured grants. The keeper always holds the debt and
// accounting manager roles so scheduled rebalances and reports can run.
func (a *app) initACL() error {
	a.acl = auth.NewACL()
	for _, g := range a.cfg.Auth.Grants {
		id, err := model.ParseStrategyID(g.Address)
		if err != nil {
			return err
		}
		roles, err := auth.ParseRoles(g.Roles)
		if err != nil {
			return err
		}
		a.acl.Grant(id, roles)
	}
	if a.keeper != (model.StrategyID{}) {
		a.acl.Grant(a.keeper, auth.RoleDebtManager|auth.RoleAccountingManager)
	}
	return nil
}

// initEngine restores the registry from disk. On first start the store is
// seeded with every configured strategy.
func (a *app) initEngine(ctx context.Context) error {
	store, err := allocator.OpenBadgerStore(a.cfg.Registry.Dir)
	if err != nil {
		return fmt.Errorf("open registry store: %w", err)
	}
	a.store = store

	_, found, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if !found {
		if err := store.Save(ctx, a.catalog.IDs()); err != nil {
			return err
		}
	}

	registry := allocator.NewRegistry(a.acl, a.vault, store, a.log)
	if err := registry.Restore(ctx, a.catalog.Get); err != nil {
		return err
	}
	a.engine = allocator.NewEngine(registry, a.vault, a.acl,
		allocator.WithStrictCaps(a.cfg.Engine.StrictCaps),
		allocator.WithObserver(a.metrics),
		allocator.WithLogger(a.log),
	)
	a.treasury = allocator.NewTreasury(a.engine, a.vault, a.acl, a.log)
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.recorder != nil {
		errs = append(errs, a.recorder.Close())
	}
	return errors.Join(errs...)
}

func ptr[T any](v T) *T { return &v }
