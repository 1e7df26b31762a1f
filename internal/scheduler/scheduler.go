package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"DebtAllocator/internal/allocator"
	"DebtAllocator/internal/model"
	"DebtAllocator/internal/notifier"
	"DebtAllocator/internal/recorder"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Vault is the part of the custodian the scheduled jobs drive directly.
type Vault interface {
	ProcessReport(ctx context.Context, id model.StrategyID) (model.FeeReport, error)
	Snapshot() model.VaultState
}

// VaultObserver receives balance snapshots and fee reports; metrics.Collector
// implements it.
type VaultObserver interface {
	ObserveVault(state *model.VaultState)
	ObserveFeeReport(r model.FeeReport)
}

// Scheduler manages the cron jobs and operator commands.
type Scheduler struct {
	cron     *cron.Cron
	engine   *allocator.Engine
	vault    Vault
	keeper   model.StrategyID
	notifier notifier.Notifier
	recorder recorder.Recorder
	observer VaultObserver
	ctx      context.Context
	log      zerolog.Logger
}

// NewScheduler creates a new Scheduler. Jobs run as keeper, which needs the
// debt manager role to rebalance and the accounting manager role to report.
func NewScheduler(ctx context.Context, engine *allocator.Engine, vault Vault, keeper model.StrategyID,
	n notifier.Notifier, rec recorder.Recorder, obs VaultObserver, log zerolog.Logger) *Scheduler {
	if n == nil {
		n = notifier.Noop{}
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		engine:   engine,
		vault:    vault,
		keeper:   keeper,
		notifier: n,
		recorder: rec,
		observer: obs,
		ctx:      ctx,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// RegisterAll registers the rebalance and report jobs.
func (s *Scheduler) RegisterAll(rebalanceCron, reportCron string) error {
	if _, err := s.cron.AddFunc(rebalanceCron, s.rebalanceTask); err != nil {
		return fmt.Errorf("register rebalance task: %w", err)
	}
	if _, err := s.cron.AddFunc(reportCron, s.reportTask); err != nil {
		return fmt.Errorf("register report task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunRebalanceNow executes one allocation pass immediately.
func (s *Scheduler) RunRebalanceNow(trigger model.TriggerType) (*model.ExecutionResult, error) {
	return s.rebalance(trigger)
}

// RunReportsNow has every registered strategy report immediately.
func (s *Scheduler) RunReportsNow() ([]model.FeeReport, error) {
	return s.reports()
}

func (s *Scheduler) rebalanceTask() {
	if _, err := s.rebalance(model.TriggerScheduled); err != nil {
		s.log.Error().Err(err).Msg("scheduled rebalance")
	}
}

func (s *Scheduler) reportTask() {
	if _, err := s.reports(); err != nil {
		s.log.Error().Err(err).Msg("scheduled reports")
	}
}

func (s *Scheduler) rebalance(trigger model.TriggerType) (*model.ExecutionResult, error) {
	runID := recorder.NewRunID()
	log := s.log.With().Str("run_id", runID).Str("trigger", string(trigger)).Logger()
	log.Info().Msg("running rebalance")

	res, err := s.engine.Execute(s.ctx, s.keeper, trigger)
	if recErr := s.recorder.RecordExecution(&recorder.ExecutionRecord{
		RunID:   runID,
		Trigger: trigger,
		Caller:  s.keeper,
		Result:  res,
		Err:     err,
	}); recErr != nil {
		log.Error().Err(recErr).Msg("record execution")
	}
	s.observeVault()

	if err != nil {
		s.trySend(notifier.FormatExecutionError(trigger, err))
		return nil, err
	}
	if res.Moved() {
		s.trySend(notifier.FormatExecution(res))
	}
	return res, nil
}

func (s *Scheduler) reports() ([]model.FeeReport, error) {
	runID := recorder.NewRunID()
	log := s.log.With().Str("run_id", runID).Logger()
	log.Info().Msg("running strategy reports")

	out, err := s.engine.Report(s.ctx, s.keeper, s.vault)
	if errors.Is(err, allocator.ErrUnauthorized) {
		return nil, err
	}
	for _, rep := range out {
		if s.observer != nil {
			s.observer.ObserveFeeReport(rep)
		}
		if recErr := s.recorder.RecordFeeReport(&recorder.FeeReportRecord{RunID: runID, Report: rep}); recErr != nil {
			log.Error().Err(recErr).Msg("record fee report")
		}
	}
	s.observeVault()
	s.trySend(notifier.FormatFeeReports(time.Now(), out))
	return out, err
}

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	name := ""
	if fields := strings.Fields(command); len(fields) > 0 {
		name = strings.ToLower(fields[0])
	}
	switch name {
	case "/evaluate":
		p, err := s.engine.Evaluate(ctx)
		if err != nil {
			return fmt.Sprintf("❌ evaluate failed: %v", err)
		}
		if err := s.recorder.RecordEvaluation(&recorder.EvaluationRecord{
			RunID: recorder.NewRunID(), Trigger: model.TriggerCommand, Proposal: p,
		}); err != nil {
			s.log.Error().Err(err).Msg("record evaluation")
		}
		return notifier.FormatProposal(p)
	case "/execute":
		res, err := s.rebalance(model.TriggerCommand)
		if err != nil {
			// already reported by rebalance
			return ""
		}
		if !res.Moved() {
			return notifier.FormatExecution(res)
		}
		return ""
	case "/status":
		state := s.vault.Snapshot()
		return notifier.FormatVaultStatus(&state)
	case "/report":
		if _, err := s.reports(); err != nil {
			return fmt.Sprintf("❌ %v", err)
		}
		return ""
	default:
		return "Available commands:\n• /evaluate\n• /execute\n• /status\n• /report"
	}
}

func (s *Scheduler) observeVault() {
	if s.observer == nil {
		return
	}
	state := s.vault.Snapshot()
	s.observer.ObserveVault(&state)
}

func (s *Scheduler) trySend(text string) {
	if err := s.notifier.SendWithRetry(s.ctx, text, 3); err != nil {
		s.log.Error().Err(err).Msg("send notification")
	}
}
