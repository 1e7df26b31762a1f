package recorder

import (
	"time"

	"DebtAllocator/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewRunID returns the identifier that ties together every row written by
// one scheduler or API run.
func NewRunID() string { return uuid.NewString() }

// EvaluationRecord is a proposal produced by Evaluate.
type EvaluationRecord struct {
	RunID    string
	Trigger  model.TriggerType
	Proposal *model.AllocationProposal
}

// ExecutionRecord is the outcome of an Execute call. Result is nil when Err
// is set.
type ExecutionRecord struct {
	RunID   string
	Trigger model.TriggerType
	Caller  model.StrategyID
	Result  *model.ExecutionResult
	Err     error
}

// FeeReportRecord is one strategy report booked by the vault.
type FeeReportRecord struct {
	RunID  string
	Report model.FeeReport
}

// ExecutionRow is an executions row as read back for status output.
type ExecutionRow struct {
	RunID     string          `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Trigger   string          `json:"trigger"`
	Caller    string          `json:"caller"`
	Donor     string          `json:"donor"`
	Receiver  string          `json:"receiver"`
	Withdrawn decimal.Decimal `json:"withdrawn"`
	Deposited decimal.Decimal `json:"deposited"`
	Error     string          `json:"error,omitempty"`
}

// Recorder persists the allocation audit trail.
type Recorder interface {
	RecordEvaluation(rec *EvaluationRecord) error
	RecordExecution(rec *ExecutionRecord) error
	RecordFeeReport(rec *FeeReportRecord) error
	RecentExecutions(limit int) ([]ExecutionRow, error)
	Close() error
}
