package recorder

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordEvaluation(_ *EvaluationRecord) error     { return nil }
func (n *NoopRecorder) RecordExecution(_ *ExecutionRecord) error       { return nil }
func (n *NoopRecorder) RecordFeeReport(_ *FeeReportRecord) error       { return nil }
func (n *NoopRecorder) RecentExecutions(_ int) ([]ExecutionRow, error) { return nil, nil }
func (n *NoopRecorder) Close() error                                   { return nil }
