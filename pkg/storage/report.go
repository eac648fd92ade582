package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ItemFailure describes one failed item of a run.
type ItemFailure struct {
	Index   int    `json:"index"`
	Phase   string `json:"phase"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RunReport is the summary written after every iteration run.
type RunReport struct {
	RunID      string        `json:"run_id"`
	Source     string        `json:"source"`
	Collector  string        `json:"collector"`
	Status     string        `json:"status"`
	Dispatched int           `json:"dispatched"`
	Failed     int           `json:"failed"`
	Code       string        `json:"code,omitempty"`
	Error      string        `json:"error,omitempty"`
	Failures   []ItemFailure `json:"failures,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	DurationMs int64         `json:"duration_ms"`
}

// ReportPath returns the standard path of a run's report.
func ReportPath(runID string) string {
	return fmt.Sprintf("reports/%s/report.json", runID)
}

// ReportWriter stores run reports in a Store.
type ReportWriter struct {
	store  Store
	logger *zap.Logger
}

// NewReportWriter creates a report writer.
func NewReportWriter(store Store, logger *zap.Logger) *ReportWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportWriter{store: store, logger: logger}
}

// Write serializes the report to its standard path.
func (w *ReportWriter) Write(ctx context.Context, report *RunReport) (string, error) {
	if w.store == nil {
		return "", fmt.Errorf("report store not initialized")
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal run report: %w", err)
	}

	name := ReportPath(report.RunID)
	if err := w.store.Put(ctx, name, data); err != nil {
		return "", fmt.Errorf("failed to store run report: %w", err)
	}

	w.logger.Debug("stored run report",
		zap.String("run_id", report.RunID),
		zap.String("status", report.Status),
		zap.String("path", name),
		zap.Int("size_bytes", len(data)))
	return name, nil
}

// Read loads a run's report.
func (w *ReportWriter) Read(ctx context.Context, runID string) (*RunReport, error) {
	if w.store == nil {
		return nil, fmt.Errorf("report store not initialized")
	}

	rc, err := w.store.Open(ctx, ReportPath(runID))
	if err != nil {
		return nil, fmt.Errorf("failed to open run report: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read run report: %w", err)
	}

	var report RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse run report: %w", err)
	}
	return &report, nil
}
