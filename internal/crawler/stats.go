package crawler

import (
	"time"

	"go.uber.org/zap"
)

// Run statuses reported in Summary.Status.
const (
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
	StatusFailed    = "failed"
)

// Summary is the end-of-run report.
type Summary struct {
	RunID           string         `json:"run_id"`
	Status          string         `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	Elapsed         time.Duration  `json:"elapsed"`
	PagesProcessed  int            `json:"pages_processed"`
	PagesSkipped    int            `json:"pages_skipped"`
	ItemsProcessed  int            `json:"items_processed"`
	ItemsDropped    int            `json:"items_dropped"`
	ItemsSkipped    int            `json:"items_skipped"`
	SuccessRate     float64        `json:"success_rate"`
	AvgItemsPerPage float64        `json:"avg_items_per_page"`
	ItemsPerMinute  float64        `json:"items_per_minute"`
	SessionResets   int            `json:"session_resets"`
	DropReasons     map[string]int `json:"drop_reasons,omitempty"`
}

// Summarize derives rates from the run counters. Every ratio is guarded so an
// empty run reports zeros instead of NaN.
func Summarize(runID string, state *CrawlState, sessionResets int, started, finished time.Time) Summary {
	s := Summary{
		RunID:         runID,
		StartedAt:     started,
		FinishedAt:    finished,
		SessionResets: sessionResets,
	}
	if state == nil {
		return s
	}
	s.PagesProcessed = state.PagesProcessed
	s.PagesSkipped = state.PagesSkipped
	s.ItemsProcessed = state.ItemsProcessed
	s.ItemsDropped = state.ItemsDropped
	s.ItemsSkipped = state.ItemsSkipped
	if len(state.DropReasons) > 0 {
		s.DropReasons = make(map[string]int, len(state.DropReasons))
		for k, v := range state.DropReasons {
			s.DropReasons[k] = v
		}
	}

	if total := s.ItemsProcessed + s.ItemsDropped; total > 0 {
		s.SuccessRate = float64(s.ItemsProcessed) / float64(total) * 100
	}
	if s.PagesProcessed > 0 {
		s.AvgItemsPerPage = float64(s.ItemsProcessed) / float64(s.PagesProcessed)
	}
	if finished.After(started) {
		s.Elapsed = finished.Sub(started)
		if minutes := s.Elapsed.Minutes(); minutes > 0 {
			s.ItemsPerMinute = float64(s.ItemsProcessed) / minutes
		}
	}
	return s
}

// Log writes the summary as a single structured entry.
func (s Summary) Log(logger *zap.Logger) {
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("run_id", s.RunID),
		zap.String("status", s.Status),
		zap.Int("pages_processed", s.PagesProcessed),
		zap.Int("pages_skipped", s.PagesSkipped),
		zap.Int("items_processed", s.ItemsProcessed),
		zap.Int("items_dropped", s.ItemsDropped),
		zap.Int("items_skipped", s.ItemsSkipped),
		zap.Float64("success_rate", s.SuccessRate),
		zap.Float64("avg_items_per_page", s.AvgItemsPerPage),
		zap.Float64("items_per_minute", s.ItemsPerMinute),
		zap.Int("session_resets", s.SessionResets),
		zap.Duration("elapsed", s.Elapsed),
	}
	if len(s.DropReasons) > 0 {
		fields = append(fields, zap.Any("drop_reasons", s.DropReasons))
	}
	logger.Info("Crawl finished", fields...)
}
