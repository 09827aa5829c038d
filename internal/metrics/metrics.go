// Package metrics keeps running totals across pipeline runs and serves them
// over HTTP for the scheduled mode.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// RunStats is what a single pipeline run reports.
type RunStats struct {
	Feeds              int
	FeedsFailed        int
	FeedsUnchanged     int
	ArticlesCreated    int
	ArticlesFailed     int
	DuplicatesFiltered int
	SummariesGenerated int
	SummaryFallbacks   int
	NotificationsSent  int
	NotificationErrors int
	Duration           time.Duration
}

type Metrics struct {
	mu sync.RWMutex

	Runs               int64
	FeedsProcessed     int64
	FeedsFailed        int64
	FeedsUnchanged     int64
	ArticlesCreated    int64
	ArticlesFailed     int64
	DuplicatesFiltered int64
	SummariesGenerated int64
	SummaryFallbacks   int64
	NotificationsSent  int64
	NotificationErrors int64

	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration

	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

func New() *Metrics {
	return &Metrics{IsHealthy: true}
}

// RecordRun folds a finished run into the totals and marks the process
// healthy.
func (m *Metrics) RecordRun(s RunStats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Runs++
	m.FeedsProcessed += int64(s.Feeds)
	m.FeedsFailed += int64(s.FeedsFailed)
	m.FeedsUnchanged += int64(s.FeedsUnchanged)
	m.ArticlesCreated += int64(s.ArticlesCreated)
	m.ArticlesFailed += int64(s.ArticlesFailed)
	m.DuplicatesFiltered += int64(s.DuplicatesFiltered)
	m.SummariesGenerated += int64(s.SummariesGenerated)
	m.SummaryFallbacks += int64(s.SummaryFallbacks)
	m.NotificationsSent += int64(s.NotificationsSent)
	m.NotificationErrors += int64(s.NotificationErrors)

	m.LastProcessingTime = s.Duration
	m.TotalProcessingTime += s.Duration
	m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.Runs)

	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

// SetError records a run that could not complete, such as a failed feed
// list query.
func (m *Metrics) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err.Error()
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func (m *Metrics) GetStats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]any{
		"runs":                       m.Runs,
		"feeds_processed":            m.FeedsProcessed,
		"feeds_failed":               m.FeedsFailed,
		"feeds_unchanged":            m.FeedsUnchanged,
		"articles_created":           m.ArticlesCreated,
		"articles_failed":            m.ArticlesFailed,
		"duplicates_filtered":        m.DuplicatesFiltered,
		"summaries_generated":        m.SummariesGenerated,
		"summary_fallbacks":          m.SummaryFallbacks,
		"notifications_sent":         m.NotificationsSent,
		"notification_errors":        m.NotificationErrors,
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
	if !m.LastRunTime.IsZero() {
		stats["last_run_time"] = m.LastRunTime.Format(time.RFC3339)
	}
	if !m.LastErrorTime.IsZero() {
		stats["last_error_time"] = m.LastErrorTime.Format(time.RFC3339)
	}
	return stats
}

// Handler serves /health and /metrics.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", m.healthHandler)
	mux.HandleFunc("/metrics", m.metricsHandler)
	return mux
}

func (m *Metrics) healthHandler(w http.ResponseWriter, _ *http.Request) {
	stats := m.GetStats()

	status := "ok"
	code := http.StatusOK
	if !stats["is_healthy"].(bool) {
		status = "error"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     status,
		"last_run":   stats["last_run_time"],
		"last_error": stats["last_error"],
	})
}

func (m *Metrics) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.GetStats())
}
