package server

import (
	"sync"
	"time"
)

// Metrics tracks what the bot has done since it started, for /healthz.
type Metrics struct {
	started     time.Time
	lastRun     time.Time
	repos       map[string]bool
	seen        map[string]bool
	commented   map[string]bool
	mu          sync.RWMutex
	totalRuns   int64
	failedRuns  int64
	superseded  int64
	noReviewers int64
}

// NewMetrics creates an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{
		started:   time.Now(),
		repos:     make(map[string]bool),
		seen:      make(map[string]bool),
		commented: make(map[string]bool),
	}
}

// RecordSeen records a merge request event that was accepted for processing.
func (m *Metrics) RecordSeen(req Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[req.RepositoryURL] = true
	m.seen[req.Key()] = true
}

// RecordCommented records a merge request that received a comment.
func (m *Metrics) RecordCommented(req Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commented[req.Key()] = true
}

// RecordRun records a finished run and how it ended.
func (m *Metrics) RecordRun(outcome Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRun = time.Now()
	m.totalRuns++
	switch outcome {
	case OutcomeFailed:
		m.failedRuns++
	case OutcomeSuperseded:
		m.superseded++
	case OutcomeNoReviewers:
		m.noReviewers++
	default:
	}
}

// Stats is a snapshot of Metrics.
type Stats struct {
	Started     time.Time `json:"started"`
	LastRun     time.Time `json:"last_run,omitzero"`
	Status      string    `json:"status"`
	Repos       int       `json:"repositories"`
	Seen        int       `json:"merge_requests_seen"`
	Commented   int       `json:"merge_requests_commented"`
	TotalRuns   int64     `json:"total_runs"`
	FailedRuns  int64     `json:"failed_runs"`
	Superseded  int64     `json:"superseded_runs"`
	NoReviewers int64     `json:"runs_without_reviewers"`
}

// Stats returns the current statistics.
func (m *Metrics) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Status:      "ok",
		Started:     m.started,
		LastRun:     m.lastRun,
		Repos:       len(m.repos),
		Seen:        len(m.seen),
		Commented:   len(m.commented),
		TotalRuns:   m.totalRuns,
		FailedRuns:  m.failedRuns,
		Superseded:  m.superseded,
		NoReviewers: m.noReviewers,
	}
}
