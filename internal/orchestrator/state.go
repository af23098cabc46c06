package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phases of one Ask request, in order.
const (
	PhaseInit        = "init"
	PhaseAnalysis    = "analysis"
	PhaseRetrieval   = "retrieval"
	PhaseHistory     = "history"
	PhaseMethodology = "methodology"
	PhaseRouting     = "routing"
	PhaseGeneration  = "generation"
	PhaseExamination = "examination"
	PhaseMemory      = "memory"
	PhaseDone        = "done"
)

// PhaseRecord is the outcome of one phase.
type PhaseRecord struct {
	Phase    string `json:"phase"`
	Status   string `json:"status"` // "ok" | "degraded" | "skipped" | "failed"
	Duration int64  `json:"duration_ms"`
	Error    string `json:"error,omitempty"`
}

// RequestState tracks one Ask request through its phases. It is owned by a
// single request; phases that run concurrently record through the service,
// which serializes access.
type RequestState struct {
	RequestID    string        `json:"request_id"`
	SessionID    string        `json:"session_id,omitempty"`
	Query        string        `json:"query"`
	Timestamp    time.Time     `json:"timestamp"`
	CurrentPhase string        `json:"current_phase"`
	Methodology  string        `json:"methodology,omitempty"`
	Phases       []PhaseRecord `json:"phases"`
	Degraded     []string      `json:"degraded,omitempty"`
	Errors       []string      `json:"errors,omitempty"`
	TotalTokens  int           `json:"total_tokens"`
}

func NewRequestState(query, sessionID string) *RequestState {
	return &RequestState{
		RequestID:    uuid.New().String(),
		SessionID:    sessionID,
		Query:        query,
		Timestamp:    time.Now(),
		CurrentPhase: PhaseInit,
		Phases:       []PhaseRecord{},
	}
}

// SetPhase updates the current phase.
func (s *RequestState) SetPhase(phase string) {
	s.CurrentPhase = phase
}

// Record appends the outcome of a phase that started at start.
func (s *RequestState) Record(phase, status string, start time.Time, err error) {
	rec := PhaseRecord{Phase: phase, Status: status, Duration: time.Since(start).Milliseconds()}
	if err != nil {
		rec.Error = err.Error()
	}
	s.Phases = append(s.Phases, rec)
}

// Degrade marks a non-fatal phase failure.
func (s *RequestState) Degrade(phase string, start time.Time, err error) {
	s.Degraded = append(s.Degraded, phase)
	s.AddError(phase, err)
	s.Record(phase, "degraded", start, err)
}

// AddError records an error against a phase.
func (s *RequestState) AddError(phase string, err error) {
	if err != nil {
		s.Errors = append(s.Errors, fmt.Sprintf("[%s] %s", phase, err.Error()))
	}
}

// AddTokens adds to the total token count.
func (s *RequestState) AddTokens(tokens int) {
	s.TotalTokens += tokens
}
