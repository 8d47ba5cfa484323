package service

import (
	"fmt"
	"time"

	"github.com/noah-isme/assessment-stats-api/internal/models"
)

// RunState is a step of an aggregation run.
type RunState string

const (
	RunStateRequested              RunState = "REQUESTED"
	RunStateComputingExam          RunState = "COMPUTING_EXAM"
	RunStateComputingQuestionnaire RunState = "COMPUTING_QUESTIONNAIRE"
	RunStateRanking                RunState = "RANKING"
	RunStateMerging                RunState = "MERGING"
	RunStateFormatting             RunState = "FORMATTING"
	RunStatePersisted              RunState = "PERSISTED"
	RunStateFailed                 RunState = "FAILED"
)

// runTransitions lists the legal successors of each state. FAILED is
// reachable from every non-terminal state.
var runTransitions = map[RunState][]RunState{
	RunStateRequested:              {RunStateComputingExam, RunStateFailed},
	RunStateComputingExam:          {RunStateComputingQuestionnaire, RunStateFailed},
	RunStateComputingQuestionnaire: {RunStateRanking, RunStateFailed},
	RunStateRanking:                {RunStateMerging, RunStateFailed},
	RunStateMerging:                {RunStateFormatting, RunStateFailed},
	RunStateFormatting:             {RunStatePersisted, RunStateFailed},
}

// Terminal reports whether no transition leaves the state.
func (s RunState) Terminal() bool {
	return s == RunStatePersisted || s == RunStateFailed
}

// RunTransition is one entry of a run history.
type RunTransition struct {
	From RunState  `json:"from,omitempty"`
	To   RunState  `json:"to"`
	At   time.Time `json:"at"`
}

// Run tracks one aggregation run through its states.
type Run struct {
	ID        string                `json:"run_id"`
	Key       models.AggregationKey `json:"-"`
	State     RunState              `json:"state"`
	History   []RunTransition       `json:"history"`
	Err       error                 `json:"-"`
	StartedAt time.Time             `json:"started_at"`
}

func newRun(id string, key models.AggregationKey, now time.Time) *Run {
	return &Run{
		ID:        id,
		Key:       key,
		State:     RunStateRequested,
		History:   []RunTransition{{To: RunStateRequested, At: now}},
		StartedAt: now,
	}
}

func (r *Run) advance(to RunState, now time.Time) error {
	for _, allowed := range runTransitions[r.State] {
		if allowed == to {
			r.History = append(r.History, RunTransition{From: r.State, To: to, At: now})
			r.State = to
			return nil
		}
	}
	return fmt.Errorf("illegal run transition %s -> %s", r.State, to)
}

func (r *Run) fail(err error, now time.Time) {
	if r.State.Terminal() {
		return
	}
	r.History = append(r.History, RunTransition{From: r.State, To: RunStateFailed, At: now})
	r.State = RunStateFailed
	r.Err = err
}

// Error returns the message of the originating error of a failed run.
func (r *Run) Error() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
