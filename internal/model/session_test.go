package model

import (
	"testing"
	"time"
)

func TestSession_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{ExpiresAt: now.Add(-time.Minute)}
	if !s.Expired(now) {
		t.Error("expected a session whose expiry is in the past to report expired")
	}

	fresh := &Session{ExpiresAt: now.Add(time.Minute)}
	if fresh.Expired(now) {
		t.Error("expected a session whose expiry is in the future to report not expired")
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskCompleted, TaskFailed, TaskCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %v to be terminal", s)
		}
	}

	nonTerminal := []TaskStatus{TaskPending, TaskRunning, TaskUnknown}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("expected %v to not be terminal", s)
		}
	}
}

func TestPendingMerge_Complete(t *testing.T) {
	merge := &PendingMerge{
		ExpectedChildIDs: []string{"c-1", "c-2"},
		ReceivedResults:  map[string]*TaskResult{"c-1": {TaskID: "c-1"}},
	}
	if merge.Complete() {
		t.Error("expected Complete to be false with one child result still missing")
	}

	merge.ReceivedResults["c-2"] = &TaskResult{TaskID: "c-2"}
	if !merge.Complete() {
		t.Error("expected Complete to be true once every expected child has reported")
	}
}

func TestPendingMerge_CompleteNoExpectedChildren(t *testing.T) {
	merge := &PendingMerge{ReceivedResults: map[string]*TaskResult{}}
	if !merge.Complete() {
		t.Error("expected Complete to be true when there are no expected children")
	}
}
