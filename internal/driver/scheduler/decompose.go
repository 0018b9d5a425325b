package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/claudecluster/core/internal/model"
)

var decomposeKeywords = []string{"refactor", "analyze", "implement", "create multiple", "batch"}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// shouldDecompose applies spec §4.4's decomposition heuristic: a task
// qualifies if its title contains any of a fixed set of keywords.
func shouldDecompose(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range decomposeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// decompose splits a parent task into a chain of children (analyze → plan
// → execute for a refactor, plan → execute otherwise), each depending on
// the one before it. The parent is never itself dispatched; it is recorded
// as a pending merge and synthesized once every child reaches a terminal
// state.
func (s *Scheduler) decompose(parent *model.Task) error {
	stages := []string{"plan", "execute"}
	if strings.Contains(strings.ToLower(parent.Title), "refactor") {
		stages = []string{"analyze", "plan", "execute"}
	}

	now := time.Now()
	children := make([]*model.Task, 0, len(stages))
	childIDs := make([]string, 0, len(stages))
	for i, stage := range stages {
		child := &model.Task{
			ID:          fmt.Sprintf("%s-%s", parent.ID, stage),
			Title:       fmt.Sprintf("%s: %s", titleCase(stage), parent.Title),
			Description: parent.Description,
			Category:    parent.Category,
			Priority:    parent.Priority,
			Status:      model.TaskPending,
			Context:     parent.Context,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if i > 0 {
			child.Dependencies = []string{children[i-1].ID}
		}
		children = append(children, child)
		childIDs = append(childIDs, child.ID)
	}

	mergeStrategy := model.MergeConcat

	s.mu.Lock()
	s.decomposed[parent.ID] = &model.DecomposedTask{ParentID: parent.ID, ChildIDs: childIDs, MergeStrategy: mergeStrategy}
	s.pendingMerges[parent.ID] = &model.PendingMerge{
		ParentID:         parent.ID,
		ExpectedChildIDs: childIDs,
		MergeStrategy:    mergeStrategy,
		ReceivedResults:  make(map[string]*model.TaskResult),
	}
	for _, c := range children {
		s.tasks[c.ID] = c
		s.childToParent[c.ID] = parent.ID
	}
	s.mu.Unlock()

	for _, c := range children {
		s.checkpointTask(c)
	}

	for _, c := range children {
		if len(c.Dependencies) == 0 {
			if err := s.enqueue(c); err != nil {
				return err
			}
			continue
		}
		s.mu.Lock()
		s.waiting[c.ID] = c
		s.mu.Unlock()
	}
	return nil
}

// depsStatusLocked reports whether task's declared dependencies are all
// completed (ready), or whether any has permanently failed/cancelled
// (blocked). Must be called with s.mu held.
func (s *Scheduler) depsStatusLocked(task *model.Task) (ready, blocked bool) {
	if len(task.Dependencies) == 0 {
		return true, false
	}
	for _, depID := range task.Dependencies {
		dep, ok := s.tasks[depID]
		if !ok {
			return false, false
		}
		switch dep.Status {
		case model.TaskCompleted:
			continue
		case model.TaskFailed, model.TaskCancelled:
			return false, true
		default:
			return false, false
		}
	}
	return true, false
}

// promoteWaitingDependents enqueues waiting tasks whose dependencies just
// completed, and auto-fails ones whose dependency permanently failed or
// was cancelled (spec §5's dependency-failed cascade).
func (s *Scheduler) promoteWaitingDependents() {
	s.mu.Lock()
	var toEnqueue, toBlock []*model.Task
	for id, t := range s.waiting {
		ready, blocked := s.depsStatusLocked(t)
		if ready {
			toEnqueue = append(toEnqueue, t)
			delete(s.waiting, id)
		} else if blocked {
			toBlock = append(toBlock, t)
			delete(s.waiting, id)
		}
	}
	s.mu.Unlock()

	for _, t := range toEnqueue {
		_ = s.enqueue(t)
	}
	for _, t := range toBlock {
		result := &model.TaskResult{TaskID: t.ID, Status: model.TaskFailed, ErrorKind: model.ErrKindDependencyFailed, Error: "dependency failed or cancelled"}
		s.recordTerminal(t, result)
	}
}

// recordTerminal stores a task's terminal result, feeds it into any
// pending merge it belongs to (synthesizing and recursing into the parent
// once complete), and promotes any dependents it was blocking.
func (s *Scheduler) recordTerminal(task *model.Task, result *model.TaskResult) {
	s.mu.Lock()
	task.Status = result.Status
	task.UpdatedAt = time.Now()
	s.results[task.ID] = result
	if result.Status == model.TaskCompleted {
		s.stats.CompletedTasks++
	} else {
		s.stats.FailedTasks++
	}

	var parentToSynthesize *model.Task
	var synthesized *model.TaskResult
	if parentID, isChild := s.childToParent[task.ID]; isChild {
		if merge, ok := s.pendingMerges[parentID]; ok {
			merge.ReceivedResults[task.ID] = result
			if merge.Complete() {
				parentToSynthesize = s.tasks[parentID]
				synthesized = synthesizeMerge(merge)
				delete(s.pendingMerges, parentID)
				delete(s.decomposed, parentID)
			}
		}
	}
	s.mu.Unlock()
	s.checkpointTask(task)
	s.checkpointResult(result)

	if parentToSynthesize != nil {
		s.recordTerminal(parentToSynthesize, synthesized)
	}
	s.promoteWaitingDependents()
}

// synthesizeMerge combines a decomposed parent's children results per its
// merge strategy. reduce/custom are reserved by the spec for user-supplied
// combiners; lacking one, they fall back to concat.
func synthesizeMerge(merge *model.PendingMerge) *model.TaskResult {
	status := model.TaskCompleted
	var outputs []string
	var artifacts []model.Artifact
	var errorKind model.ErrorKind
	var errMessage string

	for _, childID := range merge.ExpectedChildIDs {
		r := merge.ReceivedResults[childID]
		if r.Status != model.TaskCompleted {
			status = model.TaskFailed
			errorKind = r.ErrorKind
			errMessage = r.Error
		}
		outputs = append(outputs, r.Output)
		artifacts = append(artifacts, r.Artifacts...)
	}

	separator := "\n\n"
	if merge.MergeStrategy == model.MergeMerge {
		separator = "\n"
	}

	return &model.TaskResult{
		TaskID:    merge.ParentID,
		Status:    status,
		Output:    strings.Join(outputs, separator),
		Artifacts: artifacts,
		ErrorKind: errorKind,
		Error:     errMessage,
	}
}
