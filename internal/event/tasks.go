package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/matthewbaird/lifecycle/internal/types"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskLocked    = errors.New("task has incomplete dependencies")
	ErrTaskCompleted = errors.New("task already completed")
	ErrEventTerminal = errors.New("event is completed or cancelled")
)

// TasksFromTemplates clones templates into fresh tasks.
func TasksFromTemplates(templates []types.TaskTemplate) []types.Task {
	tasks := make([]types.Task, 0, len(templates))
	for _, tpl := range templates {
		status := types.TaskAvailable
		if len(tpl.Dependencies) > 0 {
			status = types.TaskLocked
		}
		tasks = append(tasks, types.Task{
			ID:                       tpl.ID,
			Kind:                     tpl.Kind,
			Title:                    tpl.Title,
			Description:              tpl.Description,
			AssignedRole:             tpl.AssignedRole,
			IsRequired:               tpl.IsRequired,
			EstimatedDurationMinutes: tpl.EstimatedDurationMinutes,
			Dependencies:             append([]string(nil), tpl.Dependencies...),
			Status:                   status,
		})
	}
	return tasks
}

// CompleteTask marks a task complete. A task whose dependencies are not all complete
// is rejected with ErrTaskLocked. Dependent tasks are unlocked afterwards.
func CompleteTask(ev *types.Event, taskID string, now time.Time) error {
	if ev.Status.Terminal() {
		return fmt.Errorf("completing %s on %s: %w", taskID, ev.ID, ErrEventTerminal)
	}
	idx := indexOf(ev, taskID)
	if idx < 0 {
		return fmt.Errorf("completing %s on %s: %w", taskID, ev.ID, ErrTaskNotFound)
	}
	t := &ev.Tasks[idx]
	if t.IsComplete {
		return fmt.Errorf("completing %s on %s: %w", taskID, ev.ID, ErrTaskCompleted)
	}
	if !dependenciesMet(ev, t) {
		return fmt.Errorf("completing %s on %s: %w", taskID, ev.ID, ErrTaskLocked)
	}

	at := now
	t.IsComplete = true
	t.CompletedAt = &at
	t.Status = types.TaskCompleted
	ev.UpdatedAt = now
	Refresh(ev)
	return nil
}

// Refresh recomputes every task status from completion and dependencies.
func Refresh(ev *types.Event) {
	for i := range ev.Tasks {
		t := &ev.Tasks[i]
		switch {
		case t.IsComplete:
			t.Status = types.TaskCompleted
		case dependenciesMet(ev, t):
			t.Status = types.TaskAvailable
		default:
			t.Status = types.TaskLocked
		}
	}
}

// TaskByKind returns the first task tagged with kind.
func TaskByKind(ev *types.Event, kind string) (types.Task, bool) {
	for _, t := range ev.Tasks {
		if t.Kind == kind {
			return t, true
		}
	}
	return types.Task{}, false
}

// HasIncompleteRequired reports whether any required task is still open.
func HasIncompleteRequired(ev *types.Event) bool {
	for _, t := range ev.Tasks {
		if t.IsRequired && !t.IsComplete {
			return true
		}
	}
	return false
}

func indexOf(ev *types.Event, taskID string) int {
	for i, t := range ev.Tasks {
		if t.ID == taskID {
			return i
		}
	}
	return -1
}

// dependenciesMet treats a dependency on an unknown sibling as unmet.
func dependenciesMet(ev *types.Event, t *types.Task) bool {
	for _, dep := range t.Dependencies {
		i := indexOf(ev, dep)
		if i < 0 || !ev.Tasks[i].IsComplete {
			return false
		}
	}
	return true
}
