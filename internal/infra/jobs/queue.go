package jobs

import "grantdesk/internal/usecase"

// Queue exposes a Runner to the use cases.
type Queue struct {
	Runner *Runner
}

func NewQueue(r *Runner) *Queue {
	return &Queue{Runner: r}
}

func (q *Queue) Enqueue(task usecase.BackgroundTask) error {
	return q.Runner.Submit(Task{
		Kind:    task.Kind,
		ID:      task.ID,
		LockKey: task.LockKey,
		Run:     task.Run,
		GiveUp:  task.GiveUp,
	})
}
