package queue

// Step is the outcome of one run of a recurring action
type Step int

const (
	// Continue runs the body again on the next tick, ahead of other actions
	Continue Step = iota
	// Done ends the recurring action
	Done
)

// Recurring builds an executor that runs body once per tick until body
// returns Done or an error. Each Continue re-inserts the same executor at
// the head of the queue, so the iteration count never grows the stack.
func (q *Queue) Recurring(label string, opts Options, body func() (Step, error)) Executor {
	var exec Executor
	exec = func() error {
		step, err := body()
		if err != nil {
			return err
		}
		if step == Continue {
			q.EnqueueNext(label, exec, opts)
		}
		return nil
	}
	return exec
}
