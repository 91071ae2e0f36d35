package worker

import (
	"context"
	"sync"

	"github.com/andresmejia3/limblift/internal/types"
)

// Solver fits one observed frame. *solver.Solver satisfies it.
type Solver interface {
	Solve(observed types.ObservedFrame, baseXY types.Keypoint2D, lengths types.SegmentLengths, initial types.KinematicParams) (types.SolvedFrame, error)
}

// SolveWorker pulls frame tasks off a channel and solves them with a shared Solver.
type SolveWorker struct {
	ID      int
	Solver  Solver
	Lengths types.SegmentLengths
}

func NewSolveWorker(id int, s Solver, lengths types.SegmentLengths) *SolveWorker {
	return &SolveWorker{
		ID:      id,
		Solver:  s,
		Lengths: lengths,
	}
}

// ProcessFrame solves a single task. The frame's own base keypoint anchors the chain.
func (w *SolveWorker) ProcessFrame(task types.FrameTask) types.FrameResult {
	solved, err := w.Solver.Solve(task.Frame, task.Frame[types.Base], w.Lengths, task.Initial)
	if err != nil {
		return types.FrameResult{Index: task.Index, Err: err}
	}
	solved.Index = task.Index
	return types.FrameResult{Index: task.Index, Solved: solved}
}

// Run processes tasks until the channel closes or ctx is cancelled.
func (w *SolveWorker) Run(ctx context.Context, tasks <-chan types.FrameTask, results chan<- types.FrameResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			res := w.ProcessFrame(task)
			select {
			case results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// StartPool spawns n workers and closes results once all of them have exited.
func StartPool(ctx context.Context, n int, s Solver, lengths types.SegmentLengths, tasks <-chan types.FrameTask, results chan<- types.FrameResult) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			NewSolveWorker(workerID, s, lengths).Run(ctx, tasks, results)
		}(i)
	}

	go func() {
		wg.Wait()
		close(results)
	}()
}
