package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/limblift/internal/types"
	"github.com/andresmejia3/limblift/internal/worker"
	"github.com/rs/zerolog"
)

// StartPolicy chooses each frame's starting point.
type StartPolicy int

const (
	// FixedInitialGuess starts every frame from the caller's initial params.
	FixedInitialGuess StartPolicy = iota
	// PreviousFrameResult warm-starts from the last successfully solved frame.
	// Frames depend on each other, so the sequence runs serially.
	PreviousFrameResult
)

// FailurePolicy decides what a frame-level ErrOptimizationFailure does to the sequence.
// ErrInvalidInput always aborts.
type FailurePolicy int

const (
	// SkipFailedFrames records the frame as a gap and keeps going.
	SkipFailedFrames FailurePolicy = iota
	// AbortOnFailure stops the whole sequence on the first failed frame.
	AbortOnFailure
)

// Processor solves every frame of one video and returns the fits in input order.
type Processor struct {
	Solver    worker.Solver
	Workers   int
	Start     StartPolicy
	OnFailure FailurePolicy

	// OnFrame, if set, is called once per frame in frame order (gaps included).
	OnFrame func(types.SolvedFrame)
	Logger  zerolog.Logger
}

// New returns a Processor with the default policies and a silent logger.
func New(s worker.Solver, workers int) *Processor {
	return &Processor{
		Solver:  s,
		Workers: workers,
		Logger:  zerolog.Nop(),
	}
}

// Process fits all frames. The result has one entry per input frame, in order.
func (p *Processor) Process(ctx context.Context, frames []types.ObservedFrame, lengths types.SegmentLengths, initial types.KinematicParams) ([]types.SolvedFrame, error) {
	if p.Solver == nil {
		return nil, errors.New("sequence: no solver configured")
	}
	if err := types.ValidateLengths(lengths); err != nil {
		return nil, err
	}
	if err := types.ValidateParams(initial); err != nil {
		return nil, err
	}

	out := make([]types.SolvedFrame, len(frames))
	if len(frames) == 0 {
		return out, nil
	}

	var err error
	if p.Start == PreviousFrameResult || p.Workers <= 1 {
		err = p.processSerial(ctx, frames, lengths, initial, out)
	} else {
		err = p.processParallel(ctx, frames, lengths, initial, out)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Processor) processSerial(ctx context.Context, frames []types.ObservedFrame, lengths types.SegmentLengths, initial types.KinematicParams, out []types.SolvedFrame) error {
	w := worker.NewSolveWorker(0, p.Solver, lengths)
	start := initial

	for i, f := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := w.ProcessFrame(types.FrameTask{Index: i, Frame: f, Initial: start})
		if err := p.accept(res, out); err != nil {
			return err
		}
		if p.Start == PreviousFrameResult && !out[i].Gap {
			start = out[i].Params
		}
	}
	return nil
}

func (p *Processor) processParallel(ctx context.Context, frames []types.ObservedFrame, lengths types.SegmentLengths, initial types.KinematicParams, out []types.SolvedFrame) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan types.FrameTask, p.Workers)
	results := make(chan types.FrameResult, p.Workers*2)
	worker.StartPool(ctx, p.Workers, p.Solver, lengths, tasks, results)

	go func() {
		defer close(tasks)
		for i, f := range frames {
			select {
			case tasks <- types.FrameTask{Index: i, Frame: f, Initial: initial}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Workers finish out of order; hold results until the next expected frame arrives.
	buffer := make(map[int]types.FrameResult)
	nextFrame := 0
	var fatal error

	for res := range results {
		if fatal != nil {
			continue // draining
		}
		buffer[res.Index] = res

		for {
			r, ok := buffer[nextFrame]
			if !ok {
				break
			}
			delete(buffer, nextFrame)
			if err := p.accept(r, out); err != nil {
				fatal = err
				cancel()
				break
			}
			nextFrame++
		}
	}

	if fatal != nil {
		return fatal
	}
	if nextFrame != len(frames) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("sequence: only %d of %d frames solved", nextFrame, len(frames))
	}
	return nil
}

// accept stores one frame's result according to the failure policy.
func (p *Processor) accept(res types.FrameResult, out []types.SolvedFrame) error {
	if res.Err == nil {
		out[res.Index] = res.Solved
		p.emit(out[res.Index])
		return nil
	}

	if errors.Is(res.Err, types.ErrOptimizationFailure) && p.OnFailure == SkipFailedFrames {
		p.Logger.Warn().Int("frame", res.Index).Err(res.Err).Msg("skipping frame")
		out[res.Index] = types.SolvedFrame{Index: res.Index, Gap: true, Status: res.Err.Error()}
		p.emit(out[res.Index])
		return nil
	}

	return fmt.Errorf("frame %d: %w", res.Index, res.Err)
}

func (p *Processor) emit(f types.SolvedFrame) {
	if p.OnFrame != nil {
		p.OnFrame(f)
	}
}
