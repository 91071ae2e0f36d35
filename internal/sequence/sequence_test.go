package sequence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/andresmejia3/limblift/internal/kinematics"
	"github.com/andresmejia3/limblift/internal/solver"
	"github.com/andresmejia3/limblift/internal/types"
)

var (
	testLengths = types.SegmentLengths{L1: 5.0, L2: 4.0}
	testInitial = types.KinematicParams{DepthBase: 0.0, Theta1: 1.57, Theta2: 1.57}
)

// syntheticFrames builds n frames whose end joint sweeps through theta2 so each
// frame has a distinct solution.
func syntheticFrames(n int) ([]types.ObservedFrame, []float64) {
	frames := make([]types.ObservedFrame, n)
	theta2 := make([]float64, n)
	for i := range frames {
		theta2[i] = 0.9 + 0.6*float64(i)/float64(n)
		base := types.Keypoint2D{X: 10 + float64(i), Y: 2 - 0.5*float64(i)}
		p := types.KinematicParams{DepthBase: 1, Theta1: math.Pi / 2, Theta2: theta2[i]}
		frames[i] = kinematics.Project(kinematics.ForwardKinematics(p, base, testLengths))
	}
	return frames, theta2
}

// scriptedSolver fails frames whose base x is listed and records the initial guesses it saw.
type scriptedSolver struct {
	mu       sync.Mutex
	failOn   map[float64]error
	initials map[float64]types.KinematicParams
}

func (s *scriptedSolver) Solve(observed types.ObservedFrame, baseXY types.Keypoint2D, lengths types.SegmentLengths, initial types.KinematicParams) (types.SolvedFrame, error) {
	s.mu.Lock()
	if s.initials == nil {
		s.initials = make(map[float64]types.KinematicParams)
	}
	s.initials[baseXY.X] = initial
	s.mu.Unlock()

	if err, ok := s.failOn[baseXY.X]; ok {
		return types.SolvedFrame{}, err
	}
	p := types.KinematicParams{DepthBase: baseXY.X, Theta1: initial.Theta1 + 1, Theta2: initial.Theta2}
	return types.SolvedFrame{Params: p}, nil
}

func plainFrames(n int) []types.ObservedFrame {
	frames := make([]types.ObservedFrame, n)
	for i := range frames {
		x := float64(i)
		frames[i] = types.ObservedFrame{{X: x}, {X: x + 1}, {X: x + 2}}
	}
	return frames
}

func TestProcessOrderPreservation(t *testing.T) {
	s, err := solver.New(solver.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	frames, theta2 := syntheticFrames(24)

	for _, workers := range []int{1, 4, 16} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			p := New(s, workers)
			var seen []int
			p.OnFrame = func(f types.SolvedFrame) { seen = append(seen, f.Index) }

			got, err := p.Process(context.Background(), frames, testLengths, testInitial)
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			if len(got) != len(frames) {
				t.Fatalf("Expected %d frames, got %d", len(frames), len(got))
			}
			for i, f := range got {
				if f.Index != i {
					t.Errorf("result %d has index %d", i, f.Index)
				}
				if math.Abs(f.Params.Theta2-theta2[i]) > 1e-3 {
					t.Errorf("frame %d: theta2 = %v, want %v", i, f.Params.Theta2, theta2[i])
				}
				if f.Cost >= 1e-6 {
					t.Errorf("frame %d: cost = %g", i, f.Cost)
				}
				if seen[i] != i {
					t.Errorf("OnFrame call %d was for frame %d", i, seen[i])
				}
			}
		})
	}
}

func TestProcessEmpty(t *testing.T) {
	p := New(&scriptedSolver{}, 4)
	got, err := p.Process(context.Background(), nil, testLengths, testInitial)
	if err != nil || len(got) != 0 {
		t.Errorf("Expected empty result, got %v, %v", got, err)
	}
}

func TestProcessSkipsFailedFrames(t *testing.T) {
	failure := fmt.Errorf("%w: synthetic", types.ErrOptimizationFailure)

	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			s := &scriptedSolver{failOn: map[float64]error{2: failure, 5: failure}}
			p := New(s, workers)

			got, err := p.Process(context.Background(), plainFrames(8), testLengths, testInitial)
			if err != nil {
				t.Fatalf("Skip policy returned error: %v", err)
			}
			if len(got) != 8 {
				t.Fatalf("Expected 8 frames, got %d", len(got))
			}
			for i, f := range got {
				wantGap := i == 2 || i == 5
				if f.Gap != wantGap {
					t.Errorf("frame %d: Gap = %v, want %v", i, f.Gap, wantGap)
				}
				if f.Index != i {
					t.Errorf("frame %d: Index = %d", i, f.Index)
				}
				if wantGap && f.Params != (types.KinematicParams{}) {
					t.Errorf("gap frame %d carries params %+v", i, f.Params)
				}
			}
		})
	}
}

func TestProcessAbortOnFailure(t *testing.T) {
	failure := fmt.Errorf("%w: synthetic", types.ErrOptimizationFailure)

	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			s := &scriptedSolver{failOn: map[float64]error{4: failure, 6: failure}}
			p := New(s, workers)
			p.OnFailure = AbortOnFailure

			got, err := p.Process(context.Background(), plainFrames(10), testLengths, testInitial)
			if !errors.Is(err, types.ErrOptimizationFailure) {
				t.Fatalf("Expected ErrOptimizationFailure, got %v", err)
			}
			if got != nil {
				t.Errorf("Expected no results on abort, got %d", len(got))
			}
			// The earliest failing frame is the one reported.
			if want := "frame 4:"; err.Error()[:len(want)] != want {
				t.Errorf("Expected error for frame 4, got %q", err.Error())
			}
		})
	}
}

func TestProcessInvalidInputAlwaysAborts(t *testing.T) {
	t.Run("Frame level", func(t *testing.T) {
		bad := fmt.Errorf("%w: synthetic", types.ErrInvalidInput)
		s := &scriptedSolver{failOn: map[float64]error{1: bad}}
		p := New(s, 2) // default policy is skip, which must not apply here

		if _, err := p.Process(context.Background(), plainFrames(4), testLengths, testInitial); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Negative segment length", func(t *testing.T) {
		s := &scriptedSolver{}
		p := New(s, 2)
		_, err := p.Process(context.Background(), plainFrames(4), types.SegmentLengths{L1: -1, L2: 4}, testInitial)
		if !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput, got %v", err)
		}
		if len(s.initials) != 0 {
			t.Errorf("Solver was called %d times before validation failed", len(s.initials))
		}
	})

	t.Run("Non-finite initial", func(t *testing.T) {
		p := New(&scriptedSolver{}, 1)
		_, err := p.Process(context.Background(), plainFrames(2), testLengths, types.KinematicParams{Theta2: math.NaN()})
		if !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestProcessStartPolicies(t *testing.T) {
	t.Run("Fixed guess for every frame", func(t *testing.T) {
		s := &scriptedSolver{}
		p := New(s, 1)
		if _, err := p.Process(context.Background(), plainFrames(5), testLengths, testInitial); err != nil {
			t.Fatal(err)
		}
		for x, init := range s.initials {
			if init != testInitial {
				t.Errorf("frame with base x %v started from %+v, want %+v", x, init, testInitial)
			}
		}
	})

	t.Run("Warm start from previous result", func(t *testing.T) {
		failure := fmt.Errorf("%w: synthetic", types.ErrOptimizationFailure)
		s := &scriptedSolver{failOn: map[float64]error{2: failure}}
		p := New(s, 8) // warm start forces serial execution regardless
		p.Start = PreviousFrameResult

		got, err := p.Process(context.Background(), plainFrames(5), testLengths, testInitial)
		if err != nil {
			t.Fatal(err)
		}

		// scriptedSolver adds 1 to theta1 each successful frame.
		wantTheta1 := map[float64]float64{
			0: testInitial.Theta1,
			1: testInitial.Theta1 + 1,
			2: testInitial.Theta1 + 2,
			3: testInitial.Theta1 + 2, // frame 2 was a gap, so frame 1's result carries over
			4: testInitial.Theta1 + 3,
		}
		for x, want := range wantTheta1 {
			if got := s.initials[x].Theta1; math.Abs(got-want) > 1e-12 {
				t.Errorf("frame %v started with theta1 %v, want %v", x, got, want)
			}
		}
		if !got[2].Gap {
			t.Error("Expected frame 2 to be a gap")
		}
	})
}

func TestProcessCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{1, 4} {
		p := New(&scriptedSolver{}, workers)
		if _, err := p.Process(ctx, plainFrames(100), testLengths, testInitial); !errors.Is(err, context.Canceled) {
			t.Errorf("workers=%d: expected context.Canceled, got %v", workers, err)
		}
	}
}

func TestProcessNoSolver(t *testing.T) {
	p := &Processor{Workers: 1}
	if _, err := p.Process(context.Background(), plainFrames(1), testLengths, testInitial); err == nil {
		t.Error("Expected error without a solver")
	}
}
