package solver

import (
	"fmt"
	"math"
	"time"

	"github.com/andresmejia3/limblift/internal/kinematics"
	"github.com/andresmejia3/limblift/internal/types"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// GradientMode selects how the optimizer obtains the objective's gradient.
type GradientMode string

const (
	// AnalyticGradient uses the closed-form derivative of the cost.
	AnalyticGradient GradientMode = "analytic"
	// NumericGradient estimates the gradient with central finite differences.
	NumericGradient GradientMode = "numeric"
)

// Options tunes a Solver. A zero numeric field falls back to gonum's own default
// for that setting (no limit for the budgets).
type Options struct {
	MaxIterations      int           // major L-BFGS iterations
	MaxEvaluations     int           // cost evaluations
	GradientThreshold  float64       // stop when the gradient's inf-norm drops below this
	FunctionAbsTol     float64       // minimum absolute improvement that counts as progress
	FunctionRelTol     float64       // minimum relative improvement that counts as progress
	ConvergeIterations int           // iterations without progress before stopping
	Memory             int           // correction pairs kept by L-BFGS
	Runtime            time.Duration // per-frame wall-clock cap
	Gradient           GradientMode
	Bounds             Bounds
}

// DefaultOptions mirrors the usual L-BFGS-B stopping rules: unbounded, analytic gradient.
func DefaultOptions() Options {
	return Options{
		MaxIterations:      15000,
		MaxEvaluations:     15000,
		GradientThreshold:  1e-8,
		FunctionAbsTol:     1e-14,
		FunctionRelTol:     2.2e-9,
		ConvergeIterations: 20,
		Memory:             10,
		Gradient:           AnalyticGradient,
	}
}

// Solver fits KinematicParams to one observed frame at a time.
// It holds no per-call state and is safe for concurrent use.
type Solver struct {
	opts  Options
	trans *transform
}

// New validates the options and builds a Solver.
func New(opts Options) (*Solver, error) {
	if opts.MaxIterations < 0 || opts.MaxEvaluations < 0 || opts.ConvergeIterations < 0 || opts.Memory < 0 {
		return nil, fmt.Errorf("%w: iteration budgets must not be negative", types.ErrInvalidInput)
	}
	if opts.GradientThreshold < 0 || opts.FunctionAbsTol < 0 || opts.FunctionRelTol < 0 || opts.Runtime < 0 {
		return nil, fmt.Errorf("%w: tolerances must not be negative", types.ErrInvalidInput)
	}
	switch opts.Gradient {
	case "":
		opts.Gradient = AnalyticGradient
	case AnalyticGradient, NumericGradient:
	default:
		return nil, fmt.Errorf("%w: unknown gradient mode %q", types.ErrInvalidInput, opts.Gradient)
	}

	trans, err := newTransform(opts.Bounds)
	if err != nil {
		return nil, err
	}
	return &Solver{opts: opts, trans: trans}, nil
}

// Solve minimizes the reprojection cost for one frame starting from initial.
// Hitting an iteration, evaluation or runtime budget is not an error: the best
// iterate found is returned with the optimizer's status.
func (s *Solver) Solve(observed types.ObservedFrame, baseXY types.Keypoint2D, lengths types.SegmentLengths, initial types.KinematicParams) (types.SolvedFrame, error) {
	if err := types.ValidateLengths(lengths); err != nil {
		return types.SolvedFrame{}, err
	}
	if err := types.ValidateParams(initial); err != nil {
		return types.SolvedFrame{}, err
	}
	if err := types.ValidateFrame(observed); err != nil {
		return types.SolvedFrame{}, err
	}
	if err := types.ValidatePoint(baseXY); err != nil {
		return types.SolvedFrame{}, err
	}

	u0, err := s.trans.toInternal(initial.Vector())
	if err != nil {
		return types.SolvedFrame{}, err
	}

	if c := kinematics.Cost(initial, observed, baseXY, lengths); !isFinite(c) {
		return types.SolvedFrame{}, fmt.Errorf("%w: cost at initial guess is %v", types.ErrOptimizationFailure, c)
	}

	// Buffers are local to this call; gonum evaluates serially.
	ext := make([]float64, 3)
	cost := func(u []float64) float64 {
		s.trans.toExternal(ext, u)
		return kinematics.Cost(types.ParamsFromVector(ext), observed, baseXY, lengths)
	}

	var grad func(g, u []float64)
	switch s.opts.Gradient {
	case NumericGradient:
		fdSettings := &fd.Settings{Formula: fd.Central}
		grad = func(g, u []float64) {
			fd.Gradient(g, cost, u, fdSettings)
		}
	default:
		grad = func(g, u []float64) {
			s.trans.toExternal(ext, u)
			kinematics.Gradient(g, types.ParamsFromVector(ext), observed, baseXY, lengths)
			s.trans.chain(g, u)
		}
	}

	problem := optimize.Problem{Func: cost, Grad: grad}
	settings := &optimize.Settings{
		GradientThreshold: s.opts.GradientThreshold,
		MajorIterations:   s.opts.MaxIterations,
		FuncEvaluations:   s.opts.MaxEvaluations,
		Runtime:           s.opts.Runtime,
		Converger: &optimize.FunctionConverge{
			Absolute:   s.opts.FunctionAbsTol,
			Relative:   s.opts.FunctionRelTol,
			Iterations: s.opts.ConvergeIterations,
		},
	}

	res, err := optimize.Minimize(problem, u0, settings, &optimize.LBFGS{Store: s.opts.Memory})
	if res == nil {
		return types.SolvedFrame{}, fmt.Errorf("%w: %v", types.ErrOptimizationFailure, err)
	}
	if !isFinite(res.F) || !allFinite(res.X) {
		return types.SolvedFrame{}, fmt.Errorf("%w: no finite iterate (status %v, err %v)", types.ErrOptimizationFailure, res.Status, err)
	}

	// A line-search breakdown still leaves a usable best iterate.
	status := res.Status.String()
	if err != nil {
		status = fmt.Sprintf("%s: %v", status, err)
	}

	params := types.ParamsFromVector(s.trans.toExternal(nil, res.X))
	return types.SolvedFrame{
		Params:     params,
		Joints:     kinematics.ForwardKinematics(params, baseXY, lengths),
		Cost:       kinematics.Cost(params, observed, baseXY, lengths),
		Iterations: res.Stats.MajorIterations,
		Status:     status,
	}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(xs []float64) bool {
	for _, v := range xs {
		if !isFinite(v) {
			return false
		}
	}
	return true
}
