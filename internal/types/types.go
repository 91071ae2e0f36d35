package types

import (
	"errors"
	"fmt"
	"math"
)

// Joint indices within an ObservedFrame and a solved chain, ordered proximal to distal.
const (
	Base = 0
	Mid  = 1
	End  = 2
)

// NumJoints is the fixed number of tracked joints in the limb chain.
const NumJoints = 3

var (
	// ErrInvalidInput marks malformed parameters rejected before any optimization runs.
	ErrInvalidInput = errors.New("invalid input")
	// ErrOptimizationFailure marks a solve that could not produce a usable iterate.
	ErrOptimizationFailure = errors.New("optimization failure")
)

// Keypoint2D is an observed image-plane coordinate.
type Keypoint2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Keypoint3D is a joint position in the same units as the segment lengths.
type Keypoint3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ObservedFrame holds one frame's detected joints: base, mid, end.
type ObservedFrame [NumJoints]Keypoint2D

// NewObservedFrame builds a frame from a detector's keypoint list.
func NewObservedFrame(points []Keypoint2D) (ObservedFrame, error) {
	var f ObservedFrame
	if len(points) != NumJoints {
		return f, fmt.Errorf("%w: frame has %d keypoints, want %d", ErrInvalidInput, len(points), NumJoints)
	}
	copy(f[:], points)
	return f, nil
}

// SegmentLengths are the base->mid (L1) and mid->end (L2) distances.
type SegmentLengths struct {
	L1 float64 `json:"l1" mapstructure:"l1"`
	L2 float64 `json:"l2" mapstructure:"l2"`
}

// KinematicParams is the optimization variable: base depth plus both segment angles in radians.
type KinematicParams struct {
	DepthBase float64 `json:"depth_base" mapstructure:"depth_base"`
	Theta1    float64 `json:"theta1" mapstructure:"theta1"`
	Theta2    float64 `json:"theta2" mapstructure:"theta2"`
}

// Vector returns the params in optimizer order (depthBase, theta1, theta2).
func (p KinematicParams) Vector() []float64 {
	return []float64{p.DepthBase, p.Theta1, p.Theta2}
}

// ParamsFromVector is the inverse of KinematicParams.Vector.
func ParamsFromVector(x []float64) KinematicParams {
	return KinematicParams{DepthBase: x[0], Theta1: x[1], Theta2: x[2]}
}

// SolvedFrame is the fit for one frame. Gap is set when the frame's solve failed
// and the sequence continued without it; Params and Joints are zero in that case.
type SolvedFrame struct {
	Index      int                   `json:"index"`
	Params     KinematicParams       `json:"params"`
	Joints     [NumJoints]Keypoint3D `json:"joints"`
	Cost       float64               `json:"cost"`
	Iterations int                   `json:"iterations"`
	Status     string                `json:"status"`
	Gap        bool                  `json:"gap,omitempty"`
}

// FrameTask represents a single frame sent to a worker for solving
type FrameTask struct {
	Index   int
	Frame   ObservedFrame
	Initial KinematicParams
}

// FrameResult is what a worker sends back to the aggregator
type FrameResult struct {
	Index  int
	Solved SolvedFrame
	Err    error
}

// ValidateLengths rejects non-finite or non-positive segment lengths.
func ValidateLengths(l SegmentLengths) error {
	if !finite(l.L1) || l.L1 <= 0 {
		return fmt.Errorf("%w: segment length L1 = %v must be positive and finite", ErrInvalidInput, l.L1)
	}
	if !finite(l.L2) || l.L2 <= 0 {
		return fmt.Errorf("%w: segment length L2 = %v must be positive and finite", ErrInvalidInput, l.L2)
	}
	return nil
}

// ValidateParams rejects params containing NaN or Inf.
func ValidateParams(p KinematicParams) error {
	if !finite(p.DepthBase) || !finite(p.Theta1) || !finite(p.Theta2) {
		return fmt.Errorf("%w: params %+v must be finite", ErrInvalidInput, p)
	}
	return nil
}

// ValidateFrame rejects frames with non-finite coordinates.
func ValidateFrame(f ObservedFrame) error {
	for i, kp := range f {
		if !finite(kp.X) || !finite(kp.Y) {
			return fmt.Errorf("%w: keypoint %d (%v, %v) must be finite", ErrInvalidInput, i, kp.X, kp.Y)
		}
	}
	return nil
}

// ValidatePoint rejects a non-finite 2D point.
func ValidatePoint(p Keypoint2D) error {
	if !finite(p.X) || !finite(p.Y) {
		return fmt.Errorf("%w: point (%v, %v) must be finite", ErrInvalidInput, p.X, p.Y)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
