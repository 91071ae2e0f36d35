package kinematics

import (
	"math"

	"github.com/andresmejia3/limblift/internal/types"
)

// Residuals returns projected minus observed for each joint.
func Residuals(p types.KinematicParams, observed types.ObservedFrame, baseXY types.Keypoint2D, l types.SegmentLengths) [types.NumJoints]types.Keypoint2D {
	projected := Project(ForwardKinematics(p, baseXY, l))
	var r [types.NumJoints]types.Keypoint2D
	for i := range projected {
		r[i] = types.Keypoint2D{
			X: projected[i].X - observed[i].X,
			Y: projected[i].Y - observed[i].Y,
		}
	}
	return r
}

// ReprojectionError is the sum of squared distances between projected and observed joints.
func ReprojectionError(p types.KinematicParams, observed types.ObservedFrame, baseXY types.Keypoint2D, l types.SegmentLengths) float64 {
	sum := 0.0
	for _, r := range Residuals(p, observed, baseXY, l) {
		sum += r.X*r.X + r.Y*r.Y
	}
	return sum
}

// AnglePrior penalizes theta1's distance from PriorTheta1. Theta2 and depth are unpenalized.
func AnglePrior(p types.KinematicParams) float64 {
	d := p.Theta1 - PriorTheta1
	return PriorWeight * d * d
}

// Cost is the scalar objective minimized per frame: reprojection error plus the angle prior.
func Cost(p types.KinematicParams, observed types.ObservedFrame, baseXY types.Keypoint2D, l types.SegmentLengths) float64 {
	return ReprojectionError(p, observed, baseXY, l) + AnglePrior(p)
}

// Gradient writes dCost/d(depthBase, theta1, theta2) into dst and returns it.
// dst is allocated when nil. The depth component is always zero because the
// projection discards z.
func Gradient(dst []float64, p types.KinematicParams, observed types.ObservedFrame, baseXY types.Keypoint2D, l types.SegmentLengths) []float64 {
	if dst == nil {
		dst = make([]float64, 3)
	}
	r := Residuals(p, observed, baseXY, l)

	// Only x residuals of mid and end depend on the angles.
	s1 := math.Sin(p.Theta1)
	s2 := math.Sin(p.Theta2)

	dst[0] = 0
	dst[1] = -2*l.L1*s1*(r[types.Mid].X+r[types.End].X) + 2*PriorWeight*(p.Theta1-PriorTheta1)
	dst[2] = -2 * l.L2 * s2 * r[types.End].X
	return dst
}
