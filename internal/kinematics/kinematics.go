package kinematics

import (
	"math"

	"github.com/andresmejia3/limblift/internal/types"
)

const (
	// PriorWeight is the stiffness of the soft prior pulling theta1 toward PriorTheta1.
	PriorWeight = 1000.0
	// PriorTheta1 is the preferred base->mid angle (90 degrees).
	PriorTheta1 = math.Pi / 2
)

// ForwardKinematics places the three joints in 3D.
// The base sits at (baseXY, DepthBase); each segment moves in the x-z plane only,
// so every joint keeps the base's y coordinate.
func ForwardKinematics(p types.KinematicParams, baseXY types.Keypoint2D, l types.SegmentLengths) [types.NumJoints]types.Keypoint3D {
	base := types.Keypoint3D{X: baseXY.X, Y: baseXY.Y, Z: p.DepthBase}

	mid := types.Keypoint3D{
		X: base.X + l.L1*math.Cos(p.Theta1),
		Y: base.Y,
		Z: base.Z + l.L1*math.Sin(p.Theta1),
	}

	end := types.Keypoint3D{
		X: mid.X + l.L2*math.Cos(p.Theta2),
		Y: mid.Y,
		Z: mid.Z + l.L2*math.Sin(p.Theta2),
	}

	return [types.NumJoints]types.Keypoint3D{base, mid, end}
}

// Project drops z (orthographic projection onto the image plane).
func Project(joints [types.NumJoints]types.Keypoint3D) types.ObservedFrame {
	var out types.ObservedFrame
	for i, j := range joints {
		out[i] = types.Keypoint2D{X: j.X, Y: j.Y}
	}
	return out
}
