package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/limblift/internal/types"
)

func sampleResult() VideoResult {
	frames := []types.SolvedFrame{
		{Index: 0, Params: types.KinematicParams{DepthBase: 1, Theta1: 1.5, Theta2: 1.2}, Cost: 1e-9, Status: "GradientThreshold"},
		{Index: 1, Gap: true, Status: "optimization failure"},
	}
	res := VideoResult{
		VideoID:    "abc123",
		SourcePath: "/data/run1DLC_resnet50.csv",
		Bodyparts:  [3]string{"armpit", "elbow", "feet"},
		Lengths:    types.SegmentLengths{L1: 5, L2: 4},
		Gaps:       CountGaps(frames),
	}
	for i, f := range frames {
		res.Frames = append(res.Frames, Frame{FrameNumber: 10 + i, SolvedFrame: f})
	}
	return res
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleResult()); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if doc["gaps"].(float64) != 1 {
		t.Errorf("gaps = %v, want 1", doc["gaps"])
	}

	frames := doc["frames"].([]any)
	first := frames[0].(map[string]any)
	// SolvedFrame fields are flattened next to the frame number.
	if first["frame_number"].(float64) != 10 || first["index"].(float64) != 0 {
		t.Errorf("unexpected first frame: %v", first)
	}
	if _, ok := first["gap"]; ok {
		t.Error("gap should be omitted for solved frames")
	}
	if frames[1].(map[string]any)["gap"] != true {
		t.Error("expected gap marker on second frame")
	}
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	path, err := WriteFile(dir, sampleResult())
	if err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if filepath.Base(path) != "run1DLC_resnet50.3d.json" {
		t.Errorf("unexpected output name %s", path)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Errorf("output file missing or empty: %v", err)
	}
}
