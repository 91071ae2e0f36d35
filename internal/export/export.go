package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/limblift/internal/types"
)

// VideoResult is the per-video document handed to downstream tools.
type VideoResult struct {
	VideoID    string                `json:"video_id"`
	SourcePath string                `json:"source_path"`
	Scorer     string                `json:"scorer,omitempty"`
	Bodyparts  [3]string             `json:"bodyparts"`
	Lengths    types.SegmentLengths  `json:"segment_lengths"`
	Initial    types.KinematicParams `json:"initial_params"`
	SolvedAt   time.Time             `json:"solved_at"`
	Gaps       int                   `json:"gaps"`
	Frames     []Frame               `json:"frames"`
}

// Frame pairs a solved frame with its frame number in the source video.
type Frame struct {
	FrameNumber int `json:"frame_number"`
	types.SolvedFrame
}

// CountGaps returns how many frames were skipped.
func CountGaps(frames []types.SolvedFrame) int {
	n := 0
	for _, f := range frames {
		if f.Gap {
			n++
		}
	}
	return n
}

// WriteJSON encodes the result as indented JSON.
func WriteJSON(w io.Writer, res VideoResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// WriteFile writes the result into dir, named after the source file, and returns the path.
func WriteFile(dir string, res VideoResult) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	base := strings.TrimSuffix(filepath.Base(res.SourcePath), filepath.Ext(res.SourcePath))
	path := filepath.Join(dir, base+".3d.json")

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := WriteJSON(f, res); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return path, f.Close()
}
