package dlc

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/andresmejia3/limblift/internal/types"
)

// DefaultBodyparts are the base, mid and end joint labels of the lizard limb project.
var DefaultBodyparts = [types.NumJoints]string{"armpit", "elbow", "feet"}

// Options controls how a DeepLabCut export is turned into observed frames.
type Options struct {
	// Bodyparts names the base, mid and end joints, in that order.
	Bodyparts [types.NumJoints]string
	// MinLikelihood drops frames where any chosen joint scores below it. 0 keeps everything.
	MinLikelihood float64
	// DropMissing drops frames with empty or NaN coordinates instead of failing.
	DropMissing bool
}

// Track is one video's worth of 2D detections for the three chosen joints.
type Track struct {
	Scorer       string
	Bodyparts    [types.NumJoints]string
	Frames       []types.ObservedFrame
	Likelihood   [][types.NumJoints]float64
	FrameNumbers []int // frame number from the file for each entry in Frames
	Dropped      []int // frame numbers filtered out
}

// ReadFile opens and parses a DeepLabCut CSV file.
func ReadFile(path string, opts Options) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// ReadCSV parses the CSV layout written by deeplabcut.analyze_videos(save_as_csv=True):
// header rows "scorer", "bodyparts" (and "individuals" for multi-animal projects),
// "coords", then one row per frame led by the frame number.
func ReadCSV(r io.Reader, opts Options) (*Track, error) {
	if opts.Bodyparts == ([types.NumJoints]string{}) {
		opts.Bodyparts = DefaultBodyparts
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var scorerRow, bodypartRow, coordsRow []string
	line := 0
	for coordsRow == nil {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil, errors.New("dlc: header ended before the coords row")
		}
		if err != nil {
			return nil, fmt.Errorf("dlc: reading header: %w", err)
		}
		line++
		if len(rec) == 0 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(rec[0])) {
		case "scorer":
			scorerRow = rec
		case "bodyparts":
			bodypartRow = rec
		case "coords":
			coordsRow = rec
		}
	}
	if bodypartRow == nil {
		return nil, errors.New("dlc: missing bodyparts header row")
	}
	if len(bodypartRow) != len(coordsRow) {
		return nil, fmt.Errorf("dlc: bodyparts row has %d columns, coords row has %d", len(bodypartRow), len(coordsRow))
	}

	cols, err := locateColumns(bodypartRow, coordsRow, opts.Bodyparts)
	if err != nil {
		return nil, err
	}

	t := &Track{Bodyparts: opts.Bodyparts}
	if len(scorerRow) > 1 {
		t.Scorer = scorerRow[1]
	}

	ordinal := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dlc: line %d: %w", line+1, err)
		}
		line++
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}

		frameNo, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			// Labeled-data exports lead with an image path instead of a number.
			frameNo = ordinal
		}
		ordinal++

		frame, like, missing, err := parseRow(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("dlc: line %d: %w", line, err)
		}
		if missing != "" {
			if !opts.DropMissing {
				return nil, fmt.Errorf("dlc: line %d (frame %d): no detection for %s", line, frameNo, missing)
			}
			t.Dropped = append(t.Dropped, frameNo)
			continue
		}
		if opts.MinLikelihood > 0 && minOf(like) < opts.MinLikelihood {
			t.Dropped = append(t.Dropped, frameNo)
			continue
		}

		t.Frames = append(t.Frames, frame)
		t.Likelihood = append(t.Likelihood, like)
		t.FrameNumbers = append(t.FrameNumbers, frameNo)
	}

	return t, nil
}

// jointColumns are the x, y and likelihood column indices of one bodypart.
type jointColumns struct {
	x, y, likelihood int
}

func locateColumns(bodyparts, coords []string, want [types.NumJoints]string) ([types.NumJoints]jointColumns, error) {
	var cols [types.NumJoints]jointColumns
	for j, name := range want {
		c := jointColumns{x: -1, y: -1, likelihood: -1}
		for i := 1; i < len(bodyparts); i++ {
			if strings.TrimSpace(bodyparts[i]) != name {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(coords[i])) {
			case "x":
				if c.x < 0 {
					c.x = i
				}
			case "y":
				if c.y < 0 {
					c.y = i
				}
			case "likelihood":
				if c.likelihood < 0 {
					c.likelihood = i
				}
			}
		}
		if c.x < 0 || c.y < 0 {
			return cols, fmt.Errorf("dlc: bodypart %q has no x/y columns", name)
		}
		cols[j] = c
	}
	return cols, nil
}

// parseRow returns the frame, its likelihoods, and the name of the first joint with
// a missing coordinate ("" when all are present).
func parseRow(rec []string, cols [types.NumJoints]jointColumns) (types.ObservedFrame, [types.NumJoints]float64, string, error) {
	var frame types.ObservedFrame
	var like [types.NumJoints]float64

	for j, c := range cols {
		x, okX, err := cell(rec, c.x)
		if err != nil {
			return frame, like, "", err
		}
		y, okY, err := cell(rec, c.y)
		if err != nil {
			return frame, like, "", err
		}
		if !okX || !okY {
			return frame, like, jointName(j), nil
		}
		frame[j] = types.Keypoint2D{X: x, Y: y}

		like[j] = 1
		if c.likelihood >= 0 {
			l, ok, err := cell(rec, c.likelihood)
			if err != nil {
				return frame, like, "", err
			}
			if ok {
				like[j] = l
			}
		}
	}
	return frame, like, "", nil
}

// cell parses a float column; ok is false for empty or NaN cells.
func cell(rec []string, i int) (float64, bool, error) {
	if i >= len(rec) {
		return 0, false, nil
	}
	s := strings.TrimSpace(rec[i])
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("column %d: %w", i, err)
	}
	if math.IsNaN(v) {
		return 0, false, nil
	}
	return v, true, nil
}

func jointName(j int) string {
	switch j {
	case types.Base:
		return "base"
	case types.Mid:
		return "mid"
	default:
		return "end"
	}
}

func minOf(v [types.NumJoints]float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		m = math.Min(m, x)
	}
	return m
}
