package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/limblift/internal/config"
	"github.com/andresmejia3/limblift/internal/dlc"
	"github.com/andresmejia3/limblift/internal/export"
	"github.com/andresmejia3/limblift/internal/sequence"
	"github.com/andresmejia3/limblift/internal/solver"
	"github.com/andresmejia3/limblift/internal/store"
	"github.com/andresmejia3/limblift/internal/types"
	"github.com/andresmejia3/limblift/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var solveInputs []string

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Fit joint angles and base depth to every frame of DeepLabCut tracks",
	Run: func(cmd *cobra.Command, args []string) {
		runSolve(cmd.Context(), solveInputs)
	},
}

func init() {
	f := solveCmd.Flags()
	f.StringSliceVarP(&solveInputs, "input", "i", nil, "Path to a DeepLabCut CSV (repeatable)")
	f.Float64("l1", 5, "Base to mid segment length")
	f.Float64("l2", 4, "Mid to end segment length")
	f.Float64("z0", 0, "Initial base depth")
	f.Float64("theta1", 1.57, "Initial first segment angle (radians)")
	f.Float64("theta2", 1.57, "Initial second segment angle (radians)")
	f.IntP("workers", "e", 1, "Number of parallel solver workers")
	f.Bool("warm-start", false, "Start each frame from the previous frame's fit (forces a single worker)")
	f.String("on-failure", "skip", "What a failed frame does: skip (record a gap) or abort")
	f.StringSlice("bodyparts", dlc.DefaultBodyparts[:], "Base, mid and end bodypart labels")
	f.Float64("min-likelihood", 0, "Drop frames where any chosen joint scores below this")
	f.Bool("drop-missing", false, "Drop frames with missing detections instead of failing")
	f.String("gradient", string(solver.AnalyticGradient), "Gradient mode: analytic or numeric")
	f.Bool("persist", false, "Also store the solved frames in PostgreSQL")

	bindings := map[string]string{
		"lengths.l1":         "l1",
		"lengths.l2":         "l2",
		"initial.depth_base": "z0",
		"initial.theta1":     "theta1",
		"initial.theta2":     "theta2",
		"sequence.workers":   "workers",
		"sequence.warmStart": "warm-start",
		"sequence.onFailure": "on-failure",
		"dlc.bodyparts":      "bodyparts",
		"dlc.minLikelihood":  "min-likelihood",
		"dlc.dropMissing":    "drop-missing",
		"solver.gradient":    "gradient",
		"db.persist":         "persist",
	}
	for key, flag := range bindings {
		v.BindPFlag(key, f.Lookup(flag))
	}

	solveCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(solveCmd)
}

// runSolve processes every input file in turn: DLC CSV -> solver pool -> JSON (and DB).
func runSolve(ctx context.Context, inputs []string) {
	if err := validateSolveFlags(inputs, Cfg); err != nil {
		utils.Die("Invalid arguments", err)
	}

	p, readOpts, err := newProcessor(Cfg)
	if err != nil {
		utils.Die("Invalid solver configuration", err)
	}

	var db *store.Store
	if Cfg.DB.Persist {
		if db, err = connectDB(ctx); err != nil {
			utils.Die("Failed to open result store", err)
		}
	}

	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Solver Workers...\n", Cfg.Sequence.Workers)
	for _, path := range inputs {
		res, err := solveFile(ctx, Cfg, p, readOpts, path)
		if err != nil {
			utils.Die(fmt.Sprintf("Failed to solve %s", filepath.Base(path)), err)
		}

		out, err := export.WriteFile(Cfg.OutputDir, *res)
		if err != nil {
			utils.Die("Failed to write results", err)
		}

		if db != nil {
			if err := persistResult(ctx, db, res); err != nil {
				utils.Die("Failed to persist solved frames", err)
			}
		}
		printSummary(res, out)
	}
}

// newProcessor builds the sequence processor and reader options from the configuration.
func newProcessor(cfg *config.Config) (*sequence.Processor, dlc.Options, error) {
	readOpts, err := cfg.ReaderOptions()
	if err != nil {
		return nil, readOpts, err
	}
	start, onFailure, err := cfg.Policies()
	if err != nil {
		return nil, readOpts, err
	}
	s, err := solver.New(cfg.SolverOptions())
	if err != nil {
		return nil, readOpts, err
	}

	p := sequence.New(s, cfg.Sequence.Workers)
	p.Start = start
	p.OnFailure = onFailure
	p.Logger = Log
	return p, readOpts, nil
}

// solveFile reads one tracking file and fits every kept frame.
func solveFile(ctx context.Context, cfg *config.Config, p *sequence.Processor, readOpts dlc.Options, path string) (*export.VideoResult, error) {
	track, err := dlc.ReadFile(path, readOpts)
	if err != nil {
		return nil, err
	}
	videoID, err := utils.GenerateVideoID(path)
	if err != nil {
		return nil, fmt.Errorf("failed to generate video ID: %w", err)
	}

	Log.Info().Str("video", videoID[:12]).Int("frames", len(track.Frames)).Int("dropped", len(track.Dropped)).Msg("solving " + filepath.Base(path))

	bar := progressbar.NewOptions(len(track.Frames),
		progressbar.OptionSetDescription("🦎 Solving"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)
	p.OnFrame = func(types.SolvedFrame) { bar.Add(1) }
	defer func() { p.OnFrame = nil }()

	frames, err := p.Process(ctx, track.Frames, cfg.Lengths, cfg.Initial)
	bar.Finish()
	if err != nil {
		return nil, err
	}

	res := &export.VideoResult{
		VideoID:    videoID,
		SourcePath: path,
		Scorer:     track.Scorer,
		Bodyparts:  track.Bodyparts,
		Lengths:    cfg.Lengths,
		Initial:    cfg.Initial,
		SolvedAt:   time.Now().UTC(),
		Gaps:       export.CountGaps(frames),
		Frames:     make([]export.Frame, len(frames)),
	}
	for i, f := range frames {
		res.Frames[i] = export.Frame{FrameNumber: track.FrameNumbers[i], SolvedFrame: f}
	}
	return res, nil
}

// persistResult replaces any earlier run of the same video in the store.
func persistResult(ctx context.Context, db *store.Store, res *export.VideoResult) error {
	if err := db.EnsureVideoMetadata(ctx, res.VideoID, res.SourcePath, res.Lengths); err != nil {
		return fmt.Errorf("failed to register video metadata: %w", err)
	}

	frames := make([]types.SolvedFrame, len(res.Frames))
	numbers := make([]int, len(res.Frames))
	for i, f := range res.Frames {
		frames[i] = f.SolvedFrame
		numbers[i] = f.FrameNumber
	}
	n, err := db.InsertSolvedFrames(ctx, res.VideoID, frames, numbers)
	if err != nil {
		return err
	}
	if int(n) != len(frames) {
		return fmt.Errorf("stored %d of %d frames", n, len(frames))
	}
	return nil
}

func printSummary(res *export.VideoResult, outPath string) {
	var cost float64
	solved := 0
	for _, f := range res.Frames {
		if !f.Gap {
			cost += f.Cost
			solved++
		}
	}
	mean := 0.0
	if solved > 0 {
		mean = cost / float64(solved)
	}

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 SOLVE SUMMARY: %s\n", filepath.Base(res.SourcePath))
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📼 Video ID:        %s\n", res.VideoID[:12])
	fmt.Fprintf(os.Stderr, "✅ Frames Solved:   %d\n", solved)
	fmt.Fprintf(os.Stderr, "🕳️  Gaps:            %d\n", res.Gaps)
	fmt.Fprintf(os.Stderr, "📉 Mean Cost:       %.6g\n", mean)
	fmt.Fprintf(os.Stderr, "💾 Output:          %s\n", outPath)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// validateSolveFlags ensures all CLI arguments are valid before starting the solver pool.
func validateSolveFlags(inputs []string, cfg *config.Config) error {
	if len(inputs) == 0 {
		return fmt.Errorf("at least one --input is required")
	}
	for _, path := range inputs {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("input file %s does not exist", path)
			}
			return fmt.Errorf("unable to access input file %s: %w", path, err)
		}
		if info.IsDir() {
			return fmt.Errorf("input path %s is a directory, expected a CSV file", path)
		}
	}
	if err := types.ValidateLengths(cfg.Lengths); err != nil {
		return err
	}
	if err := types.ValidateParams(cfg.Initial); err != nil {
		return err
	}
	if cfg.Sequence.Workers < 1 {
		cfg.Sequence.Workers = 1
	}
	if cfg.OutputDir == "" {
		return fmt.Errorf("output directory must not be empty")
	}
	return nil
}
