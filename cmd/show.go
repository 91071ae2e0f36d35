package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/limblift/internal/types"
	"github.com/spf13/cobra"
)

var showJoints bool

var showCmd = &cobra.Command{
	Use:   "show <video_id>",
	Short: "Print the solved frames of a stored video (an unambiguous ID prefix is enough)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runShow(cmd.Context(), args[0])
	},
}

func init() {
	showCmd.Flags().BoolVarP(&showJoints, "joints", "j", false, "Also print reconstructed 3D joint positions")
	rootCmd.AddCommand(showCmd)
}

func runShow(ctx context.Context, videoID string) error {
	db, err := connectDB(ctx)
	if err != nil {
		return err
	}

	id, frames, err := db.GetSolvedFrames(ctx, videoID)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		fmt.Printf("Video %s has no solved frames.\n", id[:12])
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	header := "FRAME\tDEPTH\tTHETA1\tTHETA2\tCOST\tITERS\tSTATUS"
	if showJoints {
		header += "\tMID (x,y,z)\tEND (x,y,z)"
	}
	fmt.Fprintln(w, header)

	gaps := 0
	for _, f := range frames {
		if f.Gap {
			gaps++
			fmt.Fprintf(w, "%d\t-\t-\t-\t-\t-\tGAP: %s\n", f.FrameNumber, f.Status)
			continue
		}
		fmt.Fprintf(w, "%d\t%.4f\t%.4f\t%.4f\t%.3g\t%d\t%s",
			f.FrameNumber, f.Params.DepthBase, f.Params.Theta1, f.Params.Theta2, f.Cost, f.Iterations, f.Status)
		if showJoints {
			fmt.Fprintf(w, "\t%s\t%s", fmtPoint(f.Joints[types.Mid]), fmtPoint(f.Joints[types.End]))
		}
		fmt.Fprintln(w)
	}
	w.Flush()

	if gaps > 0 {
		fmt.Fprintf(os.Stderr, "⚠️  %d of %d frames are gaps.\n", gaps, len(frames))
	}
	return nil
}

func fmtPoint(p types.Keypoint3D) string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", p.X, p.Y, p.Z)
}
