package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/andresmejia3/limblift/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all solved videos in the database",
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command) {
	ctx := cmd.Context()
	db, err := connectDB(ctx)
	if err != nil {
		utils.Die("Failed to open result store", err)
	}

	videos, err := db.ListVideos(ctx)
	if err != nil {
		utils.Die("Failed to list videos", err)
	}

	if len(videos) == 0 {
		fmt.Println("No solved videos found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tL1\tL2\tFRAMES\tGAPS\tSOLVED")
	fmt.Fprintln(w, "--\t----\t--\t--\t------\t----\t------")

	for _, v := range videos {
		fmt.Fprintf(w, "%s\t%s\t%g\t%g\t%d\t%d\t%s\n",
			v.ID[:12], filepath.Base(v.Path), v.Lengths.L1, v.Lengths.L2,
			v.Frames, v.Gaps, v.IndexedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
