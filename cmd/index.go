package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/e6grab/e6grab/pkg/index"
	"github.com/spf13/cobra"
)

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Prints what is already on disk, per collection.",
	Long:  "Prints the posts found under the destination folder, grouped by pool, post family, search and favorites.",
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, _ := cmd.Flags().GetString("out")
		root, err := filepath.Abs(outDir)
		if err != nil {
			return err
		}

		idx, err := index.Build(root)
		if err != nil {
			return err
		}
		if idx.Len() == 0 {
			fmt.Printf("No posts found under %s.\n", root)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "KIND\tCOLLECTION\tPOSTS\t")
		for _, kind := range index.Kinds {
			for _, key := range idx.Keys(kind) {
				fmt.Fprintf(w, "%s\t%s\t%d\t\n", kind, key, idx.Count(kind, key))
			}
		}
		fmt.Fprintln(w, " \t \t \t")
		fmt.Fprintf(w, "TOTAL\t \t%d\t\n", idx.Len())

		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringP("out", "o", "e621", "Destination folder to inspect")
}
