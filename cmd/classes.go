package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wegman-software/osmhistory-go/internal/classify"
	"github.com/wegman-software/osmhistory-go/internal/pipeline"
)

var classesFromDB bool

var classesCmd = &cobra.Command{
	Use:   "classes",
	Short: "Print the classification table",
	Long: `Print classification codes with their class and subclass.

By default the table is derived from the taxonomy file (or the built-in
taxonomy). With --from-db the persisted table of the history store is shown.`,
	Args: cobra.NoArgs,
	Run:  runClasses,
}

func init() {
	rootCmd.AddCommand(classesCmd)

	classesCmd.Flags().StringVar(&cfg.TaxonomyFile, "taxonomy", "", "Taxonomy YAML file (default: built-in)")
	classesCmd.Flags().BoolVar(&classesFromDB, "from-db", false, "Read the persisted classification table")
}

func runClasses(cmd *cobra.Command, args []string) {
	var entries []classify.Entry
	if classesFromDB {
		ctx, stop := commandContext()
		defer stop()

		coordinator, err := pipeline.NewCoordinator(ctx, cfg)
		if err != nil {
			exitWithError("failed to connect", err)
		}
		defer coordinator.Close()

		if entries, err = coordinator.Classes(ctx); err != nil {
			exitWithError("failed to load classification", err)
		}
	} else {
		tax, err := classify.LoadTaxonomy(cfg.TaxonomyFile)
		if err != nil {
			exitWithError("failed to load taxonomy", err)
		}
		entries = tax.Entries()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tCLASS\tSUBCLASS")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\n", e.Code, e.Class, e.Subclass)
	}
	w.Flush()
}
