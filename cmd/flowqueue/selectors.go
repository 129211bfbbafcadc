package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/ternarybob/flowqueue/internal/services/automation"
)

var selectorsCmd = &cobra.Command{
	Use:   "selectors",
	Short: "Check the configured selectors against a saved page",
	Long: `Loads an HTML snapshot of the generation page (File > Save Page As in the browser)
and reports how many elements each configured selector matches. Use it after the
target application changes its markup.`,
	RunE: runSelectors,
}

var selectorsHTML string

func init() {
	selectorsCmd.Flags().StringVar(&selectorsHTML, "html", "", "Saved HTML page")
	_ = selectorsCmd.MarkFlagRequired("html")
}

func runSelectors(cmd *cobra.Command, args []string) error {
	f, err := os.Open(selectorsHTML)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	page, err := automation.NewSnapshotPage(f, config.Automation.BaseURL)
	if err != nil {
		return err
	}

	reports := automation.CheckSelectors(page, automation.NewConfig(&config.Automation).Selectors)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSELECTOR\tMATCHES")
	missing := 0
	for _, r := range reports {
		matches := fmt.Sprintf("%d", r.Matches)
		switch {
		case r.Error != "":
			matches = "invalid: " + r.Error
			missing++
		case r.Matches == 0:
			missing++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Selector, matches)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	// signed_in and error/spinner selectors are legitimately absent on most pages
	fmt.Printf("\n%d of %d selectors matched nothing\n", missing, len(reports))
	return nil
}
