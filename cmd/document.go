package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitsz-openauto/hoa-pr/internal/document"
	"github.com/hitsz-openauto/hoa-pr/internal/output"
	"github.com/hitsz-openauto/hoa-pr/internal/render"
)

var renderBudget int

var renderCmd = &cobra.Command{
	Use:   "render <readme.toml|->",
	Short: "Print a document as the chat segments it is sent in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return renderRun(args[0])
	},
}

var locateCmd = &cobra.Command{
	Use:   "locate <readme.toml|-> <paragraph...>",
	Short: "Rank the document paragraphs matching a pasted excerpt",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return locateRun(args[0], strings.Join(args[1:], " "))
	},
}

func init() {
	renderCmd.Flags().IntVarP(&renderBudget, "budget", "b", 0, "maximum characters per segment (default render.segment_budget)")
	rootCmd.AddCommand(renderCmd, locateCmd)
}

// readDocument parses the file at path, or stdin for "-".
func readDocument(path string) (document.Document, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return document.Parse(string(data))
}

func renderRun(path string) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	budget := renderBudget
	if budget <= 0 {
		budget = viper.GetInt("render.segment_budget")
	}

	n := 0
	for seg := range render.Render(doc, budget) {
		n++
		fmt.Fprintf(ui.Out, "%s\n%s\n\n", output.Cyan(fmt.Sprintf("--- #%d [%s]", n, seg.RegionTag)), seg.Text)
	}
	ui.VerboseLog("%d segments, budget %d, revision %s", n, budget, document.Revision(doc))
	return nil
}

func locateRun(path, query string) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	res, err := newLocator().Locate(doc, query)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"#", "Score", "Location", "Match"})
	for i, c := range res.Candidates {
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			output.ScoreColor(c.Score),
			c.Location.Path.String(),
			c.Label(),
		})
	}
	table.Render()
	if res.Truncated() {
		ui.Info("showing first %d of %d matches", len(res.Candidates), res.Total)
	}
	return nil
}
