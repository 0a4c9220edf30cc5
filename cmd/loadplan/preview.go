package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loadplanner/internal/ingest"
)

var previewRows int

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Inspect a CSV export before planning",
	Args:  cobra.NoArgs,
	RunE:  runPreview,
}

func runPreview(cmd *cobra.Command, args []string) error {
	in, err := openInput(cmd, planIn)
	if err != nil {
		return err
	}
	defer in.Close()
	p, err := ingest.PreviewCSV(in, previewRows)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Rows:    %d\n", p.RowCount)
	fmt.Fprintf(out, "Headers: %s\n", strings.Join(p.Headers, ", "))
	if len(p.MissingRequiredColumns) > 0 {
		fmt.Fprintf(out, "Missing: %s\n", strings.Join(p.MissingRequiredColumns, ", "))
	} else {
		fmt.Fprintln(out, "Missing: none")
	}
	for i, row := range p.Sample {
		fields := make([]string, 0, len(p.Headers))
		for _, h := range p.Headers {
			fields = append(fields, h+"="+row[h])
		}
		fmt.Fprintf(out, "%3d  %s\n", i+1, strings.Join(fields, " | "))
	}
	return nil
}
