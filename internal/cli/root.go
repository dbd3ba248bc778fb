// Package cli implements the solace command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var formatFlag string

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "solace",
		Short:         "Memory-augmented counseling engine with crisis escalation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&formatFlag, "format", "f", "text", "Output format: json or text")
	root.AddCommand(newServeCmd(), newAssessCmd(), newAlertsCmd(), newPerfCmd())
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func checkFormat() error {
	switch formatFlag {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("unknown --format %q (expected json or text)", formatFlag)
	}
}
