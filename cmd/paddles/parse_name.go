package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethpandaops/paddles/pkg/runname"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputYAML = "yaml"
	outputJSON = "json"
)

var parseOutput string

var parseNameCmd = &cobra.Command{
	Use:   "parse-name NAME...",
	Short: "Print the metadata derived from run names",
	Long: `Parse one or more run names the same way the API does on registration
and print the scheduled time, suite and branch for each.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runParseName,
}

func init() {
	rootCmd.AddCommand(parseNameCmd)
	parseNameCmd.Flags().StringVarP(&parseOutput, "output", "o", outputYAML,
		"output format (yaml, json)")
}

type parsedName struct {
	Name   string         `json:"name" yaml:"name"`
	Parsed runname.Parsed `json:"parsed" yaml:"parsed"`
}

func runParseName(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	parser := runname.NewParser(cfg.Parser.ExtraSuites...)

	out := make([]parsedName, 0, len(args))
	for _, name := range args {
		out = append(out, parsedName{Name: name, Parsed: parser.Parse(name)})
	}

	return writeParsed(cmd.OutOrStdout(), parseOutput, out)
}

func writeParsed(w io.Writer, format string, out []parsedName) error {
	switch format {
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}

		return enc.Close()
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
