package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/localrivet/summaryservice"
	"github.com/localrivet/summaryservice/internal/errortypes"
	"github.com/localrivet/summaryservice/internal/summarizer"
)

var (
	summarizeModel string
	summarizeFile  string
	summarizeJSON  bool
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize [text]",
	Short: "Summarize text from an argument, a file or stdin",
	Long: `Summarize a piece of text once and print the result.

Examples:
  summaryservice summarize "Long article text..."
  summaryservice summarize --file article.txt --model google/pegasus-xsum
  cat article.txt | summaryservice summarize --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSummarize,
}

func init() {
	summarizeCmd.Flags().StringVarP(&summarizeModel, "model", "m", "", "model identifier (default from config)")
	summarizeCmd.Flags().StringVarP(&summarizeFile, "file", "f", "", "read the text from a file")
	summarizeCmd.Flags().BoolVar(&summarizeJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(summarizeCmd)
}

func runSummarize(cmd *cobra.Command, args []string) error {
	text, err := readInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	// One-off runs do not record history.
	cfg.History.Enabled = false

	components, err := summaryservice.CreateComponents(cfg, log)
	if err != nil {
		return err
	}
	defer components.Close()

	result, err := components.Service.Summarize(cmd.Context(), text, summarizeModel)
	if err != nil {
		errortypes.LogError(log, err)
		return errors.New(summarizer.Diagnostic(err))
	}

	out := cmd.OutOrStdout()
	if summarizeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	fmt.Fprintln(out, result.Summary)
	if !result.Empty {
		fmt.Fprintf(cmd.ErrOrStderr(), "model=%s fallback=%t words=%d->%d ratio=%.2f time=%s\n",
			result.Model.Identifier, result.Model.UsedFallback,
			result.OriginalWords, result.SummaryWords, result.CompressionRatio, result.Duration)
	}
	return nil
}

func readInput(stdin io.Reader, args []string) (string, error) {
	switch {
	case summarizeFile != "":
		data, err := os.ReadFile(summarizeFile)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", summarizeFile, err)
		}
		return string(data), nil
	case len(args) == 1:
		return args[0], nil
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\n"), nil
	}
}
