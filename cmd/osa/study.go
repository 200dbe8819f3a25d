package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ncolesummers/open-study-agent/pkg/agents"
	"github.com/ncolesummers/open-study-agent/pkg/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a question and answer as Markdown or HTML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		question, _ := cmd.Flags().GetString("question")
		answerFile, _ := cmd.Flags().GetString("answer-file")
		formatFlag, _ := cmd.Flags().GetString("format")
		outDir, _ := cmd.Flags().GetString("out")

		answer, err := readInput(cmd.InOrStdin(), answerFile)
		if err != nil {
			return err
		}
		var format export.Format
		if formatFlag != "" {
			if format, err = export.ParseFormat(formatFlag); err != nil {
				return err
			}
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		exporter, err := export.New(cfg.Export)
		if err != nil {
			return err
		}
		if outDir == "" {
			outDir = cfg.Export.Dir
		}

		doc, name, err := exporter.Export(cmd.Context(), export.Request{
			Question: question,
			Answer:   answer,
			Format:   format,
		})
		if err != nil {
			return err
		}
		path, err := export.WriteFile(outDir, name, doc)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var oracleCmd = &cobra.Command{
	Use:   "oracle <subject code>",
	Short: "Predict likely exam questions from past papers",
	Long: `oracle searches the web for past question papers of a subject (for example
CS3491) and asks the model for the most likely Part B and Part C questions.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code := agents.ExtractSubjectCode(strings.Join(args, " "))

		return withApp(func(ctx context.Context, a *app) error {
			if err := a.checkOllama(ctx); err != nil {
				return err
			}
			prediction, err := a.oracle.Predict(ctx, code)
			fmt.Fprintln(cmd.OutOrStdout(), prediction)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			return nil
		})
	},
}

var cardsCmd = &cobra.Command{
	Use:   "cards <file>",
	Short: "Build study cards and a mind map from text",
	Long:  `cards reads an answer or notes from a file ("-" for stdin) and prints a study guide as JSON.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readInput(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}

		return withApp(func(ctx context.Context, a *app) error {
			if err := a.checkOllama(ctx); err != nil {
				return err
			}
			guide, _, err := a.cartographer.Map(ctx, content)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(guide)
		})
	},
}

// readInput reads path, or stdin when path is "-"
func readInput(stdin io.Reader, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("an input file is required")
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func init() {
	exportCmd.Flags().String("question", "", "question text")
	exportCmd.Flags().String("answer-file", "", `file holding the answer ("-" for stdin)`)
	exportCmd.Flags().String("format", "", "markdown or html (default: export.format)")
	exportCmd.Flags().String("out", "", "output directory (default: export.dir)")
	_ = exportCmd.MarkFlagRequired("question")
	_ = exportCmd.MarkFlagRequired("answer-file")

	rootCmd.AddCommand(exportCmd, oracleCmd, cardsCmd)
}
