package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ncolesummers/open-study-agent/pkg/domain"
	"github.com/ncolesummers/open-study-agent/pkg/export"
	"github.com/ncolesummers/open-study-agent/pkg/state"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Run one question through the pipeline",
	Long: `ask runs a single turn. In student mode the question is answered from the
document indexed under --namespace; in research mode from arXiv, Semantic
Scholar and the web. Pass --session to continue a conversation started with
ask or chat.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseMode(cmd)
		if err != nil {
			return err
		}
		namespace, _ := cmd.Flags().GetString("namespace")
		sessionID, _ := cmd.Flags().GetString("session")
		asJSON, _ := cmd.Flags().GetBool("json")
		exportDir, _ := cmd.Flags().GetString("export")
		query := strings.Join(args, " ")

		return withApp(func(ctx context.Context, a *app) error {
			if err := a.checkOllama(ctx); err != nil {
				return err
			}
			st, err := a.session.Ask(ctx, sessionID, query, mode, namespace)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(st.Snapshot()); err != nil {
					return err
				}
			} else {
				printTurn(cmd.OutOrStdout(), st)
			}

			if exportDir != "" {
				answer, _ := st.Draft()
				doc, name, err := a.exporter.Export(ctx, export.Request{
					Question: query,
					Answer:   answer,
					Sources:  export.SourcesFromState(st),
				})
				if err != nil {
					return fmt.Errorf("failed to export answer: %w", err)
				}
				path, err := export.WriteFile(exportDir, name, doc)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported to %s\n", path)
			}
			return nil
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive study session",
	Long: `chat reads questions from stdin and keeps the conversation in the history
store, so follow-up questions such as "and what about X?" build on earlier
answers. Commands: /mode student|research, /namespace <ns>, /reset, /exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseMode(cmd)
		if err != nil {
			return err
		}
		namespace, _ := cmd.Flags().GetString("namespace")
		sessionID, _ := cmd.Flags().GetString("session")

		return withApp(func(ctx context.Context, a *app) error {
			if err := a.checkOllama(ctx); err != nil {
				return err
			}
			return runChat(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout(), sessionID, mode, namespace)
		})
	},
}

func runChat(ctx context.Context, a *app, in io.Reader, out io.Writer, sessionID string, mode domain.Mode, namespace string) error {
	fmt.Fprintf(out, "Open Study Agent (%s mode, session %s). Type /exit to quit.\n", mode, sessionID)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			fields := strings.Fields(line)
			switch fields[0] {
			case "/exit", "/quit":
				return nil
			case "/reset":
				if err := a.session.Reset(ctx, sessionID); err != nil {
					fmt.Fprintf(out, "reset failed: %v\n", err)
				} else {
					fmt.Fprintln(out, "Conversation cleared.")
				}
			case "/mode":
				if len(fields) == 2 && (fields[1] == string(domain.ModeStudent) || fields[1] == string(domain.ModeResearch)) {
					mode = domain.Mode(fields[1])
					fmt.Fprintf(out, "Mode set to %s.\n", mode)
				} else {
					fmt.Fprintln(out, "usage: /mode student|research")
				}
			case "/namespace":
				if len(fields) == 2 {
					namespace = fields[1]
					fmt.Fprintf(out, "Namespace set to %s.\n", namespace)
				} else {
					fmt.Fprintln(out, "usage: /namespace <ns>")
				}
			default:
				fmt.Fprintf(out, "unknown command %s\n", fields[0])
			}
			continue
		}

		st, err := a.session.Ask(ctx, sessionID, line, mode, namespace)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printTurn(out, st)
	}
}

func parseMode(cmd *cobra.Command) (domain.Mode, error) {
	raw, _ := cmd.Flags().GetString("mode")
	switch domain.Mode(raw) {
	case domain.ModeStudent, domain.ModeResearch:
		return domain.Mode(raw), nil
	}
	return "", fmt.Errorf("unknown mode %q (want student or research)", raw)
}

// printTurn writes the answer followed by the grounding verdict and stage trail
func printTurn(w io.Writer, st *state.PipelineState) {
	snap := st.Snapshot()
	fmt.Fprintln(w, snap.AnswerText())

	fmt.Fprintln(w, "\n---")
	if snap.GroundingScore != nil {
		fmt.Fprintf(w, "Grounding: %.0f/100", *snap.GroundingScore)
		if snap.GroundingStatus != "" {
			fmt.Fprintf(w, " (%s)", snap.GroundingStatus)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Intent: %s  Mode: %s\n", snap.Intent, snap.Mode)
	for _, l := range snap.StageLogs {
		fmt.Fprintf(w, "  %-20s %-9s %5dms  %s\n", l.Agent, l.Status, l.ElapsedMS, l.Rationale)
	}
}

func addTurnFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", string(domain.ModeStudent), "student or research")
	cmd.Flags().String("namespace", "", "document namespace to answer from (student mode)")
}

func init() {
	addTurnFlags(askCmd)
	askCmd.Flags().String("session", "", "session ID for conversation memory (empty = stateless)")
	askCmd.Flags().Bool("json", false, "print the full turn as JSON")
	askCmd.Flags().String("export", "", "also export the Q&A into this directory")

	addTurnFlags(chatCmd)
	chatCmd.Flags().String("session", "cli", "session ID for conversation memory")

	rootCmd.AddCommand(askCmd, chatCmd)
}
