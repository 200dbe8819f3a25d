package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ncolesummers/open-study-agent/pkg/api"
	"github.com/ncolesummers/open-study-agent/pkg/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		return withApp(func(ctx context.Context, a *app) error {
			if err := a.checkOllama(ctx); err != nil {
				// Turns still complete with fallback answers.
				log.Printf("Warning: %v", err)
			}

			cfg := a.cfg.API
			if port != 0 {
				cfg.Port = port
			}
			server, err := api.NewServer(cfg, api.Deps{
				Turns:        a.session,
				Store:        a.store,
				Ingestor:     a.ingestor,
				Exporter:     a.exporter,
				Cartographer: a.cartographer,
				Oracle:       a.oracle,
				Telemetry:    a.telemetry,
			})
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return server.ListenAndServe(ctx) })
			g.Go(func() error { return a.telemetry.ServeMetrics(ctx) })
			return g.Wait()
		})
	},
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Describe the pipeline stages and routes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		topo := workflow.Stages()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(topo)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tSTAGE\tROLE\tDESCRIPTION")
		for _, s := range topo.Stages {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Order, s.Name, s.Role, s.Description)
		}
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "FROM\tTO\tWHEN")
		for _, e := range topo.Edges {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", e.From, e.To, e.Condition)
		}
		return tw.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Open Study Agent\nVersion: %s\nBuild Time: %s\n", Version, BuildTime)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (default: api.port)")
	graphCmd.Flags().Bool("json", false, "print the topology as JSON")

	rootCmd.AddCommand(serveCmd, graphCmd, versionCmd)
}
