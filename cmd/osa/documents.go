package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ncolesummers/open-study-agent/pkg/vectorstore"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Index a PDF or text document into a namespace",
	Long: `ingest extracts text page by page (pdftotext, with an OCR retry for scanned
PDFs when ingest.ocr_path is set), splits it into overlapping chunks and stores
their embeddings under the namespace. Without --namespace a new one is
generated and printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		namespace, _ := cmd.Flags().GetString("namespace")
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		return withApp(func(ctx context.Context, a *app) error {
			if err := a.checkOllama(ctx); err != nil {
				return err
			}
			res, err := a.ingestor.Ingest(ctx, namespace, filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s: %d pages, %d chunks (%.2f MB)\nNamespace: %s\n",
				res.Filename, res.Pages, res.Chunks, res.SizeMB, res.Namespace)
			return nil
		})
	},
}

var namespaceCmd = &cobra.Command{
	Use:   "namespace",
	Short: "Manage document namespaces",
}

var namespaceDeleteCmd = &cobra.Command{
	Use:   "delete <namespace>",
	Short: "Delete every chunk stored under a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.store.DeleteNamespace(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Namespace %s cleared\n", args[0])
			return nil
		})
	},
}

type namespaceLister interface {
	Namespaces(ctx context.Context) ([]vectorstore.NamespaceInfo, error)
}

var namespaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List namespaces and their chunk counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			lister, ok := a.store.(namespaceLister)
			if !ok {
				return fmt.Errorf("the configured store cannot list namespaces")
			}
			infos, err := lister.Namespaces(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAMESPACE\tDIM\tCHUNKS")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", info.Name, info.Dim, info.Chunks)
			}
			return tw.Flush()
		})
	},
}

func init() {
	ingestCmd.Flags().String("namespace", "", "namespace to index into (default: generated)")

	namespaceCmd.AddCommand(namespaceDeleteCmd, namespaceListCmd)
	rootCmd.AddCommand(ingestCmd, namespaceCmd)
}
