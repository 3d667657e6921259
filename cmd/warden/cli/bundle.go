package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newBundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Export and import policy bundles",
		Long:  "Move access rules, assignments, and networks between deployments as declarative YAML.",
	}

	cmd.AddCommand(newBundleExportCmd())
	cmd.AddCommand(newBundleImportCmd())

	return cmd
}

func newBundleExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the policy surface as YAML",
		Example: `  warden bundle export > policy.yaml
  warden bundle export -o policy.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open config store: %w", err)
			}
			defer store.Close()

			data, err := store.ExportBundle(context.Background())
			if err != nil {
				return fmt.Errorf("export bundle: %w", err)
			}

			if output == "" || output == "-" {
				_, err := os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("write bundle: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported policy bundle to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func newBundleImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a policy bundle",
		Long:  "Apply a YAML policy bundle. Rules and networks are matched by name; the import is all-or-nothing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read bundle: %w", err)
			}

			store, err := openConfigStore()
			if err != nil {
				return fmt.Errorf("open config store: %w", err)
			}
			defer store.Close()

			if err := store.ImportBundle(context.Background(), data); err != nil {
				return fmt.Errorf("import bundle: %w", err)
			}
			fmt.Printf("Imported policy bundle from %s\n", args[0])
			return nil
		},
	}

	return cmd
}
