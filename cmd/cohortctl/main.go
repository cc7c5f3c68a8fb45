package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/synaptica-ai/reporting/pkg/analytics/cohort"
	"github.com/synaptica-ai/reporting/pkg/analytics/dataset"
	"github.com/synaptica-ai/reporting/pkg/analytics/dsl"
	"github.com/synaptica-ai/reporting/pkg/analytics/query"
	"github.com/synaptica-ai/reporting/pkg/common/config"
	"github.com/synaptica-ai/reporting/pkg/common/logger"
	"github.com/synaptica-ai/reporting/pkg/common/models"
	"github.com/synaptica-ai/reporting/pkg/storage"
	"github.com/synaptica-ai/reporting/pkg/terminology"
)

func main() {
	logger.Configure(os.Stderr, os.Getenv("LOG_LEVEL"))
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cohortctl",
		Short:        "Evaluate cohort queries and inspect dataset definitions offline",
		SilenceUsage: true,
	}
	root.AddCommand(evaluateCmd())
	root.AddCommand(parseSQLCmd())
	root.AddCommand(describeDatasetCmd())
	return root
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a cohort specification against a population snapshot or SQLite file",
		RunE: func(cmd *cobra.Command, args []string) error {
			specPath, _ := cmd.Flags().GetString("spec")
			snapshot, _ := cmd.Flags().GetString("snapshot")
			sqlitePath, _ := cmd.Flags().GetString("sqlite")
			catalogPath, _ := cmd.Flags().GetString("catalog")
			format, _ := cmd.Flags().GetString("format")
			scopeIDs, _ := cmd.Flags().GetInt64Slice("scope")

			raw, err := readSource(cmd.InOrStdin(), specPath)
			if err != nil {
				return err
			}
			spec, err := query.Unmarshal(raw)
			if err != nil {
				return err
			}

			cfg := &config.Config{StoreDriver: storage.DriverMemory, SnapshotPath: snapshot, SQLitePath: sqlitePath}
			if sqlitePath != "" {
				cfg.StoreDriver = storage.DriverSQLite
			}
			catalog, err := terminology.Load(catalogPath)
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			backend, err := storage.Open(ctx, cfg, catalog)
			if err != nil {
				return err
			}
			defer backend.Close()

			var scope *cohort.Cohort
			if cmd.Flags().Changed("scope") {
				scope = cohort.New()
				for _, id := range scopeIDs {
					scope.Add(models.SubjectID(id))
				}
			}

			svc := cohort.NewService(backend.Store)
			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "csv":
				return svc.Export(ctx, spec, scope, out)
			case "json", "":
				result, err := svc.Evaluate(ctx, spec, scope)
				if err != nil {
					return err
				}
				return writeJSON(out, models.CohortResult{
					Kind:      string(spec.Kind()),
					MemberIDs: result.Members(),
					Count:     result.Size(),
				})
			}
			return fmt.Errorf("unknown format %q", format)
		},
	}
	cmd.Flags().String("spec", "-", "Path to a JSON specification envelope, or - for stdin")
	cmd.Flags().String("snapshot", "", "YAML population snapshot")
	cmd.Flags().String("sqlite", "", "SQLite population database (seeded from --snapshot when both are set)")
	cmd.Flags().String("catalog", "", "Terminology catalog YAML (built-in catalog when empty)")
	cmd.Flags().String("format", "json", "Output format: json or csv")
	cmd.Flags().Int64Slice("scope", nil, "Restrict evaluation to these patient ids")
	return cmd
}

func parseSQLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse-sql [query]",
		Short: "List the named parameters a raw SQL query references",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sql string
			if len(args) == 1 {
				sql = args[0]
			} else {
				file, _ := cmd.Flags().GetString("file")
				raw, err := readSource(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				sql = string(raw)
			}
			params, err := dsl.ParseSQL(sql)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), params)
		},
	}
	cmd.Flags().String("file", "-", "File holding the query when no argument is given, or - for stdin")
	return cmd
}

func describeDatasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe-dataset <descriptor>",
		Short: "Build an encounter dataset descriptor and print its columns and row filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			desc, err := dataset.LoadDescriptor(args[0])
			if err != nil {
				return err
			}
			def, err := desc.Build()
			if err != nil {
				return err
			}
			summary := def.Summary()
			if strings.EqualFold(format, "json") {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(summary); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().String("format", "yaml", "Output format: yaml or json")
	return cmd
}

func readSource(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
