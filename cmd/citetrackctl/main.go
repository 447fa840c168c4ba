// Command citetrackctl bündelt Wartungsaufgaben für den Datenbestand: Migration, Integritätsprüfung,
// Reparatur, Sync-Bericht und Import.
package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"citetrack/app"
	"citetrack/config"
	"citetrack/models"
)

type opener func(ctx context.Context) (*app.App, error)

func main() {
	root := newRootCommand(openFromEnv)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openFromEnv(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

func newRootCommand(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "citetrackctl",
		Short:         "Wartung für den CiteTrack-Datenbestand",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newMigrateCommand(open),
		newValidateCommand(open),
		newRepairCommand(open),
		newReportCommand(open),
		newImportCommand(open),
	)
	return cmd
}

// withApp öffnet die Anwendung, lädt den Bestand und schließt alles nach fn.
func withApp(cmd *cobra.Command, open opener, fn func(ctx context.Context, a *app.App) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Repo.Load(ctx); err != nil {
		return err
	}

	out, err := fn(ctx, a)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newMigrateCommand(open opener) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Übernimmt Altdaten in den Record Store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) (any, error) {
				var (
					report *models.MigrationReport
					err    error
				)
				if force {
					report, err = a.Migration.ForceMigration(ctx)
				} else {
					report, err = a.Migration.RunIfNeeded(ctx)
				}
				if err != nil {
					return nil, err
				}
				if report == nil {
					return a.Migration.Status(ctx), nil
				}
				return report, nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Latch ignorieren und erneut migrieren")
	return cmd
}

func newValidateCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Prüft die Datenintegrität ohne Änderungen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) (any, error) {
				return a.Repo.ValidateDataIntegrity(ctx)
			})
		},
	}
}

func newRepairCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Behebt gefundene Integritätsprobleme",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) (any, error) {
				return a.Repo.RepairDataIntegrity(ctx)
			})
		},
	}
}

func newReportCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Gibt den detaillierten Sync-Bericht aus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(ctx context.Context, a *app.App) (any, error) {
				return a.Monitor.GetDetailedSyncReport(ctx)
			})
		},
	}
}

func newImportCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Importiert Export-Einträge aus einer JSON-Datei (optional gzip)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readEntries(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(ctx context.Context, a *app.App) (any, error) {
				return a.Repo.ImportEntries(ctx, entries)
			})
		},
	}
}

// readEntries liest ein JSON-Array von Export-Einträgen. Gzip wird an der Magic-Number erkannt.
func readEntries(path string) ([]models.ExportEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r io.Reader = bytes.NewReader(raw)
	if len(raw) > 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	var entries []models.ExportEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return entries, nil
}
