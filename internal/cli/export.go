package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"yuleboard/internal/app"
	"yuleboard/internal/export"
	"yuleboard/pkg/domain"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Category string
	Format   string
	Name     string
	Timeout  time.Duration
	JSON     bool
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one list once and exit",
		Long: `Wait for the category's first snapshot from the document store, write one
artifact to the configured artifact store and print its key and size.

Example:
  yuleboard export --category gifts --format xlsx --name regalos
  yuleboard export --category food --format pdf --name comida --json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Category, "category", "", "gifts|food|decorations (required)")
	cmd.Flags().StringVarP(&opts.Format, "format", "f", string(export.FormatXLSX), "xlsx|pdf|png")
	cmd.Flags().StringVarP(&opts.Name, "name", "n", "", "artifact file name without extension (required)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "give up when no snapshot arrives in time")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the artifact as JSON")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func runExport(cmd *cobra.Command, opts *ExportOptions) error {
	category, err := domain.ParseCategory(opts.Category)
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(opts.Format)
	if err != nil {
		return err
	}
	if err := export.ValidateBaseName(opts.Name); err != nil {
		return err
	}
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, err := opts.logger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = a.Close(closeCtx)
	}()
	if err := a.Start(ctx); err != nil {
		// only the exported category has to come up
		logger.Warn("subscription failed", "error", err)
	}
	artifact, err := a.ExportOnce(ctx, category, format, opts.Name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(artifact)
	}
	_, err = fmt.Fprintf(out, "%s\t%s\n", artifact.Key, humanize.Bytes(uint64(artifact.Size)))
	return err
}
