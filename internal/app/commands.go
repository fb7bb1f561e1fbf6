package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"supplybot/internal/domain"
	"supplybot/internal/extract"
	"supplybot/internal/logx"
	"supplybot/internal/nudge"
	"supplybot/internal/report"
	"supplybot/internal/storage/sqlite"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Slack bot: intake, escalations and scheduled jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			s, err := build(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			if s.bot == nil {
				return errors.New("serve needs slack_bot_token and slack_app_token")
			}

			if _, err := s.catalog.Refresh(ctx); err != nil {
				logx.LogError(s.logger, "app", "serve", "initial catalog load", nil, err)
			}
			if err := s.catalog.StartRefresher(ctx, s.cfg.CatalogRefreshSchedule); err != nil {
				return err
			}
			if err := s.coordinator.StartSweeper(ctx, s.cfg.EscalationSweep); err != nil {
				return err
			}
			nudger := nudge.New(s.api, s.coordinator, nudge.Options{
				Reviewers:           s.cfg.Reviewers,
				After:               s.cfg.ReminderAfter,
				EscalationChannelID: s.cfg.EscalationChannelID,
				Logger:              s.logger,
			})
			if err := nudger.Start(ctx, s.cfg.ReminderSchedule); err != nil {
				return err
			}
			digester := report.NewDigester(s.api, report.Options{
				DB:        s.db,
				ChannelID: s.cfg.DigestChannelID,
				Location:  s.cfg.Location,
				Logger:    s.logger,
			})
			if err := digester.Start(ctx, s.cfg.DigestSchedule); err != nil {
				return err
			}

			s.logger.Info("Starting SupplyBot...")
			if err := <-s.runSlack(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("slack bot: %w", err)
			}
			return nil
		},
	}
}

func newProcessCmd() *cobra.Command {
	var header extract.SheetHeader
	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Run one invoice file through the pipeline and print its audit record",
		Long: "Run one invoice file (.json, .csv, .xlsx or text) through the pipeline.\n" +
			"Spreadsheets carry only line items; pass the header fields as flags.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			s, err := build(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			doc, err := s.extractor.FromFile(ctx, filepath.Base(path), data, header)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			// Escalations raised by this document are answered in Slack.
			s.runSlack(ctx)

			rec, err := s.pipeline.Process(ctx, doc)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), rec); err != nil {
				return err
			}
			switch rec.Disposition {
			case domain.DispositionFailed, domain.DispositionRejected:
				return fmt.Errorf("document %s: %s", rec.Disposition, rec.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&header.Supplier, "supplier", "", "supplier name for spreadsheets")
	cmd.Flags().StringVar(&header.Number, "number", "", "invoice number for spreadsheets")
	cmd.Flags().StringVar(&header.Date, "date", "", "invoice date for spreadsheets")
	cmd.Flags().StringVar(&header.Total, "total", "", "declared invoice total for spreadsheets")
	return cmd
}

func newSynonymsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synonyms",
		Short: "Inspect labels learned from human decisions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List confirmed synonyms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := sqlite.ListSynonyms(cmd.Context(), db)
			if err != nil {
				return err
			}
			return writeSynonyms(cmd.OutOrStdout(), entries)
		},
	})
	return cmd
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	var limit int
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recently finished documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("invalid --limit %d: must be > 0", limit)
			}
			db, _, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := sqlite.GetRecentAuditRecords(cmd.Context(), db, limit)
			if err != nil {
				return err
			}
			return writeAudit(cmd.OutOrStdout(), records)
		},
	}
	recent.Flags().IntVarP(&limit, "limit", "n", 10, "number of records")
	cmd.AddCommand(recent)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSynonyms(w io.Writer, entries []domain.SynonymEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tLABEL\tID\tCONFIRMED BY\tCONFIRMED AT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Kind, e.Label, e.CanonicalID, orDash(e.ConfirmedBy), e.ConfirmedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func writeAudit(w io.Writer, records []domain.AuditRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tSUPPLIER\tNUMBER\tDISPOSITION\tSUPPLY\tREASON")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.FinishedAt.Format("2006-01-02 15:04:05"),
			orDash(r.Document.SupplierLabel),
			orDash(r.Document.Number),
			r.Disposition,
			orDash(r.SupplyID),
			orDash(r.Reason),
		)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
