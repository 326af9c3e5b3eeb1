package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"snapkeep/internal/app"
	"snapkeep/internal/snapkeep"
)

// session command
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect finalized editing sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		reason, _ := cmd.Flags().GetString("reason")

		a, err := newApp("session list")
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.ListSessions(snapkeep.SessionFilter{Reason: snapkeep.EndReason(reason), Limit: limit})
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No sessions.")
			return nil
		}
		for _, s := range list {
			fmt.Printf("%s  %s  %-12s  %10s  %3d file(s)\n",
				s.ID,
				s.StartedAt.Local().Format(timeLayout),
				s.Reason,
				s.Duration().Truncate(time.Second),
				len(s.Files),
			)
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show the files changed in a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("session show")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.ShowSession(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:       %s\n", s.ID)
		fmt.Printf("Started:  %s\n", s.StartedAt.Local().Format(timeLayout))
		fmt.Printf("Ended:    %s (%s)\n", s.EndedAt.Local().Format(timeLayout), s.Reason)
		if s.Summary != "" {
			fmt.Printf("Summary:  %s\n", s.Summary)
		}
		fmt.Println()
		for _, f := range s.Files {
			fmt.Printf("+%-5d -%-5d %s  %s\n", f.Changes.Added, f.Changes.Deleted, f.SnapshotID, f.Path)
		}
		return nil
	},
}

// audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and rotate the audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		file, _ := cmd.Flags().GetString("file")
		action, _ := cmd.Flags().GetString("action")

		a, err := newApp("audit list")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.AuditEntries(app.AuditQuery{FilePath: file, Action: snapkeep.AuditAction(action), Limit: limit})
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No audit entries.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %-18s  %-9s  %s  %s\n",
				e.Timestamp.Local().Format(timeLayout),
				e.Action,
				e.ProtectionLevel,
				e.SnapshotID,
				e.FilePath,
			)
		}
		return nil
	},
}

var auditRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Archive the audit log if it exceeds the size limit",
	RunE: func(cmd *cobra.Command, args []string) error {
		maxBytes, _ := cmd.Flags().GetInt64("max-bytes")

		a, err := newApp("audit rotate")
		if err != nil {
			return err
		}
		defer a.Close()

		archive, err := a.RotateAudit(maxBytes)
		if err != nil {
			return err
		}
		if archive == "" {
			fmt.Println("Audit log is below the size limit.")
			return nil
		}
		fmt.Printf("Archived to %s\n", archive)
		return nil
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")
		promText, _ := cmd.Flags().GetBool("prometheus")

		a, err := newApp("stats")
		if err != nil {
			return err
		}
		defer a.Close()

		if promText {
			return a.WritePrometheus(os.Stdout)
		}

		s, err := a.Stats(refresh)
		if err != nil {
			return err
		}
		fmt.Printf("Snapshots:     %d\n", s.SnapshotCount)
		fmt.Printf("Sessions:      %d\n", s.SessionCount)
		if refresh {
			fmt.Printf("Blobs:         %d (%d bytes)\n", s.BlobCount, s.TotalBlobBytes)
		}
		fmt.Printf("Audit entries: %d (%d bytes)\n", s.AuditEntryCount, s.AuditBytes)
		return nil
	},
}

// gc command
var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove blobs no snapshot references",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		grace, _ := cmd.Flags().GetDuration("grace")

		a, err := newApp("gc")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.CollectGarbage(dryRun, grace)
		if err != nil {
			return fmt.Errorf("garbage collection: %w", err)
		}

		verb := "Removed"
		if r.DryRun {
			verb = "Would remove"
		}
		fmt.Printf("Scanned %d blob(s) against %d snapshot(s)\n", r.Scanned, r.Manifests)
		fmt.Printf("%s %d blob(s), %d bytes\n", verb, r.Removed, r.BytesFreed)
		if r.TooRecent > 0 {
			fmt.Printf("Kept %d unreferenced blob(s) inside the grace period\n", r.TooRecent)
		}
		if r.CatalogStale {
			fmt.Println("The catalog is out of date; run 'snapkeep reindex'.")
		}
		return nil
	},
}

// reindex command
var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the snapshot catalog from the manifests on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("reindex")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Reindex()
		if errors.Is(err, snapkeep.ErrCatalogDisabled) {
			return fmt.Errorf("%w: set [catalog] type in the config", err)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Indexed %d snapshot(s)\n", n)
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionListCmd)
	sessionListCmd.Flags().IntP("limit", "n", 20, "Maximum number of sessions to show (0 for all)")
	sessionListCmd.Flags().String("reason", "", "Only show sessions that ended for this reason")
	sessionCmd.AddCommand(sessionShowCmd)

	auditCmd.AddCommand(auditListCmd)
	auditListCmd.Flags().IntP("limit", "n", 50, "Maximum number of entries to show (0 for all)")
	auditListCmd.Flags().String("file", "", "Only show entries for this file")
	auditListCmd.Flags().String("action", "", "Only show entries with this action")
	auditCmd.AddCommand(auditRotateCmd)
	auditRotateCmd.Flags().Int64("max-bytes", 0, "Size limit in bytes (default from config)")

	statsCmd.Flags().Bool("refresh", false, "Walk the blob store and persist the result")
	statsCmd.Flags().Bool("prometheus", false, "Print metrics in the prometheus text format")

	gcCmd.Flags().Bool("dry-run", false, "Report what would be removed without deleting")
	gcCmd.Flags().Duration("grace", 0, "Keep unreferenced blobs newer than this (default from config)")
}
