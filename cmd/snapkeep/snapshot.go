package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"snapkeep/internal/app"
	"snapkeep/internal/snapkeep"
)

const timeLayout = "2006-01-02 15:04:05"

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Create, inspect, and restore snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create [DIR]",
	Short: "Snapshot a directory (default: current directory)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		trigger, _ := cmd.Flags().GetString("trigger")

		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}

		a, err := newApp("snapshot create")
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.CreateSnapshot(dir, name, snapkeep.Trigger(trigger))
		if err != nil {
			return fmt.Errorf("creating snapshot: %w", err)
		}
		fmt.Printf("Created %s (%d file(s), %d bytes)\n", m.ID, len(m.Files), m.TotalSize())
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		trigger, _ := cmd.Flags().GetString("trigger")

		a, err := newApp("snapshot list")
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.ListSnapshots(snapkeep.SnapshotFilter{Trigger: snapkeep.Trigger(trigger), Limit: limit})
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		for _, m := range list {
			printSnapshotLine(m)
		}
		return nil
	},
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show the files of a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("snapshot show")
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.ShowSnapshot(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID:      %s\n", m.ID)
		fmt.Printf("Created: %s\n", m.CreatedAt.Local().Format(timeLayout))
		fmt.Printf("Name:    %s\n", m.Name)
		fmt.Printf("Trigger: %s\n", m.Trigger)
		if m.Metadata != nil && m.Metadata.SessionID != "" {
			fmt.Printf("Session: %s\n", m.Metadata.SessionID)
		}
		fmt.Println()

		paths := make([]string, 0, len(m.Files))
		for p := range m.Files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			ref := m.Files[p]
			fmt.Printf("%s  %8d  %s\n", shortHash(ref.BlobHash), ref.OriginalSize, p)
		}
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore ID DEST",
	Short: "Write the files of a snapshot under DEST",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("snapshot restore")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Restore(args[0], args[1])
		if err != nil {
			return fmt.Errorf("restoring: %w", err)
		}
		fmt.Printf("Restored %d file(s)\n", len(res.Restored))
		for _, p := range res.Missing {
			fmt.Printf("missing blob: %s\n", p)
		}
		for _, p := range res.Rejected {
			fmt.Printf("rejected path: %s\n", p)
		}
		return nil
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a snapshot (blobs are reclaimed by gc)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("snapshot delete")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteSnapshot(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export ID FILE",
	Short: "Write a snapshot to an encrypted bundle",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		usePass, _ := cmd.Flags().GetBool("passphrase")

		var pass string
		if usePass {
			var err error
			if pass, err = readPassphrase(cmd.ErrOrStderr(), true); err != nil {
				return err
			}
		}

		a, err := newApp("snapshot export")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := os.OpenFile(args[1], os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err != nil {
			return fmt.Errorf("creating bundle file: %w", err)
		}
		b, err := a.Export(args[0], f, pass)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(args[1])
			return fmt.Errorf("exporting: %w", err)
		}

		fmt.Printf("Exported %s to %s (%d file(s))\n", args[0], args[1], len(b.Files))
		if len(b.Missing) > 0 {
			fmt.Printf("%d file(s) had no blob and were left out\n", len(b.Missing))
		}
		return nil
	},
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Store the snapshot in an exported bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identity, _ := cmd.Flags().GetString("identity")

		opts := app.ImportOptions{IdentityFile: identity}
		if identity == "" {
			pass, err := readPassphrase(cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			opts.Passphrase = pass
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening bundle: %w", err)
		}
		defer f.Close()

		a, err := newApp("snapshot import")
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.Import(f, opts)
		if err != nil {
			return fmt.Errorf("importing: %w", err)
		}
		fmt.Printf("Imported as %s (%d file(s))\n", m.ID, len(m.Files))
		return nil
	},
}

var snapshotHistoryCmd = &cobra.Command{
	Use:   "history PATH",
	Short: "List snapshots containing a workspace-relative path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("snapshot history")
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.FileHistory(args[0], limit)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No snapshots contain this path.")
			return nil
		}
		for _, m := range list {
			ref := m.Files[args[0]]
			fmt.Printf("%s  %s  %s  %d\n", m.ID, m.CreatedAt.Local().Format(timeLayout), shortHash(ref.BlobHash), ref.OriginalSize)
		}
		return nil
	},
}

func printSnapshotLine(m *snapkeep.SnapshotManifest) {
	fmt.Printf("%s  %s  %-11s  %4d file(s)  %s\n",
		m.ID,
		m.CreatedAt.Local().Format(timeLayout),
		m.Trigger,
		len(m.Files),
		m.Name,
	)
}

func init() {
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCreateCmd.Flags().StringP("name", "m", "", "Snapshot name")
	snapshotCreateCmd.Flags().String("trigger", string(snapkeep.TriggerManual), "Trigger: auto, manual, ai-detected, or pre-save")

	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotListCmd.Flags().IntP("limit", "n", 20, "Maximum number of snapshots to show (0 for all)")
	snapshotListCmd.Flags().String("trigger", "", "Only show snapshots with this trigger")

	snapshotCmd.AddCommand(snapshotShowCmd)
	snapshotCmd.AddCommand(snapshotRestoreCmd)
	snapshotCmd.AddCommand(snapshotDeleteCmd)

	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotExportCmd.Flags().Bool("passphrase", false, "Encrypt with a passphrase instead of the export keys")

	snapshotCmd.AddCommand(snapshotImportCmd)
	snapshotImportCmd.Flags().String("identity", "", "age identity file to decrypt with instead of a passphrase")

	snapshotCmd.AddCommand(snapshotHistoryCmd)
	snapshotHistoryCmd.Flags().IntP("limit", "n", 50, "Maximum number of snapshots to show")
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
