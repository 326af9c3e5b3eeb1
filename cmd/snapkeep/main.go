package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"snapkeep/internal/app"
	"snapkeep/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// newApp reads the config and creates a SnapkeepApp. The caller must defer a.Close().
// command identifies the CLI command being run (e.g. "snapshot create").
func newApp(command string) (*app.SnapkeepApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewSnapkeepApp(cfg, command, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "snapkeep",
	Short:        "Local snapshot store for working files",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		installID := uuid.New().String()
		cfg := config.NewConfig(installID, defaults.BaseDir)
		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Install ID:        %s\n", cfg.InstallID)
		fmt.Printf("Storage Root:      %s\n", cfg.StorageRoot)
		fmt.Printf("Log Dir:           %s\n", cfg.LogDir)
		fmt.Printf("Catalog:           %s\n", cfg.Catalog.Type)
		fmt.Printf("Cooldown:          %s (sweep every %s)\n", cfg.Cooldown.DefaultDuration, cfg.Cooldown.SweepInterval)
		fmt.Printf("Audit Max Bytes:   %d\n", cfg.Audit.MaxBytes)
		fmt.Printf("GC Grace Period:   %s\n", cfg.GC.GracePeriod)
		fmt.Printf("Export Public Key: %s\n", cfg.Export.PublicKeyPath)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Install ID:        %s\n", cfg.InstallID)
		fmt.Printf("Storage Root:      %s\n", cfg.StorageRoot)
		fmt.Printf("Log Dir:           %s\n", cfg.LogDir)
		fmt.Printf("Catalog:           %s\n", cfg.Catalog.Type)
		fmt.Printf("Cooldown:          %s (sweep every %s)\n", cfg.Cooldown.DefaultDuration, cfg.Cooldown.SweepInterval)
		fmt.Printf("Audit Max Bytes:   %d\n", cfg.Audit.MaxBytes)
		fmt.Printf("GC Grace Period:   %s\n", cfg.GC.GracePeriod)
		fmt.Printf("Export Public Key: %s\n", cfg.Export.PublicKeyPath)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage export keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the export key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		pass, err := readPassphrase(cmd.ErrOrStderr(), true)
		if err != nil {
			return err
		}
		if pass == "" {
			return fmt.Errorf("a passphrase is required to protect the private key")
		}

		a, err := newApp("keys init")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.InitKeys(pass); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Println("Export keys generated.")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Echo debug logs to stderr")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	keysCmd.AddCommand(keysInitCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(reindexCmd)
}
