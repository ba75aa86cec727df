package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/internal/sqlite"
	"github.com/mesh-intelligence/larder/pkg/types"
)

func newInitCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize larder configuration and storage",
		Long: "Create the configuration directory with a default config.yaml and an\n" +
			"empty classes directory, then initialize the configured backend.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return classify(runInit(cmd, flags))
		},
	}
}

func runInit(cmd *cobra.Command, flags *rootFlags) error {
	s, err := loadSettings(cmd, flags)
	if err != nil {
		return err
	}
	logger, err := s.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.configDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	created, err := writeConfigIfMissing(s.configDir)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if created {
		logger.Info("wrote default config", "dir", s.configDir)
	}
	if s.classes == "" {
		if err := os.MkdirAll(s.classesPath(), 0o755); err != nil {
			return fmt.Errorf("create classes directory: %w", err)
		}
	}

	cfg, err := s.storeConfig()
	if err != nil {
		return err
	}
	if cfg.Backend == types.BackendSQLite {
		backend := sqlite.NewBackend(sqlite.WithLogger(logger))
		if err := backend.Attach(cfg); err != nil {
			return fmt.Errorf("initialize storage: %w", err)
		}
		if err := backend.Detach(); err != nil {
			return fmt.Errorf("finalize storage: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Larder initialized\n  config:  %s\n  classes: %s\n", s.configDir, s.classesPath())
	if cfg.DataDir != "" {
		fmt.Fprintf(out, "  data:    %s\n", cfg.DataDir)
	}
	return nil
}
