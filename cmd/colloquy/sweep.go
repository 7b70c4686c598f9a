package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/colloquy-ai/colloquy/config"
	"github.com/colloquy-ai/colloquy/internal/brainstorm"
	srv "github.com/colloquy-ai/colloquy/internal/server"
)

func sweepCMD() *cobra.Command {
	var cfgPath string
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired brainstorm snapshots and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if cfg.Storage.Kind != string(brainstorm.KindFile) {
				return fmt.Errorf("sweep only applies to file storage, got %q", cfg.Storage.Kind)
			}
			if cfg.Storage.Retention <= 0 {
				return fmt.Errorf("storage.retention must be positive to sweep")
			}
			store, err := brainstorm.NewFileStore(cfg.Storage.BaseDir)
			if err != nil {
				return fmt.Errorf("open file store: %w", err)
			}
			jan, err := srv.NewJanitor(store.Dir(), cfg.Storage.Retention, cfg.Storage.SweepCron, nil)
			if err != nil {
				return err
			}
			jan.Sweep(time.Now())
			return nil
		},
	}
	sweep.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return sweep
}
