package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanepos/lanepos/internal/config"
	"github.com/lanepos/lanepos/internal/ledger"
	"github.com/lanepos/lanepos/internal/remote"
	"github.com/lanepos/lanepos/internal/store"
	"github.com/lanepos/lanepos/internal/syncengine"
)

var syncJSONOutput bool

// syncCmd runs a single sync cycle without starting the daemon. Useful for
// cron-driven terminals and for draining a backlog before maintenance.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		initLogger(cfg.Log)

		db, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()

		client := remote.New(cfg.Remote.BaseURL, cfg.Remote.Token, time.Duration(cfg.Remote.RequestTimeout))
		engine := syncengine.New(db, ledger.New(db), client)

		result, err := engine.TryCycle(cmd.Context())
		if err != nil {
			return fmt.Errorf("sync cycle: %w", err)
		}

		if syncJSONOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		fmt.Printf("submitted %d, accepted %d, rejected %d, still pending %d\n",
			result.Submitted, result.Accepted, result.Rejected, result.StillPending)
		fmt.Printf("queue replayed %d, failed %d; mirror updated: %v\n",
			result.QueueReplayed, result.QueueFailed, result.MirrorUpdated)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncJSONOutput, "json", false, "Output in JSON format")
}
