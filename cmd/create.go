package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"zonekit/internal/config"
	"zonekit/internal/logging"
	"zonekit/internal/zone"

	"github.com/alitto/pond/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var createCount int

// createCmd represents the create command
var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision one or more ephemeral zones",
	Long: `Provision zones on the configured global-zone host. Each zone gets its
own run-state file in the state directory; pass that file to "destroy" to
tear the zone down.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}
		if createCount < 1 {
			logging.Logger().Fatal("--count must be at least 1")
		}
		if err := createZones(cfg, createCount); err != nil {
			logging.Logger().Fatal("Provisioning failed", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().IntVarP(&createCount, "count", "n", 1, "Number of zones to provision in parallel")
}

func createZones(cfg *config.Config, count int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool := pond.NewPool(count)

	var mu sync.Mutex
	var failed int

	for i := 0; i < count; i++ {
		pool.Submit(func() {
			lc := zone.New(cfg, nil)
			defer lc.Close()

			state, err := lc.Create(ctx)
			if err != nil {
				logging.Logger().Error("zone creation failed, unwinding partial state",
					zap.String("zone", state.ZoneName),
					zap.Error(err))

				// The run context may already be cancelled; teardown
				// gets its own budget so an interrupted create still
				// cleans up after itself.
				cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				defer cancel()
				if derr := lc.Destroy(cleanupCtx, state); derr != nil {
					logging.Logger().Error("teardown after failed creation also failed",
						zap.Error(derr))
				}

				mu.Lock()
				failed++
				mu.Unlock()
				return
			}

			statePath := filepath.Join(cfg.StateDir, state.ZoneName+".json")
			if err := state.Save(statePath); err != nil {
				logging.Logger().Error("failed to write run state; destroy manually",
					zap.String("zone", state.ZoneName),
					zap.String("path", statePath),
					zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}

			fmt.Printf("zone %s ready: ssh -p %d %s@%s (state: %s)\n",
				state.ZoneName, state.Port, state.Username, state.Host, statePath)
		})
	}

	pool.StopAndWait()

	if failed > 0 {
		return fmt.Errorf("%d of %d zones failed to provision", failed, count)
	}
	return nil
}
