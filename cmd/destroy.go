package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"zonekit/internal/config"
	"zonekit/internal/logging"
	"zonekit/internal/zone"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// destroyCmd represents the destroy command
var destroyCmd = &cobra.Command{
	Use:   "destroy <state file> [state file ...]",
	Short: "Tear down zones from their run-state files",
	Long: `Tear down previously provisioned zones. Each argument is a run-state
file written by "create". Teardown is best effort: individual remote steps
that fail (for example against a zone that is already gone) are logged and
skipped, and the state file is removed once every recorded field has been
unwound.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
		}
		if err := destroyZones(cfg, args); err != nil {
			logging.Logger().Fatal("Teardown failed", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(destroyCmd)
}

func destroyZones(cfg *config.Config, statePaths []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var failed int
	for _, statePath := range statePaths {
		state, err := zone.LoadRunState(statePath)
		if err != nil {
			logging.Logger().Error("failed to load run state",
				zap.String("path", statePath),
				zap.Error(err))
			failed++
			continue
		}

		lc := zone.New(cfg, nil)
		err = lc.Destroy(ctx, state)
		lc.Close()
		if err != nil {
			logging.Logger().Error("teardown failed",
				zap.String("path", statePath),
				zap.Error(err))
			failed++
			continue
		}

		if err := os.Remove(statePath); err != nil {
			logging.Logger().Warn("failed to remove run-state file",
				zap.String("path", statePath),
				zap.Error(err))
		}
		fmt.Printf("zone state %s destroyed\n", statePath)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d teardowns failed", failed, len(statePaths))
	}
	return nil
}
