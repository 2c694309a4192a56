package jobs

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/schoolvote/server/internal/config"
	"github.com/schoolvote/server/internal/service"
)

// StartScheduleJob periodically reconciles the current election against the
// wall clock so the voting window opens and closes without an admin pushing
// a settings update.
func StartScheduleJob(ctx context.Context, cfg config.Config, elections *service.Elections) {
	if !cfg.ScheduleJobEnabled {
		return
	}
	interval := cfg.ReconcileInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout)
				election, changed, err := elections.ReconcileSchedule(tickCtx, time.Now())
				cancel()
				if err != nil {
					if !errors.Is(err, service.ErrNotFound) {
						log.Printf("schedule job error: %v", err)
					}
					continue
				}
				if changed {
					log.Printf("schedule job moved election %s to %s", election.ID, election.Status)
				}
			}
		}
	}()
}
