// scheduler.go: periodic execution of the reconciler sweeps.
package reconciler

import (
	"context"
	"time"
)

// Start runs the sweeps on the configured interval until the context is
// cancelled. The first sweep runs immediately so a restart does not add a
// whole interval of delay to already dwelled requests.
func (r *Reconciler) Start(ctx context.Context) {
	interval := r.settings.Reconciler.Interval
	r.log.Info("reconciler started", "interval", interval)

	if err := r.Run(ctx); err != nil {
		r.log.Error("sweep failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			if err := r.Run(ctx); err != nil {
				r.log.Error("sweep failed", "error", err)
			}
		}
	}
}
