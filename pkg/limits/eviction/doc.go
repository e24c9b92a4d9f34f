// Package eviction reclaims state that no longer affects admission
// decisions.
//
// A Sweeper performs one pass: it asks the limits manager to drop stale
// fixed-window epochs and idle per-key state, then removes decision
// statistics older than the retention period from the storage backend.
// A Scheduler runs the sweeper on a cron schedule:
//
//	sweeper := eviction.NewSweeper(manager, backend, 24*time.Hour, logger)
//	scheduler := eviction.NewScheduler(sweeper, "@every 1m", logger)
//	if err := scheduler.Start(ctx); err != nil {
//	    return err
//	}
//	defer scheduler.Stop()
//
// Schedules use standard five-field cron syntax or descriptors such as
// "@every 30s" and "@hourly".
package eviction
