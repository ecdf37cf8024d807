package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/drummonds/pdfpages/database"
	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// InitializeSchedules starts the session reaper and the hourly cleanup.
// The returned cron is running; Stop it at shutdown.
func (serverHandler *ServerHandler) InitializeSchedules() *cron.Cron {
	cfg := serverHandler.ServerConfig
	c := cron.New()
	skip := cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)) //ensure we don't kick off another if old one is still running

	reapJob := skip.Then(cron.FuncJob(func() {
		if _, err := serverHandler.reapIdleSessions(context.Background(), cfg.SessionIdle); err != nil {
			Logger.Error("Scheduled session reap failed", "error", err)
		}
	}))
	if _, err := c.AddJob(fmt.Sprintf("@every %dm", cfg.ReapInterval), reapJob); err != nil {
		Logger.Error("Unable to schedule session reaper", "error", err)
	}
	Logger.Info("Adding session reaper", "interval_minutes", cfg.ReapInterval, "idle", cfg.SessionIdle)

	cleanupJob := skip.Then(cron.FuncJob(func() {
		ctx := context.Background()
		job, err := serverHandler.DB.CreateJob(ctx, database.JobTypeCleanup, "Scheduled cleanup", 4)
		if err != nil {
			Logger.Error("Unable to create scheduled cleanup job", "error", err)
			return
		}
		serverHandler.cleanupJobFunc(ctx, job.ID)
	}))
	if _, err := c.AddJob("@hourly", cleanupJob); err != nil {
		Logger.Error("Unable to schedule cleanup", "error", err)
	}

	c.Start()
	return c
}
