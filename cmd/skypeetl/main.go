// skypeetl imports a Skype chat export into PostgreSQL: it streams the
// export out of a tar archive or JSON file, normalizes it, and commits it
// in a single transaction, checkpointing between phases so an interrupted
// run can resume.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/chatlift/skypeetl/pkg/config"
	"github.com/chatlift/skypeetl/pkg/database"
	"github.com/chatlift/skypeetl/pkg/extract"
	"github.com/chatlift/skypeetl/pkg/pipeline"
	"github.com/chatlift/skypeetl/pkg/run"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	source := flag.String("source", "", "Path to the Skype export (.tar or .json)")
	configPath := flag.String("config", getEnv("SKYPEETL_CONFIG", ""), "Path to the YAML config file")
	taskID := flag.String("task-id", "", "Task id for this run (generated when empty)")
	resume := flag.Bool("resume", false, "Resume the given task id from its checkpoint")
	listCheckpoints := flag.Bool("list-checkpoints", false, "List resumable task ids and exit")
	deleteCheckpoint := flag.String("delete-checkpoint", "", "Delete the checkpoint for a task id and exit")
	flag.Parse()

	// Load .env before reading configuration so DB_* fallbacks apply.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if *listCheckpoints {
		os.Exit(runListCheckpoints(cfg))
	}
	if *deleteCheckpoint != "" {
		os.Exit(runDeleteCheckpoint(cfg, *deleteCheckpoint))
	}

	if *source == "" {
		slog.Error("Missing required -source flag")
		flag.Usage()
		os.Exit(1)
	}
	if *resume && *taskID == "" {
		slog.Error("-resume requires -task-id")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc := run.NewContext(cfg, *taskID)
	slog.Info("Starting import",
		"task_id", rc.TaskID,
		"source", *source,
		"resume", *resume,
		"output_dir", cfg.ETL.OutputDir)

	pool, err := database.NewPool(ctx, cfg.Database, database.DefaultPoolConfig())
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.CloseAll()

	orch := pipeline.New(rc, pool)
	result, err := orch.Run(ctx, extract.Source{Path: *source}, *resume)
	if err != nil {
		slog.Error("Import failed", "task_id", rc.TaskID, "error", err)
		if result != nil {
			slog.Info("Partial progress is checkpointed, rerun with -resume -task-id",
				"task_id", result.TaskID)
		}
		os.Exit(1)
	}

	slog.Info("Import finished",
		"task_id", result.TaskID,
		"status", result.Status,
		"export_id", result.ExportID,
		"conversations", result.ConversationCount,
		"messages", result.MessageCount,
		"errors", len(result.Errors))
	if result.Status == run.PhaseWarning {
		slog.Warn("Run completed with warnings, see the summary file for details")
	}
}

func runListCheckpoints(cfg *config.Config) int {
	manager := run.NewCheckpointManager(cfg.ETL.OutputDir)
	taskIDs, err := manager.List()
	if err != nil {
		slog.Error("Failed to list checkpoints", "error", err)
		return 1
	}
	if len(taskIDs) == 0 {
		fmt.Println("no checkpoints")
		return 0
	}
	for _, id := range taskIDs {
		fmt.Println(id)
	}
	return 0
}

func runDeleteCheckpoint(cfg *config.Config, taskID string) int {
	manager := run.NewCheckpointManager(cfg.ETL.OutputDir)
	if err := manager.Delete(taskID); err != nil {
		slog.Error("Failed to delete checkpoint", "task_id", taskID, "error", err)
		return 1
	}
	slog.Info("Checkpoint deleted", "task_id", taskID)
	return 0
}
