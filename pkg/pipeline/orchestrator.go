// Package pipeline sequences the extract, transform, and load phases of a
// run, checkpointing after each phase so an interrupted run can resume.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chatlift/skypeetl/pkg/database"
	"github.com/chatlift/skypeetl/pkg/export"
	"github.com/chatlift/skypeetl/pkg/extract"
	"github.com/chatlift/skypeetl/pkg/load"
	"github.com/chatlift/skypeetl/pkg/run"
	"github.com/chatlift/skypeetl/pkg/transform"
)

// Extractor produces the raw export from a source.
type Extractor interface {
	Extract(ctx context.Context, src extract.Source) (*export.RawExport, error)
}

// Transformer normalizes the raw export.
type Transformer interface {
	Transform(ctx context.Context, raw *export.RawExport) (*export.TransformedData, error)
}

// Loader persists the transformed payload.
type Loader interface {
	Load(ctx context.Context, data *export.TransformedData) (*load.Result, error)
}

// maxReportedErrors bounds the error list embedded in results and
// summaries; the error log keeps the full count.
const maxReportedErrors = 50

// Result summarizes one pipeline run.
type Result struct {
	TaskID                string                     `json:"task_id"`
	Status                run.PhaseStatus            `json:"status"`
	ExportID              int64                      `json:"export_id,omitempty"`
	ConversationCount     int                        `json:"conversation_count"`
	MessageCount          int                        `json:"message_count"`
	Phases                map[string]*run.PhaseState `json:"phases"`
	Errors                []run.ErrorEntry           `json:"errors,omitempty"`
	ResumedFromCheckpoint bool                       `json:"resumed_from_checkpoint"`
	LoadResult            *load.Result               `json:"load_result,omitempty"`
}

// Orchestrator drives one run through extract, transform, and load in
// strict order. Phases whose output is already present on a restored
// Context are skipped.
type Orchestrator struct {
	rc            *run.Context
	extractor     Extractor
	transformer   Transformer
	loader        Loader
	loadResult    *load.Result
	memorySamples map[string][]run.MemorySnapshot
	log           *slog.Logger
}

// New wires an orchestrator with the default components: the streaming
// extractor, the chunked transformer, and a loader using the bulk
// strategy.
func New(rc *run.Context, pool *database.Pool) *Orchestrator {
	strategy := load.NewBulkStrategy(rc.Config.ETL.BatchSize, rc.Memory)
	schema := database.NewSchemaManager(rc.Config.Database)
	return &Orchestrator{
		rc:            rc,
		extractor:     extract.New(rc),
		transformer:   transform.New(rc),
		loader:        load.NewLoader(rc, pool, schema, strategy),
		memorySamples: make(map[string][]run.MemorySnapshot),
		log:           slog.With("component", "orchestrator"),
	}
}

// NewWithComponents wires an orchestrator with explicit phase components.
func NewWithComponents(rc *run.Context, e Extractor, t Transformer, l Loader) *Orchestrator {
	return &Orchestrator{
		rc:            rc,
		extractor:     e,
		transformer:   t,
		loader:        l,
		memorySamples: make(map[string][]run.MemorySnapshot),
		log:           slog.With("component", "orchestrator"),
	}
}

// Resume restores the checkpoint for the Context's task id. Completed
// phases replay from their saved artifacts instead of re-running.
func (o *Orchestrator) Resume() error {
	cp, err := o.rc.Checkpoints.Load(o.rc.TaskID)
	if err != nil {
		return err
	}
	if err := o.rc.Checkpoints.Restore(o.rc, cp); err != nil {
		return err
	}
	o.log.Info("Resumed from checkpoint",
		"task_id", o.rc.TaskID, "created_at", cp.CreatedAt)
	return nil
}

// Run executes the pipeline for the given source. When resume is true the
// task's checkpoint is restored first and completed phases are skipped.
// The returned Result is non-nil even on failure so callers can report
// partial progress.
func (o *Orchestrator) Run(ctx context.Context, src extract.Source, resume bool) (*Result, error) {
	resumed := false
	if resume {
		if err := o.Resume(); err != nil {
			if errors.Is(err, run.ErrCheckpointNotFound) {
				o.log.Warn("No checkpoint for task, starting fresh", "task_id", o.rc.TaskID)
			} else {
				return o.result(false), fmt.Errorf("resume failed: %w", err)
			}
		} else {
			resumed = true
		}
	}
	if src.Path != "" {
		o.rc.SetSourcePath(src.Path)
	}

	if err := o.runExtract(ctx, src, resumed); err != nil {
		return o.result(resumed), err
	}
	if err := o.runTransform(ctx, resumed); err != nil {
		return o.result(resumed), err
	}
	if err := o.runLoad(ctx, resumed); err != nil {
		return o.result(resumed), err
	}

	res := o.result(resumed)
	if path, err := writeSummary(o.rc, res); err != nil {
		o.log.Warn("Failed to write run summary", "error", err)
	} else {
		o.log.Info("Run summary written", "path", path)
	}
	return res, nil
}

func (o *Orchestrator) runExtract(ctx context.Context, src extract.Source, resumed bool) error {
	if resumed && o.rc.Phases.Status(run.PhaseExtract) == run.PhaseCompleted && o.rc.RawData() != nil {
		o.log.Info("Skipping completed phase", "phase", run.PhaseExtract)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_ = o.rc.Phases.StartPhase(run.PhaseExtract, 0, 0)
	o.sampleMemory(run.PhaseExtract)
	raw, err := o.extractor.Extract(ctx, src)
	if err != nil {
		o.rc.RecordError(run.PhaseExtract, "extraction failed",
			map[string]any{"error": err.Error()}, true)
		o.sampleMemory(run.PhaseExtract)
		_ = o.rc.Phases.EndPhase(run.PhaseExtract, run.PhaseFailed)
		return fmt.Errorf("extract phase failed: %w", err)
	}

	o.rc.SetRawData(raw)
	o.endPhase(run.PhaseExtract)
	o.checkpoint(run.PhaseExtract)
	return nil
}

func (o *Orchestrator) runTransform(ctx context.Context, resumed bool) error {
	if resumed && o.rc.Phases.Status(run.PhaseTransform) == run.PhaseCompleted && o.rc.TransformedData() != nil {
		o.log.Info("Skipping completed phase", "phase", run.PhaseTransform)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	raw := o.rc.RawData()
	convs, msgs := 0, 0
	if raw != nil {
		convs = len(raw.Conversations)
		for _, c := range raw.Conversations {
			msgs += len(c.MessageList)
		}
	}

	_ = o.rc.Phases.StartPhase(run.PhaseTransform, convs, msgs)
	o.sampleMemory(run.PhaseTransform)
	data, err := o.transformer.Transform(ctx, raw)
	if err != nil {
		o.sampleMemory(run.PhaseTransform)
		_ = o.rc.Phases.EndPhase(run.PhaseTransform, run.PhaseFailed)
		return fmt.Errorf("transform phase failed: %w", err)
	}

	o.rc.SetTransformedData(data)
	o.endPhase(run.PhaseTransform)
	o.checkpoint(run.PhaseTransform)
	return nil
}

func (o *Orchestrator) runLoad(ctx context.Context, resumed bool) error {
	if resumed && o.rc.Phases.Status(run.PhaseLoad) == run.PhaseCompleted && o.rc.ExportID() != 0 {
		o.log.Info("Skipping completed phase", "phase", run.PhaseLoad)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data := o.rc.TransformedData()
	convs, msgs := 0, 0
	if data != nil {
		convs = len(data.Conversations)
		msgs = data.Metadata.MessageCount
		if msgs == 0 {
			for _, c := range data.Conversations {
				msgs += len(c.Messages)
			}
		}
	}

	_ = o.rc.Phases.StartPhase(run.PhaseLoad, convs, msgs)
	o.sampleMemory(run.PhaseLoad)
	result, err := o.loader.Load(ctx, data)
	if err != nil {
		o.sampleMemory(run.PhaseLoad)
		_ = o.rc.Phases.EndPhase(run.PhaseLoad, run.PhaseFailed)
		return fmt.Errorf("load phase failed: %w", err)
	}

	o.rc.Phases.UpdateMetric(run.PhaseLoad, "rows_inserted",
		result.Users+result.Conversations+result.Participants+result.Messages+result.Attachments)
	o.loadResult = result
	o.endPhase(run.PhaseLoad)
	o.checkpoint(run.PhaseLoad)
	return nil
}

// endPhase closes a phase as completed, or warning when non-fatal errors
// were recorded against it during execution.
func (o *Orchestrator) endPhase(name string) {
	o.sampleMemory(name)
	status := run.PhaseCompleted
	if o.rc.Phases.Status(name) == run.PhaseWarning {
		status = run.PhaseWarning
	}
	_ = o.rc.Phases.EndPhase(name, status)
}

// sampleMemory appends a memory snapshot to the phase's memory_usage
// metric.
func (o *Orchestrator) sampleMemory(phase string) {
	o.memorySamples[phase] = append(o.memorySamples[phase], o.rc.Memory.Check())
	o.rc.Phases.UpdateMetric(phase, "memory_usage", o.memorySamples[phase])
}

func (o *Orchestrator) checkpoint(afterPhase string) {
	path, err := o.rc.Checkpoints.Save(o.rc)
	if err != nil {
		o.rc.RecordError(afterPhase, "failed to save checkpoint",
			map[string]any{"error": err.Error()}, false)
		return
	}
	o.log.Info("Checkpoint saved", "phase", afterPhase, "path", path)
}

func (o *Orchestrator) result(resumed bool) *Result {
	res := &Result{
		TaskID:                o.rc.TaskID,
		ExportID:              o.rc.ExportID(),
		Phases:                o.rc.Phases.Snapshot(),
		Errors:                o.rc.Errors.Recent(maxReportedErrors),
		ResumedFromCheckpoint: resumed,
		LoadResult:            o.loadResult,
	}

	if data := o.rc.TransformedData(); data != nil {
		res.ConversationCount = len(data.Conversations)
		for _, c := range data.Conversations {
			res.MessageCount += len(c.Messages)
		}
	}

	res.Status = run.PhaseCompleted
	for _, phase := range res.Phases {
		switch phase.Status {
		case run.PhaseFailed:
			res.Status = run.PhaseFailed
		case run.PhaseWarning:
			if res.Status != run.PhaseFailed {
				res.Status = run.PhaseWarning
			}
		}
	}
	return res
}
