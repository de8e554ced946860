package community

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"
	"github.com/OFFIS-RIT/kgraph/pkg/leaselock"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// LeaseKey is the lock key shared by all builders of one database.
const LeaseKey = "community-build"

var tracer = otel.Tracer("kgraph/community")

// BuildReport describes one build run. It is returned together with any
// fatal error, so partial progress is visible either way.
type BuildReport struct {
	RunID       string         `json:"run_id"`
	Projection  Projection     `json:"projection"`
	Communities int            `json:"communities"`
	Levels      int            `json:"levels"`
	Summaries   SummaryReport  `json:"summaries"`
	Embeddings  EmbedReport    `json:"embeddings"`
	Failures    []StageFailure `json:"failures"`
	Aborted     bool           `json:"aborted"`
	Duration    time.Duration  `json:"duration"`
}

type BuilderParams struct {
	ProjectionName   string
	Leiden           LeidenParams
	Workers          int
	EmbedBatchSize   int
	SummaryMaxTokens int

	// StructuredSummaries requests schema-constrained JSON summaries.
	StructuredSummaries bool

	// Lease serializes builds when set.
	Lease    *leaselock.Client
	LeaseTTL time.Duration
}

// Builder runs the full community build: clear, project, cluster, levels,
// metrics, summaries, embeddings and indexes.
type Builder struct {
	runner graphdb.Runner
	client ai.GraphAIClient
	params BuilderParams
}

// NewBuilder fills unset params with defaults and rejects invalid Leiden
// settings. A zero LeidenParams means DefaultLeidenParams.
func NewBuilder(runner graphdb.Runner, client ai.GraphAIClient, params BuilderParams) (*Builder, error) {
	if params.ProjectionName == "" {
		params.ProjectionName = DefaultProjectionName
	}
	if params.Leiden == (LeidenParams{}) {
		params.Leiden = DefaultLeidenParams()
	}
	if err := params.Leiden.Validate(); err != nil {
		return nil, err
	}
	return &Builder{runner: runner, client: client, params: params}, nil
}

// Build rebuilds the whole community hierarchy. Failing to project or to
// cluster aborts the run, as does failing to create the community levels.
// Metric, embedding and index stages only add to BuildReport.Failures.
func (b *Builder) Build(ctx context.Context) (BuildReport, error) {
	report := BuildReport{RunID: uuid.NewString()}
	log := logger.With("run_id", report.RunID)
	start := time.Now()

	ctx, span := tracer.Start(ctx, "community.build")
	span.SetAttributes(attribute.String("run_id", report.RunID))
	defer span.End()

	run := func(ctx context.Context) error {
		return b.build(ctx, log, &report)
	}

	var err error
	if b.params.Lease != nil {
		err = b.params.Lease.WithLease(ctx, LeaseKey, leaselock.Options{
			TTL:         b.params.LeaseTTL,
			TokenPrefix: report.RunID + "-",
		}, run)
	} else {
		err = run(ctx)
	}

	report.Duration = time.Since(start)
	if err != nil {
		report.Aborted = true
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("[Community] Build aborted", "err", err, "duration", report.Duration)
		return report, err
	}

	span.SetStatus(codes.Ok, "")
	log.Info("[Community] Build completed",
		"communities", report.Communities,
		"levels", report.Levels,
		"summaries", report.Summaries.Leaves+report.Summaries.Parents,
		"embeddings", report.Embeddings.Written,
		"failures", len(report.Failures),
		"duration", report.Duration,
	)
	return report, nil
}

func (b *Builder) build(ctx context.Context, log *logger.Logger, report *BuildReport) error {
	if err := stage(ctx, "clear", func(ctx context.Context) error {
		return Clear(ctx, b.runner)
	}); err != nil {
		return err
	}

	var projection Projection
	if err := stage(ctx, "project", func(ctx context.Context) error {
		var err error
		projection, err = ProjectGraph(ctx, b.runner, b.params.ProjectionName)
		return err
	}); err != nil {
		return err
	}
	report.Projection = projection

	err := stage(ctx, "leiden", func(ctx context.Context) error {
		return WriteCommunities(ctx, b.runner, projection, b.params.Leiden)
	})
	if dropErr := DropProjection(ctx, b.runner, projection); dropErr != nil {
		log.Warn("[Community] Failed to drop projection", "name", projection.Name, "err", dropErr)
		report.Failures = append(report.Failures, newStageFailure("drop_projection", dropErr))
	}
	if err != nil {
		log.Warn("[Community] Failed to write communities, skipping community properties", "err", err)
		return err
	}

	materializer := NewMaterializer(b.runner)
	if err := stage(ctx, "constraint", materializer.CreateConstraint); err != nil {
		return err
	}
	if err := stage(ctx, "levels", func(ctx context.Context) error {
		plan, err := materializer.CreateLevels(ctx)
		report.Communities = len(plan.Communities)
		report.Levels = plan.Levels()
		return err
	}); err != nil {
		return err
	}

	_ = stage(ctx, "metrics", func(ctx context.Context) error {
		failures := materializer.DeriveMetrics(ctx)
		report.Failures = append(report.Failures, failures...)
		return joinFailures(failures)
	})

	summarizer := NewSummarizer(b.runner, b.client, SummarizerParams{
		Workers:   b.params.Workers,
		MaxTokens: b.params.SummaryMaxTokens,
		Logger:    log,

		Structured: b.params.StructuredSummaries,
	})
	if err := stage(ctx, "summarize", func(ctx context.Context) error {
		var err error
		report.Summaries, err = summarizer.Run(ctx)
		return err
	}); err != nil {
		return err
	}

	embedder := NewEmbedder(b.runner, b.client, EmbedderParams{
		BatchSize: b.params.EmbedBatchSize,
		Workers:   b.params.Workers,
		Logger:    log,
	})
	if err := stage(ctx, "embed", func(ctx context.Context) error {
		var err error
		report.Embeddings, err = embedder.Run(ctx)
		return err
	}); err != nil {
		log.Error("[Embed] Embedding stage failed", "err", err)
		report.Failures = append(report.Failures, newStageFailure("embed", err))
	}

	indexes := NewIndexBuilder(b.runner, b.client.EmbeddingDimensions())
	_ = stage(ctx, "indexes", func(ctx context.Context) error {
		failures := indexes.Rebuild(ctx)
		report.Failures = append(report.Failures, failures...)
		return joinFailures(failures)
	})

	return nil
}

// stage runs fn in its own span.
func stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "community."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func joinFailures(failures []StageFailure) error {
	if len(failures) == 0 {
		return nil
	}
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = fmt.Errorf("%s: %w", f.Stage, f.Err)
	}
	return errors.Join(errs...)
}
