package community

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
)

const writeBatchSize = 1000

const constraintQuery = `CREATE CONSTRAINT IF NOT EXISTS FOR (c:__Community__) REQUIRE c.id IS UNIQUE`

const assignmentsQuery = `
MATCH (e:__Entity__)
WHERE e.communities IS NOT NULL
RETURN elementId(e) AS entity, e.communities AS communities
`

const mergeCommunitiesQuery = `
UNWIND $rows AS row
MERGE (c:__Community__ {id: row.id})
ON CREATE SET c.level = row.level, c.community_rank = 0, c.weight = 0
`

const mergeMembershipsQuery = `
UNWIND $rows AS row
MATCH (e:__Entity__) WHERE elementId(e) = row.entity
MATCH (c:__Community__ {id: row.community})
MERGE (e)-[:IN_COMMUNITY]->(c)
`

const mergeLinksQuery = `
UNWIND $rows AS row
MATCH (child:__Community__ {id: row.child})
MATCH (parent:__Community__ {id: row.parent})
MERGE (child)-[:PARENT_COMMUNITY]->(parent)
`

// Rank counts distinct documents and weight distinct chunks reachable from
// the members of a community. Parents aggregate over their level-0
// descendants.
const (
	leafRankQuery = `
MATCH (c:__Community__ {level: 0})<-[:IN_COMMUNITY]-(:__Entity__)<-[:HAS_ENTITY]-(:Chunk)-[:PART_OF]->(d:Document)
WITH c, count(DISTINCT d) AS rank
SET c.community_rank = rank
`
	parentRankQuery = `
MATCH (c:__Community__)<-[:PARENT_COMMUNITY*]-(:__Community__ {level: 0})<-[:IN_COMMUNITY]-(:__Entity__)<-[:HAS_ENTITY]-(:Chunk)-[:PART_OF]->(d:Document)
WITH c, count(DISTINCT d) AS rank
SET c.community_rank = rank
`
	leafWeightQuery = `
MATCH (c:__Community__ {level: 0})<-[:IN_COMMUNITY]-(:__Entity__)<-[:HAS_ENTITY]-(ch:Chunk)
WITH c, count(DISTINCT ch) AS chunks
SET c.weight = chunks
`
	parentWeightQuery = `
MATCH (c:__Community__)<-[:PARENT_COMMUNITY*]-(:__Community__ {level: 0})<-[:IN_COMMUNITY]-(:__Entity__)<-[:HAS_ENTITY]-(ch:Chunk)
WITH c, count(DISTINCT ch) AS chunks
SET c.weight = chunks
`
)

// StageFailure records a stage that failed without aborting the build.
type StageFailure struct {
	Stage string `json:"stage"`
	Err   error  `json:"-"`
	Error string `json:"error"`
}

func newStageFailure(stage string, err error) StageFailure {
	return StageFailure{Stage: stage, Err: err, Error: err.Error()}
}

type metricStage struct {
	name  string
	query string
}

var metricStages = []metricStage{
	{name: "community_rank", query: leafRankQuery},
	{name: "parent_community_rank", query: parentRankQuery},
	{name: "community_weight", query: leafWeightQuery},
	{name: "parent_community_weight", query: parentWeightQuery},
}

// Materializer turns the labels written by Leiden into community nodes.
type Materializer struct {
	runner graphdb.Runner
}

func NewMaterializer(runner graphdb.Runner) *Materializer {
	return &Materializer{runner: runner}
}

func (m *Materializer) CreateConstraint(ctx context.Context) error {
	if _, err := m.runner.Run(ctx, constraintQuery, nil); err != nil {
		return fmt.Errorf("failed to create community constraint: %w", err)
	}
	return nil
}

// ReadAssignments loads the label chain of every clustered entity.
func (m *Materializer) ReadAssignments(ctx context.Context) ([]Assignment, error) {
	res, err := m.runner.Run(ctx, assignmentsQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read community assignments: %w", err)
	}

	out := make([]Assignment, 0, len(res.Records))
	for _, rec := range res.Records {
		raw, _ := rec.Get("communities")
		labels := make([]int64, 0)
		if list, ok := raw.([]any); ok {
			for _, v := range list {
				labels = append(labels, graphdb.AsInt(v))
			}
		}
		out = append(out, Assignment{
			EntityID:    graphdb.String(rec, "entity"),
			Communities: labels,
		})
	}
	return out, nil
}

// CreateLevels merges every community, membership and parent link implied by
// the current assignments. Re-running it with the same labels changes nothing.
func (m *Materializer) CreateLevels(ctx context.Context) (Plan, error) {
	assignments, err := m.ReadAssignments(ctx)
	if err != nil {
		return Plan{}, err
	}

	plan := PlanHierarchy(assignments)
	if conflicts := plan.Conflicts(); len(conflicts) > 0 {
		logger.Warn("[Community] Communities with more than one parent", "count", len(conflicts), "first", conflicts[0])
	}

	communities := make([]map[string]any, len(plan.Communities))
	for i, n := range plan.Communities {
		communities[i] = map[string]any{"id": n.ID, "level": n.Level}
	}
	if err := m.writeRows(ctx, mergeCommunitiesQuery, communities); err != nil {
		return plan, fmt.Errorf("failed to merge communities: %w", err)
	}

	memberships := make([]map[string]any, len(plan.Memberships))
	for i, ms := range plan.Memberships {
		memberships[i] = map[string]any{"entity": ms.EntityID, "community": ms.CommunityID}
	}
	if err := m.writeRows(ctx, mergeMembershipsQuery, memberships); err != nil {
		return plan, fmt.Errorf("failed to merge community memberships: %w", err)
	}

	links := make([]map[string]any, len(plan.Links))
	for i, l := range plan.Links {
		links[i] = map[string]any{"child": l.Child, "parent": l.Parent}
	}
	if err := m.writeRows(ctx, mergeLinksQuery, links); err != nil {
		return plan, fmt.Errorf("failed to merge parent communities: %w", err)
	}

	logger.Info("[Community] Created community levels",
		"communities", len(plan.Communities),
		"memberships", len(plan.Memberships),
		"links", len(plan.Links),
		"levels", plan.Levels(),
	)
	return plan, nil
}

func (m *Materializer) writeRows(ctx context.Context, query string, rows []map[string]any) error {
	return chunkRange(len(rows), writeBatchSize, func(start, end int) error {
		_, err := m.runner.Run(ctx, query, map[string]any{"rows": rows[start:end]})
		return err
	})
}

// DeriveMetrics recomputes rank and weight for every community. Each of the
// four statements is its own stage; a failing stage is reported and the rest
// still run.
func (m *Materializer) DeriveMetrics(ctx context.Context) []StageFailure {
	var failures []StageFailure
	for _, stage := range metricStages {
		if _, err := m.runner.Run(ctx, stage.query, nil); err != nil {
			logger.Error("[Community] Metric stage failed", "stage", stage.name, "err", err)
			failures = append(failures, newStageFailure(stage.name, err))
			continue
		}
		logger.Info("[Community] Metric stage done", "stage", stage.name)
	}
	return failures
}
