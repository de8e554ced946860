package community

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/workerpool"
)

// UntitledCommunity is stored when the model reply carries no title line.
const UntitledCommunity = "Untitled Community"

const (
	defaultSummaryWorkers   = 10
	defaultSummaryMaxTokens = 12000
)

const leafCommunitiesQuery = `
MATCH (c:__Community__ {level: 0})<-[:IN_COMMUNITY]-(e:__Entity__)
WHERE c.summary IS NULL
WITH c, collect(DISTINCT e) AS nodes
RETURN c.id AS community_id,
  [n IN nodes | {
    id: n.id,
    description: n.description,
    type: [l IN labels(n) WHERE l <> '__Entity__'][0]
  }] AS nodes,
  COLLECT {
    UNWIND nodes AS s
    MATCH (s)-[r]->(t)
    WHERE t IN nodes
    RETURN {start: s.id, type: type(r), end: t.id, description: r.description}
  } AS rels
`

const parentCommunitiesQuery = `
MATCH (p:__Community__ {level: $level})<-[:PARENT_COMMUNITY]-(c:__Community__)
WHERE p.summary IS NULL
WITH p, c
ORDER BY c.community_rank DESC, c.id
RETURN p.id AS community_id, count(c) AS children, collect(c.summary) AS texts
`

const maxLevelQuery = `
MATCH (c:__Community__)
RETURN coalesce(max(c.level), -1) AS level
`

const storeSummariesQuery = `
UNWIND $rows AS row
MERGE (c:__Community__ {id: row.community})
SET c.summary = row.summary,
    c.title = row.title
`

// Summary is the persisted title and summary of one community.
type Summary struct {
	Community string `json:"community"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
}

// StructuredSummary is the reply schema used in structured mode.
type StructuredSummary struct {
	Title   string `json:"title" jsonschema:"description=Short specific name of the community"`
	Summary string `json:"summary" jsonschema:"description=Summary of the community's entities and relationships"`
}

// MemberNode is an entity of a leaf community.
type MemberNode struct {
	ID          string
	Type        string
	Description string
}

// MemberRelationship is a relationship between two members of a leaf community.
type MemberRelationship struct {
	Start       string
	Type        string
	End         string
	Description string
}

type summaryTask struct {
	id          string
	parent      bool
	description string
}

// SummaryReport counts the outcome of one summarization run.
type SummaryReport struct {
	Leaves   int `json:"leaves"`
	Parents  int `json:"parents"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
}

// Summarizer writes a title and summary on every community that lacks one,
// level 0 first and then each parent level once all of its children are done.
type Summarizer struct {
	runner     graphdb.Runner
	client     ai.GraphAIClient
	workers    int
	maxTokens  int
	structured bool
	log        *logger.Logger
}

type SummarizerParams struct {
	Workers   int
	MaxTokens int
	Logger    *logger.Logger

	// Structured requests a StructuredSummary through the client's JSON
	// schema support instead of parsing free text.
	Structured bool
}

func NewSummarizer(runner graphdb.Runner, client ai.GraphAIClient, params SummarizerParams) *Summarizer {
	if params.Workers <= 0 {
		params.Workers = defaultSummaryWorkers
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = defaultSummaryMaxTokens
	}
	if params.Logger == nil {
		params.Logger = logger.With("component", "summarize")
	}
	return &Summarizer{
		runner:     runner,
		client:     client,
		workers:    params.Workers,
		maxTokens:  params.MaxTokens,
		structured: params.Structured,
		log:        params.Logger,
	}
}

// Run performs the leaf pass followed by one pass per parent level. Each pass
// waits for all of its tasks before the next one reads from the database.
func (s *Summarizer) Run(ctx context.Context) (SummaryReport, error) {
	var report SummaryReport

	leaves, err := s.leafTasks(ctx)
	if err != nil {
		return report, err
	}
	written, failed, err := s.pass(ctx, 0, leaves)
	report.Leaves += written
	report.Failed += failed
	if err != nil {
		return report, err
	}

	maxLevel, err := s.maxLevel(ctx)
	if err != nil {
		return report, err
	}
	for level := 1; level <= maxLevel; level++ {
		parents, deferred, err := s.parentTasks(ctx, level)
		if err != nil {
			return report, err
		}
		report.Deferred += deferred

		written, failed, err := s.pass(ctx, level, parents)
		report.Parents += written
		report.Failed += failed
		if err != nil {
			return report, err
		}
	}

	return report, nil
}

func (s *Summarizer) pass(ctx context.Context, level int, tasks []summaryTask) (int, int, error) {
	if len(tasks) == 0 {
		return 0, 0, nil
	}
	start := time.Now()
	s.log.Info("[Summarize] Starting pass", "level", level, "communities", len(tasks))

	results := workerpool.Run(ctx, s.workers, tasks, s.summarize)

	rows := make([]map[string]any, 0, len(results))
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			s.log.Error("[Summarize] Community summary failed", "community", tasks[r.Index].id, "err", r.Err)
			continue
		}
		rows = append(rows, map[string]any{
			"community": r.Value.Community,
			"title":     r.Value.Title,
			"summary":   r.Value.Summary,
		})
	}

	if len(rows) > 0 {
		if _, err := s.runner.Run(ctx, storeSummariesQuery, map[string]any{"rows": rows}); err != nil {
			return 0, failed, fmt.Errorf("failed to store community summaries for level %d: %w", level, err)
		}
	}

	s.log.Info("[Summarize] Pass done",
		"level", level,
		"written", len(rows),
		"failed", failed,
		"duration", time.Since(start),
	)
	return len(rows), failed, nil
}

func (s *Summarizer) summarize(ctx context.Context, task summaryTask) (Summary, error) {
	system, template := ai.CommunitySystemPrompt, ai.CommunityPrompt
	if task.parent {
		system, template = ai.ParentCommunitySystemPrompt, ai.ParentCommunityPrompt
	}

	prompt := fmt.Sprintf(template, ai.TruncateTokens(task.description, s.maxTokens))

	var title, summary string
	if s.structured {
		var out StructuredSummary
		err := s.client.GenerateCompletionWithFormat(ctx,
			"community_summary",
			"Title and summary of one community",
			prompt,
			&out,
			ai.WithSystemPrompts(system),
			ai.WithTemperature(0),
		)
		if err != nil {
			return Summary{}, fmt.Errorf("failed to summarize community %s: %w", task.id, err)
		}
		title, summary = cleanSummary(out.Title, out.Summary)
	} else {
		reply, err := s.client.GenerateCompletion(ctx, prompt, ai.WithSystemPrompts(system))
		if err != nil {
			return Summary{}, fmt.Errorf("failed to summarize community %s: %w", task.id, err)
		}
		title, summary = ParseSummary(reply)
	}
	s.log.Debug("[Summarize] Community title", "community", task.id, "title", title)
	return Summary{Community: task.id, Title: title, Summary: summary}, nil
}

func (s *Summarizer) leafTasks(ctx context.Context) ([]summaryTask, error) {
	res, err := s.runner.Run(ctx, leafCommunitiesQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch leaf communities: %w", err)
	}

	tasks := make([]summaryTask, 0, len(res.Records))
	for _, rec := range res.Records {
		nodes := make([]MemberNode, 0)
		for _, n := range graphdb.Maps(rec, "nodes") {
			nodes = append(nodes, MemberNode{
				ID:          graphdb.AsString(n["id"]),
				Type:        graphdb.AsString(n["type"]),
				Description: graphdb.AsString(n["description"]),
			})
		}
		rels := make([]MemberRelationship, 0)
		for _, r := range graphdb.Maps(rec, "rels") {
			rels = append(rels, MemberRelationship{
				Start:       graphdb.AsString(r["start"]),
				Type:        graphdb.AsString(r["type"]),
				End:         graphdb.AsString(r["end"]),
				Description: graphdb.AsString(r["description"]),
			})
		}
		tasks = append(tasks, summaryTask{
			id:          graphdb.String(rec, "community_id"),
			description: LeafDescription(nodes, rels),
		})
	}
	return tasks, nil
}

// parentTasks returns the communities at level whose children all have a
// summary, plus the number skipped because a child is still missing one.
func (s *Summarizer) parentTasks(ctx context.Context, level int) ([]summaryTask, int, error) {
	res, err := s.runner.Run(ctx, parentCommunitiesQuery, map[string]any{"level": level})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch parent communities at level %d: %w", level, err)
	}

	tasks := make([]summaryTask, 0, len(res.Records))
	deferred := 0
	for _, rec := range res.Records {
		id := graphdb.String(rec, "community_id")
		texts := graphdb.Strings(rec, "texts")
		children := graphdb.Int(rec, "children")
		if int64(len(texts)) < children {
			deferred++
			s.log.Warn("[Summarize] Skipping parent with unsummarized children",
				"community", id,
				"children", children,
				"summarized", len(texts),
			)
			continue
		}
		tasks = append(tasks, summaryTask{
			id:          id,
			parent:      true,
			description: ParentDescription(texts),
		})
	}
	return tasks, deferred, nil
}

func (s *Summarizer) maxLevel(ctx context.Context) (int, error) {
	res, err := s.runner.Run(ctx, maxLevelQuery, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to read community levels: %w", err)
	}
	rec, err := graphdb.Single(res)
	if err != nil {
		return -1, nil
	}
	return int(graphdb.Int(rec, "level")), nil
}

// LeafDescription renders the members of a leaf community for the prompt.
func LeafDescription(nodes []MemberNode, rels []MemberRelationship) string {
	var sb strings.Builder
	sb.WriteString("Nodes are:\n")
	for _, n := range nodes {
		sb.WriteString(n.ID)
		sb.WriteString(":")
		sb.WriteString(n.Type)
		if n.Description != "" {
			sb.WriteString(" (")
			sb.WriteString(n.Description)
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nRelationships are:\n")
	for _, r := range rels {
		fmt.Fprintf(&sb, "(%s)-[%s]->(%s)", r.Start, r.Type, r.End)
		if r.Description != "" {
			sb.WriteString(" (")
			sb.WriteString(r.Description)
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// ParentDescription numbers the child summaries of a parent community.
func ParentDescription(summaries []string) string {
	parts := make([]string, len(summaries))
	for i, s := range summaries {
		parts[i] = fmt.Sprintf("Summary %d: %s", i+1, s)
	}
	return strings.Join(parts, "\n")
}

// ParseSummary extracts title and summary from a model reply. Lines are
// matched by case-insensitive prefix and the last match wins. Replies that
// look like JSON are decoded instead.
func ParseSummary(reply string) (string, string) {
	title, summary := "", ""

	if ai.LooksLikeJSON(reply) {
		var out StructuredSummary
		if err := ai.UnmarshalFlexible(reply, &out); err == nil {
			title, summary = out.Title, out.Summary
		}
	}

	if title == "" && summary == "" {
		for _, line := range strings.Split(reply, "\n") {
			line = strings.TrimSpace(line)
			lower := strings.ToLower(line)
			switch {
			case strings.HasPrefix(lower, "title"):
				title = afterColon(line)
			case strings.HasPrefix(lower, "summary"):
				summary = afterColon(line)
			}
		}
	}

	return cleanSummary(title, summary)
}

func cleanSummary(title, summary string) (string, string) {
	title = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(title), ","))
	if title == "" {
		title = UntitledCommunity
	}
	return title, strings.TrimSpace(summary)
}

func afterColon(line string) string {
	if _, after, ok := strings.Cut(line, ":"); ok {
		return strings.TrimSpace(after)
	}
	return line
}
