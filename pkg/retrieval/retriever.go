package retrieval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("kgraph/retrieval")

var ErrEmptyQuestion = errors.New("question is empty")

type Request struct {
	Question      string   `json:"question" validate:"required"`
	Mode          Mode     `json:"mode"`
	DocumentNames []string `json:"document_names"`
}

// Detail is a matched item and its score.
type Detail struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// EntityRefs names the entities and relationships placed into context.
type EntityRefs struct {
	EntityIDs       []string `json:"entityids"`
	RelationshipIDs []string `json:"relationshipids"`
}

// Metadata carries the ids needed to look the context up again. ChunkDetails
// hold chunk ids, EntityDetails and CommunityDetails hold element ids.
type Metadata struct {
	Mode             Mode       `json:"mode"`
	Sources          []string   `json:"sources"`
	ChunkDetails     []Detail   `json:"chunkdetails"`
	EntityDetails    []Detail   `json:"entitydetails"`
	CommunityDetails []Detail   `json:"communitydetails"`
	Entities         EntityRefs `json:"entities"`
}

type Result struct {
	Text     string   `json:"text"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

type RetrieverParams struct {
	Policy ExpansionPolicy
	Local  LocalCommunityLimits

	// TokenBudget caps the rendered context; zero disables the cap.
	TokenBudget int
}

func DefaultRetrieverParams() RetrieverParams {
	return RetrieverParams{
		Policy:      DefaultExpansionPolicy(),
		Local:       DefaultLocalCommunityLimits(),
		TokenBudget: 0,
	}
}

// Retriever is stateless apart from its configuration and safe for concurrent
// use.
type Retriever struct {
	runner graphdb.Runner
	client ai.GraphAIClient
	params RetrieverParams
}

// NewRetriever validates params before returning a Retriever.
func NewRetriever(runner graphdb.Runner, client ai.GraphAIClient, params RetrieverParams) (*Retriever, error) {
	if err := params.Policy.Validate(); err != nil {
		return nil, err
	}
	if err := params.Local.Validate(); err != nil {
		return nil, err
	}
	return &Retriever{runner: runner, client: client, params: params}, nil
}

// Retrieve gathers context for req.Question using req.Mode. Query errors are
// logged and returned; there is no retry.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Result{}, ErrEmptyQuestion
	}
	mode := req.Mode
	if mode == "" {
		mode = DefaultMode
	}
	cfg, ok := modeConfigs[mode]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownMode, string(mode))
	}

	ctx, span := tracer.Start(ctx, "retrieval.retrieve", trace.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.String("strategy", mode.Strategy().String()),
	))
	defer span.End()

	res, err := r.retrieve(ctx, mode, cfg, req)
	if err != nil {
		logger.Error("[Retrieval] Query failed", "mode", mode, "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	res.Text = fitBudget(res.Text, r.params.TokenBudget)
	res.Metadata.Mode = mode
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (r *Retriever) retrieve(ctx context.Context, mode Mode, cfg ModeConfig, req Request) (Result, error) {
	vec, err := r.client.GenerateEmbedding(ctx, []byte(req.Question))
	if err != nil {
		return Result{}, fmt.Errorf("failed to embed question: %w", err)
	}
	params := r.searchParams(cfg, req, vec)

	switch mode.Strategy() {
	case StrategyPlainVector:
		return r.plainVector(ctx, cfg, params)
	case StrategyLocalCommunity:
		return r.localCommunity(ctx, params)
	case StrategyGlobalCommunity:
		return r.globalCommunity(ctx, cfg, params)
	default:
		if mode == ModeGraph {
			return r.entityGraph(ctx, cfg, vec, params)
		}
		return r.graphAugmented(ctx, cfg, vec, params)
	}
}

func (r *Retriever) searchParams(cfg ModeConfig, req Request, vec []float32) map[string]any {
	docs := req.DocumentNames
	if docs == nil {
		docs = []string{}
	}
	return map[string]any{
		"index":           cfg.Index,
		"keyword_index":   cfg.KeywordIndex,
		"top_k":           cfg.TopK,
		"query_vector":    vec,
		"query_text":      keywordQuery(req.Question),
		"score_threshold": r.params.Policy.ScoreThreshold,
		"document_names":  docs,
		"max_entities":    r.params.Policy.MaxEntities,
	}
}

type chunkHit struct {
	ID        string
	ElementID string
	Text      string
	Document  string
	Score     float64
}

func chunkFromMap(m map[string]any, document string) chunkHit {
	return chunkHit{
		ID:        graphdb.AsString(m["id"]),
		ElementID: graphdb.AsString(m["element_id"]),
		Text:      cleanText(graphdb.AsString(m["text"])),
		Document:  document,
		Score:     graphdb.AsFloat(m["score"]),
	}
}

func (r *Retriever) plainVector(ctx context.Context, cfg ModeConfig, params map[string]any) (Result, error) {
	res, err := r.runner.Run(ctx, chunkQuery(cfg), params)
	if err != nil {
		return Result{}, fmt.Errorf("failed to search chunks: %w", err)
	}

	var (
		seen   = map[string]bool{}
		texts  []string
		scores []float64
		meta   = emptyMetadata()
	)
	for _, rec := range res.Records {
		hit := chunkHit{
			ID:        graphdb.String(rec, "id"),
			ElementID: graphdb.String(rec, "element_id"),
			Text:      cleanText(graphdb.String(rec, "text")),
			Document:  graphdb.String(rec, "document"),
			Score:     graphdb.Float(rec, "score"),
		}
		if seen[hit.ElementID] {
			continue
		}
		seen[hit.ElementID] = true
		texts = append(texts, hit.Text)
		scores = append(scores, hit.Score)
		meta.ChunkDetails = append(meta.ChunkDetails, Detail{ID: hit.ID, Score: hit.Score})
		meta.Sources = appendUnique(meta.Sources, hit.Document)
	}

	return Result{
		Text:     strings.Join(texts, blockSeparator),
		Score:    mean(scores),
		Metadata: meta,
	}, nil
}

type seed struct {
	ElementID string
	Score     float64
	Expansion Expansion
}

func (r *Retriever) classify(vec []float32, m map[string]any) Expansion {
	raw, has := m["embedding"]
	if !has || raw == nil {
		return r.params.Policy.ClassifyBand(0, false, false)
	}
	sim, ok := CosineSimilarity(vec, graphdb.AsVector(raw))
	return r.params.Policy.ClassifyBand(sim, true, ok)
}

func seedBand(e Expansion) string {
	switch {
	case e.Band == BandNone:
		return "none"
	case e.Band == BandHigh:
		return "deep"
	default:
		return "shallow"
	}
}

// expand walks the graph around each seed once and returns the subgraph per
// seed element id. A seed without neighbours still maps to itself.
func (r *Retriever) expand(ctx context.Context, seeds []seed) (map[string]*subgraph, error) {
	out := make(map[string]*subgraph, len(seeds))
	if len(seeds) == 0 {
		return out, nil
	}
	rows := make([]map[string]any, 0, len(seeds))
	for _, s := range seeds {
		rows = append(rows, map[string]any{
			"element_id": s.ElementID,
			"band":       seedBand(s.Expansion),
		})
	}
	res, err := r.runner.Run(ctx, expansionQuery(r.params.Policy), map[string]any{
		"seeds":         rows,
		"shallow_limit": r.params.Policy.ShallowLimit,
		"deep_limit":    r.params.Policy.DeepLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expand entities: %w", err)
	}
	for _, rec := range res.Records {
		entity := entityFromMap(graphdb.Map(rec, "entity"))
		g := newSubgraph()
		g.addEntity(entity)
		for _, n := range graphdb.Maps(rec, "nodes") {
			g.addEntity(entityFromMap(n))
		}
		for _, rel := range graphdb.Maps(rec, "rels") {
			g.addRelation(relationFromMap(rel))
		}
		out[entity.ElementID] = g
	}
	return out, nil
}

type documentHits struct {
	Name   string
	Chunks []chunkHit
	Seeds  []string
}

func (r *Retriever) graphAugmented(ctx context.Context, cfg ModeConfig, vec []float32, params map[string]any) (Result, error) {
	res, err := r.runner.Run(ctx, graphChunkQuery(cfg), params)
	if err != nil {
		return Result{}, fmt.Errorf("failed to search chunks: %w", err)
	}

	var (
		docs      []documentHits
		seeds     []seed
		seenSeeds = map[string]bool{}
	)
	for _, rec := range res.Records {
		doc := documentHits{Name: graphdb.String(rec, "document")}
		for _, c := range graphdb.Maps(rec, "chunks") {
			doc.Chunks = append(doc.Chunks, chunkFromMap(c, doc.Name))
		}
		for _, e := range graphdb.Maps(rec, "entities") {
			id := graphdb.AsString(e["element_id"])
			if id == "" {
				continue
			}
			doc.Seeds = append(doc.Seeds, id)
			if seenSeeds[id] {
				continue
			}
			seenSeeds[id] = true
			seeds = append(seeds, seed{ElementID: id, Expansion: r.classify(vec, e)})
		}
		docs = append(docs, doc)
	}

	expanded, err := r.expand(ctx, seeds)
	if err != nil {
		return Result{}, err
	}

	var (
		blocks     []string
		scores     []float64
		seenChunks = map[string]bool{}
		all        = newSubgraph()
		meta       = emptyMetadata()
	)
	for _, doc := range docs {
		var texts []string
		for _, c := range doc.Chunks {
			if seenChunks[c.ElementID] {
				continue
			}
			seenChunks[c.ElementID] = true
			texts = append(texts, c.Text)
			scores = append(scores, c.Score)
			meta.ChunkDetails = append(meta.ChunkDetails, Detail{ID: c.ID, Score: c.Score})
		}
		g := newSubgraph()
		for _, id := range doc.Seeds {
			if sub, ok := expanded[id]; ok {
				g.merge(sub)
			}
		}
		all.merge(g)
		meta.Sources = appendUnique(meta.Sources, doc.Name)
		blocks = append(blocks, graphBlock(texts, g))
	}
	meta.Entities = EntityRefs{EntityIDs: all.entityIDs(), RelationshipIDs: all.relationshipIDs()}

	return Result{
		Text:     strings.Join(blocks, "\n\n"),
		Score:    mean(scores),
		Metadata: meta,
	}, nil
}

// entityGraph seeds the expansion from the entity keyword index instead of
// from chunks.
func (r *Retriever) entityGraph(ctx context.Context, cfg ModeConfig, vec []float32, params map[string]any) (Result, error) {
	res, err := r.runner.Run(ctx, entitySearchQuery(cfg), params)
	if err != nil {
		return Result{}, fmt.Errorf("failed to search entities: %w", err)
	}

	var (
		seeds  []seed
		seen   = map[string]bool{}
		scores []float64
		meta   = emptyMetadata()
	)
	for _, rec := range res.Records {
		id := graphdb.String(rec, "element_id")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		row := map[string]any{"embedding": graphdb.Value(rec, "embedding")}
		s := seed{ElementID: id, Score: graphdb.Float(rec, "score"), Expansion: r.classify(vec, row)}
		seeds = append(seeds, s)
		scores = append(scores, s.Score)
		meta.EntityDetails = append(meta.EntityDetails, Detail{ID: id, Score: s.Score})
	}

	expanded, err := r.expand(ctx, seeds)
	if err != nil {
		return Result{}, err
	}
	g := newSubgraph()
	for _, s := range seeds {
		if sub, ok := expanded[s.ElementID]; ok {
			g.merge(sub)
		}
	}
	meta.Entities = EntityRefs{EntityIDs: g.entityIDs(), RelationshipIDs: g.relationshipIDs()}

	text := ""
	if len(seeds) > 0 {
		text = graphBlock(nil, g)
	}
	return Result{Text: text, Score: mean(scores), Metadata: meta}, nil
}

func (r *Retriever) localCommunity(ctx context.Context, params map[string]any) (Result, error) {
	for k, v := range LocalCommunityParams(r.params.Local) {
		params[k] = v
	}
	res, err := r.runner.Run(ctx, localCommunityQuery(), params)
	if err != nil {
		return Result{}, fmt.Errorf("failed to gather local community context: %w", err)
	}
	meta := emptyMetadata()
	rec, err := graphdb.Single(res)
	if err != nil {
		return Result{Metadata: meta}, nil
	}
	if len(graphdb.Maps(rec, "entities")) == 0 {
		return Result{Metadata: meta}, nil
	}

	score := graphdb.Float(rec, "score")
	lc := localContext{Graph: newSubgraph(), OutsideGraph: newSubgraph()}

	for _, m := range graphdb.Maps(rec, "metadata") {
		meta.EntityDetails = append(meta.EntityDetails, Detail{
			ID:    graphdb.AsString(m["id"]),
			Score: graphdb.AsFloat(m["score"]),
		})
	}
	for _, c := range graphdb.Maps(rec, "chunks") {
		hit := chunkFromMap(c, graphdb.AsString(c["document"]))
		lc.Chunks = append(lc.Chunks, hit.Text)
		meta.ChunkDetails = append(meta.ChunkDetails, Detail{ID: hit.ID, Score: score})
		meta.Sources = appendUnique(meta.Sources, hit.Document)
	}
	for _, c := range graphdb.Maps(rec, "communities") {
		lc.Communities = append(lc.Communities, cleanText(graphdb.AsString(c["summary"])))
		meta.CommunityDetails = append(meta.CommunityDetails, Detail{
			ID:    graphdb.AsString(c["element_id"]),
			Score: score,
		})
	}
	for _, n := range graphdb.Maps(rec, "entities") {
		lc.Graph.addEntity(entityFromMap(n))
	}
	for _, rel := range graphdb.Maps(rec, "relationships") {
		lc.Graph.addRelation(relationFromMap(rel))
	}
	for _, n := range graphdb.Maps(rec, "outside_entities") {
		e := entityFromMap(n)
		if _, isSeed := lc.Graph.nodes[e.ElementID]; !isSeed {
			lc.OutsideGraph.addEntity(e)
		}
	}
	for _, rel := range graphdb.Maps(rec, "outside_relationships") {
		rl := relationFromMap(rel)
		if _, inner := lc.Graph.rels[rl.ElementID]; !inner {
			lc.OutsideGraph.addRelation(rl)
		}
	}

	all := newSubgraph()
	all.merge(lc.Graph)
	all.merge(lc.OutsideGraph)
	meta.Entities = EntityRefs{EntityIDs: all.entityIDs(), RelationshipIDs: all.relationshipIDs()}

	return Result{Text: lc.render(), Score: score, Metadata: meta}, nil
}

func (r *Retriever) globalCommunity(ctx context.Context, cfg ModeConfig, params map[string]any) (Result, error) {
	res, err := r.runner.Run(ctx, globalQuery(cfg), params)
	if err != nil {
		return Result{}, fmt.Errorf("failed to search communities: %w", err)
	}

	var (
		seen      = map[string]bool{}
		summaries []string
		scores    []float64
		meta      = emptyMetadata()
	)
	for _, rec := range res.Records {
		id := graphdb.String(rec, "element_id")
		if seen[id] {
			continue
		}
		seen[id] = true
		summary := cleanText(graphdb.String(rec, "summary"))
		if title := graphdb.String(rec, "title"); title != "" {
			summary = title + ": " + summary
		}
		score := graphdb.Float(rec, "score")
		summaries = append(summaries, summary)
		scores = append(scores, score)
		meta.CommunityDetails = append(meta.CommunityDetails, Detail{ID: id, Score: score})
	}

	return Result{
		Text:     strings.Join(summaries, blockSeparator),
		Score:    mean(scores),
		Metadata: meta,
	}, nil
}

func emptyMetadata() Metadata {
	return Metadata{
		Sources:          []string{},
		ChunkDetails:     []Detail{},
		EntityDetails:    []Detail{},
		CommunityDetails: []Detail{},
		Entities:         EntityRefs{EntityIDs: []string{}, RelationshipIDs: []string{}},
	}
}

func appendUnique(list []string, s string) []string {
	if s == "" || slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
