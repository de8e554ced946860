package lookup

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/retrieval"
)

const nodeShape = `{
		element_id: elementId(n),
		labels: labels(n),
		properties: {id: n.id, description: n.description}
	}`

const elementShape = `{
		startNode: {
			element_id: elementId(startNode(r)),
			labels: labels(startNode(r)),
			properties: {id: startNode(r).id, description: startNode(r).description}
		},
		endNode: {
			element_id: elementId(endNode(r)),
			labels: labels(endNode(r)),
			properties: {id: endNode(r).id, description: endNode(r).description}
		},
		relationship: {type: type(r), element_id: elementId(r)}
	}`

// chunkEntitiesQuery returns one row per document of the requested chunks,
// each carrying the requested entities and relationships.
const chunkEntitiesQuery = `
MATCH (chunk:Chunk)
WHERE chunk.id IN $chunksIds
MATCH (chunk)-[:PART_OF]->(d:Document)
WITH d, collect(DISTINCT chunk) AS chunks
WITH d, chunks,
	COLLECT {
		MATCH ()-[r]->()
		WHERE elementId(r) IN $relationshipIds
		RETURN DISTINCT r
	} AS rels,
	COLLECT {
		MATCH (e)
		WHERE elementId(e) IN $entityIds
		RETURN DISTINCT e
	} AS nodes
RETURN d AS doc,
	[c IN chunks | c {.*, embedding: null, element_id: elementId(c)}] AS chunks,
	[n IN nodes | ` + nodeShape + `] AS nodes,
	[r IN rels | ` + elementShape + `] AS entities`

const entityCommunitiesPrefix = `
UNWIND $entityIds AS id
MATCH (node) WHERE elementId(node) = id
WITH node, 1.0 AS score`

const entityCommunitiesSuffix = `RETURN
	[c IN chunks | c {.*, embedding: null, element_id: elementId(c),
		fileName: head([(c)-[:PART_OF]->(d:Document) | d.fileName]),
		fileSource: head([(c)-[:PART_OF]->(d:Document) | d.fileSource])}] AS chunks,
	[c IN communities | c {.*, embedding: null, element_id: elementId(c)}] AS communities,
	[n IN nodes + outside_nodes | ` + nodeShape + `] AS nodes,
	[r IN rels + outside_rels | ` + elementShape + `] AS entities`

const communityDetailsQuery = `
MATCH (community:__Community__)
WHERE elementId(community) IN $communityIds
WITH collect(DISTINCT community) AS communities
RETURN [c IN communities | c {.*, embedding: null, element_id: elementId(c)}] AS communities`

// NodeDetails are the scored ids a retrieval result reports per mode.
type NodeDetails struct {
	ChunkDetails     []retrieval.Detail `json:"chunkdetails"`
	EntityDetails    []retrieval.Detail `json:"entitydetails"`
	CommunityDetails []retrieval.Detail `json:"communitydetails"`
}

func DetailsFromMetadata(m retrieval.Metadata) NodeDetails {
	return NodeDetails{
		ChunkDetails:     m.ChunkDetails,
		EntityDetails:    m.EntityDetails,
		CommunityDetails: m.CommunityDetails,
	}
}

type ServiceParams struct {
	Local           retrieval.LocalCommunityLimits
	GraphChunkLimit int
}

// Service answers lookups against the graph. It holds no state besides its
// configuration.
type Service struct {
	runner graphdb.Runner
	params ServiceParams
}

func NewService(runner graphdb.Runner, params ServiceParams) *Service {
	if params.Local == (retrieval.LocalCommunityLimits{}) {
		params.Local = retrieval.DefaultLocalCommunityLimits()
	}
	if params.GraphChunkLimit <= 0 {
		params.GraphChunkLimit = DefaultGraphChunkLimit
	}
	return &Service{runner: runner, params: params}
}

// GetEntities resolves details according to the mode that produced them:
// community ids for global_vector, entity ids for entity_vector and chunk ids
// plus entity refs otherwise. Missing ids give DefaultResponse.
func (s *Service) GetEntities(
	ctx context.Context,
	mode retrieval.Mode,
	details NodeDetails,
	entities retrieval.EntityRefs,
) (Response, error) {
	switch mode {
	case retrieval.ModeGlobalVector:
		return s.CommunityDetails(ctx, detailIDs(details.CommunityDetails))
	case retrieval.ModeEntityVector:
		res, err := s.EntityCommunities(ctx, detailIDs(details.EntityDetails))
		collapseChunkText(res.ChunkData)
		return res, err
	default:
		res, err := s.ChunkEntities(ctx, detailIDs(details.ChunkDetails), entities)
		collapseChunkText(res.ChunkData)
		return res, err
	}
}

func detailIDs(details []retrieval.Detail) []string {
	ids := make([]string, 0, len(details))
	for _, d := range details {
		ids = append(ids, d.ID)
	}
	return ids
}

// ChunkEntities returns the given chunks with their documents' metadata and
// the listed entities and relationships.
func (s *Service) ChunkEntities(ctx context.Context, chunkIDs []string, entities retrieval.EntityRefs) (Response, error) {
	if len(chunkIDs) == 0 {
		logger.Debug("[Lookup] No chunk ids passed")
		return DefaultResponse(), nil
	}

	res, err := s.runner.Run(ctx, chunkEntitiesQuery, map[string]any{
		"chunksIds":       chunkIDs,
		"entityIds":       nonNil(entities.EntityIDs),
		"relationshipIds": nonNil(entities.RelationshipIDs),
	})
	if err != nil {
		logger.Error("[Lookup] Failed to resolve chunk ids", "chunks", len(chunkIDs), "err", err)
		return DefaultResponse(), fmt.Errorf("failed to resolve chunk ids: %w", err)
	}

	out := DefaultResponse()
	nodes, rels := ProcessRecords(res.Records)
	out.Nodes = RemoveDuplicateNodes(append(nodes, recordNodes(res.Records)...))
	out.Relationships = rels
	out.ChunkData = ProcessChunkData(res.Records)
	logger.Debug("[Lookup] Resolved chunk ids", "chunks", len(out.ChunkData), "nodes", len(out.Nodes))
	return out, nil
}

// EntityCommunities rebuilds the local community context of the given
// entities.
func (s *Service) EntityCommunities(ctx context.Context, entityIDs []string) (Response, error) {
	if len(entityIDs) == 0 {
		logger.Debug("[Lookup] No entity ids passed")
		return DefaultResponse(), nil
	}

	params := retrieval.LocalCommunityParams(s.params.Local)
	params["entityIds"] = entityIDs
	query := entityCommunitiesPrefix + retrieval.LocalCommunityCore + entityCommunitiesSuffix
	res, err := s.runner.Run(ctx, query, params)
	if err != nil {
		logger.Error("[Lookup] Failed to resolve entity ids", "entities", len(entityIDs), "err", err)
		return DefaultResponse(), fmt.Errorf("failed to resolve entity ids: %w", err)
	}

	out := DefaultResponse()
	rec, err := graphdb.Single(res)
	if err != nil {
		return out, nil
	}
	nodes, rels := ProcessRecords(res.Records)
	out.Nodes = RemoveDuplicateNodes(append(nodes, recordNodes(res.Records)...))
	out.Relationships = rels
	out.ChunkData = propertyMaps(graphdb.Maps(rec, "chunks"))
	out.CommunityData = propertyMaps(graphdb.Maps(rec, "communities"))
	return out, nil
}

// CommunityDetails returns the properties of the given communities.
func (s *Service) CommunityDetails(ctx context.Context, communityIDs []string) (Response, error) {
	if len(communityIDs) == 0 {
		logger.Debug("[Lookup] No community ids passed")
		return DefaultResponse(), nil
	}

	res, err := s.runner.Run(ctx, communityDetailsQuery, map[string]any{"communityIds": communityIDs})
	if err != nil {
		logger.Error("[Lookup] Failed to resolve community ids", "communities", len(communityIDs), "err", err)
		return DefaultResponse(), fmt.Errorf("failed to resolve community ids: %w", err)
	}

	out := DefaultResponse()
	if rec, err := graphdb.Single(res); err == nil {
		out.CommunityData = propertyMaps(graphdb.Maps(rec, "communities"))
	}
	return out, nil
}

// propertyMaps renders temporal values and drops embeddings.
func propertyMaps(in []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(in))
	for _, m := range in {
		p := graphdb.AsMap(graphdb.Plain(m))
		delete(p, "embedding")
		out = append(out, p)
	}
	return out
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
