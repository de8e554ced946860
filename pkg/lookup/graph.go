package lookup

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/saulfrancisco-ruizacevedo/gocypher"
)

const (
	DefaultGraphChunkLimit = 50
	chunkPageSize          = 10
)

// documentGraphQuery returns, per document, the document, up to $chunk_limit
// of its chunks, the entities they mention and the relationships among them.
// Without document names it covers every completed document.
const documentGraphQuery = `
MATCH (d:Document)
WHERE (size($document_names) = 0 AND d.status = 'Completed') OR d.fileName IN $document_names
CALL {
	WITH d
	MATCH (d)<-[:PART_OF]-(c:Chunk)
	RETURN c
	ORDER BY c.position
	LIMIT $chunk_limit
}
WITH d, collect(c) AS chunks
WITH d, chunks,
	COLLECT {
		UNWIND chunks AS c
		MATCH (c)-[:HAS_ENTITY]->(e:__Entity__)
		RETURN DISTINCT e
	} AS entities
WITH d, chunks, entities,
	COLLECT {
		UNWIND chunks AS c
		MATCH (c)-[r:PART_OF]->(d)
		RETURN r
	} AS part_of,
	COLLECT {
		UNWIND chunks AS c
		MATCH (c)-[r:HAS_ENTITY]->(:__Entity__)
		RETURN r
	} AS mentions,
	COLLECT {
		UNWIND entities AS a
		UNWIND entities AS b
		MATCH (a)-[r]->(b)
		RETURN DISTINCT r
	} AS entity_rels
RETURN [d] + chunks + entities AS nodes, part_of + mentions + entity_rels AS rels`

const countChunksQuery = `
MATCH (d:Document {fileName: $file_name})<-[:PART_OF]-(c:Chunk)
RETURN count(c) AS total_chunks`

const chunkTextQuery = `
MATCH (d:Document {fileName: $file_name})<-[:PART_OF]-(c:Chunk)
RETURN c.text AS chunk_text, c.position AS chunk_position, c.page_number AS page_number
ORDER BY c.position
SKIP $skip
LIMIT $limit`

// Graph is a node/relationship view for display.
type Graph struct {
	Nodes         []Node         `json:"nodes"`
	Relationships []Relationship `json:"relationships"`
}

var hiddenProperties = map[string]bool{"embedding": true, "text": true, "summary": true}

func displayNode(n neo4j.Node) Node {
	props := make(map[string]any, len(n.Props))
	for k, v := range n.Props {
		if hiddenProperties[k] {
			continue
		}
		props[k] = graphdb.Plain(v)
	}
	return Node{
		ElementID:  n.ElementId,
		Labels:     NormalizeLabels(n.Labels),
		Properties: props,
	}
}

// DocumentGraph returns the graph behind the named documents.
func (s *Service) DocumentGraph(ctx context.Context, documentNames []string) (Graph, error) {
	res, err := s.runner.Run(ctx, documentGraphQuery, map[string]any{
		"document_names": nonNil(documentNames),
		"chunk_limit":    s.params.GraphChunkLimit,
	})
	if err != nil {
		logger.Error("[Lookup] Graph query failed", "documents", len(documentNames), "err", err)
		return Graph{}, fmt.Errorf("failed to query document graph: %w", err)
	}

	g := Graph{Nodes: []Node{}, Relationships: []Relationship{}}
	seenNodes := map[string]bool{}
	seenRels := map[string]bool{}
	for _, rec := range res.Records {
		for _, v := range asList(graphdb.Value(rec, "nodes")) {
			n, ok := graphdb.NodeValue(v)
			if !ok || seenNodes[n.ElementId] {
				continue
			}
			seenNodes[n.ElementId] = true
			g.Nodes = append(g.Nodes, displayNode(n))
		}
		for _, v := range asList(graphdb.Value(rec, "rels")) {
			r, ok := graphdb.RelationshipValue(v)
			if !ok || seenRels[r.ElementId] {
				continue
			}
			seenRels[r.ElementId] = true
			g.Relationships = append(g.Relationships, Relationship{
				ElementID:          r.ElementId,
				Type:               r.Type,
				StartNodeElementID: r.StartElementId,
				EndNodeElementID:   r.EndElementId,
			})
		}
	}
	logger.Debug("[Lookup] Document graph", "nodes", len(g.Nodes), "relationships", len(g.Relationships))
	return g, nil
}

func asList(v any) []any {
	list, _ := v.([]any)
	return list
}

type ChunkText struct {
	Text       string `json:"text"`
	Position   int64  `json:"position"`
	PageNumber *int64 `json:"pagenumber"`
}

type ChunkPage struct {
	PageItems  []ChunkText `json:"pageitems"`
	TotalPages int64       `json:"total_pages"`
}

// ChunkText pages through a document's chunks in position order, ten per
// page. Pages start at 1.
func (s *Service) ChunkText(ctx context.Context, documentName string, page int) (ChunkPage, error) {
	if page < 1 {
		page = 1
	}
	params := map[string]any{"file_name": documentName}

	countRes, err := s.runner.Run(ctx, countChunksQuery, params)
	if err != nil {
		return ChunkPage{}, fmt.Errorf("failed to count chunks of %q: %w", documentName, err)
	}
	total := int64(0)
	if rec, err := graphdb.Single(countRes); err == nil {
		total = graphdb.Int(rec, "total_chunks")
	}

	res, err := s.runner.Run(ctx, chunkTextQuery, map[string]any{
		"file_name": documentName,
		"skip":      (page - 1) * chunkPageSize,
		"limit":     chunkPageSize,
	})
	if err != nil {
		return ChunkPage{}, fmt.Errorf("failed to read chunks of %q: %w", documentName, err)
	}

	out := ChunkPage{
		PageItems:  make([]ChunkText, 0, len(res.Records)),
		TotalPages: (total + chunkPageSize - 1) / chunkPageSize,
	}
	for _, rec := range res.Records {
		item := ChunkText{
			Text:     graphdb.String(rec, "chunk_text"),
			Position: graphdb.Int(rec, "chunk_position"),
		}
		if v := graphdb.Value(rec, "page_number"); v != nil {
			p := graphdb.AsInt(v)
			item.PageNumber = &p
		}
		out.PageItems = append(out.PageItems, item)
	}
	return out, nil
}

// CompletedDocuments lists the file names of documents whose status is
// Completed.
func (s *Service) CompletedDocuments(ctx context.Context) ([]string, error) {
	query, params, err := gocypher.NewQueryBuilder().
		Match(gocypher.N("node", "Document").WithProperties(map[string]interface{}{"status": "Completed"})).
		Return("node").
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build documents query: %w", err)
	}
	res, err := s.runner.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed documents: %w", err)
	}

	names := make([]string, 0, len(res.Records))
	for _, rec := range res.Records {
		n, ok := graphdb.NodeValue(graphdb.Value(rec, "node"))
		if !ok {
			continue
		}
		if name := graphdb.AsString(n.Props["fileName"]); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
