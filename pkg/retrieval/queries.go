package retrieval

import (
	"fmt"
	"strings"
)

const vectorSearch = `CALL db.index.vector.queryNodes($index, $top_k, $query_vector) YIELD node, score`

const keywordSearch = `CALL db.index.fulltext.queryNodes($keyword_index, $query_text, {limit: $top_k}) YIELD node, score`

// normalizeScores rescales the rows of one index by its best score so vector
// and keyword hits are comparable.
const normalizeScores = `
	WITH collect({node: node, score: score}) AS hits, max(score) AS top
	UNWIND hits AS hit
	%s hit.node AS node, hit.score / top AS score`

// searchClause yields (node, score) rows for cfg. Hybrid configs merge the
// normalized vector and keyword hits, keeping the best score per node.
func searchClause(cfg ModeConfig, threshold bool) string {
	var b strings.Builder
	switch {
	case cfg.Index == "":
		b.WriteString(keywordSearch)
		b.WriteString(fmt.Sprintf(normalizeScores, "WITH"))
		b.WriteString("\n")
	case cfg.Hybrid():
		b.WriteString("CALL {\n\t")
		b.WriteString(vectorSearch)
		b.WriteString(fmt.Sprintf(normalizeScores, "RETURN"))
		b.WriteString("\n\tUNION\n\t")
		b.WriteString(keywordSearch)
		b.WriteString(fmt.Sprintf(normalizeScores, "RETURN"))
		b.WriteString("\n}\nWITH node, max(score) AS score\nORDER BY score DESC\nLIMIT $top_k\n")
	default:
		b.WriteString(vectorSearch)
		b.WriteString("\n")
	}
	if threshold {
		b.WriteString("WITH node, score WHERE score >= $score_threshold\n")
	}
	return b.String()
}

const documentFilter = `WHERE size($document_names) = 0 OR d.fileName IN $document_names
`

func chunkQuery(cfg ModeConfig) string {
	var b strings.Builder
	b.WriteString(searchClause(cfg, true))
	b.WriteString("MATCH (node)-[:PART_OF]->(d:Document)\n")
	if cfg.DocumentFilter {
		b.WriteString(documentFilter)
	}
	b.WriteString(`RETURN node.id AS id, elementId(node) AS element_id, node.text AS text,
	d.fileName AS document, score
ORDER BY score DESC`)
	return b.String()
}

// graphChunkQuery groups matched chunks by document and attaches the entities
// those chunks mention most often.
func graphChunkQuery(cfg ModeConfig) string {
	var b strings.Builder
	b.WriteString(searchClause(cfg, true))
	b.WriteString("MATCH (node)-[:PART_OF]->(d:Document)\n")
	if cfg.DocumentFilter {
		b.WriteString(documentFilter)
	}
	b.WriteString(`WITH d, collect(DISTINCT {chunk: node, score: score}) AS chunks
WITH d, chunks,
	COLLECT {
		UNWIND chunks AS c
		WITH c.chunk AS chunk
		MATCH (chunk)-[:HAS_ENTITY]->(e:__Entity__)
		WITH e, count(*) AS freq
		ORDER BY freq DESC
		LIMIT $max_entities
		RETURN {element_id: elementId(e), embedding: e.embedding}
	} AS entities
RETURN d.fileName AS document,
	[c IN chunks | {id: c.chunk.id, element_id: elementId(c.chunk), text: c.chunk.text, score: c.score}] AS chunks,
	entities`)
	return b.String()
}

// entitySearchQuery seeds graph mode directly from the entity keyword index.
func entitySearchQuery(cfg ModeConfig) string {
	return searchClause(cfg, false) + `RETURN elementId(node) AS element_id, node.embedding AS embedding, score
ORDER BY score DESC`
}

const expansionPath = `COLLECT {
			MATCH path = (e)(()-[:!HAS_ENTITY&!PART_OF]-()){0,%d}(:!Chunk&!Document&!__Community__)
			RETURN path
			LIMIT %s
		}`

// expansionQuery walks from each seed according to its band. Hop counts are
// pattern quantifiers and cannot be parameters, so they are rendered from the
// validated policy; everything else is passed as a parameter.
func expansionQuery(p ExpansionPolicy) string {
	branch := func(hops int, limitParam string) string {
		if hops <= 0 {
			return "[]"
		}
		return fmt.Sprintf(expansionPath, min(hops, maxHops), limitParam)
	}
	return fmt.Sprintf(`UNWIND $seeds AS seed
MATCH (e:__Entity__) WHERE elementId(e) = seed.element_id
WITH e, CASE seed.band
		WHEN 'shallow' THEN %s
		WHEN 'deep' THEN %s
		ELSE []
	END AS paths
RETURN {element_id: elementId(e), labels: labels(e), id: e.id, description: e.description} AS entity,
	reduce(acc = [], p IN paths | acc + [n IN nodes(p) |
		{element_id: elementId(n), labels: labels(n), id: n.id, description: n.description}]) AS nodes,
	reduce(acc = [], p IN paths | acc + [r IN relationships(p) |
		{element_id: elementId(r), type: type(r), start: elementId(startNode(r)), end: elementId(endNode(r)), description: r.description}]) AS rels`,
		branch(p.ShallowHops, "$shallow_limit"),
		branch(p.DeepHops, "$deep_limit"),
	)
}

// LocalCommunityCore expects (node, score) rows of matched entities and binds
// nodes, score, metadata, chunks, communities, rels, outside_nodes and
// outside_rels. Limits are the $top_chunks, $top_communities and $top_outside
// parameters.
const LocalCommunityCore = `
WITH collect(node) AS nodes, avg(score) AS score,
	collect({id: elementId(node), score: score}) AS metadata
WITH nodes, score, metadata,
	COLLECT {
		UNWIND nodes AS n
		MATCH (n)<-[:HAS_ENTITY]-(c:Chunk)
		WITH c, count(DISTINCT n) AS freq
		ORDER BY freq DESC
		LIMIT $top_chunks
		RETURN c
	} AS chunks,
	COLLECT {
		UNWIND nodes AS n
		MATCH (n)-[:IN_COMMUNITY]->(c:__Community__)
		WITH DISTINCT c
		ORDER BY c.community_rank DESC, c.weight DESC
		LIMIT $top_communities
		RETURN c
	} AS communities,
	COLLECT {
		UNWIND nodes AS n
		UNWIND nodes AS m
		MATCH (n)-[r]->(m)
		RETURN DISTINCT r
	} AS rels,
	COLLECT {
		UNWIND nodes AS n
		MATCH (n)-[r]-(m:__Entity__)
		WHERE NOT m IN nodes
		WITH m, collect(DISTINCT r) AS rels, count(*) AS freq
		ORDER BY freq DESC
		LIMIT $top_outside
		RETURN {node: m, rels: rels}
	} AS outside
WITH nodes, score, metadata, chunks, communities, rels,
	[o IN outside | o.node] AS outside_nodes,
	reduce(acc = [], o IN outside | acc + o.rels) AS outside_rels
`

// LocalCommunityParams returns the limit parameters of LocalCommunityCore.
func LocalCommunityParams(l LocalCommunityLimits) map[string]any {
	return map[string]any{
		"top_chunks":      l.TopChunks,
		"top_communities": l.TopCommunities,
		"top_outside":     l.TopOutside,
	}
}

const localEntityShape = `{element_id: elementId(n), labels: labels(n), id: n.id, description: n.description}`

const localRelationshipShape = `{element_id: elementId(r), type: type(r),
		start: elementId(startNode(r)), end: elementId(endNode(r)),
		start_id: startNode(r).id, end_id: endNode(r).id,
		start_labels: labels(startNode(r)), end_labels: labels(endNode(r)),
		description: r.description}`

func localCommunityQuery() string {
	return vectorSearch + "\n" + LocalCommunityCore + `RETURN score, metadata,
	[c IN chunks | {id: c.id, element_id: elementId(c), text: c.text,
		document: head([(c)-[:PART_OF]->(d:Document) | d.fileName])}] AS chunks,
	[c IN communities WHERE c.summary IS NOT NULL | {id: c.id, element_id: elementId(c), summary: c.summary}] AS communities,
	[n IN nodes | ` + localEntityShape + `] AS entities,
	[r IN rels | ` + localRelationshipShape + `] AS relationships,
	[n IN outside_nodes | ` + localEntityShape + `] AS outside_entities,
	[r IN outside_rels | ` + localRelationshipShape + `] AS outside_relationships`
}

func globalQuery(cfg ModeConfig) string {
	return searchClause(cfg, false) + `RETURN elementId(node) AS element_id, node.id AS id,
	node.title AS title, node.summary AS summary, score
ORDER BY score DESC`
}
