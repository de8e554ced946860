// Package lookup expands the ids returned with a retrieval result into the
// nodes, relationships, chunks and communities behind it, and serves the
// document graph views.
package lookup

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const entityLabel = "__Entity__"

type Node struct {
	ElementID  string         `json:"element_id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

type Relationship struct {
	ElementID          string `json:"element_id"`
	Type               string `json:"type"`
	StartNodeElementID string `json:"start_node_element_id"`
	EndNodeElementID   string `json:"end_node_element_id"`
}

// Response is the shape every lookup returns. Slices are never nil so an empty
// response encodes as empty lists.
type Response struct {
	Nodes         []Node           `json:"nodes"`
	Relationships []Relationship   `json:"relationships"`
	ChunkData     []map[string]any `json:"chunk_data"`
	CommunityData []map[string]any `json:"community_data"`
}

func DefaultResponse() Response {
	return Response{
		Nodes:         []Node{},
		Relationships: []Relationship{},
		ChunkData:     []map[string]any{},
		CommunityData: []map[string]any{},
	}
}

// NormalizeLabels drops the shared entity label; a node left without labels
// gets "*".
func NormalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l != entityLabel && !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		out = append(out, "*")
	}
	return out
}

func nodeFromMap(m map[string]any) Node {
	props := graphdb.AsMap(graphdb.Plain(m["properties"]))
	if props == nil {
		props = map[string]any{}
	}
	return Node{
		ElementID:  graphdb.AsString(m["element_id"]),
		Labels:     NormalizeLabels(graphdb.AsStrings(m["labels"])),
		Properties: props,
	}
}

// RemoveDuplicateNodes keeps the first node per element id and normalizes its
// labels. Applying it twice gives the same result as applying it once.
func RemoveDuplicateNodes(nodes []Node) []Node {
	seen := make(map[string]bool, len(nodes))
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if seen[n.ElementID] {
			continue
		}
		seen[n.ElementID] = true
		n.Labels = NormalizeLabels(n.Labels)
		out = append(out, n)
	}
	return out
}

// ProcessRecords collects the endpoints and relationships of every
// {startNode, endNode, relationship} element under the "entities" key.
func ProcessRecords(records []*neo4j.Record) ([]Node, []Relationship) {
	nodes := []Node{}
	rels := []Relationship{}
	seenNodes := map[string]bool{}
	seenRels := map[string]bool{}

	for _, rec := range records {
		for _, element := range graphdb.Maps(rec, "entities") {
			start := nodeFromMap(graphdb.AsMap(element["startNode"]))
			end := nodeFromMap(graphdb.AsMap(element["endNode"]))
			rel := graphdb.AsMap(element["relationship"])

			for _, n := range []Node{start, end} {
				if !seenNodes[n.ElementID] {
					seenNodes[n.ElementID] = true
					nodes = append(nodes, n)
				}
			}

			id := graphdb.AsString(rel["element_id"])
			if seenRels[id] {
				continue
			}
			seenRels[id] = true
			rels = append(rels, Relationship{
				ElementID:          id,
				Type:               graphdb.AsString(rel["type"]),
				StartNodeElementID: start.ElementID,
				EndNodeElementID:   end.ElementID,
			})
		}
	}
	return nodes, rels
}

// recordNodes reads the "nodes" key of every record.
func recordNodes(records []*neo4j.Record) []Node {
	var nodes []Node
	for _, rec := range records {
		for _, m := range graphdb.Maps(rec, "nodes") {
			nodes = append(nodes, nodeFromMap(m))
		}
	}
	return nodes
}

var documentProperties = []string{"fileSource", "fileType", "url"}

// ProcessChunkData flattens the chunks of every record and copies the
// document's source, type and url onto each. Chunks of timed media get their
// start and end times in seconds.
func ProcessChunkData(records []*neo4j.Record) []map[string]any {
	out := []map[string]any{}
	for _, rec := range records {
		doc := documentProps(graphdb.Value(rec, "doc"))
		for _, chunk := range graphdb.Maps(rec, "chunks") {
			c := graphdb.AsMap(graphdb.Plain(chunk))
			delete(c, "embedding")
			for _, p := range documentProperties {
				c[p] = doc[p]
			}
			if c["fileSource"] == "youtube" {
				start := TimeToSeconds(c["start_time"])
				end := TimeToSeconds(c["end_time"])
				c["start_time"] = min(start, end)
				c["end_time"] = end
			}
			out = append(out, c)
		}
	}
	return out
}

func documentProps(v any) map[string]any {
	if n, ok := graphdb.NodeValue(v); ok {
		return n.Props
	}
	if m := graphdb.AsMap(v); m != nil {
		return m
	}
	return map[string]any{}
}

// TimeToSeconds reads "HH:MM:SS", "MM:SS", plain seconds or a number and
// returns whole seconds. Anything else is 0.
func TimeToSeconds(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		return parseClock(t)
	default:
		return int64(math.Floor(graphdb.AsFloat(t)))
	}
}

func parseClock(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0
	}
	var total float64
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || f < 0 {
			return 0
		}
		total = total*60 + f
	}
	return int64(math.Floor(total))
}

func collapseChunkText(chunks []map[string]any) {
	for _, c := range chunks {
		if text, ok := c["text"].(string); ok {
			c["text"] = util.CollapseWhitespace(text)
		}
	}
}
