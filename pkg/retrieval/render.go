package retrieval

import (
	"strings"

	"github.com/OFFIS-RIT/kgraph/internal/util"
	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"
)

const entityLabel = "__Entity__"

const blockSeparator = "\n----\n"

// Entity is a graph node as rendered into context.
type Entity struct {
	ElementID   string
	Labels      []string
	ID          string
	Description string
}

// Relation is a graph relationship as rendered into context. Start and End are
// element ids; the *ID and *Labels fields are only filled when the query
// returns them inline.
type Relation struct {
	ElementID   string
	Type        string
	Start       string
	End         string
	StartID     string
	EndID       string
	StartLabels []string
	EndLabels   []string
	Description string
}

func entityFromMap(m map[string]any) Entity {
	return Entity{
		ElementID:   graphdb.AsString(m["element_id"]),
		Labels:      graphdb.AsStrings(m["labels"]),
		ID:          graphdb.AsString(m["id"]),
		Description: graphdb.AsString(m["description"]),
	}
}

func relationFromMap(m map[string]any) Relation {
	return Relation{
		ElementID:   graphdb.AsString(m["element_id"]),
		Type:        graphdb.AsString(m["type"]),
		Start:       graphdb.AsString(m["start"]),
		End:         graphdb.AsString(m["end"]),
		StartID:     graphdb.AsString(m["start_id"]),
		EndID:       graphdb.AsString(m["end_id"]),
		StartLabels: graphdb.AsStrings(m["start_labels"]),
		EndLabels:   graphdb.AsStrings(m["end_labels"]),
		Description: graphdb.AsString(m["description"]),
	}
}

// displayLabel is the first label other than the shared entity marker.
func displayLabel(labels []string) string {
	for _, l := range labels {
		if l != entityLabel {
			return l
		}
	}
	return ""
}

func (e Entity) Text() string {
	s := displayLabel(e.Labels) + ":" + e.ID
	if d := strings.TrimSpace(e.Description); d != "" {
		s += " " + d
	}
	return s
}

// Text renders r as "start TYPE end", resolving endpoints through nodes when
// the relation carries only element ids.
func (r Relation) Text(nodes map[string]Entity) string {
	start, end := r.StartID, r.EndID
	if n, ok := nodes[r.Start]; ok && start == "" {
		start = n.ID
	}
	if n, ok := nodes[r.End]; ok && end == "" {
		end = n.ID
	}
	s := start + " " + r.Type + " " + end
	if d := strings.TrimSpace(r.Description); d != "" {
		s += " " + d
	}
	return s
}

// subgraph accumulates entities and relations, first occurrence wins.
type subgraph struct {
	order    []string
	nodes    map[string]Entity
	relOrder []string
	rels     map[string]Relation
}

func newSubgraph() *subgraph {
	return &subgraph{nodes: map[string]Entity{}, rels: map[string]Relation{}}
}

func (g *subgraph) addEntity(e Entity) {
	if e.ElementID == "" {
		return
	}
	if _, ok := g.nodes[e.ElementID]; ok {
		return
	}
	g.nodes[e.ElementID] = e
	g.order = append(g.order, e.ElementID)
}

func (g *subgraph) addRelation(r Relation) {
	if r.ElementID == "" {
		return
	}
	if _, ok := g.rels[r.ElementID]; ok {
		return
	}
	g.rels[r.ElementID] = r
	g.relOrder = append(g.relOrder, r.ElementID)
}

func (g *subgraph) merge(o *subgraph) {
	for _, id := range o.order {
		g.addEntity(o.nodes[id])
	}
	for _, id := range o.relOrder {
		g.addRelation(o.rels[id])
	}
}

func (g *subgraph) entityIDs() []string {
	return append([]string{}, g.order...)
}

func (g *subgraph) relationshipIDs() []string {
	return append([]string{}, g.relOrder...)
}

func (g *subgraph) entityLines() []string {
	lines := make([]string, 0, len(g.order))
	for _, id := range g.order {
		lines = append(lines, g.nodes[id].Text())
	}
	return lines
}

func (g *subgraph) relationLines() []string {
	lines := make([]string, 0, len(g.relOrder))
	for _, id := range g.relOrder {
		lines = append(lines, g.rels[id].Text(g.nodes))
	}
	return lines
}

// graphBlock renders one document's chunk texts with the subgraph around them.
func graphBlock(texts []string, g *subgraph) string {
	var b strings.Builder
	if len(texts) > 0 {
		b.WriteString("Text Content:\n")
		b.WriteString(strings.Join(texts, "\n"))
		b.WriteString(blockSeparator)
	}
	b.WriteString("Entities:\n")
	b.WriteString(strings.Join(g.entityLines(), "\n"))
	b.WriteString(blockSeparator)
	b.WriteString("Relationships:\n")
	b.WriteString(strings.Join(g.relationLines(), "\n"))
	return b.String()
}

// localContext is the rendered neighbourhood of entity_vector seeds.
type localContext struct {
	Chunks       []string
	Communities  []string
	Graph        *subgraph
	OutsideGraph *subgraph
}

func (c localContext) render() string {
	blocks := []string{
		"Chunks:\n" + strings.Join(c.Chunks, "\n"),
		"Reports:\n" + strings.Join(c.Communities, "\n"),
		"Entities:\n" + strings.Join(c.Graph.entityLines(), "\n"),
		"Relationships:\n" + strings.Join(c.Graph.relationLines(), "\n"),
		"Outside Entities:\n" + strings.Join(c.OutsideGraph.entityLines(), "\n"),
		"Outside Relationships:\n" + strings.Join(c.OutsideGraph.relationLines(), "\n"),
	}
	return strings.Join(blocks, blockSeparator)
}

func cleanText(s string) string {
	return util.CollapseWhitespace(util.SanitizeText(s))
}

// fitBudget cuts text to the token budget. A non-positive budget disables it.
func fitBudget(text string, budget int) string {
	if budget <= 0 {
		return text
	}
	return ai.TruncateTokens(text, budget)
}

var luceneSpecial = strings.NewReplacer(
	`\`, `\\`, `+`, `\+`, `-`, `\-`, `&`, `\&`, `|`, `\|`, `!`, `\!`,
	`(`, `\(`, `)`, `\)`, `{`, `\{`, `}`, `\}`, `[`, `\[`, `]`, `\]`,
	`^`, `\^`, `"`, `\"`, `~`, `\~`, `*`, `\*`, `?`, `\?`, `:`, `\:`, `/`, `\/`,
)

// keywordQuery escapes a question for the full-text indexes. Bare AND, OR
// and NOT are lowercased so Lucene reads them as terms, not operators.
func keywordQuery(question string) string {
	words := strings.Fields(luceneSpecial.Replace(question))
	for i, w := range words {
		switch w {
		case "AND", "OR", "NOT":
			words[i] = strings.ToLower(w)
		}
	}
	return strings.Join(words, " ")
}
