// Package retrieval turns a question into graph context for answering. Each
// chat mode maps to a fixed index configuration and one of four expansion
// strategies.
package retrieval

import (
	"errors"
	"fmt"
	"strings"
)

type Mode string

const (
	ModeVector              Mode = "vector"
	ModeFulltext            Mode = "fulltext"
	ModeEntityVector        Mode = "entity_vector"
	ModeGraphVector         Mode = "graph_vector"
	ModeGraphVectorFulltext Mode = "graph_vector_fulltext"
	ModeGlobalVector        Mode = "global_vector"
	ModeGraph               Mode = "graph"
)

const DefaultMode = ModeGraphVectorFulltext

var ErrUnknownMode = errors.New("unknown chat mode")

// ParseMode maps a chat mode name onto a Mode. The empty string selects
// DefaultMode.
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return DefaultMode, nil
	}
	m := Mode(s)
	if _, ok := modeConfigs[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

// Modes lists every supported mode.
func Modes() []Mode {
	return []Mode{
		ModeVector,
		ModeFulltext,
		ModeEntityVector,
		ModeGraphVector,
		ModeGraphVectorFulltext,
		ModeGlobalVector,
		ModeGraph,
	}
}

// ModeConfig is the index setup of one mode. KeywordIndex is set for hybrid
// modes, whose vector and keyword hits are merged.
type ModeConfig struct {
	Index          string
	KeywordIndex   string
	TopK           int
	NodeLabel      string
	DocumentFilter bool
}

func (c ModeConfig) Hybrid() bool {
	return c.KeywordIndex != ""
}

var modeConfigs = map[Mode]ModeConfig{
	ModeVector: {
		Index:          "vector",
		TopK:           5,
		NodeLabel:      "Chunk",
		DocumentFilter: true,
	},
	ModeFulltext: {
		Index:        "vector",
		KeywordIndex: "keyword",
		TopK:         5,
		NodeLabel:    "Chunk",
	},
	ModeEntityVector: {
		Index:     "entity_vector",
		TopK:      10,
		NodeLabel: "__Entity__",
	},
	ModeGraphVector: {
		Index:          "vector",
		TopK:           5,
		NodeLabel:      "Chunk",
		DocumentFilter: true,
	},
	ModeGraphVectorFulltext: {
		Index:        "vector",
		KeywordIndex: "keyword",
		TopK:         5,
		NodeLabel:    "Chunk",
	},
	ModeGlobalVector: {
		Index:        "community_vector",
		KeywordIndex: "community_keyword",
		TopK:         10,
		NodeLabel:    "__Community__",
	},
	ModeGraph: {
		KeywordIndex: "entities",
		TopK:         10,
		NodeLabel:    "__Entity__",
	},
}

func (m Mode) Config() ModeConfig {
	return modeConfigs[m]
}

// Strategy selects how matched nodes are expanded into context.
type Strategy int

const (
	StrategyPlainVector Strategy = iota
	StrategyGraphAugmented
	StrategyLocalCommunity
	StrategyGlobalCommunity
)

func (s Strategy) String() string {
	switch s {
	case StrategyPlainVector:
		return "plain_vector"
	case StrategyGraphAugmented:
		return "graph_augmented"
	case StrategyLocalCommunity:
		return "local_community"
	case StrategyGlobalCommunity:
		return "global_community"
	default:
		return "unknown"
	}
}

func (m Mode) Strategy() Strategy {
	switch m {
	case ModeVector, ModeFulltext:
		return StrategyPlainVector
	case ModeEntityVector:
		return StrategyLocalCommunity
	case ModeGlobalVector:
		return StrategyGlobalCommunity
	default:
		return StrategyGraphAugmented
	}
}
