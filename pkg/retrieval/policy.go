package retrieval

import (
	"fmt"
	"math"

	"github.com/go-playground/validator"
)

// maxHops bounds the variable-length patterns built from a policy.
const maxHops = 5

// ExpansionPolicy controls how far the graph is walked from each entity
// matched by a graph-augmented search.
type ExpansionPolicy struct {
	LowThreshold  float64 `json:"low_threshold" validate:"gte=0,lte=1"`
	HighThreshold float64 `json:"high_threshold" validate:"gtfield=LowThreshold,lte=1"`

	ShallowHops  int `json:"shallow_hops" validate:"gte=0,lte=5"`
	DeepHops     int `json:"deep_hops" validate:"gtefield=ShallowHops,lte=5"`
	ShallowLimit int `json:"shallow_limit" validate:"gte=1"`
	DeepLimit    int `json:"deep_limit" validate:"gtefield=ShallowLimit"`

	// MaxEntities caps the entities taken from the matched chunks of one
	// document, ordered by how many of those chunks mention them.
	MaxEntities int `json:"max_entities" validate:"gte=1"`

	// ScoreThreshold drops chunk hits scoring below it.
	ScoreThreshold float64 `json:"score_threshold" validate:"gte=0,lte=1"`
}

func DefaultExpansionPolicy() ExpansionPolicy {
	return ExpansionPolicy{
		LowThreshold:   0.3,
		HighThreshold:  0.9,
		ShallowHops:    1,
		DeepHops:       2,
		ShallowLimit:   20,
		DeepLimit:      40,
		MaxEntities:    40,
		ScoreThreshold: 0.5,
	}
}

// LocalCommunityLimits bounds the context gathered around matched entities in
// entity_vector mode.
type LocalCommunityLimits struct {
	TopChunks      int `json:"top_chunks" validate:"gte=1"`
	TopCommunities int `json:"top_communities" validate:"gte=1"`
	TopOutside     int `json:"top_outside" validate:"gte=1"`
}

func DefaultLocalCommunityLimits() LocalCommunityLimits {
	return LocalCommunityLimits{TopChunks: 3, TopCommunities: 3, TopOutside: 10}
}

var validate = validator.New()

func (p ExpansionPolicy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid expansion policy: %w", err)
	}
	return nil
}

func (l LocalCommunityLimits) Validate() error {
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("invalid local community limits: %w", err)
	}
	return nil
}

// Band is the similarity class of an entity relative to the question.
type Band int

const (
	// BandNone means no similarity could be computed; the entity is kept
	// without neighbours.
	BandNone Band = iota
	BandLow
	BandMedium
	BandHigh
)

func (b Band) String() string {
	switch b {
	case BandLow:
		return "low"
	case BandMedium:
		return "medium"
	case BandHigh:
		return "high"
	default:
		return "none"
	}
}

// Expansion is how one entity is expanded.
type Expansion struct {
	Band  Band `json:"band"`
	Hops  int  `json:"hops"`
	Limit int  `json:"limit"`
}

// ClassifyBand picks the expansion for an entity. hasEmbedding reports whether
// the entity carries an embedding at all; computable is false when one exists
// but cannot be compared with the question (dimension mismatch, zero norm).
func (p ExpansionPolicy) ClassifyBand(sim float64, hasEmbedding, computable bool) Expansion {
	switch {
	case !hasEmbedding:
		return Expansion{Band: BandLow, Hops: p.ShallowHops, Limit: p.ShallowLimit}
	case !computable || math.IsNaN(sim):
		return Expansion{Band: BandNone}
	case sim > p.HighThreshold:
		return Expansion{Band: BandHigh, Hops: p.DeepHops, Limit: p.DeepLimit}
	case sim <= p.LowThreshold:
		return Expansion{Band: BandLow, Hops: p.ShallowHops, Limit: p.ShallowLimit}
	default:
		return Expansion{Band: BandMedium, Hops: p.ShallowHops, Limit: p.ShallowLimit}
	}
}

// CosineSimilarity returns the cosine of a and b. ok is false when the vectors
// differ in length, are empty or either has zero norm.
func CosineSimilarity(a, b []float32) (sim float64, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
