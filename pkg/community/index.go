package community

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/OFFIS-RIT/kgraph/pkg/graphdb"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
)

// DefaultEmbeddingDimensions is used for the vector indexes when the AI
// client does not report a dimension.
const DefaultEmbeddingDimensions = 384

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// VectorIndex is a cosine vector index over one node property.
type VectorIndex struct {
	Name     string
	Label    string
	Property string
}

// FulltextIndex is a full-text index over node properties.
type FulltextIndex struct {
	Name       string
	Label      string
	Properties []string
}

var (
	EntityVectorIndex     = VectorIndex{Name: "entity_vector", Label: "__Entity__", Property: "embedding"}
	CommunityVectorIndex  = VectorIndex{Name: "community_vector", Label: "__Community__", Property: "embedding"}
	CommunityKeywordIndex = FulltextIndex{Name: "community_keyword", Label: "__Community__", Properties: []string{"summary"}}
)

func dropIndexDDL(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid index name %q", name)
	}
	return fmt.Sprintf("DROP INDEX %s IF EXISTS", name), nil
}

func (ix VectorIndex) ddl(dimensions int) (string, error) {
	for _, id := range []string{ix.Name, ix.Label, ix.Property} {
		if !identifierPattern.MatchString(id) {
			return "", fmt.Errorf("invalid identifier %q in vector index", id)
		}
	}
	if dimensions <= 0 {
		return "", fmt.Errorf("invalid vector dimension %d", dimensions)
	}
	return fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:%s) ON n.%s
OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`,
		ix.Name, ix.Label, ix.Property, dimensions), nil
}

func (ix FulltextIndex) ddl() (string, error) {
	if len(ix.Properties) == 0 {
		return "", fmt.Errorf("full-text index %q has no properties", ix.Name)
	}
	props := make([]string, len(ix.Properties))
	for i, p := range ix.Properties {
		if !identifierPattern.MatchString(p) {
			return "", fmt.Errorf("invalid property %q in full-text index", p)
		}
		props[i] = "n." + p
	}
	for _, id := range []string{ix.Name, ix.Label} {
		if !identifierPattern.MatchString(id) {
			return "", fmt.Errorf("invalid identifier %q in full-text index", id)
		}
	}
	return fmt.Sprintf("CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (n:%s) ON EACH [%s]",
		ix.Name, ix.Label, strings.Join(props, ", ")), nil
}

// IndexBuilder drops and recreates the entity and community search indexes.
type IndexBuilder struct {
	runner     graphdb.Runner
	dimensions int
}

func NewIndexBuilder(runner graphdb.Runner, dimensions int) *IndexBuilder {
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &IndexBuilder{runner: runner, dimensions: dimensions}
}

// Rebuild recreates every index. Failures are logged and returned per index;
// they never stop the other indexes.
func (b *IndexBuilder) Rebuild(ctx context.Context) []StageFailure {
	var failures []StageFailure

	for _, ix := range []VectorIndex{EntityVectorIndex, CommunityVectorIndex} {
		create, err := ix.ddl(b.dimensions)
		if err == nil {
			err = b.recreate(ctx, ix.Name, create)
		}
		if err != nil {
			logger.Error("[Index] Failed to rebuild vector index", "index", ix.Name, "err", err)
			failures = append(failures, newStageFailure("index_"+ix.Name, err))
			continue
		}
		logger.Info("[Index] Vector index rebuilt", "index", ix.Name, "dimensions", b.dimensions)
	}

	create, err := CommunityKeywordIndex.ddl()
	if err == nil {
		err = b.recreate(ctx, CommunityKeywordIndex.Name, create)
	}
	if err != nil {
		logger.Error("[Index] Failed to rebuild full-text index", "index", CommunityKeywordIndex.Name, "err", err)
		failures = append(failures, newStageFailure("index_"+CommunityKeywordIndex.Name, err))
	} else {
		logger.Info("[Index] Full-text index rebuilt", "index", CommunityKeywordIndex.Name)
	}

	return failures
}

func (b *IndexBuilder) recreate(ctx context.Context, name, create string) error {
	drop, err := dropIndexDDL(name)
	if err != nil {
		return err
	}
	if _, err := b.runner.Run(ctx, drop, nil); err != nil {
		return fmt.Errorf("failed to drop index %s: %w", name, err)
	}
	if _, err := b.runner.Run(ctx, create, nil); err != nil {
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	return nil
}
