package community

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanHierarchyChainLinks(t *testing.T) {
	assignments := []Assignment{
		{EntityID: "e1", Communities: []int64{3, 1, 0}},
		{EntityID: "e2", Communities: []int64{3, 1, 0}},
		{EntityID: "e3", Communities: []int64{4, 1, 0}},
		{EntityID: "e4", Communities: []int64{5, 2}},
		{EntityID: "e5", Communities: nil},
	}

	plan := PlanHierarchy(assignments)

	for _, a := range assignments {
		if len(a.Communities) == 0 {
			continue
		}
		// one membership plus one link per level above 0, no level skipped
		current := CommunityID(0, a.Communities[0])
		assert.Contains(t, plan.Memberships, Membership{EntityID: a.EntityID, CommunityID: current})
		links := 1
		for level := 1; level < len(a.Communities); level++ {
			parent := CommunityID(level, a.Communities[level])
			assert.Contains(t, plan.Links, Link{Child: current, Parent: parent})
			current = parent
			links++
		}
		assert.Equal(t, len(a.Communities), links)
	}

	assert.Equal(t, []Node{
		{ID: "0-3", Level: 0},
		{ID: "0-4", Level: 0},
		{ID: "0-5", Level: 0},
		{ID: "1-1", Level: 1},
		{ID: "1-2", Level: 1},
		{ID: "2-0", Level: 2},
	}, plan.Communities)
	assert.Len(t, plan.Memberships, 4)
	assert.Equal(t, []Link{
		{Child: "0-3", Parent: "1-1"},
		{Child: "0-4", Parent: "1-1"},
		{Child: "0-5", Parent: "1-2"},
		{Child: "1-1", Parent: "2-0"},
	}, plan.Links)
	assert.Equal(t, 3, plan.Levels())
	assert.Empty(t, plan.Conflicts())
}

func TestPlanHierarchyIsIdempotent(t *testing.T) {
	assignments := []Assignment{
		{EntityID: "e1", Communities: []int64{1, 7}},
		{EntityID: "e2", Communities: []int64{2, 7}},
	}
	first := PlanHierarchy(assignments)
	second := PlanHierarchy(append(assignments, assignments...))
	require.Equal(t, first, second)
}

func TestPlanHierarchyConflicts(t *testing.T) {
	plan := PlanHierarchy([]Assignment{
		{EntityID: "e1", Communities: []int64{1, 7}},
		{EntityID: "e2", Communities: []int64{1, 8}},
	})
	assert.Equal(t, []string{"0-1"}, plan.Conflicts())
}

func TestPlanHierarchyEmpty(t *testing.T) {
	plan := PlanHierarchy(nil)
	assert.Empty(t, plan.Communities)
	assert.Equal(t, 0, plan.Levels())
}
