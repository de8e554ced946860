package community

import (
	"cmp"
	"fmt"
	"slices"
)

// Assignment is the label chain Leiden wrote for one entity.
type Assignment struct {
	EntityID    string
	Communities []int64
}

// Node is a community to merge.
type Node struct {
	ID    string
	Level int
}

// Membership is an IN_COMMUNITY edge from an entity to a level-0 community.
type Membership struct {
	EntityID    string
	CommunityID string
}

// Link is a PARENT_COMMUNITY edge from Child at level n to Parent at n+1.
type Link struct {
	Child  string
	Parent string
}

// Plan is the deduplicated community structure implied by a set of
// assignments. All slices are sorted.
type Plan struct {
	Communities []Node
	Memberships []Membership
	Links       []Link
}

// CommunityID renders the id of the community with label at level.
func CommunityID(level int, label int64) string {
	return fmt.Sprintf("%d-%d", level, label)
}

// PlanHierarchy turns label chains into community nodes and edges. An entity
// with a chain of length L contributes one membership and L-1 links. Entities
// without a chain are ignored.
func PlanHierarchy(assignments []Assignment) Plan {
	nodes := map[string]int{}
	members := map[Membership]struct{}{}
	links := map[Link]struct{}{}

	for _, a := range assignments {
		if len(a.Communities) == 0 {
			continue
		}
		prev := ""
		for level, label := range a.Communities {
			id := CommunityID(level, label)
			nodes[id] = level
			if level == 0 {
				members[Membership{EntityID: a.EntityID, CommunityID: id}] = struct{}{}
			} else {
				links[Link{Child: prev, Parent: id}] = struct{}{}
			}
			prev = id
		}
	}

	plan := Plan{
		Communities: make([]Node, 0, len(nodes)),
		Memberships: make([]Membership, 0, len(members)),
		Links:       make([]Link, 0, len(links)),
	}
	for id, level := range nodes {
		plan.Communities = append(plan.Communities, Node{ID: id, Level: level})
	}
	for m := range members {
		plan.Memberships = append(plan.Memberships, m)
	}
	for l := range links {
		plan.Links = append(plan.Links, l)
	}

	slices.SortFunc(plan.Communities, func(a, b Node) int {
		return cmp.Or(cmp.Compare(a.Level, b.Level), cmp.Compare(a.ID, b.ID))
	})
	slices.SortFunc(plan.Memberships, func(a, b Membership) int {
		return cmp.Or(cmp.Compare(a.CommunityID, b.CommunityID), cmp.Compare(a.EntityID, b.EntityID))
	})
	slices.SortFunc(plan.Links, func(a, b Link) int {
		return cmp.Or(cmp.Compare(a.Child, b.Child), cmp.Compare(a.Parent, b.Parent))
	})

	return plan
}

// Levels returns the number of hierarchy levels in the plan.
func (p Plan) Levels() int {
	levels := 0
	for _, n := range p.Communities {
		levels = max(levels, n.Level+1)
	}
	return levels
}

// Conflicts lists children linked to more than one parent. Leiden's
// intermediate levels nest, so a non-empty result means the label chains are
// inconsistent.
func (p Plan) Conflicts() []string {
	parents := map[string]int{}
	for _, l := range p.Links {
		parents[l.Child]++
	}
	var out []string
	for child, n := range parents {
		if n > 1 {
			out = append(out, child)
		}
	}
	slices.Sort(out)
	return out
}
