// Package tree holds an immutable, in-memory view of the department hierarchy.
//
// A Tree is built from a flat list of department rows and answers ancestry
// questions without touching storage. Every upward walk is bounded by a visited
// set, so rows that form a cycle (which the store never writes, but which a
// hand-edited database could contain) end the walk instead of looping.
package tree

import (
	"sort"

	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
)

type Tree struct {
	nodes    map[uint]models.Department
	children map[uint][]uint
	roots    []uint
}

func New(departments []models.Department) *Tree {
	t := &Tree{
		nodes:    make(map[uint]models.Department, len(departments)),
		children: make(map[uint][]uint),
	}

	for _, department := range departments {
		department.Parent = nil
		department.Children = nil
		department.Assignments = nil
		t.nodes[department.ID] = department
	}

	for _, department := range t.nodes {
		if department.ParentID == nil {
			t.roots = append(t.roots, department.ID)
			continue
		}
		// Orphans (parent row missing) are treated as roots of their own component.
		if _, ok := t.nodes[*department.ParentID]; !ok {
			t.roots = append(t.roots, department.ID)
			continue
		}
		t.children[*department.ParentID] = append(t.children[*department.ParentID], department.ID)
	}

	sortIDs(t.roots)
	for id := range t.children {
		sortIDs(t.children[id])
	}

	return t
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

func (t *Tree) Get(id uint) (models.Department, bool) {
	department, ok := t.nodes[id]
	return department, ok
}

func (t *Tree) Contains(id uint) bool {
	_, ok := t.nodes[id]
	return ok
}

func (t *Tree) Roots() []models.Department {
	return t.collect(t.roots, false)
}

// All returns every department ordered by id.
func (t *Tree) All(activeOnly bool) []models.Department {
	ids := make([]uint, 0, len(t.nodes))
	for id := range t.nodes {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return t.collect(ids, activeOnly)
}

func (t *Tree) ChildrenOf(id uint, activeOnly bool) []models.Department {
	return t.collect(t.children[id], activeOnly)
}

// DescendantsOf returns the transitive closure of ChildrenOf in breadth-first
// order, excluding id itself. With activeOnly an inactive department hides
// its whole subtree.
func (t *Tree) DescendantsOf(id uint, activeOnly bool) []models.Department {
	var result []models.Department
	visited := map[uint]bool{id: true}
	queue := append([]uint(nil), t.children[id]...)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		department := t.nodes[current]
		if activeOnly && !department.IsActive {
			continue
		}
		result = append(result, department)
		queue = append(queue, t.children[current]...)
	}

	return result
}

// ParentChain returns the ancestors of id from its parent up to the root.
func (t *Tree) ParentChain(id uint) []models.Department {
	var chain []models.Department
	visited := map[uint]bool{id: true}

	department, ok := t.nodes[id]
	for ok && department.ParentID != nil {
		parentID := *department.ParentID
		if visited[parentID] {
			break
		}
		visited[parentID] = true

		department, ok = t.nodes[parentID]
		if ok {
			chain = append(chain, department)
		}
	}

	return chain
}

// IsDescendant reports whether ancestorID appears on the parent chain of
// nodeID. A node is not its own descendant.
func (t *Tree) IsDescendant(ancestorID, nodeID uint) bool {
	if ancestorID == nodeID {
		return false
	}
	for _, department := range t.ParentChain(nodeID) {
		if department.ID == ancestorID {
			return true
		}
	}
	return false
}

// DepthOf is the level a node would have if the cached column were
// recomputed now.
func (t *Tree) DepthOf(id uint) int {
	return len(t.ParentChain(id))
}

func (t *Tree) collect(ids []uint, activeOnly bool) []models.Department {
	result := make([]models.Department, 0, len(ids))
	for _, id := range ids {
		department := t.nodes[id]
		if activeOnly && !department.IsActive {
			continue
		}
		result = append(result, department)
	}
	return result
}

func sortIDs(ids []uint) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
