// Package cluster partitions detections and coordinate candidates into
// spatially coherent regions.
//
// Two members are linked when their bounding boxes lie within a pixel gap
// threshold of each other, or when one box contains the other's centroid.
// The connected components of that relation are the regions: every member
// lands in exactly one region, and an unlinked member becomes a singleton.
// Partition is a pure function of its inputs — members are canonically
// ordered before grouping, so identical inputs always produce identical
// region membership regardless of the caller's iteration order.
package cluster

import (
	"sort"

	"github.com/mapworks/mapscan/internal/geometry"
)

// Kind tags a member with the entity it stands for.
type Kind int

const (
	KindDetection Kind = iota
	KindCoordinate
)

// Member is one clusterable entity: a detection or a coordinate candidate,
// identified by its index in the caller's slice of that kind.
type Member struct {
	Kind  Kind
	Index int
	Box   geometry.Box
}

// Region is a group of members plus the minimal box covering all of them.
type Region struct {
	Box     geometry.Box
	Members []Member
}

// Partition clusters members into regions. maxGap is the pixel distance under
// which two bounding boxes count as adjacent.
func Partition(members []Member, maxGap int) []Region {
	if len(members) == 0 {
		return nil
	}

	// Canonical order: bounding-box origin first, then kind and index. This,
	// not discovery order, decides how equidistant members line up.
	ordered := make([]Member, len(members))
	copy(ordered, members)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Box != b.Box {
			return a.Box.Less(b.Box)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Index < b.Index
	})

	parent := make([]int, len(ordered))
	for i := range parent {
		parent[i] = i
	}

	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if adjacent(ordered[i].Box, ordered[j].Box, maxGap) {
				union(parent, i, j)
			}
		}
	}

	groups := make(map[int][]Member)
	var roots []int
	for i, m := range ordered {
		root := find(parent, i)
		if _, seen := groups[root]; !seen {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], m)
	}

	regions := make([]Region, 0, len(roots))
	for _, root := range roots {
		group := groups[root]
		box := group[0].Box
		for _, m := range group[1:] {
			box = box.Union(m.Box)
		}
		regions = append(regions, Region{Box: box, Members: group})
	}

	// Regions inherit the canonical order through their first member, but an
	// explicit sort keeps the contract independent of map iteration details.
	sort.Slice(regions, func(i, j int) bool { return regions[i].Box.Less(regions[j].Box) })
	return regions
}

func adjacent(a, b geometry.Box, maxGap int) bool {
	if a.Gap(b) <= maxGap {
		return true
	}
	return a.Contains(b.Center()) || b.Contains(a.Center())
}

func find(parent []int, i int) int {
	for parent[i] != i {
		parent[i] = parent[parent[i]]
		i = parent[i]
	}
	return i
}

func union(parent []int, a, b int) {
	ra, rb := find(parent, a), find(parent, b)
	if ra != rb {
		if ra < rb {
			parent[rb] = ra
		} else {
			parent[ra] = rb
		}
	}
}
