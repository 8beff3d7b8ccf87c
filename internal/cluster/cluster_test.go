package cluster

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/mapworks/mapscan/internal/geometry"
)

func det(index int, box geometry.Box) Member {
	return Member{Kind: KindDetection, Index: index, Box: box}
}

func coord(index int, box geometry.Box) Member {
	return Member{Kind: KindCoordinate, Index: index, Box: box}
}

func TestPartition_OverlappingBoxesShareARegion(t *testing.T) {
	members := []Member{
		det(0, geometry.Box{X1: 0, Y1: 0, X2: 50, Y2: 50}),
		det(1, geometry.Box{X1: 40, Y1: 40, X2: 90, Y2: 90}),
	}

	regions := Partition(members, 20)
	if len(regions) != 1 {
		t.Fatalf("got %d regions, want 1", len(regions))
	}
	if len(regions[0].Members) != 2 {
		t.Errorf("got %d members, want 2", len(regions[0].Members))
	}
	want := geometry.Box{X1: 0, Y1: 0, X2: 90, Y2: 90}
	if regions[0].Box != want {
		t.Errorf("region box: got %+v, want %+v", regions[0].Box, want)
	}
}

func TestPartition_DistantBoxesSplit(t *testing.T) {
	members := []Member{
		det(0, geometry.Box{X1: 0, Y1: 0, X2: 20, Y2: 20}),
		det(1, geometry.Box{X1: 200, Y1: 200, X2: 220, Y2: 220}),
	}

	regions := Partition(members, 20)
	if len(regions) != 2 {
		t.Fatalf("got %d regions, want 2", len(regions))
	}
	for _, r := range regions {
		if len(r.Members) != 1 {
			t.Errorf("expected singleton regions, got %+v", r)
		}
	}
}

func TestPartition_TransitiveLinking(t *testing.T) {
	// a-b and b-c are within the gap; a-c are not. All three must still end
	// up in one region through the chain.
	members := []Member{
		det(0, geometry.Box{X1: 0, Y1: 0, X2: 20, Y2: 20}),
		det(1, geometry.Box{X1: 30, Y1: 0, X2: 50, Y2: 20}),
		det(2, geometry.Box{X1: 60, Y1: 0, X2: 80, Y2: 20}),
	}

	regions := Partition(members, 15)
	if len(regions) != 1 {
		t.Fatalf("got %d regions, want 1", len(regions))
	}
	if len(regions[0].Members) != 3 {
		t.Errorf("got %d members, want 3", len(regions[0].Members))
	}
}

func TestPartition_CentroidContainment(t *testing.T) {
	// A coordinate candidate nested inside a large detection joins its
	// region even with a tiny gap threshold.
	members := []Member{
		det(0, geometry.Box{X1: 0, Y1: 0, X2: 300, Y2: 300}),
		coord(0, geometry.Box{X1: 140, Y1: 140, X2: 160, Y2: 160}),
	}

	regions := Partition(members, 5)
	if len(regions) != 1 {
		t.Fatalf("got %d regions, want 1", len(regions))
	}
}

func TestPartition_HardPartition(t *testing.T) {
	members := []Member{
		det(0, geometry.Box{X1: 0, Y1: 0, X2: 30, Y2: 30}),
		det(1, geometry.Box{X1: 35, Y1: 0, X2: 65, Y2: 30}),
		det(2, geometry.Box{X1: 300, Y1: 0, X2: 330, Y2: 30}),
		coord(0, geometry.Box{X1: 310, Y1: 35, X2: 330, Y2: 50}),
	}

	regions := Partition(members, 10)

	seen := make(map[Member]int)
	total := 0
	for i, r := range regions {
		for _, m := range r.Members {
			if prev, dup := seen[m]; dup {
				t.Fatalf("member %+v appears in regions %d and %d", m, prev, i)
			}
			seen[m] = i
			total++
		}
	}
	if total != len(members) {
		t.Errorf("%d members distributed, want %d", total, len(members))
	}
	for _, r := range regions {
		if len(r.Members) == 0 {
			t.Error("region with no members")
		}
		for _, m := range r.Members {
			if m.Box.X1 < r.Box.X1 || m.Box.Y1 < r.Box.Y1 || m.Box.X2 > r.Box.X2 || m.Box.Y2 > r.Box.Y2 {
				t.Errorf("member %+v outside region box %+v", m, r.Box)
			}
		}
	}
}

func TestPartition_DeterministicUnderShuffle(t *testing.T) {
	members := []Member{
		det(0, geometry.Box{X1: 0, Y1: 0, X2: 30, Y2: 30}),
		det(1, geometry.Box{X1: 50, Y1: 0, X2: 80, Y2: 30}),
		det(2, geometry.Box{X1: 100, Y1: 0, X2: 130, Y2: 30}),
		det(3, geometry.Box{X1: 300, Y1: 300, X2: 330, Y2: 330}),
		coord(0, geometry.Box{X1: 40, Y1: 0, X2: 45, Y2: 30}),
		coord(1, geometry.Box{X1: 305, Y1: 340, X2: 325, Y2: 355}),
	}

	baseline := Partition(members, 15)

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 25; trial++ {
		shuffled := make([]Member, len(members))
		copy(shuffled, members)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		got := Partition(shuffled, 15)
		if !reflect.DeepEqual(got, baseline) {
			t.Fatalf("trial %d: partition differs under shuffle:\ngot  %+v\nwant %+v", trial, got, baseline)
		}
	}
}

func TestPartition_Idempotent(t *testing.T) {
	members := []Member{
		det(0, geometry.Box{X1: 0, Y1: 0, X2: 30, Y2: 30}),
		det(1, geometry.Box{X1: 35, Y1: 0, X2: 65, Y2: 30}),
	}

	first := Partition(members, 10)
	second := Partition(members, 10)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("re-clustering identical input changed the result")
	}
}

func TestPartition_Empty(t *testing.T) {
	if regions := Partition(nil, 10); regions != nil {
		t.Errorf("got %+v, want nil", regions)
	}
}
