package linread

import (
	"slices"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
)

func vec(ids map[uint32]uint64) *api.LinRead {
	return &api.LinRead{Ids: ids}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		dst  map[uint32]uint64
		src  map[uint32]uint64
		want map[uint32]uint64
	}{
		{"empty into empty", nil, nil, nil},
		{"into empty", nil, map[uint32]uint64{1: 5}, map[uint32]uint64{1: 5}},
		{"higher wins", map[uint32]uint64{1: 5}, map[uint32]uint64{1: 9}, map[uint32]uint64{1: 9}},
		{"no regression", map[uint32]uint64{1: 5}, map[uint32]uint64{1: 3, 2: 7}, map[uint32]uint64{1: 5, 2: 7}},
		{"keys kept", map[uint32]uint64{1: 5, 3: 1}, map[uint32]uint64{2: 2}, map[uint32]uint64{1: 5, 2: 2, 3: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := vec(tt.dst)
			Merge(dst, vec(tt.src))
			if !Equal(dst, vec(tt.want)) {
				t.Errorf("Merge() = %v, want %v", dst.Ids, tt.want)
			}
		})
	}
}

func TestMergeNil(t *testing.T) {
	Merge(nil, vec(map[uint32]uint64{1: 1}))

	dst := vec(map[uint32]uint64{1: 1})
	Merge(dst, nil)
	if dst.Ids[1] != 1 {
		t.Errorf("Merge(dst, nil) changed dst: %v", dst.Ids)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := vec(map[uint32]uint64{1: 5})
	c := Clone(orig)
	c.Ids[1] = 10
	c.Ids[2] = 1
	if orig.Ids[1] != 5 || len(orig.Ids) != 1 {
		t.Errorf("Clone() aliases the source: %v", orig.Ids)
	}
	if got := Clone(nil); got == nil || got.Ids == nil {
		t.Error("Clone(nil) should return an empty writable vector")
	}
}

func TestDominates(t *testing.T) {
	a := vec(map[uint32]uint64{1: 5, 2: 7})
	if !Dominates(a, vec(map[uint32]uint64{1: 5})) {
		t.Error("a should dominate a smaller vector")
	}
	if Dominates(a, vec(map[uint32]uint64{3: 1})) {
		t.Error("a should not dominate a vector with an unseen partition")
	}
	if !Dominates(nil, nil) {
		t.Error("nil dominates nil")
	}
}

func TestManagerScenario(t *testing.T) {
	m := NewManager()
	if n := len(m.Snapshot().Ids); n != 0 {
		t.Fatalf("new manager should be empty, got %d", n)
	}

	tracked, advanced := m.MergeFrom(vec(map[uint32]uint64{1: 5}))
	if !Equal(m.Snapshot(), vec(map[uint32]uint64{1: 5})) {
		t.Fatalf("after first merge: %v", m.Snapshot().Ids)
	}
	if tracked != 1 || !slices.Equal(advanced, []uint32{1}) {
		t.Errorf("first merge = %d, %v", tracked, advanced)
	}

	tracked, advanced = m.MergeFrom(vec(map[uint32]uint64{1: 3, 2: 7, 3: 0}))
	if !Equal(m.Snapshot(), vec(map[uint32]uint64{1: 5, 2: 7, 3: 0})) {
		t.Fatalf("after second merge: %v", m.Snapshot().Ids)
	}
	if tracked != 3 || !slices.Equal(advanced, []uint32{2, 3}) {
		t.Errorf("second merge = %d, %v", tracked, advanced)
	}

	if tracked, advanced = m.MergeFrom(nil); tracked != 3 || advanced != nil {
		t.Errorf("nil merge = %d, %v", tracked, advanced)
	}

	out := api.NewLinRead()
	out.Ids[9] = 1
	m.AttachTo(out)
	if !Equal(out, vec(map[uint32]uint64{1: 5, 2: 7, 3: 0, 9: 1})) {
		t.Errorf("AttachTo() = %v", out.Ids)
	}
}

func TestManagerConcurrentMerges(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	for g := uint32(0); g < 16; g++ {
		for i := uint64(1); i <= 50; i++ {
			wg.Add(1)
			go func(g uint32, i uint64) {
				defer wg.Done()
				m.MergeFrom(vec(map[uint32]uint64{g: i}))
			}(g, i)
		}
	}
	wg.Wait()

	snap := m.Snapshot()
	if len(snap.Ids) != 16 {
		t.Fatalf("expected 16 partitions, got %d", len(snap.Ids))
	}
	for g, idx := range snap.Ids {
		if idx != 50 {
			t.Errorf("partition %d = %d, want 50", g, idx)
		}
	}
}

func genVector() gopter.Gen {
	return gen.MapOf(gen.UInt32Range(0, 8), gen.UInt64Range(0, 1000)).Map(func(m map[uint32]uint64) *api.LinRead {
		return &api.LinRead{Ids: m}
	})
}

func TestMergeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("merge is commutative", prop.ForAll(
		func(a, b *api.LinRead) bool {
			ab := api.NewLinRead()
			Merge(ab, a)
			Merge(ab, b)
			ba := api.NewLinRead()
			Merge(ba, b)
			Merge(ba, a)
			return Equal(ab, ba)
		},
		genVector(), genVector(),
	))

	properties.Property("merged counter is the max of the inputs", prop.ForAll(
		func(a, b *api.LinRead) bool {
			out := api.NewLinRead()
			Merge(out, a)
			Merge(out, b)
			for k, v := range out.Ids {
				if v != max(a.Ids[k], b.Ids[k]) {
					return false
				}
			}
			for k := range a.Ids {
				if _, ok := out.Ids[k]; !ok {
					return false
				}
			}
			for k := range b.Ids {
				if _, ok := out.Ids[k]; !ok {
					return false
				}
			}
			return true
		},
		genVector(), genVector(),
	))

	properties.Property("merge is idempotent", prop.ForAll(
		func(v *api.LinRead) bool {
			out := Clone(v)
			Merge(out, v)
			return Equal(out, v)
		},
		genVector(),
	))

	properties.Property("merge result dominates both inputs", prop.ForAll(
		func(a, b *api.LinRead) bool {
			out := Clone(a)
			Merge(out, b)
			return Dominates(out, a) && Dominates(out, b)
		},
		genVector(), genVector(),
	))

	properties.TestingRun(t)
}
