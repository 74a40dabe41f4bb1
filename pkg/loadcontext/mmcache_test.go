package loadcontext_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/sync/errgroup"

	"github.com/vargaz/runtime/internal/rtlog"
	"github.com/vargaz/runtime/pkg/loadcontext"
)

func newTestRegistry() *loadcontext.Registry {
	return loadcontext.NewRegistry(loadcontext.Config{}, rtlog.Nop())
}

func TestGetForALCs(t *testing.T) {
	Convey("Given a registry with two collectible ALCs", t, func() {
		reg := newTestRegistry()
		a := reg.CreateIndividual(&loadcontext.ManagedHandle{}, "A", true)
		b := reg.CreateIndividual(&loadcontext.ManagedHandle{}, "B", true)

		Convey("When resolving the empty set", func() {
			mm := reg.GetForALCs(nil)

			Convey("Then it resolves to the default ALC's singleton set", func() {
				So(mm.ALCs(), ShouldResemble, []*loadcontext.ALC{reg.Default()})
			})
		})

		Convey("When resolving {A, B} and {B, A}", func() {
			m1 := reg.GetForALCs([]*loadcontext.ALC{a, b})
			m2 := reg.GetForALCs([]*loadcontext.ALC{b, a})

			Convey("Then both calls return the same memory manager (permutation invariance)", func() {
				So(m1, ShouldEqual, m2)
			})

			Convey("Then the memory manager is registered in both ALCs' generic MM lists", func() {
				So(a.GenericMMs(), ShouldContain, m1)
				So(b.GenericMMs(), ShouldContain, m1)
			})
		})

		Convey("When resolving the same set twice", func() {
			m1 := reg.GetForALCs([]*loadcontext.ALC{a})
			m2 := reg.GetForALCs([]*loadcontext.ALC{a})

			Convey("Then it is idempotent", func() {
				So(m1, ShouldEqual, m2)
			})
		})

		Convey("When resolving concurrently from many goroutines", func() {
			const n = 32
			results := make([]*loadcontext.MemoryManager, n)
			var g errgroup.Group
			for i := 0; i < n; i++ {
				i := i
				g.Go(func() error {
					results[i] = reg.GetForALCs([]*loadcontext.ALC{a, b})
					return nil
				})
			}
			So(g.Wait(), ShouldBeNil)

			Convey("Then every caller observes the same memory manager", func() {
				for _, mm := range results {
					So(mm, ShouldEqual, results[0])
				}
			})
		})

		Convey("When merging a memory manager with itself", func() {
			m := reg.GetForALCs([]*loadcontext.ALC{a, b})
			merged := reg.Merge(m, m)

			Convey("Then the result is the same memory manager", func() {
				So(merged, ShouldEqual, m)
			})
		})

		Convey("When merging two different memory managers either order", func() {
			c := reg.CreateIndividual(&loadcontext.ManagedHandle{}, "C", true)
			m1 := reg.GetForALCs([]*loadcontext.ALC{a, b})
			m2 := reg.GetForALCs([]*loadcontext.ALC{b, c})

			Convey("Then Merge is commutative as MM identity", func() {
				So(reg.Merge(m1, m2), ShouldEqual, reg.Merge(m2, m1))
			})
		})
	})
}
