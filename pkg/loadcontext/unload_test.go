package loadcontext_test

import (
	"runtime"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/vargaz/runtime/pkg/loadcontext"
)

func TestUnloadSingleton(t *testing.T) {
	Convey("Given a collectible ALC with one attached assembly", t, func() {
		reg := newTestRegistry()
		alc := reg.CreateIndividual(&loadcontext.ManagedHandle{}, "A", true)
		asm := loadcontext.NewAssembly("Foo", false)
		reg.RootDomain().Track(asm)
		So(alc.AttachAssembly(asm), ShouldBeNil)

		Convey("When PrepareUnload is called", func() {
			err := alc.PrepareUnload(&loadcontext.ManagedHandle{Target: "strong"})

			Convey("Then it succeeds and unloading is true", func() {
				So(err, ShouldBeNil)
				So(alc.Unloading(), ShouldBeTrue)
			})

			Convey("Then calling it again is rejected", func() {
				So(alc.PrepareUnload(&loadcontext.ManagedHandle{}), ShouldNotBeNil)
			})

			Convey("And once every managed reference is dropped and GC runs", func() {
				mm := alc.Singleton()
				// The sentinel was already eagerly realized by
				// CreateIndividual; PrepareUnload has released its strong
				// handle above, so nothing keeps it alive now except
				// whatever local variables the runtime hasn't yet
				// collected. Don't call LoaderAlloc again here: that
				// would install a brand new strong handle and defeat the
				// point of the test.
				runtime.GC()
				// Best-effort: weak.Pointer finalization is scheduled by
				// the GC and not guaranteed synchronous even after GC(),
				// so poll briefly rather than asserting immediately.
				freed := false
				for i := 0; i < 50 && !freed; i++ {
					if loadcontext.ScoutDestroy(mm) {
						freed = true
						break
					}
					runtime.GC()
					time.Sleep(time.Millisecond)
				}

				Convey("Then the scout eventually reclaims the ALC", func() {
					So(freed, ShouldBeTrue)
					live := reg.Live()
					So(live, ShouldNotContain, alc)
				})
			})
		})

		Convey("When the scout is called while the sentinel is still referenced", func() {
			mm := alc.Singleton()
			_ = alc.PrepareUnload(&loadcontext.ManagedHandle{})
			sentinel := mm.LoaderAlloc()

			freed := loadcontext.ScoutDestroy(mm)

			Convey("Then it returns false and the ALC is untouched", func() {
				So(freed, ShouldBeFalse)
				So(reg.Live(), ShouldContain, alc)
			})
			runtime.KeepAlive(sentinel)
		})
	})
}

func TestUnloadGeneric(t *testing.T) {
	Convey("Given a generic memory manager over two collectible ALCs", t, func() {
		reg := newTestRegistry()
		a := reg.CreateIndividual(&loadcontext.ManagedHandle{}, "A", true)
		b := reg.CreateIndividual(&loadcontext.ManagedHandle{}, "B", true)
		mm := reg.GetForALCs([]*loadcontext.ALC{a, b})

		Convey("When only A is prepared for unload", func() {
			_ = a.PrepareUnload(&loadcontext.ManagedHandle{})

			Convey("Then the generic MM remains usable, still reachable via B", func() {
				So(reg.GetForALCs([]*loadcontext.ALC{b, a}), ShouldEqual, mm)
			})

			Convey("Then the scout refuses to reclaim it (B hasn't reached unloading)", func() {
				freed := loadcontext.ScoutDestroy(mm)
				So(freed, ShouldBeFalse)
				So(a.GenericMMs(), ShouldContain, mm)
				So(b.GenericMMs(), ShouldContain, mm)
			})

			Convey("Then once B is also prepared, the scout reclaims it", func() {
				_ = b.PrepareUnload(&loadcontext.ManagedHandle{})
				freed := loadcontext.ScoutDestroy(mm)
				So(freed, ShouldBeTrue)
				So(a.GenericMMs(), ShouldNotContain, mm)
				So(b.GenericMMs(), ShouldNotContain, mm)
			})
		})
	})
}
