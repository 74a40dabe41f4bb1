package loadcontext_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/vargaz/runtime/pkg/loadcontext"
)

func TestCleanupAssemblies(t *testing.T) {
	Convey("Given an ALC with one dynamic and one non-dynamic assembly", t, func() {
		reg := newTestRegistry()
		alc := reg.CreateIndividual(&loadcontext.ManagedHandle{}, "A", true)

		dyn := loadcontext.NewAssembly("Dyn", true)
		nonDyn := loadcontext.NewAssembly("NonDyn", false)

		reg.RootDomain().Track(dyn)
		reg.RootDomain().Track(nonDyn)
		So(alc.AttachAssembly(dyn), ShouldBeNil)
		So(alc.AttachAssembly(nonDyn), ShouldBeNil)

		Convey("When CleanupAssemblies runs", func() {
			So(func() { loadcontext.CleanupAssemblies(alc, reg.RootDomain()) }, ShouldNotPanic)

			Convey("Then it completes without panicking and the ALC still accepts new assemblies", func() {
				So(alc.AttachAssembly(loadcontext.NewAssembly("Late", false)), ShouldBeNil)
			})
		})
	})
}

func TestALCPrepareUnloadPreconditions(t *testing.T) {
	Convey("Given a non-collectible ALC", t, func() {
		reg := newTestRegistry()

		Convey("When PrepareUnload is called on the default ALC", func() {
			err := reg.Default().PrepareUnload(&loadcontext.ManagedHandle{})

			Convey("Then it is rejected", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})

	Convey("Given a collectible ALC that has begun unloading", t, func() {
		reg := newTestRegistry()
		alc := reg.CreateIndividual(&loadcontext.ManagedHandle{}, "A", true)
		_ = alc.PrepareUnload(&loadcontext.ManagedHandle{})

		Convey("When attaching a new assembly", func() {
			err := alc.AttachAssembly(loadcontext.NewAssembly("Late", false))

			Convey("Then it is rejected", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
