package codearena_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/vargaz/runtime/pkg/codearena"
)

func TestArena(t *testing.T) {
	Convey("Given a code Arena", t, func() {
		a := codearena.New()

		Convey("When reserving a region", func() {
			r := a.Reserve(64, 16)

			Convey("Then it has the requested size and nothing committed", func() {
				So(len(r.Data), ShouldEqual, 64)
				So(r.Committed, ShouldEqual, 0)
			})

			Convey("When committing part of it", func() {
				chunk, err := a.Commit(r, 0, 32)

				Convey("Then the commit succeeds and advances Committed", func() {
					So(err, ShouldBeNil)
					So(len(chunk), ShouldEqual, 32)
					So(r.Committed, ShouldEqual, 32)
				})

				Convey("When committing further from the wrong base", func() {
					_, err := a.Commit(r, 0, 48)

					Convey("Then it is rejected", func() {
						So(err, ShouldNotBeNil)
					})
				})

				Convey("When committing the remainder", func() {
					_, err := a.Commit(r, 32, 64)

					Convey("Then it succeeds and fully commits the region", func() {
						So(err, ShouldBeNil)
						So(r.Committed, ShouldEqual, 64)
					})
				})
			})

			Convey("When committing past the reservation", func() {
				_, err := a.Commit(r, 0, 128)

				Convey("Then it is rejected", func() {
					So(err, ShouldNotBeNil)
				})
			})
		})

		Convey("When several regions are reserved", func() {
			r1 := a.Reserve(16, 0)
			r2 := a.Reserve(32, 0)
			r3 := a.Reserve(8, 0)

			Convey("Then ForEach visits them in reservation order", func() {
				var seen []*codearena.Region
				a.ForEach(func(r *codearena.Region) bool {
					seen = append(seen, r)
					return true
				})
				So(seen, ShouldResemble, []*codearena.Region{r1, r2, r3})
			})

			Convey("Then ForEach stops early when fn returns false", func() {
				var seen []*codearena.Region
				a.ForEach(func(r *codearena.Region) bool {
					seen = append(seen, r)
					return len(seen) < 2
				})
				So(seen, ShouldResemble, []*codearena.Region{r1, r2})
			})
		})

		Convey("When Invalidate is called", func() {
			r := a.Reserve(16, 0)
			a.Invalidate()

			Convey("Then existing regions remain readable", func() {
				So(len(r.Data), ShouldEqual, 16)
			})

			Convey("Then Reserve panics", func() {
				So(func() { a.Reserve(8, 0) }, ShouldPanic)
			})

			Convey("Then Commit is rejected", func() {
				_, err := a.Commit(r, 0, 8)
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When Destroy is called", func() {
			a.Reserve(16, 0)
			a.Destroy()

			Convey("Then Reserve panics", func() {
				So(func() { a.Reserve(8, 0) }, ShouldPanic)
			})
		})
	})
}
