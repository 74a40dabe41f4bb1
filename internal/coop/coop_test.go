package coop_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/sync/errgroup"

	"github.com/vargaz/runtime/internal/coop"
)

func TestMutex(t *testing.T) {
	Convey("Given a Mutex", t, func() {
		m := coop.New()

		Convey("When locked once", func() {
			m.Locked()
			m.Lock()

			Convey("Then the calling goroutine sees itself as the owner", func() {
				So(m.Locked(), ShouldBeTrue)
			})

			Convey("Then it can be locked again recursively without deadlocking", func() {
				m.Lock()
				m.Unlock()
				m.Unlock()
			})

			Convey("Then Unlock releases it", func() {
				m.Unlock()
				So(m.Locked(), ShouldBeFalse)
			})
		})

		Convey("When unlocked by a goroutine that never locked it", func() {
			Convey("Then it panics", func() {
				done := make(chan any, 1)
				go func() {
					defer func() { done <- recover() }()
					m.Unlock()
				}()
				So(<-done, ShouldNotBeNil)
			})
		})

		Convey("When many goroutines contend for it", func() {
			const n = 16
			counter := 0
			var g errgroup.Group
			for i := 0; i < n; i++ {
				g.Go(func() error {
					m.Lock()
					defer m.Unlock()
					counter++
					return nil
				})
			}

			Convey("Then every critical section runs exclusively", func() {
				So(g.Wait(), ShouldBeNil)
				So(counter, ShouldEqual, n)
			})
		})
	})
}
