package mempool_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/vargaz/runtime/pkg/mempool"
)

func TestPool(t *testing.T) {
	Convey("Given a Pool", t, func() {
		p := mempool.New()

		Convey("When allocating a block", func() {
			b := p.Alloc(32)

			Convey("Then it reports the right size and is tracked as allocated", func() {
				So(len(b), ShouldEqual, 32)
				So(p.Allocated(), ShouldEqual, 32)
			})

			Convey("Then Contains reports true for it and false for foreign slices", func() {
				So(p.Contains(b), ShouldBeTrue)
				So(p.Contains(make([]byte, 32)), ShouldBeFalse)
			})
		})

		Convey("When allocating more than fits in the current block", func() {
			_ = p.Alloc(4096)
			big := p.Alloc(8192)

			Convey("Then a new larger block is grown and the allocation still succeeds", func() {
				So(len(big), ShouldEqual, 8192)
				So(p.Contains(big), ShouldBeTrue)
			})
		})

		Convey("When Strdup copies a string", func() {
			src := []byte("hello")
			s := p.Strdup(string(src))
			src[0] = 'H'

			Convey("Then the pool's copy is independent of the original backing array", func() {
				So(s, ShouldEqual, "hello")
			})
		})

		Convey("When Invalidate is called", func() {
			b := p.Alloc(16)
			p.Invalidate()

			Convey("Then prior allocations remain readable", func() {
				So(len(b), ShouldEqual, 16)
			})

			Convey("Then further allocation panics", func() {
				So(func() { p.Alloc(8) }, ShouldPanic)
			})
		})

		Convey("When Destroy is called", func() {
			p.Destroy()

			Convey("Then Contains no longer finds anything", func() {
				So(p.Contains([]byte{1}), ShouldBeFalse)
			})
		})
	})
}
