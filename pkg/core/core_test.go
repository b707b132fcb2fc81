package core_test

import (
	"strings"
	"testing"
	"time"

	"github.com/okian/scaleconnect/pkg/core"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEqual(t *testing.T) {
	Convey("Given two measurements", t, func() {
		a := &core.Weight{Date: time.Unix(100, 0), Weight: 70.5, BodyFat: 20, HeartRate: 60, User: "a", Source: "x"}
		b := *a

		Convey("When only identity fields differ", func() {
			b.Date = time.Unix(200, 0)
			b.User = "b"
			b.Source = "y"

			Convey("Then they are equal", func() {
				So(core.Equal(a, &b), ShouldBeTrue)
			})
		})

		Convey("When a value differs", func() {
			b.HeartRate = 61

			Convey("Then they are not equal", func() {
				So(core.Equal(a, &b), ShouldBeFalse)
			})
		})
	})
}

func TestRandString(t *testing.T) {
	Convey("Given RandString", t, func() {
		Convey("When generating an alphanumeric id", func() {
			s := core.RandString(16, 62)

			Convey("Then it has the requested size and alphabet", func() {
				So(len(s), ShouldEqual, 16)
				So(strings.Trim(s, "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"), ShouldBeEmpty)
			})
		})

		Convey("When generating digits only", func() {
			s := core.RandString(32, 10)
			So(strings.Trim(s, "0123456789"), ShouldBeEmpty)
		})

		Convey("When the base is out of range", func() {
			So(len(core.RandString(8, 0)), ShouldEqual, 8)
			So(len(core.RandString(8, 100)), ShouldEqual, 8)
		})
	})
}
