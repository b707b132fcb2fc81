package csv_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/scaleconnect/pkg/core"
	"github.com/okian/scaleconnect/pkg/csv"
)

func TestMarshal(t *testing.T) {
	Convey("Given a weight with some values missing", t, func() {
		w := &core.Weight{
			Date:            time.Date(2024, 11, 25, 16, 57, 4, 0, time.Local),
			Weight:          69.8,
			BMI:             23.6,
			MetabolicAge:    36,
			BasalMetabolism: 1550,
			User:            "Alex",
			Source:          "blt.3.abc",
		}

		Convey("Then zero values are empty cells", func() {
			So(string(csv.Marshal(w)), ShouldEqual, "2024-11-25 16:57:04,69.80,23.60,,,,36,,,,,1550,,,Alex,blt.3.abc\n")
		})

		Convey("Then text with commas is quoted", func() {
			w.User = "Doe, Jane"
			So(string(csv.Marshal(w)), ShouldContainSubstring, `,"Doe, Jane",`)
		})
	})
}

func TestRoundTrip(t *testing.T) {
	Convey("Given weights written with Write", t, func() {
		weights := []*core.Weight{
			{Date: time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local), Weight: 70.25, BodyFat: 19.5, VisceralFat: 9, User: "A"},
			{Date: time.Date(2024, 1, 3, 3, 4, 5, 0, time.Local), Weight: 70.5, HeartRate: 66, Source: "s"},
		}

		var b bytes.Buffer
		So(csv.Write(&b, weights), ShouldBeNil)
		So(strings.HasPrefix(b.String(), csv.Header), ShouldBeTrue)

		Convey("When they are read back", func() {
			got, err := csv.Read(&b)

			Convey("Then the values survive", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[0].Date.Equal(weights[0].Date), ShouldBeTrue)
				So(core.Equal(got[0], weights[0]), ShouldBeTrue)
				So(got[0].User, ShouldEqual, "A")
				So(core.Equal(got[1], weights[1]), ShouldBeTrue)
				So(got[1].Source, ShouldEqual, "s")
			})
		})
	})

	Convey("Given a file with reordered and unknown columns", t, func() {
		in := "Source,Weight,Extra,Date\nscale,71.3,x,2024-05-06 07:08:09\n"
		got, err := csv.Read(strings.NewReader(in))

		Convey("Then columns are matched by name", func() {
			So(err, ShouldBeNil)
			So(got, ShouldHaveLength, 1)
			So(got[0].Source, ShouldEqual, "scale")
			So(got[0].Weight, ShouldAlmostEqual, 71.3, 1e-4)
			So(got[0].Date.Equal(time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)), ShouldBeTrue)
		})
	})

	Convey("Given an empty input", t, func() {
		_, err := csv.Read(strings.NewReader(""))

		Convey("Then an error is returned", func() {
			So(err, ShouldNotBeNil)
		})
	})
}
