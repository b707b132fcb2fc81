package model_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smartystreets/goconvey/convey"

	model "github.com/okian/scaleconnect/internal/domain/model"
)

func TestNewJob(t *testing.T) {
	convey.Convey("Given a sync document", t, func() {
		payload := []byte(`{"sync":{}}`)

		convey.Convey("When creating jobs for it", func() {
			before := time.Now()
			a := model.NewJob(model.SourceStdin, payload)
			b := model.NewJob(model.SourceStdin, payload)

			convey.Convey("Then each job gets its own id", func() {
				convey.So(a.ID, convey.ShouldNotEqual, uuid.Nil)
				convey.So(a.ID, convey.ShouldNotEqual, b.ID)
			})

			convey.Convey("Then the payload and origin are kept", func() {
				convey.So(string(a.Payload), convey.ShouldEqual, string(payload))
				convey.So(a.Source, convey.ShouldEqual, model.SourceStdin)
				convey.So(a.ReceivedAt.Before(before), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When creating a zero job", func() {
			var j model.Job

			convey.Convey("Then it has no id", func() {
				convey.So(j.ID, convey.ShouldEqual, uuid.Nil)
				convey.So(j.Payload, convey.ShouldBeNil)
			})
		})
	})
}
