package ops_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/scaleconnect/internal/adapters/http/ops"
	"github.com/okian/scaleconnect/pkg/metrics"
)

func TestOps(t *testing.T) {
	Convey("Given the ops routes", t, func() {
		mux := http.NewServeMux()
		ops.Register(mux, func() map[string]any {
			return map[string]any{"status": "ok", "queue": 3}
		})

		Convey("When /healthz is requested", func() {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			Convey("Then the health map is returned as JSON", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Header().Get("Content-Type"), ShouldStartWith, "application/json")

				var got map[string]any
				So(json.Unmarshal(rec.Body.Bytes(), &got), ShouldBeNil)
				So(got["status"], ShouldEqual, "ok")
				So(got["queue"], ShouldEqual, float64(3))
			})
		})

		Convey("When /healthz is posted to", func() {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
			So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("When /metrics is requested", func() {
			metrics.RecordDuplicates(2)

			// Labelled series only show up once observed.
			mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

			Convey("Then the registry is exposed", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				body := rec.Body.String()
				So(body, ShouldContainSubstring, "duplicates_total")
				So(strings.Contains(body, `endpoint="healthz"`), ShouldBeTrue)
			})
		})
	})
}
