package weights

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/scaleconnect/pkg/core"
)

type fakeAccounts struct {
	fields []string
	acc    core.Account
}

func (f *fakeAccounts) Get(_ context.Context, fields []string) (core.Account, error) {
	f.fields = fields
	if f.acc == nil {
		return nil, errors.New("no account")
	}
	return f.acc, nil
}

type fakeVendor struct {
	all    []*core.Weight
	filter string
	region string
	model  string
}

func (v *fakeVendor) Login(context.Context, string, string) error { return nil }
func (v *fakeVendor) GetAllWeights(context.Context) ([]*core.Weight, error) {
	return v.all, nil
}
func (v *fakeVendor) GetFilterWeights(_ context.Context, filter string) ([]*core.Weight, error) {
	v.filter = filter
	return v.all, nil
}
func (v *fakeVendor) GetModelWeights(_ context.Context, region, model string) ([]*core.Weight, error) {
	v.region, v.model = region, model
	return v.all, nil
}

// fakeTarget is a vendor account that stores weights.
type fakeTarget struct {
	fakeVendor
	added   []*core.Weight
	deleted []*core.Weight
}

func (v *fakeTarget) AddWeights(_ context.Context, weights []*core.Weight) error {
	v.added = append(v.added, weights...)
	return nil
}

func (v *fakeTarget) DeleteWeight(_ context.Context, w *core.Weight) error {
	v.deleted = append(v.deleted, w)
	return nil
}

func (v *fakeTarget) Equal(a, b *core.Weight) bool { return core.Equal(a, b) }

func at(sec int64, weight float32) *core.Weight {
	return &core.Weight{Date: time.Unix(sec, 0), Weight: weight}
}

func TestAppendFile(t *testing.T) {
	Convey("Given existing weights", t, func() {
		dst := []*core.Weight{at(100, 70), at(200, 71), at(300, 72)}

		Convey("When merging changes", func() {
			src := []*core.Weight{
				at(200, 0),    // remove
				at(300, 72.5), // replace
				at(100, 70),   // same
				at(50, 69),    // add
				at(400, 0),    // zero and new: skip
			}
			got := appendFile(dst, src)

			Convey("Then the result is merged and sorted", func() {
				So(got, ShouldHaveLength, 3)
				So(got[0].Date.Unix(), ShouldEqual, int64(50))
				So(got[1].Date.Unix(), ShouldEqual, int64(100))
				So(got[2].Weight, ShouldEqual, float32(72.5))
			})
		})
	})
}

func TestGetWeights(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	Convey("Given a weights service", t, func() {
		vendor := &fakeVendor{all: []*core.Weight{at(100, 70)}}
		acc := &fakeAccounts{acc: vendor}
		s := New(acc, WithClock(func() time.Time { return now }))

		Convey("When the source is a weight object without a date", func() {
			got, err := s.GetWeights(ctx, map[string]any{"Weight": 70.5, "User": "alex"})

			Convey("Then it is dated now", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 1)
				So(got[0].Weight, ShouldEqual, float32(70.5))
				So(got[0].Date.Equal(now), ShouldBeTrue)
			})
		})

		Convey("When the source is a list", func() {
			got, err := s.GetWeights(ctx, []any{
				map[string]any{"Date": "2024-01-02T03:04:05Z", "Weight": 70},
				map[string]any{"Date": "2024-01-03T03:04:05Z", "Weight": 71},
			})

			Convey("Then every object is decoded", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[1].Weight, ShouldEqual, float32(71))
			})
		})

		Convey("When the source is something else", func() {
			_, err := s.GetWeights(ctx, 42)
			So(errors.Is(err, ErrWrongFrom), ShouldBeTrue)
		})

		Convey("When the source is an account line", func() {
			got, err := s.GetWeights(ctx, "xiaomi alex@gmail.com secret")

			Convey("Then all weights of the account are read", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 1)
				So(acc.fields, ShouldResemble, []string{"xiaomi", "alex@gmail.com", "secret"})
			})
		})

		Convey("When the account line has a filter", func() {
			_, err := s.GetWeights(ctx, "mifitness alex secret yunmai.scales.ms103")

			Convey("Then the filter is passed on", func() {
				So(err, ShouldBeNil)
				So(vendor.filter, ShouldEqual, "yunmai.scales.ms103")
			})
		})

		Convey("When the line names a home region and model", func() {
			_, err := s.GetWeights(ctx, "xiaomihome alex secret de yunmai.scales.ms103")

			Convey("Then the model fetch is used", func() {
				So(err, ShouldBeNil)
				So(vendor.region, ShouldEqual, "de")
				So(vendor.model, ShouldEqual, "yunmai.scales.ms103")
			})
		})

		Convey("When a picooc line names a family member", func() {
			_, err := s.GetWeights(ctx, "picooc alex secret Kid")

			Convey("Then the member is the filter", func() {
				So(err, ShouldBeNil)
				So(vendor.filter, ShouldEqual, "Kid")
			})
		})

		Convey("When the source is a Fitbit export", func() {
			path := filepath.Join(t.TempDir(), "fitbit.zip")
			f, err := os.Create(path)
			So(err, ShouldBeNil)
			zw := zip.NewWriter(f)
			w, err := zw.Create("Fitbit/Personal & Account/weight-2022-08-08.json")
			So(err, ShouldBeNil)
			_, _ = io.WriteString(w, `[{"logId":1659948335000,"weight":165.8,"source":"Aria"}]`)
			So(zw.Close(), ShouldBeNil)
			So(f.Close(), ShouldBeNil)

			got, err := s.GetWeights(ctx, "fitbit "+path)

			Convey("Then its weight logs are read", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 1)
				So(got[0].Source, ShouldEqual, "Aria")
			})
		})

		Convey("When the home line lacks the model", func() {
			_, err := s.GetWeights(ctx, "xiaomihome alex secret de")
			So(errors.Is(err, ErrWrongFrom), ShouldBeTrue)
		})

		Convey("When the type is unknown", func() {
			_, err := s.GetWeights(ctx, "garmin alex secret")

			Convey("Then it is rejected", func() {
				So(errors.Is(err, ErrUnsupportedType), ShouldBeTrue)
				So(err.Error(), ShouldEqual, "unsupported type: garmin")
			})
		})

		Convey("When the source is a CSV URL", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, "Date,Weight\n2024-01-02 03:04:05,70.5\n")
			}))
			defer srv.Close()

			got, err := s.GetWeights(ctx, "csv "+srv.URL+"/weights.csv")

			Convey("Then it is downloaded", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 1)
				So(got[0].Weight, ShouldEqual, float32(70.5))
			})
		})
	})
}

func TestSetWeights(t *testing.T) {
	ctx := context.Background()

	Convey("Given a weights service", t, func() {
		var out bytes.Buffer
		s := New(&fakeAccounts{}, WithStdout(&out))
		dir := t.TempDir()

		Convey("When writing a JSON file twice", func() {
			path := filepath.Join(dir, "weights.json")
			So(s.SetWeights(ctx, "json "+path, []*core.Weight{at(200, 71), at(100, 70)}), ShouldBeNil)
			So(s.SetWeights(ctx, "json "+path, []*core.Weight{at(100, 0), at(300, 72)}), ShouldBeNil)

			Convey("Then the file holds the merged list", func() {
				data, err := os.ReadFile(path)
				So(err, ShouldBeNil)

				var got []*core.Weight
				So(json.Unmarshal(data, &got), ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[0].Date.Unix(), ShouldEqual, int64(200))
				So(got[1].Date.Unix(), ShouldEqual, int64(300))
			})
		})

		Convey("When the JSON target is empty", func() {
			path := filepath.Join(dir, "empty.json")
			So(os.WriteFile(path, nil, 0o600), ShouldBeNil)

			Convey("Then it is written like a new file", func() {
				So(s.SetWeights(ctx, "json "+path, []*core.Weight{at(100, 70)}), ShouldBeNil)
				got, err := s.GetWeights(ctx, "json "+path)
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 1)
			})
		})

		Convey("When the JSON target is malformed", func() {
			path := filepath.Join(dir, "broken.json")
			So(os.WriteFile(path, []byte(`[{"Date":`), 0o600), ShouldBeNil)

			err := s.SetWeights(ctx, "json "+path, []*core.Weight{at(100, 70)})

			Convey("Then it is reported and left alone", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "broken.json")

				data, readErr := os.ReadFile(path)
				So(readErr, ShouldBeNil)
				So(string(data), ShouldEqual, `[{"Date":`)
			})
		})

		Convey("When writing a CSV file", func() {
			path := filepath.Join(dir, "weights.csv")
			So(s.SetWeights(ctx, "csv "+path, []*core.Weight{at(100, 70)}), ShouldBeNil)

			Convey("Then it can be read back", func() {
				got, err := s.GetWeights(ctx, "csv "+path)
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 1)
				So(got[0].Weight, ShouldEqual, float32(70))
			})
		})

		Convey("When writing to stdout", func() {
			So(s.SetWeights(ctx, "csv stdout", []*core.Weight{at(200, 71), at(100, 0)}), ShouldBeNil)

			Convey("Then zero weights are dropped", func() {
				lines := strings.Split(strings.TrimSpace(out.String()), "\n")
				So(lines, ShouldHaveLength, 2)
				So(lines[1], ShouldContainSubstring, "71.00")
			})
		})

		Convey("When posting", func() {
			var gotType string
			var gotBody []byte
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotType = r.Header.Get("Content-Type")
				gotBody, _ = io.ReadAll(r.Body)
			}))
			defer srv.Close()

			Convey("Then a CSV target sends the whole list", func() {
				So(s.SetWeights(ctx, "csv "+srv.URL, []*core.Weight{at(100, 70)}), ShouldBeNil)
				So(gotType, ShouldEqual, "text/csv")
				So(string(gotBody), ShouldStartWith, "Date,Weight")
			})

			Convey("Then json/latest sends the newest weight only", func() {
				So(s.SetWeights(ctx, "json/latest "+srv.URL, []*core.Weight{at(100, 70), at(300, 0), at(200, 71)}), ShouldBeNil)
				So(gotType, ShouldEqual, "application/json")

				var w core.Weight
				So(json.Unmarshal(gotBody, &w), ShouldBeNil)
				So(w.Weight, ShouldEqual, float32(71))
			})
		})

		Convey("When the server rejects the upload", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			}))
			defer srv.Close()

			err := s.SetWeights(ctx, "json "+srv.URL, []*core.Weight{at(100, 70)})
			So(err, ShouldNotBeNil)
		})

		Convey("When the target type is unknown", func() {
			err := s.SetWeights(ctx, "garmin alex secret", nil)
			So(errors.Is(err, ErrUnsupportedType), ShouldBeTrue)
		})
	})
}

func TestSetWeightsAccount(t *testing.T) {
	ctx := context.Background()

	Convey("Given an account that stores weights", t, func() {
		target := &fakeTarget{fakeVendor: fakeVendor{all: []*core.Weight{at(100, 70), at(200, 71), at(300, 72)}}}
		acc := &fakeAccounts{acc: target}
		s := New(acc)

		Convey("When merging a batch into it", func() {
			err := s.SetWeights(ctx, "picooc alex secret", []*core.Weight{
				at(100, 0),  // remove
				at(200, 75), // replace
				at(300, 72), // same
				at(400, 73), // add
				at(500, 0),  // zero and new: skip
			})

			Convey("Then stale entries are deleted and new ones added", func() {
				So(err, ShouldBeNil)
				So(acc.fields, ShouldResemble, []string{"picooc", "alex", "secret"})

				So(target.deleted, ShouldHaveLength, 2)
				So(target.deleted[0].Date.Unix(), ShouldEqual, int64(100))
				So(target.deleted[1].Date.Unix(), ShouldEqual, int64(200))

				So(target.added, ShouldHaveLength, 2)
				So(target.added[0].Weight, ShouldEqual, float32(75))
				So(target.added[1].Date.Unix(), ShouldEqual, int64(400))
			})
		})

		Convey("When nothing changes", func() {
			err := s.SetWeights(ctx, "picooc alex secret", []*core.Weight{at(300, 72)})

			Convey("Then the account is not written", func() {
				So(err, ShouldBeNil)
				So(target.added, ShouldBeEmpty)
				So(target.deleted, ShouldBeEmpty)
			})
		})
	})

	Convey("Given an account that only reads", t, func() {
		s := New(&fakeAccounts{acc: &fakeVendor{}})

		err := s.SetWeights(ctx, "xiaomi alex secret", []*core.Weight{at(100, 70)})

		Convey("Then it is rejected as a target", func() {
			So(errors.Is(err, ErrReadOnly), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "account does not accept weights: xiaomi")
		})
	})
}
