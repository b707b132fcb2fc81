package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/scaleconnect/internal/config"
	"github.com/okian/scaleconnect/pkg/core"
	"github.com/okian/scaleconnect/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

type fakeWeights struct {
	mu      sync.Mutex
	sources map[string][]*core.Weight
	fail    map[string]error
	order   []string
	written map[string][]*core.Weight
}

func newFakeWeights() *fakeWeights {
	return &fakeWeights{
		sources: map[string][]*core.Weight{},
		fail:    map[string]error{},
		written: map[string][]*core.Weight{},
	}
}

func (f *fakeWeights) GetWeights(_ context.Context, from any) ([]*core.Weight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	src, _ := from.(string)
	f.order = append(f.order, src)
	if err := f.fail[src]; err != nil {
		return nil, err
	}

	var out []*core.Weight
	for _, w := range f.sources[src] {
		c := *w
		out = append(out, &c)
	}
	return out, nil
}

func (f *fakeWeights) SetWeights(_ context.Context, to string, src []*core.Weight) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written[to] = src
	return nil
}

func (f *fakeWeights) get(to string) []*core.Weight {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written[to]
}

const document = `
sync:
  b:
    from: src-b
    to: dst-b
  a:
    from: src-a
    to: dst-a
    expr:
      Weight: Weight + 1
    dedupe: true
`

func TestRunOnce(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service with two syncs", t, func() {
		date := time.Unix(1_732_550_224, 0)
		fw := newFakeWeights()
		fw.sources["src-a"] = []*core.Weight{
			{Date: date, Weight: 70, Source: "s"},
			{Date: date, Weight: 70, Source: "s"},
		}
		fw.sources["src-b"] = []*core.Weight{{Date: date, Weight: 80}}

		s := New(config.New(ctx), nil, WithWeights(fw), WithLogger(logger.Nop()))

		Convey("When the document runs", func() {
			err := s.RunOnce(ctx, []byte(document))

			Convey("Then the syncs run in name order", func() {
				So(err, ShouldBeNil)
				So(fw.order, ShouldResemble, []string{"src-a", "src-b"})
			})

			Convey("Then expressions and dedupe apply to their sync only", func() {
				a := fw.get("dst-a")
				So(a, ShouldHaveLength, 1)
				So(a[0].Weight, ShouldEqual, float32(71))

				b := fw.get("dst-b")
				So(b, ShouldHaveLength, 1)
				So(b[0].Weight, ShouldEqual, float32(80))
			})
		})

		Convey("When the first sync fails", func() {
			fw.fail["src-a"] = errors.New("vendor down")
			err := s.RunOnce(ctx, []byte(document))

			Convey("Then the second one still runs", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldEqual, "a: vendor down")
				So(fw.get("dst-b"), ShouldHaveLength, 1)
			})
		})

		Convey("When the document has no syncs", func() {
			err := s.RunOnce(ctx, []byte(`log_level: debug`))
			So(errors.Is(err, config.ErrNoDocument), ShouldBeTrue)
		})

		Convey("When the document is not YAML", func() {
			err := s.RunOnce(ctx, []byte("sync: [unclosed"))
			So(errors.Is(err, config.ErrInvalidConfig), ShouldBeTrue)
		})
	})
}

func TestDedupeWindow(t *testing.T) {
	ctx := context.Background()

	Convey("Given a source that alternates two records", t, func() {
		fw := newFakeWeights()
		first := &core.Weight{Date: time.Unix(100, 0), Weight: 70, Source: "s"}
		second := &core.Weight{Date: time.Unix(200, 0), Weight: 71, Source: "s"}
		fw.sources["src-a"] = []*core.Weight{first, second, first}

		doc := []byte("a:\n  from: src-a\n  to: dst-a\n  dedupe: true\n")

		Convey("When every key is remembered", func() {
			s := New(config.New(ctx), nil, WithWeights(fw), WithLogger(logger.Nop()))
			So(s.RunOnce(ctx, doc), ShouldBeNil)

			Convey("Then the repeat is dropped", func() {
				So(fw.get("dst-a"), ShouldHaveLength, 2)
			})
		})

		Convey("When only one key is remembered", func() {
			cfg := config.New(ctx)
			cfg.DedupeMaxKeys = 1
			s := New(cfg, nil, WithWeights(fw), WithLogger(logger.Nop()))
			So(s.RunOnce(ctx, doc), ShouldBeNil)

			Convey("Then the evicted key passes again", func() {
				So(fw.get("dst-a"), ShouldHaveLength, 3)
			})
		})
	})
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	Convey("Given a service", t, func() {
		fw := newFakeWeights()
		fw.sources["src-a"] = []*core.Weight{{Date: time.Unix(100, 0), Weight: 70}}
		cfg := config.New(ctx)
		cfg.QueueSize = 2
		s := New(cfg, nil, WithWeights(fw), WithLogger(logger.Nop()))

		Convey("When submitting before Start", func() {
			err := s.Submit(ctx, "stdin", []byte(document))
			So(errors.Is(err, ErrNotStarted), ShouldBeTrue)
		})

		Convey("When submitting to a started service", func() {
			So(s.Start(ctx), ShouldBeNil)
			So(s.Health()["started"], ShouldBeTrue)
			So(s.Health()["status"], ShouldEqual, "ok")
			So(s.Submit(ctx, "stdin", []byte(document)), ShouldBeNil)

			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			So(s.Stop(stopCtx), ShouldBeNil)

			Convey("Then the document runs before Stop returns", func() {
				So(fw.get("dst-a"), ShouldHaveLength, 1)
				So(s.Health()["started"], ShouldBeFalse)
				So(s.Health()["status"], ShouldEqual, "stopped")
			})
		})
	})
}

func TestService_Files(t *testing.T) {
	ctx := context.Background()

	Convey("Given a CSV file and the default weights service", t, func() {
		dir := t.TempDir()
		src := filepath.Join(dir, "in.csv")
		dst := filepath.Join(dir, "out.json")
		So(os.WriteFile(src, []byte("Date,Weight,User\n2024-11-25 16:57:04,69.8,Alex\n"), 0o600), ShouldBeNil)

		cfg := config.New(ctx)
		cfg.TokensPath = filepath.Join(dir, "tokens.json")
		s := New(cfg, nil, WithLogger(logger.Nop()))

		Convey("When a sync converts it to JSON", func() {
			doc := `{"sync":{"convert":{"from":"csv ` + src + `","to":"json ` + dst + `","expr":{"User":"upper(User)"}}}}`
			err := s.RunOnce(ctx, []byte(doc))

			Convey("Then the JSON file holds the rewritten weight", func() {
				So(err, ShouldBeNil)
				data, err := os.ReadFile(dst)
				So(err, ShouldBeNil)
				So(string(data), ShouldContainSubstring, `"User":"ALEX"`)
				So(string(data), ShouldContainSubstring, `"Weight":69.8`)
			})
		})
	})
}
