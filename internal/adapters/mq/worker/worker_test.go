package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	queue "github.com/okian/scaleconnect/internal/adapters/mq/queue"
	worker "github.com/okian/scaleconnect/internal/adapters/mq/worker"
	model "github.com/okian/scaleconnect/internal/domain/model"
	logging "github.com/okian/scaleconnect/pkg/logger"
)

func init() {
	if err := logging.Init(); err != nil {
		panic(err)
	}
}

type recorder struct {
	mu   sync.Mutex
	seen []string
	fail map[string]error
}

func (r *recorder) Handle(_ context.Context, j queue.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, string(j.Payload))
	return r.fail[string(j.Payload)]
}

func (r *recorder) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker on a queue", t, func() {
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(5))
		r := &recorder{fail: map[string]error{"bad": errors.New("boom")}}
		w := worker.NewInMemoryWorker(q, r, worker.WithName("sync"), worker.WithLogger(logging.Nop()))

		convey.Convey("When jobs are queued and the queue is closed", func() {
			for _, p := range []string{"one", "bad", "two"} {
				convey.So(q.Enqueue(ctx, model.NewJob(model.SourceStdin, []byte(p))), convey.ShouldBeNil)
			}
			convey.So(q.Close(), convey.ShouldBeNil)

			go w.Run(ctx)

			select {
			case <-w.Done():
			case <-time.After(2 * time.Second):
				t.Fatal("worker did not stop")
			}

			convey.Convey("Then every job runs in order despite a failure", func() {
				convey.So(r.payloads(), convey.ShouldResemble, []string{"one", "bad", "two"})
			})
		})

		convey.Convey("When shut down while idle", func() {
			go w.Run(ctx)

			sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()

			convey.Convey("Then it stops without error", func() {
				convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
				convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the context is canceled", func() {
			cctx, cancel := context.WithCancel(ctx)
			go w.Run(cctx)
			cancel()

			convey.Convey("Then Run returns", func() {
				select {
				case <-w.Done():
				case <-time.After(2 * time.Second):
					t.Fatal("worker did not stop")
				}
			})
		})
	})
}

func TestHandlerFunc(t *testing.T) {
	convey.Convey("Given a handler function", t, func() {
		var got model.Job
		h := worker.HandlerFunc(func(_ context.Context, j worker.Job) error {
			got = j
			return nil
		})

		convey.Convey("Then Handle calls it", func() {
			j := model.NewJob(model.SourceRepeat, []byte("x"))
			convey.So(h.Handle(context.Background(), j), convey.ShouldBeNil)
			convey.So(got.ID, convey.ShouldEqual, j.ID)
		})
	})
}
