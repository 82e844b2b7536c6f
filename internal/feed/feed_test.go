package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/redis/go-redis/v9"

	"github.com/petermazzocco/excel-analytics/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu      sync.Mutex
	users   []UserChange
	uploads []UploadChange
	done    chan struct{}
	want    int
}

func newRecorder(want int) *recorder {
	return &recorder{done: make(chan struct{}), want: want}
}

func (r *recorder) attach(sub Subscriber) {
	sub.OnUserChange(func(_ context.Context, c UserChange) {
		r.mu.Lock()
		r.users = append(r.users, c)
		r.mu.Unlock()
		r.tick()
	})
	sub.OnUploadChange(func(_ context.Context, c UploadChange) {
		r.mu.Lock()
		r.uploads = append(r.uploads, c)
		r.mu.Unlock()
		r.tick()
	})
}

func (r *recorder) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.want--
	if r.want == 0 {
		close(r.done)
	}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change events")
	}
}

func TestLocal_DeliversInOrder(t *testing.T) {
	t.Parallel()

	f := NewLocal(8, discardLogger())
	rec := newRecorder(3)
	rec.attach(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.Publish(ctx, UserEvent(UserChange{Op: OpInsert, UserID: 1}))
	f.Publish(ctx, UserEvent(UserChange{Op: OpUpdate, UserID: 1}))
	f.Publish(ctx, UploadEvent(UploadChange{Op: OpInsert, UploadID: 9}))

	rec.wait(t)

	if len(rec.users) != 2 || rec.users[0].Op != OpInsert || rec.users[1].Op != OpUpdate {
		t.Errorf("unexpected user changes: %+v", rec.users)
	}
	if len(rec.uploads) != 1 || rec.uploads[0].UploadID != 9 || rec.uploads[0].Count != 1 {
		t.Errorf("unexpected upload changes: %+v", rec.uploads)
	}
}

func TestLocal_DropsWhenFull(t *testing.T) {
	t.Parallel()

	f := NewLocal(1, discardLogger())
	rec := newRecorder(1)
	rec.attach(f)

	// Nothing is draining yet, so the second event overflows.
	f.Publish(context.Background(), UserEvent(UserChange{Op: OpInsert, UserID: 1}))
	f.Publish(context.Background(), UserEvent(UserChange{Op: OpInsert, UserID: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	rec.wait(t)
	time.Sleep(50 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.users) != 1 || rec.users[0].UserID != 1 {
		t.Errorf("expected only the first event, got %+v", rec.users)
	}
}

func TestLocal_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	f := NewLocal(4, discardLogger())
	f.OnUserChange(func(context.Context, UserChange) { panic("boom") })
	rec := newRecorder(1)
	rec.attach(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	f.Publish(ctx, UserEvent(UserChange{Op: OpDelete, UserID: 4}))
	rec.wait(t)
}

func TestLocal_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	f := NewLocal(1, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEvent_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	view := models.UserView{ID: 3, Name: "Ada", Role: models.RoleUser}
	data, err := json.Marshal(UserEvent(UserChange{Op: OpInsert, UserID: 3, User: &view}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Contains(data, []byte(`"kind":"user"`)) {
		t.Errorf("expected kind in payload, got %s", data)
	}

	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.User == nil || ev.User.User == nil || ev.User.User.Name != "Ada" {
		t.Errorf("unexpected decoded event: %+v", ev)
	}
}

func TestKafkaSink_ForwardsChanges(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Kind != KindUser || ev.User.UserID != 5 {
			t.Errorf("unexpected user event: %s", val)
		}
		return nil
	})
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev Event
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Kind != KindUpload || ev.Upload.Count != 3 {
			t.Errorf("unexpected upload event: %s", val)
		}
		return nil
	})

	sink := NewKafkaSinkWithProducer(producer, "changes", 4, discardLogger())
	f := NewLocal(4, discardLogger())
	rec := newRecorder(2)
	rec.attach(f)

	ctx, cancel := context.WithCancel(context.Background())
	go f.Run(ctx)

	pub := Fanout{f, sink}
	pub.Publish(ctx, UserEvent(UserChange{Op: OpInsert, UserID: 5}))
	pub.Publish(ctx, UploadEvent(UploadChange{Op: OpDelete, Count: 3}))
	rec.wait(t)

	// A cancelled context makes Run flush the queue and return.
	cancel()
	if err := sink.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestKafkaSink_PublishNeverBlocks(t *testing.T) {
	t.Parallel()

	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageAndSucceed()
	sink := NewKafkaSinkWithProducer(producer, "changes", 1, discardLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			sink.Publish(context.Background(), UserEvent(UserChange{Op: OpUpdate, UserID: uint(i)}))
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no Run loop draining the queue")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = sink.Run(ctx)
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRedis_RelaysEvents(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opt)
	defer client.Close()

	f := NewRedis(client, "test:changes:"+time.Now().Format("150405.000000"), discardLogger())
	rec := newRecorder(1)
	rec.attach(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	// Give the subscription a moment to be confirmed.
	time.Sleep(100 * time.Millisecond)
	f.Publish(ctx, UploadEvent(UploadChange{Op: OpInsert, UploadID: 12}))
	rec.wait(t)

	if rec.uploads[0].UploadID != 12 {
		t.Errorf("unexpected relayed change: %+v", rec.uploads[0])
	}
}
