package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/videohash/internal/errs"
	"github.com/keagan/videohash/internal/fingerprint"
	"github.com/keagan/videohash/internal/pipeline"
	"github.com/keagan/videohash/internal/store"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sig = "v1/phash/phash128/w256/n16/s240-crop"

type fakeFetcher struct {
	err     error
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref, destPath string) error {
	if f.err != nil {
		return f.err
	}
	f.fetched = append(f.fetched, ref)
	return os.WriteFile(destPath, []byte(ref), 0644)
}

type fakeComputer struct {
	words []uint64
	err   error
	paths []string
}

func (c *fakeComputer) Run(ctx context.Context, path string, onState func(pipeline.State)) (*pipeline.Result, error) {
	c.paths = append(c.paths, path)
	if c.err != nil {
		return nil, c.err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errs.Decodef("sample", errs.NoFrame, err, "video not downloaded")
	}
	fp, err := fingerprint.New(c.words)
	if err != nil {
		return nil, err
	}
	return &pipeline.Result{
		Path:        path,
		Fingerprint: fp,
		Version:     "v1",
		Signature:   sig,
		Duration:    90 * time.Second,
		FrameCount:  16,
	}, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	results []HashResult
	dlq     []string
	reasons []string
}

func (p *recordingPublisher) PublishResult(ctx context.Context, msg []byte) error {
	var r HashResult
	if err := json.Unmarshal(msg, &r); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
	return nil
}

func (p *recordingPublisher) PublishToDLQ(ctx context.Context, msg []byte, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dlq = append(p.dlq, string(msg))
	p.reasons = append(p.reasons, reason)
	return nil
}

func request(t *testing.T, video string) []byte {
	t.Helper()
	data, err := json.Marshal(HashRequest{JobID: uuid.New(), Video: video})
	require.NoError(t, err)
	return data
}

func newHandler(t *testing.T, f Fetcher, c Computer, st store.Store, pub *recordingPublisher) *Handler {
	t.Helper()
	return NewHandler(f, c, st, pub, pub, zerolog.Nop(), HandlerConfig{
		TempDir:     t.TempDir(),
		MaxAttempts: 3,
		MaxDistance: 25,
	})
}

func TestHandlerCompletesAndReportsMatches(t *testing.T) {
	st, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer st.Close()

	pub := &recordingPublisher{}
	fetcher := &fakeFetcher{}
	h := newHandler(t, fetcher, &fakeComputer{words: []uint64{0xff, 0, 0, 0}}, st, pub)

	require.NoError(t, h.Handle(context.Background(), request(t, "s3://videos/a.mp4"), 1))
	require.NoError(t, h.Handle(context.Background(), request(t, "s3://videos/b.mp4"), 1))

	require.Len(t, pub.results, 2)
	first, second := pub.results[0], pub.results[1]
	assert.Equal(t, StatusCompleted, first.Status)
	assert.Empty(t, first.Matches)
	assert.Equal(t, 256, first.Width)
	assert.Equal(t, 90.0, first.Duration)

	assert.Equal(t, StatusCompleted, second.Status)
	require.Len(t, second.Matches, 1)
	assert.Equal(t, "s3://videos/a.mp4", second.Matches[0].Video)
	assert.Equal(t, 0, second.Matches[0].Distance)

	rec, err := st.Get(context.Background(), "s3://videos/a.mp4", sig)
	require.NoError(t, err)
	assert.Equal(t, 16, rec.FrameCount)
	assert.Empty(t, pub.dlq)
}

func TestHandlerRecomputeDoesNotMatchItself(t *testing.T) {
	st, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer st.Close()

	pub := &recordingPublisher{}
	h := newHandler(t, &fakeFetcher{}, &fakeComputer{words: []uint64{1, 2, 3, 4}}, st, pub)

	require.NoError(t, h.Handle(context.Background(), request(t, "s3://videos/a.mp4"), 1))
	require.NoError(t, h.Handle(context.Background(), request(t, "s3://videos/a.mp4"), 1))

	require.Len(t, pub.results, 2)
	assert.Empty(t, pub.results[1].Matches)
}

func TestHandlerWithoutStore(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHandler(t, &fakeFetcher{}, &fakeComputer{words: []uint64{7, 7, 7, 7}}, nil, pub)

	require.NoError(t, h.Handle(context.Background(), request(t, "clips/a.mp4"), 1))
	require.Len(t, pub.results, 1)
	assert.Equal(t, StatusCompleted, pub.results[0].Status)
	assert.Equal(t, "0000000000000007000000000000000700000000000000070000000000000007", pub.results[0].Fingerprint)
}

func TestHandlerMalformedMessageGoesToDLQ(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHandler(t, &fakeFetcher{}, &fakeComputer{}, nil, pub)

	assert.NoError(t, h.Handle(context.Background(), []byte("{not json"), 1))
	assert.NoError(t, h.Handle(context.Background(), []byte(`{"job_id":"`+uuid.NewString()+`"}`), 1))

	require.Len(t, pub.dlq, 2)
	assert.Contains(t, pub.reasons[0], "unmarshal_error")
	assert.Contains(t, pub.reasons[1], "missing video")
	assert.Empty(t, pub.results)
}

func TestHandlerRetriesTransientFailures(t *testing.T) {
	pub := &recordingPublisher{}
	h := newHandler(t, &fakeFetcher{err: errors.New("connection reset")}, &fakeComputer{}, nil, pub)
	msg := request(t, "s3://videos/a.mp4")

	err := h.Handle(context.Background(), msg, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attempt 1/3")
	require.Len(t, pub.results, 1)
	assert.Equal(t, StatusFailed, pub.results[0].Status)
	assert.Empty(t, pub.dlq)

	// the last attempt parks the message instead of requeueing it
	assert.NoError(t, h.Handle(context.Background(), msg, 3))
	require.Len(t, pub.dlq, 1)
	assert.Contains(t, pub.reasons[0], "connection reset")
}

func TestHandlerUndecodableVideoIsPermanent(t *testing.T) {
	pub := &recordingPublisher{}
	computer := &fakeComputer{err: errs.Decodef("duration", errs.NoFrame, errors.New("moov atom not found"), "cannot probe")}
	h := newHandler(t, &fakeFetcher{}, computer, nil, pub)

	assert.NoError(t, h.Handle(context.Background(), request(t, "s3://videos/broken.mp4"), 1))
	require.Len(t, pub.dlq, 1)
	require.Len(t, pub.results, 1)
	assert.Equal(t, StatusFailed, pub.results[0].Status)
	assert.Contains(t, pub.results[0].ErrorMessage, "cannot probe")
}

func TestHandlerCleansWorkDir(t *testing.T) {
	pub := &recordingPublisher{}
	computer := &fakeComputer{words: []uint64{1, 1, 1, 1}}
	h := newHandler(t, &fakeFetcher{}, computer, nil, pub)

	require.NoError(t, h.Handle(context.Background(), request(t, "s3://videos/a.mkv"), 1))
	require.Len(t, computer.paths, 1)
	assert.Equal(t, ".mkv", filepath.Ext(computer.paths[0]))

	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// gatedFetcher holds every download until n of them have been written.
type gatedFetcher struct {
	arrived sync.WaitGroup
	release chan struct{}
}

func newGatedFetcher(n int) *gatedFetcher {
	f := &gatedFetcher{release: make(chan struct{})}
	f.arrived.Add(n)
	go func() {
		f.arrived.Wait()
		close(f.release)
	}()
	return f
}

func (f *gatedFetcher) Fetch(ctx context.Context, ref, destPath string) error {
	if err := os.WriteFile(destPath, []byte(ref), 0644); err != nil {
		return err
	}
	f.arrived.Done()
	select {
	case <-f.release:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("other download never arrived")
	}
}

// contentComputer records the bytes of every input it is given.
type contentComputer struct {
	mu   sync.Mutex
	seen []string
}

func (c *contentComputer) Run(ctx context.Context, path string, onState func(pipeline.State)) (*pipeline.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Decodef("sample", errs.NoFrame, err, "video not downloaded")
	}
	c.mu.Lock()
	c.seen = append(c.seen, string(data))
	c.mu.Unlock()

	fp, err := fingerprint.New([]uint64{1, 2, 3, 4})
	if err != nil {
		return nil, err
	}
	return &pipeline.Result{Path: path, Fingerprint: fp, Version: "v1", Signature: sig, FrameCount: 16}, nil
}

func TestHandlerConcurrentJobsWithoutIDs(t *testing.T) {
	pub := &recordingPublisher{}
	computer := &contentComputer{}
	h := newHandler(t, newGatedFetcher(2), computer, nil, pub)

	bodies := []string{`{"video":"videos/a.mp4"}`, `{"video":"videos/b.mp4"}`}
	var wg sync.WaitGroup
	errc := make(chan error, len(bodies))
	for _, body := range bodies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errc <- h.Handle(context.Background(), []byte(body), 1)
		}()
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		require.NoError(t, err)
	}

	assert.ElementsMatch(t, []string{"videos/a.mp4", "videos/b.mp4"}, computer.seen)
	assert.Empty(t, pub.dlq)
	require.Len(t, pub.results, 2)
	for _, r := range pub.results {
		assert.Equal(t, StatusCompleted, r.Status)
	}

	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPermanent(t *testing.T) {
	assert.True(t, permanent(errs.Decodef("x", 1, nil, "bad frame")))
	assert.True(t, permanent(errs.Aggregationf("x", "too few frames")))
	assert.False(t, permanent(errors.New("network down")))
	assert.False(t, permanent(context.Canceled))
	assert.False(t, permanent(errs.Decodef("x", 1, context.DeadlineExceeded, "timed out")))
}

type fakeAcknowledger struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acked++
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	exchanges []string
	err       error
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.exchanges = append(c.exchanges, exchange)
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func testConsumer(handler MessageHandler, ch *fakeChannel) *Consumer {
	return &Consumer{
		requeue:   ch,
		queue:     "videohash.requests",
		baseDelay: time.Millisecond,
		handler:   handler,
		logger:    zerolog.Nop(),
	}
}

func TestProcessDeliveryAcksSuccess(t *testing.T) {
	ack := &fakeAcknowledger{}
	var gotAttempt int
	c := testConsumer(func(ctx context.Context, body []byte, attempt int) error {
		gotAttempt = attempt
		return nil
	}, &fakeChannel{})

	c.processDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("{}")}, zerolog.Nop())
	assert.Equal(t, 1, ack.acked)
	assert.Equal(t, 1, gotAttempt)
}

func TestProcessDeliveryRepublishesWithNextAttempt(t *testing.T) {
	ack := &fakeAcknowledger{}
	ch := &fakeChannel{}
	c := testConsumer(func(ctx context.Context, body []byte, attempt int) error {
		return errors.New("try again")
	}, ch)

	d := amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte(`{"video":"a.mp4"}`),
		Headers:      amqp.Table{AttemptHeader: int32(2)},
	}
	c.processDelivery(context.Background(), d, zerolog.Nop())

	assert.Equal(t, 1, ack.acked)
	require.Len(t, ch.published, 1)
	assert.Equal(t, "videohash.requests", ch.keys[0])
	assert.Equal(t, "", ch.exchanges[0])
	assert.Equal(t, int32(3), ch.published[0].Headers[AttemptHeader])
	assert.Equal(t, d.Body, ch.published[0].Body)
}

func TestProcessDeliveryFallsBackToNack(t *testing.T) {
	ack := &fakeAcknowledger{}
	c := testConsumer(func(ctx context.Context, body []byte, attempt int) error {
		return errors.New("try again")
	}, &fakeChannel{err: errors.New("channel closed")})

	c.processDelivery(context.Background(), amqp.Delivery{Acknowledger: ack}, zerolog.Nop())
	assert.Equal(t, 0, ack.acked)
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)
}

func TestProcessDeliveryCancelledDuringBackoff(t *testing.T) {
	ack := &fakeAcknowledger{}
	ch := &fakeChannel{}
	c := testConsumer(func(ctx context.Context, body []byte, attempt int) error {
		return errors.New("try again")
	}, ch)
	c.baseDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.processDelivery(ctx, amqp.Delivery{Acknowledger: ack}, zerolog.Nop())

	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)
	assert.Empty(t, ch.published)
}

func TestAttemptFromHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"none", nil, 1},
		{"attempt header", amqp.Table{AttemptHeader: int32(4)}, 4},
		{"int64 header", amqp.Table{AttemptHeader: int64(2)}, 2},
		{"zero clamps", amqp.Table{AttemptHeader: int32(0)}, 1},
		{"x-death", amqp.Table{"x-death": []interface{}{amqp.Table{}, amqp.Table{}}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, attemptFromHeaders(amqp.Delivery{Headers: tt.headers}))
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	c := &Consumer{baseDelay: time.Second}
	assert.Equal(t, time.Second, c.calculateBackoff(1))
	assert.Equal(t, 2*time.Second, c.calculateBackoff(2))
	assert.Equal(t, 8*time.Second, c.calculateBackoff(4))
	assert.Equal(t, maxBackoff, c.calculateBackoff(10))
	assert.Equal(t, maxBackoff, c.calculateBackoff(200))
}

func TestPublishers(t *testing.T) {
	ch := &fakeChannel{}
	pub := &Publisher{channel: ch, exchange: "videohash"}

	require.NoError(t, NewResultPublisher(pub).PublishResult(context.Background(), []byte(`{"status":"COMPLETED"}`)))
	require.NoError(t, NewDLQPublisher(pub, "videohash.requests.dlq").PublishToDLQ(context.Background(), []byte("x"), "bad"))

	require.Len(t, ch.published, 2)
	assert.Equal(t, "videohash", ch.exchanges[0])
	assert.Equal(t, ResultRoutingKey, ch.keys[0])
	assert.Equal(t, "application/json", ch.published[0].ContentType)

	assert.Equal(t, "", ch.exchanges[1])
	assert.Equal(t, "videohash.requests.dlq", ch.keys[1])
	assert.Equal(t, "bad", ch.published[1].Headers[ReasonHeader])
	assert.NoError(t, pub.Close())
}
