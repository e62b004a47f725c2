package camera

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testTiming はテスト用に短くした間隔
var testTiming = Timing{
	PollInterval:   5 * time.Millisecond,
	FrameInterval:  time.Millisecond,
	WaitInterval:   2 * time.Millisecond,
	StreamInterval: time.Millisecond,
}

// frameBytes は連番を埋め込んだ疑似フレーム
func frameBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func frameNumber(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// fakeSource は呼び出し回数を数えるSource
// limitが0なら無限にフレームを返し、それ以外はlimit枚返した後にendErrを返す
type fakeSource struct {
	limit  uint64
	endErr error

	// stall なら1枚目の後はctxが終わるまで返らない
	stall bool
	// timeout なら1枚目の後は ErrFrameTimeout を返し続ける
	timeout bool

	calls  atomic.Int64
	closed atomic.Int64
	n      uint64
}

func (s *fakeSource) Next(ctx context.Context) (image.Image, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.stall && s.n >= 1 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.timeout && s.n >= 1 {
		time.Sleep(testTiming.PollInterval)
		return nil, fmt.Errorf("%w: fake", ErrFrameTimeout)
	}
	if s.limit > 0 && s.n >= s.limit {
		if s.endErr != nil {
			return nil, s.endErr
		}
		return nil, io.EOF
	}
	s.n++
	return NewEncodedImage(frameBytes(s.n)), nil
}

func (s *fakeSource) Close() error {
	s.closed.Add(1)
	return nil
}

// fakeOpener は開いた回数を数えるOpener
type fakeOpener struct {
	err       error
	newSource func() *fakeSource

	mu      sync.Mutex
	opens   int
	sources []*fakeSource
}

func (o *fakeOpener) Open(_ context.Context, _ Device) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.err != nil {
		return nil, o.err
	}
	src := &fakeSource{}
	if o.newSource != nil {
		src = o.newSource()
	}
	o.sources = append(o.sources, src)
	return src, nil
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func (o *fakeOpener) totalNextCalls() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	var total int64
	for _, s := range o.sources {
		total += s.calls.Load()
	}
	return total
}

func (o *fakeOpener) totalCloses() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	var total int64
	for _, s := range o.sources {
		total += s.closed.Load()
	}
	return total
}

// waitFor は条件が満たされるまで待つ
func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("タイムアウト: %s", msg)
}

// supervisorFixture は1台分のSupervisorとその依存をまとめる
type supervisorFixture struct {
	dev    Device
	gate   *Gate
	cache  *FrameCache
	reader *Reader
	sup    *Supervisor
	opener *fakeOpener
	cancel context.CancelFunc
	done   chan struct{}
}

func newSupervisorFixture(t *testing.T, opener *fakeOpener) *supervisorFixture {
	t.Helper()

	dev := Device{ID: "camA", Name: "camA", Path: "/dev/video0", Driver: "fake"}
	registry, err := NewRegistry([]Device{dev})
	if err != nil {
		t.Fatal(err)
	}
	ids := registry.IDs()
	gate := NewGate(ids, nil)
	cache := NewFrameCache(ids)
	f := &supervisorFixture{
		dev:    dev,
		gate:   gate,
		cache:  cache,
		reader: NewReader(registry, cache, testTiming),
		sup:    NewSupervisor(dev, gate, cache, opener, JPEGEncoder{}, nil, testTiming),
		opener: opener,
		done:   make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() {
		defer close(f.done)
		f.sup.Run(ctx)
	}()
	t.Cleanup(f.stop)
	return f
}

func (f *supervisorFixture) stop() {
	f.cancel()
	<-f.done
}

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}
