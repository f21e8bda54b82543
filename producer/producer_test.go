package producer

import (
	"context"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/jmhodges/clock"

	"github.com/gedera/relay/config"
	"github.com/gedera/relay/request"
)

// fakeTransport is an in-memory stand-in for *amqpsession.Session: Fire
// and RPC publish through it, and tests push replies directly onto the
// channel startListener would otherwise have fed from the broker.
type fakeTransport struct {
	mu        sync.Mutex
	published []amqp.Publishing
	deliverCh chan amqp.Delivery
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{deliverCh: make(chan amqp.Delivery, 8)}
}

func (f *fakeTransport) Exchange(name, kind string, opts *config.ExchangeOptions) (string, error) {
	return name, nil
}

func (f *fakeTransport) Publish(ctx context.Context, exchange, routingKey string, props amqp.Publishing) error {
	f.mu.Lock()
	f.published = append(f.published, props)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Consume(queue, consumer string, autoAck bool) (<-chan amqp.Delivery, error) {
	return f.deliverCh, nil
}

func (f *fakeTransport) lastPublished() amqp.Publishing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[len(f.published)-1]
}

func newTestProducer(ft *fakeTransport) *Producer {
	p := New(nil, nil, clock.NewFake())
	p.session = ft
	return p
}

func TestRPCSuccessEmptiesPendingTable(t *testing.T) {
	ft := newFakeTransport()
	p := newTestProducer(ft)

	done := make(chan struct{})
	go func() {
		body, err := p.RPC(context.Background(), request.New("widgets/1"))
		if err != nil {
			t.Errorf("RPC returned error: %v", err)
		}
		if string(body) != "ok" {
			t.Errorf("RPC body = %q, want ok", body)
		}
		close(done)
	}()

	// Wait for the publish to land, then reply with the same
	// correlation id the producer generated.
	var corrID string
	for i := 0; i < 100 && corrID == ""; i++ {
		func() {
			ft.mu.Lock()
			defer ft.mu.Unlock()
			if len(ft.published) > 0 {
				corrID = ft.published[0].CorrelationId
			}
		}()
		if corrID == "" {
			time.Sleep(time.Millisecond)
		}
	}
	if corrID == "" {
		t.Fatal("producer never published a request")
	}
	ft.deliverCh <- amqp.Delivery{CorrelationId: corrID, Body: []byte("ok")}

	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) != 0 {
		t.Errorf("pending table not emptied after success: %v", p.pending)
	}
}

func TestRPCTimeoutEmptiesPendingTableAndDropsLateReply(t *testing.T) {
	fc := clock.NewFake()
	ft := newFakeTransport()
	p := New(nil, nil, fc)
	p.session = ft

	req := request.New("widgets/1")
	req.Timeout = 10 * time.Millisecond

	errCh := make(chan error, 1)
	go func() {
		_, err := p.RPC(context.Background(), req)
		errCh <- err
	}()

	// Let the RPC call register itself and publish before advancing
	// the fake clock past the timeout.
	for i := 0; i < 100; i++ {
		p.mu.Lock()
		n := len(p.pending)
		p.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	fc.Add(11 * time.Millisecond)

	err := <-errCh
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}

	p.mu.Lock()
	if len(p.pending) != 0 {
		t.Errorf("pending table not emptied after timeout: %v", p.pending)
	}
	p.mu.Unlock()

	// A reply arriving after the timeout must be dropped, not panic or
	// block, and must not resurrect a completed future.
	ft.deliverCh <- amqp.Delivery{CorrelationId: req.CorrelationID, Body: []byte("too late")}
	time.Sleep(10 * time.Millisecond)
}

func TestConcurrentRPCsGetDisjointReplies(t *testing.T) {
	ft := newFakeTransport()
	p := newTestProducer(ft)

	const n = 20
	results := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			body, err := p.RPC(context.Background(), request.New("widgets/list"))
			if err != nil {
				t.Errorf("RPC %d error: %v", i, err)
				return
			}
			results[i] = string(body)
		}()
	}

	// Drain published requests as they arrive and reply to each with a
	// body derived from its own correlation id, so a mixup would be
	// detectable.
	seen := make(map[string]bool)
	for len(seen) < n {
		ft.mu.Lock()
		for _, pub := range ft.published {
			if !seen[pub.CorrelationId] {
				seen[pub.CorrelationId] = true
				ft.deliverCh <- amqp.Delivery{CorrelationId: pub.CorrelationId, Body: []byte(pub.CorrelationId)}
			}
		}
		ft.mu.Unlock()
		time.Sleep(time.Millisecond)
	}

	wg.Wait()

	seenResults := make(map[string]bool)
	for _, r := range results {
		if r == "" {
			t.Fatal("a goroutine never received its reply")
		}
		if seenResults[r] {
			t.Fatalf("duplicate result %q across concurrent RPCs", r)
		}
		seenResults[r] = true
	}
}
