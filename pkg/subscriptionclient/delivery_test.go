package subscriptionclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jensneuse/abstractlogger"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestDelivery(t *testing.T) {
	defer goleak.VerifyNone(t)

	var (
		mu        sync.Mutex
		published []Publication
	)
	publish := func(_ context.Context, publication Publication) error {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, publication)
		if string(publication.Payload) == `2` {
			return errors.New("subscriber gone")
		}
		return nil
	}

	d := newDelivery(context.Background(), "reviews_1", publish, abstractlogger.NoopLogger)
	d.deliver(json.RawMessage(`1`))
	d.deliver(json.RawMessage(`2`))
	d.deliver(json.RawMessage(`3`))
	d.deliver(nil)
	d.deliver(json.RawMessage(`4`))
	d.stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(published) == 4
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "reviews_1", published[0].Topic)
	assert.Equal(t, json.RawMessage(`1`), published[0].Payload)
	assert.Equal(t, json.RawMessage(`3`), published[2].Payload)
	assert.True(t, published[3].EndOfStream())
}

func TestDelivery_Stop(t *testing.T) {
	defer goleak.VerifyNone(t)

	published := make(chan Publication, 4)
	d := newDelivery(context.Background(), "reviews_1", func(_ context.Context, publication Publication) error {
		published <- publication
		return nil
	}, abstractlogger.NoopLogger)

	d.stop()
	d.deliver(json.RawMessage(`1`))
	d.stop()

	select {
	case p := <-published:
		t.Fatalf("unexpected publication %v", p)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestDelivery_SlowPublisher(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	d := newDelivery(context.Background(), "reviews_1", func(context.Context, Publication) error {
		<-release
		return nil
	}, abstractlogger.NoopLogger)

	queued := make(chan struct{})
	go func() {
		defer close(queued)
		for i := 0; i < 1000; i++ {
			d.deliver(json.RawMessage(`{}`))
		}
		d.deliver(nil)
	}()

	select {
	case <-queued:
	case <-time.After(time.Second):
		t.Fatal("deliver blocked on the publisher")
	}

	close(release)
	assert.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.queue) == 0
	}, time.Second, time.Millisecond)
}
