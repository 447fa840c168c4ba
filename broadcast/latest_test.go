package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatest_ReplaysCurrentValueOnSubscribe(t *testing.T) {
	l := NewLatest(1)
	l.Publish(2)

	ch, cancel := l.Subscribe()
	defer cancel()

	assert.Equal(t, 2, <-ch)
}

func TestLatest_SlowConsumerSeesOnlyNewest(t *testing.T) {
	l := NewLatest(0)
	ch, cancel := l.Subscribe()
	defer cancel()

	for i := 1; i <= 100; i++ {
		l.Publish(i)
	}

	select {
	case v := <-ch:
		assert.Equal(t, 100, v)
	case <-time.After(time.Second):
		t.Fatal("expected a value")
	}

	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
}

func TestLatest_PublishNeverBlocksWithoutReaders(t *testing.T) {
	l := NewLatest("a")
	_, cancel := l.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			l.Publish("b")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on an unread subscriber")
	}
	assert.Equal(t, "b", l.Load())
}

func TestLatest_CancelClosesChannel(t *testing.T) {
	l := NewLatest(0)
	ch, cancel := l.Subscribe()
	<-ch

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// kein Panic nach Cancel
	l.Publish(5)
	assert.Equal(t, 5, l.Load())
}

func TestLatest_CloseEndsAllSubscriptions(t *testing.T) {
	l := NewLatest(0)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		ch, _ := l.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
	}

	l.Close()
	wg.Wait()

	ch, cancel := l.Subscribe()
	defer cancel()
	_, ok := <-ch
	require.False(t, ok)
}
