package util

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvWithin[T any](t *testing.T, m *Mailbox[T], d time.Duration) (T, bool) {
	t.Helper()
	select {
	case v, ok := <-m.Recv():
		return v, ok
	case <-time.After(d):
		t.Fatalf("timeout waiting for value")
	}
	var zero T
	return zero, false
}

// TestMailboxOrder tests that a single producer observes FIFO delivery
func TestMailboxOrder(t *testing.T) {
	m := NewMailbox[int]()
	defer m.Close()

	for i := 0; i < 100; i++ {
		require.True(t, m.Push(i))
	}

	for i := 0; i < 100; i++ {
		v, ok := recvWithin(t, m, time.Second)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	select {
	case v := <-m.Recv():
		t.Errorf("mailbox should be empty, got %v", v)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestMailboxConcurrentProducers verifies that no value is lost or duplicated
func TestMailboxConcurrentProducers(t *testing.T) {
	m := NewMailbox[int]()
	defer m.Close()

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				m.Push(p*perProducer + i)
			}
		}(p)
	}

	seen := make(map[int]bool, producers*perProducer)
	lastPerProducer := make(map[int]int)
	for len(seen) < producers*perProducer {
		v, ok := recvWithin(t, m, 5*time.Second)
		require.True(t, ok)
		require.False(t, seen[v], "duplicate value %d", v)
		seen[v] = true

		// per producer order is preserved
		p := v / perProducer
		if last, found := lastPerProducer[p]; found {
			require.Greater(t, v, last)
		}
		lastPerProducer[p] = v
	}
	wg.Wait()
}

// TestMailboxCloseDrains verifies that values pushed before Close are delivered
func TestMailboxCloseDrains(t *testing.T) {
	m := NewMailbox[string]()

	require.True(t, m.Push("a"))
	require.True(t, m.Push("b"))
	m.Close()
	assert.True(t, m.IsClosed())
	assert.False(t, m.Push("c"))

	var got []string
	for v := range m.Recv() {
		got = append(got, v)
	}
	assert.Equal(t, []string{"a", "b"}, got)

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("pump did not exit")
	}

	// closing twice is fine
	m.Close()
}

// TestMailboxWakeUp makes sure a sleeping pump is woken by a late push
func TestMailboxWakeUp(t *testing.T) {
	m := NewMailbox[int]()
	defer m.Close()

	time.Sleep(20 * time.Millisecond)
	require.True(t, m.Push(42))

	v, ok := recvWithin(t, m, time.Second)
	require.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, 0, m.Len())
}

// TestMailboxPushCloseRace checks that every accepted push is delivered when Close races producers
func TestMailboxPushCloseRace(t *testing.T) {
	const producers = 4
	const closeAfter = 200

	for round := 0; round < 500; round++ {
		m := NewMailbox[int]()

		var accepted sync.Map
		var acceptedCount atomic.Int64
		var wg sync.WaitGroup
		for p := 0; p < producers; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for i := 0; ; i++ {
					v := p<<20 | i
					if !m.Push(v) {
						return
					}
					accepted.Store(v, true)
					if acceptedCount.Add(1) == closeAfter {
						m.Close()
					}
				}
			}(p)
		}

		delivered := make(map[int]bool)
		for v := range m.Recv() {
			delivered[v] = true
		}
		wg.Wait()

		accepted.Range(func(k, _ any) bool {
			require.True(t, delivered[k.(int)], "round %d: accepted value %d was not delivered", round, k)
			return true
		})
	}
}
