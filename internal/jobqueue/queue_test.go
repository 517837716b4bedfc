package jobqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdmissionQueueAdmitsInFIFOOrder(t *testing.T) {
	q := NewAdmissionQueue(1)

	var mu sync.Mutex
	var order []string

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			q.Acquire(id)
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			q.Release()
		}(id)
		time.Sleep(5 * time.Millisecond) // stagger arrival order
	}
	wg.Wait()

	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestAdmissionQueueRespectsLimit(t *testing.T) {
	q := NewAdmissionQueue(2)
	q.Acquire("a")
	q.Acquire("b")

	acquired := make(chan struct{})
	go func() {
		q.Acquire("c")
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should have blocked at limit 2")
	case <-time.After(50 * time.Millisecond):
	}

	q.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire did not proceed after release")
	}
}
