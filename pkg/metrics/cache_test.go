package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCache_Update_DropsOldestOnOverflow(t *testing.T) {
	c := NewCache(3, 10)
	base := time.Now()
	for i := 0; i < 5; i++ {
		c.Update(Snapshot{Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	all := c.GetAll()
	require.Len(t, all, 3)
	require.Equal(t, base.Add(2*time.Second), all[0].Timestamp)
	require.Equal(t, base.Add(4*time.Second), all[2].Timestamp)
}

func TestCache_GetLatest_EmptyRing(t *testing.T) {
	c := NewCache(10, 10)
	_, ok := c.GetLatest()
	require.False(t, ok)
}

func TestCache_GetRange_PreservesInsertionOrder(t *testing.T) {
	c := NewCache(10, 10)
	base := time.Now()
	for i := 0; i < 5; i++ {
		c.Update(Snapshot{Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}

	got := c.GetRange(base.Add(1*time.Minute), base.Add(3*time.Minute))
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		require.True(t, got[i].Timestamp.After(got[i-1].Timestamp))
	}
}

func TestCache_QueueWrite_SignalsFlushAtCapacity(t *testing.T) {
	c := NewCache(10, 2)
	require.False(t, c.QueueWrite(WriteEvent{Date: "2026-01-01"}))
	require.True(t, c.QueueWrite(WriteEvent{Date: "2026-01-02"}))
}

func TestCache_TakePendingWrites_DoesNotBlockConcurrentQueue(t *testing.T) {
	c := NewCache(10, 100)
	for i := 0; i < 10; i++ {
		c.QueueWrite(WriteEvent{Date: "2026-01-01"})
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.QueueWrite(WriteEvent{Date: "concurrent"})
	}()

	taken := c.TakePendingWrites()
	wg.Wait()

	require.GreaterOrEqual(t, len(taken), 10)
}

func TestCache_RingLengthNeverExceedsCapacity(t *testing.T) {
	c := NewCache(5, 10)
	for i := 0; i < 100; i++ {
		c.Update(Snapshot{Timestamp: time.Now()})
		require.LessOrEqual(t, len(c.GetAll()), 5)
	}
}
