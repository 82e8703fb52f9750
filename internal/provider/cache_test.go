package provider

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchValues_ConcurrentMissesDedupToOneCall(t *testing.T) {
	var calls int32
	var wgStart sync.WaitGroup
	release := make(chan struct{})
	fetch := func(ctx context.Context, providerID string, args map[string]any) ([]json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []json.RawMessage{json.RawMessage(`{"id":1}`)}, nil
	}
	reg, err := NewRegistry(16, time.Minute, fetch)
	require.NoError(t, err)

	const n = 5
	results := make([][]json.RawMessage, n)
	wgStart.Add(n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			wgStart.Done()
			r, _ := reg.FetchValues(context.Background(), "apps list", map[string]any{"x": 1})
			results[i] = r
		}(i)
	}
	wgStart.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls)
	for _, r := range results {
		assert.Len(t, r, 1)
	}
}

func TestFetchValues_WithinTTLReturnsCached(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context, providerID string, args map[string]any) ([]json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		return []json.RawMessage{json.RawMessage(`{}`)}, nil
	}
	reg, err := NewRegistry(16, time.Minute, fetch)
	require.NoError(t, err)

	_, err = reg.FetchValues(context.Background(), "p", map[string]any{"a": 1})
	require.NoError(t, err)
	_, err = reg.FetchValues(context.Background(), "p", map[string]any{"a": 1})
	require.NoError(t, err)

	assert.EqualValues(t, 1, calls)
}

func TestKey_ArgOrderIndependent(t *testing.T) {
	k1 := Key("p", map[string]any{"a": 1, "b": 2})
	k2 := Key("p", map[string]any{"b": 2, "a": 1})
	assert.Equal(t, k1, k2)
}

func TestCachedLookupOrPlan_MissKicksOffBackgroundFetch(t *testing.T) {
	fetch := func(ctx context.Context, providerID string, args map[string]any) ([]json.RawMessage, error) {
		return []json.RawMessage{json.RawMessage(`{}`)}, nil
	}
	reg, err := NewRegistry(16, time.Minute, fetch)
	require.NoError(t, err)

	result := reg.CachedLookupOrPlan(context.Background(), "p", nil)
	assert.False(t, result.Hit)
	select {
	case <-result.Pending:
	case <-time.After(time.Second):
		t.Fatal("expected pending fetch to complete")
	}

	result2 := reg.CachedLookupOrPlan(context.Background(), "p", nil)
	assert.True(t, result2.Hit)
}
