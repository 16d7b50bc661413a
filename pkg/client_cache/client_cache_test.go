package client_cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/ichika-x/pkg/engine/enginetest"
	"github.com/pmkol/ichika-x/pkg/entity"
	"github.com/pmkol/ichika-x/pkg/retry"
)

var fastRetry = retry.Policy{Factor: 1, MinDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxTimes: 2}

func newTestCache(t *testing.T) (*ClientCache, *enginetest.Engine, *clock.Mock, *Registry) {
	t.Helper()
	clk := clock.NewMock()
	r := NewRegistry(Options{TTL: 600 * time.Second, Clock: clk, Retry: fastRetry})
	e := enginetest.New(10001)
	return r.Cache(10001, e), e, clk, r
}

func TestClientCache_GroupTTL(t *testing.T) {
	c, e, clk, r := newTestCache(t)
	ctx := context.Background()
	e.SetGroup(&entity.Group{Uin: 1001, Code: 1001, Name: "Test"})

	g1, err := c.FetchGroup(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, "Test", g1.Name)
	assert.Equal(t, 1, e.Calls("FetchGroup"))

	g2, err := c.FetchGroup(ctx, 1001)
	require.NoError(t, err)
	assert.Same(t, g1, g2)
	assert.Equal(t, 1, e.Calls("FetchGroup"))

	clk.Add(601 * time.Second)
	_, err = c.FetchGroup(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Calls("FetchGroup"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.lookups.WithLabelValues(kindGroups, "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.metrics.lookups.WithLabelValues(kindGroups, "miss")))
}

func TestClientCache_FlushMember(t *testing.T) {
	c, e, _, _ := newTestCache(t)
	ctx := context.Background()
	e.SetMember(&entity.Member{GroupCode: 1001, Uin: 7, Nickname: "before"})

	m, err := c.FetchMember(ctx, 1001, 7)
	require.NoError(t, err)
	assert.Equal(t, "before", m.CardName())

	e.SetMember(&entity.Member{GroupCode: 1001, Uin: 7, Nickname: "after"})
	m, err = c.FetchMember(ctx, 1001, 7)
	require.NoError(t, err)
	assert.Equal(t, "before", m.CardName(), "served from cache until flushed")

	c.FlushMember(1001, 7)
	m, err = c.FetchMember(ctx, 1001, 7)
	require.NoError(t, err)
	assert.Equal(t, "after", m.CardName())
	assert.Equal(t, 2, e.Calls("FetchMember"))
}

func TestClientCache_NotFoundIsNotRetried(t *testing.T) {
	c, e, _, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.FetchGroup(ctx, 404)
	assert.ErrorIs(t, err, ErrGroupNotFound)
	assert.Equal(t, 1, e.Calls("FetchGroup"))

	_, err = c.FetchMember(ctx, 404, 1)
	assert.ErrorIs(t, err, ErrMemberNotFound)
	assert.Equal(t, 1, e.Calls("FetchMember"))

	e.SetFriends(&entity.FriendList{Friends: []entity.Friend{{Uin: 555}}})
	_, err = c.FindFriend(ctx, 556)
	assert.ErrorIs(t, err, ErrFriendNotFound)
	f, err := c.FindFriend(ctx, 555)
	require.NoError(t, err)
	assert.Equal(t, int64(555), f.Uin)
	assert.Equal(t, 1, e.Calls("FetchFriendList"))
}

func TestClientCache_FailedFetchIsNotCached(t *testing.T) {
	c, e, _, _ := newTestCache(t)
	ctx := context.Background()
	down := errors.New("network down")
	e.SetGroup(&entity.Group{Code: 1001, Name: "Test"})
	e.SetFetchError(down)

	_, err := c.FetchGroup(ctx, 1001)
	assert.ErrorIs(t, err, down)
	assert.Equal(t, 1+fastRetry.MaxTimes, e.Calls("FetchGroup"))
	assert.Zero(t, c.Stats().Groups)

	e.SetFetchError(nil)
	g, err := c.FetchGroup(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, "Test", g.Name)
}

func TestClientCache_UnboundedRetryIsClamped(t *testing.T) {
	r := NewRegistry(Options{
		Clock: clock.NewMock(),
		Retry: retry.Policy{Factor: 1, MinDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	assert.Equal(t, 1, r.opts.Retry.MaxTimes)

	e := enginetest.New(10001)
	down := errors.New("network down")
	e.SetFetchError(down)

	done := make(chan error, 1)
	go func() {
		_, err := r.Cache(10001, e).FetchGroup(context.Background(), 1001)
		done <- err
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, down)
		assert.Equal(t, 2, e.Calls("FetchGroup"))
	case <-time.After(5 * time.Second):
		t.Fatal("fetch kept retrying")
	}
}

func TestClientCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	c, e, _, _ := newTestCache(t)
	e.SetGroup(&entity.Group{Code: 1001, Name: "Test"})
	release := e.HoldFetches()

	var wg sync.WaitGroup
	results := make([]*entity.Group, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := c.FetchGroup(context.Background(), 1001)
			assert.NoError(t, err)
			results[i] = g
		}(i)
	}
	require.Eventually(t, func() bool { return e.Calls("FetchGroup") == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, 1, e.Calls("FetchGroup"))
	for _, g := range results {
		assert.Same(t, results[0], g)
	}
}

func TestClientCache_FlushDuringFetch(t *testing.T) {
	c, e, _, _ := newTestCache(t)
	e.SetGroup(&entity.Group{Code: 1001, Name: "old"})
	release := e.HoldFetches()

	got := make(chan *entity.Group, 1)
	go func() {
		g, err := c.FetchGroup(context.Background(), 1001)
		assert.NoError(t, err)
		got <- g
	}()
	require.Eventually(t, func() bool { return e.Calls("FetchGroup") == 1 }, time.Second, time.Millisecond)

	c.FlushGroup(1001)
	release()
	assert.Equal(t, "old", (<-got).Name, "the caller still gets its own result")
	assert.Zero(t, c.Stats().Groups, "a result fetched across a flush must not be stored")

	e.SetGroup(&entity.Group{Code: 1001, Name: "new"})
	g, err := c.FetchGroup(context.Background(), 1001)
	require.NoError(t, err)
	assert.Equal(t, "new", g.Name)
	assert.Equal(t, 2, e.Calls("FetchGroup"))
}

func TestClientCache_CallerCancel(t *testing.T) {
	c, e, _, _ := newTestCache(t)
	e.SetGroup(&entity.Group{Code: 1001})
	release := e.HoldFetches()
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.FetchGroup(ctx, 1001)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistry_SharedStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(Options{Clock: clock.NewMock(), Metrics: reg})
	e1 := enginetest.New(10001)
	e2 := enginetest.New(10001)
	e1.SetFriends(&entity.FriendList{Friends: []entity.Friend{{Uin: 1}}})

	_, err := r.Cache(10001, e1).FetchFriendList(context.Background())
	require.NoError(t, err)
	_, err = r.Cache(10001, e2).FetchFriendList(context.Background())
	require.NoError(t, err)
	assert.Zero(t, e2.Calls("FetchFriendList"), "views of one account share storage")

	other := r.Cache(20002, e2)
	assert.False(t, other.Stats().FriendListCached)

	stats := r.Stats()
	assert.True(t, stats[10001].FriendListCached)
	require.Contains(t, stats, int64(20002))

	r.Drop(10001)
	assert.NotContains(t, r.Stats(), int64(10001))
	r.Close()
	assert.Empty(t, r.Stats())

	n, err := testutil.GatherAndCount(reg, "cache_lookups_total")
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestRegistry_Clean(t *testing.T) {
	c, e, clk, r := newTestCache(t)
	e.SetGroup(&entity.Group{Code: 1})
	e.SetMember(&entity.Member{GroupCode: 1, Uin: 2})
	_, err := c.FetchGroup(context.Background(), 1)
	require.NoError(t, err)
	_, err = c.FetchMember(context.Background(), 1, 2)
	require.NoError(t, err)

	clk.Add(time.Hour)
	assert.Equal(t, 2, r.Clean())
	assert.Zero(t, c.Stats().Groups)
}
