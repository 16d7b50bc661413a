// Package client_cache is the per-account entity cache. Every account owns
// one store holding the friend list, groups and members; a Registry hands
// out views of that store bound to the engine that currently serves the
// account.
package client_cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pmkol/ichika-x/pkg/cache"
	"github.com/pmkol/ichika-x/pkg/engine"
	"github.com/pmkol/ichika-x/pkg/entity"
	"github.com/pmkol/ichika-x/pkg/retry"
)

var (
	ErrFriendNotFound = errors.New("friend not found")
	ErrGroupNotFound  = errors.New("group not found")
	ErrMemberNotFound = errors.New("member not found")
)

const (
	defaultMaxGroups  = 1024
	defaultMaxMembers = 16384
)

var nopLogger = zap.NewNop()

type Options struct {
	TTL        time.Duration
	MaxGroups  int
	MaxMembers int
	Retry      retry.Policy
	Clock      clock.Clock
	Logger     *zap.Logger
	// Metrics, when set, receives the lookup counters.
	Metrics prometheus.Registerer
}

func (opts *Options) init() {
	if opts.TTL <= 0 {
		opts.TTL = cache.DefaultTTL
	}
	if opts.MaxGroups <= 0 {
		opts.MaxGroups = defaultMaxGroups
	}
	if opts.MaxMembers <= 0 {
		opts.MaxMembers = defaultMaxMembers
	}
	if opts.Retry == (retry.Policy{}) {
		opts.Retry = retry.FetchPolicy
	}
	// Shared fetches ignore caller cancellation, so they must give up on
	// their own.
	if opts.Retry.MaxTimes < 1 {
		opts.Retry.MaxTimes = 1
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
}

// MemberKey identifies a member within a group.
type MemberKey struct {
	Group int64
	Uin   int64
}

// store is the storage of one account. All cache access happens under mu;
// remote fetches happen outside of it.
type store struct {
	mu      sync.Mutex
	friends *cache.VarCache[*entity.FriendList]
	groups  *cache.MapCache[int64, *entity.Group]
	members *cache.MapCache[MemberKey, *entity.Member]

	// Flushes bump the epoch of their kind. A fetch that started under an
	// older epoch returns its result but does not store it.
	friendsEpoch uint64
	groupsEpoch  uint64
	membersEpoch uint64

	sf singleflight.Group
}

// Stats is a snapshot of one account's cache occupancy.
type Stats struct {
	FriendListCached bool `json:"friend_list_cached"`
	Groups           int  `json:"groups"`
	Members          int  `json:"members"`
}

// Registry owns the stores of every account in the process.
type Registry struct {
	opts    Options
	metrics *metrics

	mu     sync.Mutex
	stores map[int64]*store
}

func NewRegistry(opts Options) *Registry {
	opts.init()
	r := &Registry{
		opts:    opts,
		metrics: newMetrics(),
		stores:  make(map[int64]*store),
	}
	if opts.Metrics != nil {
		r.metrics.register(opts.Metrics)
	}
	return r
}

// Cache returns a view of uin's store that fetches through f. Views of the
// same uin share storage and in-flight fetches.
func (r *Registry) Cache(uin int64, f engine.Fetcher) *ClientCache {
	r.mu.Lock()
	s, ok := r.stores[uin]
	if !ok {
		s = &store{
			friends: cache.NewVarCache[*entity.FriendList](r.opts.TTL, r.opts.Clock),
			groups:  cache.NewMapCache[int64, *entity.Group](r.opts.MaxGroups, r.opts.TTL, r.opts.Clock),
			members: cache.NewMapCache[MemberKey, *entity.Member](r.opts.MaxMembers, r.opts.TTL, r.opts.Clock),
		}
		r.stores[uin] = s
	}
	r.mu.Unlock()
	return &ClientCache{
		uin:     uin,
		fetcher: f,
		s:       s,
		opts:    &r.opts,
		metrics: r.metrics,
		logger:  r.opts.Logger.With(zap.Int64("uin", uin)),
	}
}

// Drop forgets uin's store. Existing views keep working on the detached
// store.
func (r *Registry) Drop(uin int64) {
	r.mu.Lock()
	delete(r.stores, uin)
	r.mu.Unlock()
}

// Close drops every store.
func (r *Registry) Close() {
	r.mu.Lock()
	r.stores = make(map[int64]*store)
	r.mu.Unlock()
}

// Stats reports the occupancy of every registered account.
func (r *Registry) Stats() map[int64]Stats {
	r.mu.Lock()
	stores := make(map[int64]*store, len(r.stores))
	for uin, s := range r.stores {
		stores[uin] = s
	}
	r.mu.Unlock()

	m := make(map[int64]Stats, len(stores))
	for uin, s := range stores {
		m[uin] = s.stats()
	}
	return m
}

// Clean drops expired entries of every account and reports how many were
// removed.
func (r *Registry) Clean() int {
	r.mu.Lock()
	stores := make([]*store, 0, len(r.stores))
	for _, s := range r.stores {
		stores = append(stores, s)
	}
	r.mu.Unlock()

	n := 0
	for _, s := range stores {
		s.mu.Lock()
		n += s.groups.Clean() + s.members.Clean()
		s.mu.Unlock()
	}
	return n
}

func (s *store) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, cached := s.friends.Get()
	return Stats{
		FriendListCached: cached,
		Groups:           s.groups.Len(),
		Members:          s.members.Len(),
	}
}

// ClientCache is a view of one account's store.
type ClientCache struct {
	uin     int64
	fetcher engine.Fetcher
	s       *store
	opts    *Options
	metrics *metrics
	logger  *zap.Logger
}

func (c *ClientCache) Uin() int64 {
	return c.uin
}

func (c *ClientCache) Stats() Stats {
	return c.s.stats()
}

// FetchFriendList returns the cached friend list or fetches a fresh one.
func (c *ClientCache) FetchFriendList(ctx context.Context) (*entity.FriendList, error) {
	return fetch(ctx, c, kindFriends, "friends",
		func() (*entity.FriendList, bool) { return c.s.friends.Get() },
		func() *uint64 { return &c.s.friendsEpoch },
		func(ctx context.Context) (*entity.FriendList, error) {
			return c.fetcher.FetchFriendList(ctx)
		},
		func(v *entity.FriendList) { c.s.friends.Set(v) },
	)
}

// FindFriend looks uin up in the friend list.
func (c *ClientCache) FindFriend(ctx context.Context, uin int64) (entity.Friend, error) {
	l, err := c.FetchFriendList(ctx)
	if err != nil {
		return entity.Friend{}, err
	}
	f, ok := l.FindFriend(uin)
	if !ok {
		return entity.Friend{}, fmt.Errorf("%w: %d", ErrFriendNotFound, uin)
	}
	return f, nil
}

func (c *ClientCache) FlushFriendList() {
	c.s.mu.Lock()
	c.s.friends.Clear()
	c.s.friendsEpoch++
	c.s.mu.Unlock()
	c.s.sf.Forget("friends")
}

func groupKey(code int64) string {
	return "group:" + strconv.FormatInt(code, 10)
}

func (c *ClientCache) FetchGroup(ctx context.Context, code int64) (*entity.Group, error) {
	return fetch(ctx, c, kindGroups, groupKey(code),
		func() (*entity.Group, bool) { return c.s.groups.Get(code) },
		func() *uint64 { return &c.s.groupsEpoch },
		func(ctx context.Context) (*entity.Group, error) {
			g, err := c.fetcher.FetchGroup(ctx, code)
			if err != nil {
				return nil, err
			}
			if g == nil {
				return nil, retry.Permanent(fmt.Errorf("%w: %d", ErrGroupNotFound, code))
			}
			return g, nil
		},
		func(v *entity.Group) { c.s.groups.Set(code, v) },
	)
}

func (c *ClientCache) FlushGroup(code int64) {
	c.s.mu.Lock()
	c.s.groups.Remove(code)
	c.s.groupsEpoch++
	c.s.mu.Unlock()
	c.s.sf.Forget(groupKey(code))
}

func memberKey(group, uin int64) string {
	return "member:" + strconv.FormatInt(group, 10) + ":" + strconv.FormatInt(uin, 10)
}

func (c *ClientCache) FetchMember(ctx context.Context, group, uin int64) (*entity.Member, error) {
	k := MemberKey{Group: group, Uin: uin}
	return fetch(ctx, c, kindMembers, memberKey(group, uin),
		func() (*entity.Member, bool) { return c.s.members.Get(k) },
		func() *uint64 { return &c.s.membersEpoch },
		func(ctx context.Context) (*entity.Member, error) {
			m, err := c.fetcher.FetchMember(ctx, group, uin)
			if err != nil {
				return nil, err
			}
			if m == nil {
				return nil, retry.Permanent(fmt.Errorf("%w: %d in group %d", ErrMemberNotFound, uin, group))
			}
			return m, nil
		},
		func(v *entity.Member) { c.s.members.Set(k, v) },
	)
}

func (c *ClientCache) FlushMember(group, uin int64) {
	c.s.mu.Lock()
	c.s.members.Remove(MemberKey{Group: group, Uin: uin})
	c.s.membersEpoch++
	c.s.mu.Unlock()
	c.s.sf.Forget(memberKey(group, uin))
}

// StoreGroup puts a group obtained elsewhere, e.g. from a list fetch, into
// the cache.
func (c *ClientCache) StoreGroup(g *entity.Group) {
	c.s.mu.Lock()
	c.s.groups.Set(g.Code, g)
	c.s.mu.Unlock()
}

func fetch[V any](
	ctx context.Context,
	c *ClientCache,
	kind, key string,
	get func() (V, bool),
	epoch func() *uint64,
	remote func(ctx context.Context) (V, error),
	set func(V),
) (V, error) {
	c.s.mu.Lock()
	v, ok := get()
	c.s.mu.Unlock()
	if ok {
		c.metrics.lookups.WithLabelValues(kind, "hit").Inc()
		return v, nil
	}
	c.metrics.lookups.WithLabelValues(kind, "miss").Inc()

	// The shared fetch must not be cut short by whichever caller happened
	// to start it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.s.sf.DoChan(key, func() (any, error) {
		c.s.mu.Lock()
		started := *epoch()
		c.s.mu.Unlock()

		v, err := retry.Do(fetchCtx, c.opts.Retry, remote, func(err error, next time.Duration) {
			c.logger.Warn("fetch failed, retrying",
				zap.String("key", key),
				zap.Duration("next", next),
				zap.Error(err))
		})
		if err != nil {
			c.metrics.fetchErrors.WithLabelValues(kind).Inc()
			return nil, err
		}

		c.s.mu.Lock()
		if *epoch() == started {
			set(v)
		}
		c.s.mu.Unlock()
		return v, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, fmt.Errorf("fetch %s for %d: %w", key, c.uin, res.Err)
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
