package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"travel-assistant/internal/domain"
)

var errConnRefused = errors.New("connection refused")

// fakeTier implements both HotTier and DurableTier in memory. Setting down
// makes every call fail; a done context fails the call with its error.
type fakeTier struct {
	name string

	mu       sync.Mutex
	down     bool
	pings    int
	onCall   func()
	profiles map[string]domain.UserProfile
	turns    map[string][]domain.ConversationTurn
	limit    int
}

func newFakeTier(name string) *fakeTier {
	return &fakeTier{
		name:     name,
		profiles: map[string]domain.UserProfile{},
		turns:    map[string][]domain.ConversationTurn{},
	}
}

func (f *fakeTier) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeTier) check(ctx context.Context) error {
	if f.onCall != nil {
		f.onCall()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.down {
		return errConnRefused
	}
	return nil
}

func (f *fakeTier) Name() string { return f.name }

func (f *fakeTier) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.check(ctx)
}

func (f *fakeTier) GetProfile(ctx context.Context, userID string) (domain.UserProfile, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return domain.UserProfile{}, false, err
	}
	p, ok := f.profiles[userID]
	return p, ok, nil
}

func (f *fakeTier) PutProfile(ctx context.Context, p domain.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	f.profiles[p.UserID] = p
	return nil
}

func (f *fakeTier) MergeProfile(ctx context.Context, userID string, u domain.ProfileUpdate, now time.Time) (domain.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return domain.UserProfile{}, err
	}
	p, ok := f.profiles[userID]
	if !ok {
		p = domain.UserProfile{UserID: userID}
	}
	p = u.Apply(p, now)
	f.profiles[userID] = p
	return p, nil
}

func (f *fakeTier) PushTurn(ctx context.Context, t domain.ConversationTurn) error {
	return f.AppendTurn(ctx, t)
}

func (f *fakeTier) AppendTurn(ctx context.Context, t domain.ConversationTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	turns := append(f.turns[t.UserID], t)
	if f.limit > 0 && len(turns) > f.limit {
		turns = turns[len(turns)-f.limit:]
	}
	f.turns[t.UserID] = turns
	return nil
}

func (f *fakeTier) RecentTurns(ctx context.Context, userID string, limit int) ([]domain.ConversationTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	turns := append([]domain.ConversationTurn(nil), f.turns[userID]...)
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].CreatedAt.Before(turns[j].CreatedAt) })
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (f *fakeTier) turnCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.turns[userID])
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, hot, durable *fakeTier) (*Store, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	var (
		h HotTier
		d DurableTier
	)
	if hot != nil {
		h = hot
	}
	if durable != nil {
		d = durable
	}
	s := New(h, d, Config{
		TierTimeout:   time.Second,
		RetryInterval: 30 * time.Second,
		Now:           clk.Now,
	}, zaptest.NewLogger(t))
	return s, clk
}

func userTurn(id, user, text string, at time.Time) domain.ConversationTurn {
	return domain.ConversationTurn{TurnID: id, UserID: user, Role: domain.RoleUser, Text: text, CreatedAt: at}
}

func turnIDs(turns []domain.ConversationTurn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.TurnID)
	}
	return out
}

func TestAppendThenRead(t *testing.T) {
	cases := []struct {
		name        string
		hotDown     bool
		durableDown bool
		want        Durability
	}{
		{"both up", false, false, Durable},
		{"hot down", true, false, Durable},
		{"durable down", false, true, CachedOnly},
		{"both down", true, true, ProcessOnly},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
			hot.setDown(tc.hotDown)
			durable.setDown(tc.durableDown)
			s, clk := newTestStore(t, hot, durable)

			id, d := s.AppendTurn(context.Background(), userTurn("", "u1", "Plan Rome", clk.Now()))
			require.NotEmpty(t, id)
			require.Equal(t, tc.want, d)

			session := s.GetSessionContext(context.Background(), "u1", 10)
			require.Equal(t, []string{id}, turnIDs(session.Turns))
			require.Equal(t, "Plan Rome", session.Turns[0].Text)
		})
	}
}

func TestAppendTurn_WritesBothTiers(t *testing.T) {
	hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
	s, clk := newTestStore(t, hot, durable)

	_, d := s.AppendTurn(context.Background(), userTurn("t1", "u1", "hi", clk.Now()))
	require.Equal(t, Durable, d)
	require.Equal(t, 1, hot.turnCount("u1"))
	require.Equal(t, 1, durable.turnCount("u1"))
}

func TestAppendTurn_NoTiers(t *testing.T) {
	s, clk := newTestStore(t, nil, nil)
	id, d := s.AppendTurn(context.Background(), userTurn("t1", "u1", "hi", clk.Now()))
	require.Equal(t, "t1", id)
	require.Equal(t, ProcessOnly, d)
	require.Len(t, s.GetSessionContext(context.Background(), "u1", 5).Turns, 1)
}

func TestGetSessionContext_BackfillsFromDurable(t *testing.T) {
	hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
	s, clk := newTestStore(t, hot, durable)
	base := clk.Now()

	// durable has the full history; hot only the newest turn
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, durable.AppendTurn(context.Background(), userTurn(id, "u1", id, base.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, hot.PushTurn(context.Background(), userTurn("c", "u1", "c", base.Add(2*time.Second))))

	session := s.GetSessionContext(context.Background(), "u1", 10)
	require.Equal(t, []string{"a", "b", "c"}, turnIDs(session.Turns))

	session = s.GetSessionContext(context.Background(), "u1", 2)
	require.Equal(t, []string{"b", "c"}, turnIDs(session.Turns))
}

func TestGetSessionContext_HotFullSkipsDurable(t *testing.T) {
	hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
	s, clk := newTestStore(t, hot, durable)
	base := clk.Now()
	require.NoError(t, hot.PushTurn(context.Background(), userTurn("h1", "u1", "x", base)))
	require.NoError(t, durable.AppendTurn(context.Background(), userTurn("d0", "u1", "old", base.Add(-time.Hour))))

	session := s.GetSessionContext(context.Background(), "u1", 1)
	require.Equal(t, []string{"h1"}, turnIDs(session.Turns))
}

func TestGetSessionContext_SessionIDAndProfile(t *testing.T) {
	hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
	s, clk := newTestStore(t, hot, durable)
	_, _ = s.SetProfile(context.Background(), "u1", domain.ProfileUpdate{DestinationsOfInterest: []string{"rome"}})

	session := s.GetSessionContext(context.Background(), "u1", 10)
	require.Equal(t, domain.SessionID("u1", clk.Now(), domain.DefaultSessionWindow), session.SessionID)
	require.NotNil(t, session.Profile)
	require.Equal(t, []string{"rome"}, session.Profile.DestinationsOfInterest)
}

func TestSetProfile_FieldLevelMerge(t *testing.T) {
	hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
	s, _ := newTestStore(t, hot, durable)
	ctx := context.Background()

	_, d := s.SetProfile(ctx, "u1", domain.ProfileUpdate{TravelPace: domain.Pace(domain.PaceRelaxed)})
	require.Equal(t, Durable, d)
	p, d := s.SetProfile(ctx, "u1", domain.ProfileUpdate{DestinationsOfInterest: []string{"tokyo"}})
	require.Equal(t, Durable, d)
	require.Equal(t, domain.PaceRelaxed, p.TravelPace)
	require.Equal(t, []string{"tokyo"}, p.DestinationsOfInterest)

	// write-through refreshed the hot tier
	hp, ok, err := hot.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p, hp)
}

func TestSetProfile_Idempotent(t *testing.T) {
	hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
	s, _ := newTestStore(t, hot, durable)
	ctx := context.Background()
	upd := domain.ProfileUpdate{ActivityPreferences: []string{"Food", "museums", "food"}}

	first, _ := s.SetProfile(ctx, "u1", upd)
	second, _ := s.SetProfile(ctx, "u1", upd)
	first.LastUpdated, second.LastUpdated = time.Time{}, time.Time{}
	require.Equal(t, first, second)
	require.Equal(t, []string{"food", "museums"}, second.ActivityPreferences)
}

func TestSetProfile_DurableDownWritesHot(t *testing.T) {
	hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
	durable.setDown(true)
	s, _ := newTestStore(t, hot, durable)

	p, d := s.SetProfile(context.Background(), "u1", domain.ProfileUpdate{TravelPace: domain.Pace(domain.PacePacked)})
	require.Equal(t, CachedOnly, d)
	require.Equal(t, domain.PacePacked, p.TravelPace)

	got, ok := s.GetProfile(context.Background(), "u1")
	require.True(t, ok)
	require.Equal(t, domain.PacePacked, got.TravelPace)
}

func TestSetProfile_BothDown(t *testing.T) {
	hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
	hot.setDown(true)
	durable.setDown(true)
	s, _ := newTestStore(t, hot, durable)

	_, d := s.SetProfile(context.Background(), "u1", domain.ProfileUpdate{DestinationsOfInterest: []string{"bali"}})
	require.Equal(t, ProcessOnly, d)
	got, ok := s.GetProfile(context.Background(), "u1")
	require.True(t, ok)
	require.Equal(t, []string{"bali"}, got.DestinationsOfInterest)
}

func TestGetProfile_DurableWritesThroughToHot(t *testing.T) {
	hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
	s, clk := newTestStore(t, hot, durable)
	_, err := durable.MergeProfile(context.Background(), "u1", domain.ProfileUpdate{DestinationsOfInterest: []string{"paris"}}, clk.Now())
	require.NoError(t, err)

	p, ok := s.GetProfile(context.Background(), "u1")
	require.True(t, ok)
	require.Equal(t, []string{"paris"}, p.DestinationsOfInterest)

	_, inHot, err := hot.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, inHot)
}

func TestGetProfile_Unknown(t *testing.T) {
	s, _ := newTestStore(t, newFakeTier("redis"), newFakeTier("dynamodb"))
	_, ok := s.GetProfile(context.Background(), "nobody")
	require.False(t, ok)
}

func TestTier_RecheckedAfterInterval(t *testing.T) {
	hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
	s, clk := newTestStore(t, hot, durable)
	ctx := context.Background()

	_, d := s.AppendTurn(ctx, userTurn("t1", "u1", "a", clk.Now()))
	require.Equal(t, Durable, d)
	require.Equal(t, "up", s.Status().Durable)

	durable.setDown(true)
	_, d = s.AppendTurn(ctx, userTurn("t2", "u1", "b", clk.Now()))
	require.Equal(t, CachedOnly, d)
	require.Equal(t, "down", s.Status().Durable)

	// recovered, but the breaker stays open until the retry interval passes
	durable.setDown(false)
	_, d = s.AppendTurn(ctx, userTurn("t3", "u1", "c", clk.Now()))
	require.Equal(t, CachedOnly, d)

	clk.advance(31 * time.Second)
	_, d = s.AppendTurn(ctx, userTurn("t4", "u1", "d", clk.Now()))
	require.Equal(t, Durable, d)
	require.Equal(t, "up", s.Status().Durable)
}

func TestTier_CallerCancellationKeepsTiersUp(t *testing.T) {
	hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
	s, clk := newTestStore(t, hot, durable)

	_, d := s.AppendTurn(context.Background(), userTurn("t1", "u1", "a", clk.Now()))
	require.Equal(t, Durable, d)
	require.Equal(t, TierStatus{Hot: "up", Durable: "up"}, s.Status())

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_ = s.GetSessionContext(cancelled, "u1", 10)
	require.Equal(t, TierStatus{Hot: "up", Durable: "up"}, s.Status())

	// cancelled while the operation is in flight
	ctx, cancel := context.WithCancel(context.Background())
	hot.onCall = cancel
	_ = s.GetSessionContext(ctx, "u1", 10)
	hot.onCall = nil
	require.Equal(t, TierStatus{Hot: "up", Durable: "up"}, s.Status())

	_, d = s.AppendTurn(context.Background(), userTurn("t2", "u2", "b", clk.Now()))
	require.Equal(t, Durable, d)
	require.Equal(t, 1, hot.turnCount("u2"))
	require.Equal(t, 1, durable.turnCount("u2"))
}

func TestTier_CancelledRecheckReleasesWindow(t *testing.T) {
	hot := newFakeTier("redis")
	s, _ := newTestStore(t, hot, nil)

	ctx, cancel := context.WithCancel(context.Background())
	hot.onCall = cancel
	_, _ = s.GetProfile(ctx, "u1")
	hot.onCall = nil
	require.Equal(t, 1, hot.pings)
	require.Equal(t, "unknown", s.Status().Hot)

	// the next caller retries right away instead of waiting out the interval
	_, _ = s.GetProfile(context.Background(), "u1")
	require.Equal(t, 2, hot.pings)
	require.Equal(t, "up", s.Status().Hot)
}

func TestTier_OperationTimeoutMarksDown(t *testing.T) {
	hot := newFakeTier("redis")
	s, clk := newTestStore(t, hot, nil)
	_, d := s.AppendTurn(context.Background(), userTurn("t1", "u1", "a", clk.Now()))
	require.Equal(t, CachedOnly, d)

	// outlives the one second per-operation timeout
	hot.onCall = func() { time.Sleep(1100 * time.Millisecond) }
	_, d = s.AppendTurn(context.Background(), userTurn("t2", "u1", "b", clk.Now()))
	require.Equal(t, ProcessOnly, d)
	require.Equal(t, "down", s.Status().Hot)
}

func TestSetProfile_OutageWritesSurviveRecovery(t *testing.T) {
	hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
	s, clk := newTestStore(t, hot, durable)
	ctx := context.Background()

	_, d := s.SetProfile(ctx, "u1", domain.ProfileUpdate{ActivityPreferences: []string{"food"}})
	require.Equal(t, Durable, d)

	durable.setDown(true)
	clk.advance(time.Second)
	_, d = s.SetProfile(ctx, "u1", domain.ProfileUpdate{TravelPace: domain.Pace(domain.PaceRelaxed)})
	require.Equal(t, CachedOnly, d)

	durable.setDown(false)
	clk.advance(31 * time.Second)
	p, d := s.SetProfile(ctx, "u1", domain.ProfileUpdate{DestinationsOfInterest: []string{"Japan"}})
	require.Equal(t, Durable, d)
	require.Equal(t, domain.PaceRelaxed, p.TravelPace)
	require.Equal(t, []string{"Japan"}, p.DestinationsOfInterest)
	require.Equal(t, []string{"food"}, p.ActivityPreferences)

	stored, ok, err := durable.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.PaceRelaxed, stored.TravelPace)

	got, ok := s.GetProfile(ctx, "u1")
	require.True(t, ok)
	require.Equal(t, p, got)
}

func TestSetProfile_UpdateWinsOverCachedField(t *testing.T) {
	hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
	durable.setDown(true)
	s, clk := newTestStore(t, hot, durable)
	ctx := context.Background()

	_, d := s.SetProfile(ctx, "u1", domain.ProfileUpdate{TravelPace: domain.Pace(domain.PacePacked)})
	require.Equal(t, CachedOnly, d)

	durable.setDown(false)
	clk.advance(31 * time.Second)
	p, d := s.SetProfile(ctx, "u1", domain.ProfileUpdate{TravelPace: domain.Pace(domain.PaceRelaxed)})
	require.Equal(t, Durable, d)
	require.Equal(t, domain.PaceRelaxed, p.TravelPace)
}

func TestTier_LazyFirstCheck(t *testing.T) {
	hot, durable := newFakeTier("redis"), newFakeTier("dynamodb")
	s, _ := newTestStore(t, hot, durable)
	require.Equal(t, TierStatus{Hot: "unknown", Durable: "unknown"}, s.Status())
	require.Zero(t, hot.pings)

	_, _ = s.GetProfile(context.Background(), "u1")
	require.Equal(t, 1, hot.pings)
	_, _ = s.GetProfile(context.Background(), "u1")
	require.Equal(t, 1, hot.pings, "an up tier is not checked again")
}

func TestStatus_AbsentTiers(t *testing.T) {
	s, _ := newTestStore(t, nil, nil)
	require.Equal(t, TierStatus{Hot: "absent", Durable: "absent"}, s.Status())
}

func TestMergeTurns(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := userTurn("a", "u", "a", base)
	b := userTurn("b", "u", "b", base) // same instant as a
	c := userTurn("c", "u", "c", base.Add(time.Second))

	out := mergeTurns(10, []domain.ConversationTurn{c, a}, []domain.ConversationTurn{a, b})
	require.Equal(t, []string{"a", "b", "c"}, turnIDs(out))
	require.Equal(t, []string{"b", "c"}, turnIDs(mergeTurns(2, []domain.ConversationTurn{a, b, c})))
}

func TestDurabilityString(t *testing.T) {
	require.Equal(t, "durable", Durable.String())
	require.Equal(t, "cached_only", CachedOnly.String())
	require.Equal(t, "process_only", ProcessOnly.String())
}
