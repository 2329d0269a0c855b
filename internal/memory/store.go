// Package memory keeps user profiles and conversation turns across a fast
// hot tier and a durable tier, degrading to process-local state when both
// are unreachable.
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"travel-assistant/internal/domain"
)

const (
	defaultTierTimeout   = 2 * time.Second
	defaultRetryInterval = 30 * time.Second
	defaultHotTurnLimit  = 50
	defaultLocalUsers    = 1024
	defaultContextTurns  = 10
)

// Durability tells the caller where a write landed.
type Durability int

const (
	// Durable means the durable tier accepted the write.
	Durable Durability = iota
	// CachedOnly means only the hot tier accepted the write.
	CachedOnly
	// ProcessOnly means the write lives in this process and is lost on restart.
	ProcessOnly
)

func (d Durability) String() string {
	switch d {
	case Durable:
		return "durable"
	case CachedOnly:
		return "cached_only"
	default:
		return "process_only"
	}
}

// HotTier is a fast, bounded store such as Redis.
type HotTier interface {
	Name() string
	Ping(ctx context.Context) error
	GetProfile(ctx context.Context, userID string) (domain.UserProfile, bool, error)
	PutProfile(ctx context.Context, p domain.UserProfile) error
	PushTurn(ctx context.Context, turn domain.ConversationTurn) error
	// RecentTurns returns at most limit turns, oldest first.
	RecentTurns(ctx context.Context, userID string, limit int) ([]domain.ConversationTurn, error)
}

// DurableTier is the system of record.
type DurableTier interface {
	Name() string
	Ping(ctx context.Context) error
	GetProfile(ctx context.Context, userID string) (domain.UserProfile, bool, error)
	// MergeProfile applies update to the stored profile, creating it when
	// missing, and returns the result.
	MergeProfile(ctx context.Context, userID string, update domain.ProfileUpdate, now time.Time) (domain.UserProfile, error)
	AppendTurn(ctx context.Context, turn domain.ConversationTurn) error
	// RecentTurns returns at most limit turns, oldest first.
	RecentTurns(ctx context.Context, userID string, limit int) ([]domain.ConversationTurn, error)
}

// Config tunes the store. Zero values select defaults.
type Config struct {
	TierTimeout   time.Duration
	RetryInterval time.Duration
	// HotTurnLimit bounds the process-local turn list per user. The hot tier
	// applies its own bound.
	HotTurnLimit  int
	LocalUsers    int
	SessionWindow time.Duration
	Now           func() time.Time
}

func (c Config) withDefaults() Config {
	if c.TierTimeout <= 0 {
		c.TierTimeout = defaultTierTimeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.HotTurnLimit <= 0 {
		c.HotTurnLimit = defaultHotTurnLimit
	}
	if c.LocalUsers <= 0 {
		c.LocalUsers = defaultLocalUsers
	}
	if c.SessionWindow <= 0 {
		c.SessionWindow = domain.DefaultSessionWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Store is the tiered MemoryStore. It is safe for concurrent use.
type Store struct {
	hot          HotTier
	durable      DurableTier
	hotState     *tierState
	durableState *tierState
	local        *localStore
	cfg          Config
	logger       *zap.Logger
}

// New wires the tiers. Either tier may be nil.
func New(hot HotTier, durable DurableTier, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	logger = logger.Named("memory")
	s := &Store{
		hot:     hot,
		durable: durable,
		local:   newLocalStore(cfg.LocalUsers, cfg.HotTurnLimit),
		cfg:     cfg,
		logger:  logger,
	}
	if hot != nil {
		s.hotState = newTierState("hot:"+hot.Name(), hot.Ping, cfg, logger)
	}
	if durable != nil {
		s.durableState = newTierState("durable:"+durable.Name(), durable.Ping, cfg, logger)
	}
	return s
}

// GetProfile reads hot, then durable (refreshing hot), then process-local
// state.
func (s *Store) GetProfile(ctx context.Context, userID string) (domain.UserProfile, bool) {
	var (
		p     domain.UserProfile
		found bool
	)
	if s.hotState.usable(ctx) {
		s.hotState.run(ctx, "get_profile", func(ctx context.Context) error {
			var err error
			p, found, err = s.hot.GetProfile(ctx, userID)
			return err
		})
		if found {
			return p, true
		}
	}
	if s.durableState.usable(ctx) {
		s.durableState.run(ctx, "get_profile", func(ctx context.Context) error {
			var err error
			p, found, err = s.durable.GetProfile(ctx, userID)
			return err
		})
		if found {
			s.refreshHot(ctx, p)
			s.local.putProfile(p)
			return p, true
		}
	}
	return s.local.profile(userID)
}

// SetProfile merges update into the user's profile in the most durable tier
// available and reports where it landed. Fields written to the hot tier or
// process memory while the durable tier was down are carried into the next
// durable merge.
func (s *Store) SetProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (domain.UserProfile, Durability) {
	now := s.cfg.Now()

	if s.durableState.usable(ctx) {
		full := s.withUnsyncedFields(ctx, userID, update)
		var merged domain.UserProfile
		ok := s.durableState.run(ctx, "merge_profile", func(ctx context.Context) error {
			var err error
			merged, err = s.durable.MergeProfile(ctx, userID, full, now)
			return err
		})
		if ok {
			s.refreshHot(ctx, merged)
			s.local.putProfile(merged)
			return merged, Durable
		}
	}

	if s.hotState.usable(ctx) {
		var (
			current domain.UserProfile
			found   bool
		)
		ok := s.hotState.run(ctx, "get_profile", func(ctx context.Context) error {
			var err error
			current, found, err = s.hot.GetProfile(ctx, userID)
			return err
		})
		if ok {
			if !found {
				current = s.localBase(userID)
			}
			merged := update.Apply(current, now)
			if s.hotState.run(ctx, "put_profile", func(ctx context.Context) error {
				return s.hot.PutProfile(ctx, merged)
			}) {
				s.local.putProfile(merged)
				s.logger.Warn("profile written to hot tier only", zap.String("user_id", userID))
				return merged, CachedOnly
			}
		}
	}

	merged := update.Apply(s.localBase(userID), now)
	s.local.putProfile(merged)
	s.logger.Warn("profile kept in process memory only", zap.String("user_id", userID))
	return merged, ProcessOnly
}

// withUnsyncedFields returns update layered over the cached profile when the
// cached copy is newer than the durable row, so a merge after an outage does
// not drop what was written during it.
func (s *Store) withUnsyncedFields(ctx context.Context, userID string, update domain.ProfileUpdate) domain.ProfileUpdate {
	cached, ok := s.cachedProfile(ctx, userID)
	if !ok {
		return update
	}
	var (
		stored domain.UserProfile
		found  bool
	)
	if !s.durableState.run(ctx, "get_profile", func(ctx context.Context) error {
		var err error
		stored, found, err = s.durable.GetProfile(ctx, userID)
		return err
	}) {
		return update
	}
	if found && !cached.LastUpdated.After(stored.LastUpdated) {
		return update
	}
	s.logger.Info("carrying cached profile fields into durable tier",
		zap.String("user_id", userID),
		zap.Time("cached_at", cached.LastUpdated))
	return update.Over(domain.UpdateFrom(cached))
}

// cachedProfile reads the hot tier, then process memory. It never touches the
// durable tier.
func (s *Store) cachedProfile(ctx context.Context, userID string) (domain.UserProfile, bool) {
	if s.hotState.usable(ctx) {
		var (
			p     domain.UserProfile
			found bool
		)
		if s.hotState.run(ctx, "get_profile", func(ctx context.Context) error {
			var err error
			p, found, err = s.hot.GetProfile(ctx, userID)
			return err
		}) && found {
			return p, true
		}
	}
	return s.local.profile(userID)
}

func (s *Store) localBase(userID string) domain.UserProfile {
	if p, ok := s.local.profile(userID); ok {
		return p
	}
	return domain.UserProfile{UserID: userID}
}

func (s *Store) refreshHot(ctx context.Context, p domain.UserProfile) {
	if !s.hotState.usable(ctx) {
		return
	}
	s.hotState.run(ctx, "put_profile", func(ctx context.Context) error {
		return s.hot.PutProfile(ctx, p)
	})
}

// AppendTurn records turn in the durable tier and mirrors it into the hot
// tier's bounded list. It returns the turn id, assigning one when empty.
func (s *Store) AppendTurn(ctx context.Context, turn domain.ConversationTurn) (string, Durability) {
	if turn.TurnID == "" {
		turn.TurnID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.cfg.Now()
	}
	turn.CreatedAt = turn.CreatedAt.UTC()

	durability := ProcessOnly
	if s.durableState.usable(ctx) && s.durableState.run(ctx, "append_turn", func(ctx context.Context) error {
		return s.durable.AppendTurn(ctx, turn)
	}) {
		durability = Durable
	}
	if s.hotState.usable(ctx) && s.hotState.run(ctx, "push_turn", func(ctx context.Context) error {
		return s.hot.PushTurn(ctx, turn)
	}) && durability == ProcessOnly {
		durability = CachedOnly
	}
	s.local.appendTurn(turn)

	if durability != Durable {
		s.logger.Warn("turn not durably stored",
			zap.String("user_id", turn.UserID),
			zap.String("turn_id", turn.TurnID),
			zap.Stringer("durability", durability))
	}
	return turn.TurnID, durability
}

// GetSessionContext returns up to limit recent turns, oldest first, with the
// profile attached. The hot tier is read first and the durable tier fills in
// when the hot tier is down or short.
func (s *Store) GetSessionContext(ctx context.Context, userID string, limit int) domain.Session {
	if limit <= 0 {
		limit = defaultContextTurns
	}
	var sources [][]domain.ConversationTurn

	hotOK := false
	if s.hotState.usable(ctx) {
		var turns []domain.ConversationTurn
		hotOK = s.hotState.run(ctx, "recent_turns", func(ctx context.Context) error {
			var err error
			turns, err = s.hot.RecentTurns(ctx, userID, limit)
			return err
		})
		sources = append(sources, turns)
		hotOK = hotOK && len(turns) >= limit
	}
	if !hotOK && s.durableState.usable(ctx) {
		var turns []domain.ConversationTurn
		s.durableState.run(ctx, "recent_turns", func(ctx context.Context) error {
			var err error
			turns, err = s.durable.RecentTurns(ctx, userID, limit)
			return err
		})
		sources = append(sources, turns)
	}
	sources = append(sources, s.local.recentTurns(userID, limit))

	session := domain.Session{
		SessionID: domain.SessionID(userID, s.cfg.Now(), s.cfg.SessionWindow),
		UserID:    userID,
		Turns:     mergeTurns(limit, sources...),
	}
	if p, ok := s.GetProfile(ctx, userID); ok {
		session.Profile = &p
	}
	return session
}

// mergeTurns de-duplicates by turn id, orders by creation time (stable, so
// equal timestamps keep source order) and keeps the newest limit turns.
func mergeTurns(limit int, sources ...[]domain.ConversationTurn) []domain.ConversationTurn {
	seen := make(map[string]struct{})
	var out []domain.ConversationTurn
	for _, src := range sources {
		for _, t := range src {
			if _, dup := seen[t.TurnID]; dup {
				continue
			}
			seen[t.TurnID] = struct{}{}
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// TierStatus reports the last known state of each tier without probing.
type TierStatus struct {
	Hot     string `json:"hot"`
	Durable string `json:"durable"`
}

func (s *Store) Status() TierStatus {
	return TierStatus{Hot: s.hotState.status(), Durable: s.durableState.status()}
}
