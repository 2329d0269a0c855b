// Package redistier is the Redis-backed hot tier of the memory store.
package redistier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"travel-assistant/internal/domain"
	"travel-assistant/internal/memory"
)

const (
	defaultPrefix     = "ta"
	defaultTurnLimit  = 50
	defaultProfileTTL = 7 * 24 * time.Hour
	defaultTurnsTTL   = 30 * 24 * time.Hour
)

// Tier stores profiles as JSON strings and turns as a capped list per user,
// newest first.
type Tier struct {
	rdb        redis.UniversalClient
	prefix     string
	turnLimit  int
	profileTTL time.Duration
	turnsTTL   time.Duration
}

type Option func(*Tier)

// WithTurnLimit caps the per-user turn list; older turns are trimmed.
func WithTurnLimit(n int) Option {
	return func(t *Tier) {
		if n > 0 {
			t.turnLimit = n
		}
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(t *Tier) {
		if p := strings.TrimSpace(prefix); p != "" {
			t.prefix = p
		}
	}
}

func WithTTLs(profile, turns time.Duration) Option {
	return func(t *Tier) {
		if profile > 0 {
			t.profileTTL = profile
		}
		if turns > 0 {
			t.turnsTTL = turns
		}
	}
}

func New(rdb redis.UniversalClient, opts ...Option) (*Tier, error) {
	if rdb == nil {
		return nil, errors.New("redistier: client must not be nil")
	}
	t := &Tier{
		rdb:        rdb,
		prefix:     defaultPrefix,
		turnLimit:  defaultTurnLimit,
		profileTTL: defaultProfileTTL,
		turnsTTL:   defaultTurnsTTL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// NewFromURL parses a redis:// URL and builds a Tier on a new client. The
// client uses short dial and I/O timeouts; the memory store applies its own
// per-operation deadline on top.
func NewFromURL(url string, opts ...Option) (*Tier, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redistier: parse url: %w", err)
	}
	o.DialTimeout = 2 * time.Second
	o.ReadTimeout = time.Second
	o.WriteTimeout = time.Second
	o.MaxRetries = 1
	return New(redis.NewClient(o), opts...)
}

func (t *Tier) profileKey(userID string) string { return t.prefix + ":profile:" + userID }
func (t *Tier) turnsKey(userID string) string   { return t.prefix + ":turns:" + userID }

func (t *Tier) Name() string { return "redis" }

func (t *Tier) Ping(ctx context.Context) error {
	if err := t.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redistier: ping: %w", err)
	}
	return nil
}

func (t *Tier) GetProfile(ctx context.Context, userID string) (domain.UserProfile, bool, error) {
	raw, err := t.rdb.Get(ctx, t.profileKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.UserProfile{}, false, nil
	}
	if err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("redistier: get profile: %w", err)
	}
	var p domain.UserProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("redistier: decode profile: %w", err)
	}
	return p, true, nil
}

func (t *Tier) PutProfile(ctx context.Context, p domain.UserProfile) error {
	if p.UserID == "" {
		return errors.New("redistier: profile user id is empty")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redistier: encode profile: %w", err)
	}
	if err := t.rdb.Set(ctx, t.profileKey(p.UserID), raw, t.profileTTL).Err(); err != nil {
		return fmt.Errorf("redistier: set profile: %w", err)
	}
	return nil
}

// PushTurn prepends the turn and trims the list in one transaction.
func (t *Tier) PushTurn(ctx context.Context, turn domain.ConversationTurn) error {
	raw, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("redistier: encode turn: %w", err)
	}
	key := t.turnsKey(turn.UserID)
	_, err = t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, raw)
		pipe.LTrim(ctx, key, 0, int64(t.turnLimit-1))
		pipe.Expire(ctx, key, t.turnsTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redistier: push turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit turns, oldest first. Entries that fail to
// decode are skipped.
func (t *Tier) RecentTurns(ctx context.Context, userID string, limit int) ([]domain.ConversationTurn, error) {
	if limit <= 0 {
		return nil, nil
	}
	items, err := t.rdb.LRange(ctx, t.turnsKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redistier: range turns: %w", err)
	}
	out := make([]domain.ConversationTurn, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		var turn domain.ConversationTurn
		if err := json.Unmarshal([]byte(items[i]), &turn); err != nil {
			continue
		}
		out = append(out, turn)
	}
	return out, nil
}

// Close releases the underlying client.
func (t *Tier) Close() error {
	return t.rdb.Close()
}

var _ memory.HotTier = (*Tier)(nil)
