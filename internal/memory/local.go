package memory

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"travel-assistant/internal/domain"
)

// localUser is the process-local state of one user.
type localUser struct {
	profile *domain.UserProfile
	turns   []domain.ConversationTurn
}

// localStore keeps the most recently active users in memory. It is the last
// resort when both tiers are unreachable and is lost on restart.
type localStore struct {
	mu        sync.Mutex
	users     *lru.Cache[string, *localUser]
	turnLimit int
}

func newLocalStore(users, turnLimit int) *localStore {
	cache, err := lru.New[string, *localUser](users)
	if err != nil {
		// only fails for a non-positive size, which Config defaults rule out
		panic(err)
	}
	return &localStore{users: cache, turnLimit: turnLimit}
}

func (l *localStore) user(userID string) *localUser {
	u, ok := l.users.Get(userID)
	if !ok {
		u = &localUser{}
		l.users.Add(userID, u)
	}
	return u
}

func (l *localStore) profile(userID string) (domain.UserProfile, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users.Get(userID)
	if !ok || u.profile == nil {
		return domain.UserProfile{}, false
	}
	return cloneProfile(*u.profile), true
}

func (l *localStore) putProfile(p domain.UserProfile) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := cloneProfile(p)
	l.user(p.UserID).profile = &cp
}

func (l *localStore) appendTurn(t domain.ConversationTurn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u := l.user(t.UserID)
	for _, existing := range u.turns {
		if existing.TurnID == t.TurnID {
			return
		}
	}
	u.turns = append(u.turns, t)
	if over := len(u.turns) - l.turnLimit; over > 0 {
		u.turns = append([]domain.ConversationTurn(nil), u.turns[over:]...)
	}
}

func (l *localStore) recentTurns(userID string, limit int) []domain.ConversationTurn {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users.Get(userID)
	if !ok {
		return nil
	}
	turns := u.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return append([]domain.ConversationTurn(nil), turns...)
}

func cloneProfile(p domain.UserProfile) domain.UserProfile {
	p.DestinationsOfInterest = append([]string(nil), p.DestinationsOfInterest...)
	p.ActivityPreferences = append([]string(nil), p.ActivityPreferences...)
	return p
}
