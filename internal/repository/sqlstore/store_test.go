package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"travel-assistant/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "memory.db")
	s, err := Open(context.Background(), SQLite, path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ---- provisioning ----

func TestOpen_UnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), Dialect("oracle"), "x", nil)
	require.ErrorContains(t, err, "unsupported dialect")
}

func TestOpen_BadMySQLDSN(t *testing.T) {
	_, err := Open(context.Background(), MySQL, "not a dsn", nil)
	require.ErrorContains(t, err, "parse mysql dsn")
}

func TestProvision_Idempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Provision(context.Background()))
	require.NoError(t, s.Provision(context.Background()))
	require.Equal(t, "sqlite", s.Name())
	require.NoError(t, s.Ping(context.Background()))
}

func TestAlreadyExists(t *testing.T) {
	require.True(t, alreadyExists(&mysql.MySQLError{Number: errDuplicateIndex}))
	require.True(t, alreadyExists(&mysql.MySQLError{Number: errTableExists}))
	require.False(t, alreadyExists(&mysql.MySQLError{Number: 1045}))
	require.True(t, alreadyExists(fmt.Errorf("wrapped: %w", errors.New("index idx already exists"))))
	require.False(t, alreadyExists(errors.New("disk full")))
}

// ---- profiles ----

func TestMergeProfile_CreatesThenMergesFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, found, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.False(t, found)

	p, err := s.MergeProfile(ctx, "u1", domain.ProfileUpdate{
		DestinationsOfInterest: []string{"paris"},
		TravelPace:             domain.Pace(domain.PaceRelaxed),
	}, t1)
	require.NoError(t, err)
	require.Equal(t, []string{"paris"}, p.DestinationsOfInterest)

	t2 := t1.Add(time.Hour)
	p, err = s.MergeProfile(ctx, "u1", domain.ProfileUpdate{
		ActivityPreferences: []string{"Museums", "food"},
	}, t2)
	require.NoError(t, err)

	got, found, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, p, got)
	require.Equal(t, []string{"paris"}, got.DestinationsOfInterest)
	require.Equal(t, domain.PaceRelaxed, got.TravelPace)
	require.Equal(t, []string{"food", "museums"}, got.ActivityPreferences)
	require.Equal(t, t2, got.LastUpdated)
}

func TestMergeProfile_ListsAreReplaced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := s.MergeProfile(ctx, "u1", domain.ProfileUpdate{DestinationsOfInterest: []string{"paris", "rome"}}, now)
	require.NoError(t, err)
	_, err = s.MergeProfile(ctx, "u1", domain.ProfileUpdate{DestinationsOfInterest: []string{"tokyo"}}, now)
	require.NoError(t, err)

	got, _, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"tokyo"}, got.DestinationsOfInterest)
}

// ---- turns ----

func TestAppendTurn_DuplicateIgnored(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	turn := domain.ConversationTurn{
		TurnID:    "t1",
		UserID:    "u1",
		Role:      domain.RoleUser,
		Text:      "plan a trip",
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.AppendTurn(ctx, turn))
	require.NoError(t, s.AppendTurn(ctx, turn))

	turns, err := s.RecentTurns(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, turn, turns[0])
}

func TestAppendTurn_RequiresIDs(t *testing.T) {
	s := openTestStore(t)
	require.Error(t, s.AppendTurn(context.Background(), domain.ConversationTurn{UserID: "u1"}))
}

func TestRecentTurns_NewestLimitOldestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendTurn(ctx, domain.ConversationTurn{
			TurnID:    fmt.Sprintf("t%d", i),
			UserID:    "u1",
			Role:      domain.RoleUser,
			Text:      fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}))
	}
	require.NoError(t, s.AppendTurn(ctx, domain.ConversationTurn{
		TurnID: "other", UserID: "u2", Role: domain.RoleUser, Text: "hi", CreatedAt: base,
	}))

	turns, err := s.RecentTurns(ctx, "u1", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	require.Equal(t, "t2", turns[0].TurnID)
	require.Equal(t, "t4", turns[2].TurnID)

	turns, err = s.RecentTurns(ctx, "u1", 0)
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestRecentTurns_SameTimestampKeepsInsertOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendTurn(ctx, domain.ConversationTurn{TurnID: "a", UserID: "u1", Role: domain.RoleUser, Text: "q", CreatedAt: at}))
	require.NoError(t, s.AppendTurn(ctx, domain.ConversationTurn{TurnID: "b", UserID: "u1", Role: domain.RoleAssistant, Text: "r", CreatedAt: at}))

	turns, err := s.RecentTurns(ctx, "u1", 10)
	require.NoError(t, err)
	require.Equal(t, "a", turns[0].TurnID)
	require.Equal(t, "b", turns[1].TurnID)
}

func TestRecentTurns_Metadata(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.AppendTurn(ctx, domain.ConversationTurn{
		TurnID:    "a1",
		UserID:    "u1",
		Role:      domain.RoleAssistant,
		Text:      "Here is your plan",
		Metadata:  map[string]any{domain.MetaAIUsed: false, domain.MetaAgents: []string{"TextTripAnalyzer"}},
		CreatedAt: time.Now(),
	}))
	turns, err := s.RecentTurns(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, false, turns[0].Metadata[domain.MetaAIUsed])
	require.Equal(t, []any{"TextTripAnalyzer"}, turns[0].Metadata[domain.MetaAgents])
}
