package agents

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"travel-assistant/internal/domain"
)

type recordingGenerator struct {
	mu   sync.Mutex
	reqs []domain.GenerationRequest
	res  domain.GenerationResult
}

func (g *recordingGenerator) Generate(_ context.Context, req domain.GenerationRequest) domain.GenerationResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	return g.res
}

func TestNewRegistry_NilGenerator(t *testing.T) {
	_, err := NewRegistry(nil)
	require.Error(t, err)
}

func TestRegistry_Catalog(t *testing.T) {
	r, err := NewRegistry(&recordingGenerator{})
	require.NoError(t, err)

	require.Equal(t, []string{
		domain.AgentTravelAssistant,
		domain.AgentTripAnalyzer,
		domain.AgentTripMoodDetector,
		domain.AgentTripCalmPractice,
		domain.AgentTripCommsCoach,
		domain.AgentTripBehaviorGuide,
		domain.AgentTripSummarySynth,
	}, r.Names())
	require.Equal(t, domain.AgentTravelAssistant, r.Default().Name())

	for _, n := range r.Names() {
		a, err := r.Get(n)
		require.NoError(t, err)
		require.Equal(t, n, a.Name())
	}

	_, err = r.Get("Nope")
	require.ErrorIs(t, err, ErrUnknownAgent)
	require.Equal(t, "Trip Analysis", r.Title(domain.AgentTripAnalyzer))
	require.Equal(t, "Nope", r.Title("Nope"))
}

func TestAgent_PassesGenerationResultThrough(t *testing.T) {
	gen := &recordingGenerator{res: domain.GenerationResult{
		Text: "fallback text", AIUsed: false, Latency: 3 * time.Millisecond, Error: domain.GenErrTimeout,
	}}
	r, err := NewRegistry(gen, WithModel("llama3.2:3b"), WithTimeout(4*time.Second))
	require.NoError(t, err)
	a, err := r.Get(domain.AgentTripCalmPractice)
	require.NoError(t, err)

	out := a.Handle(context.Background(), "I am so stressed", domain.Session{UserID: "u1"})
	require.Equal(t, domain.AgentResponse{
		Agent:   domain.AgentTripCalmPractice,
		Text:    "fallback text",
		UsedAI:  false,
		Latency: 3 * time.Millisecond,
		Error:   domain.GenErrTimeout,
	}, out)

	require.Len(t, gen.reqs, 1)
	req := gen.reqs[0]
	require.Equal(t, domain.AgentTripCalmPractice, req.AgentName)
	require.Equal(t, "I am so stressed", req.Query)
	require.Equal(t, "llama3.2:3b", req.Model)
	require.Equal(t, 4*time.Second, req.Timeout)
	require.True(t, strings.HasPrefix(req.SystemInstruction, "You are TripCalmPractice, a mindfulness coach"))
}

func TestBuildPrompt_IncludesProfileAndHistory(t *testing.T) {
	pace := domain.PaceRelaxed
	session := domain.Session{
		UserID: "u1",
		Profile: &domain.UserProfile{
			UserID:                 "u1",
			DestinationsOfInterest: []string{"paris"},
			TravelPace:             pace,
			ActivityPreferences:    []string{"food", "museums"},
		},
		Turns: []domain.ConversationTurn{
			{Role: domain.RoleUser, Text: "Plan a 3-day trip to Paris"},
			{Role: domain.RoleAssistant, Text: "Day 1:   Louvre\n\nDay 2: Marais"},
		},
	}
	p := buildPrompt("  what about   food? ", session)

	require.Contains(t, p, "- Destinations of interest: paris")
	require.Contains(t, p, "- Preferred pace: relaxed")
	require.Contains(t, p, "- Enjoys: food, museums")
	require.Contains(t, p, "Traveller: Plan a 3-day trip to Paris")
	require.Contains(t, p, "Assistant: Day 1: Louvre Day 2: Marais")
	require.True(t, strings.HasSuffix(p, "Travel query: what about food?"))
}

func TestBuildPrompt_EmptySession(t *testing.T) {
	require.Equal(t, "Travel query: hello", buildPrompt("hello", domain.Session{}))
}

func TestHistorySummary_TruncatesLongTurns(t *testing.T) {
	long := strings.Repeat("a", maxTurnChars+50)
	out := historySummary([]domain.ConversationTurn{{Role: domain.RoleUser, Text: long}})
	require.Equal(t, "Traveller: "+strings.Repeat("a", maxTurnChars)+"...", out)
}

func TestHistorySummary_TruncatesOnRuneBoundary(t *testing.T) {
	long := "a" + strings.Repeat("é", maxTurnChars)
	out := historySummary([]domain.ConversationTurn{{Role: domain.RoleUser, Text: long}})
	require.True(t, utf8.ValidString(out))
	require.Equal(t, "Traveller: a"+strings.Repeat("é", maxTurnChars-1)+"...", out)
}
