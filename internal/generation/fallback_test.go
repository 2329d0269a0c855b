package generation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"travel-assistant/internal/domain"
)

func TestFallback_MinimumLengthForEveryAgent(t *testing.T) {
	agents := []string{
		domain.AgentTravelAssistant,
		domain.AgentTripAnalyzer,
		domain.AgentTripMoodDetector,
		domain.AgentTripCalmPractice,
		domain.AgentTripCommsCoach,
		domain.AgentTripBehaviorGuide,
		domain.AgentTripSummarySynth,
		"UnknownAgent",
	}
	for _, a := range agents {
		for _, q := range []string{"", "hi", "Plan a 3-day trip to Paris"} {
			out := Fallback(a, q)
			require.GreaterOrEqual(t, len(out), MinFallbackLength, "agent=%s query=%q", a, q)
		}
	}
}

func TestFallback_Deterministic(t *testing.T) {
	q := "I'm anxious about my first flight to Tokyo"
	require.Equal(t, Fallback(domain.AgentTripMoodDetector, q), Fallback(domain.AgentTripMoodDetector, q))
}

func TestFallback_TripFacts(t *testing.T) {
	out := Fallback(domain.AgentTripAnalyzer, "Plan a 3-day trip to Paris with $150/day budget")
	require.Contains(t, out, "Paris")
	require.Contains(t, out, "3 days")
	require.Contains(t, out, "$150 per day")
}

func TestFallback_MoodMentionsConcernAndFlight(t *testing.T) {
	out := Fallback(domain.AgentTripMoodDetector, "I'm anxious about my first flight")
	require.Contains(t, out, "anxious")
	require.Contains(t, out, "flight")
}

func TestExtractFacts(t *testing.T) {
	f := extractFacts("Two weeks in New York and Rome, $2,000 total, 14 nights")
	require.Equal(t, []string{"New York", "Rome"}, f.destinations)
	require.Equal(t, "14", f.days)
	require.Equal(t, "$2,000", f.budget)
	require.False(t, f.perDay)
	require.False(t, f.flight)
}

func TestExtractFacts_WholeWordStarts(t *testing.T) {
	f := extractFacts("My chromebook died, can butterflies help? Still unspainted.")
	require.Empty(t, f.destinations)
	require.False(t, f.flight)

	f = extractFacts("Flying to Rome, a bit panicky")
	require.Equal(t, []string{"Rome"}, f.destinations)
	require.True(t, f.flight)
	require.Equal(t, "panic", f.concern)
}
