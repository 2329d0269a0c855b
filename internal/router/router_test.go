package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"travel-assistant/internal/domain"
)

func TestRoute_SingleAgentTriggers(t *testing.T) {
	r := NewDefault()
	cases := []struct {
		query string
		agent string
	}{
		{"Can you build an itinerary", domain.AgentTripAnalyzer},
		{"My mood is low today", domain.AgentTripMoodDetector},
		{"I am in a panic", domain.AgentTripCalmPractice},
		{"Which phrase works at check-in", domain.AgentTripCommsCoach},
		{"I am stuck", domain.AgentTripBehaviorGuide},
		{"Give me a recap", domain.AgentTripSummarySynth},
	}
	for _, tc := range cases {
		t.Run(tc.agent, func(t *testing.T) {
			d := r.Route(tc.query)
			require.Equal(t, []string{tc.agent}, d.MatchedAgents)
			require.Greater(t, d.Scores[tc.agent], 0.0)
		})
	}
}

func TestRoute_NoTriggersFallsBackToDefault(t *testing.T) {
	r := NewDefault()
	for _, q := range []string{"hello there", "xyzzy", "   ", ""} {
		d := r.Route(q)
		require.Equal(t, []string{domain.AgentTravelAssistant}, d.MatchedAgents, "query=%q", q)
		require.Equal(t, 0.0, d.Scores[domain.AgentTravelAssistant])
		require.Len(t, d.Scores, 1)
	}
}

func TestRoute_Deterministic(t *testing.T) {
	r := NewDefault()
	q := "I'm anxious and stuck choosing between options for my Paris trip"
	first := r.Route(q)
	for i := 0; i < 50; i++ {
		require.Equal(t, first, r.Route(q))
	}
}

func TestRoute_TripPlanningScenario(t *testing.T) {
	d := NewDefault().Route("Plan a 3-day trip to Paris with a $150/day budget")
	require.Equal(t, domain.AgentTripAnalyzer, d.Primary())
	require.Equal(t, []string{domain.AgentTripAnalyzer}, d.MatchedAgents)
}

func TestRoute_AnxietyFansOutToMoodAndCalm(t *testing.T) {
	d := NewDefault().Route("I'm anxious about my first flight")
	require.Equal(t, []string{domain.AgentTripMoodDetector, domain.AgentTripCalmPractice}, d.MatchedAgents)
}

func TestRoute_WordStartMatching(t *testing.T) {
	r := NewDefault()
	// "task" must not trigger "ask".
	d := r.Route("one more task")
	require.Equal(t, []string{domain.AgentTravelAssistant}, d.MatchedAgents)

	// "relaxing" triggers "relax".
	d = r.Route("something relaxing")
	require.Equal(t, []string{domain.AgentTripCalmPractice}, d.MatchedAgents)

	// Case-insensitive.
	d = r.Route("ITINERARY")
	require.Equal(t, []string{domain.AgentTripAnalyzer}, d.MatchedAgents)
}

func TestRoute_TiesBrokenByDeclarationOrder(t *testing.T) {
	r, err := New("general", []Rule{
		{Agent: "b", Triggers: []Trigger{{Term: "shared", Weight: 1}}},
		{Agent: "a", Triggers: []Trigger{{Term: "shared", Weight: 1}}},
	})
	require.NoError(t, err)
	d := r.Route("shared")
	require.Equal(t, []string{"b", "a"}, d.MatchedAgents)
}

func TestRoute_CapsFanOut(t *testing.T) {
	r := NewDefault(WithMaxAgents(2))
	d := r.Route("plan my trip, I'm anxious, stressed, stuck and need a phrase and a summary")
	require.Len(t, d.MatchedAgents, 2)
	require.Greater(t, len(d.Scores), 2)
}

func TestRoute_PhraseTrigger(t *testing.T) {
	d := NewDefault().Route("what now?")
	require.Equal(t, []string{domain.AgentTripBehaviorGuide}, d.MatchedAgents)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(" ", nil)
	require.Error(t, err)

	_, err = New("general", []Rule{{Agent: "a"}, {Agent: "a"}})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.ErrorIs(t, Validate(domain.RoutingDecision{}), ErrNoRoute)
	require.NoError(t, Validate(NewDefault().Route("")))
}
