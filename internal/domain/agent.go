package domain

import "time"

// Agent names. Declaration order is the routing tie-break priority.
const (
	AgentTravelAssistant   = "TravelAssistant"
	AgentTripAnalyzer      = "TextTripAnalyzer"
	AgentTripMoodDetector  = "TripMoodDetector"
	AgentTripCalmPractice  = "TripCalmPractice"
	AgentTripCommsCoach    = "TripCommsCoach"
	AgentTripBehaviorGuide = "TripBehaviorGuide"
	AgentTripSummarySynth  = "TripSummarySynth"
)

// RoutingDecision is the request-scoped output of the router.
type RoutingDecision struct {
	Query         string
	MatchedAgents []string
	Scores        map[string]float64
}

// Primary returns the highest-confidence agent.
func (d RoutingDecision) Primary() string {
	if len(d.MatchedAgents) == 0 {
		return ""
	}
	return d.MatchedAgents[0]
}

// GenerationRequest is one call to the generation backend.
type GenerationRequest struct {
	Prompt            string
	SystemInstruction string
	// Query is the raw user text; fallback replies are built from it.
	Query             string
	AgentName         string
	Model             string
	// Timeout bounds the first attempt. Zero means the client default.
	Timeout           time.Duration
}

// Generation error codes carried in GenerationResult.Error.
const (
	GenErrUnavailable = "unavailable"
	GenErrTimeout     = "timeout"
	GenErrMalformed   = "malformed"
	GenErrCanceled    = "canceled"
)

// GenerationResult is the outcome of a generation call, AI-backed or not.
type GenerationResult struct {
	Text    string
	AIUsed  bool
	Latency time.Duration
	Backend string
	Error   string
}

// AgentResponse is what one agent contributes to a reply.
type AgentResponse struct {
	Agent   string
	Text    string
	UsedAI  bool
	Latency time.Duration
	Error   string
}
