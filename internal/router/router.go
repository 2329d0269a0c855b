// Package router maps free-text travel queries to the agents that should
// answer them using weighted keyword triggers.
package router

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"travel-assistant/internal/domain"
)

// ErrNoRoute is returned by Validate when a decision cannot be served. Route
// itself never fails.
var ErrNoRoute = errors.New("router: decision has no agents")

// DefaultMaxAgents mirrors the chat-mode fan-out limit.
const DefaultMaxAgents = 3

// Trigger weights.
const (
	weightWeak   = 1
	weightNormal = 2
	weightStrong = 5
)

// Trigger is a term or phrase that votes for an agent.
type Trigger struct {
	Term   string
	Weight float64
}

// Rule is the trigger set of one agent.
type Rule struct {
	Agent    string
	Triggers []Trigger
}

type compiledTrigger struct {
	re     *regexp.Regexp
	weight float64
}

type compiledRule struct {
	agent    string
	triggers []compiledTrigger
}

// Router scores queries against a fixed, ordered rule set. It is safe for
// concurrent use.
type Router struct {
	rules        []compiledRule
	defaultAgent string
	maxAgents    int
}

// Option configures a Router.
type Option func(*Router)

// WithMaxAgents caps how many agents a single decision may fan out to.
func WithMaxAgents(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxAgents = n
		}
	}
}

// New compiles rules into a Router. Rule order is the tie-break priority.
func New(defaultAgent string, rules []Rule, opts ...Option) (*Router, error) {
	if strings.TrimSpace(defaultAgent) == "" {
		return nil, errors.New("router: default agent must not be empty")
	}
	r := &Router{defaultAgent: defaultAgent, maxAgents: DefaultMaxAgents}
	seen := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		if _, dup := seen[rule.Agent]; dup {
			return nil, errors.New("router: duplicate rule for agent " + rule.Agent)
		}
		seen[rule.Agent] = struct{}{}
		cr := compiledRule{agent: rule.Agent}
		for _, t := range rule.Triggers {
			term := strings.ToLower(strings.TrimSpace(t.Term))
			if term == "" || t.Weight <= 0 {
				continue
			}
			cr.triggers = append(cr.triggers, compiledTrigger{re: triggerPattern(term), weight: t.Weight})
		}
		r.rules = append(r.rules, cr)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NewDefault returns a Router over the travel agent catalog.
func NewDefault(opts ...Option) *Router {
	r, err := New(domain.AgentTravelAssistant, DefaultRules(), opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// triggerPattern matches term at a word start, so "relax" hits "relaxing"
// and "ask" does not hit "task". Inner whitespace matches any run of spaces.
func triggerPattern(term string) *regexp.Regexp {
	parts := strings.Fields(term)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)(^|[^\p{L}\p{N}])` + strings.Join(parts, `\s+`))
}

// Route scores text against every rule. The result always names at least
// one agent.
func (r *Router) Route(text string) domain.RoutingDecision {
	decision := domain.RoutingDecision{Query: text, Scores: make(map[string]float64)}
	if strings.TrimSpace(text) == "" {
		return r.fallback(decision)
	}

	type candidate struct {
		agent    string
		score    float64
		priority int
	}
	var candidates []candidate
	for i, rule := range r.rules {
		var score float64
		for _, t := range rule.triggers {
			if t.re.MatchString(text) {
				score += t.weight
			}
		}
		if score > 0 {
			decision.Scores[rule.agent] = score
			candidates = append(candidates, candidate{agent: rule.agent, score: score, priority: i})
		}
	}
	if len(candidates) == 0 {
		return r.fallback(decision)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].priority < candidates[j].priority
	})
	if len(candidates) > r.maxAgents {
		candidates = candidates[:r.maxAgents]
	}
	for _, c := range candidates {
		decision.MatchedAgents = append(decision.MatchedAgents, c.agent)
	}
	return decision
}

func (r *Router) fallback(d domain.RoutingDecision) domain.RoutingDecision {
	d.MatchedAgents = []string{r.defaultAgent}
	d.Scores[r.defaultAgent] = 0
	return d
}

// Validate checks that a decision can be executed.
func Validate(d domain.RoutingDecision) error {
	if len(d.MatchedAgents) == 0 {
		return ErrNoRoute
	}
	return nil
}

func triggers(weight float64, terms ...string) []Trigger {
	out := make([]Trigger, 0, len(terms))
	for _, t := range terms {
		out = append(out, Trigger{Term: t, Weight: weight})
	}
	return out
}

func concat(groups ...[]Trigger) []Trigger {
	var out []Trigger
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// DefaultRules is the trigger vocabulary of the travel agents, in priority
// order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Agent: domain.AgentTripAnalyzer,
			Triggers: concat(
				triggers(weightStrong, "plan", "trip", "budget", "itinerary"),
				triggers(weightNormal, "destination", "vacation", "travel", "visit", "analyze", "where", "holiday"),
				triggers(weightWeak, domain.KnownDestinations()...),
			),
		},
		{
			Agent: domain.AgentTripMoodDetector,
			Triggers: concat(
				triggers(weightStrong, "feeling", "excited", "worried", "mood", "anxious"),
				triggers(weightNormal, "nervous", "emotion", "feel", "scared", "afraid"),
			),
		},
		{
			Agent: domain.AgentTripCalmPractice,
			Triggers: concat(
				triggers(weightStrong, "anxiety", "stressed", "overwhelmed", "panic"),
				triggers(weightNormal, "calm", "breathe", "relax", "stress"),
				triggers(weightWeak, "nervous", "anxious"),
			),
		},
		{
			Agent: domain.AgentTripCommsCoach,
			Triggers: concat(
				triggers(weightStrong, "communicate", "language", "phrase", "translate"),
				triggers(weightNormal, "talk", "ask", "hotel staff", "say", "speak"),
			),
		},
		{
			Agent: domain.AgentTripBehaviorGuide,
			Triggers: concat(
				triggers(weightStrong, "decide", "choose", "stuck", "options"),
				triggers(weightNormal, "should i", "what now", "next step", "between"),
			),
		},
		{
			Agent: domain.AgentTripSummarySynth,
			Triggers: concat(
				triggers(weightStrong, "summary", "summarize", "overview", "synthesize"),
				triggers(weightNormal, "combine", "overall", "recap"),
			),
		},
	}
}
