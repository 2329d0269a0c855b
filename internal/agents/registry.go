package agents

import (
	"errors"
	"fmt"
	"time"

	"travel-assistant/internal/domain"
)

// ErrUnknownAgent is returned by Get for names outside the catalog.
var ErrUnknownAgent = errors.New("agents: unknown agent")

type definition struct {
	name  string
	title string
	role  string
}

// catalog order matches the router's tie-break priority.
var catalog = []definition{
	{domain.AgentTravelAssistant, "Travel Assistant",
		"a helpful travel assistant. Provide personalized, practical travel advice and point the traveller to the next useful question."},
	{domain.AgentTripAnalyzer, "Trip Analysis",
		"an expert travel planner. Analyze trip requirements systematically. Provide budget breakdowns, destination analysis and day-by-day plans."},
	{domain.AgentTripMoodDetector, "Travel Mood",
		"an expert in travel emotions. Recognise feelings like excitement, nervousness or stress about a trip and offer empathetic, grounded support."},
	{domain.AgentTripCalmPractice, "Calm Practice",
		"a mindfulness coach for travel stress. Give calming techniques, breathing exercises and stress management steps. Be soothing and practical."},
	{domain.AgentTripCommsCoach, "Communication Tips",
		"a communication expert for travellers. Give specific phrases and strategies for hotels, staff and local interactions, with 2-3 concrete examples."},
	{domain.AgentTripBehaviorGuide, "Decision Guide",
		"a decision coach for travellers. Help with stuck decisions, compare the options and end with a clear next step."},
	{domain.AgentTripSummarySynth, "Trip Summary",
		"a synthesis expert. Combine the traveller's plans into a structured overview with clear next steps."},
}

// Registry is the fixed, read-only set of agents.
type Registry struct {
	agents map[string]Agent
	order  []string
}

// RegistryOption configures the registry's agents.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	model   string
	timeout time.Duration
}

// WithModel pins the model name every agent requests.
func WithModel(model string) RegistryOption {
	return func(c *registryConfig) { c.model = model }
}

// WithTimeout sets the first-attempt generation timeout for every agent.
func WithTimeout(d time.Duration) RegistryOption {
	return func(c *registryConfig) { c.timeout = d }
}

// NewRegistry builds the travel catalog over gen.
func NewRegistry(gen Generator, opts ...RegistryOption) (*Registry, error) {
	if gen == nil {
		return nil, errors.New("agents: generator must not be nil")
	}
	var cfg registryConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	r := &Registry{agents: make(map[string]Agent, len(catalog))}
	for _, d := range catalog {
		r.agents[d.name] = &persona{
			name:        d.name,
			title:       d.title,
			instruction: instruction(d.name, d.role),
			gen:         gen,
			model:       cfg.model,
			timeout:     cfg.timeout,
		}
		r.order = append(r.order, d.name)
	}
	return r, nil
}

// Get returns the named agent.
func (r *Registry) Get(name string) (Agent, error) {
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return a, nil
}

// Default returns the orchestrator-role agent.
func (r *Registry) Default() Agent {
	return r.agents[domain.AgentTravelAssistant]
}

// Names lists the catalog in priority order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Title returns the display heading for name, or name itself.
func (r *Registry) Title(name string) string {
	if a, ok := r.agents[name]; ok {
		if t, ok := a.(Titled); ok {
			return t.Title()
		}
	}
	return name
}
