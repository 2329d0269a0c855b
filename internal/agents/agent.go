// Package agents holds the fixed catalog of travel personas. Each agent
// turns a query plus session context into one generation call.
package agents

import (
	"context"
	"time"

	"travel-assistant/internal/domain"
)

// Generator is the generation capability agents depend on.
// *generation.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) domain.GenerationResult
}

// Agent answers one query.
type Agent interface {
	Name() string
	Handle(ctx context.Context, query string, session domain.Session) domain.AgentResponse
}

type persona struct {
	name        string
	title       string
	instruction string
	gen         Generator
	model       string
	timeout     time.Duration
}

func (p *persona) Name() string { return p.name }

// Title is the human-readable heading used when replies are combined.
func (p *persona) Title() string { return p.title }

func (p *persona) Handle(ctx context.Context, query string, session domain.Session) domain.AgentResponse {
	res := p.gen.Generate(ctx, domain.GenerationRequest{
		Prompt:            buildPrompt(query, session),
		SystemInstruction: p.instruction,
		Query:             query,
		AgentName:         p.name,
		Model:             p.model,
		Timeout:           p.timeout,
	})
	return domain.AgentResponse{
		Agent:   p.name,
		Text:    res.Text,
		UsedAI:  res.AIUsed,
		Latency: res.Latency,
		Error:   res.Error,
	}
}

// Titled is implemented by agents that carry a display heading.
type Titled interface {
	Title() string
}
