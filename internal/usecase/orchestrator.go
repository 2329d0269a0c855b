package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"travel-assistant/internal/agents"
	"travel-assistant/internal/domain"
	"travel-assistant/internal/generation"
	"travel-assistant/internal/integrations/speech"
	"travel-assistant/internal/memory"
	"travel-assistant/internal/router"
)

const (
	defaultMaxContextTurns = 10
	defaultMaxQuestion     = 2000
	sectionSeparator       = "\n\n---\n\n"
	routingFailureReply    = "I'm sorry, I couldn't work out how to help with that just now. " +
		"Could you tell me a little more about the trip you have in mind, such as where you'd like to go, " +
		"how long you have and what kind of experience you're hoping for?"
)

type Router interface {
	Route(text string) domain.RoutingDecision
}

type AgentCatalog interface {
	Get(name string) (agents.Agent, error)
	Title(name string) string
}

type Memory interface {
	GetProfile(ctx context.Context, userID string) (domain.UserProfile, bool)
	GetSessionContext(ctx context.Context, userID string, limit int) domain.Session
	AppendTurn(ctx context.Context, turn domain.ConversationTurn) (string, memory.Durability)
	SetProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (domain.UserProfile, memory.Durability)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error)
}

// Orchestrator serves one travel question end to end: context, routing,
// agent fan-out, synthesis and persistence.
type Orchestrator struct {
	router      Router
	agents      AgentCatalog
	memory      Memory
	transcriber Transcriber
	logger      *zap.Logger
	now         func() time.Time

	maxContextTurns int
	maxQuestionLen  int
}

type Option func(*Orchestrator)

func WithMaxContextTurns(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxContextTurns = n
		}
	}
}

// WithMaxQuestionLength bounds the question in characters.
func WithMaxQuestionLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxQuestionLen = n
		}
	}
}

func WithTranscriber(t Transcriber) Option {
	return func(o *Orchestrator) { o.transcriber = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

type ProcessInput struct {
	User     string
	UserID   string
	Question string
}

type ProcessOutput struct {
	Response       string
	AgentsInvolved []string
	AIUsed         bool
	// ProcessingTime is the wall-clock duration of the call in seconds.
	ProcessingTime float64
	Success        bool
	// Persisted reports that both turns reached a shared tier rather than
	// process memory only.
	Persisted bool
	SessionID string
}

type AudioInput struct {
	User     string
	UserID   string
	Audio    []byte
	Filename string
	Language string
}

type AudioOutput struct {
	ProcessOutput
	Transcript string
}

func NewOrchestrator(r Router, catalog AgentCatalog, mem Memory, opts ...Option) (*Orchestrator, error) {
	if r == nil {
		return nil, errors.New("usecase: router must not be nil")
	}
	if catalog == nil {
		return nil, errors.New("usecase: agent catalog must not be nil")
	}
	if mem == nil {
		return nil, errors.New("usecase: memory store must not be nil")
	}
	o := &Orchestrator{
		router:          r,
		agents:          catalog,
		memory:          mem,
		logger:          zap.NewNop(),
		now:             time.Now,
		maxContextTurns: defaultMaxContextTurns,
		maxQuestionLen:  defaultMaxQuestion,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	return o, nil
}

// Process answers one question. The only errors returned are invalid input;
// generation and storage failures degrade the reply instead.
func (o *Orchestrator) Process(ctx context.Context, in ProcessInput) (ProcessOutput, error) {
	start := o.now()
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return ProcessOutput{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	question := strings.TrimSpace(in.Question)
	if utf8.RuneCountInString(question) > o.maxQuestionLen {
		return ProcessOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}
	logger := o.logger.With(zap.String("user_id", userID))

	session := o.memory.GetSessionContext(ctx, userID, o.maxContextTurns)
	decision := o.router.Route(question)
	selected := o.resolve(decision, logger)
	if len(selected) == 0 {
		logger.Error("routing failed", zap.Error(router.ErrNoRoute), zap.String("query", question))
		return ProcessOutput{
			Response:       routingFailureReply,
			ProcessingTime: o.now().Sub(start).Seconds(),
			Success:        false,
			SessionID:      session.SessionID,
		}, nil
	}

	responses := o.fanOut(ctx, question, session, selected, logger)
	out := o.synthesize(responses)
	out.SessionID = session.SessionID
	out.Success = true

	// Writes are detached from caller cancellation.
	pctx := context.WithoutCancel(ctx)
	out.Persisted = o.persist(pctx, userID, question, out, start)
	o.learn(pctx, userID, question, session.Profile, logger)

	out.ProcessingTime = o.now().Sub(start).Seconds()
	logger.Info("question processed",
		zap.Strings("agents", out.AgentsInvolved),
		zap.Bool("ai_used", out.AIUsed),
		zap.Bool("persisted", out.Persisted),
		zap.Float64("processing_time", out.ProcessingTime))
	return out, nil
}

// resolve turns the routed names into agents. Unknown names are dropped.
func (o *Orchestrator) resolve(decision domain.RoutingDecision, logger *zap.Logger) []agents.Agent {
	if err := router.Validate(decision); err != nil {
		return nil
	}
	selected := make([]agents.Agent, 0, len(decision.MatchedAgents))
	for _, name := range decision.MatchedAgents {
		a, err := o.agents.Get(name)
		if err != nil {
			logger.Error("routed to unknown agent", zap.String("agent", name), zap.Error(err))
			continue
		}
		selected = append(selected, a)
	}
	return selected
}

// fanOut runs the agents concurrently. Results keep router order.
func (o *Orchestrator) fanOut(ctx context.Context, question string, session domain.Session, selected []agents.Agent, logger *zap.Logger) []domain.AgentResponse {
	responses := make([]domain.AgentResponse, len(selected))
	var g errgroup.Group
	for i, a := range selected {
		i, a := i, a
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("agent panicked", zap.String("agent", a.Name()), zap.Any("panic", r))
					responses[i] = domain.AgentResponse{
						Agent: a.Name(),
						Text:  generation.Fallback(a.Name(), question),
						Error: fmt.Sprintf("panic: %v", r),
					}
				}
			}()
			responses[i] = a.Handle(ctx, question, session)
			return nil
		})
	}
	_ = g.Wait()
	return responses
}

func (o *Orchestrator) synthesize(responses []domain.AgentResponse) ProcessOutput {
	out := ProcessOutput{AgentsInvolved: make([]string, 0, len(responses))}
	sections := make([]string, 0, len(responses))
	for _, r := range responses {
		out.AgentsInvolved = append(out.AgentsInvolved, r.Agent)
		out.AIUsed = out.AIUsed || r.UsedAI
		text := strings.TrimSpace(r.Text)
		if len(responses) > 1 {
			text = "## " + o.agents.Title(r.Agent) + "\n\n" + text
		}
		sections = append(sections, text)
	}
	out.Response = strings.Join(sections, sectionSeparator)
	return out
}

func (o *Orchestrator) persist(ctx context.Context, userID, question string, out ProcessOutput, start time.Time) bool {
	userTurn := domain.ConversationTurn{
		UserID:    userID,
		Role:      domain.RoleUser,
		Text:      question,
		CreatedAt: start,
	}
	_, userDur := o.memory.AppendTurn(ctx, userTurn)

	answeredAt := o.now()
	if !answeredAt.After(start) {
		answeredAt = start.Add(time.Microsecond)
	}
	assistantTurn := domain.ConversationTurn{
		UserID: userID,
		Role:   domain.RoleAssistant,
		Text:   out.Response,
		Metadata: map[string]any{
			domain.MetaAgents:    out.AgentsInvolved,
			domain.MetaAIUsed:    out.AIUsed,
			domain.MetaSessionID: out.SessionID,
		},
		CreatedAt: answeredAt,
	}
	_, assistantDur := o.memory.AppendTurn(ctx, assistantTurn)
	return userDur != memory.ProcessOnly && assistantDur != memory.ProcessOnly
}

// learn folds what the question reveals about the traveller into their
// profile.
func (o *Orchestrator) learn(ctx context.Context, userID, question string, current *domain.UserProfile, logger *zap.Logger) {
	upd := extractInsights(question, current)
	if upd.IsEmpty() {
		return
	}
	_, durability := o.memory.SetProfile(ctx, userID, upd)
	logger.Debug("profile insights stored", zap.Stringer("durability", durability))
}

// ProcessAudio transcribes the recording and answers it like a typed
// question.
func (o *Orchestrator) ProcessAudio(ctx context.Context, in AudioInput) (AudioOutput, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return AudioOutput{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	if o.transcriber == nil {
		return AudioOutput{}, newError(ErrorTranscriptionUnavailable, "no_transcriber", nil)
	}
	text, err := o.transcriber.Transcribe(ctx, in.Audio, in.Filename, in.Language)
	switch {
	case errors.Is(err, speech.ErrInvalidAudio):
		return AudioOutput{}, newError(ErrorInvalidInput, "invalid_audio", err)
	case errors.Is(err, speech.ErrTranscriptionUnavailable):
		return AudioOutput{}, newError(ErrorTranscriptionUnavailable, "transcription_failed", err)
	case err != nil:
		return AudioOutput{}, newError(ErrorInternal, "transcription_error", err)
	}

	out, err := o.Process(ctx, ProcessInput{User: in.User, UserID: in.UserID, Question: text})
	if err != nil {
		return AudioOutput{}, err
	}
	return AudioOutput{ProcessOutput: out, Transcript: text}, nil
}
