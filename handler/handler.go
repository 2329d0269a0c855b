// Package handler adapts API Gateway proxy events to the orchestrator.
package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"travel-assistant/internal/domain"
	"travel-assistant/internal/generation"
	"travel-assistant/internal/memory"
	"travel-assistant/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type UseCase interface {
	Process(ctx context.Context, in usecase.ProcessInput) (usecase.ProcessOutput, error)
	ProcessAudio(ctx context.Context, in usecase.AudioInput) (usecase.AudioOutput, error)
	GetProfile(ctx context.Context, userID string) (domain.UserProfile, error)
	UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (usecase.ProfileOutput, error)
	GetSession(ctx context.Context, userID string, limit int) (domain.Session, error)
}

type StatusReporter interface {
	Status() memory.TierStatus
}

type GenerationStatus interface {
	Status(ctx context.Context) generation.Status
}

type AgentLister interface {
	Names() []string
	Title(name string) string
}

type Handler struct {
	uc         UseCase
	status     StatusReporter
	generation GenerationStatus
	agents     AgentLister
	logger     *zap.Logger
}

type Option func(*Handler)

func WithStatus(s StatusReporter) Option {
	return func(h *Handler) { h.status = s }
}

func WithGeneration(g GenerationStatus) Option {
	return func(h *Handler) { h.generation = g }
}

func WithAgents(a AgentLister) Option {
	return func(h *Handler) { h.agents = a }
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(uc UseCase, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	h := &Handler{uc: uc, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.Named("handler")
	return h, nil
}

// userID accepts both JSON strings and numbers.
type userID string

func (u *userID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*u = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*u = userID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user_id must be a string or number: %w", err)
	}
	*u = userID(n.String())
	return nil
}

type processRequest struct {
	User     string `json:"user"`
	UserID   userID `json:"user_id"`
	Question string `json:"question"`
}

type processResponse struct {
	Response       string   `json:"response"`
	AgentsInvolved []string `json:"agents_involved"`
	AIUsed         bool     `json:"ai_used"`
	ProcessingTime float64  `json:"processing_time"`
	Success        bool     `json:"success"`
	Persisted      bool     `json:"persisted"`
	SessionID      string   `json:"session_id"`
	Transcript     string   `json:"transcript,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Memory memory.TierStatus `json:"memory"`
	Time   string            `json:"time"`
}

type agentInfo struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// profileUpdateRequest is a partial profile: absent or null fields are kept,
// an empty list clears the field.
type profileUpdateRequest struct {
	DestinationsOfInterest []string           `json:"destinations_of_interest"`
	TravelPace             *domain.TravelPace `json:"travel_pace"`
	ActivityPreferences    []string           `json:"activity_preferences"`
}

type profileResponse struct {
	UserID                 string   `json:"user_id"`
	DestinationsOfInterest []string `json:"destinations_of_interest"`
	TravelPace             string   `json:"travel_pace,omitempty"`
	ActivityPreferences    []string `json:"activity_preferences"`
	LastUpdated            string   `json:"last_updated"`
	Durability             string   `json:"durability,omitempty"`
}

type turnResponse struct {
	TurnID    string         `json:"turn_id"`
	Role      string         `json:"role"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

type sessionResponse struct {
	SessionID string           `json:"session_id"`
	UserID    string           `json:"user_id"`
	Turns     []turnResponse   `json:"turns"`
	Profile   *profileResponse `json:"profile,omitempty"`
}

type generationResponse struct {
	Available bool     `json:"available"`
	Selected  string   `json:"selected,omitempty"`
	Backends  []string `json:"backends"`
	Status    string   `json:"status"`
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	logger := h.logger.With(zap.String("correlation_id", corrID))

	method := strings.ToUpper(req.HTTPMethod)
	path := "/" + strings.Trim(req.Path, "/")
	var resp events.APIGatewayProxyResponse
	switch {
	case path == "/health" || path == "/ping":
		resp = h.onlyGet(method, h.health)
	case path == "/agents":
		resp = h.onlyGet(method, h.listAgents)
	case path == "/process" || path == "/ask" || path == "/perfect_query":
		resp = h.onlyPost(method, func() events.APIGatewayProxyResponse { return h.process(ctx, req, logger) })
	case path == "/process/audio":
		resp = h.onlyPost(method, func() events.APIGatewayProxyResponse { return h.processAudio(ctx, req, logger) })
	case path == "/api/generation/status" || path == "/api/ollama/status":
		resp = h.onlyGet(method, func() events.APIGatewayProxyResponse { return h.generationStatus(ctx) })
	case strings.HasPrefix(path, "/profile/"):
		resp = h.profile(ctx, method, req, strings.TrimPrefix(path, "/profile/"), logger)
	case strings.HasPrefix(path, "/sessions/"):
		resp = h.onlyGet(method, func() events.APIGatewayProxyResponse {
			return h.session(ctx, req, strings.TrimPrefix(path, "/sessions/"), logger)
		})
	default:
		resp = notFound()
	}
	resp.Headers[correlationHeader] = corrID
	logger.Debug("request served",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))
	return resp, nil
}

func (h *Handler) onlyGet(method string, fn func() events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if method != http.MethodGet {
		return methodNotAllowed()
	}
	return fn()
}

func (h *Handler) onlyPost(method string, fn func() events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if method != http.MethodPost {
		return methodNotAllowed()
	}
	return fn()
}

func notFound() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: "unknown route"})
}

func methodNotAllowed() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
}

func (h *Handler) process(ctx context.Context, req events.APIGatewayProxyRequest, logger *zap.Logger) events.APIGatewayProxyResponse {
	body, err := requestBody(req)
	if err != nil {
		return invalidBody(err)
	}
	var in processRequest
	if err := decodeStrict(body, &in); err != nil {
		return invalidBody(err)
	}

	out, err := h.uc.Process(ctx, usecase.ProcessInput{User: in.User, UserID: string(in.UserID), Question: in.Question})
	if err != nil {
		return h.errorResponse(err, logger)
	}
	return jsonResponse(http.StatusOK, toResponse(out, ""))
}

// processAudio takes the raw recording as the body. The filename, user and
// language travel as query parameters.
func (h *Handler) processAudio(ctx context.Context, req events.APIGatewayProxyRequest, logger *zap.Logger) events.APIGatewayProxyResponse {
	audio, err := requestBody(req)
	if err != nil {
		return invalidBody(err)
	}
	q := req.QueryStringParameters
	out, err := h.uc.ProcessAudio(ctx, usecase.AudioInput{
		User:     q["user"],
		UserID:   q["user_id"],
		Audio:    audio,
		Filename: q["filename"],
		Language: q["language"],
	})
	if err != nil {
		return h.errorResponse(err, logger)
	}
	return jsonResponse(http.StatusOK, toResponse(out.ProcessOutput, out.Transcript))
}

func (h *Handler) profile(ctx context.Context, method string, req events.APIGatewayProxyRequest, id string, logger *zap.Logger) events.APIGatewayProxyResponse {
	if id == "" || strings.Contains(id, "/") {
		return notFound()
	}
	switch method {
	case http.MethodGet:
		p, err := h.uc.GetProfile(ctx, id)
		if err != nil {
			return h.errorResponse(err, logger)
		}
		return jsonResponse(http.StatusOK, toProfileResponse(p, ""))
	case http.MethodPut:
		body, err := requestBody(req)
		if err != nil {
			return invalidBody(err)
		}
		var in profileUpdateRequest
		if err := decodeStrict(body, &in); err != nil {
			return invalidBody(err)
		}
		out, err := h.uc.UpdateProfile(ctx, id, domain.ProfileUpdate{
			DestinationsOfInterest: in.DestinationsOfInterest,
			TravelPace:             in.TravelPace,
			ActivityPreferences:    in.ActivityPreferences,
		})
		if err != nil {
			return h.errorResponse(err, logger)
		}
		return jsonResponse(http.StatusOK, toProfileResponse(out.Profile, out.Durability.String()))
	default:
		return methodNotAllowed()
	}
}

func (h *Handler) session(ctx context.Context, req events.APIGatewayProxyRequest, id string, logger *zap.Logger) events.APIGatewayProxyResponse {
	if id == "" || strings.Contains(id, "/") {
		return notFound()
	}
	limit := 0
	if v := strings.TrimSpace(req.QueryStringParameters["limit"]); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return jsonResponse(http.StatusBadRequest, errorResponse{
				Error:   string(usecase.ErrorInvalidInput),
				Message: "limit must be an integer",
			})
		}
		limit = n
	}
	s, err := h.uc.GetSession(ctx, id, limit)
	if err != nil {
		return h.errorResponse(err, logger)
	}
	out := sessionResponse{SessionID: s.SessionID, UserID: s.UserID, Turns: make([]turnResponse, 0, len(s.Turns))}
	for _, t := range s.Turns {
		out.Turns = append(out.Turns, turnResponse{
			TurnID:    t.TurnID,
			Role:      string(t.Role),
			Text:      t.Text,
			Metadata:  t.Metadata,
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	if s.Profile != nil {
		p := toProfileResponse(*s.Profile, "")
		out.Profile = &p
	}
	return jsonResponse(http.StatusOK, out)
}

func (h *Handler) generationStatus(ctx context.Context) events.APIGatewayProxyResponse {
	var st generation.Status
	if h.generation != nil {
		st = h.generation.Status(ctx)
	}
	resp := generationResponse{
		Available: st.Available,
		Selected:  st.Selected,
		Backends:  st.Backends,
		Status:    "disconnected",
	}
	if resp.Backends == nil {
		resp.Backends = []string{}
	}
	if st.Available {
		resp.Status = "connected"
	}
	return jsonResponse(http.StatusOK, resp)
}

func toProfileResponse(p domain.UserProfile, durability string) profileResponse {
	out := profileResponse{
		UserID:                 p.UserID,
		DestinationsOfInterest: p.DestinationsOfInterest,
		TravelPace:             string(p.TravelPace),
		ActivityPreferences:    p.ActivityPreferences,
		Durability:             durability,
	}
	if out.DestinationsOfInterest == nil {
		out.DestinationsOfInterest = []string{}
	}
	if out.ActivityPreferences == nil {
		out.ActivityPreferences = []string{}
	}
	if !p.LastUpdated.IsZero() {
		out.LastUpdated = p.LastUpdated.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (h *Handler) health() events.APIGatewayProxyResponse {
	resp := healthResponse{Status: "ok", Time: time.Now().UTC().Format(time.RFC3339)}
	if h.status != nil {
		resp.Memory = h.status.Status()
	}
	return jsonResponse(http.StatusOK, resp)
}

func (h *Handler) listAgents() events.APIGatewayProxyResponse {
	out := []agentInfo{}
	if h.agents != nil {
		for _, n := range h.agents.Names() {
			out = append(out, agentInfo{Name: n, Title: h.agents.Title(n)})
		}
	}
	return jsonResponse(http.StatusOK, out)
}

func toResponse(out usecase.ProcessOutput, transcript string) processResponse {
	agents := out.AgentsInvolved
	if agents == nil {
		agents = []string{}
	}
	return processResponse{
		Response:       out.Response,
		AgentsInvolved: agents,
		AIUsed:         out.AIUsed,
		ProcessingTime: out.ProcessingTime,
		Success:        out.Success,
		Persisted:      out.Persisted,
		SessionID:      out.SessionID,
		Transcript:     transcript,
	}
}

func (h *Handler) errorResponse(err error, logger *zap.Logger) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		logger.Error("unexpected use case error", zap.Error(err))
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Message: "internal error"})
	}
	status := statusFor(ucErr.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", string(ucErr.Code)), zap.String("reason", ucErr.Reason), zap.Error(ucErr.Err))
	} else {
		logger.Info("request rejected", zap.String("code", string(ucErr.Code)), zap.String("reason", ucErr.Reason))
	}
	return jsonResponse(status, errorResponse{Error: string(ucErr.Code), Message: ucErr.Reason})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorTranscriptionUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func invalidBody(err error) events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusBadRequest, errorResponse{
		Error:   string(usecase.ErrorInvalidInput),
		Message: "invalid request body: " + err.Error(),
	})
}

// decodeStrict decodes exactly one JSON value with no unknown fields.
func decodeStrict(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after JSON body")
	}
	return nil
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	b, err := base64.StdEncoding.DecodeString(req.Body)
	if err != nil {
		return nil, fmt.Errorf("decode base64 body: %w", err)
	}
	return b, nil
}

func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","message":"encode response"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
