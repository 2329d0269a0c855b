package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"travel-assistant/handler"
	"travel-assistant/internal/agents"
	"travel-assistant/internal/generation"
	"travel-assistant/internal/integrations/ollama"
	"travel-assistant/internal/integrations/openai"
	"travel-assistant/internal/integrations/paramstore"
	"travel-assistant/internal/integrations/speech"
	"travel-assistant/internal/logging"
	"travel-assistant/internal/memory"
	"travel-assistant/internal/memory/redistier"
	"travel-assistant/internal/repository"
	"travel-assistant/internal/repository/sqlstore"
	"travel-assistant/internal/router"
	"travel-assistant/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	envErr := godotenv.Load()
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if envErr != nil {
		logger.Debug("no .env file loaded", zap.Error(envErr))
	}

	h, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to wire application", zap.Error(err))
	}
	lambda.Start(h.Handle)
}

func build(ctx context.Context, cfg config, logger *zap.Logger) (*handler.Handler, error) {
	// ---- AWS SDK config ----
	var awsCfg aws.Config
	if cfg.needsAWS() {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
	}

	// ---- Generation backends ----
	var ollamaOpts []ollama.Option
	if cfg.OllamaBaseURL != "" {
		ollamaOpts = append(ollamaOpts, ollama.WithBaseURL(cfg.OllamaBaseURL))
	}
	if cfg.OllamaModel != "" {
		ollamaOpts = append(ollamaOpts, ollama.WithModel(cfg.OllamaModel))
	}
	if cfg.OllamaMaxTokens > 0 {
		ollamaOpts = append(ollamaOpts, ollama.WithMaxTokens(cfg.OllamaMaxTokens))
	}
	backends := []generation.Backend{ollama.NewClient(ollamaOpts...)}

	var openaiClient *openai.Client
	if cfg.ParamPrefix != "" {
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("create SSM client: %w", err)
		}
		openaiClient, err = openai.NewClient(ssmClient, cfg.ParamPrefix, openai.WithModel(cfg.OpenAIModel))
		if err != nil {
			return nil, fmt.Errorf("create OpenAI client: %w", err)
		}
		backends = append(backends, openaiClient)
	}

	gen := generation.New(backends, generation.Config{
		Timeout:     cfg.GenerationTimeout,
		RetryFactor: cfg.GenerationRetryFactor,
	}, logger)

	registry, err := agents.NewRegistry(gen, agents.WithTimeout(cfg.GenerationTimeout))
	if err != nil {
		return nil, fmt.Errorf("create agent registry: %w", err)
	}
	rt := router.NewDefault(router.WithMaxAgents(cfg.MaxAgents))

	// ---- Memory tiers ----
	// Absent tiers must stay untyped nil interfaces.
	var hot memory.HotTier
	if cfg.RedisURL != "" {
		tier, err := redistier.NewFromURL(cfg.RedisURL,
			redistier.WithTurnLimit(cfg.HotTurnLimit),
			redistier.WithTTLs(cfg.RedisProfileTTL, cfg.RedisTurnsTTL),
		)
		if err != nil {
			return nil, fmt.Errorf("create redis tier: %w", err)
		}
		hot = tier
	}

	var durable memory.DurableTier
	switch cfg.DurableBackend {
	case durableDynamoDB:
		client, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("create dynamodb tier: %w", err)
		}
		durable = client
	case durableMySQL, durableSQLite:
		dsn := cfg.MySQLDSN
		if cfg.DurableBackend == durableSQLite {
			dsn = cfg.SQLitePath
		}
		store, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.DurableBackend), dsn, logger)
		if err != nil {
			return nil, fmt.Errorf("open %s tier: %w", cfg.DurableBackend, err)
		}
		durable = store
	}

	mem := memory.New(hot, durable, memory.Config{
		TierTimeout:   cfg.TierTimeout,
		RetryInterval: cfg.TierRetryInterval,
		HotTurnLimit:  cfg.HotTurnLimit,
	}, logger)

	// ---- Speech-to-text ----
	var speechBackends []speech.Backend
	if openaiClient != nil {
		speechBackends = append(speechBackends, speech.NewWhisperAPI(openaiClient, nil))
	}
	if cfg.WhisperBaseURL != "" {
		speechBackends = append(speechBackends, speech.NewLocalWhisper(cfg.WhisperBaseURL, nil))
	}
	transcriber := speech.NewTranscriber(logger, speechBackends...)

	// ---- Handler ----
	orchestrator, err := usecase.NewOrchestrator(rt, registry, mem,
		usecase.WithMaxContextTurns(cfg.MaxContextTurns),
		usecase.WithMaxQuestionLength(cfg.MaxQuestionLength),
		usecase.WithTranscriber(transcriber),
		usecase.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	logger.Info("application wired",
		zap.Bool("redis", hot != nil),
		zap.String("durable", cfg.DurableBackend),
		zap.Int("generation_backends", len(backends)),
		zap.Int("speech_backends", len(speechBackends)))

	return handler.NewHandler(orchestrator,
		handler.WithStatus(mem),
		handler.WithGeneration(gen),
		handler.WithAgents(registry),
		handler.WithLogger(logger),
	)
}
