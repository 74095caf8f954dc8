package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-interview/backend/internal/auth"
	"github.com/zhouzirui/z-interview/backend/internal/config"
	"github.com/zhouzirui/z-interview/backend/internal/handler"
	"github.com/zhouzirui/z-interview/backend/internal/model/document"
	"github.com/zhouzirui/z-interview/backend/internal/service/ai"
	"github.com/zhouzirui/z-interview/backend/internal/service/answer"
	"github.com/zhouzirui/z-interview/backend/internal/service/feedback"
	"github.com/zhouzirui/z-interview/backend/internal/service/interview"
	"github.com/zhouzirui/z-interview/backend/internal/service/questionbank"
	"github.com/zhouzirui/z-interview/backend/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("failed to load .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg.Log)

	documentStore := document.NewMemoryStore(document.Seed(cfg.Interview.DevOwner))

	// 出题来源：优先使用大模型，未配置时回退到题库
	var (
		source   interview.QuestionSource
		compiler feedback.Compiler
	)
	aiEnabled := false
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, documentStore, cfg.AI, cfg.Interview.MaxQuestions)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize AI service, falling back to the question bank")
		} else {
			source = aiService
			compiler = aiService
			aiEnabled = true
			log.Info().Int("max_questions", aiService.MaxQuestions()).Msg("AI service initialized")
		}
	} else {
		log.Info().Msg("Ark 凭证未配置，使用内置题库出题")
	}
	if source == nil {
		bank, err := loadQuestionBank(cfg.Interview)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.Interview.QuestionBank).Msg("failed to load question bank")
		}
		source = questionbank.NewSource(bank)
		log.Info().Int("questions", bank.Limit()).Msg("question bank loaded")
	}

	// Initialize Speech service
	var transcriber answer.Transcriber
	if cfg.Speech.Enabled {
		transcriber = speech.NewService(cfg.Speech.ASRConfig())
		log.Info().Msg("speech service initialized")
	} else {
		log.Info().Msg("语音服务凭证未配置，语音回答将返回 TranscriptionUnavailable")
	}
	ingester := answer.NewIngester(transcriber, answer.Config{
		Timeout:             cfg.Interview.TranscriptionTimeout,
		Language:            cfg.Speech.Language,
		RequireVoiceContent: cfg.Interview.RequireVoiceContent,
	})

	var cache feedback.Cache
	if cfg.Feedback.RedisAddr != "" {
		redisCache, err := feedback.NewRedisCache(ctx, cfg.Feedback.RedisAddr, cfg.Feedback.CacheTTL)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Feedback.RedisAddr).Msg("redis unavailable, caching feedback in memory")
		} else {
			defer redisCache.Close()
			cache = redisCache
		}
	}
	if cache == nil {
		cache = feedback.NewMemoryCache()
	}
	feedbackService := feedback.NewService(compiler, cache, feedback.Config{Timeout: cfg.Feedback.CompileTimeout})
	defer feedbackService.Close()

	sequencer := interview.NewSequencer(source,
		interview.WithQuestionTimeout(cfg.Interview.QuestionTimeout),
		interview.WithRetention(cfg.Interview.SessionRetention),
		interview.WithCompletionHook(feedbackService.Schedule),
	)
	manager := interview.NewManager(sequencer, documentStore, ingester, feedbackService)

	router := handler.NewRouter(handler.Deps{
		Documents:  documentStore,
		Interviews: manager,
		Auth: auth.Config{
			Secret: []byte(cfg.Auth.JWTSecret),
			Issuer: cfg.Auth.Issuer,
			TTL:    cfg.Auth.TokenTTL,
		},
		AuthDisabled: cfg.Auth.Disabled,
		VoiceEnabled: ingester.VoiceEnabled(),
		AIEnabled:    aiEnabled,
	})
	if cfg.Auth.Disabled {
		log.Warn().Str("header", auth.DevOwnerHeader).Msg("authentication disabled, caller identity read from header")
	}

	startServer(ctx, cfg.Server, router)
}

func loadQuestionBank(cfg config.InterviewConfig) (*questionbank.Bank, error) {
	bank := questionbank.Default()
	if cfg.QuestionBank != "" {
		loaded, err := questionbank.Load(cfg.QuestionBank)
		if err != nil {
			return nil, err
		}
		bank = loaded
	}
	return bank.WithMaxQuestions(cfg.MaxQuestions), nil
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Z Interview backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Error().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
