package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	speechModel "github.com/zhouzirui/z-interview/backend/internal/model/speech"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Speech    SpeechConfig
	Interview InterviewConfig
	Auth      AuthConfig
	Feedback  FeedbackConfig
	Log       LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	interview, err := loadInterviewConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	feedback, err := loadFeedbackConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		Speech:    speech,
		Interview: interview,
		Auth:      auth,
		Feedback:  feedback,
		Log:       loadLogConfig(),
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// SpeechConfig 描述语音识别服务相关配置
type SpeechConfig struct {
	AppID          string
	AccessToken    string
	Endpoint       string
	ConcurrentMode bool
	Language       string
	Timeout        time.Duration
	Enabled        bool
}

// InterviewConfig 描述面试流程相关配置
type InterviewConfig struct {
	QuestionTimeout      time.Duration
	TranscriptionTimeout time.Duration
	// SessionRetention is how long completed interviews stay in memory.
	SessionRetention     time.Duration
	MaxQuestions         int
	QuestionBank         string
	RequireVoiceContent  bool
	// DevOwner receives the seeded demo documents.
	DevOwner string
}

// AuthConfig 描述鉴权配置
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
	Disabled  bool
}

// FeedbackConfig 描述反馈编译与缓存配置
type FeedbackConfig struct {
	RedisAddr      string
	CacheTTL       time.Duration
	CompileTimeout time.Duration
}

// LogConfig 描述日志输出
type LogConfig struct {
	Level  string
	Format string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// ASRConfig converts the environment settings into the ASR client config.
func (c SpeechConfig) ASRConfig() *speechModel.SpeechConfig {
	return &speechModel.SpeechConfig{
		AppID:          c.AppID,
		AccessToken:    c.AccessToken,
		Endpoint:       c.Endpoint,
		ConcurrentMode: c.ConcurrentMode,
		Language:       c.Language,
		Timeout:        c.Timeout,
	}
}

// LoadSpeech 仅加载语音配置，供命令行工具使用。
func LoadSpeech() (SpeechConfig, error) {
	return loadSpeechConfig()
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseDurationEnv("SPEECH_TIMEOUT", 30*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}

	concurrent, err := parseBoolEnv("SPEECH_CONCURRENT_MODE", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	}

	return SpeechConfig{
		AppID:          appID,
		AccessToken:    accessToken,
		Endpoint:       getEnvOrDefault("SPEECH_ASR_ENDPOINT", ""),
		ConcurrentMode: concurrent,
		Language:       getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		Timeout:        timeout,
		Enabled:        appID != "" && accessToken != "",
	}, nil
}

func loadInterviewConfig() (InterviewConfig, error) {
	questionTimeout, err := parseDurationEnv("INTERVIEW_QUESTION_TIMEOUT", 30*time.Second)
	if err != nil {
		return InterviewConfig{}, err
	}

	transcriptionTimeout, err := parseDurationEnv("INTERVIEW_TRANSCRIPTION_TIMEOUT", 45*time.Second)
	if err != nil {
		return InterviewConfig{}, err
	}

	retention, err := parseDurationEnv("INTERVIEW_SESSION_RETENTION", 24*time.Hour)
	if err != nil {
		return InterviewConfig{}, err
	}

	maxQuestions := 5
	if override, err := parseOptionalIntEnv("INTERVIEW_MAX_QUESTIONS"); err != nil {
		return InterviewConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return InterviewConfig{}, fmt.Errorf("invalid INTERVIEW_MAX_QUESTIONS value %d: must be positive", *override)
		}
		maxQuestions = *override
	}

	requireVoice, err := parseBoolEnv("INTERVIEW_REQUIRE_VOICE_CONTENT", false)
	if err != nil {
		return InterviewConfig{}, err
	}

	return InterviewConfig{
		QuestionTimeout:      questionTimeout,
		TranscriptionTimeout: transcriptionTimeout,
		SessionRetention:     retention,
		MaxQuestions:         maxQuestions,
		QuestionBank:         getEnvOrDefault("INTERVIEW_QUESTION_BANK", ""),
		RequireVoiceContent:  requireVoice,
		DevOwner:             getEnvOrDefault("INTERVIEW_DEV_OWNER", "anonymous"),
	}, nil
}

func loadAuthConfig() (AuthConfig, error) {
	disabled, err := parseBoolEnv("AUTH_DISABLED", false)
	if err != nil {
		return AuthConfig{}, err
	}

	ttl, err := parseDurationEnv("AUTH_TOKEN_TTL", 12*time.Hour)
	if err != nil {
		return AuthConfig{}, err
	}

	secret := strings.TrimSpace(os.Getenv("AUTH_JWT_SECRET"))
	if !disabled && len(secret) < 32 {
		return AuthConfig{}, fmt.Errorf("AUTH_JWT_SECRET must be at least 32 bytes, or set AUTH_DISABLED=true for local development")
	}

	return AuthConfig{
		JWTSecret: secret,
		Issuer:    getEnvOrDefault("AUTH_ISSUER", "z-interview"),
		TokenTTL:  ttl,
		Disabled:  disabled,
	}, nil
}

func loadFeedbackConfig() (FeedbackConfig, error) {
	ttl, err := parseDurationEnv("FEEDBACK_CACHE_TTL", 24*time.Hour)
	if err != nil {
		return FeedbackConfig{}, err
	}

	timeout, err := parseDurationEnv("FEEDBACK_COMPILE_TIMEOUT", 60*time.Second)
	if err != nil {
		return FeedbackConfig{}, err
	}

	return FeedbackConfig{
		RedisAddr:      getEnvOrDefault("REDIS_ADDR", ""),
		CacheTTL:       ttl,
		CompileTimeout: timeout,
	}, nil
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "console")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv accepts Go durations ("45s") or bare seconds ("45").
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}
