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

	"github.com/yearsky/nara-companion/internal/model/speech"
)

// Config aggregates every tunable of the session engine.
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Speech  speech.Config
	Session SessionConfig
	Store   StoreConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speechCfg, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Speech:  speechCfg,
		Session: session,
		Store:   loadStoreConfig(),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the chat-completion backend.
type AIConfig struct {
	Backend     string // "ark" or "http"
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	// Generic HTTP backend speaking the documented chat contract.
	ChatURL string

	StreamResponse bool
}

// Enabled reports whether a usable completion backend is configured.
func (c AIConfig) Enabled() bool {
	if c.Backend == "http" {
		return c.ChatURL != ""
	}
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds the Ark model instance used by the eino chain.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials missing: provide ARK_API_KEY + ARK_MODEL or AK/SK pair")
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

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
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

	stream, err := parseBoolEnv("AI_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	backend := getEnvOrDefault("AI_BACKEND", "ark")
	if backend != "ark" && backend != "http" {
		return AIConfig{}, fmt.Errorf("invalid AI_BACKEND value %q: want ark or http", backend)
	}

	return AIConfig{
		Backend:        backend,
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		ChatURL:        strings.TrimSpace(os.Getenv("AI_CHAT_URL")),
		StreamResponse: stream,
	}, nil
}

func loadSpeechConfig() (speech.Config, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return speech.Config{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	maxBytes, err := parseOptionalIntEnv("SPEECH_MAX_CLIP_MB")
	if err != nil {
		return speech.Config{}, err
	}
	maxClipBytes := int64(25 << 20) // provider rejects anything larger anyway
	if maxBytes != nil {
		maxClipBytes = int64(*maxBytes) << 20
	}

	return speech.Config{
		TranscribeURL: strings.TrimSpace(os.Getenv("SPEECH_TRANSCRIBE_URL")),
		APIKey:        strings.TrimSpace(os.Getenv("SPEECH_API_KEY")),
		FallbackURL:   getEnvOrDefault("SPEECH_FALLBACK_URL", "http://127.0.0.1:9000/inference"),
		SynthesizeURL: strings.TrimSpace(os.Getenv("SPEECH_SYNTHESIZE_URL")),
		Voice:         getEnvOrDefault("SPEECH_TTS_VOICE", "nara-default"),
		Language:      getEnvOrDefault("SPEECH_LANGUAGE", "id-ID"),
		MaxClipBytes:  maxClipBytes,
		Timeout:       timeoutSeconds,
	}, nil
}

// SessionConfig carries the presentation and credit policies of the engine.
// Every field maps to a named constant the shell may override.
type SessionConfig struct {
	DisposalDelay      time.Duration // debounce before a disposal pass
	MaxVisibleDesktop  int           // keepLastN on wide layouts
	MaxVisibleMobile   int           // keepLastN on narrow layouts
	TranscriptCap      int           // hard cap on the ephemeral transcript
	PacingDelay        time.Duration // artificial delay before revealing a reply
	SpeakingPerRune    time.Duration // estimated vocalization time per rune
	StartingCredits    int
	LowCreditThreshold int
	IdleGap            time.Duration // conversation boundary heuristic
}

func loadSessionConfig() (SessionConfig, error) {
	cfg := SessionConfig{
		DisposalDelay:      3 * time.Second,
		MaxVisibleDesktop:  4,
		MaxVisibleMobile:   2,
		TranscriptCap:      100,
		PacingDelay:        600 * time.Millisecond,
		SpeakingPerRune:    55 * time.Millisecond,
		StartingCredits:    10,
		LowCreditThreshold: 3,
		IdleGap:            5 * time.Minute,
	}

	overrides := []struct {
		key   string
		apply func(int)
	}{
		{"SESSION_DISPOSAL_DELAY_MS", func(v int) { cfg.DisposalDelay = time.Duration(v) * time.Millisecond }},
		{"SESSION_MAX_VISIBLE_DESKTOP", func(v int) { cfg.MaxVisibleDesktop = v }},
		{"SESSION_MAX_VISIBLE_MOBILE", func(v int) { cfg.MaxVisibleMobile = v }},
		{"SESSION_TRANSCRIPT_CAP", func(v int) { cfg.TranscriptCap = v }},
		{"SESSION_PACING_DELAY_MS", func(v int) { cfg.PacingDelay = time.Duration(v) * time.Millisecond }},
		{"SESSION_SPEAKING_MS_PER_RUNE", func(v int) { cfg.SpeakingPerRune = time.Duration(v) * time.Millisecond }},
		{"SESSION_STARTING_CREDITS", func(v int) { cfg.StartingCredits = v }},
		{"SESSION_LOW_CREDIT_THRESHOLD", func(v int) { cfg.LowCreditThreshold = v }},
		{"SESSION_IDLE_GAP_MS", func(v int) { cfg.IdleGap = time.Duration(v) * time.Millisecond }},
	}

	for _, o := range overrides {
		val, err := parseOptionalIntEnv(o.key)
		if err != nil {
			return SessionConfig{}, err
		}
		if val != nil {
			if *val < 0 {
				return SessionConfig{}, fmt.Errorf("%s must not be negative", o.key)
			}
			o.apply(*val)
		}
	}

	return cfg, nil
}

// StoreConfig locates the local sqlite file. An empty path keeps everything
// in memory.
type StoreConfig struct {
	Path string
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{Path: strings.TrimSpace(os.Getenv("STORE_PATH"))}
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
