package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every service setting, loaded from the environment.
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	AI     AIConfig
	Enrich EnrichConfig
	Vision VisionConfig
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

	return &Config{
		Server: server,
		Store:  loadStoreConfig(),
		AI:     ai,
		Enrich: loadEnrichConfig(),
		Vision: loadVisionConfig(),
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
		// Accept ":8080" or "127.0.0.1:8080" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// StoreConfig selects the record store backend. An empty DSN keeps chats in
// process memory.
type StoreConfig struct {
	SQLiteDSN string
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{SQLiteDSN: strings.TrimSpace(os.Getenv("SQLITE_DSN"))}
}

// AIConfig describes the upstream text-generation provider.
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	FallbackModel  string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NamedModel pairs a chat model with the identifier used in fallback chains
// and logs.
type NamedModel struct {
	Name  string
	Model model.ChatModel
}

// NewChatModels builds the ordered model list: the primary model first, then
// the optional fallback model.
func (c AIConfig) NewChatModels(ctx context.Context) ([]NamedModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing; set ARK_API_KEY + ARK_MODEL or the AK/SK pair")
	}

	names := []string{c.Model}
	if c.FallbackModel != "" && c.FallbackModel != c.Model {
		names = append(names, c.FallbackModel)
	}

	models := make([]NamedModel, 0, len(names))
	for _, name := range names {
		m, err := c.newChatModel(ctx, name)
		if err != nil {
			return nil, err
		}
		models = append(models, NamedModel{Name: name, Model: m})
	}
	return models, nil
}

func (c AIConfig) newChatModel(ctx context.Context, modelName string) (model.ChatModel, error) {
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
		Model:       modelName,
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

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		FallbackModel:  strings.TrimSpace(os.Getenv("ARK_FALLBACK_MODEL")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// EnrichConfig controls the live-search enrichment adapter.
type EnrichConfig struct {
	Enabled  bool
	Endpoint string
}

func loadEnrichConfig() EnrichConfig {
	enabled, err := parseBoolEnv("ENRICH_ENABLED", true)
	if err != nil {
		enabled = true
	}
	return EnrichConfig{
		Enabled:  enabled,
		Endpoint: getEnvOrDefault("ENRICH_SEARCH_URL", "https://html.duckduckgo.com/html/"),
	}
}

// VisionConfig controls the image-generation collaborator.
type VisionConfig struct {
	Enabled  bool
	Endpoint string
}

func loadVisionConfig() VisionConfig {
	enabled, err := parseBoolEnv("VISION_ENABLED", true)
	if err != nil {
		enabled = true
	}
	return VisionConfig{
		Enabled:  enabled,
		Endpoint: getEnvOrDefault("VISION_IMAGE_URL", "https://image.pollinations.ai/prompt/"),
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
