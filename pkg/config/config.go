package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	LLM       LLMConfig
	Pipeline  PipelineConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	Neo4j     Neo4jConfig
	Zilliz    ZillizConfig
	Search    SearchConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type LLMConfig struct {
	Model             string
	APIKey            string
	Temperature       float32
	MaxTokens         int
	TimeoutSec        int
	EmbeddingModel    string
	EmbeddingDim      int
	MaxRetries        int
	InitialBackoffSec float64
}

// PipelineConfig holds the tuning knobs of the risk pipeline stages.
type PipelineConfig struct {
	TemporalMaxIntervalDays float64
	TemporalMinSamples      int
	TopicMaxDistance        float64
	TopicMinSamples         int
	RepresentativeDocs      int
	TopNWords               int
	MaxSnippets             int
	Workers                 int
	EntityTypes             []string
	PromptsPath             string
	SystemPrompt            string
}

type SQLiteConfig struct {
	Enabled bool
	Path    string
}

type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Password     string
	DB           int
	EmbeddingTTL int
	ReportTTL    int
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type ZillizConfig struct {
	Enabled        bool
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
}

type SearchConfig struct {
	SerpAPIKey string
	BaseURL    string
	MaxResults int
	TimeoutSec int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/risk-engine")

	v.SetEnvPrefix("RISK_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("llm.apiKey", "RISK_ENGINE_LLM_APIKEY", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind llm api key: %w", err)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 300)
	v.SetDefault("server.bodyLimit", 20*1024*1024)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.development", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 256)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)
	v.SetDefault("llm.maxRetries", 3)
	v.SetDefault("llm.initialBackoffSec", 2)

	v.SetDefault("pipeline.temporalMaxIntervalDays", 182.5)
	v.SetDefault("pipeline.temporalMinSamples", 10)
	v.SetDefault("pipeline.topicMaxDistance", 0.35)
	v.SetDefault("pipeline.topicMinSamples", 3)
	v.SetDefault("pipeline.representativeDocs", 3)
	v.SetDefault("pipeline.topNWords", 10)
	v.SetDefault("pipeline.maxSnippets", 5)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.entityTypes", []string{"PERSON", "NORP", "FAC", "ORG", "EVENT", "LAW"})
	v.SetDefault("pipeline.promptsPath", "./config/prompt_store.yaml")
	v.SetDefault("pipeline.systemPrompt", "")

	v.SetDefault("sqlite.enabled", true)
	v.SetDefault("sqlite.path", "./data/risk.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTL", 7*24*3600)
	v.SetDefault("redis.reportTTL", 24*3600)

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("zilliz.enabled", false)
	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.collectionName", "risk_topics")
	v.SetDefault("zilliz.vectorDim", 1536)

	v.SetDefault("search.baseURL", "https://serpapi.com/search")
	v.SetDefault("search.maxResults", 50)
	v.SetDefault("search.timeoutSec", 15)

	v.SetDefault("rateLimit.requestsPerMinute", 30)
	v.SetDefault("rateLimit.burst", 5)
}
