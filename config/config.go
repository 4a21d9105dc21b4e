package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the quarry services.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Index     IndexConfig     `mapstructure:"index"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// PostgresConfig describes the authoritative relational store.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN assembles a postgres connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig describes the cache and task-queue backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// IndexConfig describes the bleve search index.
type IndexConfig struct {
	Path     string `mapstructure:"path"`      // empty means in-memory
	BatchCap int    `mapstructure:"batch_cap"` // max segments per bulk index batch
}

// EmbeddingConfig describes the embedding and completion provider.
type EmbeddingConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	CompletionModel string        `mapstructure:"completion_model"`
	Dimensions      int           `mapstructure:"dimensions"`
	BatchSize       int           `mapstructure:"batch_size"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// GraphConfig describes the external fact-extraction engine.
type GraphConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	EntityTypes  []string      `mapstructure:"entity_types"`
	RetryCeiling int           `mapstructure:"retry_ceiling"`
	MaxNodes     int           `mapstructure:"max_nodes"`
	MaxEdges     int           `mapstructure:"max_edges"`
}

// IngestConfig tunes the ingestion pipeline and worker.
type IngestConfig struct {
	SourceRoot    string `mapstructure:"source_root"` // filesystem connector root
	Stream        string `mapstructure:"stream"`
	ConsumerGroup string `mapstructure:"consumer_group"`
	ConsumerName  string `mapstructure:"consumer_name"`
}

// RetrievalConfig tunes hybrid search.
type RetrievalConfig struct {
	TopK         int           `mapstructure:"top_k"`
	CandidateCap int           `mapstructure:"candidate_cap"` // per-list candidate multiplier cap
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	RerankTopN   int           `mapstructure:"rerank_top_n"`
	RerankModel  string        `mapstructure:"rerank_model"`
}

// LoadConfig reads configuration from file and environment.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", 30*time.Second)
	viper.SetDefault("server.address", ":10011")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("index.batch_cap", 256)
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.completion_model", "gpt-4o-mini")
	viper.SetDefault("embedding.dimensions", 1536)
	viper.SetDefault("embedding.batch_size", 32)
	viper.SetDefault("embedding.timeout", 30*time.Second)
	viper.SetDefault("graph.timeout", 60*time.Second)
	viper.SetDefault("graph.retry_ceiling", 5)
	viper.SetDefault("graph.max_nodes", 20)
	viper.SetDefault("graph.max_edges", 30)
	viper.SetDefault("ingest.stream", "ingest.enqueued")
	viper.SetDefault("ingest.consumer_group", "quarry-workers")
	viper.SetDefault("retrieval.top_k", 10)
	viper.SetDefault("retrieval.candidate_cap", 3)
	viper.SetDefault("retrieval.cache_ttl", 5*time.Minute)
	viper.SetDefault("retrieval.rerank_top_n", 0)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("QUARRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// config file is optional; env and defaults carry the rest
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return &config
}
