package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Milvus     MilvusConfig
	Embedding  EmbeddingConfig
	ServiceNow ServiceNowConfig
	Validation ValidationConfig
	Clustering ClusteringConfig
	SOP        SOPConfig
	Retrieval  RetrievalConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type MilvusConfig struct {
	Enabled        bool
	Endpoint       string
	CollectionName string
	VectorDim      int
}

type EmbeddingConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	Dim        int
	BatchSize  int
	TimeoutSec int
}

type ServiceNowConfig struct {
	Instance string
	Username string
	Password string
	PageSize int
	DaysBack int
}

type ValidationConfig struct {
	RequiredFields       []string
	MinDescriptionLength int
	MinResolutionLength  int
}

type ClusteringConfig struct {
	MinClusterSize      int
	MinSamples          int
	SimilarityThreshold float64
	TopKeywords         int
}

type SOPConfig struct {
	MinIncidents int
	OutputFormat string
	OutputDir    string
	MaxSteps     int
}

type RetrievalConfig struct {
	TopK                int
	MinSimilarity       float64
	MinResolutionChars  int
	MinDescriptionChars int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/sop-forge")

	viper.SetEnvPrefix("SOP_FORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 60)
	viper.SetDefault("server.bodyLimit", 10485760)

	viper.SetDefault("sqlite.path", "./data/sopforge.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("milvus.enabled", false)
	viper.SetDefault("milvus.endpoint", "localhost:19530")
	viper.SetDefault("milvus.collectionName", "incident_vectors")
	viper.SetDefault("milvus.vectorDim", 1536)

	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dim", 1536)
	viper.SetDefault("embedding.batchSize", 100)
	viper.SetDefault("embedding.timeoutSec", 30)

	viper.SetDefault("servicenow.pageSize", 100)
	viper.SetDefault("servicenow.daysBack", 90)

	viper.SetDefault("validation.requiredFields", []string{"number", "short_description"})
	viper.SetDefault("validation.minDescriptionLength", 20)
	viper.SetDefault("validation.minResolutionLength", 30)

	viper.SetDefault("clustering.minClusterSize", 5)
	viper.SetDefault("clustering.minSamples", 3)
	viper.SetDefault("clustering.similarityThreshold", 0.75)
	viper.SetDefault("clustering.topKeywords", 10)

	viper.SetDefault("sop.minIncidents", 3)
	viper.SetDefault("sop.outputFormat", "markdown")
	viper.SetDefault("sop.outputDir", "./output/sops")
	viper.SetDefault("sop.maxSteps", 20)

	viper.SetDefault("retrieval.topK", 5)
	viper.SetDefault("retrieval.minSimilarity", 0.6)
	viper.SetDefault("retrieval.minResolutionChars", 20)
	viper.SetDefault("retrieval.minDescriptionChars", 30)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
