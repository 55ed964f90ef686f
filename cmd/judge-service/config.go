package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/judge/controller"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/spec"
	"codejudge/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	defaultReportTopic     = "codejudge.reports"

	storeRedis  = "redis"
	storeMemory = "memory"
)

// ServerConfig holds HTTP server settings.
// WriteTimeout stays zero by default because submissions block until judged.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// GRPCConfig holds the health listener settings. An empty address disables it.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// KafkaConfig holds Kafka settings. Without brokers the queue is not used.
type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers"`
	ClientID        string        `yaml:"clientID"`
	MinBytes        int           `yaml:"minBytes"`
	MaxBytes        int           `yaml:"maxBytes"`
	MaxWait         time.Duration `yaml:"maxWait"`
	BatchSize       int           `yaml:"batchSize"`
	BatchTimeout    time.Duration `yaml:"batchTimeout"`
	DialTimeout     time.Duration `yaml:"dialTimeout"`
	RequiredAcks    int           `yaml:"requiredAcks"`
	Compression     string        `yaml:"compression"`
	SubmissionTopic string        `yaml:"submissionTopic"`
	ReportTopic     string        `yaml:"reportTopic"`
	ConsumerGroup   string        `yaml:"consumerGroup"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	DeadLetter      string        `yaml:"deadLetterTopic"`
}

// StatusConfig holds status persistence settings.
type StatusConfig struct {
	Store   string        `yaml:"store"`
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
}

// WorkerConfig holds coordinator settings.
type WorkerConfig struct {
	PoolSize       int           `yaml:"poolSize"`
	MaxPending     int           `yaml:"maxPending"`
	AcquireTimeout time.Duration `yaml:"acquireTimeout"`
	MaxSourceBytes int           `yaml:"maxSourceBytes"`
	MaxInputBytes  int           `yaml:"maxInputBytes"`
	MaxTestCases   int           `yaml:"maxTestCases"`
}

// JudgeConfig holds scratch space settings.
type JudgeConfig struct {
	WorkRoot string        `yaml:"workRoot"`
	Grace    time.Duration `yaml:"grace"`
}

// SandboxConfig holds sandbox engine settings.
type SandboxConfig struct {
	Backend          string              `yaml:"backend"`
	HelperPath       string              `yaml:"helperPath"`
	CgroupRoot       string              `yaml:"cgroupRoot"`
	SeccompDir       string              `yaml:"seccompDir"`
	DefaultSeccomp   string              `yaml:"defaultSeccomp"`
	RootDir          string              `yaml:"rootDir"`
	EnableSeccomp    bool                `yaml:"enableSeccomp"`
	EnableCgroup     bool                `yaml:"enableCgroup"`
	EnableNamespaces bool                `yaml:"enableNamespaces"`
	SandboxUID       int                 `yaml:"sandboxUid"`
	SandboxGID       int                 `yaml:"sandboxGid"`
	Docker           DockerSandboxConfig `yaml:"docker"`
}

// DockerSandboxConfig holds container backend settings.
type DockerSandboxConfig struct {
	Host         string        `yaml:"host"`
	DefaultImage string        `yaml:"defaultImage"`
	WorkDir      string        `yaml:"workDir"`
	TmpfsSize    string        `yaml:"tmpfsSize"`
	StopTimeout  time.Duration `yaml:"stopTimeout"`
}

// ProblemsConfig points at the problem catalog. An empty path disables it.
type ProblemsConfig struct {
	CatalogPath string `yaml:"catalogPath"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server    ServerConfig               `yaml:"server"`
	GRPC      GRPCConfig                 `yaml:"grpc"`
	Logger    logger.Config              `yaml:"logger"`
	Redis     cache.RedisConfig          `yaml:"redis"`
	Kafka     KafkaConfig                `yaml:"kafka"`
	Status    StatusConfig               `yaml:"status"`
	Worker    WorkerConfig               `yaml:"worker"`
	Judge     JudgeConfig                `yaml:"judge"`
	Limits    spec.ResourceLimit         `yaml:"limits"`
	Sandbox   SandboxConfig              `yaml:"sandbox"`
	Languages []profile.LanguageSpec     `yaml:"languages"`
	Problems  ProblemsConfig             `yaml:"problems"`
	RateLimit middleware.RateLimitConfig `yaml:"rateLimit"`
	CORS      middleware.CORSConfig      `yaml:"cors"`
	Watch     controller.WatchConfig     `yaml:"watch"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadDotEnv loads an optional .env file. A missing file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path, envFile string) (*AppConfig, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg, os.LookupEnv)
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployments override the settings that differ per environment.
func applyEnvOverrides(cfg *AppConfig, lookup func(string) (string, bool)) {
	set := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set("CODEJUDGE_HTTP_ADDR", &cfg.Server.Addr)
	set("CODEJUDGE_GRPC_ADDR", &cfg.GRPC.Addr)
	set("CODEJUDGE_REDIS_ADDR", &cfg.Redis.Addr)
	set("CODEJUDGE_REDIS_PASSWORD", &cfg.Redis.Password)
	set("CODEJUDGE_SANDBOX_BACKEND", &cfg.Sandbox.Backend)
	set("CODEJUDGE_STATUS_STORE", &cfg.Status.Store)
	set("CODEJUDGE_LOG_LEVEL", &cfg.Logger.Level)
	set("CODEJUDGE_PROBLEM_CATALOG", &cfg.Problems.CatalogPath)

	var brokers string
	set("CODEJUDGE_KAFKA_BROKERS", &brokers)
	if brokers != "" {
		cfg.Kafka.Brokers = cfg.Kafka.Brokers[:0]
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Status.Store == "" {
		cfg.Status.Store = storeMemory
		if cfg.Redis.Addr != "" {
			cfg.Status.Store = storeRedis
		}
	}
	if cfg.Sandbox.Backend == "" {
		cfg.Sandbox.Backend = engine.BackendProcess
	}
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.ReportTopic == "" {
		cfg.Kafka.ReportTopic = defaultReportTopic
	}
	applyRedisDefaults(&cfg.Redis)
	cfg.Limits = cfg.Limits.WithDefaults()
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

// validateConfig rejects unknown values of every enumerated option.
func validateConfig(cfg *AppConfig) error {
	switch cfg.Sandbox.Backend {
	case engine.BackendProcess, engine.BackendDocker, engine.BackendUnsupported:
	default:
		return fmt.Errorf("sandbox.backend must be one of process, docker, unsupported; got %q", cfg.Sandbox.Backend)
	}
	// Without namespaces the process backend shares the host filesystem and network.
	if cfg.Sandbox.Backend == engine.BackendProcess && !cfg.Sandbox.EnableNamespaces {
		return fmt.Errorf("sandbox.enableNamespaces must be true for the process backend")
	}
	if cfg.Sandbox.SandboxUID < 0 || cfg.Sandbox.SandboxGID < 0 {
		return fmt.Errorf("sandbox.sandboxUid and sandbox.sandboxGid must not be negative")
	}
	switch cfg.Logger.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console; got %q", cfg.Logger.Format)
	}
	if cfg.Logger.Level != "" {
		if _, err := zapcore.ParseLevel(cfg.Logger.Level); err != nil {
			return fmt.Errorf("logger.level: %w", err)
		}
	}
	switch cfg.Status.Store {
	case storeMemory:
	case storeRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when status.store is redis")
		}
	default:
		return fmt.Errorf("status.store must be redis or memory; got %q", cfg.Status.Store)
	}
	if len(cfg.Languages) == 0 {
		return fmt.Errorf("at least one language is required")
	}
	for _, lang := range cfg.Languages {
		if err := lang.Validate(); err != nil {
			return err
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		if _, err := parseCompression(cfg.Kafka.Compression); err != nil {
			return err
		}
	}
	return nil
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	compression, _ := parseCompression(k.Compression)
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  compression,
	}
}

func (k KafkaConfig) subscribeOptions(limiter mq.FetchLimiter) *mq.SubscribeOptions {
	return &mq.SubscribeOptions{
		ConsumerGroup:   k.ConsumerGroup,
		Concurrency:     k.Concurrency,
		MaxRetries:      k.MaxRetries,
		RetryDelay:      k.RetryDelay,
		DeadLetterTopic: k.DeadLetter,
		Limiter:         limiter,
	}
}

func parseCompression(raw string) (kafka.Compression, error) {
	switch strings.ToLower(raw) {
	case "", "none":
		return kafka.Compression(0), nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("kafka.compression %q is not supported", raw)
	}
}

func (s SandboxConfig) toEngineConfig() engine.Config {
	return engine.Config{
		Backend:          s.Backend,
		HelperPath:       s.HelperPath,
		CgroupRoot:       s.CgroupRoot,
		SeccompDir:       s.SeccompDir,
		RootDir:          s.RootDir,
		EnableSeccomp:    s.EnableSeccomp,
		EnableCgroup:     s.EnableCgroup,
		EnableNamespaces: s.EnableNamespaces,
		SandboxUID:       s.SandboxUID,
		SandboxGID:       s.SandboxGID,
		Docker: engine.DockerConfig{
			Host:         s.Docker.Host,
			DefaultImage: s.Docker.DefaultImage,
			WorkDir:      s.Docker.WorkDir,
			TmpfsSize:    s.Docker.TmpfsSize,
			StopTimeout:  s.Docker.StopTimeout,
		},
	}
}
