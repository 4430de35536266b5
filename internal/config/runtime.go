package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type EvaluatorMode string

const (
	EvaluatorRemote EvaluatorMode = "remote"
	EvaluatorLocal  EvaluatorMode = "local"
)

type Runtime struct {
	HTTPAddr          string
	EvaluatorMode     EvaluatorMode
	EvaluatorURL      string
	EvaluatorTimeout  time.Duration
	PolicyRulesFile   string
	RuleCacheMaxItems int
	FlowCacheMaxItems int
	RedisAddr         string
	RedisPrefix       string
	EvalCacheTTL      time.Duration
	FlowMaxSteps      int
	ObsBuffer         int
	LogLevel          string
}

// Load reads the runtime configuration from the environment. Values from a
// .env file in the working directory fill in variables that are not set.
func Load() Runtime {
	_ = godotenv.Load()
	return FromEnv()
}

// LoadFile is Load with an explicit .env path.
func LoadFile(path string) (Runtime, error) {
	if err := godotenv.Load(path); err != nil {
		return Runtime{}, err
	}
	return FromEnv(), nil
}

func FromEnv() Runtime {
	return Runtime{
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		EvaluatorMode:     evaluatorMode(getenv("EVALUATOR_MODE", string(EvaluatorRemote))),
		EvaluatorURL:      getenv("EVALUATOR_URL", "http://localhost:3000/api"),
		EvaluatorTimeout:  getenvDuration("EVALUATOR_TIMEOUT", 10*time.Second, time.Millisecond),
		PolicyRulesFile:   getenv("POLICY_RULES_FILE", ""),
		RuleCacheMaxItems: getenvInt("RULE_CACHE_MAX_ITEMS", 1024, 1),
		FlowCacheMaxItems: getenvInt("FLOW_CACHE_MAX_ITEMS", 256, 1),
		RedisAddr:         getenv("REDIS_ADDR", ""),
		RedisPrefix:       getenv("REDIS_PREFIX", "policyflow:eval:"),
		EvalCacheTTL:      getenvDuration("EVAL_CACHE_TTL", 10*time.Minute, time.Second),
		FlowMaxSteps:      getenvInt("FLOW_MAX_STEPS", 0, 0),
		ObsBuffer:         getenvInt("FLOW_OBS_BUFFER", 4096, 1),
		LogLevel:          getenv("LOG_LEVEL", "info"),
	}
}

func evaluatorMode(raw string) EvaluatorMode {
	if EvaluatorMode(strings.ToLower(raw)) == EvaluatorLocal {
		return EvaluatorLocal
	}
	return EvaluatorRemote
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback, min int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		return fallback
	}
	return v
}

func getenvDuration(key string, fallback, min time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < min {
		return fallback
	}
	return v
}
