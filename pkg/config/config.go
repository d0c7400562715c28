// Package config loads the process-wide configuration named in §6 of the
// specification from environment variables, through the injectable
// env.Provider so tests can supply a fake one instead of touching the real
// process environment.
package config

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/docker/contex/pkg/env"
)

// Config is the process-wide, load-once-at-startup configuration for the
// matching, budgeting and retention components.
type Config struct {
	SimilarityThreshold float64
	MaxMatches          int
	MaxContextSize      int
	HybridSearchEnabled bool
	RRFK                int
	VectorBoost         float64
	EmbeddingCacheTTL   time.Duration

	RetentionEventsTTL      time.Duration
	RetentionAgentInactive  time.Duration
	RetentionMaxStreamLen   int
	RetentionSnapshotMaxCnt int

	DataDir   string
	ListenAddr string
	RedisURL  string

	EmbeddingProvider string // "local" or "openai"
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string

	VectorBackend string // "sqlite" or "qdrant"
	QdrantAddr    string
}

// Defaults mirrors the spec's §4.7/§4.10/§4.12 default constants.
func Defaults() Config {
	return Config{
		SimilarityThreshold:     0.5,
		MaxMatches:              5,
		MaxContextSize:          0, // 0 means unbounded
		HybridSearchEnabled:     true,
		RRFK:                    60,
		VectorBoost:             1.0,
		EmbeddingCacheTTL:       24 * time.Hour,
		RetentionEventsTTL:      30 * 24 * time.Hour,
		RetentionAgentInactive:  24 * time.Hour,
		RetentionMaxStreamLen:   10000,
		RetentionSnapshotMaxCnt: 10,
		DataDir:                 "./data",
		ListenAddr:              ":8088",
		EmbeddingProvider:       "local",
		OpenAIModel:             "text-embedding-3-small",
		VectorBackend:           "sqlite",
	}
}

// Load reads every recognized environment variable (§6) through provider,
// applying Defaults() for anything unset; a malformed value is returned as
// an error.
func Load(ctx context.Context, provider env.Provider) (Config, error) {
	cfg := Defaults()

	if v, err := lookup(ctx, provider, "SIMILARITY_THRESHOLD"); err != nil {
		return cfg, err
	} else if v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: SIMILARITY_THRESHOLD: %w", err)
		}
		cfg.SimilarityThreshold = f
	}

	if v, err := lookupInt(ctx, provider, "MAX_MATCHES"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.MaxMatches = *v
	}

	if v, err := lookupInt(ctx, provider, "MAX_CONTEXT_SIZE"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.MaxContextSize = *v
	}

	if v, err := lookup(ctx, provider, "HYBRID_SEARCH_ENABLED"); err != nil {
		return cfg, err
	} else if v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: HYBRID_SEARCH_ENABLED: %w", err)
		}
		cfg.HybridSearchEnabled = b
	}

	if v, err := lookupInt(ctx, provider, "RRF_K"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.RRFK = *v
	}

	if v, err := lookup(ctx, provider, "VECTOR_BOOST"); err != nil {
		return cfg, err
	} else if v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("config: VECTOR_BOOST: %w", err)
		}
		cfg.VectorBoost = f
	}

	if v, err := lookupInt(ctx, provider, "EMBEDDING_CACHE_TTL"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.EmbeddingCacheTTL = time.Duration(*v) * time.Second
	}

	if v, err := lookupInt(ctx, provider, "RETENTION_EVENTS_TTL_DAYS"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.RetentionEventsTTL = time.Duration(*v) * 24 * time.Hour
	}

	if v, err := lookupInt(ctx, provider, "RETENTION_AGENT_INACTIVE_DAYS"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.RetentionAgentInactive = time.Duration(*v) * 24 * time.Hour
	}

	if v, err := lookupInt(ctx, provider, "RETENTION_MAX_STREAM_LENGTH"); err != nil {
		return cfg, err
	} else if v != nil {
		cfg.RetentionMaxStreamLen = *v
	}

	if v, err := lookup(ctx, provider, "CONTEX_DATA_DIR"); err != nil {
		return cfg, err
	} else if v != "" {
		cfg.DataDir = v
	}

	if v, err := lookup(ctx, provider, "CONTEX_LISTEN_ADDR"); err != nil {
		return cfg, err
	} else if v != "" {
		cfg.ListenAddr = v
	}

	if v, err := lookup(ctx, provider, "CONTEX_REDIS_URL"); err != nil {
		return cfg, err
	} else if v != "" {
		cfg.RedisURL = v
	}

	if v, err := lookup(ctx, provider, "CONTEX_EMBEDDING_PROVIDER"); err != nil {
		return cfg, err
	} else if v != "" {
		cfg.EmbeddingProvider = v
	}

	if v, err := lookup(ctx, provider, "OPENAI_API_KEY"); err != nil {
		return cfg, err
	} else if v != "" {
		cfg.OpenAIAPIKey = v
	}

	if v, err := lookup(ctx, provider, "OPENAI_BASE_URL"); err != nil {
		return cfg, err
	} else if v != "" {
		cfg.OpenAIBaseURL = v
	}

	if v, err := lookup(ctx, provider, "OPENAI_EMBEDDING_MODEL"); err != nil {
		return cfg, err
	} else if v != "" {
		cfg.OpenAIModel = v
	}

	if v, err := lookup(ctx, provider, "CONTEX_VECTOR_BACKEND"); err != nil {
		return cfg, err
	} else if v != "" {
		cfg.VectorBackend = v
	}

	if v, err := lookup(ctx, provider, "CONTEX_QDRANT_ADDR"); err != nil {
		return cfg, err
	} else if v != "" {
		cfg.QdrantAddr = v
	}

	return cfg, nil
}

func lookup(ctx context.Context, provider env.Provider, name string) (string, error) {
	v, err := provider.GetEnv(ctx, name)
	if err != nil {
		return "", fmt.Errorf("config: %s: %w", name, err)
	}
	return v, nil
}

func lookupInt(ctx context.Context, provider env.Provider, name string) (*int, error) {
	v, err := lookup(ctx, provider, name)
	if err != nil {
		return nil, err
	}
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", name, err)
	}
	return &n, nil
}
