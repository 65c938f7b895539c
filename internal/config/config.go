package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port         int
	MasterSecret string
	GinMode      string
	TLSCertFile  string
	TLSKeyFile   string

	TokenExpiry     time.Duration
	ChallengeTTL    time.Duration
	SignatureMaxAge time.Duration

	// AdminAllowlist holds the cryptographic-tier addresses permitted to
	// take moderation decisions.
	AdminAllowlist []string

	WitnessStateFile string

	GateRigorThreshold     float64
	GateArtifactsThreshold float64
	GateTelosThreshold     float64

	PostsPerHour      int
	CommentsPerHour   int
	RequestsPerMinute int
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:                   3000,
		GinMode:                "release",
		TokenExpiry:            24 * time.Hour,
		ChallengeTTL:           5 * time.Minute,
		SignatureMaxAge:        15 * time.Minute,
		GateRigorThreshold:     0.3,
		GateArtifactsThreshold: 0.5,
		GateTelosThreshold:     0.4,
		PostsPerHour:           5,
		CommentsPerHour:        20,
		RequestsPerMinute:      30,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.MasterSecret = env.Getenv("MASTER_SECRET")
	if cfg.MasterSecret == "" {
		return Config{}, fmt.Errorf("MASTER_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")
	cfg.WitnessStateFile = env.Getenv("WITNESS_STATE_FILE")

	if raw := env.Getenv("ADMIN_ALLOWLIST"); raw != "" {
		for _, addr := range strings.Split(raw, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				cfg.AdminAllowlist = append(cfg.AdminAllowlist, addr)
			}
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TOKEN_EXPIRY_SECONDS", &cfg.TokenExpiry},
		{"CHALLENGE_TTL_SECONDS", &cfg.ChallengeTTL},
		{"SIGNATURE_MAX_AGE_SECONDS", &cfg.SignatureMaxAge},
	}
	for _, d := range durations {
		if raw := env.Getenv(d.key); raw != "" {
			seconds, err := strconv.Atoi(raw)
			if err != nil || seconds <= 0 {
				return Config{}, fmt.Errorf("invalid %s", d.key)
			}
			*d.dst = time.Duration(seconds) * time.Second
		}
	}

	thresholds := []struct {
		key string
		dst *float64
	}{
		{"GATE_RIGOR_THRESHOLD", &cfg.GateRigorThreshold},
		{"GATE_ARTIFACTS_THRESHOLD", &cfg.GateArtifactsThreshold},
		{"GATE_TELOS_THRESHOLD", &cfg.GateTelosThreshold},
	}
	for _, th := range thresholds {
		if raw := env.Getenv(th.key); raw != "" {
			value, err := strconv.ParseFloat(raw, 64)
			if err != nil || value < 0 || value > 1 {
				return Config{}, fmt.Errorf("invalid %s", th.key)
			}
			*th.dst = value
		}
	}

	limits := []struct {
		key string
		dst *int
	}{
		{"RATE_POSTS_PER_HOUR", &cfg.PostsPerHour},
		{"RATE_COMMENTS_PER_HOUR", &cfg.CommentsPerHour},
		{"RATE_REQUESTS_PER_MINUTE", &cfg.RequestsPerMinute},
	}
	for _, l := range limits {
		if raw := env.Getenv(l.key); raw != "" {
			value, err := strconv.Atoi(raw)
			if err != nil || value <= 0 {
				return Config{}, fmt.Errorf("invalid %s", l.key)
			}
			*l.dst = value
		}
	}

	return cfg, nil
}
