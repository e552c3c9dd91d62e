package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const configFileEnv = "ARVIZ_AGENT_CONFIG_FILE"

type Config struct {
	Server        ServerConfig     `yaml:"server"`
	Auth          AuthConfig       `yaml:"auth"`
	RateLimit     RateLimitConfig  `yaml:"rate_limit"`
	Storage       StorageConfig    `yaml:"storage"`
	Game          GameConfig       `yaml:"game"`
	Simulation    SimulationConfig `yaml:"simulation"`
	Observability ObsConfig        `yaml:"observability"`
}

type ServerConfig struct {
	ListenAddr           string `yaml:"listen_addr"`
	Version              string `yaml:"version"`
	ReadTimeoutSeconds   int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds  int    `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds   int    `yaml:"idle_timeout_seconds"`
	HealthPublic         bool   `yaml:"health_public"`
	TLSCertFile          string `yaml:"tls_cert_file"`
	TLSKeyFile           string `yaml:"tls_key_file"`
	TLSClientCAFile      string `yaml:"tls_client_ca_file"`
	TLSRequireClientCert bool   `yaml:"tls_require_client_cert"`
}

type AuthConfig struct {
	Mode            string `yaml:"mode"`
	BearerToken     string `yaml:"bearer_token"`
	HMACSecret      string `yaml:"hmac_secret"`
	HMACSkewSeconds int    `yaml:"hmac_skew_seconds"`
	NonceTTLSeconds int    `yaml:"nonce_ttl_seconds"`
	JWTSecret       string `yaml:"jwt_secret"`
	JWTIssuer       string `yaml:"jwt_issuer"`
}

type RateLimitConfig struct {
	Enabled     bool    `yaml:"enabled"`
	GlobalRPS   float64 `yaml:"global_rps"`
	GlobalBurst int     `yaml:"global_burst"`
	PerIPRPS    float64 `yaml:"per_ip_rps"`
	PerIPBurst  int     `yaml:"per_ip_burst"`
}

type StorageConfig struct {
	Backend         string `yaml:"backend"`
	Profile         string `yaml:"profile"`
	StateFile       string `yaml:"state_file"`
	RedisURL        string `yaml:"redis_url"`
	RedisTTLSeconds int    `yaml:"redis_ttl_seconds"`
}

// GameConfig describes the remote simulation API and the defaults used when
// a start request does not name its agents or step ceiling.
type GameConfig struct {
	BaseURL               string `yaml:"base_url"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	UserAgent             string `yaml:"user_agent"`
	RedAgent              string `yaml:"red_agent"`
	BlueAgent             string `yaml:"blue_agent"`
	MaxSteps              int    `yaml:"max_steps"`
}

type SimulationConfig struct {
	Mode                  string   `yaml:"mode"`
	Image                 string   `yaml:"image"`
	ImageAllowPrefixes    []string `yaml:"image_allow_prefixes"`
	PullImage             bool     `yaml:"pull_image"`
	ContainerName         string   `yaml:"container_name"`
	NetworkName           string   `yaml:"network_name"`
	Port                  int      `yaml:"port"`
	ContainerMemoryBytes  int64    `yaml:"container_memory_bytes"`
	ContainerCPUCores     float64  `yaml:"container_cpu_cores"`
	ContainerPidsLimit    int64    `yaml:"container_pids_limit"`
	StartupTimeoutSeconds int      `yaml:"startup_timeout_seconds"`
}

type ObsConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsPath string `yaml:"metrics_path"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:          "127.0.0.1:9400",
			Version:             "dev",
			ReadTimeoutSeconds:  10,
			WriteTimeoutSeconds: 60,
			IdleTimeoutSeconds:  60,
			HealthPublic:        true,
		},
		Auth: AuthConfig{
			Mode:            "none",
			HMACSkewSeconds: 300,
			NonceTTLSeconds: 360,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			GlobalRPS:   50,
			GlobalBurst: 100,
			PerIPRPS:    10,
			PerIPBurst:  20,
		},
		Storage: StorageConfig{
			Backend:         "file",
			Profile:         "default",
			StateFile:       defaultStateFile(),
			RedisTTLSeconds: 24 * 60 * 60,
		},
		Game: GameConfig{
			BaseURL:               "https://justinyeh1995.com",
			RequestTimeoutSeconds: 30,
			UserAgent:             "arviz-agent",
			RedAgent:              "B_lineAgent",
			BlueAgent:             "BlueRemove",
			MaxSteps:              10,
		},
		Simulation: SimulationConfig{
			Mode:                  "remote",
			Image:                 "ghcr.io/cyborg-arviz/cyborg-api:latest",
			ImageAllowPrefixes:    []string{"ghcr.io/"},
			PullImage:             true,
			ContainerName:         "arviz-cyborg-api",
			NetworkName:           "arviz-sim",
			Port:                  8000,
			ContainerMemoryBytes:  2 * 1024 * 1024 * 1024,
			ContainerCPUCores:     2.0,
			ContainerPidsLimit:    512,
			StartupTimeoutSeconds: 60,
		},
		Observability: ObsConfig{LogLevel: "info", MetricsPath: "/metrics"},
	}
}

func defaultStateFile() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return dir + "/arviz-agent/session.json"
	}
	return ".arviz-agent/session.json"
}

// Load builds the effective configuration. Precedence, lowest first:
// defaults, YAML file, .env in the working directory, process environment.
// An empty configFile falls back to ARVIZ_AGENT_CONFIG_FILE.
func Load(configFile string) (Config, error) {
	cfg := Default()

	if err := loadDotEnv(".env"); err != nil {
		return cfg, err
	}
	if configFile == "" {
		configFile = os.Getenv(configFileEnv)
	}
	if configFile != "" {
		if err := loadYAML(&cfg, configFile); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadDotEnv never overrides variables already present in the environment.
func loadDotEnv(file string) error {
	if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(file); err != nil {
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

func loadYAML(cfg *Config, file string) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "ARVIZ_AGENT_LISTEN_ADDR")
	setString(&cfg.Server.Version, "ARVIZ_AGENT_VERSION")
	setInt(&cfg.Server.ReadTimeoutSeconds, "ARVIZ_AGENT_READ_TIMEOUT_SECONDS")
	setInt(&cfg.Server.WriteTimeoutSeconds, "ARVIZ_AGENT_WRITE_TIMEOUT_SECONDS")
	setInt(&cfg.Server.IdleTimeoutSeconds, "ARVIZ_AGENT_IDLE_TIMEOUT_SECONDS")
	setBool(&cfg.Server.HealthPublic, "ARVIZ_AGENT_HEALTH_PUBLIC")
	setString(&cfg.Server.TLSCertFile, "ARVIZ_AGENT_TLS_CERT_FILE")
	setString(&cfg.Server.TLSKeyFile, "ARVIZ_AGENT_TLS_KEY_FILE")
	setString(&cfg.Server.TLSClientCAFile, "ARVIZ_AGENT_TLS_CLIENT_CA_FILE")
	setBool(&cfg.Server.TLSRequireClientCert, "ARVIZ_AGENT_TLS_REQUIRE_CLIENT_CERT")

	setString(&cfg.Auth.Mode, "ARVIZ_AGENT_AUTH_MODE")
	setString(&cfg.Auth.BearerToken, "ARVIZ_AGENT_TOKEN")
	setString(&cfg.Auth.HMACSecret, "ARVIZ_AGENT_HMAC_SECRET")
	setInt(&cfg.Auth.HMACSkewSeconds, "ARVIZ_AGENT_HMAC_SKEW_SECONDS")
	setInt(&cfg.Auth.NonceTTLSeconds, "ARVIZ_AGENT_NONCE_TTL_SECONDS")
	setString(&cfg.Auth.JWTSecret, "ARVIZ_AGENT_JWT_SECRET")
	setString(&cfg.Auth.JWTIssuer, "ARVIZ_AGENT_JWT_ISSUER")

	setBool(&cfg.RateLimit.Enabled, "ARVIZ_AGENT_RATE_LIMIT_ENABLED")
	setFloat64(&cfg.RateLimit.GlobalRPS, "ARVIZ_AGENT_RATE_LIMIT_GLOBAL_RPS")
	setInt(&cfg.RateLimit.GlobalBurst, "ARVIZ_AGENT_RATE_LIMIT_GLOBAL_BURST")
	setFloat64(&cfg.RateLimit.PerIPRPS, "ARVIZ_AGENT_RATE_LIMIT_PER_IP_RPS")
	setInt(&cfg.RateLimit.PerIPBurst, "ARVIZ_AGENT_RATE_LIMIT_PER_IP_BURST")

	setString(&cfg.Storage.Backend, "ARVIZ_AGENT_STORAGE_BACKEND")
	setString(&cfg.Storage.Profile, "ARVIZ_AGENT_PROFILE")
	setString(&cfg.Storage.StateFile, "ARVIZ_AGENT_STATE_FILE")
	setString(&cfg.Storage.RedisURL, "REDIS_URL")
	setInt(&cfg.Storage.RedisTTLSeconds, "ARVIZ_AGENT_REDIS_TTL_SECONDS")

	setString(&cfg.Game.BaseURL, "ARVIZ_AGENT_GAME_BASE_URL")
	setInt(&cfg.Game.RequestTimeoutSeconds, "ARVIZ_AGENT_GAME_TIMEOUT_SECONDS")
	setString(&cfg.Game.UserAgent, "ARVIZ_AGENT_USER_AGENT")
	setString(&cfg.Game.RedAgent, "ARVIZ_AGENT_RED_AGENT")
	setString(&cfg.Game.BlueAgent, "ARVIZ_AGENT_BLUE_AGENT")
	setInt(&cfg.Game.MaxSteps, "ARVIZ_AGENT_MAX_STEPS")

	setString(&cfg.Simulation.Mode, "ARVIZ_AGENT_SIM_MODE")
	setString(&cfg.Simulation.Image, "ARVIZ_AGENT_SIM_IMAGE")
	setCSV(&cfg.Simulation.ImageAllowPrefixes, "ARVIZ_AGENT_SIM_IMAGE_ALLOW_PREFIXES")
	setBool(&cfg.Simulation.PullImage, "ARVIZ_AGENT_SIM_PULL_IMAGE")
	setString(&cfg.Simulation.ContainerName, "ARVIZ_AGENT_SIM_CONTAINER_NAME")
	setString(&cfg.Simulation.NetworkName, "ARVIZ_AGENT_SIM_NETWORK_NAME")
	setInt(&cfg.Simulation.Port, "ARVIZ_AGENT_SIM_PORT")
	setInt64(&cfg.Simulation.ContainerMemoryBytes, "ARVIZ_AGENT_SIM_MEMORY_BYTES")
	setFloat64(&cfg.Simulation.ContainerCPUCores, "ARVIZ_AGENT_SIM_CPU_CORES")
	setInt64(&cfg.Simulation.ContainerPidsLimit, "ARVIZ_AGENT_SIM_PIDS_LIMIT")
	setInt(&cfg.Simulation.StartupTimeoutSeconds, "ARVIZ_AGENT_SIM_STARTUP_TIMEOUT_SECONDS")

	setString(&cfg.Observability.LogLevel, "ARVIZ_AGENT_LOG_LEVEL")
	setString(&cfg.Observability.MetricsPath, "ARVIZ_AGENT_METRICS_PATH")
}

func validate(cfg Config) error {
	if cfg.Server.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Game.MaxSteps < 1 {
		return errors.New("max steps must be >= 1")
	}
	if cfg.Game.RequestTimeoutSeconds <= 0 {
		return errors.New("game request timeout must be > 0")
	}
	if strings.EqualFold(cfg.Simulation.Mode, "remote") {
		u, err := url.Parse(cfg.Game.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid game base url: %q", cfg.Game.BaseURL)
		}
	}
	switch strings.ToLower(cfg.Simulation.Mode) {
	case "remote":
	case "docker":
		if cfg.Simulation.Image == "" {
			return errors.New("simulation image is required in docker mode")
		}
		if cfg.Simulation.Port <= 0 {
			return errors.New("simulation port must be > 0")
		}
	default:
		return fmt.Errorf("invalid simulation mode: %s", cfg.Simulation.Mode)
	}
	switch strings.ToLower(cfg.Storage.Backend) {
	case "file":
		if cfg.Storage.StateFile == "" {
			return errors.New("state file is required for file storage")
		}
	case "redis":
		if cfg.Storage.RedisURL == "" {
			return errors.New("REDIS_URL is required for redis storage")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s", cfg.Storage.Backend)
	}
	if cfg.Storage.Profile == "" {
		return errors.New("storage profile is required")
	}
	mode := strings.ToLower(cfg.Auth.Mode)
	switch mode {
	case "none", "bearer", "hmac", "jwt", "either":
	default:
		return fmt.Errorf("invalid auth mode: %s", cfg.Auth.Mode)
	}
	if mode == "bearer" && cfg.Auth.BearerToken == "" {
		return errors.New("ARVIZ_AGENT_TOKEN is required in bearer mode")
	}
	if mode == "hmac" && cfg.Auth.HMACSecret == "" {
		return errors.New("ARVIZ_AGENT_HMAC_SECRET is required in hmac mode")
	}
	if mode == "jwt" && cfg.Auth.JWTSecret == "" {
		return errors.New("ARVIZ_AGENT_JWT_SECRET is required in jwt mode")
	}
	if mode == "either" && cfg.Auth.BearerToken == "" && cfg.Auth.HMACSecret == "" && cfg.Auth.JWTSecret == "" {
		return errors.New("either mode requires at least one auth secret (token, hmac or jwt)")
	}
	if cfg.Auth.HMACSkewSeconds <= 0 {
		return errors.New("hmac skew must be > 0")
	}
	if cfg.Auth.NonceTTLSeconds < cfg.Auth.HMACSkewSeconds+60 {
		return errors.New("nonce ttl must be >= hmac skew + 60 seconds")
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.GlobalRPS <= 0 || cfg.RateLimit.GlobalBurst <= 0 {
			return errors.New("global rate limit values must be > 0")
		}
		if cfg.RateLimit.PerIPRPS <= 0 || cfg.RateLimit.PerIPBurst <= 0 {
			return errors.New("per-ip rate limit values must be > 0")
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
func setCSV(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if p, err := strconv.ParseBool(v); err == nil {
			*dst = p
		}
	}
}
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			*dst = p
		}
	}
}
func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if p, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = p
		}
	}
}
func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = p
		}
	}
}
