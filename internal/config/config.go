// Package config loads the tunables the core must honor from the process
// environment, optionally preloaded from a .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ExclusiveAgentPolicy selects what happens when a second publisher tries to
// claim a stream key that already has a publisher.
type ExclusiveAgentPolicy string

const (
	ExclusiveAgentReject  ExclusiveAgentPolicy = "reject"
	ExclusiveAgentReplace ExclusiveAgentPolicy = "replace"
)

// TimeJitterMode selects the jitter-correction strategy.
type TimeJitterMode string

const (
	JitterFull TimeJitterMode = "full"
	JitterZero TimeJitterMode = "zero"
	JitterOff  TimeJitterMode = "off"
)

// Config holds every tunable named in the specification's configuration
// table, plus the ambient deployment settings the teacher reads from the
// environment.
type Config struct {
	BindAddress string
	RTMPPort    int
	SSLPort     int
	SSLCert     string
	SSLKey      string
	SSLCheckReloadSeconds int

	MaxIPConcurrentConnections uint32
	ConcurrentLimitWhitelist   string
	PlayWhitelist              string

	ChunkSize              uint32
	QueueLengthMs          int64
	GopCache               bool
	GopCacheLimitBytes     int64
	ATC                    bool
	TimeJitter             TimeJitterMode
	MixCorrect             bool
	MWLatencyMs            int64
	Publish1stPktTimeout   time.Duration
	PublishNormalTimeout   time.Duration
	PublishExclusiveAgent  ExclusiveAgentPolicy
	TCPNoDelay             bool

	JWTSecret         string
	CallbackURL       string
	CustomJWTSubject  string

	ControlBaseURL string
	ControlSecret  string

	RedisUse      bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisChannel  string
	RedisTLS      bool

	ForwardEnabled bool
	ForwardHost    string
	ForwardPort    int
	ForwardApp     string

	LogRequests bool
	LogDebug    bool
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getEnvUint32(key string, def uint32) uint32 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return def
	}
	return uint32(n)
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "YES") || strings.EqualFold(v, "true")
}

// Load reads the configuration from the environment, preloading a .env file
// if one is present in the working directory (a no-op otherwise).
func Load() *Config {
	_ = godotenv.Load()

	c := &Config{
		BindAddress: os.Getenv("BIND_ADDRESS"),
		RTMPPort:    getEnvInt("RTMP_PORT", 1935),
		SSLPort:     getEnvInt("SSL_PORT", 443),
		SSLCert:     os.Getenv("SSL_CERT"),
		SSLKey:      os.Getenv("SSL_KEY"),
		SSLCheckReloadSeconds: getEnvInt("SSL_CHECK_RELOAD_SECONDS", 60),

		MaxIPConcurrentConnections: getEnvUint32("MAX_IP_CONCURRENT_CONNECTIONS", 4),
		ConcurrentLimitWhitelist:   os.Getenv("CONCURRENT_LIMIT_WHITELIST"),
		PlayWhitelist:              os.Getenv("RTMP_PLAY_WHITELIST"),

		ChunkSize:             getEnvUint32("RTMP_CHUNK_SIZE", 60000),
		QueueLengthMs:         getEnvInt64("RTMP_QUEUE_LENGTH_MS", 30000),
		GopCache:              getEnvBool("RTMP_GOP_CACHE", true),
		GopCacheLimitBytes:    getEnvInt64("GOP_CACHE_SIZE_MB", 256) * 1024 * 1024,
		ATC:                   getEnvBool("RTMP_ATC", false),
		TimeJitter:            TimeJitterMode(orDefault(os.Getenv("RTMP_TIME_JITTER"), string(JitterFull))),
		MixCorrect:            getEnvBool("RTMP_MIX_CORRECT", false),
		MWLatencyMs:           getEnvInt64("RTMP_MW_LATENCY_MS", 350),
		Publish1stPktTimeout:  time.Duration(getEnvInt64("RTMP_PUBLISH_1STPKT_TIMEOUT_MS", 20000)) * time.Millisecond,
		PublishNormalTimeout:  time.Duration(getEnvInt64("RTMP_PUBLISH_NORMAL_TIMEOUT_MS", 5000)) * time.Millisecond,
		PublishExclusiveAgent: ExclusiveAgentPolicy(orDefault(os.Getenv("RTMP_PUBLISH_EXCLUSIVE_AGENT"), string(ExclusiveAgentReject))),
		TCPNoDelay:            getEnvBool("RTMP_TCP_NODELAY", false),

		JWTSecret:        os.Getenv("JWT_SECRET"),
		CallbackURL:      os.Getenv("CALLBACK_URL"),
		CustomJWTSubject: orDefault(os.Getenv("CUSTOM_JWT_SUBJECT"), "rtmp_event"),

		ControlBaseURL: os.Getenv("CONTROL_BASE_URL"),
		ControlSecret:  os.Getenv("CONTROL_SECRET"),

		RedisUse:      os.Getenv("REDIS_USE") == "YES",
		RedisHost:     orDefault(os.Getenv("REDIS_HOST"), "localhost"),
		RedisPort:     orDefault(os.Getenv("REDIS_PORT"), "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisChannel:  orDefault(os.Getenv("REDIS_CHANNEL"), "rtmp_commands"),
		RedisTLS:      os.Getenv("REDIS_TLS") == "YES",

		ForwardEnabled: os.Getenv("FORWARD_ENABLED") == "YES",
		ForwardHost:    os.Getenv("FORWARD_HOST"),
		ForwardPort:    getEnvInt("FORWARD_PORT", 1935),
		ForwardApp:     orDefault(os.Getenv("FORWARD_APP"), "live"),

		LogRequests: getEnvBool("LOG_REQUESTS", true),
		LogDebug:    getEnvBool("LOG_DEBUG", false),
	}

	if c.ChunkSize < 128 {
		c.ChunkSize = 128
	} else if c.ChunkSize > 65536 {
		c.ChunkSize = 65536
	}

	return c
}

func orDefault(v string, def string) string {
	if v == "" {
		return def
	}
	return v
}
