package globals

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	MongoURI      string
	MongoDB       string
	RedisURL      string
	JWTSecret     string
	PublicBaseURL string

	ChatEndpoint string
	ChatAPIKey   string
	ChatModel    string

	// memory | bolt | redis
	StoreBackend string
	BoltPath     string
	// local | redis
	RealtimeBackend string

	LocalDebounce      time.Duration
	CollabDebounce     time.Duration
	DefaultDestination string
}

// LoadConfig reads .env when present and falls back to defaults for anything unset.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found; using system environment")
	}

	port := getenv("PORT", ":8080")
	if port[0] != ':' {
		port = ":" + port
	}

	cfg := Config{
		Port:               port,
		MongoURI:           getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:            getenv("MONGO_DB", "tripsync"),
		RedisURL:           getenv("REDIS_URL", "localhost:6379"),
		JWTSecret:          getenv("JWT_SECRET", string(JwtSecret)),
		PublicBaseURL:      getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		ChatEndpoint:       getenv("CHAT_ENDPOINT", "https://api.openai.com/v1/chat/completions"),
		ChatAPIKey:         os.Getenv("CHAT_API_KEY"),
		ChatModel:          getenv("CHAT_MODEL", "gpt-4o-mini"),
		StoreBackend:       getenv("STORE_BACKEND", "memory"),
		BoltPath:           getenv("BOLT_PATH", "data/plans.bolt"),
		RealtimeBackend:    getenv("REALTIME_BACKEND", "local"),
		LocalDebounce:      getMillis("LOCAL_DEBOUNCE_MS", time.Second),
		CollabDebounce:     getMillis("COLLAB_DEBOUNCE_MS", 1500*time.Millisecond),
		DefaultDestination: os.Getenv("DEFAULT_DESTINATION"),
	}
	JwtSecret = []byte(cfg.JWTSecret)
	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getMillis(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		log.Printf("invalid %s=%q, using %v", key, v, def)
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
