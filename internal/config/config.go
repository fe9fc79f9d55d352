package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	VerifyToken   string
	WhatsAppToken string
	GraphBaseURL  string
	ServerURL     string
	MediaDir      string

	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string

	RedisAddr      string
	TenantCacheTTL time.Duration

	BroadcastPace time.Duration
	Location      *time.Location
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("Warning: Error loading .env file")
	}

	return &Config{
		Port:          getEnv("PORT", "8080"),
		VerifyToken:   getEnv("VERIFY_TOKEN", ""),
		WhatsAppToken: getEnv("WHATSAPP_TOKEN", ""),
		GraphBaseURL:  getEnv("GRAPH_BASE_URL", "https://graph.facebook.com/v21.0"),
		ServerURL:     getEnv("SERVER_URL", "http://localhost:8080"),
		MediaDir:      getEnv("MEDIA_DIR", "./static"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "whatsapp_platform"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		TenantCacheTTL: getDuration("TENANT_CACHE_TTL", 5*time.Minute),

		BroadcastPace: getDuration("BROADCAST_PACE", 100*time.Millisecond),
		Location:      getLocation("TENANT_TIMEZONE", "Asia/Kolkata"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Warning: invalid duration for %s, using default", key)
	}
	return fallback
}

func getLocation(key, fallback string) *time.Location {
	name := getEnv(key, fallback)
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("Warning: unknown timezone %q, using fixed IST offset", name)
		return time.FixedZone("IST", 5*3600+30*60)
	}
	return loc
}
