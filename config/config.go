// Package config loads process configuration from the environment, with an
// optional .env file for local development. The resulting Config is built
// once at startup and passed explicitly; nothing reads the environment after
// Load returns.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppName  string
	HTTPPort string

	DatabaseURL string

	OllamaURL     string
	OllamaTimeout time.Duration

	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string

	EmbeddingModel     string
	EmbeddingDimension int
	DefaultChatModel   string

	UploadDir   string
	OCRLanguage string
	LogDir      string
}

func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: Error loading .env file:", err)
		}
	}
}

func Load() Config {
	return Config{
		AppName:  getEnv("APP_NAME", "hust-chatbot-retriever-service"),
		HTTPPort: getEnv("HTTP_PORT", "8000"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		OllamaURL:     getEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaTimeout: time.Duration(getEnvAsInt("OLLAMA_TIMEOUT", 600)) * time.Second,

		QdrantHost:   getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:   getEnvAsInt("QDRANT_PORT", 6334),
		QdrantAPIKey: getEnv("QDRANT_API_KEY", ""),

		EmbeddingModel:     getEnv("EMBEDDING_MODEL", "nomic-embed-text"),
		EmbeddingDimension: getEnvAsInt("EMBEDDING_DIMENSION", 768),
		DefaultChatModel:   getEnv("DEFAULT_CHAT_MODEL", "llama3"),

		UploadDir:   getEnv("UPLOAD_DIR", "uploads"),
		OCRLanguage: getEnv("OCR_LANGUAGE", "vie"),
		LogDir:      getEnv("LOG_DIR", "logs"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
