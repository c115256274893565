package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type ServerConfig struct {
	Port           string
	DBPath         string
	MaxScreenBytes int64
	// Per-participant publish pacing
	ScreenRatePerSec float64
	ScreenBurst      int
	// WebSocket configuration
	WSEnabled    bool
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func LoadServerConfig() (*ServerConfig, error) {
	maxBytes, err := strconv.ParseInt(getEnvOrDefault("MAX_SCREEN_BYTES", "2097152"), 10, 64)
	if err != nil || maxBytes < 1 {
		return nil, fmt.Errorf("invalid MAX_SCREEN_BYTES: %s", os.Getenv("MAX_SCREEN_BYTES"))
	}

	rateStr := getEnvOrDefault("SCREEN_RATE_PER_SEC", "2")
	ratePerSec, err := strconv.ParseFloat(rateStr, 64)
	if err != nil || ratePerSec <= 0 {
		return nil, fmt.Errorf("invalid SCREEN_RATE_PER_SEC: %s", rateStr)
	}

	burstStr := getEnvOrDefault("SCREEN_BURST", "4")
	burst, err := strconv.Atoi(burstStr)
	if err != nil || burst < 1 {
		return nil, fmt.Errorf("invalid SCREEN_BURST: %s", burstStr)
	}

	readTimeout, err := time.ParseDuration(getEnvOrDefault("READ_TIMEOUT", "30s"))
	if err != nil {
		readTimeout = 30 * time.Second // Default on parse error
	}
	writeTimeout, err := time.ParseDuration(getEnvOrDefault("WRITE_TIMEOUT", "30s"))
	if err != nil {
		writeTimeout = 30 * time.Second
	}

	var origins []string
	for _, o := range strings.Split(getEnvOrDefault("CORS_ORIGINS", "*"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &ServerConfig{
		Port:             getEnvOrDefault("PORT", "8080"),
		DBPath:           getEnvOrDefault("DB_PATH", "./data/relay.db"),
		MaxScreenBytes:   maxBytes,
		ScreenRatePerSec: ratePerSec,
		ScreenBurst:      burst,
		WSEnabled:        getEnvOrDefault("WS_ENABLED", "true") == "true",
		CORSOrigins:      origins,
		ReadTimeout:      readTimeout,
		WriteTimeout:     writeTimeout,
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
