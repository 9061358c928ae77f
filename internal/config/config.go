// Package config loads runtime settings from the environment, the way the
// rest of this codebase's services do: no config file, just getEnv/getEnvInt
// helpers with documented fallbacks.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the settings the server reads once at startup.
type Config struct {
	BindAddr string
	LogFilter string

	StorageRoot string

	EncoderOverride string
	VAAPIDevice     string

	MinFreeBytes   int64
	MinFreeRatio   float64
	CleanupBatch   int
	CleanupInterval int // seconds

	DownloaderBinary string
	ExtractorBinary  string
	EncoderBinary    string
	ProbeBinary      string
}

// Load reads environment variables and returns normalized runtime config.
func Load() Config {
	return Config{
		BindAddr:  getEnv("BIND_ADDR", "0.0.0.0:3000"),
		LogFilter: getEnv("LOG_FILTER", "info"),

		StorageRoot: getEnv("STORAGE_ROOT", "./data"),

		EncoderOverride: strings.ToLower(strings.TrimSpace(os.Getenv("VIDEO_SERVER_ENCODER"))),
		VAAPIDevice:     getEnv("VIDEO_SERVER_VAAPI_DEVICE", "/dev/dri/renderD128"),

		MinFreeBytes:    getEnvInt64("MIN_FREE_BYTES", 5*1024*1024*1024),
		MinFreeRatio:    getEnvFloat("MIN_FREE_RATIO", 0.1),
		CleanupBatch:    getEnvInt("CLEANUP_BATCH", 5),
		CleanupInterval: getEnvInt("CLEANUP_INTERVAL_SECONDS", 60),

		DownloaderBinary: getEnv("VIDEO_SERVER_DOWNLOADER", "aria2c"),
		ExtractorBinary:  getEnv("VIDEO_SERVER_EXTRACTOR", "yt-dlp"),
		EncoderBinary:    getEnv("VIDEO_SERVER_FFMPEG", "ffmpeg"),
		ProbeBinary:      getEnv("VIDEO_SERVER_FFPROBE", "ffprobe"),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var out int
	if _, err := fmt.Sscanf(value, "%d", &out); err != nil || out <= 0 {
		return fallback
	}
	return out
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	out, err := strconv.ParseInt(value, 10, 64)
	if err != nil || out <= 0 {
		return fallback
	}
	return out
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	out, err := strconv.ParseFloat(value, 64)
	if err != nil || out < 0 || out > 0.9 {
		return fallback
	}
	return out
}
