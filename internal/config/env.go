package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables already set are left alone and a missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// GetEnv returns the value of key or def when unset or empty.
func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(GetEnv(key, "")); err == nil {
		return b
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(GetEnv(key, "")); err == nil {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(GetEnv(key, ""), 64); err == nil {
		return v
	}
	return def
}

// envSeconds reads a duration given in (possibly fractional) seconds.
func envSeconds(key string, def time.Duration) time.Duration {
	if v, err := strconv.ParseFloat(GetEnv(key, ""), 64); err == nil {
		return seconds(v)
	}
	return def
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
