package env

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadEnv pulls in a .env file when one exists. A missing file is not an
// error; the process environment is used as-is. Called before the logger
// is up, so nothing is reported either way.
func LoadEnv() {
	_ = godotenv.Load()
}

// GetEnv returns the variable's value, or fallback when it is unset.
func GetEnv(key string, fallback string) string {
	if value, exist := os.LookupEnv(key); exist {
		return value
	}
	return fallback
}

// GetBool parses a boolean variable, returning fallback when it is unset
// or malformed.
func GetBool(key string, fallback bool) bool {
	value, exist := os.LookupEnv(key)
	if !exist {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}
