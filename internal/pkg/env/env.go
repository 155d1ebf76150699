package env

import (
	"os"

	"github.com/joho/godotenv"
)

// Env holds the values read from the .env file. Process environment
// variables take effect as a fallback, so containerized deployments work
// without a file.
var Env map[string]string

// candidate .env locations relative to the working directory, ordered from
// repo root down to the cmd binaries.
var envFiles = []string{
	".env",
	"../../.env",
	"../../../.env",
}

// SetupEnvFile loads the first readable .env file. Missing files are not an
// error; the process environment still applies.
func SetupEnvFile() {
	for _, f := range envFiles {
		if values, err := godotenv.Read(f); err == nil {
			Env = values
			return
		}
	}
}

// GetEnv returns the configured value for key, or def when unset.
func GetEnv(key, def string) string {
	if val, ok := Env[key]; ok {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
