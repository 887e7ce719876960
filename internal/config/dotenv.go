package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// loadDotEnvPrecedence exports .env.local then .env without overriding
// variables that are already set.
func loadDotEnvPrecedence() error {
	for _, name := range []string{secretsFile, ".env"} {
		values, err := godotenv.Read(name)
		if err != nil {
			continue
		}
		for k, v := range values {
			if _, exists := os.LookupEnv(k); !exists {
				if setErr := os.Setenv(k, v); setErr != nil {
					return setErr
				}
			}
		}
	}
	return nil
}

func readDotFile(name string) map[string]string {
	vals, err := godotenv.Read(name)
	if err != nil {
		return nil
	}
	return vals
}

func resolveSecretSource(envVar string, dotEnvLocal, dotEnv map[string]string) FieldSource {
	if _, ok := dotEnvLocal[envVar]; ok {
		return SourceDotEnvLocal
	}
	if _, ok := dotEnv[envVar]; ok {
		return SourceDotEnv
	}
	if _, ok := os.LookupEnv(envVar); ok {
		return SourceEnv
	}
	return SourceDefault
}

// SaveSecret writes a key=value pair into .env.local.
// If the key already exists it is updated; otherwise it is appended.
// The environment variable is also set in the current process.
func SaveSecret(key, value string) error {
	env := map[string]string{}
	existing, err := godotenv.Read(secretsFile)
	if err == nil {
		env = existing
	}
	env[key] = value
	if err := godotenv.Write(env, secretsFile); err != nil {
		return fmt.Errorf("writing %s: %w", secretsFile, err)
	}
	return os.Setenv(key, value)
}

// DeleteSecret removes a key from .env.local and unsets it in the process env.
func DeleteSecret(key string) error {
	env := map[string]string{}
	existing, err := godotenv.Read(secretsFile)
	if err == nil {
		env = existing
	}
	delete(env, key)
	if err := godotenv.Write(env, secretsFile); err != nil {
		return fmt.Errorf("writing %s: %w", secretsFile, err)
	}
	if err := os.Unsetenv(key); err != nil {
		return fmt.Errorf("unsetting %s: %w", key, err)
	}
	return nil
}
