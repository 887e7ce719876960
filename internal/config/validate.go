package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"ragchat/internal/model"
)

// IsSupportedModel reports whether name is on the model allow-list.
func IsSupportedModel(name string) bool {
	for _, m := range SupportedModels {
		if m == name {
			return true
		}
	}
	return false
}

// ValidateField checks whether value is valid for the given field key.
func ValidateField(key, value string) error {
	switch key {
	case "model":
		if !IsSupportedModel(strings.TrimSpace(value)) {
			return fmt.Errorf("model must be one of %s, got %q", strings.Join(SupportedModels, ", "), value)
		}
	case "base_url":
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return nil
		}
		u, err := url.Parse(trimmed)
		if err != nil {
			return fmt.Errorf("base_url is not a valid URL: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("base_url must be an http(s) URL or empty for the default endpoint")
		}
	case "verbose":
		if value != "true" && value != "false" {
			return fmt.Errorf("verbose must be \"true\" or \"false\", got %q", value)
		}
	case APIKeyEnv:
		if value != "" && strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must not be whitespace-only", key)
		}
	}
	return nil
}

// ValidateSettings checks a whole settings value before it is saved.
func ValidateSettings(s model.Settings) error {
	if err := ValidateField("model", s.Model); err != nil {
		return err
	}
	if err := ValidateField("base_url", s.BaseURL); err != nil {
		return err
	}
	return ValidateField(APIKeyEnv, s.APIKey)
}
