package config

import (
	"os"
	"strings"

	"go.uber.org/zap"

	"ragchat/internal/model"
)

// FieldSource indicates where a config value originates.
type FieldSource string

const (
	SourceDefault     FieldSource = "default"
	SourceConfigFile  FieldSource = "config.toml"
	SourceDotEnv      FieldSource = ".env"
	SourceDotEnvLocal FieldSource = ".env.local"
	SourceEnv         FieldSource = "env"
)

// FieldInfo describes a single configurable field and its provenance.
type FieldInfo struct {
	Key       string
	Value     string
	Source    FieldSource
	Sensitive bool
}

type Config struct {
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
	Verbose bool   `toml:"verbose"`
	DataDir string `toml:"data_dir"`

	// APIKey only ever comes from the environment or dotenv files.
	APIKey string `toml:"-"`
}

// Settings projects the config onto the user-facing settings triple.
func (c Config) Settings() model.Settings {
	return model.Settings{
		APIKey:  c.APIKey,
		Model:   c.Model,
		BaseURL: c.BaseURL,
	}
}

// fieldDef describes a configurable field for EffectiveFields.
type fieldDef struct {
	Key       string
	EnvVar    string
	Sensitive bool
}

var fieldDefs = []fieldDef{
	{Key: "model", EnvVar: "RAGCHAT_MODEL"},
	{Key: "base_url", EnvVar: "RAGCHAT_BASE_URL"},
	{Key: "verbose", EnvVar: "RAGCHAT_VERBOSE"},
	{Key: "data_dir", EnvVar: "RAGCHAT_DATA_DIR"},
	{Key: APIKeyEnv, EnvVar: APIKeyEnv, Sensitive: true},
}

// EnvVarForField returns the environment variable mapped to a field key.
func EnvVarForField(key string) string {
	for _, fd := range fieldDefs {
		if fd.Key == key {
			return fd.EnvVar
		}
	}
	return ""
}

func fieldValueFromConfig(cfg Config, key string) string {
	switch key {
	case "model":
		return cfg.Model
	case "base_url":
		return cfg.BaseURL
	case "verbose":
		if cfg.Verbose {
			return "true"
		}
		return "false"
	case "data_dir":
		return cfg.DataDir
	default:
		return ""
	}
}

// EffectiveFields returns info about each configurable field including
// which source provided its current value, checked in precedence order:
// env var → .env.local → .env → config.toml → default.
func EffectiveFields(cfg Config) []FieldInfo {
	dotEnvLocal := readDotFile(secretsFile)
	dotEnv := readDotFile(".env")

	def := Default()
	fileCfg, err := LoadFile()
	if err != nil {
		// A malformed config.toml should not break the settings view.
		fileCfg = def
	}
	result := make([]FieldInfo, 0, len(fieldDefs))

	for _, fd := range fieldDefs {
		fi := FieldInfo{
			Key:       fd.Key,
			Sensitive: fd.Sensitive,
		}

		if fd.Sensitive {
			fi.Value = os.Getenv(fd.EnvVar)
			fi.Source = resolveSecretSource(fd.EnvVar, dotEnvLocal, dotEnv)
			result = append(result, fi)
			continue
		}

		if v, ok := os.LookupEnv(fd.EnvVar); ok && strings.TrimSpace(v) != "" {
			fi.Value = strings.TrimSpace(v)
			if _, inLocal := dotEnvLocal[fd.EnvVar]; inLocal {
				fi.Source = SourceDotEnvLocal
			} else if _, inDot := dotEnv[fd.EnvVar]; inDot {
				fi.Source = SourceDotEnv
			} else {
				fi.Source = SourceEnv
			}
			result = append(result, fi)
			continue
		}

		fileVal := fieldValueFromConfig(fileCfg, fd.Key)
		defVal := fieldValueFromConfig(def, fd.Key)
		if fileVal != defVal {
			fi.Value = fileVal
			fi.Source = SourceConfigFile
			result = append(result, fi)
			continue
		}

		fi.Value = fieldValueFromConfig(cfg, fd.Key)
		fi.Source = SourceDefault
		result = append(result, fi)
	}
	return result
}

// ApplyField sets a field on the config struct by key name.
func ApplyField(cfg *Config, key, value string) {
	switch key {
	case "model":
		cfg.Model = strings.TrimSpace(value)
	case "base_url":
		cfg.BaseURL = strings.TrimSpace(value)
	case "verbose":
		cfg.Verbose = strings.EqualFold(value, "true") || value == "1"
	case "data_dir":
		cfg.DataDir = strings.TrimSpace(value)
	case APIKeyEnv:
		cfg.APIKey = strings.TrimSpace(value)
	}
}

// Repository persists Settings wholesale: model and base URL go to
// config.toml, the API key to .env.local.
type Repository struct {
	log *zap.Logger
}

func NewRepository(logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{log: logger}
}

// Load returns the effective settings. Values that would fail validation
// on save are replaced by their defaults so they never reach the client.
func (r *Repository) Load() (model.Settings, error) {
	cfg, err := Load()
	if err != nil {
		return model.Settings{}, err
	}
	s := cfg.Settings()
	if err := ValidateField("model", s.Model); err != nil {
		r.log.Warn("unsupported model configured, using default",
			zap.String("model", s.Model), zap.String("default", DefaultModel))
		s.Model = DefaultModel
	}
	if err := ValidateField("base_url", s.BaseURL); err != nil {
		r.log.Warn("invalid base url configured, using default", zap.String("base_url", s.BaseURL), zap.Error(err))
		s.BaseURL = Default().BaseURL
	}
	return s, nil
}

func (r *Repository) Save(s model.Settings) error {
	if err := ValidateSettings(s); err != nil {
		return err
	}
	// Environment overrides stay out of config.toml.
	cfg, err := LoadFile()
	if err != nil {
		return err
	}
	cfg.Model = strings.TrimSpace(s.Model)
	cfg.BaseURL = strings.TrimSpace(s.BaseURL)
	if err := Save(cfg); err != nil {
		return err
	}
	if strings.TrimSpace(s.APIKey) == "" {
		return DeleteSecret(APIKeyEnv)
	}
	return SaveSecret(APIKeyEnv, strings.TrimSpace(s.APIKey))
}
