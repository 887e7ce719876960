package config

const (
	AppName        = "ragchat"
	DefaultModel   = "gemini-2.5-flash"
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	APIKeyEnv      = "GEMINI_API_KEY"
	secretsFile    = ".env.local"
)

// SupportedModels is the allow-list for Settings.Model.
var SupportedModels = []string{
	"gemini-2.5-flash",
	"gemini-2.5-pro",
	"gemini-2.5-flash-lite",
}

func Default() Config {
	return Config{
		Model:   DefaultModel,
		BaseURL: "",
		Verbose: false,
	}
}

// DefaultValueForField returns the default value for a field key.
func DefaultValueForField(key string) string {
	return fieldValueFromConfig(Default(), key)
}
