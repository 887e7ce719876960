package model

import "context"

// RAGService is the remote index/chat capability set.
type RAGService interface {
	Initialize(apiKey, model, baseURL string) error
	CreateRagStore(ctx context.Context, displayName string) (string, error)
	UploadToRagStore(ctx context.Context, storeName string, doc Document) error
	GenerateExampleQuestions(ctx context.Context, storeName string) ([]string, error)
	FileSearch(ctx context.Context, storeName, query string) (SearchResult, error)
	DeleteRagStore(ctx context.Context, storeName string) error
}

// KeyHost is the host-managed key capability. Implementations that are not
// available report false from HasSelectedAPIKey rather than an error.
type KeyHost interface {
	HasSelectedAPIKey(ctx context.Context) (bool, error)
	OpenSelectKey(ctx context.Context) error
	SelectedAPIKey(ctx context.Context) (string, error)
}

type SettingsRepository interface {
	Load() (Settings, error)
	Save(s Settings) error
}

// RegistryRepository persists the ordered list of created stores as a whole.
type RegistryRepository interface {
	LoadStores(ctx context.Context) ([]RagStore, error)
	SaveStores(ctx context.Context, stores []RagStore) error
}

// HistoryRepository persists one whole chat transcript per store name.
type HistoryRepository interface {
	LoadHistory(ctx context.Context, storeName string) ([]ChatMessage, error)
	SaveHistory(ctx context.Context, storeName string, history []ChatMessage) error
	DeleteHistory(ctx context.Context, storeName string) error
}
