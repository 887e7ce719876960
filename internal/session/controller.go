// Package session owns the upload/chat lifecycle. The Controller is the only
// holder of session state; callers drive it through transition methods and
// observe it through immutable snapshots.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"ragchat/internal/model"
)

const (
	KeyRequiredMessage = "An API key is required. Select a key or add one in Settings."
	KeyInvalidMessage  = "The API key was rejected or the store no longer exists. Select a valid key and try again."
	ApologyText        = "Sorry, I ran into an error while answering. Please try again."

	MsgRegistryNotSaved = "This store could not be saved to the local list and will be missing after a restart: %v"

	MsgInitializing = "Initializing client..."
	MsgCreating     = "Creating document store..."
	MsgUploading    = "Uploading documents..."
	MsgSuggesting   = "Generating suggestions..."
	MsgDone         = "All set!"

	DefaultCompletionDelay = time.Second
	questionTTL            = time.Hour
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrBusy         = errors.New("a request is already in flight")
)

// Deps are the collaborators of a Controller. Service and the three
// repositories are required.
type Deps struct {
	Service  model.RAGService
	Host     model.KeyHost
	Settings model.SettingsRepository
	Registry model.RegistryRepository
	History  model.HistoryRepository
	Logger   *zap.Logger

	// Questions caches generated example questions per store name.
	Questions *cache.Cache

	// DefaultSettings seed the session when the settings repository
	// cannot be read.
	DefaultSettings model.Settings

	Now             func() time.Time
	Sleep           func(ctx context.Context, d time.Duration)
	CompletionDelay time.Duration
}

// Snapshot is a copy of the observable session state.
type Snapshot struct {
	Status           model.AppStatus
	Settings         model.Settings
	KeyReady         bool
	HostKeySelected  bool
	APIKeyError      string
	ErrorMessage     string
	ChatError        string
	Progress         *model.UploadProgress
	Stores           []model.RagStore
	SelectedFiles    []model.Document
	ActiveStore      string
	DocumentName     string
	History          []model.ChatMessage
	ExampleQuestions []string
	Loading          bool
}

type state struct {
	status       model.AppStatus
	settings     model.Settings
	stores       []model.RagStore
	files        []model.Document
	progress     *model.UploadProgress
	activeStore  string
	documentName string
	history      []model.ChatMessage
	questions    []string
	loading      bool
	apiKeyError  string
	errorMessage string
	chatError    string
}

type Controller struct {
	deps      Deps
	gate      *Gate
	log       *zap.Logger
	questions *cache.Cache
	id        string

	// opMu serializes lifecycle transitions; mu guards st.
	opMu     sync.Mutex
	mu       sync.Mutex
	observer func(Snapshot)
	st       state
}

func New(deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	if deps.Questions == nil {
		deps.Questions = cache.New(questionTTL, 10*time.Minute)
	}
	id := uuid.NewString()
	return &Controller{
		deps:      deps,
		gate:      NewGate(deps.Host),
		log:       deps.Logger.With(zap.String("session_id", id)),
		questions: deps.Questions,
		id:        id,
		st:        state{status: model.StatusInitializing},
	}
}

// ID is the correlation id attached to every log line of this controller.
func (c *Controller) ID() string { return c.id }

// SetObserver registers fn to receive a snapshot after every state change.
// fn is called without the controller lock held.
func (c *Controller) SetObserver(fn func(Snapshot)) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Load performs the initial Initializing -> Welcome transition.
func (c *Controller) Load(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	settings, err := c.deps.Settings.Load()
	if err != nil {
		c.log.Warn("load settings failed, using defaults", zap.Error(err))
		settings = c.deps.DefaultSettings
	}
	stores, err := c.deps.Registry.LoadStores(ctx)
	if err != nil {
		c.log.Warn("load store registry failed", zap.Error(err))
		stores = nil
	}

	c.gate.SetSettingsKey(settings.APIKey)
	c.gate.Refresh(ctx)

	return c.update(func(st *state) error {
		if st.status != model.StatusInitializing {
			return model.ErrInvalidTransition
		}
		st.settings = settings
		st.stores = stores
		st.status = model.StatusWelcome
		return nil
	})
}

// RefreshKeyReadiness re-queries the host key capability. It is called at
// startup and whenever the presentation regains focus.
func (c *Controller) RefreshKeyReadiness(ctx context.Context) bool {
	ready := c.gate.Refresh(ctx)
	_ = c.update(func(st *state) error {
		if ready && st.apiKeyError == KeyRequiredMessage {
			st.apiKeyError = ""
		}
		return nil
	})
	return ready
}

func (c *Controller) SelectFiles(docs []model.Document) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.update(func(st *state) error {
		if st.status != model.StatusWelcome {
			return model.ErrInvalidTransition
		}
		st.files = append([]model.Document(nil), docs...)
		return nil
	})
}

// StartUpload creates a store from the selected files and moves to Chatting.
// Failures never leave partial progress behind and never touch the registry.
func (c *Controller) StartUpload(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	var (
		files    []model.Document
		settings model.Settings
	)
	err := c.update(func(st *state) error {
		if st.status != model.StatusWelcome {
			return model.ErrInvalidTransition
		}
		if !c.gate.Ready() {
			st.apiKeyError = KeyRequiredMessage
			return model.ErrKeyRequired
		}
		if len(st.files) == 0 {
			return model.ErrNoFiles
		}
		files = append([]model.Document(nil), st.files...)
		settings = st.settings
		st.status = model.StatusUploading
		st.apiKeyError = ""
		st.errorMessage = ""
		st.progress = &model.UploadProgress{Current: 0, Total: len(files) + 2, Message: MsgInitializing}
		return nil
	})
	if err != nil {
		return err
	}

	total := len(files) + 2
	log := c.log.With(zap.Int("files", len(files)))
	log.Info("upload started")

	apiKey, err := c.resolveAPIKey(ctx, settings)
	if err == nil {
		err = c.deps.Service.Initialize(apiKey, settings.Model, settings.BaseURL)
	}
	if err != nil {
		log.Error("client initialization failed", zap.Error(err))
		c.failUpload(fmt.Sprintf("Failed to initialize the AI client: %v", err))
		return fmt.Errorf("initialize client: %w", err)
	}

	c.setProgress(model.UploadProgress{Current: 1, Total: total, Message: MsgCreating})
	displayName := DisplayName(files, c.deps.Now())
	storeName, err := c.deps.Service.CreateRagStore(ctx, displayName)
	if err != nil {
		return c.abortUpload(ctx, log, "", fmt.Errorf("create store: %w", err))
	}
	log = log.With(zap.String("store", storeName))

	for i, doc := range files {
		label := fmt.Sprintf("(%d/%d) %s", i+1, len(files), doc.Name)
		c.setProgress(model.UploadProgress{Current: 1 + i, Total: total, Message: MsgUploading, FileName: label})
		if err := c.deps.Service.UploadToRagStore(ctx, storeName, doc); err != nil {
			return c.abortUpload(ctx, log, storeName, fmt.Errorf("upload %s: %w", doc.Name, err))
		}
		c.setProgress(model.UploadProgress{Current: 2 + i, Total: total, Message: MsgUploading, FileName: label})
	}

	c.setProgress(model.UploadProgress{Current: len(files) + 1, Total: total, Message: MsgSuggesting})
	questions, err := c.deps.Service.GenerateExampleQuestions(ctx, storeName)
	if err != nil {
		return c.abortUpload(ctx, log, storeName, fmt.Errorf("generate suggestions: %w", err))
	}

	c.setProgress(model.UploadProgress{Current: total, Total: total, Message: MsgDone})
	c.deps.Sleep(ctx, c.deps.CompletionDelay)

	created := model.RagStore{Name: storeName, DisplayName: displayName}
	c.mu.Lock()
	stores := append([]model.RagStore{created}, c.st.stores...)
	c.mu.Unlock()
	chatError := ""
	if err := c.deps.Registry.SaveStores(ctx, stores); err != nil {
		log.Error("persist store registry failed", zap.Error(err))
		chatError = fmt.Sprintf(MsgRegistryNotSaved, err)
	}
	c.questions.SetDefault(storeName, questions)

	_ = c.update(func(st *state) error {
		st.stores = stores
		st.files = nil
		st.progress = nil
		st.activeStore = storeName
		st.documentName = displayName
		st.history = nil
		st.questions = append([]string(nil), questions...)
		st.chatError = chatError
		st.status = model.StatusChatting
		return nil
	})
	log.Info("upload finished", zap.String("display_name", displayName))
	return nil
}

// abortUpload classifies a failed upload step. Key rejections return to
// Welcome with readiness reset; anything else is fatal.
func (c *Controller) abortUpload(ctx context.Context, log *zap.Logger, orphan string, err error) error {
	if orphan != "" {
		c.deleteRemote(context.WithoutCancel(ctx), orphan)
	}
	if IsKeyInvalid(err) {
		log.Warn("upload rejected by remote", zap.Error(err))
		c.gate.Reset()
		_ = c.update(func(st *state) error {
			st.progress = nil
			st.apiKeyError = KeyInvalidMessage
			st.status = model.StatusWelcome
			return nil
		})
		return err
	}
	log.Error("upload failed", zap.Error(err))
	c.failUpload(fmt.Sprintf("Failed to process documents: %v", err))
	return err
}

func (c *Controller) failUpload(message string) {
	_ = c.update(func(st *state) error {
		st.progress = nil
		st.errorMessage = message
		st.status = model.StatusError
		return nil
	})
}

// setProgress keeps Current monotonic and within Total.
func (c *Controller) setProgress(p model.UploadProgress) {
	_ = c.update(func(st *state) error {
		if st.status != model.StatusUploading {
			return nil
		}
		if st.progress != nil && p.Current < st.progress.Current {
			p.Current = st.progress.Current
		}
		if p.Current > p.Total {
			p.Current = p.Total
		}
		st.progress = &p
		return nil
	})
}

// SelectStore opens a previously created store for chatting.
func (c *Controller) SelectStore(ctx context.Context, name string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	var (
		store    model.RagStore
		settings model.Settings
	)
	err := c.update(func(st *state) error {
		if st.status != model.StatusWelcome {
			return model.ErrInvalidTransition
		}
		idx := indexOfStore(st.stores, name)
		if idx < 0 {
			return model.ErrStoreNotFound
		}
		if !c.gate.Ready() {
			st.apiKeyError = KeyRequiredMessage
			return model.ErrKeyRequired
		}
		store = st.stores[idx]
		settings = st.settings
		return nil
	})
	if err != nil {
		return err
	}

	apiKey, err := c.resolveAPIKey(ctx, settings)
	if err == nil {
		err = c.deps.Service.Initialize(apiKey, settings.Model, settings.BaseURL)
	}
	if err != nil {
		c.log.Error("client initialization failed", zap.String("store", name), zap.Error(err))
		_ = c.update(func(st *state) error {
			st.errorMessage = fmt.Sprintf("Failed to initialize the AI client: %v", err)
			st.status = model.StatusError
			return nil
		})
		return fmt.Errorf("initialize client: %w", err)
	}

	history, err := c.deps.History.LoadHistory(ctx, store.Name)
	if err != nil {
		c.log.Warn("load chat history failed", zap.String("store", store.Name), zap.Error(err))
		history = nil
	}
	var questions []string
	if cached, ok := c.questions.Get(store.Name); ok {
		questions, _ = cached.([]string)
	}

	return c.update(func(st *state) error {
		st.activeStore = store.Name
		st.documentName = store.DisplayName
		st.history = history
		st.questions = append([]string(nil), questions...)
		st.apiKeyError = ""
		st.chatError = ""
		st.status = model.StatusChatting
		return nil
	})
}

// Back leaves the active store. Persisted history is kept.
func (c *Controller) Back() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.update(func(st *state) error {
		if st.status != model.StatusChatting {
			return model.ErrInvalidTransition
		}
		st.activeStore = ""
		st.documentName = ""
		st.history = nil
		st.questions = nil
		st.chatError = ""
		st.status = model.StatusWelcome
		return nil
	})
}

// DeleteStore removes a store from the registry together with its history,
// then tries to delete it remotely. Remote failures are only logged.
func (c *Controller) DeleteStore(ctx context.Context, name string, confirmed bool) error {
	if !confirmed {
		return model.ErrConfirmationRequired
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	var remaining []model.RagStore
	var settings model.Settings
	c.mu.Lock()
	switch {
	case c.st.status != model.StatusWelcome && c.st.status != model.StatusChatting:
		c.mu.Unlock()
		return model.ErrInvalidTransition
	case c.st.status == model.StatusChatting && c.st.activeStore == name:
		c.mu.Unlock()
		return model.ErrInvalidTransition
	}
	idx := indexOfStore(c.st.stores, name)
	if idx < 0 {
		c.mu.Unlock()
		return model.ErrStoreNotFound
	}
	remaining = make([]model.RagStore, 0, len(c.st.stores)-1)
	remaining = append(remaining, c.st.stores[:idx]...)
	remaining = append(remaining, c.st.stores[idx+1:]...)
	settings = c.st.settings
	c.mu.Unlock()

	if err := c.deps.Registry.SaveStores(ctx, remaining); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	if err := c.deps.History.DeleteHistory(ctx, name); err != nil {
		c.log.Warn("delete chat history failed", zap.String("store", name), zap.Error(err))
	}
	c.questions.Delete(name)

	_ = c.update(func(st *state) error {
		st.stores = remaining
		return nil
	})

	if !c.gate.Ready() {
		c.log.Warn("skipping remote store delete, no api key", zap.String("store", name))
		return nil
	}
	apiKey, err := c.resolveAPIKey(ctx, settings)
	if err == nil {
		err = c.deps.Service.Initialize(apiKey, settings.Model, settings.BaseURL)
	}
	if err != nil {
		c.log.Warn("remote store delete skipped", zap.String("store", name), zap.Error(err))
		return nil
	}
	c.deleteRemote(ctx, name)
	return nil
}

func (c *Controller) deleteRemote(ctx context.Context, name string) {
	if err := c.deps.Service.DeleteRagStore(ctx, name); err != nil {
		c.log.Warn("remote store delete failed", zap.String("store", name), zap.Error(err))
	}
}

// Recover leaves the Error state.
func (c *Controller) Recover() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.update(func(st *state) error {
		if st.status != model.StatusError {
			return model.ErrInvalidTransition
		}
		st.errorMessage = ""
		st.progress = nil
		st.status = model.StatusWelcome
		return nil
	})
}

// SendMessage runs one grounded chat turn against the active store. The user
// turn is recorded before the query; a failed query records one apology turn.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	var (
		storeName string
		history   []model.ChatMessage
	)
	userTurn := model.NewTextMessage(model.RoleUser, text)
	if err := c.update(func(st *state) error {
		if st.status != model.StatusChatting {
			return model.ErrInvalidTransition
		}
		if text == "" {
			return ErrEmptyMessage
		}
		if st.loading {
			return ErrBusy
		}
		st.history = append(st.history, userTurn)
		st.loading = true
		st.chatError = ""
		storeName = st.activeStore
		history = cloneHistory(st.history)
		return nil
	}); err != nil {
		return err
	}

	settled := false
	defer func() {
		if !settled {
			_ = c.update(func(st *state) error {
				st.loading = false
				return nil
			})
		}
	}()

	c.persistHistory(ctx, storeName, history)

	res, err := c.deps.Service.FileSearch(ctx, storeName, text)
	reply := model.NewTextMessage(model.RoleModel, ApologyText)
	if err == nil {
		reply = model.ChatMessage{
			Role:            model.RoleModel,
			Parts:           []model.Part{{Text: res.Text}},
			GroundingChunks: res.GroundingChunks,
		}
	} else {
		c.log.Warn("chat query failed", zap.String("store", storeName), zap.Error(err))
	}

	history = append(history, reply)
	c.persistHistory(ctx, storeName, history)

	settled = true
	_ = c.update(func(st *state) error {
		if st.status == model.StatusChatting && st.activeStore == storeName {
			st.history = append(st.history, reply)
			if err != nil {
				st.chatError = err.Error()
			}
		}
		st.loading = false
		return nil
	})
	if err != nil {
		return fmt.Errorf("file search: %w", err)
	}
	return nil
}

func (c *Controller) persistHistory(ctx context.Context, storeName string, history []model.ChatMessage) {
	if err := c.deps.History.SaveHistory(context.WithoutCancel(ctx), storeName, history); err != nil {
		c.log.Error("persist chat history failed", zap.String("store", storeName), zap.Error(err))
	}
}

// SaveSettings persists s wholesale and re-evaluates key readiness.
func (c *Controller) SaveSettings(s model.Settings) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	status := c.st.status
	c.mu.Unlock()
	if status == model.StatusUploading || status == model.StatusInitializing {
		return model.ErrInvalidTransition
	}

	if err := c.deps.Settings.Save(s); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	c.gate.SetSettingsKey(s.APIKey)
	ready := c.gate.Ready()

	var reinitErr error
	if status == model.StatusChatting && ready {
		apiKey, err := c.resolveAPIKey(context.Background(), s)
		if err == nil {
			err = c.deps.Service.Initialize(apiKey, s.Model, s.BaseURL)
		}
		reinitErr = err
	}

	return c.update(func(st *state) error {
		st.settings = s
		if ready {
			st.apiKeyError = ""
		}
		if reinitErr != nil {
			c.log.Warn("reinitialize client failed", zap.Error(reinitErr))
			st.chatError = reinitErr.Error()
		}
		return nil
	})
}

// OpenSelectKey asks the host to select a key and then refreshes readiness.
func (c *Controller) OpenSelectKey(ctx context.Context) error {
	if c.deps.Host == nil {
		return errors.New("key selection is not available")
	}
	err := c.deps.Host.OpenSelectKey(ctx)
	c.RefreshKeyReadiness(ctx)
	if err != nil {
		return fmt.Errorf("select key: %w", err)
	}
	return nil
}

func (c *Controller) resolveAPIKey(ctx context.Context, s model.Settings) (string, error) {
	if key := strings.TrimSpace(s.APIKey); key != "" {
		return key, nil
	}
	if c.deps.Host == nil {
		return "", model.ErrKeyRequired
	}
	key, err := c.deps.Host.SelectedAPIKey(ctx)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(key) == "" {
		return "", model.ErrKeyRequired
	}
	return strings.TrimSpace(key), nil
}

// update applies fn under the state lock and publishes a snapshot.
func (c *Controller) update(fn func(st *state) error) error {
	c.mu.Lock()
	err := fn(&c.st)
	snap := c.snapshotLocked()
	obs := c.observer
	c.mu.Unlock()
	if obs != nil {
		obs(snap)
	}
	return err
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:           c.st.status,
		Settings:         c.st.settings,
		KeyReady:         c.gate.Ready(),
		HostKeySelected:  c.gate.HostSelected(),
		APIKeyError:      c.st.apiKeyError,
		ErrorMessage:     c.st.errorMessage,
		ChatError:        c.st.chatError,
		Stores:           append([]model.RagStore(nil), c.st.stores...),
		SelectedFiles:    append([]model.Document(nil), c.st.files...),
		ActiveStore:      c.st.activeStore,
		DocumentName:     c.st.documentName,
		History:          cloneHistory(c.st.history),
		ExampleQuestions: append([]string(nil), c.st.questions...),
		Loading:          c.st.loading,
	}
	if c.st.progress != nil {
		p := *c.st.progress
		snap.Progress = &p
	}
	return snap
}

func cloneHistory(in []model.ChatMessage) []model.ChatMessage {
	if in == nil {
		return nil
	}
	out := make([]model.ChatMessage, len(in))
	copy(out, in)
	return out
}

func indexOfStore(stores []model.RagStore, name string) int {
	for i, s := range stores {
		if s.Name == name {
			return i
		}
	}
	return -1
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
