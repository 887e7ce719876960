package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragchat/internal/model"
	"ragchat/internal/store"
)

type fakeService struct {
	mu sync.Mutex

	initErr      error
	createErr    error
	uploadErr    error
	uploadFailAt int
	questions    []string
	questionsErr error
	searchRes    model.SearchResult
	searchErr    error
	deleteErr    error

	initCalls int
	created   []string
	uploaded  []string
	deleted   []string
	queries   []string
}

func (f *fakeService) Initialize(apiKey, modelName, baseURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeService) CreateRagStore(_ context.Context, displayName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, displayName)
	return "fileSearchStores/new", nil
}

func (f *fakeService) UploadToRagStore(_ context.Context, _ string, doc model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadFailAt > 0 && len(f.uploaded)+1 == f.uploadFailAt {
		return f.uploadErr
	}
	f.uploaded = append(f.uploaded, doc.Name)
	return nil
}

func (f *fakeService) GenerateExampleQuestions(context.Context, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.questions, f.questionsErr
}

func (f *fakeService) FileSearch(_ context.Context, _ string, query string) (model.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.searchRes, f.searchErr
}

func (f *fakeService) DeleteRagStore(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return f.deleteErr
}

func (f *fakeService) remoteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls + len(f.created) + len(f.uploaded) + len(f.deleted) + len(f.queries)
}

type fakeHost struct {
	selected bool
	key      string
	err      error
}

func (h *fakeHost) HasSelectedAPIKey(context.Context) (bool, error) { return h.selected, h.err }
func (h *fakeHost) OpenSelectKey(context.Context) error {
	h.selected = true
	h.key = "host-key"
	return nil
}
func (h *fakeHost) SelectedAPIKey(context.Context) (string, error) { return h.key, h.err }

type memSettings struct {
	s       model.Settings
	loadErr error
	saveErr error
}

func (m *memSettings) Load() (model.Settings, error) { return m.s, m.loadErr }
func (m *memSettings) Save(s model.Settings) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.s = s
	return nil
}

type harness struct {
	ctrl     *Controller
	svc      *fakeService
	host     *fakeHost
	settings *memSettings
	db       *store.SQLiteStore

	mu    sync.Mutex
	snaps []Snapshot
}

var fixedNow = time.Date(2026, 3, 4, 15, 15, 0, 0, time.UTC)

func newHarness(t *testing.T, settings model.Settings, seed []model.RagStore) *harness {
	t.Helper()
	ctx := context.Background()

	db := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ragchat.sqlite"))
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Init(ctx))
	if seed != nil {
		require.NoError(t, db.SaveStores(ctx, seed))
	}

	h := &harness{
		svc:      &fakeService{questions: []string{"What is this about?"}},
		host:     &fakeHost{},
		settings: &memSettings{s: settings},
		db:       db,
	}
	h.ctrl = New(Deps{
		Service:  h.svc,
		Host:     h.host,
		Settings: h.settings,
		Registry: db,
		History:  db,
		Now:      func() time.Time { return fixedNow },
		Sleep:    func(context.Context, time.Duration) {},
	})
	h.ctrl.SetObserver(func(s Snapshot) {
		h.mu.Lock()
		h.snaps = append(h.snaps, s)
		h.mu.Unlock()
	})
	require.NoError(t, h.ctrl.Load(ctx))
	return h
}

func (h *harness) progressTrail() []model.UploadProgress {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []model.UploadProgress
	for _, s := range h.snaps {
		if s.Progress != nil {
			out = append(out, *s.Progress)
		}
	}
	return out
}

func docs(names ...string) []model.Document {
	out := make([]model.Document, 0, len(names))
	for _, n := range names {
		out = append(out, model.Document{Name: n, Path: "/tmp/" + n})
	}
	return out
}

func keyed() model.Settings {
	return model.Settings{APIKey: "settings-key", Model: "gemini-2.5-flash"}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		files []model.Document
		want  string
	}{
		{files: docs("a.pdf"), want: "a.pdf (03:15 PM)"},
		{files: docs("a.pdf", "b.pdf"), want: "a.pdf & b.pdf (03:15 PM)"},
		{files: docs("a.pdf", "b.pdf", "c.pdf"), want: "3 documents (03:15 PM)"},
		{files: docs("1", "2", "3", "4", "5", "6", "7"), want: "7 documents (03:15 PM)"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, DisplayName(tc.files, fixedNow))
	}
	morning := time.Date(2026, 3, 4, 9, 5, 0, 0, time.UTC)
	assert.Equal(t, "a.pdf (09:05 AM)", DisplayName(docs("a.pdf"), morning))
}

func TestLoadMovesToWelcome(t *testing.T) {
	seed := []model.RagStore{{Name: "fileSearchStores/old", DisplayName: "old"}}
	h := newHarness(t, keyed(), seed)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, model.StatusWelcome, snap.Status)
	assert.True(t, snap.KeyReady)
	assert.Equal(t, seed, snap.Stores)

	assert.ErrorIs(t, h.ctrl.Load(context.Background()), model.ErrInvalidTransition)
}

func TestStartUploadWithoutKeyIssuesNoRemoteCall(t *testing.T) {
	h := newHarness(t, model.Settings{Model: "gemini-2.5-flash"}, nil)
	require.NoError(t, h.ctrl.SelectFiles(docs("a.pdf")))

	err := h.ctrl.StartUpload(context.Background())
	assert.ErrorIs(t, err, model.ErrKeyRequired)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, model.StatusWelcome, snap.Status)
	assert.Equal(t, KeyRequiredMessage, snap.APIKeyError)
	assert.Zero(t, h.svc.remoteCalls())
}

func TestStartUploadWithoutFiles(t *testing.T) {
	h := newHarness(t, keyed(), nil)
	assert.ErrorIs(t, h.ctrl.StartUpload(context.Background()), model.ErrNoFiles)
	assert.Equal(t, model.StatusWelcome, h.ctrl.Snapshot().Status)
	assert.Zero(t, h.svc.remoteCalls())
}

func TestStartUploadSuccess(t *testing.T) {
	ctx := context.Background()
	seed := []model.RagStore{
		{Name: "fileSearchStores/x", DisplayName: "x"},
		{Name: "fileSearchStores/y", DisplayName: "y"},
	}
	h := newHarness(t, keyed(), seed)
	require.NoError(t, h.ctrl.SelectFiles(docs("a.pdf", "b.pdf", "c.pdf")))

	require.NoError(t, h.ctrl.StartUpload(ctx))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, model.StatusChatting, snap.Status)
	assert.Nil(t, snap.Progress)
	assert.Empty(t, snap.SelectedFiles)
	assert.Empty(t, snap.History)
	assert.Equal(t, "fileSearchStores/new", snap.ActiveStore)
	assert.Equal(t, "3 documents (03:15 PM)", snap.DocumentName)
	assert.Equal(t, []string{"What is this about?"}, snap.ExampleQuestions)
	assert.Equal(t, []string{"a.pdf", "b.pdf", "c.pdf"}, h.svc.uploaded)

	persisted, err := h.db.LoadStores(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 3)
	assert.Equal(t, model.RagStore{Name: "fileSearchStores/new", DisplayName: "3 documents (03:15 PM)"}, persisted[0])
	assert.Equal(t, seed, persisted[1:])

	trail := h.progressTrail()
	require.NotEmpty(t, trail)
	last := -1
	for _, p := range trail {
		assert.Equal(t, 5, p.Total)
		assert.LessOrEqual(t, p.Current, p.Total)
		assert.GreaterOrEqual(t, p.Current, last, "progress went backwards: %+v", trail)
		last = p.Current
	}
	assert.Equal(t, MsgDone, trail[len(trail)-1].Message)
	assert.Equal(t, 5, trail[len(trail)-1].Current)
	assert.Contains(t, fileNames(trail), "(2/3) b.pdf")
}

func fileNames(trail []model.UploadProgress) []string {
	var out []string
	for _, p := range trail {
		if p.FileName != "" {
			out = append(out, p.FileName)
		}
	}
	return out
}

func TestStartUploadUsesHostKey(t *testing.T) {
	h := newHarness(t, model.Settings{Model: "gemini-2.5-flash"}, nil)
	h.host.selected = true
	h.host.key = "host-key"
	require.True(t, h.ctrl.RefreshKeyReadiness(context.Background()))

	require.NoError(t, h.ctrl.SelectFiles(docs("a.pdf")))
	require.NoError(t, h.ctrl.StartUpload(context.Background()))
	assert.Equal(t, model.StatusChatting, h.ctrl.Snapshot().Status)
}

func TestUploadFailsOnSecondOfThreeFiles(t *testing.T) {
	ctx := context.Background()
	seed := []model.RagStore{{Name: "fileSearchStores/x", DisplayName: "x"}}
	h := newHarness(t, keyed(), seed)
	h.svc.uploadFailAt = 2
	h.svc.uploadErr = errors.New("connection reset by peer")
	require.NoError(t, h.ctrl.SelectFiles(docs("a.pdf", "b.pdf", "c.pdf")))

	require.Error(t, h.ctrl.StartUpload(ctx))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, model.StatusError, snap.Status)
	assert.Nil(t, snap.Progress)
	assert.Contains(t, snap.ErrorMessage, "connection reset by peer")
	assert.True(t, snap.KeyReady)

	persisted, err := h.db.LoadStores(ctx)
	require.NoError(t, err)
	assert.Equal(t, seed, persisted)
	assert.Equal(t, []string{"fileSearchStores/new"}, h.svc.deleted, "orphaned remote store should be cleaned up")

	require.NoError(t, h.ctrl.Recover())
	snap = h.ctrl.Snapshot()
	assert.Equal(t, model.StatusWelcome, snap.Status)
	assert.Empty(t, snap.ErrorMessage)
}

func TestUploadRejectedKeyReturnsToWelcome(t *testing.T) {
	ctx := context.Background()
	seed := []model.RagStore{{Name: "fileSearchStores/x", DisplayName: "x"}}
	h := newHarness(t, keyed(), seed)
	h.svc.createErr = &model.ProviderError{Code: "GEMINI_AUTH", Message: "API key not valid. Please pass a valid API key.", StatusCode: 400}
	require.NoError(t, h.ctrl.SelectFiles(docs("a.pdf")))

	require.Error(t, h.ctrl.StartUpload(ctx))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, model.StatusWelcome, snap.Status)
	assert.False(t, snap.KeyReady)
	assert.Equal(t, KeyInvalidMessage, snap.APIKeyError)
	assert.Nil(t, snap.Progress)

	persisted, err := h.db.LoadStores(ctx)
	require.NoError(t, err)
	assert.Equal(t, seed, persisted)

	// readiness is re-evaluated on the next refresh
	assert.ErrorIs(t, h.ctrl.StartUpload(ctx), model.ErrKeyRequired)
	assert.True(t, h.ctrl.RefreshKeyReadiness(ctx))
}

func TestUploadNotFoundStatusIsKeyInvalid(t *testing.T) {
	h := newHarness(t, keyed(), nil)
	h.svc.questionsErr = &model.ProviderError{Code: "GEMINI_NOT_FOUND", Message: "gone", StatusCode: 404}
	require.NoError(t, h.ctrl.SelectFiles(docs("a.pdf")))

	require.Error(t, h.ctrl.StartUpload(context.Background()))
	assert.Equal(t, model.StatusWelcome, h.ctrl.Snapshot().Status)
	assert.False(t, h.ctrl.Snapshot().KeyReady)
}

func TestInitializationFailureIsFatal(t *testing.T) {
	h := newHarness(t, keyed(), nil)
	h.svc.initErr = errors.New("invalid base url")
	require.NoError(t, h.ctrl.SelectFiles(docs("a.pdf")))

	require.Error(t, h.ctrl.StartUpload(context.Background()))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, model.StatusError, snap.Status)
	assert.Nil(t, snap.Progress)
	assert.Empty(t, h.svc.created)
}

func TestSelectStoreReplacesHistory(t *testing.T) {
	ctx := context.Background()
	seed := []model.RagStore{
		{Name: "fileSearchStores/a", DisplayName: "a"},
		{Name: "fileSearchStores/b", DisplayName: "b"},
	}
	h := newHarness(t, keyed(), seed)
	saved := []model.ChatMessage{
		model.NewTextMessage(model.RoleUser, "hi"),
		model.NewTextMessage(model.RoleModel, "hello"),
	}
	require.NoError(t, h.db.SaveHistory(ctx, "fileSearchStores/a", saved))

	require.NoError(t, h.ctrl.SelectStore(ctx, "fileSearchStores/a"))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, model.StatusChatting, snap.Status)
	assert.Equal(t, saved, snap.History)
	assert.Equal(t, "a", snap.DocumentName)

	require.NoError(t, h.ctrl.Back())
	snap = h.ctrl.Snapshot()
	assert.Equal(t, model.StatusWelcome, snap.Status)
	assert.Empty(t, snap.History)
	assert.Empty(t, snap.ActiveStore)
	assert.Empty(t, snap.DocumentName)

	require.NoError(t, h.ctrl.SelectStore(ctx, "fileSearchStores/b"))
	assert.Empty(t, h.ctrl.Snapshot().History)

	// back does not touch persisted history
	got, err := h.db.LoadHistory(ctx, "fileSearchStores/a")
	require.NoError(t, err)
	assert.Equal(t, saved, got)
}

func TestSelectStoreRequiresKey(t *testing.T) {
	seed := []model.RagStore{{Name: "fileSearchStores/a", DisplayName: "a"}}
	h := newHarness(t, model.Settings{Model: "gemini-2.5-flash"}, seed)

	err := h.ctrl.SelectStore(context.Background(), "fileSearchStores/a")
	assert.ErrorIs(t, err, model.ErrKeyRequired)
	snap := h.ctrl.Snapshot()
	assert.Equal(t, model.StatusWelcome, snap.Status)
	assert.Equal(t, KeyRequiredMessage, snap.APIKeyError)
	assert.Zero(t, h.svc.remoteCalls())

	assert.ErrorIs(t, h.ctrl.SelectStore(context.Background(), "fileSearchStores/missing"), model.ErrStoreNotFound)
}

func TestExampleQuestionsRestoredForSameProcess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, keyed(), nil)
	h.svc.questions = []string{"Q1?", "Q2?"}
	require.NoError(t, h.ctrl.SelectFiles(docs("a.pdf")))
	require.NoError(t, h.ctrl.StartUpload(ctx))
	require.NoError(t, h.ctrl.Back())
	assert.Empty(t, h.ctrl.Snapshot().ExampleQuestions)

	require.NoError(t, h.ctrl.SelectStore(ctx, "fileSearchStores/new"))
	assert.Equal(t, []string{"Q1?", "Q2?"}, h.ctrl.Snapshot().ExampleQuestions)
}

func TestSendMessageSuccess(t *testing.T) {
	ctx := context.Background()
	seed := []model.RagStore{{Name: "fileSearchStores/a", DisplayName: "a"}}
	h := newHarness(t, keyed(), seed)
	chunks := []model.GroundingChunk{{RetrievedContext: &model.RetrievedContext{Title: "a.pdf", Text: "source"}}}
	h.svc.searchRes = model.SearchResult{Text: "the answer", GroundingChunks: chunks}
	require.NoError(t, h.ctrl.SelectStore(ctx, "fileSearchStores/a"))

	require.NoError(t, h.ctrl.SendMessage(ctx, "  question?  "))

	snap := h.ctrl.Snapshot()
	require.Len(t, snap.History, 2)
	assert.Equal(t, model.RoleUser, snap.History[0].Role)
	assert.Equal(t, "question?", snap.History[0].Text())
	assert.Equal(t, model.RoleModel, snap.History[1].Role)
	assert.Equal(t, "the answer", snap.History[1].Text())
	assert.Equal(t, chunks, snap.History[1].GroundingChunks)
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.ChatError)

	persisted, err := h.db.LoadHistory(ctx, "fileSearchStores/a")
	require.NoError(t, err)
	assert.Equal(t, snap.History, persisted)

	assert.ErrorIs(t, h.ctrl.SendMessage(ctx, "   "), ErrEmptyMessage)
}

func TestSendMessageFailureAppendsOneApology(t *testing.T) {
	ctx := context.Background()
	seed := []model.RagStore{{Name: "fileSearchStores/a", DisplayName: "a"}}
	h := newHarness(t, keyed(), seed)
	h.svc.searchErr = errors.New("stream closed mid-response")
	require.NoError(t, h.ctrl.SelectStore(ctx, "fileSearchStores/a"))

	require.Error(t, h.ctrl.SendMessage(ctx, "question?"))

	snap := h.ctrl.Snapshot()
	require.Len(t, snap.History, 2)
	assert.Equal(t, "question?", snap.History[0].Text())
	assert.Equal(t, ApologyText, snap.History[1].Text())
	assert.False(t, snap.Loading)
	assert.Contains(t, snap.ChatError, "stream closed")

	persisted, err := h.db.LoadHistory(ctx, "fileSearchStores/a")
	require.NoError(t, err)
	assert.Len(t, persisted, 2)

	// a later success clears the error and keeps appending
	h.svc.searchErr = nil
	h.svc.searchRes = model.SearchResult{Text: "ok"}
	require.NoError(t, h.ctrl.SendMessage(ctx, "again"))
	snap = h.ctrl.Snapshot()
	assert.Len(t, snap.History, 4)
	assert.Empty(t, snap.ChatError)
}

func TestSendMessageOutsideChatting(t *testing.T) {
	h := newHarness(t, keyed(), nil)
	assert.ErrorIs(t, h.ctrl.SendMessage(context.Background(), "hi"), model.ErrInvalidTransition)
	assert.Zero(t, h.svc.remoteCalls())
}

func TestDeleteStore(t *testing.T) {
	ctx := context.Background()
	seed := []model.RagStore{
		{Name: "fileSearchStores/a", DisplayName: "a"},
		{Name: "fileSearchStores/b", DisplayName: "b"},
		{Name: "fileSearchStores/c", DisplayName: "c"},
	}
	h := newHarness(t, keyed(), seed)
	require.NoError(t, h.db.SaveHistory(ctx, "fileSearchStores/b", []model.ChatMessage{model.NewTextMessage(model.RoleUser, "hi")}))

	assert.ErrorIs(t, h.ctrl.DeleteStore(ctx, "fileSearchStores/b", false), model.ErrConfirmationRequired)
	assert.Len(t, h.ctrl.Snapshot().Stores, 3)

	h.svc.deleteErr = errors.New("remote unavailable")
	require.NoError(t, h.ctrl.DeleteStore(ctx, "fileSearchStores/b", true))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, model.StatusWelcome, snap.Status)
	assert.Equal(t, []model.RagStore{seed[0], seed[2]}, snap.Stores)
	persisted, err := h.db.LoadStores(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.RagStore{seed[0], seed[2]}, persisted)

	gone, err := h.db.LoadHistory(ctx, "fileSearchStores/b")
	require.NoError(t, err)
	assert.Empty(t, gone)
	assert.Equal(t, []string{"fileSearchStores/b"}, h.svc.deleted)
	assert.Empty(t, snap.ErrorMessage)

	assert.ErrorIs(t, h.ctrl.DeleteStore(ctx, "fileSearchStores/b", true), model.ErrStoreNotFound)
}

func TestDeleteNonActiveStoreWhileChatting(t *testing.T) {
	ctx := context.Background()
	seed := []model.RagStore{
		{Name: "fileSearchStores/a", DisplayName: "a"},
		{Name: "fileSearchStores/b", DisplayName: "b"},
	}
	h := newHarness(t, keyed(), seed)
	history := []model.ChatMessage{model.NewTextMessage(model.RoleUser, "hi")}
	require.NoError(t, h.db.SaveHistory(ctx, "fileSearchStores/a", history))
	require.NoError(t, h.ctrl.SelectStore(ctx, "fileSearchStores/a"))

	assert.ErrorIs(t, h.ctrl.DeleteStore(ctx, "fileSearchStores/a", true), model.ErrInvalidTransition)

	require.NoError(t, h.ctrl.DeleteStore(ctx, "fileSearchStores/b", true))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, model.StatusChatting, snap.Status)
	assert.Equal(t, "fileSearchStores/a", snap.ActiveStore)
	assert.Equal(t, history, snap.History)
	assert.Equal(t, []model.RagStore{seed[0]}, snap.Stores)
}

func TestSaveSettingsUpdatesReadiness(t *testing.T) {
	h := newHarness(t, model.Settings{Model: "gemini-2.5-flash"}, nil)
	require.NoError(t, h.ctrl.SelectFiles(docs("a.pdf")))
	require.ErrorIs(t, h.ctrl.StartUpload(context.Background()), model.ErrKeyRequired)

	next := model.Settings{APIKey: "new-key", Model: "gemini-2.5-pro"}
	require.NoError(t, h.ctrl.SaveSettings(next))

	snap := h.ctrl.Snapshot()
	assert.True(t, snap.KeyReady)
	assert.Empty(t, snap.APIKeyError)
	assert.Equal(t, next, snap.Settings)
	assert.Equal(t, next, h.settings.s)

	h.settings.saveErr = errors.New("disk full")
	require.Error(t, h.ctrl.SaveSettings(model.Settings{Model: "gemini-2.5-flash"}))
	assert.Equal(t, next, h.ctrl.Snapshot().Settings)
}

func TestOpenSelectKeyRefreshesReadiness(t *testing.T) {
	h := newHarness(t, model.Settings{Model: "gemini-2.5-flash"}, nil)
	assert.False(t, h.ctrl.Snapshot().KeyReady)

	require.NoError(t, h.ctrl.OpenSelectKey(context.Background()))
	snap := h.ctrl.Snapshot()
	assert.True(t, snap.KeyReady)
	assert.True(t, snap.HostKeySelected)
}

func TestInvalidTransitions(t *testing.T) {
	h := newHarness(t, keyed(), nil)
	assert.ErrorIs(t, h.ctrl.Back(), model.ErrInvalidTransition)
	assert.ErrorIs(t, h.ctrl.Recover(), model.ErrInvalidTransition)
}

// failingRegistry accepts reads but rejects every write.
type failingRegistry struct {
	model.RegistryRepository
	err error
}

func (f failingRegistry) SaveStores(context.Context, []model.RagStore) error { return f.err }

func TestLoadFallsBackToDefaultSettings(t *testing.T) {
	db := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ragchat.sqlite"))
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Init(context.Background()))

	defaults := model.Settings{Model: "gemini-2.5-flash"}
	ctrl := New(Deps{
		Service:         &fakeService{},
		Host:            &fakeHost{},
		Settings:        &memSettings{loadErr: errors.New("config.toml: bad syntax")},
		Registry:        db,
		History:         db,
		DefaultSettings: defaults,
	})
	require.NoError(t, ctrl.Load(context.Background()))

	snap := ctrl.Snapshot()
	assert.Equal(t, model.StatusWelcome, snap.Status)
	assert.Equal(t, defaults, snap.Settings)
}

func TestUploadSurfacesRegistrySaveFailure(t *testing.T) {
	ctx := context.Background()
	db := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ragchat.sqlite"))
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Init(ctx))

	svc := &fakeService{questions: []string{"Q?"}}
	ctrl := New(Deps{
		Service:  svc,
		Host:     &fakeHost{},
		Settings: &memSettings{s: keyed()},
		Registry: failingRegistry{RegistryRepository: db, err: errors.New("database is locked")},
		History:  db,
		Sleep:    func(context.Context, time.Duration) {},
	})
	require.NoError(t, ctrl.Load(ctx))
	require.NoError(t, ctrl.SelectFiles(docs("a.pdf")))

	require.NoError(t, ctrl.StartUpload(ctx))

	snap := ctrl.Snapshot()
	assert.Equal(t, model.StatusChatting, snap.Status)
	assert.Contains(t, snap.ChatError, "missing after a restart")
	assert.Contains(t, snap.ChatError, "database is locked")
	require.Len(t, snap.Stores, 1)

	persisted, err := db.LoadStores(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)
}
