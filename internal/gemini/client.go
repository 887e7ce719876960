package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ragchat/internal/model"
)

const (
	DefaultBaseURL      = "https://generativelanguage.googleapis.com"
	DefaultModel        = "gemini-2.5-flash"
	apiVersion          = "v1beta"
	defaultTimeout      = 120 * time.Second
	defaultPollInterval = 2 * time.Second
	maxExampleQuestions = 4
)

const examplePrompt = "You are helping a user explore the documents in this store. " +
	"Suggest 4 short, specific questions a user could ask about these documents. " +
	"Respond with ONLY a JSON array of strings and no other text."

// Client talks to the Gemini File Search REST API. It must be initialized
// before use and may be re-initialized at any time with new settings.
type Client struct {
	HTTPClient   *http.Client
	PollInterval time.Duration

	mu          sync.RWMutex
	apiKey      string
	model       string
	baseURL     string
	initialized bool
}

func NewClient() *Client {
	return &Client{
		HTTPClient:   &http.Client{Timeout: defaultTimeout},
		PollInterval: defaultPollInterval,
	}
}

type connection struct {
	apiKey  string
	model   string
	baseURL string
}

func (c *Client) Initialize(apiKey, modelName, baseURL string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &model.ProviderError{Code: CodeAuth, Message: "missing Gemini API key"}
	}

	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &model.ProviderError{Code: CodeFailed, Message: fmt.Sprintf("invalid base url %q", baseURL), Cause: err}
	}

	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = DefaultModel
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = apiKey
	c.model = modelName
	c.baseURL = baseURL
	c.initialized = true
	return nil
}

func (c *Client) conn() (connection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return connection{}, model.ErrNotInitialized
	}
	return connection{apiKey: c.apiKey, model: c.model, baseURL: c.baseURL}, nil
}

type fileSearchStore struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
}

func (c *Client) CreateRagStore(ctx context.Context, displayName string) (string, error) {
	cn, err := c.conn()
	if err != nil {
		return "", err
	}
	var created fileSearchStore
	endpoint := cn.baseURL + "/" + apiVersion + "/fileSearchStores"
	if err := c.doJSON(ctx, cn, http.MethodPost, endpoint, fileSearchStore{DisplayName: displayName}, &created); err != nil {
		return "", err
	}
	if strings.TrimSpace(created.Name) == "" {
		return "", &model.ProviderError{Code: CodeFailed, Message: "create store response had no name"}
	}
	return created.Name, nil
}

type operation struct {
	Name  string    `json:"name"`
	Done  bool      `json:"done"`
	Error *apiError `json:"error,omitempty"`
}

// UploadToRagStore uploads one file and waits for ingestion to finish.
func (c *Client) UploadToRagStore(ctx context.Context, storeName string, doc model.Document) error {
	cn, err := c.conn()
	if err != nil {
		return err
	}
	if strings.TrimSpace(storeName) == "" {
		return &model.ProviderError{Code: CodeFailed, Message: "store name is required"}
	}
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return fmt.Errorf("read %s: %w", doc.Path, err)
	}
	name := doc.Name
	if strings.TrimSpace(name) == "" {
		name = filepath.Base(doc.Path)
	}

	body, contentType, err := buildMultipartRelated(name, data)
	if err != nil {
		return &model.ProviderError{Code: CodeFailed, Message: "failed to build upload body", Cause: err}
	}

	endpoint := cn.baseURL + "/upload/" + apiVersion + "/" + storeName + ":uploadToFileSearchStore?uploadType=multipart"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &model.ProviderError{Code: CodeFailed, Message: "failed to build upload request", Cause: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Goog-Upload-Protocol", "multipart")

	var op operation
	if err := c.do(cn, req, &op); err != nil {
		return err
	}
	return c.waitForOperation(ctx, cn, op)
}

func (c *Client) waitForOperation(ctx context.Context, cn connection, op operation) error {
	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	for {
		if op.Error != nil {
			return mapAPIError(op.Error)
		}
		if op.Done {
			return nil
		}
		if strings.TrimSpace(op.Name) == "" {
			return &model.ProviderError{Code: CodeFailed, Message: "upload operation has no name"}
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		next := operation{}
		if err := c.doJSON(ctx, cn, http.MethodGet, cn.baseURL+"/"+apiVersion+"/"+op.Name, nil, &next); err != nil {
			return err
		}
		if next.Name == "" {
			next.Name = op.Name
		}
		op = next
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
	Tools    []tool    `json:"tools,omitempty"`
}

type content struct {
	Role  string       `json:"role,omitempty"`
	Parts []model.Part `json:"parts"`
}

type tool struct {
	FileSearch *fileSearchTool `json:"fileSearch,omitempty"`
}

type fileSearchTool struct {
	FileSearchStoreNames []string `json:"fileSearchStoreNames"`
}

type generateResponse struct {
	Candidates []struct {
		Content           content `json:"content"`
		GroundingMetadata *struct {
			GroundingChunks []model.GroundingChunk `json:"groundingChunks"`
		} `json:"groundingMetadata,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

func (c *Client) generate(ctx context.Context, storeName, prompt string) (model.SearchResult, error) {
	cn, err := c.conn()
	if err != nil {
		return model.SearchResult{}, err
	}
	payload := generateRequest{
		Contents: []content{{Role: model.RoleUser, Parts: []model.Part{{Text: prompt}}}},
		Tools:    []tool{{FileSearch: &fileSearchTool{FileSearchStoreNames: []string{storeName}}}},
	}
	endpoint := cn.baseURL + "/" + apiVersion + "/models/" + url.PathEscape(cn.model) + ":generateContent"
	var res generateResponse
	if err := c.doJSON(ctx, cn, http.MethodPost, endpoint, payload, &res); err != nil {
		return model.SearchResult{}, err
	}
	if len(res.Candidates) == 0 {
		msg := "response had no candidates"
		if res.PromptFeedback != nil && res.PromptFeedback.BlockReason != "" {
			msg = "prompt blocked: " + res.PromptFeedback.BlockReason
		}
		return model.SearchResult{}, &model.ProviderError{Code: CodeFailed, Message: msg}
	}
	cand := res.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	out := model.SearchResult{Text: text.String()}
	if cand.GroundingMetadata != nil {
		out.GroundingChunks = cand.GroundingMetadata.GroundingChunks
	}
	return out, nil
}

// FileSearch runs a grounded query against storeName.
func (c *Client) FileSearch(ctx context.Context, storeName, query string) (model.SearchResult, error) {
	return c.generate(ctx, storeName, query)
}

func (c *Client) GenerateExampleQuestions(ctx context.Context, storeName string) ([]string, error) {
	res, err := c.generate(ctx, storeName, examplePrompt)
	if err != nil {
		return nil, err
	}
	return ParseQuestions(res.Text), nil
}

func (c *Client) DeleteRagStore(ctx context.Context, storeName string) error {
	cn, err := c.conn()
	if err != nil {
		return err
	}
	endpoint := cn.baseURL + "/" + apiVersion + "/" + storeName + "?force=true"
	return c.doJSON(ctx, cn, http.MethodDelete, endpoint, nil, nil)
}

// ParseQuestions extracts suggested questions from model output. JSON arrays
// are preferred; otherwise each non-empty line counts as one question.
func ParseQuestions(text string) []string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw []string
	if start, end := strings.Index(text, "["), strings.LastIndex(text, "]"); start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
			raw = nil
		}
	}
	if raw == nil {
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimLeft(strings.TrimSpace(line), "-*•0123456789.) ")
			raw = append(raw, line)
		}
	}

	out := make([]string, 0, maxExampleQuestions)
	for _, q := range raw {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == maxExampleQuestions {
			break
		}
	}
	return out
}

func buildMultipartRelated(fileName string, data []byte) ([]byte, string, error) {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := writer.CreatePart(metaHeader)
	if err != nil {
		return nil, "", err
	}
	meta, err := json.Marshal(map[string]string{"displayName": fileName, "mimeType": mimeType})
	if err != nil {
		return nil, "", err
	}
	if _, err := metaPart.Write(meta); err != nil {
		return nil, "", err
	}

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Type", mimeType)
	filePart, err := writer.CreatePart(fileHeader)
	if err != nil {
		return nil, "", err
	}
	if _, err := filePart.Write(data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), "multipart/related; boundary=" + writer.Boundary(), nil
}

func (c *Client) doJSON(ctx context.Context, cn connection, method, endpoint string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &model.ProviderError{Code: CodeFailed, Message: "failed to marshal request", Cause: err}
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &model.ProviderError{Code: CodeFailed, Message: "failed to build request", Cause: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(cn, req, out)
}

func (c *Client) do(cn connection, req *http.Request, out any) error {
	req.Header.Set("x-goog-api-key", cn.apiKey)
	req.Header.Set("Accept", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return &model.ProviderError{Code: CodeFailed, Message: "request failed", Retryable: true, Cause: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &model.ProviderError{Code: CodeFailed, Message: "failed to read response", Retryable: true, StatusCode: resp.StatusCode, Cause: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return mapProviderError(resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &model.ProviderError{Code: CodeFailed, Message: "failed to decode response", StatusCode: resp.StatusCode, Cause: err}
	}
	return nil
}
