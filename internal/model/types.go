package model

import "strings"

// AppStatus is the lifecycle state that decides which view is presented.
type AppStatus int

const (
	StatusInitializing AppStatus = iota
	StatusWelcome
	StatusUploading
	StatusChatting
	StatusError
)

func (s AppStatus) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusWelcome:
		return "welcome"
	case StatusUploading:
		return "uploading"
	case StatusChatting:
		return "chatting"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Settings holds the user-editable connection settings.
// An empty BaseURL means the default endpoint.
type Settings struct {
	APIKey  string
	Model   string
	BaseURL string
}

// RagStore is a remote document index. Name is assigned by the service and
// doubles as the local history key.
type RagStore struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

const (
	RoleUser  = "user"
	RoleModel = "model"
)

type Part struct {
	Text string `json:"text"`
}

// RetrievedContext is the citation payload of a grounding chunk.
type RetrievedContext struct {
	URI   string `json:"uri,omitempty"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
}

type GroundingChunk struct {
	RetrievedContext *RetrievedContext `json:"retrievedContext,omitempty"`
}

type ChatMessage struct {
	Role            string           `json:"role"`
	Parts           []Part           `json:"parts"`
	GroundingChunks []GroundingChunk `json:"groundingChunks,omitempty"`
}

// NewTextMessage builds a single-part message.
func NewTextMessage(role, text string) ChatMessage {
	return ChatMessage{Role: role, Parts: []Part{{Text: text}}}
}

// Text joins all text parts of the message.
func (m ChatMessage) Text() string {
	parts := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "")
}

// UploadProgress exists only while a session is uploading.
type UploadProgress struct {
	Current  int
	Total    int
	Message  string
	FileName string
}

// Document is a local file selected for upload.
type Document struct {
	Name string
	Path string
	Size int64
}

// SearchResult is the answer to a grounded query.
type SearchResult struct {
	Text            string
	GroundingChunks []GroundingChunk
}
