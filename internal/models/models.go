package models

import "time"

// Document is a curated knowledge-base article. Documents are immutable from
// the pipeline's point of view; they change only through re-ingestion.
type Document struct {
	ID          string
	Slug        string
	Title       string
	Category    string
	Tags        []string
	Difficulty  string
	Content     string
	ContentHash string
}

// Chunk is a retrieval-sized fragment of a document. Breadcrumb holds the
// heading ancestry active at the chunk's source position. Continuation marks
// chunks whose head carries overlap pulled from the previous chunk; the
// overlap is kept separate from Content so the original text remains
// reconstructable.
type Chunk struct {
	Index        int
	Content      string
	Overlap      string
	TokenCount   int
	Breadcrumb   []string
	Continuation bool
}

// Text returns the embeddable text of the chunk, overlap included.
func (c *Chunk) Text() string {
	if c.Overlap == "" {
		return c.Content
	}
	return c.Overlap + "\n" + c.Content
}

// ProcessedDocument pairs a document with its chunks and their embeddings.
// Embeddings[i] belongs to Chunks[i]; a failed embedding leaves an empty slot.
type ProcessedDocument struct {
	Document
	Chunks     []Chunk
	Embeddings [][]float32
}

// SearchResult is one ranked chunk returned by semantic search.
type SearchResult struct {
	ChunkID       string
	DocumentID    string
	DocumentSlug  string
	DocumentTitle string
	Category      string
	Content       string
	Breadcrumb    []string
	Similarity    float64
}

// Classification sources.
const (
	ClassificationSourceLLM      = "llm"
	ClassificationSourceFallback = "fallback"
)

// QueryClassification is the classifier's verdict on a user query. Source
// records whether it came from the model or from the keyword fallback, so
// callers can tell a degraded classification from a real one.
type QueryClassification struct {
	Intent     string   `json:"intent"`
	Topics     []string `json:"topics"`
	Complexity string   `json:"complexity"`
	Categories []string `json:"categories"`
	Source     string   `json:"source,omitempty"`
}

// Reformulation is the rewrite of an action query into knowledge-seeking
// language. KnowledgeQuery is what gets embedded, never the raw imperative.
type Reformulation struct {
	KnowledgeQuery string   `json:"knowledge_query"`
	Concepts       []string `json:"concepts"`
	Categories     []string `json:"categories"`
	IsActionQuery  bool     `json:"is_action_query"`
	Source         string   `json:"source,omitempty"`
}

// Source identifies a document cited in a response.
type Source struct {
	DocumentID string `json:"document_id"`
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	Category   string `json:"category"`
}

// CachedResponse is the value stored in the response cache.
type CachedResponse struct {
	Response       string              `json:"response"`
	Sources        []Source            `json:"sources"`
	Classification QueryClassification `json:"classification"`
	CachedAt       time.Time           `json:"cached_at"`
}

// ConversationState is the per-session retrieval memory. All slices are
// bounded: FetchedDocIDs behaves as a ring of at most 50 entries, Concepts
// keeps at most 30. Expires after session inactivity.
type ConversationState struct {
	SessionID         string    `json:"session_id"`
	FetchedCategories []string  `json:"fetched_categories"`
	FetchedDocIDs     []string  `json:"fetched_doc_ids"`
	Concepts          []string  `json:"concepts"`
	SeenTopics        []string  `json:"seen_topics"`
	LastQueryTime     time.Time `json:"last_query_time"`
}

// HasCategory reports whether the session already surfaced material from the
// given category.
func (s *ConversationState) HasCategory(category string) bool {
	for _, c := range s.FetchedCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Urgency levels for dynamic retrieval triggers.
const (
	UrgencyNone   = "none"
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

// RetrievalTrigger maps a vocabulary group found in tool output to the
// knowledge categories worth fetching reactively.
type RetrievalTrigger struct {
	Name       string
	Terms      []string
	Categories []string
	Urgency    string
}
