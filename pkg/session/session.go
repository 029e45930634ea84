// Package session keeps the per-conversation retrieval memory: which
// categories and documents were already surfaced, which concepts came up.
// It is a best-effort personalization signal; Redis being down must never
// break a request, and concurrent read-then-write races are tolerated as
// last-write-wins.
package session

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xhad/dealwise/internal/models"
	"github.com/xhad/dealwise/pkg/classify"
)

// DefaultTTL is the canonical session inactivity timeout.
const DefaultTTL = 30 * time.Minute

const (
	keyPrefix      = "dw:sess:"
	maxFetchedDocs = 50
	maxConcepts    = 30
	maxSeenTopics  = 30
)

// Entity patterns: addresses, zip codes, currency amounts, id-like tokens.
// Regex only; this runs every turn and must stay cheap.
var (
	addressRe  = regexp.MustCompile(`\b\d+\s+(?:[A-Z][a-z]+\s)+?(?:St|Street|Ave|Avenue|Blvd|Boulevard|Dr|Drive|Rd|Road|Ln|Lane|Ct|Court|Way|Pl|Place)\b`)
	zipRe      = regexp.MustCompile(`\b\d{5}(?:-\d{4})?\b`)
	currencyRe = regexp.MustCompile(`\$\d[\d,]*(?:\.\d+)?\s?[kKmM]?\b`)
	idTokenRe  = regexp.MustCompile(`\b[A-Za-z]{2,6}-\d{3,}\b`)
)

type SessionConfig struct {
	TTL time.Duration
}

type Store struct {
	config SessionConfig
	client *redis.Client
	logger *zap.Logger
}

func NewWithClient(config SessionConfig, client *redis.Client, logger *zap.Logger) *Store {
	if config.TTL == 0 {
		config.TTL = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		config: config,
		client: client,
		logger: logger.With(zap.String("component", "session")),
	}
}

// Get loads the session state, returning a fresh state on miss or store
// failure.
func (s *Store) Get(ctx context.Context, sessionID string) *models.ConversationState {
	fresh := &models.ConversationState{SessionID: sessionID}

	data, err := s.client.Get(ctx, keyPrefix+sessionID).Result()
	if err == redis.Nil {
		return fresh
	}
	if err != nil {
		s.logger.Warn("session read failed", zap.Error(err))
		return fresh
	}

	var state models.ConversationState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		s.logger.Warn("session state corrupt", zap.Error(err))
		return fresh
	}
	state.SessionID = sessionID

	return &state
}

// Save writes the state back and resets the inactivity TTL. Best-effort.
func (s *Store) Save(ctx context.Context, state *models.ConversationState) {
	data, err := json.Marshal(state)
	if err != nil {
		s.logger.Warn("session marshal failed", zap.Error(err))
		return
	}

	if err := s.client.Set(ctx, keyPrefix+state.SessionID, data, s.config.TTL).Err(); err != nil {
		s.logger.Warn("session write failed", zap.Error(err))
	}
}

// TurnAnalysis is what one user turn contributes to retrieval.
type TurnAnalysis struct {
	Entities     []string
	Topics       []string
	TopicChanged bool
	// ExcludeDocIDs is empty after a topic change: a fresh topic gets fresh
	// retrieval; a continued topic avoids re-surfacing the same documents.
	ExcludeDocIDs []string
}

// AnalyzeTurn extracts entities and topics from the query, detects topic
// change against the session's seen topics, and derives the exclusion set.
func (s *Store) AnalyzeTurn(ctx context.Context, sessionID, query string) (*models.ConversationState, TurnAnalysis) {
	state := s.Get(ctx, sessionID)

	analysis := TurnAnalysis{
		Entities: extractEntities(query),
		Topics:   extractTopics(query),
	}

	analysis.TopicChanged = topicChanged(analysis.Topics, state.SeenTopics)
	if !analysis.TopicChanged {
		analysis.ExcludeDocIDs = append(analysis.ExcludeDocIDs, state.FetchedDocIDs...)
	}

	return state, analysis
}

// RecordRetrieval folds a completed retrieval into the session state and
// saves it. Topics and extracted entities both land in Concepts; all appends
// are bounded.
func (s *Store) RecordRetrieval(ctx context.Context, state *models.ConversationState, analysis TurnAnalysis, categories, docIDs []string) {
	for _, category := range categories {
		if !state.HasCategory(category) {
			state.FetchedCategories = append(state.FetchedCategories, category)
		}
	}

	state.FetchedDocIDs = appendRing(state.FetchedDocIDs, docIDs, maxFetchedDocs)
	state.Concepts = appendRing(state.Concepts, analysis.Topics, maxConcepts)
	state.Concepts = appendRing(state.Concepts, analysis.Entities, maxConcepts)
	state.SeenTopics = appendRing(state.SeenTopics, analysis.Topics, maxSeenTopics)
	state.LastQueryTime = time.Now()

	s.Save(ctx, state)
}

// appendRing appends values (deduplicated) and trims from the front to keep
// at most max entries.
func appendRing(existing, values []string, max int) []string {
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[v] = true
	}

	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		existing = append(existing, v)
	}

	if len(existing) > max {
		existing = existing[len(existing)-max:]
	}
	return existing
}

func extractEntities(query string) []string {
	var entities []string
	for _, re := range []*regexp.Regexp{addressRe, zipRe, currencyRe, idTokenRe} {
		entities = append(entities, re.FindAllString(query, -1)...)
	}
	return dedupe(entities)
}

// extractTopics maps the turn onto taxonomy concept names.
func extractTopics(query string) []string {
	concepts := classify.MatchConcepts(query)
	topics := make([]string, 0, len(concepts))
	for _, concept := range concepts {
		topics = append(topics, concept.Name)
	}
	return topics
}

// topicChanged reports a change when the turn has topics and none of them
// were seen before. A turn with no recognizable topic is treated as a
// continuation; there is no signal to reset on.
func topicChanged(current, seen []string) bool {
	if len(current) == 0 || len(seen) == 0 {
		return false
	}

	seenSet := make(map[string]bool, len(seen))
	for _, topic := range seen {
		seenSet[topic] = true
	}
	for _, topic := range current {
		if seenSet[topic] {
			return false
		}
	}
	return true
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
