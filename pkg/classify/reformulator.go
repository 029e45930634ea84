package classify

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/dealwise/internal/models"
	"github.com/xhad/dealwise/internal/types"
)

// SourcePassthrough marks queries that were already knowledge-seeking and
// needed no rewrite.
const SourcePassthrough = "passthrough"

// Queries that already read like knowledge questions embed well as-is.
var knowledgePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(what|who|when|where|why|how)\b`),
	regexp.MustCompile(`(?i)^\s*(is|are|does|do|can|could|should|would)\b`),
	regexp.MustCompile(`(?i)\bexplain\b`),
	regexp.MustCompile(`(?i)\b(tell me about|meaning of|definition of|difference between)\b`),
}

// Imperative verbs that signal an action query. Action phrasing embeds
// poorly against declarative knowledge prose, so these get rewritten.
var actionVerbs = []string{
	"find", "search", "get", "show", "list", "analyze", "analyse", "match",
	"create", "calculate", "compare", "filter", "locate", "pull", "fetch",
	"run", "give me", "look up", "identify",
}

var actionVerbRe = regexp.MustCompile(`(?i)^\s*(` + strings.Join(actionVerbs, "|") + `)\b`)

func isActionQuery(query string) bool {
	return actionVerbRe.MatchString(query)
}

const reformulatorSystemPrompt = `You rewrite imperative real estate investing commands into declarative knowledge queries for semantic search.
Respond with compact JSON only:
{"knowledge_query":"<concept-dense declarative phrase>","concepts":["..."],"categories":["..."]}
Valid categories: Fundamentals, Deal Analysis, Financing, Market Research, Negotiation, Legal & Compliance, Property Condition, Exit Strategies.
The knowledge_query must name the underlying domain concepts, never repeat the command verbatim.`

type ReformulatorConfig struct {
	// Timeout bounds the model call; on expiry the keyword fallback answers
	// so a slow model degrades quality, never latency.
	Timeout time.Duration
}

// Reformulator rewrites action queries into knowledge-seeking language.
// Knowledge questions pass through untouched on a cheap path.
type Reformulator struct {
	config    ReformulatorConfig
	completer types.Completer
	logger    *zap.Logger
}

func NewReformulator(config ReformulatorConfig, completer types.Completer, logger *zap.Logger) *Reformulator {
	if config.Timeout == 0 {
		config.Timeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reformulator{
		config:    config,
		completer: completer,
		logger:    logger.With(zap.String("component", "reformulator")),
	}
}

func (r *Reformulator) Reformulate(ctx context.Context, query string) models.Reformulation {
	for _, pattern := range knowledgePatterns {
		if pattern.MatchString(query) {
			return models.Reformulation{
				KnowledgeQuery: query,
				IsActionQuery:  false,
				Source:         SourcePassthrough,
			}
		}
	}

	if !isActionQuery(query) {
		// Neither shape; leave it alone rather than guess.
		return models.Reformulation{
			KnowledgeQuery: query,
			IsActionQuery:  false,
			Source:         SourcePassthrough,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	completion, err := r.completer.Complete(callCtx, reformulatorSystemPrompt, query, types.CompleteOptions{
		MaxTokens:   300,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		r.logger.Warn("reformulation call failed, using keyword extraction", zap.Error(err))
		return fallbackReformulate(query)
	}

	reformulation, ok := parseReformulation(completion.Text)
	if !ok {
		r.logger.Warn("reformulation output unparseable, using keyword extraction",
			zap.String("output", truncate(completion.Text, 200)))
		return fallbackReformulate(query)
	}

	return reformulation
}

func parseReformulation(text string) (models.Reformulation, bool) {
	text = stripJSONFences(text)

	var raw models.Reformulation
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return models.Reformulation{}, false
	}
	if strings.TrimSpace(raw.KnowledgeQuery) == "" {
		return models.Reformulation{}, false
	}

	var categories []string
	for _, category := range raw.Categories {
		if KnownCategory(category) {
			categories = append(categories, category)
		}
	}
	raw.Categories = categories

	raw.IsActionQuery = true
	raw.Source = models.ClassificationSourceLLM
	return raw, true
}

// fallbackReformulate extracts concepts from the same taxonomy the
// classifier fallback uses and builds a concept-dense query string from
// their names and terms.
func fallbackReformulate(query string) models.Reformulation {
	concepts := MatchConcepts(query)

	var (
		names []string
		terms []string
	)
	for _, concept := range concepts {
		names = append(names, concept.Name)
		terms = append(terms, concept.Terms[0])
	}

	knowledgeQuery := strings.Join(append(names, terms...), " ")
	if knowledgeQuery == "" {
		// Nothing matched; the raw query is still better than an empty one.
		knowledgeQuery = query
	}

	return models.Reformulation{
		KnowledgeQuery: knowledgeQuery,
		Concepts:       names,
		Categories:     CategoriesFor(concepts),
		IsActionQuery:  true,
		Source:         models.ClassificationSourceFallback,
	}
}
