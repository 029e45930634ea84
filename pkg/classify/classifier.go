package classify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/dealwise/internal/models"
	"github.com/xhad/dealwise/internal/types"
)

const classifierSystemPrompt = `You classify real estate investing questions for a retrieval system.
Respond with compact JSON only, no prose, in exactly this shape:
{"intent":"<one short phrase>","topics":["..."],"complexity":"simple|moderate|complex","categories":["..."]}
Valid categories: Fundamentals, Deal Analysis, Financing, Market Research, Negotiation, Legal & Compliance, Property Condition, Exit Strategies.
Pick at most three categories.`

// Classifier labels queries with intent, topics, complexity, and target
// categories using one fast-tier model call. It never fails: any model or
// parse problem falls back to keyword classification against the taxonomy.
type Classifier struct {
	completer types.Completer
	logger    *zap.Logger
}

func NewClassifier(completer types.Completer, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		completer: completer,
		logger:    logger.With(zap.String("component", "classifier")),
	}
}

func (c *Classifier) Classify(ctx context.Context, query string) models.QueryClassification {
	start := time.Now()

	completion, err := c.completer.Complete(ctx, classifierSystemPrompt, query, types.CompleteOptions{
		MaxTokens:   300,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		c.logger.Warn("classification call failed, using keyword fallback", zap.Error(err))
		return fallbackClassify(query)
	}

	classification, ok := parseClassification(completion.Text)
	if !ok {
		c.logger.Warn("classification output unparseable, using keyword fallback",
			zap.String("output", truncate(completion.Text, 200)))
		return fallbackClassify(query)
	}

	c.logger.Debug("query classified",
		zap.String("intent", classification.Intent),
		zap.String("complexity", classification.Complexity),
		zap.Strings("categories", classification.Categories),
		zap.Duration("elapsed", time.Since(start)))

	return classification
}

// parseClassification parses model output into a well-formed classification.
// Unknown categories are dropped, complexity is clamped to the valid set.
func parseClassification(text string) (models.QueryClassification, bool) {
	text = stripJSONFences(text)

	var raw models.QueryClassification
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return models.QueryClassification{}, false
	}
	if raw.Intent == "" && len(raw.Categories) == 0 && len(raw.Topics) == 0 {
		return models.QueryClassification{}, false
	}

	var categories []string
	for _, category := range raw.Categories {
		if KnownCategory(category) {
			categories = append(categories, category)
		}
	}
	raw.Categories = categories

	switch strings.ToLower(raw.Complexity) {
	case "simple", "moderate", "complex":
		raw.Complexity = strings.ToLower(raw.Complexity)
	default:
		raw.Complexity = "moderate"
	}

	raw.Source = models.ClassificationSourceLLM
	return raw, true
}

// fallbackClassify builds a lower-confidence but well-formed classification
// from the shared taxonomy.
func fallbackClassify(query string) models.QueryClassification {
	concepts := MatchConcepts(query)

	topics := make([]string, 0, len(concepts))
	for _, concept := range concepts {
		topics = append(topics, concept.Name)
	}

	categories := CategoriesFor(concepts)
	if len(categories) > 3 {
		categories = categories[:3]
	}

	complexity := "moderate"
	switch {
	case len(strings.Fields(query)) <= 6 && len(concepts) <= 1:
		complexity = "simple"
	case len(concepts) >= 3:
		complexity = "complex"
	}

	intent := "question"
	if isActionQuery(query) {
		intent = "action"
	}

	return models.QueryClassification{
		Intent:     intent,
		Topics:     topics,
		Complexity: complexity,
		Categories: categories,
		Source:     models.ClassificationSourceFallback,
	}
}

// AdjustLimit widens or narrows the search limit by query complexity.
func AdjustLimit(complexity string, base int) int {
	switch complexity {
	case "simple":
		if base <= 3 {
			return base
		}
		return base - 2
	case "complex":
		return base + 3
	default:
		return base
	}
}

// stripJSONFences tolerates models that wrap JSON in markdown fences.
func stripJSONFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
