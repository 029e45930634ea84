// Package dynamic implements reactive re-retrieval: tool output can surface
// terms ("probate", "lien") the original question never mentioned, and those
// terms may call for knowledge the proactive pre-query retrieval could not
// have fetched.
package dynamic

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xhad/dealwise/internal/models"
	"github.com/xhad/dealwise/internal/types"
	"github.com/xhad/dealwise/pkg/classify"
)

// triggers is the static vocabulary table. Each group maps tool-output terms
// to the categories worth fetching and how urgently.
var triggers = []models.RetrievalTrigger{
	{
		Name:       "legal and title issues",
		Terms:      []string{"probate", "lien", "liens", "title defect", "clouded title", "encumbrance", "judgment", "code violation", "foreclosure", "lis pendens"},
		Categories: []string{classify.CategoryLegal},
		Urgency:    models.UrgencyHigh,
	},
	{
		Name:       "risk signals",
		Terms:      []string{"underwater", "negative equity", "tax delinquent", "vacant", "condemned", "fire damage", "flood zone"},
		Categories: []string{classify.CategoryDealAnalysis, classify.CategoryLegal},
		Urgency:    models.UrgencyHigh,
	},
	{
		Name:       "deal structure terms",
		Terms:      []string{"seller financing", "subject to", "subject-to", "wraparound", "lease option", "assignment"},
		Categories: []string{classify.CategoryFinancing, classify.CategoryExit},
		Urgency:    models.UrgencyMedium,
	},
	{
		Name:       "motivation indicators",
		Terms:      []string{"divorce", "relocation", "job loss", "inherited", "tired landlord", "behind on payments", "pre-foreclosure"},
		Categories: []string{classify.CategoryNegotiation},
		Urgency:    models.UrgencyMedium,
	},
	{
		Name:       "valuation terms",
		Terms:      []string{"arv", "after repair value", "comps", "comparable sales", "appraisal", "assessed value"},
		Categories: []string{classify.CategoryDealAnalysis},
		Urgency:    models.UrgencyLow,
	},
	{
		Name:       "property condition terms",
		Terms:      []string{"roof", "foundation", "hvac", "mold", "termite", "deferred maintenance", "rehab", "as-is"},
		Categories: []string{classify.CategoryCondition},
		Urgency:    models.UrgencyLow,
	},
	{
		Name:       "buyer and exit terms",
		Terms:      []string{"cash buyer", "end buyer", "flip", "brrrr", "buy and hold", "refinance", "1031 exchange"},
		Categories: []string{classify.CategoryExit},
		Urgency:    models.UrgencyLow,
	},
}

var urgencyRank = map[string]int{
	models.UrgencyNone:   0,
	models.UrgencyLow:    1,
	models.UrgencyMedium: 2,
	models.UrgencyHigh:   3,
}

// Analysis is the verdict on one tool result.
type Analysis struct {
	MatchedTerms        []string
	SuggestedCategories []string
	Urgency             string
	ShouldRetrieve      bool
}

// Retrieval is the incremental context produced by a reactive search.
type Retrieval struct {
	Context string
	Sources []models.Source
	DocIDs  []string
}

type AnalyzerConfig struct {
	// Limit bounds the reactive search; it is deliberately small since this
	// supplements context that already exists.
	Limit     int
	Threshold float64
}

type Analyzer struct {
	config   AnalyzerConfig
	searcher types.Searcher
	logger   *zap.Logger
}

func NewAnalyzer(config AnalyzerConfig, searcher types.Searcher, logger *zap.Logger) *Analyzer {
	if config.Limit == 0 {
		config.Limit = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		config:   config,
		searcher: searcher,
		logger:   logger.With(zap.String("component", "dynamic_retrieval")),
	}
}

// Analyze scans a stringified tool result against the trigger table.
// Retrieval fires only when at least one term matched, at least one
// suggested category is new to the session, and urgency is not none.
func (a *Analyzer) Analyze(toolResult string, state *models.ConversationState) Analysis {
	lowered := strings.ToLower(toolResult)

	analysis := Analysis{Urgency: models.UrgencyNone}
	seenCategory := make(map[string]bool)

	for _, trigger := range triggers {
		matched := false
		for _, term := range trigger.Terms {
			if strings.Contains(lowered, term) {
				analysis.MatchedTerms = append(analysis.MatchedTerms, term)
				matched = true
			}
		}
		if !matched {
			continue
		}

		for _, category := range trigger.Categories {
			if !seenCategory[category] {
				seenCategory[category] = true
				analysis.SuggestedCategories = append(analysis.SuggestedCategories, category)
			}
		}
		if urgencyRank[trigger.Urgency] > urgencyRank[analysis.Urgency] {
			analysis.Urgency = trigger.Urgency
		}
	}

	if len(analysis.MatchedTerms) == 0 || analysis.Urgency == models.UrgencyNone {
		return analysis
	}

	for _, category := range analysis.SuggestedCategories {
		if state == nil || !state.HasCategory(category) {
			analysis.ShouldRetrieve = true
			break
		}
	}

	return analysis
}

// Retrieve runs the bounded reactive search for an analysis that fired.
// Errors are logged and swallowed; reactive context is a bonus, never a
// failure mode.
func (a *Analyzer) Retrieve(ctx context.Context, analysis Analysis, state *models.ConversationState) *Retrieval {
	if !analysis.ShouldRetrieve {
		return nil
	}

	query := strings.Join(analysis.MatchedTerms, " ")

	var excludeDocIDs []string
	if state != nil {
		excludeDocIDs = state.FetchedDocIDs
	}

	results, err := a.searcher.Search(ctx, query, types.SearchOptions{
		Limit:         a.config.Limit,
		Threshold:     a.config.Threshold,
		Categories:    analysis.SuggestedCategories,
		ExcludeDocIDs: excludeDocIDs,
	})
	if err != nil {
		a.logger.Warn("reactive retrieval failed", zap.Error(err))
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	var (
		b       strings.Builder
		sources []models.Source
		docIDs  []string
		seenDoc = make(map[string]bool)
	)

	b.WriteString("Additional context surfaced by tool results:\n\n")
	for _, r := range results {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", r.DocumentTitle, r.Content)
		if !seenDoc[r.DocumentID] {
			seenDoc[r.DocumentID] = true
			sources = append(sources, models.Source{
				DocumentID: r.DocumentID,
				Slug:       r.DocumentSlug,
				Title:      r.DocumentTitle,
				Category:   r.Category,
			})
			docIDs = append(docIDs, r.DocumentID)
		}
	}

	a.logger.Debug("reactive retrieval added context",
		zap.Strings("categories", analysis.SuggestedCategories),
		zap.String("urgency", analysis.Urgency),
		zap.Int("results", len(results)))

	return &Retrieval{
		Context: b.String(),
		Sources: sources,
		DocIDs:  docIDs,
	}
}
