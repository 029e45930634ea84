package generate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xhad/dealwise/internal/models"
	"github.com/xhad/dealwise/pkg/chunker"
)

// emptyContext is what the model sees when retrieval found nothing usable.
// Making the absence explicit keeps the model from inventing citations.
const emptyContext = "No relevant knowledge base material was found for this question. Say so, and answer only from general principles if you safely can."

type ContextBuilderConfig struct {
	// MaxTokens caps the assembled context. Chunks are included whole; the
	// ceiling is enforced by stopping, never by cutting a chunk mid-text.
	MaxTokens int
}

// ContextBuilder assembles ranked search results into the prompt context and
// the deduplicated source list for attribution.
type ContextBuilder struct {
	config    ContextBuilderConfig
	tokenizer chunker.Tokenizer
}

func NewContextBuilder(config ContextBuilderConfig, tokenizer chunker.Tokenizer) *ContextBuilder {
	if config.MaxTokens == 0 {
		config.MaxTokens = 3000
	}
	if tokenizer == nil {
		tokenizer = chunker.HeuristicTokenizer{}
	}
	return &ContextBuilder{config: config, tokenizer: tokenizer}
}

// Build renders results into labeled sections, most similar first, and
// returns the context plus the distinct documents it drew from. The
// top-ranked section is always admitted, even when it alone exceeds
// MaxTokens: when retrieval found anything the model sees it, and the
// ceiling cuts in from the second section on.
func (b *ContextBuilder) Build(results []models.SearchResult) (string, []models.Source) {
	if len(results) == 0 {
		return emptyContext, nil
	}

	ranked := make([]models.SearchResult, len(results))
	copy(ranked, results)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Similarity > ranked[j].Similarity
	})

	var (
		sb        strings.Builder
		sources   []models.Source
		seenDoc   = make(map[string]bool)
		usedToken int
	)

	for _, r := range ranked {
		section := renderSection(r)

		cost := b.tokenizer.CountTokens(section)
		if usedToken > 0 && usedToken+cost > b.config.MaxTokens {
			break
		}
		usedToken += cost

		sb.WriteString(section)
		sb.WriteString("\n\n")

		if !seenDoc[r.DocumentID] {
			seenDoc[r.DocumentID] = true
			sources = append(sources, models.Source{
				DocumentID: r.DocumentID,
				Slug:       r.DocumentSlug,
				Title:      r.DocumentTitle,
				Category:   r.Category,
			})
		}
	}

	return strings.TrimRight(sb.String(), "\n"), sources
}

func renderSection(r models.SearchResult) string {
	label := r.DocumentTitle
	if len(r.Breadcrumb) > 0 {
		label += " / " + strings.Join(r.Breadcrumb, " / ")
	}
	return fmt.Sprintf("[Source: %s | relevance %d%%]\n%s", label, int(r.Similarity*100), r.Content)
}
