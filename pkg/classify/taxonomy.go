package classify

import "strings"

// The knowledge base categories. Retrieval scoping, the classifier, and the
// dynamic retrieval triggers all use these labels.
const (
	CategoryFundamentals   = "Fundamentals"
	CategoryDealAnalysis   = "Deal Analysis"
	CategoryFinancing      = "Financing"
	CategoryMarketResearch = "Market Research"
	CategoryNegotiation    = "Negotiation"
	CategoryLegal          = "Legal & Compliance"
	CategoryCondition      = "Property Condition"
	CategoryExit           = "Exit Strategies"
)

// Categories lists every valid category label.
var Categories = []string{
	CategoryFundamentals,
	CategoryDealAnalysis,
	CategoryFinancing,
	CategoryMarketResearch,
	CategoryNegotiation,
	CategoryLegal,
	CategoryCondition,
	CategoryExit,
}

// KnownCategory reports whether label is a valid category.
func KnownCategory(label string) bool {
	for _, c := range Categories {
		if c == label {
			return true
		}
	}
	return false
}

// Concept is one entry of the shared taxonomy: a domain concept, the terms
// that signal it, and the categories it maps to. The classifier fallback,
// the reformulator fallback, and session topic extraction all read this one
// table so the keyword mappings cannot drift apart.
type Concept struct {
	Name       string
	Terms      []string
	Categories []string
}

var Concepts = []Concept{
	{
		Name:       "after repair value",
		Terms:      []string{"arv", "after repair value", "after-repair value"},
		Categories: []string{CategoryFundamentals, CategoryDealAnalysis},
	},
	{
		Name:       "offer formulas",
		Terms:      []string{"70% rule", "70 percent rule", "mao", "maximum allowable offer"},
		Categories: []string{CategoryFundamentals, CategoryDealAnalysis},
	},
	{
		Name:       "wholesaling",
		Terms:      []string{"wholesale", "wholesaling", "assignment", "assignment fee", "double close"},
		Categories: []string{CategoryFundamentals, CategoryExit},
	},
	{
		Name:       "rental returns",
		Terms:      []string{"cap rate", "cash flow", "cash on cash", "noi", "gross rent multiplier"},
		Categories: []string{CategoryDealAnalysis},
	},
	{
		Name:       "deal sourcing",
		Terms:      []string{"deal", "deals", "off-market", "off market", "driving for dollars", "lead", "leads"},
		Categories: []string{CategoryMarketResearch, CategoryDealAnalysis},
	},
	{
		Name:       "market analysis",
		Terms:      []string{"market", "comps", "comparable sales", "appreciation", "neighborhood", "days on market"},
		Categories: []string{CategoryMarketResearch},
	},
	{
		Name:       "purchase criteria",
		Terms:      []string{"under $", "price range", "budget", "purchase price", "buy box"},
		Categories: []string{CategoryMarketResearch, CategoryDealAnalysis},
	},
	{
		Name:       "creative financing",
		Terms:      []string{"seller financing", "subject to", "subject-to", "owner financing", "lease option"},
		Categories: []string{CategoryFinancing},
	},
	{
		Name:       "lending",
		Terms:      []string{"hard money", "private lender", "private money", "mortgage", "loan", "dscr", "interest rate", "points"},
		Categories: []string{CategoryFinancing},
	},
	{
		Name:       "title and liens",
		Terms:      []string{"lien", "liens", "title", "title search", "encumbrance", "clouded title"},
		Categories: []string{CategoryLegal},
	},
	{
		Name:       "probate and foreclosure",
		Terms:      []string{"probate", "foreclosure", "pre-foreclosure", "auction", "estate sale", "inherited"},
		Categories: []string{CategoryLegal, CategoryMarketResearch},
	},
	{
		Name:       "contracts and compliance",
		Terms:      []string{"contract", "purchase agreement", "earnest money", "contingency", "disclosure", "zoning", "permit"},
		Categories: []string{CategoryLegal},
	},
	{
		Name:       "seller negotiation",
		Terms:      []string{"negotiate", "negotiation", "offer", "counteroffer", "motivated seller", "seller motivation"},
		Categories: []string{CategoryNegotiation},
	},
	{
		Name:       "repair estimation",
		Terms:      []string{"repair", "repairs", "rehab", "renovation", "inspection", "roof", "foundation", "hvac", "contractor"},
		Categories: []string{CategoryCondition, CategoryDealAnalysis},
	},
	{
		Name:       "exit strategies",
		Terms:      []string{"flip", "flipping", "brrrr", "buy and hold", "refinance", "exit strategy", "rental"},
		Categories: []string{CategoryExit},
	},
}

// MatchConcepts returns the taxonomy concepts whose terms appear in text.
// Matching is case-insensitive substring matching; terms are short enough
// that this stays cheap per turn.
func MatchConcepts(text string) []Concept {
	lowered := strings.ToLower(text)

	var matched []Concept
	for _, concept := range Concepts {
		for _, term := range concept.Terms {
			if strings.Contains(lowered, term) {
				matched = append(matched, concept)
				break
			}
		}
	}
	return matched
}

// CategoriesFor unions the categories of the matched concepts, preserving
// first-seen order.
func CategoriesFor(concepts []Concept) []string {
	seen := make(map[string]bool)
	var categories []string
	for _, concept := range concepts {
		for _, category := range concept.Categories {
			if !seen[category] {
				seen[category] = true
				categories = append(categories, category)
			}
		}
	}
	return categories
}
