package search

import (
	"strings"

	"github.com/schemadex/schemadex/internal/docmodel"
)

// Budget tiers. A broad, comparative query earns a larger response budget
// than a single-entity lookup.
const (
	TierNarrow   = "narrow"
	TierStandard = "standard"
	TierWide     = "wide"
)

// Compression levels, applied in order until the response fits.
const (
	levelFull         = iota // Everything.
	levelNoColumns           // Column list rows dropped.
	levelNoSamples           // Sample values dropped too.
	levelShortDesc           // Long descriptions cut to the first paragraph.
	levelIdentityOnly        // Names only. Never compressed further.
)

// BudgetConfig configures token-budget compression.
type BudgetConfig struct {
	// Token ceilings per tier.
	NarrowTokens   int
	StandardTokens int
	WideTokens     int

	// WideTriggers are query words implying breadth.
	WideTriggers []string

	// CharsPerToken is the token estimation ratio.
	CharsPerToken int
}

// DefaultBudgetConfig returns the reference budget configuration.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		NarrowTokens:   2000,
		StandardTokens: 4000,
		WideTokens:     8000,
		WideTriggers:   []string{"compare", "across", "all", "every", "list", "versus", "between"},
		CharsPerToken:  4,
	}
}

// Tokens returns the ceiling for a tier name.
func (c BudgetConfig) Tokens(tier string) int {
	switch tier {
	case TierNarrow:
		return c.NarrowTokens
	case TierWide:
		return c.WideTokens
	default:
		return c.StandardTokens
	}
}

// SelectTier picks a budget tier from query shape: breadth trigger words
// select wide, a one-or-two-word lookup selects narrow, everything else
// standard.
func (c BudgetConfig) SelectTier(query string) string {
	words := strings.Fields(strings.ToLower(query))

	for _, w := range words {
		for _, trigger := range c.WideTriggers {
			if w == trigger {
				return TierWide
			}
		}
	}

	if len(words) <= 2 {
		return TierNarrow
	}
	return TierStandard
}

// EstimateTokens estimates token count from character length, rounding up.
func (c BudgetConfig) EstimateTokens(text string) int {
	cpt := c.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	n := len(text) / cpt
	if len(text)%cpt != 0 {
		n++
	}
	return n
}

// Compress fills every result's Text at the lightest compression level
// that fits the budget, escalating uniformly: column lists go first, then
// sample values, then long descriptions. Identifiers are never dropped, so
// the final level always terminates. Returns the estimated token cost.
func (c BudgetConfig) Compress(results []*SearchResult, budgetTokens int) int {
	for level := levelFull; ; level++ {
		total := 0
		for _, r := range results {
			r.Text = renderAtLevel(r.Document, level)
			total += c.EstimateTokens(r.Text)
		}
		if total <= budgetTokens || level >= levelIdentityOnly {
			return total
		}
	}
}

// renderAtLevel serializes a document at a compression level.
func renderAtLevel(doc *docmodel.Document, level int) string {
	if doc == nil {
		return ""
	}
	if level >= levelIdentityOnly {
		return doc.Identity
	}

	var b strings.Builder
	b.WriteString(doc.Identity)
	b.WriteString("\n")

	if level >= levelShortDesc {
		b.WriteString(firstParagraph(doc.Content))
		return strings.TrimRight(b.String(), "\n")
	}

	for _, line := range strings.Split(doc.Content, "\n") {
		trimmed := strings.TrimSpace(line)
		if level >= levelNoColumns && strings.HasPrefix(trimmed, "|") {
			continue // Markdown table rows carry the column list.
		}
		if level >= levelNoSamples && strings.HasPrefix(strings.ToLower(trimmed), "sample values:") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// firstParagraph returns the first non-empty prose paragraph of text.
func firstParagraph(text string) string {
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" || strings.HasPrefix(para, "#") || strings.HasPrefix(para, "|") {
			continue
		}
		return strings.Join(strings.Fields(para), " ")
	}
	return ""
}
