package keyword

import (
	"strings"

	"github.com/schemadex/schemadex/internal/docmodel"
)

// abbreviations maps common schema-name abbreviations to their expansions.
// Both forms are emitted so either spelling matches at query time. The table
// is fixed: extraction must be deterministic across runs.
var abbreviations = map[string]string{
	"qty":   "quantity",
	"amt":   "amount",
	"cust":  "customer",
	"acct":  "account",
	"addr":  "address",
	"num":   "number",
	"desc":  "description",
	"txn":   "transaction",
	"inv":   "invoice",
	"prod":  "product",
	"cat":   "category",
	"dept":  "department",
	"emp":   "employee",
	"org":   "organization",
	"pmt":   "payment",
	"ref":   "reference",
	"seq":   "sequence",
	"src":   "source",
	"dest":  "destination",
	"msg":   "message",
	"cfg":   "configuration",
	"stat":  "status",
	"dob":   "birthdate",
	"ssn":   "social security number",
	"curr":  "currency",
	"bal":   "balance",
	"avg":   "average",
	"min":   "minimum",
	"max":   "maximum",
	"pct":   "percent",
	"ts":    "timestamp",
	"dt":    "date",
	"fk":    "foreign key",
	"pk":    "primary key",
	"wh":    "warehouse",
	"loc":   "location",
	"mgr":   "manager",
	"recv":  "received",
	"del":   "deleted",
	"upd":   "updated",
}

// Extractor produces the ordered keyword set for a document.
type Extractor struct {
	stopWords map[string]struct{}
}

// NewExtractor creates an extractor with the default schema stop words.
func NewExtractor() *Extractor {
	return &Extractor{stopWords: BuildStopWordMap(DefaultSchemaStopWords)}
}

// Extract derives keywords from a document: identifier name decomposition,
// abbreviation expansion, and value-shape patterns detected in the content.
// Output order is stable for a given input; duplicates are removed
// preserving first occurrence.
func (e *Extractor) Extract(doc *docmodel.Document) []string {
	var out []string
	seen := make(map[string]struct{})

	add := func(term string) {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || len(term) < 2 {
			return
		}
		if _, dup := seen[term]; dup {
			return
		}
		if _, stop := e.stopWords[term]; stop {
			return
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}

	// Identity parts first: the most specific names rank highest.
	for _, part := range strings.Split(doc.Identity, ".") {
		add(part)
		for _, sub := range SplitIdentifier(part) {
			add(sub)
			if full, ok := abbreviations[strings.ToLower(sub)]; ok {
				for _, w := range strings.Fields(full) {
					add(w)
				}
			}
		}
	}

	// Content tokens, with abbreviation expansion applied per token.
	for _, tok := range Tokenize(doc.Content) {
		add(tok)
		if full, ok := abbreviations[tok]; ok {
			for _, w := range strings.Fields(full) {
				add(w)
			}
		}
	}

	// Value-shape pattern keywords from sample values in the content.
	for _, p := range DetectPatterns(doc.Content) {
		add(p)
	}

	return out
}
