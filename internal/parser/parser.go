// Package parser turns generated documentation files into typed documents.
// A table file yields one table document plus one column document per
// described column; domain and overview files yield a single document each.
// Parsing is pure and deterministic: identical content always produces
// identical documents modulo store-assigned ids.
package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/schemadex/schemadex/internal/docmodel"
	"github.com/schemadex/schemadex/internal/errors"
	"github.com/schemadex/schemadex/internal/manifest"
)

// Regex patterns for the generated markdown grammar.
var (
	// Matches headers: # Title, ## Title, etc.
	headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

	// Matches a markdown table row.
	tableRowPattern = regexp.MustCompile(`(?m)^\|(.+)\|\s*$`)

	// Matches a relationship bullet: "- -> target_table ON <condition>"
	relationshipPattern = regexp.MustCompile(`(?m)^[-*]\s*->\s*(\S+)\s+ON\s+(.+)$`)
)

// ParsedFile is everything extracted from one documentation file.
type ParsedFile struct {
	Documents     []*docmodel.Document
	Relationships []docmodel.Relationship
}

// Parser reads documentation files relative to a root directory.
type Parser struct {
	root string
}

// New creates a parser rooted at the documentation directory.
func New(root string) *Parser {
	return &Parser{root: root}
}

// ParseFile reads and parses one manifest entry. Parse failures are
// per-file errors: callers skip the file and continue.
func (p *Parser) ParseFile(entry manifest.FileEntry) (*ParsedFile, error) {
	full := filepath.Join(p.root, filepath.FromSlash(entry.Path))
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileMissing, err.Error(), err).WithFile(entry.Path)
	}
	return Parse(entry, string(data))
}

// Parse parses file content according to the entry's declared type.
func Parse(entry manifest.FileEntry, content string) (*ParsedFile, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New(errors.ErrCodeParseFailed, "empty file", nil).WithFile(entry.Path)
	}

	switch entry.Type {
	case manifest.FileTypeTable:
		return parseTableFile(entry, content)
	case manifest.FileTypeDomain:
		return parseSingleDoc(entry, content, docmodel.DocTypeDomain)
	case manifest.FileTypeOverview:
		return parseSingleDoc(entry, content, docmodel.DocTypeOverview)
	default:
		return nil, errors.New(errors.ErrCodeParseFailed,
			fmt.Sprintf("unknown file type %q", entry.Type), nil).WithFile(entry.Path)
	}
}

// Column is one parsed column row from a table file.
type Column struct {
	Name        string
	DataType    string
	Nullable    string
	Description string
	Samples     string
}

// parseTableFile parses the table grammar:
//
//	# database.schema.table
//	prose description
//	## Columns
//	| name | type | nullable | description | sample values |
//	## Relationships
//	- -> other_table ON t.col = other_table.col
func parseTableFile(entry manifest.FileEntry, content string) (*ParsedFile, error) {
	sections := splitSections(content)

	tableIdentity := docmodel.TableIdentity(entry.Database, entry.Schema, entry.Table)

	columns := parseColumns(sections["columns"])
	if len(columns) == 0 {
		return nil, errors.New(errors.ErrCodeParseFailed, "table file has no parseable columns section", nil).WithFile(entry.Path)
	}

	result := &ParsedFile{}

	tableDoc := &docmodel.Document{
		Type:     docmodel.DocTypeTable,
		Identity: tableIdentity,
		FilePath: entry.Path,
		Content:  content,
		Summary:  buildTableSummary(tableIdentity, sections["_intro"], columns),
		Database: entry.Database,
		Domain:   entry.Domain,
	}
	tableDoc.ContentHash = docmodel.HashContent(tableDoc.Content)
	result.Documents = append(result.Documents, tableDoc)

	for _, col := range columns {
		colContent := buildColumnContent(tableIdentity, col)
		colDoc := &docmodel.Document{
			Type:        docmodel.DocTypeColumn,
			Identity:    docmodel.ColumnIdentity(entry.Database, entry.Schema, entry.Table, col.Name),
			FilePath:    entry.Path, // Column docs share their table's file.
			Content:     colContent,
			Summary:     fmt.Sprintf("%s.%s (%s): %s", tableIdentity, strings.ToLower(col.Name), col.DataType, col.Description),
			ContentHash: docmodel.HashContent(colContent),
			Database:    entry.Database,
			Domain:      entry.Domain,
		}
		result.Documents = append(result.Documents, colDoc)
	}

	for _, m := range relationshipPattern.FindAllStringSubmatch(sections["relationships"], -1) {
		target := strings.TrimSpace(m[1])
		cond := strings.TrimSpace(m[2])
		result.Relationships = append(result.Relationships, docmodel.Relationship{
			SourceTable: tableIdentity,
			TargetTable: strings.ToLower(target),
			JoinPath:    fmt.Sprintf(`[{"from":%q,"to":%q,"on":%q}]`, tableIdentity, strings.ToLower(target), cond),
			HopCount:    1,
			SQLSnippet:  fmt.Sprintf("JOIN %s ON %s", target, cond),
			Confidence:  1.0,
		})
	}

	return result, nil
}

// parseSingleDoc handles domain and overview files: H1 plus prose.
func parseSingleDoc(entry manifest.FileEntry, content string, docType docmodel.DocType) (*ParsedFile, error) {
	doc := &docmodel.Document{
		Type:        docType,
		Identity:    entry.Identity(),
		FilePath:    entry.Path,
		Content:     content,
		Summary:     firstParagraph(content),
		ContentHash: docmodel.HashContent(content),
		Database:    entry.Database,
		Domain:      entry.Domain,
	}
	return &ParsedFile{Documents: []*docmodel.Document{doc}}, nil
}

// splitSections breaks content into named H2 sections. Text before the
// first H2 (minus the H1 line) lands in "_intro".
func splitSections(content string) map[string]string {
	sections := make(map[string]string)

	locs := headerPattern.FindAllStringSubmatchIndex(content, -1)
	currentName := "_intro"
	currentStart := 0

	for _, loc := range locs {
		level := loc[3] - loc[2]
		title := strings.ToLower(strings.TrimSpace(content[loc[4]:loc[5]]))

		if level == 1 {
			// Skip the H1 title line itself.
			currentStart = loc[1]
			continue
		}
		if level != 2 {
			continue
		}

		sections[currentName] += content[currentStart:loc[0]]
		currentName = title
		currentStart = loc[1]
	}
	sections[currentName] += content[currentStart:]

	return sections
}

// parseColumns extracts column rows from a markdown table, skipping the
// header and separator rows.
func parseColumns(section string) []Column {
	var cols []Column
	rows := tableRowPattern.FindAllStringSubmatch(section, -1)

	for i, row := range rows {
		cells := splitCells(row[1])
		if len(cells) < 2 {
			continue
		}
		// Skip header row and |---| separator.
		if i == 0 || isSeparatorRow(cells) {
			continue
		}
		col := Column{Name: strings.ToLower(cells[0]), DataType: strings.ToLower(cells[1])}
		if len(cells) > 2 {
			col.Nullable = strings.ToLower(cells[2])
		}
		if len(cells) > 3 {
			col.Description = cells[3]
		}
		if len(cells) > 4 {
			col.Samples = cells[4]
		}
		if col.Name != "" {
			cols = append(cols, col)
		}
	}
	return cols
}

func splitCells(row string) []string {
	parts := strings.Split(row, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if c == "" {
			continue
		}
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}

// buildColumnContent assembles the embedding/keyword source text for a
// column document.
func buildColumnContent(tableIdentity string, col Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Column %s of table %s.\n", col.Name, tableIdentity)
	fmt.Fprintf(&b, "Type: %s", col.DataType)
	if col.Nullable != "" {
		fmt.Fprintf(&b, " (%s)", col.Nullable)
	}
	b.WriteString("\n")
	if col.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", col.Description)
	}
	if col.Samples != "" {
		fmt.Fprintf(&b, "Sample values: %s\n", col.Samples)
	}
	return b.String()
}

// buildTableSummary produces the compressed text returned to search callers.
func buildTableSummary(identity, intro string, columns []Column) string {
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		names = append(names, c.Name)
	}
	desc := firstParagraph(intro)
	if desc == "" {
		desc = "No description."
	}
	return fmt.Sprintf("%s: %s Columns: %s.", identity, desc, strings.Join(names, ", "))
}

// firstParagraph returns the first non-empty prose paragraph, trimmed.
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
