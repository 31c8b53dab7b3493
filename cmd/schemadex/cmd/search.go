package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/schemadex/schemadex/internal/embed"
	"github.com/schemadex/schemadex/internal/search"
	"github.com/schemadex/schemadex/internal/store"
)

func newSearchCmd() *cobra.Command {
	var (
		limit    int
		database string
		domain   string
		budget   string
		format   string
		bm25Only bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the schema documentation index",
		Long: `Run a hybrid (keyword + semantic) query against the built index.

Results are fused with Reciprocal Rank Fusion, weighted by document
type, and compressed to a token budget. When the vector index is
missing or was built with a different embedding model, search degrades
to keyword-only and says so.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := requireIndex(cfg); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Search.SearchTimeout)
			defer cancel()

			docs, err := store.NewSQLiteStore(metadataPath(cfg))
			if err != nil {
				return err
			}
			bm25, err := openBM25(cfg)
			if err != nil {
				_ = docs.Close()
				return err
			}

			var (
				embedder embed.Embedder
				vectors  store.VectorStore
			)
			if !bm25Only {
				embedder, err = newEmbedder(ctx, cfg)
				if err != nil {
					slog.Warn("embedding_provider_unavailable", slog.String("error", err.Error()))
				}
				if embedder != nil {
					vectors, err = openVectors(cfg, 0)
					if err != nil {
						slog.Warn("vector_index_unavailable", slog.String("error", err.Error()))
					}
				}
			}

			engine, err := search.NewEngine(docs, bm25, vectors, embedder, engineConfig(cfg))
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			query := strings.Join(args, " ")
			resp, err := engine.Search(ctx, query, search.SearchOptions{
				Limit:    limit,
				Database: database,
				Domain:   domain,
				BM25Only: bm25Only,
				Budget:   budget,
			})
			if err != nil {
				return err
			}

			if format == "json" {
				return printSearchJSON(cmd.OutOrStdout(), query, resp)
			}
			printSearchText(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", search.DefaultLimit, "Maximum number of results")
	cmd.Flags().StringVar(&database, "database", "", "Restrict results to one source database")
	cmd.Flags().StringVar(&domain, "domain", "", "Restrict results to one business domain")
	cmd.Flags().StringVar(&budget, "budget", "", "Budget tier override: narrow, standard, wide")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&bm25Only, "bm25-only", false, "Keyword-only search, skip the vector path")

	return cmd
}

func printSearchText(w io.Writer, resp *search.SearchResponse) {
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "No results.")
		return
	}

	fmt.Fprintf(w, "%d results (%s budget, %d/%d tokens", len(resp.Results), resp.BudgetTier, resp.TokensUsed, resp.BudgetTokens)
	if resp.Degraded {
		fmt.Fprint(w, ", keyword-only")
	}
	fmt.Fprintln(w, ")")
	fmt.Fprintln(w)

	for i, r := range resp.Results {
		fmt.Fprintf(w, "%2d. %s  [%s]  score=%.3f", i+1, r.Document.Identity, r.Document.Type, r.Score)
		if len(r.MatchedTerms) > 0 {
			fmt.Fprintf(w, "  matched: %s", strings.Join(r.MatchedTerms, ", "))
		}
		fmt.Fprintln(w)
		for _, line := range strings.Split(r.Text, "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
		fmt.Fprintln(w)
	}
}

// searchResultJSON is the machine-readable result shape.
type searchResultJSON struct {
	Identity     string   `json:"identity"`
	Type         string   `json:"type"`
	Database     string   `json:"database,omitempty"`
	Domain       string   `json:"domain,omitempty"`
	Score        float64  `json:"score"`
	BM25Rank     int      `json:"bm25Rank,omitempty"`
	VecRank      int      `json:"vecRank,omitempty"`
	MatchedTerms []string `json:"matchedTerms,omitempty"`
	Text         string   `json:"text"`
}

type searchResponseJSON struct {
	Query        string             `json:"query"`
	BudgetTier   string             `json:"budgetTier"`
	BudgetTokens int                `json:"budgetTokens"`
	TokensUsed   int                `json:"tokensUsed"`
	Degraded     bool               `json:"degraded"`
	Results      []searchResultJSON `json:"results"`
}

func printSearchJSON(w io.Writer, query string, resp *search.SearchResponse) error {
	out := searchResponseJSON{
		Query:        query,
		BudgetTier:   resp.BudgetTier,
		BudgetTokens: resp.BudgetTokens,
		TokensUsed:   resp.TokensUsed,
		Degraded:     resp.Degraded,
		Results:      make([]searchResultJSON, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, searchResultJSON{
			Identity:     r.Document.Identity,
			Type:         string(r.Document.Type),
			Database:     r.Document.Database,
			Domain:       r.Document.Domain,
			Score:        r.Score,
			BM25Rank:     r.BM25Rank,
			VecRank:      r.VecRank,
			MatchedTerms: r.MatchedTerms,
			Text:         r.Text,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
