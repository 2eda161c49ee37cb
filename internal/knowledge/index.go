// ABOUTME: Keyword index over product documents with the top-N scoring query
// ABOUTME: Loads the embedded document sets or caller-supplied ones

package knowledge

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"unicode"
)

//go:embed data/*.json
var dataFS embed.FS

// TopN is the maximum number of results returned by Query.
const TopN = 3

// asciiPunct mirrors the POSIX punct class.
const asciiPunct = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Document is a piece of product documentation.
type Document struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
}

// Result is a scored document match.
type Result struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Excerpt string  `json:"excerpt"`
	Score   float64 `json:"score"`
}

// Retriever returns relevant documents for a product query.
type Retriever interface {
	Query(ctx context.Context, product, text string) []Result
}

// Index is an immutable Retriever over in-memory documents.
type Index struct {
	docs   map[string][]Document
	logger *slog.Logger
}

// NewIndex creates an Index from documents keyed by product id.
func NewIndex(docs map[string][]Document, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	byProduct := make(map[string][]Document, len(docs))
	for product, list := range docs {
		byProduct[strings.ToLower(product)] = append([]Document(nil), list...)
	}
	return &Index{docs: byProduct, logger: logger.With("component", "knowledge")}
}

// DefaultIndex loads the embedded documents. Each data/<product>.json file
// holds the documents of one product.
func DefaultIndex(logger *slog.Logger) (*Index, error) {
	entries, err := fs.ReadDir(dataFS, "data")
	if err != nil {
		return nil, fmt.Errorf("read embedded documents: %w", err)
	}
	docs := make(map[string][]Document, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".json" {
			continue
		}
		f, err := dataFS.Open("data/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", e.Name(), err)
		}
		list, err := LoadDocuments(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		docs[strings.TrimSuffix(e.Name(), ".json")] = list
	}
	return NewIndex(docs, logger), nil
}

// LoadDocuments decodes a JSON document list.
func LoadDocuments(r io.Reader) ([]Document, error) {
	var docs []Document
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	return docs, nil
}

// Len returns the number of documents held for product.
func (x *Index) Len(product string) int {
	return len(x.docs[strings.ToLower(product)])
}

// Query implements Retriever.
func (x *Index) Query(ctx context.Context, product, text string) []Result {
	docs := x.docs[strings.ToLower(product)]
	if len(docs) == 0 || ctx.Err() != nil {
		return nil
	}

	lower := strings.ToLower(text)
	tokens := tokenize(lower)

	var scored []Result
	for _, d := range docs {
		if s := score(d, lower, tokens); s > 0 {
			scored = append(scored, Result{ID: d.ID, Title: d.Title, Excerpt: d.Content, Score: s})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > TopN {
		scored = scored[:TopN]
	}

	x.logger.Debug("knowledge query", "product", product, "matches", len(scored))
	return scored
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(asciiPunct, r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// score counts exact keyword tokens plus multi-word keyword phrases found in the
// query, normalized by the number of distinct query tokens and capped at 1.
func score(d Document, lower string, tokens map[string]struct{}) float64 {
	matched := 0
	for _, kw := range d.Keywords {
		k := strings.ToLower(kw)
		if _, ok := tokens[k]; ok {
			matched++
		}
		if strings.Contains(kw, " ") && strings.Contains(lower, k) {
			matched++
		}
	}
	denom := len(tokens)
	if denom < 1 {
		denom = 1
	}
	return min(float64(matched)/float64(denom), 1)
}
