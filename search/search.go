// Package search implements the in-memory tool search engine: exact,
// fuzzy, keyword-semantic, and combined ranking over the tool repository,
// plus prefix/fuzzy suggestions and security-pattern redaction.
package search

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/utcp-go/utcp/provider"
	"github.com/utcp-go/utcp/repository"
	"github.com/utcp-go/utcp/tool"
)

// Algorithm selects how candidates are scored.
type Algorithm string

const (
	Exact    Algorithm = "exact"
	Fuzzy    Algorithm = "fuzzy"
	Semantic Algorithm = "semantic"
	Combined Algorithm = "combined"
)

// Filters narrows the candidate set before scoring.
type Filters struct {
	Providers []string
	Transports []provider.Kind
	Tags       []string
}

// Options configures one search call. Zero value resolves to the documented
// defaults via ResolveDefaults.
type Options struct {
	Algorithm            Algorithm
	Threshold            float64
	Limit                int
	Filters              Filters
	IncludeDescriptions  bool
	SecurityScan         bool
	FilterSensitive      bool
}

// ResolveDefaults fills the documented defaults for every zero-valued field.
func (o Options) ResolveDefaults() Options {
	if o.Algorithm == "" {
		o.Algorithm = Combined
	}
	if o.Threshold == 0 {
		o.Threshold = 0.5
	}
	if o.Limit == 0 {
		o.Limit = 10
	}
	return o
}

// Result is one ranked candidate.
type Result struct {
	Tool             tool.Tool
	Score            float64
	MatchType        Algorithm
	SecurityWarnings []string
}

// ProviderResult is one ranked provider candidate from SearchProviders.
type ProviderResult struct {
	Provider provider.Provider
	Score    float64
}

// Engine indexes the tool repository and answers search/suggestion queries.
// It holds no independent state of its own beyond the ranking priors: every
// query snapshots the repository fresh, so there is nothing to keep in sync
// on register/deregister.
type Engine struct {
	repo repository.ToolRepository

	// transportPreference biases ranking toward transports that tend to
	// answer faster/cheaper; unlisted kinds default to 0.5.
	transportPreference map[provider.Kind]float64
}

func New(repo repository.ToolRepository) *Engine {
	return &Engine{
		repo: repo,
		transportPreference: map[provider.Kind]float64{
			provider.KindHTTP:      0.9,
			provider.KindGRPC:      0.85,
			provider.KindGraphQL:   0.8,
			provider.KindWebSocket: 0.75,
			provider.KindMCP:       0.7,
			provider.KindCLI:       0.5,
			provider.KindTCP:       0.45,
			provider.KindUDP:       0.4,
			provider.KindWebRTC:    0.4,
		},
	}
}

var wordRegex = regexp.MustCompile(`\w+`)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "to": {}, "and": {}, "or": {},
	"in": {}, "on": {}, "for": {}, "with": {}, "is": {}, "are": {},
}

// keywordSet tokenizes text into a lower-cased, stop-word-free set of
// tokens at least 3 characters long, matching the search index's
// derived-keyword convention.
func keywordSet(text string) map[string]struct{} {
	words := wordRegex.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

func toolKeywords(t tool.Tool, includeDescriptions bool) map[string]struct{} {
	parts := []string{t.Name}
	if includeDescriptions {
		parts = append(parts, t.Description)
	}
	parts = append(parts, t.Tags...)
	for label := range t.Inputs.Properties {
		parts = append(parts, label)
	}
	return keywordSet(strings.Join(parts, " "))
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersect := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersect++
		}
	}
	union := len(a) + len(b) - intersect
	if union == 0 {
		return 0
	}
	return float64(intersect) / float64(union)
}

func matchesFilters(t tool.Tool, f Filters) bool {
	if len(f.Providers) > 0 {
		var providerName string
		if t.Provider != nil {
			providerName = t.Provider.ProviderName()
		}
		if !containsStr(f.Providers, providerName) {
			return false
		}
	}
	if len(f.Transports) > 0 {
		var kind provider.Kind
		if t.Provider != nil {
			kind = t.Provider.ProviderKind()
		}
		found := false
		for _, k := range f.Transports {
			if k == kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Tags) > 0 {
		found := false
		for _, tag := range f.Tags {
			if containsStr(t.Tags, tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsStr(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// exactScore scores case-(in)sensitive name equality and optional
// description substring matches.
func exactScore(query string, t tool.Tool, includeDescriptions bool) float64 {
	if t.Name == query || strings.EqualFold(t.Name, query) {
		return 1.0
	}
	if includeDescriptions && query != "" && strings.Contains(strings.ToLower(t.Description), strings.ToLower(query)) {
		return 0.7
	}
	return 0
}

// fuzzyScore blends a Levenshtein-ratio comparator against the tool name
// with a token-set comparator against name+description, matching the
// spec's "combined Levenshtein-ratio + token-set comparator".
func fuzzyScore(query string, t tool.Tool, includeDescriptions bool) float64 {
	ratio := levenshteinRatio(strings.ToLower(query), strings.ToLower(t.Name))
	text := t.Name
	if includeDescriptions {
		text += " " + t.Description
	}
	tokenScore := tokenSetRatio(query, text)
	return 0.6*ratio + 0.4*tokenScore
}

// semanticKeywordScore is the Jaccard-similarity-over-keyword-sets
// algorithm, with a small contextual boost when the query also appears in
// parameter labels.
func semanticKeywordScore(query string, t tool.Tool, includeDescriptions bool) float64 {
	queryWords := keywordSet(query)
	toolWords := toolKeywords(t, includeDescriptions)
	score := jaccard(queryWords, toolWords)

	paramWords := keywordSet(strings.Join(paramLabels(t), " "))
	if jaccard(queryWords, paramWords) > 0 {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

func paramLabels(t tool.Tool) []string {
	labels := make([]string, 0, len(t.Inputs.Properties))
	for k := range t.Inputs.Properties {
		labels = append(labels, k)
	}
	return labels
}

func rankPrior(t tool.Tool, engine *Engine) (popularity, descLength, transportPref float64) {
	popularity = cast.ToFloat64(len(t.Tags))
	if popularity > 5 {
		popularity = 5
	}
	popularity = popularity / 5

	descLength = float64(len(t.Description))
	if descLength > 200 {
		descLength = 200
	}
	descLength = descLength / 200

	transportPref = 0.5
	if t.Provider != nil {
		if pref, ok := engine.transportPreference[t.Provider.ProviderKind()]; ok {
			transportPref = pref
		}
	}
	return
}

func (e *Engine) rank(raw float64, t tool.Tool) float64 {
	popularity, descLength, transportPref := rankPrior(t, e)
	return 0.6*raw + 0.2*popularity + 0.1*descLength + 0.1*transportPref
}

func (e *Engine) scoreOne(algo Algorithm, query string, t tool.Tool, opts Options) (float64, Algorithm) {
	switch algo {
	case Exact:
		return exactScore(query, t, opts.IncludeDescriptions), Exact
	case Fuzzy:
		return fuzzyScore(query, t, opts.IncludeDescriptions), Fuzzy
	case Semantic:
		return semanticKeywordScore(query, t, opts.IncludeDescriptions), Semantic
	default:
		return 0, algo
	}
}

// SearchTools ranks the registered tool catalog against query per opts.
func (e *Engine) SearchTools(ctx context.Context, query string, opts Options) ([]Result, error) {
	opts = opts.ResolveDefaults()
	tools, err := e.repo.GetTools(ctx)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, t := range tools {
		if !matchesFilters(t, opts.Filters) {
			continue
		}

		var raw float64
		var matchType Algorithm
		if opts.Algorithm == Combined {
			best := 0.0
			bestType := Exact
			for _, algo := range []Algorithm{Exact, Fuzzy, Semantic} {
				score, _ := e.scoreOne(algo, query, t, opts)
				if score > best {
					best = score
					bestType = algo
				}
			}
			raw, matchType = best, bestType
		} else {
			raw, matchType = e.scoreOne(opts.Algorithm, query, t, opts)
		}

		score := e.rank(raw, t)
		if score < opts.Threshold {
			continue
		}

		res := Result{Tool: t, Score: score, MatchType: matchType}
		if opts.SecurityScan {
			res.SecurityWarnings = scanText(t.Name + " " + t.Description)
			if opts.FilterSensitive && len(res.SecurityWarnings) > 0 {
				continue
			}
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Tool.Name < results[j].Tool.Name
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// SearchProviders ranks registered providers by name similarity to query:
// a case-insensitive substring match scores 1, anything else scores the
// Levenshtein ratio of query and provider name. Provider kinds are not
// compared.
func (e *Engine) SearchProviders(ctx context.Context, query string, limit int) ([]ProviderResult, error) {
	if limit == 0 {
		limit = 10
	}
	providers, err := e.repo.GetProviders(ctx)
	if err != nil {
		return nil, err
	}
	var results []ProviderResult
	for _, p := range providers {
		score := levenshteinRatio(strings.ToLower(query), strings.ToLower(p.ProviderName()))
		if strings.Contains(strings.ToLower(p.ProviderName()), strings.ToLower(query)) {
			score = 1
		}
		if score <= 0 {
			continue
		}
		results = append(results, ProviderResult{Provider: p, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Provider.ProviderName() < results[j].Provider.ProviderName()
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GetSuggestions returns tool names matching prefix, plus a cheap fuzzy
// expansion to cover one-character typos when no prefix match exists.
func (e *Engine) GetSuggestions(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit == 0 {
		limit = 10
	}
	tools, err := e.repo.GetTools(ctx)
	if err != nil {
		return nil, err
	}

	prefixLower := strings.ToLower(prefix)
	var prefixMatches, fuzzyMatches []string
	seen := make(map[string]struct{})
	for _, t := range tools {
		if _, ok := seen[t.Name]; ok {
			continue
		}
		if strings.HasPrefix(strings.ToLower(t.Name), prefixLower) {
			prefixMatches = append(prefixMatches, t.Name)
			seen[t.Name] = struct{}{}
			continue
		}
		if levenshteinDistance(prefixLower, strings.ToLower(t.Name)) <= 1 {
			fuzzyMatches = append(fuzzyMatches, t.Name)
			seen[t.Name] = struct{}{}
		}
	}
	sort.Strings(prefixMatches)
	sort.Strings(fuzzyMatches)
	out := append(prefixMatches, fuzzyMatches...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindSimilarTools ranks the catalog by keyword-set similarity to the
// reference tool's own name/description/tags, excluding the reference
// itself.
func (e *Engine) FindSimilarTools(ctx context.Context, ref string, limit int) ([]Result, error) {
	if limit == 0 {
		limit = 10
	}
	refTool, err := e.repo.GetTool(ctx, ref)
	if err != nil {
		return nil, err
	}
	refWords := toolKeywords(*refTool, true)

	tools, err := e.repo.GetTools(ctx)
	if err != nil {
		return nil, err
	}
	var results []Result
	for _, t := range tools {
		if t.Name == refTool.Name {
			continue
		}
		score := jaccard(refWords, toolKeywords(t, true))
		if score <= 0 {
			continue
		}
		results = append(results, Result{Tool: t, Score: e.rank(score, t), MatchType: Semantic})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Tool.Name < results[j].Tool.Name
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
