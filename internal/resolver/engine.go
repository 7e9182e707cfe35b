// Package resolver turns noisy search results and directory listings into a
// single confirmed registry identity for a lead, or into an explicit
// "no confident match".
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
)

// Signal weights.
const (
	WeightNameInTitle   = 3
	WeightNameInSnippet = 2
	WeightCity          = 5
	WeightTrustedDomain = 3
	WeightCategory      = 2
	WeightNumberInTitle = 2
	AcceptanceThreshold = 5
)

// Outcomes reported on a Resolution.
const (
	OutcomeAccepted     = "accepted"
	OutcomeNoCandidates = "no_candidates"
	OutcomeBelowThresh  = "below_threshold"
	OutcomeInactive     = "inactive"
	OutcomeUnconfirmed  = "unconfirmed"
	OutcomeCityMismatch = "city_mismatch"
)

// ExcludedKeywords mark marketplace and aggregator pages. A document that
// contains any of them, even as part of a longer word, never contributes a
// registry number.
var ExcludedKeywords = []string{
	"ifood", "mercadolivre", "mercado livre", "olx", "shopee", "amazon",
	"magazineluiza", "aliexpress", "americanas", "rappi", "ubereats",
	"elo7", "enjoei",
}

// TrustedDomains are registry lookup sites whose pages list one company each.
var TrustedDomains = []string{
	"cnpj.biz",
	"casadosdados.com.br",
	"econodata.com.br",
	"cnpja.com",
	"receitaws.com.br",
	"cnpj.services",
	"consultacnpj.com",
}

// categoryKeywords widens a lead category into the words registry pages
// tend to use for it. Keys and values are folded.
var categoryKeywords = map[string][]string{
	"padaria":     {"padaria", "panificadora", "panificacao", "confeitaria"},
	"bakery":      {"padaria", "panificadora", "panificacao", "confeitaria"},
	"restaurante": {"restaurante", "lanchonete", "refeicoes", "alimentacao"},
	"restaurant":  {"restaurante", "lanchonete", "refeicoes", "alimentacao"},
	"mercado":     {"mercado", "supermercado", "mercearia", "minimercado"},
	"farmacia":    {"farmacia", "drogaria", "medicamentos"},
	"pharmacy":    {"farmacia", "drogaria", "medicamentos"},
	"oficina":     {"oficina", "mecanica", "automotiva", "manutencao"},
	"academia":    {"academia", "fitness", "condicionamento"},
	"salao":       {"salao", "cabeleireiro", "beleza", "estetica"},
	"pet":         {"petshop", "veterinaria", "veterinario", "animais"},
}

// Confirmer looks up a registry number against the authoritative registry.
type Confirmer interface {
	Lookup(ctx context.Context, number string) (registry.Record, error)
}

// Query is what the engine resolves.
type Query struct {
	Name     string
	City     string
	Category string
}

// Candidate is one registry number found in one document, with its score.
type Candidate struct {
	Number   string
	DocIndex int
	Link     string
	Score    int
	Reasons  []string
}

// Resolution is the outcome of one resolve call. Ranked is kept for audit
// logging even when nothing is accepted.
type Resolution struct {
	Outcome  string
	Match    Candidate
	Record   registry.Record
	Ranked   []Candidate
	Excluded int
}

// Accepted reports whether the resolution produced a confirmed match.
func (r Resolution) Accepted() bool { return r.Outcome == OutcomeAccepted }

// CompanyMatch converts an accepted resolution into the bus payload.
func (r Resolution) CompanyMatch(m lead.Matcher) lead.CompanyMatch {
	return lead.CompanyMatch{
		RegistryNumber: r.Match.Number,
		Matcher:        m,
		Score:          r.Match.Score,
		Reasons:        r.Match.Reasons,
		Status:         r.Record.Status,
		Municipality:   r.Record.Municipality,
		LegalName:      r.Record.LegalName,
		TradeName:      r.Record.TradeName,
		SourceURL:      r.Match.Link,
	}
}

// Engine scores candidates and confirms the winner.
type Engine struct {
	confirmer Confirmer
	logger    *slog.Logger
}

// NewEngine creates an Engine that confirms winners through c.
func NewEngine(c Confirmer) *Engine {
	return &Engine{
		confirmer: c,
		logger:    slog.Default().With("component", "resolver"),
	}
}

// Resolve picks the best registry number for q among docs. When nothing
// qualifies it returns the resolution together with an error wrapping
// ErrNoConfidentMatch. Transient confirmation failures are returned as is.
func (e *Engine) Resolve(ctx context.Context, q Query, docs []lead.Document) (Resolution, error) {
	ranked, excluded := Rank(q, docs)
	res := Resolution{Ranked: ranked, Excluded: excluded}
	if len(ranked) == 0 {
		res.Outcome = OutcomeNoCandidates
		return res, noMatch("no registry numbers in %d documents (%d excluded)", len(docs), excluded)
	}
	top := ranked[0]
	res.Match = top
	if top.Score < AcceptanceThreshold {
		res.Outcome = OutcomeBelowThresh
		return res, noMatch("best candidate %s scored %d, below %d", top.Number, top.Score, AcceptanceThreshold)
	}
	return e.confirm(ctx, res)
}

// confirm checks the chosen candidate against the registry. An inactive
// entry rejects the resolution; the next-ranked candidate is not tried.
func (e *Engine) confirm(ctx context.Context, res Resolution) (Resolution, error) {
	rec, err := e.confirmer.Lookup(ctx, res.Match.Number)
	if err != nil {
		if apperrors.IsTransient(err) {
			return res, err
		}
		e.logger.Warn("confirmation returned no data", "number", res.Match.Number, "error", err)
		res.Outcome = OutcomeUnconfirmed
		return res, noMatch("confirmation of %s gave no data: %v", res.Match.Number, err)
	}
	res.Record = rec
	if !rec.Active() {
		res.Outcome = OutcomeInactive
		return res, noMatch("registry status of %s is %q", res.Match.Number, rec.Status)
	}
	res.Outcome = OutcomeAccepted
	return res, nil
}

// Rank extracts, filters and scores every (document, number) pair and
// returns one candidate per distinct number, best first. The second result
// is the number of documents dropped by the exclusion list.
func Rank(q Query, docs []lead.Document) ([]Candidate, int) {
	s := newScorer(q)
	best := make(map[string]Candidate)
	excluded := 0
	for i, doc := range docs {
		if IsExcluded(doc) {
			excluded++
			continue
		}
		titleNumbers := ExtractRegistryNumbers(doc.Title)
		numbers := ExtractRegistryNumbers(doc.Title + "\n" + doc.Snippet + "\n" + doc.Link)
		for _, n := range numbers {
			c := s.score(doc, n, contains(titleNumbers, n))
			c.DocIndex = i
			if prev, ok := best[n]; ok && prev.Score >= c.Score {
				continue
			}
			best[n] = c
		}
	}

	ranked := make([]Candidate, 0, len(best))
	for _, c := range best {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DocIndex != b.DocIndex {
			return a.DocIndex < b.DocIndex
		}
		return a.Number < b.Number
	})
	return ranked, excluded
}

// IsExcluded reports whether doc contains a marketplace keyword anywhere in
// its title, snippet or link, including inside longer words and host names
// such as lojasamericanas.com.br.
func IsExcluded(doc lead.Document) bool {
	text := fold(doc.Title + " " + doc.Snippet + " " + doc.Link)
	for _, kw := range ExcludedKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// IsTrustedDomain reports whether link is hosted on a trusted registry site.
func IsTrustedDomain(link string) bool {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, d := range TrustedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

type scorer struct {
	names    []string
	city     string
	keywords []string
}

func newScorer(q Query) scorer {
	s := scorer{names: nameTokens(q.Name), city: strings.Join(tokens(q.City), " ")}
	seen := make(map[string]bool)
	for _, word := range tokens(q.Category) {
		for _, kw := range append([]string{word}, categoryKeywords[word]...) {
			if len([]rune(kw)) > 3 && !seen[kw] {
				seen[kw] = true
				s.keywords = append(s.keywords, kw)
			}
		}
	}
	return s
}

func (s scorer) score(doc lead.Document, number string, inTitle bool) Candidate {
	c := Candidate{Number: number, Link: doc.Link}
	add := func(weight int, format string, args ...any) {
		c.Score += weight
		c.Reasons = append(c.Reasons, fmt.Sprintf("+%d ", weight)+fmt.Sprintf(format, args...))
	}

	title := fold(doc.Title)
	snippet := fold(doc.Snippet)
	for _, tok := range s.names {
		if containsPhrase(title, tok) {
			add(WeightNameInTitle, "name token %q in title", tok)
		}
		if containsPhrase(snippet, tok) {
			add(WeightNameInSnippet, "name token %q in snippet", tok)
		}
	}
	body := title + " " + snippet
	if containsPhrase(body, s.city) {
		add(WeightCity, "city %q", s.city)
	}
	if IsTrustedDomain(doc.Link) {
		add(WeightTrustedDomain, "trusted domain")
	}
	for _, kw := range s.keywords {
		if containsPhrase(body, kw) {
			add(WeightCategory, "category keyword %q", kw)
			break
		}
	}
	if inTitle {
		add(WeightNumberInTitle, "registry number in title")
	}
	return c
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func noMatch(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrNoConfidentMatch, fmt.Sprintf(format, args...))
}
