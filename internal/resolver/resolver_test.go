package resolver

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/registry"
	apperrors "github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/pkg/errors"
)

type stubConfirmer struct {
	records map[string]registry.Record
	err     error
	calls   []string
}

func (s *stubConfirmer) Lookup(_ context.Context, number string) (registry.Record, error) {
	s.calls = append(s.calls, number)
	if s.err != nil {
		return registry.Record{}, s.err
	}
	rec, ok := s.records[number]
	if !ok {
		return registry.Record{}, registry.ErrNoData
	}
	return rec, nil
}

func activeConfirmer(numbers ...string) *stubConfirmer {
	s := &stubConfirmer{records: make(map[string]registry.Record)}
	for _, n := range numbers {
		s.records[n] = registry.Record{Number: n, Status: "ATIVA", Municipality: "CAMPINAS"}
	}
	return s
}

var padariaDoc = lead.Document{
	Title:   "Padaria Sol Nascente - Campinas - CNPJ 12.345.678/0001-90",
	Snippet: "Panificação e confeitaria no centro.",
	Link:    "https://cnpj.biz/12345678000190",
}

func TestExtractRegistryNumbers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"punctuated", "CNPJ 12.345.678/0001-90.", []string{"12.345.678/0001-90"}},
		{"bare", "https://cnpj.biz/12345678000190", []string{"12.345.678/0001-90"}},
		{"dedupe", "12.345.678/0001-90 and 12345678000190", []string{"12.345.678/0001-90"}},
		{"longer run ignored", "id 123456789012345", nil},
		{"two numbers", "11.222.333/0001-44 98765432000110", []string{"11.222.333/0001-44", "98.765.432/0001-10"}},
		{"too short", "1234567800019", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractRegistryNumbers(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeCity(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"sao jose do rio preto/sp", "Sao Jose do Rio Preto"},
		{"  CAMPINAS / SP ", "Campinas"},
		{"rio   de janeiro", "Rio de Janeiro"},
		{"São Paulo", "São Paulo"},
		{"embu das artes", "Embu das Artes"},
		{"", ""},
	}
	for _, tt := range tests {
		got := NormalizeCity(tt.in)
		if got != tt.want {
			t.Errorf("NormalizeCity(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if again := NormalizeCity(got); again != got {
			t.Errorf("not idempotent: %q -> %q", got, again)
		}
	}
}

func TestScoreAcceptedScenario(t *testing.T) {
	conf := activeConfirmer("12.345.678/0001-90")
	e := NewEngine(conf)

	res, err := e.Resolve(context.Background(), Query{Name: "Padaria Sol Nascente", City: "Campinas"}, []lead.Document{padariaDoc})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Accepted() {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if res.Match.Number != "12.345.678/0001-90" {
		t.Errorf("number = %s", res.Match.Number)
	}
	if res.Match.Score < 11 {
		t.Errorf("score = %d, want >= 11 (reasons %v)", res.Match.Score, res.Match.Reasons)
	}
	if len(conf.calls) != 1 {
		t.Errorf("confirmations = %d, want 1", len(conf.calls))
	}
	m := res.CompanyMatch(lead.MatcherSearch)
	if err := m.Validate(); err != nil {
		t.Errorf("company match invalid: %v", err)
	}
}

func TestMarketplaceDocumentExcluded(t *testing.T) {
	tests := []struct {
		name string
		edit func(*lead.Document)
	}{
		{"mercadolivre link", func(d *lead.Document) { d.Link = "https://produto.mercadolivre.com.br/12345678000190" }},
		{"americanas inside host", func(d *lead.Document) { d.Link = "https://www.lojasamericanas.com.br/produto/12345678000190" }},
		{"ifood inside word", func(d *lead.Document) { d.Snippet = "Peça pelo ifoodbrasil. CNPJ 12.345.678/0001-90" }},
		{"spaced keyword in title", func(d *lead.Document) { d.Title += " | Mercado Livre" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := padariaDoc
			tt.edit(&doc)
			conf := activeConfirmer("12.345.678/0001-90")

			res, err := NewEngine(conf).Resolve(context.Background(), Query{Name: "Padaria Sol Nascente", City: "Campinas"}, []lead.Document{doc})
			if !errors.Is(err, apperrors.ErrNoConfidentMatch) {
				t.Fatalf("err = %v, want no confident match", err)
			}
			if res.Outcome != OutcomeNoCandidates || res.Excluded != 1 {
				t.Errorf("outcome = %s excluded = %d", res.Outcome, res.Excluded)
			}
			if len(conf.calls) != 0 {
				t.Error("excluded candidate must not be confirmed")
			}
		})
	}
}

func TestExclusionMatchesSubstrings(t *testing.T) {
	doc := lead.Document{Title: "Loja em Manaus, Amazonas", Snippet: "CNPJ 12.345.678/0001-90"}
	if !IsExcluded(doc) {
		t.Error("Amazonas contains the amazon keyword and must be excluded")
	}
	ranked, excluded := Rank(Query{Name: "Padaria Sol Nascente", City: "Campinas"}, []lead.Document{{
		Title: "Padaria Sol Nascente - Campinas - CNPJ 12.345.678/0001-90",
		Link:  "https://www.lojasamericanas.com.br/loja/padaria-sol-nascente",
	}})
	if excluded != 1 || len(ranked) != 0 {
		t.Errorf("excluded = %d ranked = %v", excluded, ranked)
	}
	if IsExcluded(lead.Document{Title: "Padaria Sol Nascente", Link: "https://cnpj.biz/12345678000190"}) {
		t.Error("registry page wrongly excluded")
	}
}

func TestInactiveRejectedWithoutFallback(t *testing.T) {
	conf := activeConfirmer("98.765.432/0001-10")
	conf.records["12.345.678/0001-90"] = registry.Record{Status: "BAIXADA"}
	second := lead.Document{
		Title: "Outra empresa 98.765.432/0001-10",
		Link:  "https://example.com",
	}

	res, err := NewEngine(conf).Resolve(context.Background(), Query{Name: "Padaria Sol Nascente", City: "Campinas"}, []lead.Document{padariaDoc, second})
	if !errors.Is(err, apperrors.ErrNoConfidentMatch) {
		t.Fatalf("err = %v", err)
	}
	if res.Outcome != OutcomeInactive {
		t.Errorf("outcome = %s", res.Outcome)
	}
	if len(conf.calls) != 1 {
		t.Errorf("confirmations = %v, want only the top candidate", conf.calls)
	}
}

func TestBelowThreshold(t *testing.T) {
	doc := lead.Document{Title: "Lista de empresas", Snippet: "CNPJ 12.345.678/0001-90", Link: "https://example.com"}
	conf := activeConfirmer("12.345.678/0001-90")

	res, err := NewEngine(conf).Resolve(context.Background(), Query{Name: "Padaria Sol Nascente", City: "Campinas"}, []lead.Document{doc})
	if !errors.Is(err, apperrors.ErrNoConfidentMatch) || res.Outcome != OutcomeBelowThresh {
		t.Fatalf("err = %v outcome = %s", err, res.Outcome)
	}
	if len(conf.calls) != 0 {
		t.Error("below-threshold candidate must not be confirmed")
	}
}

func TestThresholdIsInclusive(t *testing.T) {
	doc := lead.Document{Title: "Empresa", Snippet: "Fica em Campinas. 12.345.678/0001-90", Link: "https://example.com"}
	ranked, _ := Rank(Query{Name: "Xyz", City: "Campinas"}, []lead.Document{doc})
	if len(ranked) != 1 || ranked[0].Score != AcceptanceThreshold {
		t.Fatalf("ranked = %+v", ranked)
	}
	res, err := NewEngine(activeConfirmer("12.345.678/0001-90")).Resolve(context.Background(), Query{Name: "Xyz", City: "Campinas"}, []lead.Document{doc})
	if err != nil || !res.Accepted() {
		t.Errorf("score at threshold must be accepted: %v", err)
	}
}

func TestConfirmationErrors(t *testing.T) {
	q := Query{Name: "Padaria Sol Nascente", City: "Campinas"}

	_, err := NewEngine(&stubConfirmer{err: apperrors.Transient("registry request", context.DeadlineExceeded)}).
		Resolve(context.Background(), q, []lead.Document{padariaDoc})
	if !apperrors.IsTransient(err) || errors.Is(err, apperrors.ErrNoConfidentMatch) {
		t.Errorf("timeout: err = %v, want transient", err)
	}

	res, err := NewEngine(&stubConfirmer{err: registry.ErrNoData}).
		Resolve(context.Background(), q, []lead.Document{padariaDoc})
	if !errors.Is(err, apperrors.ErrNoConfidentMatch) || res.Outcome != OutcomeUnconfirmed {
		t.Errorf("no data: err = %v outcome = %s", err, res.Outcome)
	}
}

func TestRankOrdering(t *testing.T) {
	docs := []lead.Document{
		{Title: "Sol Nascente Campinas", Snippet: "22.222.222/0001-22"},
		{Title: "Sol Nascente Campinas", Snippet: "11.111.111/0001-11"},
		{Title: "Padaria Nascente Campinas 33.333.333/0001-33", Link: "https://cnpj.biz/33333333000133"},
	}
	ranked, _ := Rank(Query{Name: "Padaria Sol Nascente", City: "Campinas"}, docs)
	var got []string
	for _, c := range ranked {
		got = append(got, c.Number)
	}
	want := []string{"33.333.333/0001-33", "22.222.222/0001-22", "11.111.111/0001-11"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestScoreSignalsAndAccents(t *testing.T) {
	doc := lead.Document{
		Title:   "PANIFICAÇÃO São José 12.345.678/0001-90",
		Snippet: "Padaria tradicional em São José dos Campos",
		Link:    "https://www.casadosdados.com.br/solucao/cnpj/x",
	}
	ranked, _ := Rank(Query{Name: "Panificacao Sao Jose", City: "sao jose dos campos", Category: "bakery"}, []lead.Document{doc})
	if len(ranked) != 1 {
		t.Fatalf("ranked = %+v", ranked)
	}
	c := ranked[0]
	// panificacao title+3, jose title+3 and snippet+2, city+5, trusted+3, category+2, number in title+2
	if c.Score != 20 {
		t.Errorf("score = %d, reasons = %v", c.Score, c.Reasons)
	}
	if !strings.Contains(strings.Join(c.Reasons, ";"), "trusted domain") {
		t.Errorf("reasons = %v", c.Reasons)
	}
}

func TestIsTrustedDomain(t *testing.T) {
	for link, want := range map[string]bool{
		"https://cnpj.biz/12345678000190": true,
		"https://www.econodata.com.br/x":  true,
		"https://evilcnpj.biz/x":          false,
		"https://cnpj.biz.example.com/x":  false,
		"not a url":                       false,
	} {
		if got := IsTrustedDomain(link); got != want {
			t.Errorf("IsTrustedDomain(%q) = %v", link, got)
		}
	}
}

const directoryPage = `<html><body><ul>
<li>
  <a href="/11111111000111"><p class="text-lg font-bold">PADARIA SOL NASCENTE LTDA</p></a>
  <p class="text-sm"><svg class="icon"><use href="#location"></use></svg> Campinas/SP</p>
  <span>BAIXADA</span>
</li>
<li>
  <a href="/22222222000122"><p class="text-lg">PADARIA SOL NASCENTE</p></a>
  <p class="text-sm"><svg><use xlink:href="/icons.svg#location"></use></svg>campinas/sp</p>
  <span>ATIVA</span>
</li>
</ul></body></html>`

func TestParseListings(t *testing.T) {
	listings := ParseListings(strings.NewReader(directoryPage))
	if len(listings) != 2 {
		t.Fatalf("listings = %+v", listings)
	}
	first := listings[0]
	if first.Number != "11.111.111/0001-11" || first.Status != ListingClosed || first.City != "Campinas/SP" {
		t.Errorf("first = %+v", first)
	}
	if first.Name != "PADARIA SOL NASCENTE LTDA" {
		t.Errorf("name = %q", first.Name)
	}
	if listings[1].Status != ListingActive || listings[1].City != "campinas/sp" {
		t.Errorf("second = %+v", listings[1])
	}
}

func TestParseListingsCityFallbacks(t *testing.T) {
	page := `<ul>
<li><a href="/33333333000133">x</a><div class="flex items-center text-sm text-gray-500">33.333.333/0001-33 / Valinhos</div> INAPTA</li>
<li><a href="/44444444000144">y</a><div>ATIVA</div><div>Sumaré/SP</div></li>
</ul>`
	listings := ParseListings(strings.NewReader(page))
	if len(listings) != 2 {
		t.Fatalf("listings = %+v", listings)
	}
	if listings[0].City != "Valinhos" || listings[0].Status != ListingUnfit {
		t.Errorf("class fallback = %+v", listings[0])
	}
	if listings[1].City != "Sumaré/SP" {
		t.Errorf("regex fallback = %+v", listings[1])
	}
}

func TestParseListingsMalformed(t *testing.T) {
	if got := ParseListings(strings.NewReader("<<<not html")); len(got) != 0 {
		t.Errorf("listings = %+v", got)
	}
}

func TestResolveListings(t *testing.T) {
	conf := activeConfirmer("22.222.222/0001-22")
	res, err := NewEngine(conf).ResolveListings(context.Background(), "Campinas", strings.NewReader(directoryPage))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Match.Number != "22.222.222/0001-22" {
		t.Errorf("number = %s", res.Match.Number)
	}

	_, err = NewEngine(conf).ResolveListings(context.Background(), "Hortolândia", strings.NewReader(directoryPage))
	if !errors.Is(err, apperrors.ErrNoConfidentMatch) {
		t.Errorf("city mismatch: err = %v", err)
	}
}
