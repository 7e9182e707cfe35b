package resolver

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Directory listing status labels.
const (
	ListingActive   = "ATIVA"
	ListingClosed   = "BAIXADA"
	ListingUnfit    = "INAPTA"
	directoryReason = "directory listing: active status and city %q"
)

var (
	listingStatusPattern = regexp.MustCompile(`\b(ATIVA|BAIXADA|INAPTA)\b`)
	hrefNumberPattern    = regexp.MustCompile(`\d{14}`)
	cityClassPattern     = regexp.MustCompile(`(?i)\b(location|city|cidade|municipio)\b|text-gray-500`)
	cityLinePattern      = regexp.MustCompile(`^\s*(\p{L}[\p{L} .'-]*?)\s*/\s*[A-Z]{2}\s*$`)
	nameClassPattern     = regexp.MustCompile(`text-lg`)
)

// Listing is one entry of a directory search results page.
type Listing struct {
	Name   string
	Number string
	City   string
	Status string
	Link   string
}

// ParseListings extracts every list entry from a directory results page.
// Unparseable or unrelated markup yields no listings rather than an error.
func ParseListings(r io.Reader) []Listing {
	doc, err := html.Parse(r)
	if err != nil {
		return nil
	}
	var out []Listing
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Li {
			if l, ok := parseListing(n); ok {
				out = append(out, l)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func parseListing(li *html.Node) (Listing, bool) {
	var l Listing
	if a := findFirst(li, func(n *html.Node) bool {
		return n.DataAtom == atom.A && hrefNumberPattern.MatchString(attr(n, "href"))
	}); a != nil {
		l.Link = attr(a, "href")
		l.Number, _ = CanonicalRegistryNumber(hrefNumberPattern.FindString(l.Link))
	}
	if l.Number == "" {
		return Listing{}, false
	}
	text := textOf(li, nil)
	if m := listingStatusPattern.FindStringSubmatch(text); m != nil {
		l.Status = m[1]
	}
	if p := findFirst(li, func(n *html.Node) bool {
		return n.DataAtom == atom.P && nameClassPattern.MatchString(attr(n, "class"))
	}); p != nil {
		l.Name = collapse(textOf(p, nil))
	}
	l.City = listingCity(li, text)
	return l, true
}

// listingCity tries the location icon first, then class names, then any
// line shaped like "City/UF".
func listingCity(li *html.Node, text string) string {
	if use := findFirst(li, func(n *html.Node) bool {
		return strings.EqualFold(n.Data, "use") && strings.Contains(useHref(n), "#location")
	}); use != nil {
		if p := ancestor(use, atom.P); p != nil {
			if city := collapse(textOf(p, isSVG)); city != "" {
				return city
			}
		}
	}
	if n := findFirst(li, func(n *html.Node) bool {
		return n.DataAtom != atom.Li && cityClassPattern.MatchString(attr(n, "class"))
	}); n != nil {
		// Some layouts render "<registry number> / <city>" in one element.
		stripped := registryNumberPattern.ReplaceAllString(textOf(n, isSVG), "")
		if city := collapse(strings.TrimLeft(strings.TrimSpace(stripped), "/ ")); city != "" {
			return city
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if cityLinePattern.MatchString(line) {
			return strings.TrimSpace(line)
		}
	}
	return ""
}

// MatchListings returns the first listing that is active and located in
// city after normalization on both sides.
func MatchListings(listings []Listing, city string) (Listing, bool) {
	want := NormalizeCity(city)
	for _, l := range listings {
		if l.Status == ListingActive && l.City != "" && NormalizeCity(l.City) == want {
			return l, true
		}
	}
	return Listing{}, false
}

// ResolveListings runs the directory matcher over a results page and
// confirms the chosen entry against the registry.
func (e *Engine) ResolveListings(ctx context.Context, city string, page io.Reader) (Resolution, error) {
	listings := ParseListings(page)
	if len(listings) == 0 {
		return Resolution{Outcome: OutcomeNoCandidates}, noMatch("directory page has no listings")
	}
	l, ok := MatchListings(listings, city)
	if !ok {
		return Resolution{Outcome: OutcomeCityMismatch}, noMatch("none of %d listings is active in %q", len(listings), NormalizeCity(city))
	}
	res := Resolution{
		Match: Candidate{
			Number:  l.Number,
			Link:    l.Link,
			Reasons: []string{fmt.Sprintf(directoryReason, NormalizeCity(l.City))},
		},
	}
	return e.confirm(ctx, res)
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			return c
		}
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func ancestor(n *html.Node, a atom.Atom) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == a {
			return p
		}
	}
	return nil
}

// textOf concatenates the text below n, one line per text node, skipping
// subtrees for which skip returns true.
func textOf(n *html.Node, skip func(*html.Node) bool) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if skip != nil && skip(n) {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func isSVG(n *html.Node) bool {
	return n.Type == html.ElementNode && strings.EqualFold(n.Data, "svg")
}

func useHref(n *html.Node) string {
	if h := attr(n, "href"); h != "" {
		return h
	}
	for _, a := range n.Attr {
		if a.Key == "href" && a.Namespace == "xlink" {
			return a.Val
		}
	}
	return attr(n, "xlink:href")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
