package extract

import (
	"bytes"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Lead-Enrichment-Pipeline/internal/lead"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+?55[\s.-]?)?\(?\d{2}\)?[\s.-]?\d{4,5}[\s.-]?\d{4}`)
)

var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg"}

var socialHosts = map[string]string{
	"facebook.com":  "facebook",
	"instagram.com": "instagram",
	"linkedin.com":  "linkedin",
	"twitter.com":   "twitter",
	"x.com":         "twitter",
	"youtube.com":   "youtube",
	"tiktok.com":    "tiktok",
	"wa.me":         "whatsapp",
}

type technology struct {
	name    string
	pattern *regexp.Regexp
}

var technologies = []technology{
	{"WordPress", regexp.MustCompile(`/wp-content/|/wp-includes/`)},
	{"WooCommerce", regexp.MustCompile(`/woocommerce/`)},
	{"Joomla", regexp.MustCompile(`/components/com_`)},
	{"Drupal", regexp.MustCompile(`/sites/default/files/`)},
	{"Magento", regexp.MustCompile(`/skin/frontend/`)},
	{"Shopify", regexp.MustCompile(`\.myshopify\.com|cdn\.shopify\.com`)},
	{"Wix", regexp.MustCompile(`wix\.com|wixstatic\.com`)},
	{"Squarespace", regexp.MustCompile(`squarespace\.com`)},
	{"Weebly", regexp.MustCompile(`weebly\.com`)},
	{"Google Sites", regexp.MustCompile(`sites\.google\.com`)},
	{"BigCommerce", regexp.MustCompile(`cdn\.bigcommerce\.com`)},
	{"HubSpot", regexp.MustCompile(`cdn\.hubspot\.com|js\.hs-scripts\.com`)},
	{"Bootstrap", regexp.MustCompile(`bootstrap(?:\.min)?\.(?:css|js)`)},
	{"Font Awesome", regexp.MustCompile(`font-?awesome`)},
	{"jQuery", regexp.MustCompile(`jquery(?:[.-][\d.]+)?(?:\.min)?\.js`)},
	{"React", regexp.MustCompile(`react(?:-dom)?(?:\.production)?(?:\.min)?\.js|data-reactroot`)},
	{"Vue.js", regexp.MustCompile(`vue(?:\.min)?\.js|data-v-[0-9a-f]{6,}`)},
	{"Angular", regexp.MustCompile(`angular(?:\.min)?\.js|ng-version=`)},
	{"Google Analytics", regexp.MustCompile(`gtag\(|googletagmanager\.com|google-analytics\.com`)},
	{"Facebook Pixel", regexp.MustCompile(`fbq\(|connect\.facebook\.net`)},
}

var cloudflareMarkers = []string{
	"Please enable cookies.",
	"This page is protected by Cloudflare",
	"Email Protection | Cloudflare",
}

// PageData is what a single page yields.
type PageData struct {
	Title        string
	Description  string
	Text         string
	Links        []string
	Emails       []string
	Phones       []string
	Social       map[string]string
	Technologies []string
	Blocked      bool
}

// ParsePage extracts PageData from body. base resolves relative links;
// only links on the same host as base are returned.
func ParsePage(base *url.URL, body []byte) PageData {
	var pd PageData
	raw := string(body)
	for _, m := range cloudflareMarkers {
		if strings.Contains(raw, m) {
			pd.Blocked = true
			return pd
		}
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return pd
	}

	pd.Social = make(map[string]string)
	var text strings.Builder
	seenLinks := make(map[string]bool)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			case atom.Title:
				if pd.Title == "" {
					pd.Title = collapse(innerText(n))
				}
				return
			case atom.Meta:
				name := strings.ToLower(attr(n, "name") + attr(n, "property"))
				if pd.Description == "" && (name == "description" || name == "og:description") {
					pd.Description = collapse(attr(n, "content"))
				}
			case atom.A:
				pd.addLink(base, attr(n, "href"), seenLinks)
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				text.WriteString(t)
				text.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	pd.Text = collapse(text.String())
	pd.Emails = findEmails(raw)
	pd.Phones = findPhones(pd.Text)
	for _, t := range technologies {
		if t.pattern.MatchString(raw) {
			pd.Technologies = append(pd.Technologies, t.name)
		}
	}
	return pd
}

func (pd *PageData) addLink(base *url.URL, href string, seen map[string]bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return
	}
	if strings.HasPrefix(strings.ToLower(href), "mailto:") {
		return
	}
	ref, err := url.Parse(href)
	if err != nil {
		return
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return
	}
	host := strings.TrimPrefix(strings.ToLower(abs.Hostname()), "www.")
	for h, network := range socialHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			if _, ok := pd.Social[network]; !ok {
				pd.Social[network] = abs.String()
			}
			return
		}
	}
	if !sameHost(base, abs) {
		return
	}
	canon := Canonical(abs)
	if seen[canon] {
		return
	}
	seen[canon] = true
	pd.Links = append(pd.Links, canon)
}

func findEmails(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range emailPattern.FindAllString(raw, -1) {
		e := strings.ToLower(strings.TrimRight(m, "."))
		if seen[e] || hasAssetSuffix(e) {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func hasAssetSuffix(s string) bool {
	for _, suf := range assetSuffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func findPhones(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range phonePattern.FindAllString(text, -1) {
		p, ok := lead.NormalizePhone(m)
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// Canonical normalizes u for visited-set comparison: lower-case scheme and
// host, no fragment, no default port, sorted query, no trailing slash.
func Canonical(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	host := strings.ToLower(c.Hostname())
	if port := c.Port(); port != "" && !(c.Scheme == "http" && port == "80") && !(c.Scheme == "https" && port == "443") {
		host += ":" + port
	}
	c.Host = host
	c.Fragment = ""
	c.RawFragment = ""
	c.User = nil
	if c.RawQuery != "" {
		c.RawQuery = c.Query().Encode()
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if len(c.Path) > 1 {
		c.Path = strings.TrimRight(c.Path, "/")
		if c.Path == "" {
			c.Path = "/"
		}
	}
	c.RawPath = ""
	return c.String()
}

func sameHost(a, b *url.URL) bool {
	return strings.TrimPrefix(strings.ToLower(a.Hostname()), "www.") ==
		strings.TrimPrefix(strings.ToLower(b.Hostname()), "www.")
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func innerText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
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

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
