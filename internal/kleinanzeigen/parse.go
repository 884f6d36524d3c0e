package kleinanzeigen

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/mlenz/resell-scout/internal/pipeline"
	"github.com/mlenz/resell-scout/internal/price"
	"golang.org/x/net/html"
)

// Result page structure (stable for years, but selectors do break when
// kleinanzeigen redesigns):
//
//	<article class="aditem" data-adid="123">
//	  <div class="aditem-main">
//	    <a href="/s-anzeige/...">Title</a>
//	    <p class="aditem-main--middle--description">snippet</p>
//	    <p class="aditem-main--middle--price-shipping--price">199 € VB</p>
//	    <div class="aditem-main--bottom"><span class="simpletag">Gebraucht</span></div>
//	  </div>
//	</article>

// parseResultPage extracts listings from a search result page.
func parseResultPage(body []byte, baseURL string) ([]pipeline.Listing, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse result page html: %w", err)
	}

	var listings []pipeline.Listing
	for _, article := range findAll(doc, isAdItem) {
		if l, ok := parseAdItem(article, baseURL); ok {
			listings = append(listings, l)
		}
	}
	return listings, nil
}

func parseAdItem(article *html.Node, baseURL string) (pipeline.Listing, bool) {
	listing := pipeline.Listing{
		ID:  attr(article, "data-adid"),
		Raw: map[string]string{},
	}

	link := find(article, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "a" && strings.Contains(attr(n, "href"), "/s-anzeige/")
	})
	if link == nil {
		return pipeline.Listing{}, false
	}
	listing.Title = strings.TrimSpace(text(link))
	if listing.Title == "" {
		return pipeline.Listing{}, false
	}

	href := attr(link, "href")
	if strings.HasPrefix(href, "/") {
		href = baseURL + href
	}
	listing.URL = href

	if priceNode := find(article, hasClassContaining("price-shipping--price")); priceNode != nil {
		raw := strings.TrimSpace(text(priceNode))
		listing.Raw["price"] = raw
		if p, err := price.Parse(raw); err == nil {
			listing.Price = &p
		}
	}

	if descNode := find(article, hasClassContaining("middle--description")); descNode != nil {
		listing.Description = strings.TrimSpace(text(descNode))
	}

	// Condition tags ("Gebraucht", "Wie neu") appear as simpletags in the
	// card footer alongside shipping tags; take the first known one.
	for _, tag := range findAll(article, hasClassContaining("simpletag")) {
		v := strings.TrimSpace(text(tag))
		switch strings.ToLower(v) {
		case "neu", "wie neu", "sehr gut", "gut", "gebraucht", "in ordnung", "defekt":
			if listing.Condition == "" {
				listing.Condition = v
			}
		default:
			if v != "" {
				listing.Raw["tag:"+v] = v
			}
		}
	}

	return listing, true
}

// --- small node helpers; x/net/html has no selector engine ---

func isAdItem(n *html.Node) bool {
	return n.Type == html.ElementNode && n.Data == "article" && hasClass(n, "aditem")
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func hasClassContaining(substr string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && strings.Contains(attr(n, "class"), substr)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	if match(n) {
		out = append(out, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, findAll(c, match)...)
	}
	return out
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
