package reader

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/abadojack/whatlanggo"
	"golang.org/x/net/html"
)

// NoTitle is used when a simplified document carries no title.
const NoTitle = "No title found"

const (
	titleOpen  = "<title>"
	titleClose = "</title>"

	// chrome lists elements that never hold readable content.
	chrome = "script, style, noscript, template, iframe, object, embed, svg, canvas, " +
		"nav, header, footer, aside, form, button, input, select, textarea, link, meta"
)

var contentRoots = []string{"article", "main", "[role=main]", "body"}

var keptAttrs = map[string]struct{}{
	"href":    {},
	"src":     {},
	"alt":     {},
	"title":   {},
	"colspan": {},
	"rowspan": {},
}

// DocumentSimplifier strips a page down to its main content.
type DocumentSimplifier struct{}

// NewDocumentSimplifier returns a DocumentSimplifier.
func NewDocumentSimplifier() *DocumentSimplifier { return &DocumentSimplifier{} }

// Simplify emits the page title as a <title> element followed by the HTML of
// the main content root.
func (DocumentSimplifier) Simplify(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find(chrome).Remove()
	for _, n := range doc.Nodes {
		removeComments(n)
	}
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			stripAttrs(n)
		}
	})

	root := pickRoot(doc)
	body, err := root.Html()
	if err != nil {
		return "", fmt.Errorf("render content: %w", err)
	}

	var b strings.Builder
	b.WriteString(titleOpen)
	b.WriteString(html.EscapeString(title))
	b.WriteString(titleClose)
	b.WriteString(strings.TrimSpace(body))
	return b.String(), nil
}

func pickRoot(doc *goquery.Document) *goquery.Selection {
	for _, sel := range contentRoots {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return doc.Selection
}

func removeComments(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			removeComments(c)
		}
		c = next
	}
}

func stripAttrs(n *html.Node) {
	if n.Type != html.ElementNode || len(n.Attr) == 0 {
		return
	}
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if _, ok := keptAttrs[strings.ToLower(a.Key)]; ok && a.Namespace == "" {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

// TitleOf returns the title carried by a simplified document.
func TitleOf(simplified string) string {
	start := strings.Index(simplified, titleOpen)
	if start < 0 {
		return NoTitle
	}
	rest := simplified[start+len(titleOpen):]
	end := strings.Index(rest, titleClose)
	if end < 0 {
		return NoTitle
	}
	title := strings.TrimSpace(html.UnescapeString(rest[:end]))
	if title == "" {
		return NoTitle
	}
	return title
}

// PlainText returns the whitespace-collapsed text of a simplified document.
func PlainText(simplified string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(simplified))
	if err != nil {
		return ""
	}
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			parts = append(parts, n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// DetectLanguage returns the ISO 639-3 code of text, or "" when the guess is unreliable.
func DetectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6393()
}
