// Package htmlx provides the small set of DOM helpers RHOF's public-HTML
// adapters share: find descendants by class, read an attribute, collect
// text content. It exists so each adapter's parse function stays a
// short field-mapping table instead of reimplementing traversal.
package htmlx

import (
	"strings"

	"golang.org/x/net/html"
)

// Parse parses an HTML document into its root node tree.
func Parse(b []byte) (*html.Node, error) {
	return html.Parse(strings.NewReader(string(b)))
}

// HasClass reports whether n carries class among its space-separated
// class attribute values.
func HasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

// Attr returns the value of attribute key on n, if present.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// FindAllClass returns every descendant of n (n included) with the
// given class, in document order.
func FindAllClass(n *html.Node, class string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && HasClass(node, class) {
			out = append(out, node)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// FirstClass returns the first descendant of n with the given class, or
// nil.
func FirstClass(n *html.Node, class string) *html.Node {
	found := FindAllClass(n, class)
	if len(found) == 0 {
		return nil
	}
	return found[0]
}

// Text concatenates all text node content under n, collapsing
// surrounding whitespace.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

// TextOfFirstClass is FirstClass followed by Text, returning "" if no
// matching descendant exists.
func TextOfFirstClass(n *html.Node, class string) string {
	return Text(FirstClass(n, class))
}
