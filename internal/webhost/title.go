package webhost

import (
	"strings"

	"golang.org/x/net/html"
)

// pageTitle pulls the <title> text out of generated app HTML for log and
// surface labels. Unparseable or untitled pages fall back to "untitled".
func pageTitle(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "untitled"
	}
	if t := findTitle(doc); t != "" {
		return t
	}
	return "untitled"
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		var sb strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			}
		}
		return strings.TrimSpace(sb.String())
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}
