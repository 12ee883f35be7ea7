package parser

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// HTMLLoader handles HTML files.
type HTMLLoader struct{}

func (p *HTMLLoader) Load(r io.Reader, filename string) (Source, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Source{}, fmt.Errorf("parse html: %w", err)
	}

	src := Source{Title: Stem(filename)}
	if title := findTitle(doc); title != "" {
		src.Title = title
	}

	var out strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level := headingLevel(n.Data); level > 0 {
				if title := textContent(n); title != "" {
					out.WriteString(headingMarkup(level, title))
					out.WriteString("\n")
				}
				return
			}

			switch n.Data {
			case "script", "style", "nav", "footer", "header":
				return
			case "table":
				out.WriteString(tabularBlock(htmlTableRows(n)))
				out.WriteString("\n")
				return
			case "p", "li", "blockquote", "pre":
				if t := textContent(n); t != "" {
					out.WriteString(t)
					out.WriteString("\n\n")
				}
				return
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	if body := findBody(doc); body != nil {
		walk(body)
	} else {
		walk(doc)
	}
	src.Text = out.String()
	return src, nil
}

func htmlTableRows(table *html.Node) [][]string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, textContent(c))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	return rows
}

func headingLevel(tag string) int {
	switch tag {
	case "h1":
		return 1
	case "h2":
		return 2
	case "h3", "h4", "h5", "h6":
		return 3
	}
	return 0
}

func textContent(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.TrimSpace(buf.String())
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		return textContent(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
