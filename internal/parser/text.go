package parser

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const textSeparator = "\n"

// visibleText walks the selection depth-first and joins every non-blank text node.
func visibleText(selection *goquery.Selection) string {
	parts := []string{}
	for _, node := range selection.Nodes {
		parts = collectText(node, parts)
	}

	return strings.Join(parts, textSeparator)
}

func collectText(node *html.Node, parts []string) []string {
	switch node.Type {
	case html.TextNode:
		if text := cleanText(node.Data); text != "" {
			parts = append(parts, text)
		}

		return parts
	case html.CommentNode, html.DoctypeNode:
		return parts
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		parts = collectText(child, parts)
	}

	return parts
}

// cleanText trims a text node and collapses inner whitespace runs to one space.
func cleanText(value string) string {
	return strings.TrimSpace(collapseSpaces(value))
}

func collapseSpaces(value string) string {
	var builder strings.Builder
	builder.Grow(len(value))

	previousSpace := false
	for _, r := range value {
		if unicode.IsSpace(r) {
			if previousSpace {
				continue
			}

			builder.WriteRune(' ')
			previousSpace = true

			continue
		}

		builder.WriteRune(r)
		previousSpace = false
	}

	return builder.String()
}
