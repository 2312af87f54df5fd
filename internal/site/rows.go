package site

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const causeListHeaderMarker = "CAUSE LIST FOR"

// row is a <tr> annotated with the number of <table> elements enclosing it.
type row struct {
	node  *html.Node
	depth int
	text  string
}

// collectRows walks the parsed tree once and records every row with its depth.
func collectRows(root *html.Node) []row {
	var rows []row
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Tr:
				rows = append(rows, row{node: n, depth: depth, text: nodeText(n)})
			case atom.Table:
				depth++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth)
		}
	}
	walk(root, 0)
	return rows
}

// deepest keeps the matching rows found at the greatest depth, in document order.
func deepest(rows []row, match func(row) bool) []row {
	var out []row
	best := -1
	for _, r := range rows {
		if !match(r) {
			continue
		}
		switch {
		case r.depth > best:
			best = r.depth
			out = append(out[:0], r)
		case r.depth == best:
			out = append(out, r)
		}
	}
	return out
}

// ExtractMatchingRows builds a standalone table from the deepest rows that
// mention any of terms, headed by the deepest "CAUSE LIST FOR" rows. Header
// and data rows are selected independently, so they may sit at different
// depths on irregular pages. It reports false when no row mentions a term.
func ExtractMatchingRows(page string, terms []string, mainBase string) (string, bool) {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", false
	}
	needles := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			needles = append(needles, t)
		}
	}
	if len(needles) == 0 {
		return "", false
	}

	rows := collectRows(root)
	headers := deepest(rows, func(r row) bool {
		return strings.Contains(r.text, causeListHeaderMarker)
	})
	data := deepest(rows, func(r row) bool {
		lower := strings.ToLower(r.text)
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return true
			}
		}
		return false
	})
	if len(data) == 0 {
		return "", false
	}

	width := 0
	for _, r := range data {
		if n := len(cells(r.node)); n > width {
			width = n
		}
	}

	table := &html.Node{Type: html.ElementNode, Data: "table", DataAtom: atom.Table}
	for _, h := range headers {
		table.AppendChild(spanHeader(cloneNode(h.node), width))
	}
	for _, d := range data {
		table.AppendChild(cloneNode(d.node))
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, table); err != nil {
		return "", false
	}
	return RewriteRelativePaths(buf.String(), mainBase), true
}

// spanHeader stretches the first cell across width columns and drops the rest.
func spanHeader(tr *html.Node, width int) *html.Node {
	cs := cells(tr)
	if len(cs) == 0 {
		return tr
	}
	setAttr(cs[0], "colspan", strconv.Itoa(width))
	for _, c := range cs[1:] {
		tr.RemoveChild(c)
	}
	return tr
}

func cells(tr *html.Node) []*html.Node {
	var out []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
			out = append(out, c)
		}
	}
	return out
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && strings.EqualFold(n.Attr[i].Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// cloneNode deep-copies n detached from its parent.
func cloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(cloneNode(child))
	}
	return c
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// RewriteRelativePaths points the site's relative asset and anchor paths at mainBase.
func RewriteRelativePaths(page, mainBase string) string {
	base := strings.TrimRight(mainBase, "/")
	return strings.NewReplacer(
		"../data/", base+"/data/",
		"../images/", base+"/images/",
		"../css/", base+"/css/",
		"../js/", base+"/js/",
		"href='./", "href='"+base+"/",
		"href='../", "href='"+base+"/",
		`href="./`, `href="`+base+"/",
		`href="../`, `href="`+base+"/",
	).Replace(page)
}
