package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/booksage/internal/doctree"
)

// FullTextTitle names the synthetic root of a document with no detectable headings.
const FullTextTitle = "full text"

const documentMarker = `\begin{document}`

var (
	chapterRe       = regexp.MustCompile(`^\s*\\chapter\*?\{(.+?)\}\s*$`)
	sectionRe       = regexp.MustCompile(`^\s*\\section\*?\{(.+?)\}\s*$`)
	subsectionRe    = regexp.MustCompile(`^\s*\\subsection\*?\{(.+?)\}\s*$`)
	subsubsectionRe = regexp.MustCompile(`^\s*\\subsubsection\*?\{(.+?)\}\s*$`)
	cjkChapterRe    = regexp.MustCompile(`^\s*第\s*([0-9一二三四五六七八九十百千万]+)\s*章\s*(.*?)\s*$`)
	chapterWordRe   = regexp.MustCompile(`(?i)^\s*Chapter\s+(\d+)\s*[:.\-]?\s*(.*?)\s*$`)
	numberedRe      = regexp.MustCompile(`^\s*(\d+(?:\.\d+){1,3})\s+(.+?)\s*$`)
	numberedTitleRe = regexp.MustCompile(`^\d+\.\d+`)

	tocMarkerRe  = regexp.MustCompile(`(?i)\\section\*?\{Contents\}|\bContents\b|目录|目\s*录`)
	pageSepRe    = regexp.MustCompile(`^\s*---\s*$`)
	ignoreLineRe = regexp.MustCompile(`\\hfill|\\dotfill|\.{3,}|\s\d+\s*$`)
	columnSpecRe = regexp.MustCompile(`^\s*\{\s*\|?[lcr]\s*\|?`)

	labelCJKRe     = regexp.MustCompile(`^\s*第\s*([0-9]+)\s*章`)
	labelChapterRe = regexp.MustCompile(`(?i)^\s*Chapter\s+([0-9]+)\b`)
	labelNumRe     = regexp.MustCompile(`^\s*(\d+(?:\.\d+){0,3})\b`)

	slugRe = regexp.MustCompile(`[^0-9a-zA-Z\x{4e00}-\x{9fff}]+`)
)

// Parse runs the full structural pipeline over raw document text.
func Parse(documentID, documentName, raw string) doctree.Document {
	text := Clean(raw)
	events := DetectHeadings(text)
	return doctree.Document{
		ID:    documentID,
		Name:  documentName,
		Text:  text,
		Nodes: BuildNodes(documentID, documentName, text, events),
	}
}

// Clean strips the preamble and the table of contents.
func Clean(raw string) string {
	return StripTOC(StripPreamble(raw))
}

// StripPreamble drops everything up to and including \begin{document}.
// Text without the marker is returned unchanged.
func StripPreamble(text string) string {
	if idx := strings.Index(text, documentMarker); idx >= 0 {
		return text[idx+len(documentMarker):]
	}
	return text
}

// StripTOC removes a contents block: from the first line carrying a TOC
// marker until the next "---" page separator line, inclusive. This is a
// heuristic and will over-strip when a body line mentions "Contents" and no
// separator follows.
func StripTOC(text string) string {
	var sb strings.Builder
	sb.Grow(len(text))
	inTOC, seen := false, false
	for _, line := range splitLines(text) {
		if !inTOC && !seen && tocMarkerRe.MatchString(line) {
			inTOC, seen = true, true
			continue
		}
		if inTOC {
			if pageSepRe.MatchString(strings.TrimRight(line, "\r\n")) {
				inTOC = false
			}
			continue
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// DetectHeadings scans cleaned text line by line. Headings are never
// reported inside a table-like environment.
func DetectHeadings(text string) []doctree.HeadingEvent {
	var events []doctree.HeadingEvent
	offset := 0
	inBlock := false
	for i, line := range splitLines(text) {
		stripped := strings.TrimSpace(line)
		if !inBlock && doctree.IsBlockBegin(stripped) {
			inBlock = true
		}
		if inBlock {
			if doctree.IsBlockEnd(stripped) {
				inBlock = false
			}
			offset += len(line)
			continue
		}
		if level, title, ok := detectHeading(stripped); ok {
			events = append(events, doctree.HeadingEvent{
				Level:   level,
				Title:   title,
				LineNo:  i + 1,
				Offset:  offset,
				RawLine: stripped,
			})
		}
		offset += len(line)
	}
	return events
}

func detectHeading(line string) (int, string, bool) {
	if line == "" || ignoreLineRe.MatchString(line) || looksLikeTableRow(line) {
		return 0, "", false
	}
	if m := chapterRe.FindStringSubmatch(line); m != nil {
		return 1, strings.TrimSpace(m[1]), true
	}
	if m := sectionRe.FindStringSubmatch(line); m != nil {
		title := strings.TrimSpace(m[1])
		// Numbered \section titles such as "2.1 Chains" sit one level down.
		if numberedTitleRe.MatchString(title) {
			return 2, title, true
		}
		return 1, title, true
	}
	if m := subsectionRe.FindStringSubmatch(line); m != nil {
		return 2, strings.TrimSpace(m[1]), true
	}
	if m := subsubsectionRe.FindStringSubmatch(line); m != nil {
		return 3, strings.TrimSpace(m[1]), true
	}
	if m := cjkChapterRe.FindStringSubmatch(line); m != nil {
		return 1, strings.TrimSpace(fmt.Sprintf("第%s章 %s", m[1], m[2])), true
	}
	if m := chapterWordRe.FindStringSubmatch(line); m != nil {
		return 1, strings.TrimSpace(fmt.Sprintf("Chapter %s %s", m[1], m[2])), true
	}
	if m := numberedRe.FindStringSubmatch(line); m != nil {
		label, tail := m[1], m[2]
		level := 3
		if strings.Count(label, ".") == 1 {
			level = 2
		}
		return level, label + " " + tail, true
	}
	return 0, "", false
}

// looksLikeTableRow rejects table rows that leaked outside a detected block,
// e.g. "0.0133 & 1.2 \\".
func looksLikeTableRow(line string) bool {
	s := strings.TrimSpace(line)
	switch {
	case strings.Contains(s, "&"):
		return true
	case strings.HasSuffix(s, `\\`):
		return true
	case strings.Contains(s, `\times`):
		return true
	}
	return columnSpecRe.MatchString(s)
}

type buildNode struct {
	doctree.Node
	parent   int
	children []int
}

// BuildNodes turns heading events into the node tree. Nodes are returned in
// document order with final ids, parent/child links and path titles.
func BuildNodes(documentID, documentName string, text string, events []doctree.HeadingEvent) []doctree.Node {
	if len(events) == 0 {
		return []doctree.Node{{
			NodeID:       doctree.NodeIDFor(documentID, "1"),
			DocumentID:   documentID,
			DocumentName: documentName,
			LocalID:      "1",
			Level:        1,
			Title:        FullTextTitle,
			Children:     []string{},
			StartChar:    0,
			EndChar:      len(text),
			PathTitles:   []string{documentName, FullTextTitle},
		}}
	}

	nodes := make([]*buildNode, len(events))
	for i, ev := range events {
		nodes[i] = &buildNode{
			Node: doctree.Node{
				DocumentID:   documentID,
				DocumentName: documentName,
				Level:        ev.Level,
				Title:        ev.Title,
				StartChar:    ev.Offset,
				EndChar:      len(text),
			},
			parent: -1,
		}
	}

	// Parent links: pop while the stack top is at the same or a deeper level.
	var stack []int
	for i, n := range nodes {
		for len(stack) > 0 && nodes[stack[len(stack)-1]].Level >= n.Level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			p := stack[len(stack)-1]
			n.parent = p
			nodes[p].children = append(nodes[p].children, i)
		}
		stack = append(stack, i)
	}

	// A node ends where the next node at the same or a shallower level starts.
	for i, n := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			if nodes[j].Level <= n.Level {
				n.EndChar = nodes[j].StartChar
				break
			}
		}
	}

	assignLocalIDs(nodes)

	for _, n := range nodes {
		n.NodeID = doctree.NodeIDFor(documentID, n.LocalID)
	}
	out := make([]doctree.Node, len(nodes))
	for i, n := range nodes {
		if n.parent >= 0 {
			n.ParentID = nodes[n.parent].NodeID
		}
		n.Children = make([]string, 0, len(n.children))
		for _, c := range n.children {
			n.Children = append(n.Children, nodes[c].NodeID)
		}
		n.PathTitles = pathTitles(nodes, i, documentName)
		out[i] = n.Node
	}
	return out
}

// assignLocalIDs gives every node a local id unique within the document.
// Chapters prefer their own numeric label, descendants prefer a label that
// continues the parent's id, everything else gets a sequential suffix.
func assignLocalIDs(nodes []*buildNode) {
	used := make(map[string]bool, len(nodes))
	nextChapter := 1
	for _, n := range nodes {
		if n.Level != 1 {
			continue
		}
		label := numericLabel(n.Title)
		if label != "" && isDigits(label) && !used[label] {
			n.LocalID = label
		} else {
			for used[strconv.Itoa(nextChapter)] {
				nextChapter++
			}
			n.LocalID = strconv.Itoa(nextChapter)
			nextChapter++
		}
		used[n.LocalID] = true
	}

	var assignChildren func(parent *buildNode)
	assignChildren = func(parent *buildNode) {
		seq := 1
		for _, ci := range parent.children {
			kid := nodes[ci]
			label := numericLabel(kid.Title)
			if label != "" && strings.HasPrefix(label, parent.LocalID+".") && !used[label] {
				kid.LocalID = label
			} else {
				for used[parent.LocalID+"."+strconv.Itoa(seq)] {
					seq++
				}
				kid.LocalID = parent.LocalID + "." + strconv.Itoa(seq)
				seq++
			}
			used[kid.LocalID] = true
			assignChildren(kid)
		}
	}

	rootSeq := 0
	for _, n := range nodes {
		if n.parent >= 0 {
			continue
		}
		rootSeq++
		if n.Level != 1 {
			// Orphan section before the first chapter.
			label := numericLabel(n.Title)
			if label != "" && !used[label] {
				n.LocalID = label
			} else {
				k := rootSeq
				for used["0."+strconv.Itoa(k)] {
					k++
				}
				n.LocalID = "0." + strconv.Itoa(k)
			}
			used[n.LocalID] = true
		}
		assignChildren(n)
	}
}

func pathTitles(nodes []*buildNode, i int, documentName string) []string {
	var chain []string
	for cur := i; cur >= 0; cur = nodes[cur].parent {
		chain = append(chain, nodes[cur].Title)
	}
	out := make([]string, 0, len(chain)+1)
	out = append(out, documentName)
	for j := len(chain) - 1; j >= 0; j-- {
		out = append(out, chain[j])
	}
	return out
}

func numericLabel(title string) string {
	if m := labelCJKRe.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	if m := labelChapterRe.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	if m := labelNumRe.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	return ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// NodeText returns the trimmed span of a node.
func NodeText(text string, n doctree.Node) string {
	start, end := n.StartChar, n.EndChar
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return ""
	}
	return strings.TrimSpace(text[start:end])
}

// DocumentID derives a stable identifier from a display name. ASCII letters,
// digits and CJK ideographs are kept, every other run becomes "_".
func DocumentID(name string) string {
	s := strings.Trim(slugRe.ReplaceAllString(name, "_"), "_")
	if utf8.RuneCountInString(s) > 80 {
		s = string([]rune(s)[:80])
	}
	return s
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
