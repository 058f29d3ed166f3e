// Package page finds the translatable text of an HTML document and writes
// translations back into it.
//
// A Document assigns every translatable text node and attribute a stable id
// ("1", "2", ...) the first time Collect sees it. Apply replaces text by id,
// Restore undoes it, and Render writes the current tree out.
package page

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/minios-linux/vitrans/translate"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/unicode/norm"
)

// skipTags hold text that is never translated.
var skipTags = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Textarea: true,
	atom.Input:    true,
	atom.Select:   true,
	atom.Code:     true,
	atom.Pre:      true,
	atom.Kbd:      true,
	atom.Samp:     true,
	atom.Canvas:   true,
	atom.Svg:      true,
	atom.Math:     true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Video:    true,
	atom.Audio:    true,
	atom.Template: true,
}

// Attrs are the attributes whose values are translated.
var Attrs = []string{"alt", "title", "aria-label"}

// target is one translatable slot: a text node, or an attribute of an
// element when attr is set.
type target struct {
	id       string
	node     *html.Node
	attr     string
	original string
	applied  bool
}

type slotKey struct {
	node *html.Node
	attr string
}

// Document is a parsed HTML page. It is not safe for concurrent use.
type Document struct {
	root    *html.Node
	targets []*target
	byID    map[string]*target
	bySlot  map[slotKey]*target
	seq     int
}

// Parse reads an UTF-8 HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{
		root:   root,
		byID:   make(map[string]*target),
		bySlot: make(map[slotKey]*target),
	}, nil
}

// ParseWithCharset decodes body using the charset named by contentType or
// declared in the document, then parses it.
func ParseWithCharset(body []byte, contentType string) (*Document, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("decoding page: %w", err)
	}
	return Parse(r)
}

// Collect returns the translatable text that has not been translated yet, in
// document order. Text nodes come first, then attributes. A slot keeps its
// id across calls.
func (d *Document) Collect() []translate.Item {
	var items []translate.Item
	add := func(n *html.Node, attr, text string) {
		key := slotKey{n, attr}
		t, ok := d.bySlot[key]
		if !ok {
			d.seq++
			t = &target{id: strconv.Itoa(d.seq), node: n, attr: attr, original: text}
			d.bySlot[key] = t
			d.byID[t.id] = t
			d.targets = append(d.targets, t)
		}
		if t.applied {
			return
		}
		items = append(items, translate.Item{ID: t.id, Text: strings.TrimSpace(text)})
	}

	var attrNodes []*html.Node
	var walk func(n *html.Node, skipped bool)
	walk = func(n *html.Node, skipped bool) {
		switch n.Type {
		case html.ElementNode:
			if skipTags[n.DataAtom] || n.Namespace == "svg" || n.Namespace == "math" || isHidden(n) || isEditable(n) {
				skipped = true
			}
			if !skipped && hasTranslatableAttr(n) {
				attrNodes = append(attrNodes, n)
			}
		case html.TextNode:
			if !skipped && n.Parent != nil && n.Parent.Type == html.ElementNode && translatable(n.Data) {
				add(n, "", n.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, skipped)
		}
	}
	walk(d.root, false)

	for _, n := range attrNodes {
		for _, name := range Attrs {
			if val, ok := getAttr(n, name); ok && strings.TrimSpace(val) != "" {
				add(n, name, val)
			}
		}
	}
	return items
}

// Apply writes translations back by id and returns how many slots changed.
// Unknown ids, empty text and slots already translated are ignored.
func (d *Document) Apply(pairs []translate.Pair) int {
	applied := 0
	for _, p := range pairs {
		t, ok := d.byID[p.ID]
		if !ok || t.applied {
			continue
		}
		text := strings.TrimSpace(norm.NFC.String(p.Text))
		if text == "" {
			continue
		}
		if t.attr == "" {
			t.node.Data = keepPadding(t.original, text)
		} else {
			setAttr(t.node, t.attr, text)
		}
		t.applied = true
		applied++
	}
	return applied
}

// Restore puts the original text back into every translated slot and
// returns how many were restored.
func (d *Document) Restore() int {
	restored := 0
	for _, t := range d.targets {
		if !t.applied {
			continue
		}
		if t.attr == "" {
			t.node.Data = t.original
		} else {
			setAttr(t.node, t.attr, t.original)
		}
		t.applied = false
		restored++
	}
	return restored
}

// Translated reports how many slots currently hold a translation.
func (d *Document) Translated() int {
	n := 0
	for _, t := range d.targets {
		if t.applied {
			n++
		}
	}
	return n
}

// SetBase inserts <base href> as the first child of <head> unless the page
// already has one, so relative links keep resolving against the origin.
func (d *Document) SetBase(href string) {
	if href == "" || findElement(d.root, atom.Base) != nil {
		return
	}
	head := findElement(d.root, atom.Head)
	if head == nil {
		htmlEl := findElement(d.root, atom.Html)
		if htmlEl == nil {
			return
		}
		head = &html.Node{Type: html.ElementNode, DataAtom: atom.Head, Data: "head"}
		htmlEl.InsertBefore(head, htmlEl.FirstChild)
	}
	base := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Base,
		Data:     "base",
		Attr:     []html.Attribute{{Key: "href", Val: href}},
	}
	head.InsertBefore(base, head.FirstChild)
}

// SetLang sets the lang attribute of the <html> element.
func (d *Document) SetLang(lang string) {
	if htmlEl := findElement(d.root, atom.Html); htmlEl != nil {
		setAttr(htmlEl, "lang", lang)
	}
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	if err := html.Render(w, d.root); err != nil {
		return fmt.Errorf("failed to render HTML: %w", err)
	}
	return nil
}

// String renders the document, returning "" on error.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// ItemTranslator is implemented by *translate.Translator.
type ItemTranslator interface {
	TranslateItems(ctx context.Context, items []translate.Item) ([]translate.Pair, error)
}

// Translate collects the document's text, translates it and applies the
// result. Pairs recovered before a failure are still applied; the error is
// returned alongside the applied count.
func Translate(ctx context.Context, d *Document, tr ItemTranslator) (int, error) {
	items := d.Collect()
	if len(items) == 0 {
		return 0, nil
	}
	pairs, err := tr.TranslateItems(ctx, items)
	return d.Apply(pairs), err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// translatable rejects whitespace and single characters.
func translatable(s string) bool {
	return len([]rune(strings.TrimSpace(s))) > 1
}

// keepPadding wraps text in the leading and trailing whitespace of orig.
func keepPadding(orig, text string) string {
	lead := len(orig) - len(strings.TrimLeftFunc(orig, unicode.IsSpace))
	trail := len(orig) - len(strings.TrimRightFunc(orig, unicode.IsSpace))
	if lead+trail >= len(orig) {
		return text
	}
	return orig[:lead] + text + orig[len(orig)-trail:]
}

func isHidden(n *html.Node) bool {
	if _, ok := getAttr(n, "hidden"); ok {
		return true
	}
	if v, _ := getAttr(n, "aria-hidden"); v == "true" {
		return true
	}
	style, _ := getAttr(n, "style")
	style = strings.ToLower(strings.ReplaceAll(style, " ", ""))
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func isEditable(n *html.Node) bool {
	if v, ok := getAttr(n, "contenteditable"); ok && (v == "" || v == "true") {
		return true
	}
	v, _ := getAttr(n, "role")
	return v == "textbox"
}

func hasTranslatableAttr(n *html.Node) bool {
	for _, name := range Attrs {
		if hasAttr(n, name) {
			return true
		}
	}
	return false
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := getAttr(n, key)
	return ok
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
