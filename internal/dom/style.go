package dom

import (
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Style is the set of declared property values that apply to one element.
type Style map[string]string

func (s Style) Get(property string) string { return s[property] }

var inheritedProperties = []string{"white-space", "visibility"}

type styleRule struct {
	sel   cascadia.Sel
	spec  cascadia.Specificity
	order int
	decls []*css.Declaration
}

type candidate struct {
	decl      *css.Declaration
	important bool
	inline    bool
	spec      cascadia.Specificity
	order     int
}

// Styles is a static cascade over a document's <style> elements and inline
// style attributes. There is no layout, so geometry is unknown; the
// results are what the stylesheets declare.
type Styles struct {
	rules []styleRule
	cache map[*html.Node]Style
}

// ComputeStyles collects the screen rules of every <style> element of doc.
// Stylesheets or selectors that cannot be parsed are skipped.
func ComputeStyles(doc *Document) *Styles {
	s := &Styles{cache: make(map[*html.Node]Style)}
	order := 0
	doc.Find("style").Each(func(_ int, sel *goquery.Selection) {
		sheet, err := parser.Parse(sel.Text())
		if err != nil {
			return
		}
		s.addRules(sheet.Rules, &order)
	})
	return s
}

func (s *Styles) addRules(rules []*css.Rule, order *int) {
	for _, r := range rules {
		switch {
		case r.Kind == css.QualifiedRule:
			for _, text := range r.Selectors {
				sel, err := cascadia.ParseWithPseudoElement(text)
				if err != nil || sel.PseudoElement() != "" {
					continue
				}
				*order++
				s.rules = append(s.rules, styleRule{sel: sel, spec: sel.Specificity(), order: *order, decls: r.Declarations})
			}
		case r.Name == "@media" && screenMedia(r.Prelude):
			s.addRules(r.Rules, order)
		case r.Name == "@supports":
			s.addRules(r.Rules, order)
		}
	}
}

func screenMedia(prelude string) bool {
	p := strings.ToLower(prelude)
	if strings.Contains(p, "screen") || strings.Contains(p, "all") {
		return !strings.HasPrefix(strings.TrimSpace(p), "not ")
	}
	return !strings.Contains(p, "print") && !strings.Contains(p, "speech")
}

// Computed returns the style of element n, inheriting white-space and
// visibility from its ancestors.
func (s *Styles) Computed(n *html.Node) Style {
	if st, ok := s.cache[n]; ok {
		return st
	}
	st := Style{}
	if p := n.Parent; p != nil && p.Type == html.ElementNode {
		parent := s.Computed(p)
		for _, prop := range inheritedProperties {
			if v, ok := parent[prop]; ok {
				st[prop] = v
			}
		}
	}
	switch n.DataAtom {
	case atom.Pre, atom.Listing, atom.Xmp, atom.Plaintext:
		st["white-space"] = "pre"
	case atom.Textarea:
		st["white-space"] = "pre-wrap"
	}

	var matches []candidate
	for _, r := range s.rules {
		if !r.sel.Match(n) {
			continue
		}
		for _, d := range r.decls {
			matches = append(matches, candidate{decl: d, important: d.Important, spec: r.spec, order: r.order})
		}
	}
	if inline, ok := Attr(n, "style"); ok {
		if decls, err := ParseDeclarations(inline); err == nil {
			for i, d := range decls {
				matches = append(matches, candidate{decl: d, important: d.Important, inline: true, order: i})
			}
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.important != b.important {
			return b.important
		}
		if a.inline != b.inline {
			return b.inline
		}
		if a.spec != b.spec {
			return a.spec.Less(b.spec)
		}
		return a.order < b.order
	})
	for _, m := range matches {
		prop := strings.ToLower(strings.TrimSpace(m.decl.Property))
		val := strings.ToLower(strings.TrimSpace(m.decl.Value))
		if val == "inherit" {
			if p := n.Parent; p != nil && p.Type == html.ElementNode {
				val = s.Computed(p)[prop]
			}
		}
		st[prop] = val
	}
	s.cache[n] = st
	return st
}

// ParseDeclarations parses the value of a style attribute.
func ParseDeclarations(text string) ([]*css.Declaration, error) {
	text = strings.TrimRight(strings.TrimSpace(text), "; ")
	if text == "" {
		return nil, nil
	}
	return parser.ParseDeclarations(text + ";")
}
