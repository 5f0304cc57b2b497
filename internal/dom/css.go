package dom

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"github.com/tdewolff/minify/v2"
	minifycss "github.com/tdewolff/minify/v2/css"
	"golang.org/x/net/html"
)

var (
	// never true in a static document, so they are dropped before matching
	dynamicPseudoRe = regexp.MustCompile(`(?i):(?:hover|active|focus-within|focus-visible|focus|visited|target)\b`)
	pseudoElementRe = regexp.MustCompile(`(?i)::?(?:before|after|first-letter|first-line|marker|placeholder|selection|backdrop)\b`)

	minifier = newMinifier()
)

var statementAtRules = map[string]bool{"@import": true, "@charset": true, "@namespace": true}

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/css", minifycss.Minify)
	return m
}

// MinifyCSS compacts stylesheet text. Text the minifier rejects is
// returned unchanged.
func MinifyCSS(text string) string {
	out, err := minifier.String("text/css", text)
	if err != nil {
		return text
	}
	return out
}

// MinifyInlineCSS compacts the value of a style attribute.
func MinifyInlineCSS(text string) string {
	out, err := minifier.String("text/css;inline=1", text)
	if err != nil {
		return text
	}
	return out
}

// SerializeRules renders parsed rules back to stylesheet text.
func SerializeRules(rules []*css.Rule) string {
	var b strings.Builder
	for i, r := range rules {
		if i > 0 {
			b.WriteByte('\n')
		}
		writeRule(&b, r)
	}
	return b.String()
}

func writeRule(b *strings.Builder, r *css.Rule) {
	if r.Kind == css.QualifiedRule {
		b.WriteString(r.Prelude)
		writeDeclarations(b, r.Declarations)
		return
	}
	b.WriteString(r.Name)
	if r.Prelude != "" {
		b.WriteByte(' ')
		b.WriteString(r.Prelude)
	}
	switch {
	case r.EmbedsRules():
		b.WriteString(" {")
		for _, child := range r.Rules {
			b.WriteByte(' ')
			writeRule(b, child)
		}
		b.WriteString(" }")
	case statementAtRules[strings.ToLower(r.Name)]:
		b.WriteByte(';')
	default:
		writeDeclarations(b, r.Declarations)
	}
}

func writeDeclarations(b *strings.Builder, decls []*css.Declaration) {
	b.WriteString(" {")
	for _, d := range decls {
		b.WriteByte(' ')
		b.WriteString(d.Property)
		b.WriteString(": ")
		b.WriteString(d.Value)
		if d.Important {
			b.WriteString(" !important")
		}
		b.WriteByte(';')
	}
	b.WriteString(" }")
}

// RuleStats counts the style rules examined by RemoveUnusedRules.
type RuleStats struct {
	Processed int
	Discarded int
}

// RemoveUnusedRules drops the style rules of every <style> element whose
// selectors match no element of doc. Rules with selectors that cannot be
// evaluated statically are kept, and so is any stylesheet that fails to
// parse.
func RemoveUnusedRules(doc *Document) RuleStats {
	var stats RuleStats
	root := doc.Root()
	if root == nil {
		return stats
	}
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		sheet, err := parser.Parse(s.Text())
		if err != nil {
			return
		}
		var local RuleStats
		rules := filterUsedRules(root, sheet.Rules, &local)
		stats.Processed += local.Processed
		stats.Discarded += local.Discarded
		if local.Discarded > 0 {
			SetText(s, SerializeRules(rules))
		}
	})
	return stats
}

func filterUsedRules(root *html.Node, rules []*css.Rule, stats *RuleStats) []*css.Rule {
	kept := make([]*css.Rule, 0, len(rules))
	for _, r := range rules {
		switch {
		case r.Kind == css.QualifiedRule:
			if ruleIsUsed(root, r) {
				stats.Processed++
				kept = append(kept, r)
			} else {
				stats.Discarded++
			}
		case r.Name == "@media" || r.Name == "@supports" || r.Name == "@document":
			r.Rules = filterUsedRules(root, r.Rules, stats)
			if len(r.Rules) > 0 {
				kept = append(kept, r)
			}
		default:
			kept = append(kept, r)
		}
	}
	return kept
}

func ruleIsUsed(root *html.Node, r *css.Rule) bool {
	for _, text := range r.Selectors {
		sel, err := cascadia.Parse(staticSelector(text))
		if err != nil {
			return true
		}
		if cascadia.Query(root, sel) != nil {
			return true
		}
	}
	return false
}

// staticSelector rewrites selector text so that it matches the elements a
// rule could style at some point: state pseudo-classes and pseudo-elements
// are dropped, an emptied compound becomes the universal selector.
func staticSelector(text string) string {
	text = pseudoElementRe.ReplaceAllString(text, "")
	var b strings.Builder
	last := 0
	for _, loc := range dynamicPseudoRe.FindAllStringIndex(text, -1) {
		b.WriteString(text[last:loc[0]])
		if loc[0] == 0 || strings.ContainsRune(" >+~(,", rune(text[loc[0]-1])) {
			b.WriteByte('*')
		}
		last = loc[1]
	}
	b.WriteString(text[last:])
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "*"
	}
	return out
}

// RemoveAlternativeFonts drops @font-face rules whose family is never
// referenced and keeps a single, preferred source per face. The second
// pass runs once resources are embedded and additionally drops local()
// and remote sources, removing faces left without any.
func RemoveAlternativeFonts(doc *Document, secondPass bool) {
	var sheets []*css.Stylesheet
	var elements []*goquery.Selection
	used := make(map[string]bool)
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		sheet, err := parser.Parse(s.Text())
		if err != nil {
			sheets = append(sheets, nil)
			elements = append(elements, s)
			return
		}
		collectFamilies(sheet.Rules, used)
		sheets = append(sheets, sheet)
		elements = append(elements, s)
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		if decls, err := ParseDeclarations(style); err == nil {
			addFamilies(decls, used)
		}
	})

	for i, sheet := range sheets {
		if sheet == nil {
			continue
		}
		rules, changed := filterFontFaces(sheet.Rules, used, secondPass)
		if changed {
			SetText(elements[i], SerializeRules(rules))
		}
	}
}

func collectFamilies(rules []*css.Rule, used map[string]bool) {
	for _, r := range rules {
		switch {
		case r.Kind == css.QualifiedRule:
			addFamilies(r.Declarations, used)
		case r.EmbedsRules():
			collectFamilies(r.Rules, used)
		}
	}
}

func addFamilies(decls []*css.Declaration, used map[string]bool) {
	for _, d := range decls {
		switch strings.ToLower(d.Property) {
		case "font-family":
			for _, f := range splitFamilies(d.Value) {
				used[f] = true
			}
		case "font":
			for _, f := range shorthandFamilies(d.Value) {
				used[f] = true
			}
		}
	}
}

func splitFamilies(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		f := strings.ToLower(strings.Trim(strings.TrimSpace(part), `'"`))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// shorthandFamilies extracts the family list of a `font` value: whatever
// follows the size token.
func shorthandFamilies(value string) []string {
	head, rest, _ := strings.Cut(value, ",")
	fields := strings.Fields(head)
	for i, f := range fields {
		if f != "" && (f[0] >= '0' && f[0] <= '9' || f[0] == '.') && i+1 < len(fields) {
			first := strings.Join(fields[i+1:], " ")
			if rest != "" {
				first += "," + rest
			}
			return splitFamilies(first)
		}
	}
	return nil
}

func filterFontFaces(rules []*css.Rule, used map[string]bool, secondPass bool) ([]*css.Rule, bool) {
	changed := false
	kept := make([]*css.Rule, 0, len(rules))
	for _, r := range rules {
		if r.EmbedsRules() {
			var c bool
			r.Rules, c = filterFontFaces(r.Rules, used, secondPass)
			changed = changed || c
			kept = append(kept, r)
			continue
		}
		if r.Kind != css.AtRule || strings.ToLower(r.Name) != "@font-face" {
			kept = append(kept, r)
			continue
		}
		family := ""
		for _, d := range r.Declarations {
			if strings.EqualFold(d.Property, "font-family") {
				if fs := splitFamilies(d.Value); len(fs) > 0 {
					family = fs[0]
				}
			}
		}
		if family != "" && !used[family] {
			changed = true
			continue
		}
		keep := true
		for _, d := range r.Declarations {
			if !strings.EqualFold(d.Property, "src") {
				continue
			}
			src := preferredSource(d.Value, secondPass)
			if src == "" {
				keep = false
				break
			}
			if src != d.Value {
				d.Value = src
				changed = true
			}
		}
		if !keep {
			changed = true
			continue
		}
		kept = append(kept, r)
	}
	return kept, changed
}

var formatRank = map[string]int{"woff2": 4, "woff": 3, "truetype": 2, "opentype": 2, "embedded-opentype": 1, "svg": 0}

var formatRe = regexp.MustCompile(`(?i)format\(\s*['"]?([^'")]+)['"]?\s*\)`)

// preferredSource picks one entry of a comma separated src list.
func preferredSource(value string, secondPass bool) string {
	best, bestRank := "", -1
	for _, entry := range splitTopLevel(value) {
		entry = strings.TrimSpace(entry)
		lower := strings.ToLower(entry)
		if strings.HasPrefix(lower, "local(") {
			if secondPass {
				continue
			}
		} else if secondPass && !strings.Contains(lower, "data:") {
			continue
		}
		rank := 1
		if m := formatRe.FindStringSubmatch(entry); m != nil {
			if r, ok := formatRank[strings.ToLower(m[1])]; ok {
				rank = r
			}
		}
		if strings.HasPrefix(lower, "local(") {
			rank = -1
		}
		if best == "" || rank > bestRank {
			best, bestRank = entry, rank
		}
	}
	return best
}

// splitTopLevel splits on commas that are not inside parentheses or quotes.
func splitTopLevel(value string) []string {
	var (
		parts []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == ',' && depth == 0:
			parts = append(parts, value[start:i])
			start = i + 1
		}
	}
	return append(parts, value[start:])
}
