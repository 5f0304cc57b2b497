package page

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultMaxText  = 4000
	defaultMaxLinks = 80
)

type SummaryOptions struct {
	MaxText  int
	MaxLinks int
}

// Summarize reads the text and outgoing links of an archived document.
// Framed documents are read from their srcdoc.
func Summarize(a Archive, content string, opts SummaryOptions) (Summary, error) {
	if opts.MaxText <= 0 {
		opts.MaxText = defaultMaxText
	}
	if opts.MaxLinks <= 0 {
		opts.MaxLinks = defaultMaxLinks
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{
		ID:       a.ID,
		URL:      a.URL,
		Title:    a.Title,
		Embedded: strings.Count(content, "data:") - strings.Count(content, "data:base64,"),
	}
	if sum.Title == "" {
		sum.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	var text strings.Builder
	var visit func(*goquery.Document)
	visit = func(d *goquery.Document) {
		d.Find("script, style, noscript, template").Remove()
		text.WriteString(d.Find("body").Text())
		text.WriteByte(' ')
		d.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			if len(sum.Links) >= opts.MaxLinks || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
				return
			}
			sum.Links = append(sum.Links, Link{Text: compactWhitespace(s.Text()), Href: href})
		})
		d.Find("iframe[srcdoc], frame[srcdoc]").Each(func(_ int, s *goquery.Selection) {
			srcdoc, _ := s.Attr("srcdoc")
			if srcdoc == "" {
				return
			}
			sum.Frames++
			if nested, err := goquery.NewDocumentFromReader(strings.NewReader(srcdoc)); err == nil {
				visit(nested)
			}
		})
	}
	visit(doc)

	sum.Text = compactWhitespace(text.String())
	if len(sum.Text) > opts.MaxText {
		sum.Text = truncate(sum.Text, opts.MaxText)
		sum.Truncated = true
	}
	return sum, nil
}

func compactWhitespace(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
