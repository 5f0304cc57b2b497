// Package resource holds the pure URL and stylesheet-reference helpers used
// while inlining a document. Nothing here performs I/O.
package resource

import (
	"regexp"
	"strings"
)

const (
	dataURIPrefix = "data:"
	blobURIPrefix = "blob:"
	AboutBlank    = "about:blank"
)

// EmptyDataURI replaces references whose fetch failed and must not be retried.
const EmptyDataURI = "data:base64,"

const escapedFragment = "_escaped_fragment_="

var (
	urlFnRe = regexp.MustCompile(`(?i)(url\s*\(\s*'(.*?)'\s*\))|(url\s*\(\s*"(.*?)"\s*\))|(url\s*\(\s*(.*?)\s*\))`)

	urlSingleQuotedRe = regexp.MustCompile(`(?i)^url\s*\(\s*'(.*?)'\s*\)$`)
	urlDoubleQuotedRe = regexp.MustCompile(`(?i)^url\s*\(\s*"(.*?)"\s*\)$`)
	urlUnquotedRe     = regexp.MustCompile(`(?i)^url\s*\(\s*(.*?)\s*\)$`)

	importFnRe = regexp.MustCompile(`(?i)@import\s*(?:url\s*\(\s*(?:'[^']*'|"[^"]*"|[^)]*?)\s*\)|'[^']*'|"[^"]*")[^;{}]*;?`)

	importArgRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^@import\s*url\s*\(\s*'(.*?)'\s*\)\s*(.*?)\s*;?$`),
		regexp.MustCompile(`(?i)^@import\s*url\s*\(\s*"(.*?)"\s*\)\s*(.*?)\s*;?$`),
		regexp.MustCompile(`(?i)^@import\s*url\s*\(\s*(.*?)\s*\)\s*(.*?)\s*;?$`),
		regexp.MustCompile(`(?i)^@import\s*'(.*?)'\s*(.*?)\s*;?$`),
		regexp.MustCompile(`(?i)^@import\s*"(.*?)"\s*(.*?)\s*;?$`),
	}
)

// Import is the target of an @import statement and its optional media list.
type Import struct {
	URL   string
	Media string
}

// Normalize strips the fragment of a URL.
func Normalize(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		return u[:i]
	}
	return u
}

// EscapedFragmentURL returns the crawler variant of a page URL, or false
// when u already is one.
func EscapedFragmentURL(u string) (string, bool) {
	u = Normalize(u)
	if strings.HasSuffix(u, "?"+escapedFragment) || strings.HasSuffix(u, "&"+escapedFragment) {
		return "", false
	}
	if strings.Contains(u, "?") {
		return u + "&" + escapedFragment, true
	}
	return u + "?" + escapedFragment, true
}

// IsEmbeddable reports whether u still points outside the artifact.
func IsEmbeddable(u string) bool {
	lower := strings.ToLower(strings.TrimSpace(u))
	return !strings.HasPrefix(lower, dataURIPrefix) && !strings.HasPrefix(lower, blobURIPrefix) && lower != AboutBlank
}

// ExtractStyleReferences returns every url(...) fragment of css in order,
// duplicates included.
func ExtractStyleReferences(css string) []string {
	return urlFnRe.FindAllString(css, -1)
}

// ExtractImportStatements returns every @import fragment of css in order.
// Comments should be stripped first.
func ExtractImportStatements(css string) []string {
	return importFnRe.FindAllString(css, -1)
}

// MatchURLArgument extracts the URL of a url(...) fragment.
func MatchURLArgument(fragment string) (string, bool) {
	for _, re := range []*regexp.Regexp{urlSingleQuotedRe, urlDoubleQuotedRe, urlUnquotedRe} {
		if m := re.FindStringSubmatch(fragment); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// MatchImportArgument extracts the target and media list of an @import
// fragment.
func MatchImportArgument(fragment string) (Import, bool) {
	fragment = strings.TrimSpace(fragment)
	for _, re := range importArgRes {
		if m := re.FindStringSubmatch(fragment); m != nil && m[1] != "" {
			return Import{URL: m[1], Media: strings.TrimSpace(m[2])}, true
		}
	}
	return Import{}, false
}

// StripComments removes /* ... */ spans. An unterminated comment is kept.
func StripComments(css string) string {
	for {
		start := strings.Index(css, "/*")
		if start == -1 {
			return css
		}
		end := strings.Index(css[start+2:], "*/")
		if end == -1 {
			return css
		}
		css = css[:start] + css[start+2+end+2:]
	}
}

// WrapInMedia guards css with an @media block when media is not empty.
func WrapInMedia(css, media string) string {
	if strings.TrimSpace(media) == "" {
		return css
	}
	return "@media " + media + "{ " + css + " }"
}
