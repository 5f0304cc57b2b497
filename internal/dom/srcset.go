package dom

import (
	"strconv"
	"strings"
)

// Candidate is one entry of a srcset attribute.
type Candidate struct {
	URL string
	// Width descriptor ("640w"), 0 when absent.
	W int
	// Density descriptor ("2x"), 0 when absent.
	D float64
}

// String renders the candidate the way it appears in a srcset.
func (c Candidate) String() string {
	switch {
	case c.W > 0:
		return c.URL + " " + strconv.Itoa(c.W) + "w"
	case c.D > 0:
		return c.URL + " " + strconv.FormatFloat(c.D, 'f', -1, 64) + "x"
	}
	return c.URL
}

// ParseSrcset splits a srcset attribute into candidates. URLs may contain
// commas (data URIs do), so only commas that end a URL or follow the
// descriptors separate entries. Invalid descriptors are ignored.
func ParseSrcset(value string) []Candidate {
	var out []Candidate
	i := 0
	for i < len(value) {
		for i < len(value) && (isSpace(value[i]) || value[i] == ',') {
			i++
		}
		if i >= len(value) {
			break
		}
		start := i
		for i < len(value) && !isSpace(value[i]) {
			i++
		}
		u := value[start:i]
		c := Candidate{}
		if strings.HasSuffix(u, ",") {
			c.URL = strings.TrimRight(u, ",")
			out = append(out, c)
			continue
		}
		c.URL = u

		depth := 0
		dstart := i
		for i < len(value) {
			ch := value[i]
			if ch == '(' {
				depth++
			} else if ch == ')' && depth > 0 {
				depth--
			} else if ch == ',' && depth == 0 {
				break
			}
			i++
		}
		for _, d := range strings.Fields(value[dstart:i]) {
			switch {
			case strings.HasSuffix(d, "w"):
				if w, err := strconv.Atoi(strings.TrimSuffix(d, "w")); err == nil && w > 0 {
					c.W = w
				}
			case strings.HasSuffix(d, "x"):
				if x, err := strconv.ParseFloat(strings.TrimSuffix(d, "x"), 64); err == nil && x > 0 {
					c.D = x
				}
			}
		}
		if c.URL != "" {
			out = append(out, c)
		}
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
