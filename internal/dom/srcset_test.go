package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSrcset(t *testing.T) {
	assert.Equal(t, []Candidate{{URL: "a.png", D: 1}, {URL: "b.png", D: 2}}, ParseSrcset("a.png 1x, b.png 2x"))
	assert.Equal(t, []Candidate{{URL: "data:image/png;base64,AA==", W: 100}, {URL: "c.png"}}, ParseSrcset("data:image/png;base64,AA== 100w, c.png"))
	assert.Equal(t, []Candidate{{URL: "x.png"}, {URL: "y.png", W: 20}}, ParseSrcset("x.png, y.png 20w"))
	assert.Empty(t, ParseSrcset("  ,  "))
}

func TestCandidateString(t *testing.T) {
	assert.Equal(t, "a.png 1.5x", Candidate{URL: "a.png", D: 1.5}.String())
	assert.Equal(t, "a.png 640w", Candidate{URL: "a.png", W: 640}.String())
	assert.Equal(t, "a.png", Candidate{URL: "a.png"}.String())
}
