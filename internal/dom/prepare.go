package dom

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/adityalohuni/snapfile/internal/protocol"
)

const (
	FramesSelector = `iframe, frame, object[type="text/html"][data]`

	SelectedContentAttr     = "data-snapfile-selected-content"
	SelectedContentRootAttr = "data-snapfile-selected-content-root"

	disabledNoscriptTag = "disabled-noscript"

	nonRenderableHeadSelector = "*:not(base):not(link):not(meta):not(noscript):not(" + disabledNoscriptTag + "):not(script):not(style):not(template):not(title)"
	hiddenCandidateSelector   = "html > body *:not(style):not(script):not(link):not(frame):not(iframe):not(object):not(meta):not(title):not(noscript):not(template)"
)

func WindowIDAttr(sessionID int64) string {
	return "data-snapfile-frame-win-id-" + strconv.FormatInt(sessionID, 10)
}

func RemovedContentAttr(sessionID int64) string {
	return "data-snapfile-removed-content-" + strconv.FormatInt(sessionID, 10)
}

func PreservedSpaceAttr(sessionID int64) string {
	return "data-snapfile-preserved-space-" + strconv.FormatInt(sessionID, 10)
}

// Markers selects which session-scoped markers PreProcess sets and
// PostProcess clears.
type Markers struct {
	SessionID            int64
	RemoveHiddenElements bool
	CompressHTML         bool
}

// Snapshot is the state captured by PreProcess that does not survive
// serialization.
type Snapshot struct {
	CanvasData          []*protocol.CanvasData
	EmptyStyleRulesText []string
}

// PreProcess prepares doc for serialization: head <noscript> elements are
// disabled with their attributes kept, non-renderable head elements are hidden and, depending on m,
// hidden elements and whitespace-preserving elements are marked. A static
// document has no raster backing, so every canvas yields a nil entry.
func PreProcess(doc *Document, m Markers) Snapshot {
	doc.Head().Find("noscript").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		attrs := append(append([]html.Attribute(nil), n.Attr...), html.Attribute{Key: "hidden"})
		disabled := NewElement(disabledNoscriptTag, attrs...)
		MoveChildren(disabled, n)
		Replace(n, disabled)
	})
	doc.Head().Find(nonRenderableHeadSelector).SetAttr("hidden", "")

	var styles *Styles
	if m.RemoveHiddenElements || m.CompressHTML {
		styles = ComputeStyles(doc)
	}
	if m.RemoveHiddenElements {
		attr := RemovedContentAttr(m.SessionID)
		doc.Find(hiddenCandidateSelector).Each(func(_ int, s *goquery.Selection) {
			if isHidden(s, styles.Computed(s.Get(0))) {
				s.SetAttr(attr, "")
			}
		})
	}
	if m.CompressHTML {
		attr := PreservedSpaceAttr(m.SessionID)
		doc.Find("*").Each(func(_ int, s *goquery.Selection) {
			if strings.HasPrefix(styles.Computed(s.Get(0)).Get("white-space"), "pre") {
				s.SetAttr(attr, "")
			}
		})
	}

	var snap Snapshot
	doc.Find("canvas").Each(func(int, *goquery.Selection) {
		snap.CanvasData = append(snap.CanvasData, nil)
	})
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		if s.Text() == "" {
			snap.EmptyStyleRulesText = append(snap.EmptyStyleRulesText, "")
		}
	})
	return snap
}

// PostProcess removes what PreProcess added, plus frame window id tags.
func PostProcess(doc *Document, m Markers) {
	doc.Find(disabledNoscriptTag).Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		attrs := n.Attr
		// drop the hidden attribute PreProcess appended
		if k := len(attrs) - 1; k >= 0 && attrs[k].Key == "hidden" && attrs[k].Namespace == "" {
			attrs = attrs[:k]
		}
		noscript := NewElement("noscript", attrs...)
		MoveChildren(noscript, n)
		Replace(n, noscript)
	})
	doc.Head().Find(nonRenderableHeadSelector).RemoveAttr("hidden")
	if m.RemoveHiddenElements {
		removeMarker(doc, RemovedContentAttr(m.SessionID))
	}
	if m.CompressHTML {
		removeMarker(doc, PreservedSpaceAttr(m.SessionID))
	}
	removeMarker(doc, WindowIDAttr(m.SessionID))
}

func removeMarker(doc *Document, attr string) {
	doc.Find("[" + attr + "]").RemoveAttr(attr)
}

func isHidden(s *goquery.Selection, st Style) bool {
	if s.Find(FramesSelector).Length() > 0 {
		return false
	}
	if _, hidden := s.Attr("hidden"); hidden || st.Get("display") == "none" {
		return true
	}
	if st.Get("opacity") == "0" || st.Get("visibility") == "hidden" {
		return hasNoBox(s.Get(0), st)
	}
	return false
}

// hasNoBox approximates a zero client size without layout: explicit zero
// dimensions, or an element with nothing to render.
func hasNoBox(n *html.Node, st Style) bool {
	w, h := st.Get("width"), st.Get("height")
	if isZeroLength(w) && isZeroLength(h) {
		return true
	}
	if w != "" || h != "" {
		return false
	}
	switch n.DataAtom {
	case atom.Img, atom.Video, atom.Canvas, atom.Input, atom.Svg, atom.Textarea, atom.Select, atom.Button, atom.Embed, atom.Audio:
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			return false
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				return false
			}
		}
	}
	return true
}

func isZeroLength(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	v = strings.TrimRight(v, "abcdefghijklmnopqrstuvwxyz%")
	f, err := strconv.ParseFloat(v, 64)
	return err == nil && f == 0
}
