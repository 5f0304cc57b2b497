package pipeline

import "sort"

// Stat keys.
const (
	HTMLBytes      = "htmlBytes"
	HiddenElements = "hiddenElements"
	Imports        = "imports"
	Scripts        = "scripts"
	Objects        = "objects"
	AudioSource    = "audioSource"
	VideoSource    = "videoSource"
	Frames         = "frames"
	CSSRules       = "cssRules"
	Canvas         = "canvas"
	StyleSheets    = "styleSheets"
	Resources      = "resources"
)

type Category string

const (
	Processed Category = "processed"
	Discarded Category = "discarded"
)

var defaultKeys = map[Category][]string{
	Discarded: {HTMLBytes, HiddenElements, Imports, Scripts, Objects, AudioSource, VideoSource, Frames, CSSRules, Resources},
	Processed: {HTMLBytes, Imports, Scripts, Frames, CSSRules, Canvas, StyleSheets, Resources},
}

// Stats counts what a document's pipeline kept and dropped. A nil *Stats
// is valid and ignores every update, which is how disabled stats behave.
type Stats struct {
	Processed map[string]int `json:"processed"`
	Discarded map[string]int `json:"discarded"`
}

func NewStats(enabled bool) *Stats {
	if !enabled {
		return nil
	}
	s := &Stats{Processed: make(map[string]int), Discarded: make(map[string]int)}
	for _, k := range defaultKeys[Processed] {
		s.Processed[k] = 0
	}
	for _, k := range defaultKeys[Discarded] {
		s.Discarded[k] = 0
	}
	return s
}

func (s *Stats) counters(c Category) map[string]int {
	if c == Processed {
		return s.Processed
	}
	return s.Discarded
}

func (s *Stats) Set(c Category, key string, v int) {
	if s == nil {
		return
	}
	s.counters(c)[key] = v
}

func (s *Stats) Add(c Category, key string, v int) {
	if s == nil {
		return
	}
	s.counters(c)[key] += v
}

// AddAll sums the counters of a nested document into s.
func (s *Stats) AddAll(other *Stats) {
	if s == nil || other == nil {
		return
	}
	for k, v := range other.Processed {
		s.Processed[k] += v
	}
	for k, v := range other.Discarded {
		s.Discarded[k] += v
	}
}

func (s *Stats) Get(c Category, key string) int {
	if s == nil {
		return 0
	}
	return s.counters(c)[key]
}

// Keys lists the keys of a category in a stable order.
func (s *Stats) Keys(c Category) []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.counters(c)))
	for k := range s.counters(c) {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
