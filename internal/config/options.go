package config

// Options is the capture configuration for one session. It is built once,
// passed by pointer and never mutated after the capture starts; nested
// documents get their own copy through DeriveChild.
type Options struct {
	URL string `json:"url,omitempty" toml:"-"`

	RemoveHiddenElements    bool `json:"removeHiddenElements" toml:"remove_hidden_elements"`
	CompressHTML            bool `json:"compressHTML" toml:"compress_html"`
	RemoveScripts           bool `json:"removeScripts" toml:"remove_scripts"`
	RemoveFrames            bool `json:"removeFrames" toml:"remove_frames"`
	RemoveImports           bool `json:"removeImports" toml:"remove_imports"`
	RemoveAudioSrc          bool `json:"removeAudioSrc" toml:"remove_audio_src"`
	RemoveVideoSrc          bool `json:"removeVideoSrc" toml:"remove_video_src"`
	RemoveAlternativeFonts  bool `json:"removeAlternativeFonts" toml:"remove_alternative_fonts"`
	RemoveUnusedStyles      bool `json:"removeUnusedStyles" toml:"remove_unused_styles"`
	CompressCSS             bool `json:"compressCSS" toml:"compress_css"`
	LazyLoadImages          bool `json:"lazyLoadImages" toml:"lazy_load_images"`
	InsertFaviconLink       bool `json:"insertFaviconLink" toml:"insert_favicon_link"`
	InsertSingleFileComment bool `json:"insertSingleFileComment" toml:"insert_single_file_comment"`
	DisplayStats            bool `json:"displayStats" toml:"display_stats"`
	MaxResourceSize         int  `json:"maxResourceSize" toml:"max_resource_size"`
	MaxResourceSizeEnabled  bool `json:"maxResourceSizeEnabled" toml:"max_resource_size_enabled"`
	SaveRawPage             bool `json:"saveRawPage" toml:"save_raw_page"`
	JSEnabled               bool `json:"jsEnabled" toml:"js_enabled"`
	Selected                bool `json:"selected" toml:"selected"`
}

// Override adjusts a derived copy of Options.
type Override func(*Options)

func Default() *Options {
	return &Options{
		RemoveHiddenElements:    true,
		CompressHTML:            true,
		RemoveScripts:           true,
		RemoveFrames:            false,
		RemoveImports:           true,
		RemoveAudioSrc:          true,
		RemoveVideoSrc:          true,
		RemoveAlternativeFonts:  true,
		RemoveUnusedStyles:      true,
		CompressCSS:             true,
		LazyLoadImages:          false,
		InsertFaviconLink:       true,
		InsertSingleFileComment: true,
		DisplayStats:            true,
		MaxResourceSize:         10,
		MaxResourceSizeEnabled:  false,
		JSEnabled:               true,
	}
}

// DeriveChild returns the options used for a nested document (frame or
// import): a copy of parent without the top-level-only insertions, with
// overrides applied last. parent is left untouched.
func DeriveChild(parent *Options, overrides ...Override) *Options {
	var child Options
	if parent != nil {
		child = *parent
	}
	child.InsertSingleFileComment = false
	child.InsertFaviconLink = false
	for _, o := range overrides {
		if o != nil {
			o(&child)
		}
	}
	return &child
}

func WithURL(u string) Override {
	return func(o *Options) { o.URL = u }
}

// MaxResourceBytes is the transport size limit in bytes, 0 when unlimited.
func (o *Options) MaxResourceBytes() int64 {
	if o == nil || !o.MaxResourceSizeEnabled || o.MaxResourceSize <= 0 {
		return 0
	}
	return int64(o.MaxResourceSize) * 1024 * 1024
}

// InlineNoscript reports whether <noscript> contents replace their element.
func (o *Options) InlineNoscript() bool {
	return !o.JSEnabled || (o.SaveRawPage && o.RemoveScripts)
}
