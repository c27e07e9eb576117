package pdf

import (
	"fmt"
	"sync"

	"github.com/go-pdf/fpdf"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
)

const fontFamily = "go"

// Every style used in a report, keyed by its fpdf style string.
var fontFiles = map[string][]byte{
	"":  goregular.TTF,
	"B": gobold.TTF,
	"I": goitalic.TTF,
}

var (
	parseFontsOnce sync.Once
	parsedFonts    []*sfnt.Font
	parseFontsErr  error
)

func registerFonts(doc *fpdf.Fpdf) {
	for _, style := range []string{"", "B", "I"} {
		doc.AddUTF8FontFromBytes(fontFamily, style, fontFiles[style])
	}
}

func loadFonts() ([]*sfnt.Font, error) {
	parseFontsOnce.Do(func() {
		for _, style := range []string{"", "B", "I"} {
			f, err := sfnt.Parse(fontFiles[style])
			if err != nil {
				parseFontsErr = fmt.Errorf("parse report font %q: %w", style, err)
				return
			}
			parsedFonts = append(parsedFonts, f)
		}
	})
	return parsedFonts, parseFontsErr
}

// Unsupported returns the distinct characters of text that the report fonts
// have no glyph for, in order of first appearance. Line breaks and tabs are
// layout, not glyphs, and are always accepted.
func Unsupported(text string) []rune {
	fonts, err := loadFonts()
	if err != nil {
		return nil
	}
	var buf sfnt.Buffer
	var out []rune
	seen := map[rune]bool{}
	for _, r := range text {
		if r == '\n' || r == '\r' || r == '\t' || seen[r] {
			continue
		}
		seen[r] = true
		for _, f := range fonts {
			idx, err := f.GlyphIndex(&buf, r)
			if err != nil || idx == 0 {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Unsupported lets a Builder vet text before it is accepted for rendering.
func (b *Builder) Unsupported(text string) []rune {
	return Unsupported(text)
}
