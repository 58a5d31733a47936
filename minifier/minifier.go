// Package minifier compacts JavaScript source before it is encrypted and
// again after the artifact is rendered.
package minifier

import (
	"fmt"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/js"
)

// MediaType is the media type scripts are minified as.
const MediaType = "application/javascript"

// Options are fixed for the lifetime of a Minifier.
type Options struct {
	// KeepVarNames disables renaming of local variables.
	KeepVarNames bool

	// Precision is the number of significant digits kept in numbers; 0 keeps all.
	Precision int
}

// Minifier is a semantics-preserving text-to-text compaction.
type Minifier struct {
	m *minify.M
}

// New creates a minifier with the given options.
func New(opts Options) *Minifier {
	m := minify.New()
	m.Add(MediaType, &js.Minifier{
		KeepVarNames: opts.KeepVarNames,
		Precision:    opts.Precision,
	})
	return &Minifier{m: m}
}

// Minify returns the compacted form of src.
func (m *Minifier) Minify(src string) (string, error) {
	out, err := m.m.String(MediaType, src)
	if err != nil {
		return "", fmt.Errorf("minify: %w", err)
	}
	return out, nil
}
