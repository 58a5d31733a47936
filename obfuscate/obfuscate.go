// Package obfuscate runs the full pipeline from plaintext script to
// rendered artifact.
package obfuscate

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/shroud/cipher"
	"github.com/chazu/shroud/minifier"
	"github.com/chazu/shroud/pkg/bytecode"
	"github.com/chazu/shroud/render"
)

var log = commonlog.GetLogger("shroud.obfuscate")

// Options configures one run of the pipeline.
type Options struct {
	// Key is the text key for the outer encryption. Required.
	Key string

	// Minify compacts the script before encryption.
	Minify bool

	// MinifyArtifact compacts the rendered artifact.
	MinifyArtifact bool

	// KeepVarNames disables local renaming in both minification passes.
	KeepVarNames bool
}

// Result holds the artifact and the intermediate products that led to it.
type Result struct {
	Artifact   string
	Program    *bytecode.Program
	DerivedKey byte

	// Ciphertext is the base64 outer encryption of the (minified) script.
	Ciphertext string
}

// Script minifies source, encrypts it under opts.Key, compiles it under
// the byte key derived from opts.Key and renders the artifact.
func Script(source string, opts Options) (*Result, error) {
	if opts.Key == "" {
		return nil, cipher.ErrInvalidKey
	}

	m := minifier.New(minifier.Options{KeepVarNames: opts.KeepVarNames})

	text := source
	if opts.Minify {
		var err error
		if text, err = m.Minify(source); err != nil {
			return nil, err
		}
		log.Debugf("minified script %d -> %d bytes", len(source), len(text))
	}

	ciphertext, err := cipher.EncryptText(text, opts.Key)
	if err != nil {
		return nil, err
	}

	plain, err := cipher.DecryptText(ciphertext, opts.Key)
	if err != nil {
		return nil, err
	}

	program, derived := bytecode.NewCompiler().Compile(plain, cipher.DeriveByteKey(opts.Key))

	artifact, err := render.Render(program)
	if err != nil {
		return nil, err
	}
	if opts.MinifyArtifact {
		if artifact, err = m.Minify(artifact); err != nil {
			return nil, fmt.Errorf("artifact: %w", err)
		}
	}
	log.Infof("rendered %d byte artifact (derived key 0x%02X)", len(artifact), derived)

	return &Result{
		Artifact:   artifact,
		Program:    program,
		DerivedKey: derived,
		Ciphertext: ciphertext,
	}, nil
}
