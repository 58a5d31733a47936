// Package bundle wraps a serialized program in a CBOR envelope so it can
// be stored and executed later without re-rendering.
package bundle

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/chazu/shroud/pkg/bytecode"
)

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bundle: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Bundle is one build of one script.
type Bundle struct {
	ID         uuid.UUID `cbor:"1,keyasint"`
	Name       string    `cbor:"2,keyasint,omitempty"`
	DerivedKey uint8     `cbor:"3,keyasint"`
	Program    []byte    `cbor:"4,keyasint"` // bytecode.Program.Serialize output
}

// New serializes p into a bundle with a fresh build ID.
func New(name string, p *bytecode.Program, derivedKey byte) (*Bundle, error) {
	data, err := p.Serialize()
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}
	return &Bundle{
		ID:         uuid.New(),
		Name:       name,
		DerivedKey: derivedKey,
		Program:    data,
	}, nil
}

// Decode deserializes the bundled program.
func (b *Bundle) Decode() (*bytecode.Program, error) {
	p, err := bytecode.Deserialize(b.Program)
	if err != nil {
		return nil, fmt.Errorf("bundle %s: %w", b.ID, err)
	}
	return p, nil
}

// Marshal serializes a Bundle to CBOR bytes.
func Marshal(b *Bundle) ([]byte, error) {
	return cborEncMode.Marshal(b)
}

// Unmarshal deserializes a Bundle from CBOR bytes.
func Unmarshal(data []byte) (*Bundle, error) {
	var b Bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("bundle: unmarshal: %w", err)
	}
	if b.ID == uuid.Nil {
		return nil, fmt.Errorf("bundle: missing build id")
	}
	return &b, nil
}
