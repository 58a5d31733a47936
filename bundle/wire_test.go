package bundle

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/shroud/pkg/bytecode"
)

func TestBundleRoundTrip(t *testing.T) {
	p, key := bytecode.NewCompiler().Compile("x = 1 + 1", 7)

	b, err := New("sum.js", p, key)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, b.ID)

	data, err := Marshal(b)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, "sum.js", got.Name)
	assert.Equal(t, uint8(7), got.DerivedKey)

	decoded, err := got.Decode()
	require.NoError(t, err)
	assert.Equal(t, p.Code, decoded.Code)
	assert.Equal(t, p.Constants, decoded.Constants)
}

func TestBundleMarshalIsDeterministic(t *testing.T) {
	p, key := bytecode.NewCompiler().Compile("y = 2", 3)
	b, err := New("", p, key)
	require.NoError(t, err)

	first, err := Marshal(b)
	require.NoError(t, err)
	second, err := Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBundleBuildIDsDiffer(t *testing.T) {
	p, key := bytecode.NewCompiler().Compile("z = 3", 1)
	a, err := New("", p, key)
	require.NoError(t, err)
	b, err := New("", p, key)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestBundleUnsupportedConstant(t *testing.T) {
	p := bytecode.NewProgram()
	p.AddConstant(struct{}{})

	_, err := New("bad", p, 0)
	assert.Error(t, err)
}

func TestUnmarshalErrors(t *testing.T) {
	_, err := Unmarshal([]byte{0xFF, 0x00})
	assert.Error(t, err)

	// Well-formed CBOR without an ID
	empty, err := cborEncMode.Marshal(map[int]string{})
	require.NoError(t, err)
	_, err = Unmarshal(empty)
	assert.Error(t, err)
}

func TestDecodeCorruptProgram(t *testing.T) {
	b := &Bundle{ID: uuid.New(), Program: []byte("SHBC")}
	_, err := b.Decode()
	assert.Error(t, err)
}
