// Package cipher implements the repeating-key XOR transform used to hide
// script sources, both for the outer text encryption and for the payload
// embedded in compiled programs.
package cipher

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
)

// ErrInvalidKey is returned when a key has no bytes to cycle through.
var ErrInvalidKey = errors.New("cipher: invalid key")

// Key is a repeating XOR keystream. Byte i of the input is combined with
// key[i mod len(key)].
type Key []byte

// ByteKey returns a single-byte key from a numeric value masked to 8 bits.
func ByteKey(v uint32) Key {
	return Key{byte(v & 0xFF)}
}

// StringKey returns a multi-byte key with one byte per character of s,
// taken from the character's code point. Characters above U+00FF have no
// byte form and are rejected.
func StringKey(s string) (Key, error) {
	if s == "" {
		return nil, ErrInvalidKey
	}
	key := make(Key, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return nil, fmt.Errorf("%w: character %q is outside U+0000..U+00FF", ErrInvalidKey, r)
		}
		key = append(key, byte(r))
	}
	return key, nil
}

// XOR combines data with the repeating key. The transform is its own
// inverse, so it serves as both encryption and decryption.
func XOR(data []byte, key Key) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrInvalidKey
	}
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out, nil
}

// Encrypt is XOR.
func Encrypt(data []byte, key Key) ([]byte, error) {
	return XOR(data, key)
}

// Decrypt is XOR.
func Decrypt(data []byte, key Key) ([]byte, error) {
	return XOR(data, key)
}

// XORByte combines every byte of data with k.
func XORByte(data []byte, k byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ k
	}
	return out
}

// EncryptText XORs the UTF-8 bytes of text with key and returns the
// result base64 encoded.
func EncryptText(text, key string) (string, error) {
	k, err := StringKey(key)
	if err != nil {
		return "", err
	}
	enc, err := XOR([]byte(text), k)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}

// DecryptText reverses EncryptText.
func DecryptText(encoded, key string) (string, error) {
	k, err := StringKey(key)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("cipher: decode base64: %w", err)
	}
	dec, err := XOR(raw, k)
	if err != nil {
		return "", err
	}
	return string(dec), nil
}

// DeriveByteKey folds a text key into a single byte: the sum of its
// character code points modulo 256.
func DeriveByteKey(key string) byte {
	var sum rune
	for _, r := range key {
		sum += r
	}
	return byte(sum & 0xFF)
}

// GenerateKey returns a random decimal key in [1, 100].
func GenerateKey() string {
	return strconv.Itoa(rand.Intn(100) + 1)
}
