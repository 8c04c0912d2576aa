package envelope

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	NonceSize = 16
	TagSize   = 16
	Overhead  = NonceSize + TagSize
)

// ErrDecode reports an envelope that could not be opened: too short,
// tampered, or sealed under another key. Such input is untrusted and never
// partially processed.
var ErrDecode = errors.New("envelope decode failed")

// Seal encrypts v into nonce || ciphertext || tag. Byte slices and strings
// are sealed as-is; any other value is sealed as canonical JSON.
func Seal(keys *KeyStore, v any) ([]byte, error) {
	aead, err := keys.cipher()
	if err != nil {
		return nil, err
	}
	var plaintext []byte
	switch t := v.(type) {
	case []byte:
		plaintext = t
	case string:
		plaintext = []byte(t)
	default:
		plaintext, err = CanonicalJSON(v)
		if err != nil {
			return nil, err
		}
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(out, out[:NonceSize], plaintext, nil), nil
}

// Open verifies and decrypts an envelope produced by Seal.
func Open(keys *KeyStore, data []byte) (Message, error) {
	aead, err := keys.cipher()
	if err != nil {
		return Message{}, err
	}
	if len(data) < Overhead {
		return Message{}, fmt.Errorf("%w: %d bytes, minimum is %d", ErrDecode, len(data), Overhead)
	}
	plaintext, err := aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return newMessage(plaintext), nil
}

// Message is an opened plaintext, either a JSON document or raw text.
type Message struct {
	raw    []byte
	isJSON bool
}

func newMessage(plaintext []byte) Message {
	return Message{raw: plaintext, isJSON: json.Valid(plaintext)}
}

func (m Message) IsJSON() bool {
	return m.isJSON
}

func (m Message) Bytes() []byte {
	return m.raw
}

func (m Message) Text() string {
	return string(m.raw)
}

func (m Message) Decode(v any) error {
	if !m.isJSON {
		return fmt.Errorf("decode message: payload is plain text")
	}
	return json.Unmarshal(m.raw, v)
}

// Fields decodes a JSON object payload.
func (m Message) Fields() (map[string]any, error) {
	if !m.isJSON {
		return nil, fmt.Errorf("decode message: payload is plain text")
	}
	var out map[string]any
	if err := json.Unmarshal(m.raw, &out); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("decode message: payload is not an object")
	}
	return out, nil
}

// CanonicalJSON encodes v with sorted object keys, no insignificant
// whitespace and no HTML escaping.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := encodeJSON(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	out, err := encodeJSON(tree)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return out, nil
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
