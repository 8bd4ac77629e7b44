package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// CanonicalJSON serializes a payload deterministically: object keys
// sorted, no whitespace, numbers in their shortest stable form. Two
// serializations of the same payload object always produce identical
// bytes, so hashes are stable across processes.
func CanonicalJSON(payload interface{}) (string, error) {
	// Round-trip through encoding/json to reduce arbitrary Go values to
	// the JSON data model before canonical emission.
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("payload not serializable: %w", err)
	}

	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("payload not decodable: %w", err)
	}

	var b strings.Builder
	if err := writeCanonical(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, v interface{}) error {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case json.Number:
		b.WriteString(t.String())
	case string:
		enc, err := json.Marshal(t)
		if err != nil {
			return err
		}
		b.Write(enc)
	case []interface{}:
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, e); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			enc, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(enc)
			b.WriteByte(':')
			if err := writeCanonical(b, t[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("unsupported canonical value type %T", v)
	}
	return nil
}

// HashPayload returns the SHA-256 hex digest of the canonical payload
// serialization. Binary media referenced by URL are expected to carry
// their own SHA-256 inside the payload.
func HashPayload(payload interface{}) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// IdempotencyKey derives the entry key from the normalized inputs:
// provider, action, and the canonical payload.
func IdempotencyKey(provider, action string, payloadHash string) string {
	sum := sha256.Sum256([]byte(provider + "\x00" + action + "\x00" + payloadHash))
	return hex.EncodeToString(sum[:])
}
