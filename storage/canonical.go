package storage

import (
	"bytes"
	"encoding/json"

	"golang.org/x/text/unicode/norm"
)

// Canonicalize bringt JSON in eine vergleichbare Form: Objekt-Schlüssel sortiert, Strings
// NFC-normalisiert, kein HTML-Escaping. Kein gültiges JSON wird unverändert zurückgegeben.
func Canonicalize(raw []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalize(v)); err != nil {
		return raw
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// EncodeCanonical serialisiert v und kanonisiert das Ergebnis.
func EncodeCanonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Canonicalize(raw), nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case []any:
		for i := range val {
			val[i] = normalize(val[i])
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[norm.NFC.String(k)] = normalize(elem)
		}
		return out
	default:
		return v
	}
}

// Equivalent vergleicht zwei Werte byteweise nach Kanonisierung.
func Equivalent(a, b []byte) bool {
	return bytes.Equal(Canonicalize(a), Canonicalize(b))
}
