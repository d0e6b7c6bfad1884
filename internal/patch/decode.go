package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// composite marks an object or array value in the request body. No property
// type can coerce it, so the engine rejects the pair without aborting the
// rest of the request.
type composite struct{}

// DecodeChanges reads a flat JSON object into an ordered change list. Key
// order is preserved so later pairs for the same property win, matching the
// engine's last-write-wins contract. A nested object or array value is kept
// as an uncoercible change and rejected per-property by the engine; only a
// malformed body or a non-object top level fails the decode.
func DecodeChanges(body []byte) ([]Change, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode patch body: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decode patch body: expected JSON object")
	}

	var changes []Change
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode patch body: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("decode patch body: non-string key")
		}

		valTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode patch body: %w", err)
		}

		var value any
		if _, nested := valTok.(json.Delim); nested {
			if err := skipNested(dec); err != nil {
				return nil, fmt.Errorf("decode patch body: property %q: %w", key, err)
			}
			value = composite{}
		} else {
			value = valTok
		}
		changes = append(changes, Change{Property: key, Value: value})
	}

	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode patch body: %w", err)
	}
	return changes, nil
}

// skipNested consumes the remainder of a nested value whose opening delimiter
// was already read.
func skipNested(dec *json.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
