package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedOutput marks a completion that does not decode into the
// expected shape. Callers treat it the same as ErrUnavailable.
var ErrMalformedOutput = errors.New("malformed model output")

// DecodeObject decodes the JSON object embedded in raw into v. The object is
// taken from the first '{' to the last '}', so surrounding prose and code
// fences are ignored. Unknown fields are rejected.
func DecodeObject(raw string, v any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
	}

	dec := json.NewDecoder(strings.NewReader(raw[start : end+1]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	return nil
}
