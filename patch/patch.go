// Package patch applies whitelisted partial updates from a JSON body.
//
// A request is a map of field name to raw JSON value. Apply checks every key
// against the allowed set before touching anything, so a request with one
// unknown key changes nothing. Assignment is an explicit callback per field
// rather than reflection over the target struct.
package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/user/taskmanager-go/apperror"
)

// InvalidUpdates is the message returned when a request names a field outside
// the allowed set, or names no field at all.
const InvalidUpdates = "Invalid updates"

// Fields is a decoded PATCH body.
type Fields map[string]json.RawMessage

// AssignFunc assigns one decoded field onto the caller's target.
type AssignFunc func(field string, raw json.RawMessage) error

// DecodeBody reads a JSON object from r. Anything else is a BadRequest.
func DecodeBody(r io.Reader) (Fields, error) {
	var fields Fields
	dec := json.NewDecoder(r)
	if err := dec.Decode(&fields); err != nil {
		return nil, apperror.NewBadRequestError("invalid request body", err)
	}
	if fields == nil {
		return nil, apperror.NewBadRequestError("request body must be a JSON object", nil)
	}
	return fields, nil
}

// Apply checks every requested key against allowed and, only if all are
// allowed, calls assign for each of them in name order.
func Apply(requested Fields, allowed []string, assign AssignFunc) error {
	if len(requested) == 0 {
		return apperror.NewValidationError(InvalidUpdates, nil)
	}

	permitted := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		permitted[a] = struct{}{}
	}

	keys := make([]string, 0, len(requested))
	rejected := map[string]string{}
	for k := range requested {
		if _, ok := permitted[k]; !ok {
			rejected[k] = "is not an updatable field"
		}
		keys = append(keys, k)
	}
	if len(rejected) > 0 {
		return apperror.NewValidationError(InvalidUpdates, nil).WithFields(rejected)
	}

	sort.Strings(keys)
	for _, k := range keys {
		if err := assign(k, requested[k]); err != nil {
			if _, ok := apperror.FromError(err); ok {
				return err
			}
			return apperror.NewValidationError(InvalidUpdates, err).
				WithFields(map[string]string{k: err.Error()})
		}
	}
	return nil
}

// Decode unmarshals one field value into dst. JSON null and values of the
// wrong type are ValidationErrors naming the field.
func Decode[T any](field string, raw json.RawMessage, dst *T) error {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return apperror.NewValidationError(InvalidUpdates, nil).
			WithFields(map[string]string{field: "must not be null"})
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return apperror.NewValidationError(InvalidUpdates, err).
			WithFields(map[string]string{field: fmt.Sprintf("must be a %s", typeName(v))})
	}
	*dst = v
	return nil
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int32, int64, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
