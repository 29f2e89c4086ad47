package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

// ErrInvalidInput marks events rejected before they reach the state manager.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// scalarOrField reads payloads that may be a bare JSON string ("lobby") or an
// object carrying the value under key ({"room": "lobby"}).
func scalarOrField(payload json.RawMessage, key string) (string, error) {
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return "", invalid("payload is not valid JSON")
	}
	res := gjson.ParseBytes(payload)
	switch {
	case res.Type == gjson.String:
		return strings.TrimSpace(res.String()), nil
	case res.IsObject():
		return strings.TrimSpace(res.Get(key).String()), nil
	default:
		return "", invalid("expected a string or an object with '%s'", key)
	}
}

// boolOrField is scalarOrField for booleans.
func boolOrField(payload json.RawMessage, key string) (bool, error) {
	if len(payload) == 0 || !gjson.ValidBytes(payload) {
		return false, invalid("payload is not valid JSON")
	}
	res := gjson.ParseBytes(payload)
	switch {
	case res.Type == gjson.True || res.Type == gjson.False:
		return res.Bool(), nil
	case res.IsObject():
		field := res.Get(key)
		if field.Type != gjson.True && field.Type != gjson.False {
			return false, invalid("'%s' must be a boolean", key)
		}
		return field.Bool(), nil
	default:
		return false, invalid("expected a boolean or an object with '%s'", key)
	}
}

type payloadDecoder struct {
	validate *validator.Validate
}

func newPayloadDecoder() *payloadDecoder {
	return &payloadDecoder{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// decode unmarshals an object payload into dst, trims its string fields via
// trim, and validates the result.
func (d *payloadDecoder) decode(payload json.RawMessage, dst any, trim func()) error {
	if len(payload) == 0 {
		return invalid("missing payload")
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return invalid("malformed payload: %v", err)
	}
	if trim != nil {
		trim()
	}
	return d.check(dst)
}

func (d *payloadDecoder) check(v any) error {
	if err := d.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return invalid("field '%s' failed '%s'", fe.Field(), fe.Tag())
		}
		return invalid("%v", err)
	}
	return nil
}

// body checks a message body: not blank and within max runes.
func (d *payloadDecoder) body(text string, max int) error {
	if strings.TrimSpace(text) == "" {
		return invalid("message body is empty")
	}
	if max > 0 {
		if err := d.validate.Var(text, fmt.Sprintf("max=%d", max)); err != nil {
			return invalid("message body exceeds %d characters", max)
		}
	}
	return nil
}
