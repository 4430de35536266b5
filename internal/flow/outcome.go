package flow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Outcome is the value a flow ends with: the boolean of a return node or the
// free text of a custom node. The zero value is "no outcome".
type Outcome struct {
	set     bool
	isBool  bool
	boolean bool
	text    string
}

func BoolOutcome(v bool) Outcome       { return Outcome{set: true, isBool: true, boolean: v} }
func StringOutcome(v string) Outcome   { return Outcome{set: true, text: v} }
func (o Outcome) IsSet() bool          { return o.set }
func (o Outcome) Bool() (bool, bool)   { return o.boolean, o.set && o.isBool }
func (o Outcome) Text() (string, bool) { return o.text, o.set && !o.isBool }

// Equal is strict: a boolean never equals a string, even "true".
func (o Outcome) Equal(other Outcome) bool {
	if !o.set || !other.set {
		return false
	}
	if o.isBool != other.isBool {
		return false
	}
	if o.isBool {
		return o.boolean == other.boolean
	}
	return o.text == other.text
}

func (o Outcome) String() string {
	switch {
	case !o.set:
		return "<none>"
	case o.isBool:
		return strconv.FormatBool(o.boolean)
	default:
		return strconv.Quote(o.text)
	}
}

// ParseOutcome coerces free text typed by a user: exactly "true" or "false"
// (case-insensitive, surrounding space ignored) become booleans, quoted text
// is unquoted, anything else is kept verbatim as a string outcome.
func ParseOutcome(raw string) Outcome {
	s := strings.TrimSpace(raw)

	switch strings.ToLower(s) {
	case "true":
		return BoolOutcome(true)
	case "false":
		return BoolOutcome(false)
	}

	if len(s) >= 2 && ((s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'')) {
		if s[0] == '\'' {
			s = `"` + s[1:len(s)-1] + `"`
		}
		if unq, err := strconv.Unquote(s); err == nil {
			return StringOutcome(unq)
		}
	}

	return StringOutcome(raw)
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	switch {
	case !o.set:
		return []byte("null"), nil
	case o.isBool:
		return json.Marshal(o.boolean)
	default:
		return json.Marshal(o.text)
	}
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	out, err := OutcomeOf(v)
	if err != nil {
		return err
	}
	*o = out
	return nil
}

// OutcomeOf converts a decoded JSON value into an Outcome without coercion.
func OutcomeOf(v any) (Outcome, error) {
	switch t := v.(type) {
	case nil:
		return Outcome{}, nil
	case bool:
		return BoolOutcome(t), nil
	case string:
		return StringOutcome(t), nil
	case Outcome:
		return t, nil
	}
	return Outcome{}, fmt.Errorf("%w (got %T)", ErrBadOutcome, v)
}

// Payload is literal JSON text used to seed a run. On the wire it may be a
// JSON string holding the text or an inline object.
type Payload string

// Object decodes the payload. Empty text yields an empty object.
func (p Payload) Object() (map[string]any, error) {
	if strings.TrimSpace(string(p)) == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(p), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if out == nil {
		return nil, ErrBadPayload
	}
	return out, nil
}

func (p Payload) IsEmpty() bool { return strings.TrimSpace(string(p)) == "" }

func (p *Payload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Payload(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	*p = Payload(buf.String())
	return nil
}

// payloadOf accepts either text or an already decoded object.
func payloadOf(v any) (Payload, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return Payload(t), nil
	case Payload:
		return t, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return Payload(b), nil
}
