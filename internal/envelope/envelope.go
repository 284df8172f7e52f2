// Package envelope defines the event envelope that flows through the
// dispatch and verification stages, and its JSON codec.
//
// The known fields are typed. Every other top-level field is carried in
// Extra, in its original order and byte-for-byte, so producers can attach
// arbitrary payload that survives any number of retries.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"lambdabridge/internal/apperrors"
	"strconv"
	"strings"
)

// MaxRetries is the retry index at which an event stops being redispatched.
const MaxRetries = 6

// Known field names.
const (
	FieldLambdaARN       = "lambda_arn"
	FieldRetryIndex      = "retry_index"
	FieldEventID         = "event_id"
	FieldLambdaRequestID = "lambda_request_id"
)

// UnknownRequestID is recorded when the invocation response carries no request id.
const UnknownRequestID = "unknown"

// Field is one pass-through payload field.
type Field struct {
	Key   string
	Value json.RawMessage
}

// Envelope is one logical event and its retry state.
type Envelope struct {
	LambdaARN       string
	RetryIndex      uint
	EventID         string
	LambdaRequestID string
	Extra           []Field
}

// Decode parses a message payload and checks the fields every stage needs.
// All failures wrap apperrors.ErrInvalidEnvelope.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if apperrors.IsPermanent(err) {
			return nil, err
		}
		return nil, apperrors.InvalidEnvelope("", "malformed envelope: "+err.Error())
	}
	if env.LambdaARN == "" {
		return nil, apperrors.InvalidEnvelope(FieldLambdaARN, "lambda_arn is required")
	}
	return &env, nil
}

// Encode serialises the envelope. Known fields come first, then Extra in
// order with their bytes untouched.
func (e *Envelope) Encode() ([]byte, error) {
	return e.MarshalJSON()
}

// MarshalJSON implements json.Marshaler.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeString(&buf, FieldLambdaARN, e.LambdaARN)
	buf.WriteString(`,"` + FieldRetryIndex + `":`)
	buf.WriteString(strconv.FormatUint(uint64(e.RetryIndex), 10))
	if e.EventID != "" {
		buf.WriteByte(',')
		writeString(&buf, FieldEventID, e.EventID)
	}
	if e.LambdaRequestID != "" {
		buf.WriteByte(',')
		writeString(&buf, FieldLambdaRequestID, e.LambdaRequestID)
	}
	for _, f := range e.Extra {
		if isKnown(f.Key) {
			continue
		}
		buf.WriteByte(',')
		writeJSONString(&buf, f.Key)
		buf.WriteByte(':')
		if len(f.Value) == 0 {
			buf.WriteString("null")
		} else {
			buf.Write(f.Value)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, preserving unknown field order.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return apperrors.InvalidEnvelope("", "envelope must be a JSON object")
	}

	*e = Envelope{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if err := e.setField(key, raw); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

func (e *Envelope) setField(key string, raw json.RawMessage) error {
	isNull := bytes.Equal(raw, []byte("null"))
	switch key {
	case FieldLambdaARN:
		if isNull {
			e.LambdaARN = ""
			return nil
		}
		if err := json.Unmarshal(raw, &e.LambdaARN); err != nil {
			return apperrors.InvalidEnvelope(key, "lambda_arn must be a string")
		}
	case FieldRetryIndex:
		if isNull {
			e.RetryIndex = 0
			return nil
		}
		n, err := strconv.ParseUint(string(raw), 10, 0)
		if err != nil {
			return apperrors.InvalidEnvelope(key, "retry_index must be a non-negative integer")
		}
		e.RetryIndex = uint(n)
	case FieldEventID:
		id, err := stringOrNumber(raw, isNull)
		if err != nil {
			return apperrors.InvalidEnvelope(key, "event_id must be a string")
		}
		e.EventID = id
	case FieldLambdaRequestID:
		if isNull {
			e.LambdaRequestID = ""
			return nil
		}
		if err := json.Unmarshal(raw, &e.LambdaRequestID); err != nil {
			return apperrors.InvalidEnvelope(key, "lambda_request_id must be a string")
		}
	default:
		e.putExtra(key, raw)
	}
	return nil
}

// stringOrNumber accepts event ids written as stream sequence numbers.
func stringOrNumber(raw json.RawMessage, isNull bool) (string, error) {
	if isNull {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

// Clone returns a deep copy.
func (e *Envelope) Clone() *Envelope {
	c := *e
	if e.Extra != nil {
		c.Extra = make([]Field, len(e.Extra))
		for i, f := range e.Extra {
			c.Extra[i] = Field{Key: f.Key, Value: append(json.RawMessage(nil), f.Value...)}
		}
	}
	return &c
}

// ExtraValue returns the raw value of a pass-through field.
func (e *Envelope) ExtraValue(key string) (json.RawMessage, bool) {
	for _, f := range e.Extra {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// SetExtra marshals v and stores it under key, replacing any existing value
// in place. Known field names are rejected.
func (e *Envelope) SetExtra(key string, v any) error {
	if isKnown(key) {
		return fmt.Errorf("envelope: %q is a reserved field", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("envelope: marshal %q: %w", key, err)
	}
	e.putExtra(key, raw)
	return nil
}

func (e *Envelope) putExtra(key string, raw json.RawMessage) {
	for i := range e.Extra {
		if e.Extra[i].Key == key {
			e.Extra[i].Value = raw
			return
		}
	}
	e.Extra = append(e.Extra, Field{Key: key, Value: raw})
}

// Exhausted reports whether the retry budget is spent.
func (e *Envelope) Exhausted() bool {
	return e.RetryIndex >= MaxRetries
}

// FunctionName returns the human-readable function name from the ARN.
// For arn:aws:lambda:<region>:<account>:function:<name>[:<qualifier>] it is
// <name>; for anything else, the trailing ':'-separated segment.
func (e *Envelope) FunctionName() string {
	return FunctionName(e.LambdaARN)
}

// LogGroup returns the function's CloudWatch log group.
func (e *Envelope) LogGroup() string {
	return "/aws/lambda/" + e.FunctionName()
}

// FunctionName is the ARN form of Envelope.FunctionName.
func FunctionName(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) >= 7 && parts[5] == "function" {
		return parts[6]
	}
	return parts[len(parts)-1]
}

func isKnown(key string) bool {
	switch key {
	case FieldLambdaARN, FieldRetryIndex, FieldEventID, FieldLambdaRequestID:
		return true
	}
	return false
}

func writeString(buf *bytes.Buffer, key, value string) {
	buf.WriteByte('"')
	buf.WriteString(key)
	buf.WriteString(`":`)
	writeJSONString(buf, value)
}

// writeJSONString quotes s without HTML escaping.
func writeJSONString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	// Encode terminates with a newline.
	buf.Truncate(buf.Len() - 1)
}
