package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ResponseMessage is an asynchronous API result as published on a response channel.
// On the wire every field is a JSON-encoded string.
type ResponseMessage struct {
	CorrelationID string
	SessionID     string
	APIID         string
	Result        CallResult
	Timestamp     time.Time
}

// Fields encodes the message into stream fields.
func (m ResponseMessage) Fields() (map[string]any, error) {
	raw := map[string]any{
		"correlationId": m.CorrelationID,
		"sessionId":     m.SessionID,
		"apiId":         m.APIID,
		"status":        string(m.Result.Status),
		"httpCode":      m.Result.HTTPCode,
		"data":          m.Result.Data,
		"errorMessage":  m.Result.ErrorMessage,
		"isTimeout":     m.Result.IsTimeout,
		"timestamp":     m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		fields[k] = string(b)
	}
	return fields, nil
}

// DecodeResponseMessage parses stream fields. Values that are not valid JSON are
// taken verbatim, so hand-written messages with plain strings are accepted.
func DecodeResponseMessage(fields map[string]any) ResponseMessage {
	get := func(key string) any {
		v, ok := fields[key]
		if !ok {
			return nil
		}
		s, isString := v.(string)
		if !isString {
			return v
		}
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return s
		}
		return decoded
	}
	str := func(key string) string {
		if v := get(key); v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}

	m := ResponseMessage{
		CorrelationID: str("correlationId"),
		SessionID:     str("sessionId"),
		APIID:         str("apiId"),
	}
	m.Result.Status = CallStatus(str("status"))
	if m.Result.Status == "" {
		m.Result.Status = CallSuccess
	}
	switch code := get("httpCode").(type) {
	case float64:
		m.Result.HTTPCode = int(code)
	case string:
		m.Result.HTTPCode, _ = strconv.Atoi(code)
	}
	m.Result.Data = get("data")
	m.Result.ErrorMessage = str("errorMessage")
	switch t := get("isTimeout").(type) {
	case bool:
		m.Result.IsTimeout = t
	case string:
		m.Result.IsTimeout, _ = strconv.ParseBool(t)
	}
	if ts, err := time.Parse(time.RFC3339Nano, str("timestamp")); err == nil {
		m.Timestamp = ts
	}
	return m
}
