package extract

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Event is a single lead submission found in a webhook body.
type Event struct {
	PlatformLeadID string
	ReceivedAt     time.Time // zero when the source did not say
	Payload        Payload
	// GoogleKey is the shared secret Google Ads echoes in every delivery.
	GoogleKey string
}

// Decode parses a webhook body into events. A Meta Graph envelope
// (entry[].changes[].value) can carry several leads; every other shape
// yields exactly one event. The only error is a body that is not a JSON object.
func Decode(body []byte) ([]Event, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, eris.Wrap(err, "extract: decode body")
	}
	if m == nil {
		return nil, eris.New("extract: body is not a JSON object")
	}

	if entries, ok := m["entry"].([]any); ok {
		return decodeEnvelope(entries), nil
	}
	return []Event{FromMap(m)}, nil
}

func decodeEnvelope(entries []any) []Event {
	var events []Event
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		changes, _ := entry["changes"].([]any)
		for _, c := range changes {
			change, ok := c.(map[string]any)
			if !ok {
				continue
			}
			value, ok := change["value"].(map[string]any)
			if !ok {
				continue
			}
			events = append(events, FromMap(value))
		}
	}
	return events
}

// FromMap builds an event from a single decoded submission, choosing the
// payload shape by the presence of field_data or user_column_data.
func FromMap(m map[string]any) Event {
	ev := Event{
		ReceivedAt: firstTime(m, "created_time", "submitted_at", "received_at"),
	}

	switch {
	case m["field_data"] != nil:
		ev.Payload = metaFromAny(m["field_data"])
		ev.PlatformLeadID = firstString(m, "leadgen_id", "id")
	case m["user_column_data"] != nil:
		ev.Payload = googleFromAny(m["user_column_data"])
		ev.PlatformLeadID = firstString(m, "lead_id")
		ev.GoogleKey = firstString(m, "google_key")
	default:
		ev.Payload = GenericPayload(m)
		ev.PlatformLeadID = firstString(m, "lead_id", "leadgen_id", "id")
	}
	return ev
}

func metaFromAny(v any) MetaPayload {
	items, _ := v.([]any)
	p := MetaPayload{FieldData: make([]MetaField, 0, len(items))}
	for _, it := range items {
		f, ok := it.(map[string]any)
		if !ok {
			continue
		}
		name, _ := f["name"].(string)
		values, _ := f["values"].([]any)
		p.FieldData = append(p.FieldData, MetaField{Name: name, Values: values})
	}
	return p
}

func googleFromAny(v any) GooglePayload {
	items, _ := v.([]any)
	p := GooglePayload{Columns: make([]GoogleColumn, 0, len(items))}
	for _, it := range items {
		c, ok := it.(map[string]any)
		if !ok {
			continue
		}
		p.Columns = append(p.Columns, GoogleColumn{
			ColumnID:    stringOf(c["column_id"]),
			ColumnName:  stringOf(c["column_name"]),
			StringValue: stringOf(c["string_value"]),
		})
	}
	return p
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringOf(m[k]); s != "" {
			return s
		}
	}
	return ""
}

// metaTimeLayout is the offset format used by the Graph API ("2024-05-01T10:00:00+0000").
const metaTimeLayout = "2006-01-02T15:04:05-0700"

func firstTime(m map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		if t, ok := parseTime(m[k]); ok {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case json.Number:
		if secs, err := t.Int64(); err == nil && secs > 0 {
			return time.Unix(secs, 0), true
		}
	case float64:
		if t > 0 {
			return time.Unix(int64(t), 0), true
		}
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
			return time.Unix(secs, 0), true
		}
		for _, layout := range []string{time.RFC3339Nano, metaTimeLayout} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
