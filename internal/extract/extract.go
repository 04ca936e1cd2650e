package extract

import (
	"encoding/json"
	"strconv"
	"strings"
)

// UnknownName is used when a submission carries no usable name.
const UnknownName = "Unknown"

// Fields is the canonical view of a submission. Contact values are raw;
// normalization happens downstream.
type Fields struct {
	LeadData map[string]any
	Name     string
	Phone    string
	Email    string
}

// Extract flattens a payload into lead_data and resolves the contact fields.
// It never fails: missing values become "" (or UnknownName for the name).
func Extract(p Payload) Fields {
	data := flatten(p)
	return Fields{
		LeadData: data,
		Name:     firstNonEmpty(data, UnknownName, "full_name", "first_name"),
		Phone:    firstNonEmpty(data, "", "phone_number", "phone"),
		Email:    firstNonEmpty(data, "", "email"),
	}
}

func flatten(p Payload) map[string]any {
	switch v := p.(type) {
	case MetaPayload:
		data := make(map[string]any, len(v.FieldData))
		for _, f := range v.FieldData {
			if f.Name == "" {
				continue
			}
			var val any = ""
			if len(f.Values) > 0 {
				val = f.Values[0]
			}
			data[f.Name] = val
		}
		return data
	case GooglePayload:
		data := make(map[string]any, len(v.Columns))
		for _, c := range v.Columns {
			key := googleKey(c)
			if key == "" {
				continue
			}
			data[key] = c.StringValue
		}
		return data
	case GenericPayload:
		data := make(map[string]any, len(v))
		for k, val := range v {
			data[k] = val
		}
		return data
	}
	return map[string]any{}
}

// googleKey maps FULL_NAME / PHONE_NUMBER style column ids onto the same
// snake_case keys Meta uses.
func googleKey(c GoogleColumn) string {
	id := c.ColumnID
	if id == "" {
		id = c.ColumnName
	}
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.ReplaceAll(id, " ", "_")
}

func firstNonEmpty(data map[string]any, fallback string, keys ...string) string {
	for _, k := range keys {
		if s := stringOf(data[k]); s != "" {
			return s
		}
	}
	return fallback
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}
