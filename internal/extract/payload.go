// Package extract turns source-specific webhook bodies into canonical lead fields.
package extract

// Kind discriminates the payload shapes a webhook can deliver.
type Kind string

const (
	KindMeta    Kind = "meta"
	KindGoogle  Kind = "google"
	KindGeneric Kind = "generic"
)

// Payload is one of MetaPayload, GooglePayload or GenericPayload.
type Payload interface {
	Kind() Kind
	isPayload()
}

// MetaField is one entry of a Meta/Facebook field_data array.
type MetaField struct {
	Name   string `json:"name"`
	Values []any  `json:"values"`
}

// MetaPayload is the array-of-fields shape used by Meta and Facebook Lead Ads.
type MetaPayload struct {
	FieldData []MetaField `json:"field_data"`
}

// GoogleColumn is one entry of a Google Ads lead form user_column_data array.
type GoogleColumn struct {
	ColumnID    string `json:"column_id"`
	ColumnName  string `json:"column_name"`
	StringValue string `json:"string_value"`
}

// GooglePayload is the Google Ads lead form extension webhook shape.
type GooglePayload struct {
	Columns []GoogleColumn `json:"user_column_data"`
}

// GenericPayload is an already-flat form submission.
type GenericPayload map[string]any

func (MetaPayload) Kind() Kind    { return KindMeta }
func (GooglePayload) Kind() Kind  { return KindGoogle }
func (GenericPayload) Kind() Kind { return KindGeneric }

func (MetaPayload) isPayload()    {}
func (GooglePayload) isPayload()  {}
func (GenericPayload) isPayload() {}
