package models

import "strings"

// ParameterFormat is how a template addresses its placeholders.
type ParameterFormat string

const (
	// ParameterFormatPositional uses {{1}}, {{2}}, ...
	ParameterFormatPositional ParameterFormat = "positional"
	// ParameterFormatNamed uses {{customer_name}} style keys.
	ParameterFormatNamed ParameterFormat = "named"
)

// IsValidParameterFormat checks if the given format is supported. Empty means positional.
func IsValidParameterFormat(f ParameterFormat) bool {
	switch f {
	case "", ParameterFormatPositional, ParameterFormatNamed:
		return true
	default:
		return false
	}
}

// Component types as returned by the template management API.
const (
	ComponentHeader  = "HEADER"
	ComponentBody    = "BODY"
	ComponentFooter  = "FOOTER"
	ComponentButtons = "BUTTONS"
)

// Header formats.
const (
	HeaderFormatText     = "TEXT"
	HeaderFormatImage    = "IMAGE"
	HeaderFormatVideo    = "VIDEO"
	HeaderFormatDocument = "DOCUMENT"
	HeaderFormatLocation = "LOCATION"
)

// Button types that can carry send-time parameters.
const (
	ButtonTypeURL        = "URL"
	ButtonTypeCopyCode   = "COPY_CODE"
	ButtonTypeFlow       = "FLOW"
	ButtonTypeQuickReply = "QUICK_REPLY"
	ButtonTypePhone      = "PHONE_NUMBER"
)

// Template is a message template definition owned by template storage.
type Template struct {
	ID              string          `json:"id,omitempty"`
	Name            string          `json:"name"`
	Category        string          `json:"category,omitempty"`
	Language        string          `json:"language"`
	Status          string          `json:"status,omitempty"`
	ParameterFormat ParameterFormat `json:"parameter_format,omitempty"`
	Components      []Component     `json:"components"`
}

// Component is one block of a template (header, body, footer or buttons).
type Component struct {
	Type    string   `json:"type"`
	Format  string   `json:"format,omitempty"`
	Text    string   `json:"text,omitempty"`
	Buttons []Button `json:"buttons,omitempty"`
}

// Button is one entry of a BUTTONS component.
type Button struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	URL    string `json:"url,omitempty"`
	FlowID string `json:"flow_id,omitempty"`
}

// Find returns the first component of the given type.
func (t Template) Find(componentType string) (Component, bool) {
	for _, c := range t.Components {
		if c.Type == componentType {
			return c, true
		}
	}
	return Component{}, false
}

// Format returns the effective parameter format, defaulting to positional.
func (t Template) Format() ParameterFormat {
	if t.ParameterFormat == "" {
		return ParameterFormatPositional
	}
	return t.ParameterFormat
}

// Contact is the recipient record a template is filled from.
type Contact struct {
	ContactID    string                 `json:"contact_id"`
	Name         string                 `json:"name"`
	Phone        string                 `json:"phone"`
	Email        *string                `json:"email,omitempty"`
	CustomFields map[string]interface{} `json:"custom_fields,omitempty"`
}

// Location is the structured data required by a LOCATION header.
type Location struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
	Name      string `json:"name"`
	Address   string `json:"address"`
}

// Complete reports whether all four fields carry a value. Whitespace counts as missing.
func (l Location) Complete() bool {
	for _, v := range []string{l.Latitude, l.Longitude, l.Name, l.Address} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// Media identifies the asset of an IMAGE, VIDEO or DOCUMENT header.
type Media struct {
	Link     string `json:"link,omitempty"`
	ID       string `json:"id,omitempty"`
	Filename string `json:"filename,omitempty"`
}
