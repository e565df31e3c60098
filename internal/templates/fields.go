package templates

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

// contactFields resolves "{{field}}" references against one contact.
type contactFields struct {
	contact models.Contact
	phone   string
}

// lookup returns the trimmed value of key, first from the fixed contact fields
// and then from custom_fields. Numeric keys never resolve from contact data.
func (f contactFields) lookup(key string) (string, bool) {
	if isNumericKey(key) {
		return "", false
	}
	switch strings.ToLower(key) {
	case "name", "nome", "contact_name":
		return nonBlank(f.contact.Name)
	case "phone", "telefone", "whatsapp", "celular":
		if f.phone != "" {
			return f.phone, true
		}
		return nonBlank(f.contact.Phone)
	case "email", "e-mail":
		if f.contact.Email == nil {
			return "", false
		}
		return nonBlank(*f.contact.Email)
	}

	if v, ok := f.contact.CustomFields[key]; ok {
		return stringify(v)
	}
	for k, v := range f.contact.CustomFields {
		if strings.EqualFold(k, key) {
			return stringify(v)
		}
	}
	return "", false
}

// interpolate replaces every placeholder of entry with its contact value.
// Literal text passes through; any unresolved reference makes the whole entry unresolved.
func (f contactFields) interpolate(entry string) (string, bool) {
	resolved := true
	out := placeholderPattern.ReplaceAllStringFunc(entry, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		v, ok := f.lookup(key)
		if !ok {
			resolved = false
		}
		return v
	})
	if !resolved {
		return "", false
	}
	return out, true
}

// singleReference reports the field name when entry is exactly one placeholder.
func singleReference(entry string) (string, bool) {
	trimmed := strings.TrimSpace(entry)
	loc := placeholderPattern.FindStringSubmatchIndex(trimmed)
	if loc == nil || loc[0] != 0 || loc[1] != len(trimmed) {
		return "", false
	}
	return trimmed[loc[2]:loc[3]], true
}

func nonBlank(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != ""
}

func stringify(v interface{}) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return nonBlank(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return nonBlank(fmt.Sprint(val))
	}
}
