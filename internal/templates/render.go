package templates

import (
	"strings"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

// Render fills the template text with values for a human readable preview.
// Placeholders without a value are left as written.
func Render(tpl models.Template, values Values) string {
	var parts []string
	for _, c := range tpl.Components {
		switch c.Type {
		case models.ComponentHeader:
			switch strings.ToUpper(c.Format) {
			case models.HeaderFormatLocation:
				if values.HeaderLocation != nil {
					parts = append(parts, "[location] "+values.HeaderLocation.Name+", "+values.HeaderLocation.Address)
				}
			case models.HeaderFormatImage, models.HeaderFormatVideo, models.HeaderFormatDocument:
				if values.HeaderMedia != nil {
					ref := values.HeaderMedia.Link
					if ref == "" {
						ref = values.HeaderMedia.ID
					}
					parts = append(parts, "["+strings.ToLower(c.Format)+"] "+ref)
				}
			default:
				if text := fill(c.Text, values.Header); text != "" {
					parts = append(parts, "*"+text+"*")
				}
			}
		case models.ComponentBody:
			if text := fill(c.Text, values.Body); text != "" {
				parts = append(parts, text)
			}
		case models.ComponentFooter:
			if c.Text != "" {
				parts = append(parts, "_"+c.Text+"_")
			}
		case models.ComponentButtons:
			for _, b := range c.Buttons {
				if b.Text != "" {
					parts = append(parts, "[ "+b.Text+" ]")
				}
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

func fill(text string, values []ParamValue) string {
	if len(values) == 0 {
		return text
	}
	byKey := make(map[string]string, len(values))
	for _, v := range values {
		byKey[v.Key] = v.Text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := byKey[key]; ok {
			return v
		}
		return m
	})
}
