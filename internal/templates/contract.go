package templates

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

// SkipCode classifies why a contact was excluded from a send.
type SkipCode string

const (
	SkipMissingRequiredParam SkipCode = "MISSING_REQUIRED_PARAM"
	SkipInvalidPhone         SkipCode = "INVALID_PHONE"
	SkipInvalidTemplate      SkipCode = "INVALID_TEMPLATE"
	SkipInvalidLocation      SkipCode = "INVALID_LOCATION"
	SkipInvalidHeaderMedia   SkipCode = "INVALID_HEADER_MEDIA"
)

// Component kinds reported in MissingToken.Where.
const (
	WhereHeader = "header"
	WhereBody   = "body"
	WhereFooter = "footer"
	WhereButton = "button"
)

// Tokens are the caller supplied values for each component, in slot order.
// An entry may be literal text, a contact reference such as "{{email}}", or a mix.
type Tokens struct {
	Header         []string         `json:"header,omitempty"`
	Body           []string         `json:"body"`
	Footer         []string         `json:"footer,omitempty"`
	Buttons        []ButtonTokens   `json:"buttons,omitempty"`
	HeaderLocation *models.Location `json:"header_location,omitempty"`
	HeaderMedia    *models.Media    `json:"header_media,omitempty"`
}

// ButtonTokens carries the values for the button at Index in the BUTTONS component.
type ButtonTokens struct {
	Index  int      `json:"index"`
	Tokens []string `json:"tokens"`
}

// ParamValue is a resolved parameter ready for payload construction.
type ParamValue struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// ButtonValue is the resolved parameter list of one button.
type ButtonValue struct {
	Index  int          `json:"index"`
	Type   string       `json:"type"`
	Params []ParamValue `json:"params"`
}

// Values are the resolved parameters of a template for one contact.
type Values struct {
	Header         []ParamValue     `json:"header,omitempty"`
	Body           []ParamValue     `json:"body"`
	Footer         []ParamValue     `json:"footer,omitempty"`
	Buttons        []ButtonValue    `json:"buttons,omitempty"`
	HeaderLocation *models.Location `json:"header_location,omitempty"`
	HeaderMedia    *models.Media    `json:"header_media,omitempty"`
}

// MissingToken points at a slot that did not resolve to a usable value.
type MissingToken struct {
	Where string `json:"where"`
	Key   string `json:"key"`
	Raw   string `json:"raw"`
}

// PrecheckResult is either OK with values or skipped with a code and reason.
type PrecheckResult struct {
	OK              bool           `json:"ok"`
	NormalizedPhone string         `json:"normalized_phone,omitempty"`
	Values          *Values        `json:"values,omitempty"`
	SkipCode        SkipCode       `json:"skip_code,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	Missing         []MissingToken `json:"missing,omitempty"`
}

func skipped(code SkipCode, reason string) PrecheckResult {
	return PrecheckResult{SkipCode: code, Reason: string(code) + ": " + reason}
}

// PrecheckOptions holds configuration for Precheck.
type PrecheckOptions struct {
	DefaultRegion string
}

// PrecheckOption defines a configuration option for Precheck.
type PrecheckOption func(*PrecheckOptions)

// WithDefaultRegion sets the region used for phone numbers without a country code.
func WithDefaultRegion(region string) PrecheckOption {
	return func(o *PrecheckOptions) {
		o.DefaultRegion = region
	}
}

// Precheck verifies that contact can fill every placeholder of tpl with tokens.
// It is a pure function: identical inputs always give equal results.
func Precheck(contact models.Contact, tpl models.Template, tokens Tokens, opts ...PrecheckOption) PrecheckResult {
	cfg := PrecheckOptions{DefaultRegion: DefaultRegion}
	for _, opt := range opts {
		opt(&cfg)
	}

	phone, err := NormalizePhone(contact.Phone, cfg.DefaultRegion)
	if err != nil {
		return skipped(SkipInvalidPhone, err.Error())
	}
	if err := ValidateTemplate(tpl); err != nil {
		return skipped(SkipInvalidTemplate, err.Error())
	}

	fields := contactFields{contact: contact, phone: phone}
	values := &Values{Body: []ParamValue{}}
	var missing []MissingToken

	if header, ok := tpl.Find(models.ComponentHeader); ok {
		switch strings.ToUpper(header.Format) {
		case models.HeaderFormatLocation:
			if tokens.HeaderLocation != nil {
				if !tokens.HeaderLocation.Complete() {
					return skipped(SkipInvalidLocation, "header_location requires latitude, longitude, name and address")
				}
				loc := *tokens.HeaderLocation
				values.HeaderLocation = &loc
			}
		case models.HeaderFormatImage, models.HeaderFormatVideo, models.HeaderFormatDocument:
			if tokens.HeaderMedia != nil {
				if tokens.HeaderMedia.Link == "" && tokens.HeaderMedia.ID == "" {
					return skipped(SkipInvalidHeaderMedia, "header_media requires a link or a media id")
				}
				media := *tokens.HeaderMedia
				values.HeaderMedia = &media
			}
		default:
			slots, _ := declaredSlots(header.Text, tpl.Format())
			resolved, miss := resolveComponent(WhereHeader, header.Text, slots, tokens.Header, tpl.Format(), fields)
			values.Header = resolved
			missing = append(missing, miss...)
		}
	}

	if body, ok := tpl.Find(models.ComponentBody); ok {
		slots, _ := declaredSlots(body.Text, tpl.Format())
		resolved, miss := resolveComponent(WhereBody, body.Text, slots, tokens.Body, tpl.Format(), fields)
		values.Body = append(values.Body, resolved...)
		missing = append(missing, miss...)
	} else if len(tokens.Body) > 0 {
		resolved, miss := resolveComponent(WhereBody, "", nil, tokens.Body, tpl.Format(), fields)
		values.Body = append(values.Body, resolved...)
		missing = append(missing, miss...)
	}

	if len(tokens.Footer) > 0 {
		// footers take no Cloud API parameters; supplied entries are only checked for blanks
		resolved, miss := resolveComponent(WhereFooter, "", nil, tokens.Footer, tpl.Format(), fields)
		values.Footer = resolved
		missing = append(missing, miss...)
	}

	buttons, miss, err := resolveButtons(tpl, tokens.Buttons, fields)
	if err != nil {
		return skipped(SkipInvalidTemplate, err.Error())
	}
	values.Buttons = buttons
	missing = append(missing, miss...)

	if len(missing) > 0 {
		first := missing[0]
		reason := fmt.Sprintf("%s:%s raw=%q", first.Where, first.Key, first.Raw)
		if len(missing) > 1 {
			reason += fmt.Sprintf(" (+%d more)", len(missing)-1)
		}
		res := skipped(SkipMissingRequiredParam, reason)
		res.Missing = missing
		return res
	}

	return PrecheckResult{OK: true, NormalizedPhone: phone, Values: values}
}

// resolveComponent fills slots from supplied. Without declared slots (no template
// text to read them from) the supplied entries define the slots themselves.
func resolveComponent(where, text string, slots []slot, supplied []string, format models.ParameterFormat, fields contactFields) ([]ParamValue, []MissingToken) {
	if len(slots) == 0 && strings.TrimSpace(text) == "" {
		for i, entry := range supplied {
			key := strconv.Itoa(i + 1)
			if format == models.ParameterFormatNamed {
				if ref, ok := singleReference(entry); ok {
					key = ref
				}
			}
			slots = append(slots, slot{Key: key, Raw: entry})
		}
	}

	var values []ParamValue
	var missing []MissingToken
	for i, s := range slots {
		if i >= len(supplied) {
			missing = append(missing, MissingToken{Where: where, Key: s.Key, Raw: s.Raw})
			continue
		}
		value, ok := fields.interpolate(supplied[i])
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			missing = append(missing, MissingToken{Where: where, Key: s.Key, Raw: supplied[i]})
			continue
		}
		values = append(values, ParamValue{Key: s.Key, Text: value})
	}
	return values, missing
}

func resolveButtons(tpl models.Template, supplied []ButtonTokens, fields contactFields) ([]ButtonValue, []MissingToken, error) {
	if len(supplied) == 0 {
		return nil, nil, nil
	}
	component, ok := tpl.Find(models.ComponentButtons)
	if !ok {
		return nil, nil, fmt.Errorf("button values supplied but template has no buttons")
	}
	var values []ButtonValue
	var missing []MissingToken
	for _, bt := range supplied {
		if bt.Index < 0 || bt.Index >= len(component.Buttons) {
			return nil, nil, fmt.Errorf("button index %d out of range", bt.Index)
		}
		button := component.Buttons[bt.Index]
		var slots []slot
		switch strings.ToUpper(button.Type) {
		case models.ButtonTypeURL:
			slots, _ = declaredSlots(button.URL, models.ParameterFormatPositional)
			if len(slots) == 0 {
				return nil, nil, fmt.Errorf("button %d has a static URL and takes no parameters", bt.Index)
			}
		case models.ButtonTypeCopyCode, models.ButtonTypeFlow:
			slots = []slot{{Key: "1", Raw: "{{1}}"}}
		default:
			return nil, nil, fmt.Errorf("button %d of type %s takes no parameters", bt.Index, button.Type)
		}
		resolved, miss := resolveComponent(WhereButton, button.URL, slots, bt.Tokens, models.ParameterFormatPositional, fields)
		for i := range miss {
			miss[i].Key = strconv.Itoa(bt.Index) + "." + miss[i].Key
		}
		missing = append(missing, miss...)
		if len(miss) == 0 {
			values = append(values, ButtonValue{Index: bt.Index, Type: strings.ToUpper(button.Type), Params: resolved})
		}
	}
	return values, missing, nil
}
