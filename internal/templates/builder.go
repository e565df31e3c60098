package templates

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

var (
	ErrMissingLocationData = errors.New("LOCATION header requires location data (latitude, longitude, name and address)")
	ErrMissingHeaderMedia  = errors.New("media header requires a link or a media id")
	ErrParameterCount      = errors.New("parameter count does not match template placeholders")
)

// BuildInput is everything needed to address one template message.
// TemplateName and Language default to the template's own values.
type BuildInput struct {
	To              string
	TemplateName    string
	Language        string
	ParameterFormat models.ParameterFormat
	Values          Values
	Template        models.Template
}

// WirePayload is the Cloud API template message body.
type WirePayload struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         WireTemplate `json:"template"`
}

// WireTemplate is the "template" object of a WirePayload.
type WireTemplate struct {
	Name       string          `json:"name"`
	Language   WireLanguage    `json:"language"`
	Components []WireComponent `json:"components,omitempty"`
}

// WireLanguage selects the template translation.
type WireLanguage struct {
	Code string `json:"code"`
}

// WireComponent carries the parameters of one template component.
type WireComponent struct {
	Type       string          `json:"type"`
	SubType    string          `json:"sub_type,omitempty"`
	Index      string          `json:"index,omitempty"`
	Parameters []WireParameter `json:"parameters"`
}

// WireParameter is one parameter object; Type selects which field is set.
type WireParameter struct {
	Type          string           `json:"type"`
	ParameterName string           `json:"parameter_name,omitempty"`
	Text          string           `json:"text,omitempty"`
	Image         *models.Media    `json:"image,omitempty"`
	Video         *models.Media    `json:"video,omitempty"`
	Document      *models.Media    `json:"document,omitempty"`
	Location      *models.Location `json:"location,omitempty"`
	CouponCode    string           `json:"coupon_code,omitempty"`
	Action        *WireAction      `json:"action,omitempty"`
}

// WireAction is the parameter of a FLOW button.
type WireAction struct {
	FlowToken string `json:"flow_token"`
}

// Component returns the first wire component of the given lower-case type.
func (p *WirePayload) Component(componentType string) (WireComponent, bool) {
	for _, c := range p.Template.Components {
		if c.Type == componentType {
			return c, true
		}
	}
	return WireComponent{}, false
}

// BuildPayload produces the Cloud API payload for in. Values are expected to come
// from a successful Precheck; anything that cannot satisfy the template is an error.
func BuildPayload(in BuildInput) (*WirePayload, error) {
	if strings.TrimSpace(in.To) == "" {
		return nil, models.ErrEmptyRecipient
	}
	name := in.TemplateName
	if name == "" {
		name = in.Template.Name
	}
	if name == "" {
		return nil, models.ErrMissingTemplateName
	}
	language := in.Language
	if language == "" {
		language = in.Template.Language
	}
	if language == "" {
		return nil, models.ErrMissingLanguage
	}
	format := in.ParameterFormat
	if format == "" {
		format = in.Template.Format()
	}
	if !models.IsValidParameterFormat(format) {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidParamFormat, format)
	}

	var components []WireComponent
	for _, c := range in.Template.Components {
		switch c.Type {
		case models.ComponentHeader:
			header, err := buildHeader(c, in.Values, format)
			if err != nil {
				return nil, err
			}
			if header != nil {
				components = append(components, *header)
			}
		case models.ComponentBody:
			params, err := textParameters(WhereBody, c.Text, in.Values.Body, format)
			if err != nil {
				return nil, err
			}
			if len(params) > 0 {
				components = append(components, WireComponent{Type: "body", Parameters: params})
			}
		case models.ComponentButtons:
			buttons, err := buildButtons(c, in.Values.Buttons)
			if err != nil {
				return nil, err
			}
			components = append(components, buttons...)
		}
	}

	return &WirePayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               in.To,
		Type:             "template",
		Template: WireTemplate{
			Name:       name,
			Language:   WireLanguage{Code: language},
			Components: components,
		},
	}, nil
}

func buildHeader(c models.Component, values Values, format models.ParameterFormat) (*WireComponent, error) {
	switch strings.ToUpper(c.Format) {
	case models.HeaderFormatLocation:
		if values.HeaderLocation == nil || !values.HeaderLocation.Complete() {
			return nil, ErrMissingLocationData
		}
		loc := *values.HeaderLocation
		return &WireComponent{Type: "header", Parameters: []WireParameter{{Type: "location", Location: &loc}}}, nil
	case models.HeaderFormatImage, models.HeaderFormatVideo, models.HeaderFormatDocument:
		if values.HeaderMedia == nil || (values.HeaderMedia.Link == "" && values.HeaderMedia.ID == "") {
			return nil, fmt.Errorf("%s header: %w", strings.ToLower(c.Format), ErrMissingHeaderMedia)
		}
		media := *values.HeaderMedia
		p := WireParameter{Type: strings.ToLower(c.Format)}
		switch p.Type {
		case "image":
			media.Filename = ""
			p.Image = &media
		case "video":
			media.Filename = ""
			p.Video = &media
		default:
			p.Document = &media
		}
		return &WireComponent{Type: "header", Parameters: []WireParameter{p}}, nil
	default:
		params, err := textParameters(WhereHeader, c.Text, values.Header, format)
		if err != nil {
			return nil, err
		}
		if len(params) == 0 {
			return nil, nil
		}
		return &WireComponent{Type: "header", Parameters: params}, nil
	}
}

// textParameters emits one text parameter per declared slot, matching values by key.
// Positional slots go out in index order. Without declared slots the values are
// emitted as given.
func textParameters(where, text string, values []ParamValue, format models.ParameterFormat) ([]WireParameter, error) {
	slots, err := declaredSlots(text, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", where, err)
	}
	seen := make(map[string]ParamValue, len(values))
	for _, v := range values {
		if _, dup := seen[v.Key]; dup {
			return nil, fmt.Errorf("%s parameter %s given twice: %w", where, v.Key, ErrParameterCount)
		}
		seen[v.Key] = v
	}

	ordered := values
	if len(slots) > 0 {
		if len(values) != len(slots) {
			return nil, fmt.Errorf("%s expects %d parameters, got %d: %w", where, len(slots), len(values), ErrParameterCount)
		}
		ordered = make([]ParamValue, 0, len(slots))
		for _, s := range slots {
			v, ok := seen[s.Key]
			if !ok {
				return nil, fmt.Errorf("%s has no value for placeholder %s: %w", where, s.Raw, ErrParameterCount)
			}
			ordered = append(ordered, v)
		}
	}

	params := make([]WireParameter, 0, len(ordered))
	for _, v := range ordered {
		if strings.TrimSpace(v.Text) == "" {
			return nil, fmt.Errorf("%s parameter %s is empty", where, v.Key)
		}
		p := WireParameter{Type: "text", Text: v.Text}
		if format == models.ParameterFormatNamed {
			p.ParameterName = v.Key
		}
		params = append(params, p)
	}
	return params, nil
}

func buildButtons(c models.Component, values []ButtonValue) ([]WireComponent, error) {
	if len(values) == 0 {
		return nil, nil
	}
	ordered := append([]ButtonValue(nil), values...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var out []WireComponent
	for _, v := range ordered {
		if v.Index < 0 || v.Index >= len(c.Buttons) {
			return nil, fmt.Errorf("button index %d out of range", v.Index)
		}
		button := c.Buttons[v.Index]
		wc := WireComponent{Type: "button", Index: strconv.Itoa(v.Index)}
		switch strings.ToUpper(button.Type) {
		case models.ButtonTypeURL:
			wc.SubType = "url"
			for _, p := range v.Params {
				wc.Parameters = append(wc.Parameters, WireParameter{Type: "text", Text: p.Text})
			}
		case models.ButtonTypeCopyCode:
			if len(v.Params) != 1 {
				return nil, fmt.Errorf("copy code button %d expects 1 parameter, got %d: %w", v.Index, len(v.Params), ErrParameterCount)
			}
			wc.SubType = "copy_code"
			wc.Parameters = []WireParameter{{Type: "coupon_code", CouponCode: v.Params[0].Text}}
		case models.ButtonTypeFlow:
			if len(v.Params) != 1 {
				return nil, fmt.Errorf("flow button %d expects 1 parameter, got %d: %w", v.Index, len(v.Params), ErrParameterCount)
			}
			wc.SubType = "flow"
			wc.Parameters = []WireParameter{{Type: "action", Action: &WireAction{FlowToken: v.Params[0].Text}}}
		default:
			return nil, fmt.Errorf("button %d of type %s takes no parameters", v.Index, button.Type)
		}
		if len(wc.Parameters) == 0 {
			return nil, fmt.Errorf("button %d has no parameters", v.Index)
		}
		out = append(out, wc)
	}
	return out, nil
}
