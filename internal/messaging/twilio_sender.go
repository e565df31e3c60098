package messaging

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/FlowDesk/internal/templates"
	"github.com/BTreeMap/FlowDesk/internal/twiliowhatsapp"
)

// TwilioSender delivers templates through Twilio Content SIDs.
type TwilioSender struct {
	client      twiliowhatsapp.Sender
	contentSIDs map[string]string
}

var _ Sender = (*TwilioSender)(nil)

// NewTwilioSender maps template names to Twilio Content SIDs. A key of the
// form "name:language" takes precedence over the bare name.
func NewTwilioSender(client twiliowhatsapp.Sender, contentSIDs map[string]string) *TwilioSender {
	sids := make(map[string]string, len(contentSIDs))
	for k, v := range contentSIDs {
		sids[k] = v
	}
	return &TwilioSender{client: client, contentSIDs: sids}
}

// ParseContentSIDs parses "promo=HX123,promo:pt_BR=HX456" into a lookup map.
func ParseContentSIDs(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, sid, ok := strings.Cut(pair, "=")
		name, sid = strings.TrimSpace(name), strings.TrimSpace(sid)
		if !ok || name == "" || sid == "" {
			return nil, fmt.Errorf("invalid content SID mapping %q, expected name=SID", pair)
		}
		out[name] = sid
	}
	return out, nil
}

func (s *TwilioSender) contentSID(name, language string) (string, bool) {
	if sid, ok := s.contentSIDs[name+":"+language]; ok {
		return sid, true
	}
	sid, ok := s.contentSIDs[name]
	return sid, ok
}

// SendTemplate sends payload as Twilio content. Header and body text
// parameters become content variables, numbered in payload order for
// positional templates or keyed by name otherwise.
func (s *TwilioSender) SendTemplate(ctx context.Context, payload *templates.WirePayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is required")
	}
	sid, ok := s.contentSID(payload.Template.Name, payload.Template.Language.Code)
	if !ok {
		return "", fmt.Errorf("no Twilio content SID configured for template %q", payload.Template.Name)
	}
	return s.client.SendContent(ctx, payload.To, sid, ContentVariables(payload))
}

// ContentVariables flattens the text parameters of payload.
func ContentVariables(payload *templates.WirePayload) map[string]string {
	vars := map[string]string{}
	n := 0
	for _, c := range payload.Template.Components {
		if c.Type != "header" && c.Type != "body" {
			continue
		}
		for _, p := range c.Parameters {
			if p.Type != "text" {
				continue
			}
			n++
			key := p.ParameterName
			if key == "" {
				key = strconv.Itoa(n)
			}
			vars[key] = p.Text
		}
	}
	return vars
}
