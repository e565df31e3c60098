package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/BTreeMap/FlowDesk/internal/store"
	"github.com/BTreeMap/FlowDesk/internal/templates"
	"github.com/BTreeMap/FlowDesk/internal/twiliowhatsapp"
)

func strPtr(s string) *string { return &s }

func reminderTemplate() models.Template {
	return models.Template{
		Name:     "lembrete_consulta",
		Language: "pt_BR",
		Components: []models.Component{
			{Type: models.ComponentBody, Text: "Olá {{1}}, sua consulta é {{2}}."},
		},
	}
}

func samplePayload() *templates.WirePayload {
	return &templates.WirePayload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               "+5511999999999",
		Type:             "template",
		Template: templates.WireTemplate{
			Name:     "lembrete_consulta",
			Language: templates.WireLanguage{Code: "pt_BR"},
			Components: []templates.WireComponent{
				{Type: "header", Parameters: []templates.WireParameter{{Type: "text", Text: "Clínica"}}},
				{Type: "body", Parameters: []templates.WireParameter{{Type: "text", Text: "João"}, {Type: "text", Text: "amanhã"}}},
			},
		},
	}
}

func TestCloudSender_SendTemplate(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","contacts":[{"input":"+5511999999999","wa_id":"5511999999999"}],"messages":[{"id":"wamid.ABC"}]}`))
	}))
	defer srv.Close()

	sender, err := NewCloudSender(WithPhoneNumberID("1234"), WithAccessToken("secret"), WithGraphBaseURL(srv.URL), WithGraphVersion("v20.0"))
	if err != nil {
		t.Fatalf("NewCloudSender failed: %v", err)
	}
	id, err := sender.SendTemplate(context.Background(), samplePayload())
	if err != nil {
		t.Fatalf("SendTemplate failed: %v", err)
	}
	if id != "wamid.ABC" {
		t.Errorf("expected wamid.ABC, got %s", id)
	}
	if gotPath != "/v20.0/1234/messages" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("unexpected authorization header %q", gotAuth)
	}
	if gotBody["type"] != "template" || gotBody["messaging_product"] != "whatsapp" {
		t.Errorf("unexpected body %v", gotBody)
	}
}

func TestCloudSender_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"(#132000) Number of parameters does not match","type":"OAuthException","code":132000,"fbtrace_id":"X"}}`))
	}))
	defer srv.Close()

	sender, _ := NewCloudSender(WithPhoneNumberID("1"), WithAccessToken("t"), WithGraphBaseURL(srv.URL))
	_, err := sender.SendTemplate(context.Background(), samplePayload())
	var apiErr *CloudAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected CloudAPIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != 132000 {
		t.Errorf("unexpected error fields: %+v", apiErr)
	}
}

func TestCloudSender_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	sender, _ := NewCloudSender(WithPhoneNumberID("1"), WithAccessToken("t"), WithGraphBaseURL(srv.URL))
	_, err := sender.SendTemplate(context.Background(), samplePayload())
	var apiErr *CloudAPIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway || !strings.Contains(apiErr.Message, "bad gateway") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestNewCloudSender_RequiresCredentials(t *testing.T) {
	if _, err := NewCloudSender(WithPhoneNumberID("1")); err == nil {
		t.Error("expected error without access token")
	}
}

func TestTwilioSender(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	sender := NewTwilioSender(mock, map[string]string{
		"lembrete_consulta":       "HXgeneric",
		"lembrete_consulta:pt_BR": "HXptbr",
	})
	if _, err := sender.SendTemplate(context.Background(), samplePayload()); err != nil {
		t.Fatalf("SendTemplate failed: %v", err)
	}
	got := mock.SentMessages[0]
	if got.ContentSID != "HXptbr" {
		t.Errorf("expected language specific SID, got %s", got.ContentSID)
	}
	want := map[string]string{"1": "Clínica", "2": "João", "3": "amanhã"}
	for k, v := range want {
		if got.Variables[k] != v {
			t.Errorf("variable %s: expected %q, got %q", k, v, got.Variables[k])
		}
	}

	p := samplePayload()
	p.Template.Name = "unknown"
	if _, err := sender.SendTemplate(context.Background(), p); err == nil {
		t.Error("expected error for unmapped template")
	}
}

func TestContentVariables_Named(t *testing.T) {
	p := samplePayload()
	p.Template.Components = []templates.WireComponent{
		{Type: "body", Parameters: []templates.WireParameter{{Type: "text", ParameterName: "customer_name", Text: "Ana"}}},
		{Type: "button", SubType: "url", Index: "0", Parameters: []templates.WireParameter{{Type: "text", Text: "ignored"}}},
	}
	vars := ContentVariables(p)
	if len(vars) != 1 || vars["customer_name"] != "Ana" {
		t.Errorf("unexpected variables %v", vars)
	}
}

func TestParseContentSIDs(t *testing.T) {
	got, err := ParseContentSIDs(" promo=HX1 , promo:en_US=HX2,")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["promo"] != "HX1" || got["promo:en_US"] != "HX2" {
		t.Errorf("unexpected map %v", got)
	}
	for _, bad := range []string{"promo", "=HX1", "promo="} {
		if _, err := ParseContentSIDs(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestDispatcher_SendBatch(t *testing.T) {
	sender := NewMockSender()
	sender.FailFor["+5511888888888"] = errors.New("provider down")
	st := store.NewInMemoryStore()
	fixed := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	d := NewDispatcher(sender, st, WithDispatchClock(func() time.Time { return fixed }))

	req := BatchRequest{
		Template: reminderTemplate(),
		Tokens:   templates.Tokens{Body: []string{"{{name}}", "{{data_consulta}}"}},
		Contacts: []models.Contact{
			{ContactID: "c1", Name: "João", Phone: "+5511999999999", CustomFields: map[string]interface{}{"data_consulta": "amanhã"}},
			{ContactID: "c2", Name: "Ana", Phone: "+5511977777777"},
			{ContactID: "c3", Name: "Bia", Phone: "", CustomFields: map[string]interface{}{"data_consulta": "hoje"}},
			{ContactID: "c4", Name: "Caio", Phone: "11888888888", Email: strPtr("c@x.com"), CustomFields: map[string]interface{}{"data_consulta": "hoje"}},
		},
	}
	res, err := d.SendBatch(context.Background(), req)
	if err != nil {
		t.Fatalf("SendBatch failed: %v", err)
	}
	if res.Sent != 1 || res.Skipped != 2 || res.Failed != 1 {
		t.Fatalf("unexpected counts: sent=%d skipped=%d failed=%d", res.Sent, res.Skipped, res.Failed)
	}
	if len(sender.Payloads) != 1 || sender.Payloads[0].To != "+5511999999999" {
		t.Fatalf("unexpected payloads sent: %+v", sender.Payloads)
	}

	if res.Records[1].SkipCode != string(templates.SkipMissingRequiredParam) {
		t.Errorf("expected missing param skip, got %+v", res.Records[1])
	}
	if res.Records[2].SkipCode != string(templates.SkipInvalidPhone) {
		t.Errorf("expected invalid phone skip, got %+v", res.Records[2])
	}
	if res.Records[3].Status != models.SendStatusFailed || res.Records[3].Phone != "+5511888888888" {
		t.Errorf("expected failed send with normalized phone, got %+v", res.Records[3])
	}
	if !res.Records[0].CreatedAt.Equal(fixed) || res.Records[0].MessageID == "" {
		t.Errorf("unexpected sent record %+v", res.Records[0])
	}

	stored, _ := st.ListSendRecords(context.Background(), res.BatchID)
	if len(stored) != 4 {
		t.Errorf("expected 4 stored records, got %d", len(stored))
	}
}

func TestDispatcher_LocationHeaderWithoutData(t *testing.T) {
	tpl := reminderTemplate()
	tpl.Components = append([]models.Component{{Type: models.ComponentHeader, Format: models.HeaderFormatLocation}}, tpl.Components...)
	sender := NewMockSender()
	d := NewDispatcher(sender, store.NewInMemoryStore())
	res, err := d.SendBatch(context.Background(), BatchRequest{
		Template: tpl,
		Tokens:   templates.Tokens{Body: []string{"João", "amanhã"}},
		Contacts: []models.Contact{{ContactID: "c1", Phone: "+5511999999999"}},
	})
	if err != nil {
		t.Fatalf("SendBatch failed: %v", err)
	}
	if res.Sent != 0 || len(sender.Payloads) != 0 {
		t.Errorf("nothing should be sent without location data: %+v", res)
	}
	if res.Failed != 1 || !strings.Contains(res.Records[0].Reason, "LOCATION header requires location data") {
		t.Errorf("expected builder failure to be recorded, got %+v", res.Records)
	}
}

func TestDispatcher_Validation(t *testing.T) {
	d := NewDispatcher(NewMockSender(), store.NewInMemoryStore())
	if _, err := d.SendBatch(context.Background(), BatchRequest{Template: reminderTemplate()}); !errors.Is(err, models.ErrMissingContacts) {
		t.Errorf("expected ErrMissingContacts, got %v", err)
	}
	if _, err := d.SendBatch(context.Background(), BatchRequest{Contacts: []models.Contact{{}}}); !errors.Is(err, models.ErrMissingTemplateName) {
		t.Errorf("expected ErrMissingTemplateName, got %v", err)
	}
	many := make([]models.Contact, models.MaxBatchContacts+1)
	if _, err := d.SendBatch(context.Background(), BatchRequest{Template: reminderTemplate(), Contacts: many}); !errors.Is(err, models.ErrTooManyContacts) {
		t.Errorf("expected ErrTooManyContacts, got %v", err)
	}
}

func TestDispatcher_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sender := NewMockSender()
	d := NewDispatcher(sender, store.NewInMemoryStore())
	res, err := d.SendBatch(ctx, BatchRequest{
		Template: reminderTemplate(),
		Tokens:   templates.Tokens{Body: []string{"a", "b"}},
		Contacts: []models.Contact{{ContactID: "c1", Phone: "+5511999999999"}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res == nil || len(res.Records) != 0 || len(sender.Payloads) != 0 {
		t.Errorf("cancelled batch should not process contacts: %+v", res)
	}
}

type failingSink struct{}

func (failingSink) AddSendRecord(ctx context.Context, rec models.SendRecord) error {
	return errors.New("disk full")
}

func TestDispatcher_SinkFailure(t *testing.T) {
	d := NewDispatcher(NewMockSender(), failingSink{})
	_, err := d.SendBatch(context.Background(), BatchRequest{
		Template: reminderTemplate(),
		Tokens:   templates.Tokens{Body: []string{"a", "b"}},
		Contacts: []models.Contact{{ContactID: "c1", Phone: "+5511999999999"}},
	})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("expected sink error, got %v", err)
	}
}
