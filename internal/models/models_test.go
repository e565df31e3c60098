package models

import (
	"encoding/json"
	"testing"
)

func TestFlowResponseKind(t *testing.T) {
	tests := []struct {
		name string
		resp FlowResponse
		want FlowResponseKind
	}{
		{"health", NewHealthResponse(), FlowResponseHealth},
		{"screen", NewScreenResponse("DATE", map[string]interface{}{"dates": []string{}}), FlowResponseScreen},
		{"terminal", FlowResponse{Screen: "SUCCESS", Data: map[string]interface{}{"status": FlowStatusComplete}}, FlowResponseTerminal},
		{"error", FlowResponse{Data: map[string]interface{}{"status": FlowStatusError}}, FlowResponseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.resp.Kind(); got != tt.want {
				t.Errorf("Kind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewScreenResponse_NilDataBecomesEmptyObject(t *testing.T) {
	raw, err := json.Marshal(NewScreenResponse("SERVICES", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `{"screen":"SERVICES","data":{}}` {
		t.Errorf("unexpected JSON: %s", raw)
	}
}

func TestEncryptedFlowRequestComplete(t *testing.T) {
	r := EncryptedFlowRequest{EncryptedFlowData: "a", EncryptedAESKey: "b"}
	if r.Complete() {
		t.Error("expected request without initial_vector to be incomplete")
	}
	r.InitialVector = "c"
	if !r.Complete() {
		t.Error("expected request with all fields to be complete")
	}
}

func TestTemplateFormatDefaultsToPositional(t *testing.T) {
	tpl := Template{Name: "x"}
	if tpl.Format() != ParameterFormatPositional {
		t.Errorf("expected positional default, got %q", tpl.Format())
	}
	if !IsValidParameterFormat("") || IsValidParameterFormat("mixed") {
		t.Error("IsValidParameterFormat returned unexpected results")
	}
}

func TestLocationComplete(t *testing.T) {
	loc := Location{Latitude: "-23.5505", Longitude: "-46.6333", Name: "Loja", Address: ""}
	if loc.Complete() {
		t.Error("expected location without address to be incomplete")
	}
	if (Location{Latitude: " ", Longitude: "\t", Name: " ", Address: "  "}).Complete() {
		t.Error("expected whitespace-only location to be incomplete")
	}
	loc.Address = "Av. Paulista, 1000"
	if !loc.Complete() {
		t.Error("expected full location to be complete")
	}
}

func TestErrorResponseShape(t *testing.T) {
	resp := Error("boom")
	if resp.Status != "error" || resp.Message != "boom" || resp.Result != nil {
		t.Errorf("unexpected error response: %+v", resp)
	}
}
