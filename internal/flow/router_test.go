package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

func TestRouter_Ping(t *testing.T) {
	called := false
	r := NewRouter()
	r.OnInit(func(context.Context, models.FlowRequest) (models.FlowResponse, error) {
		called = true
		return models.FlowResponse{}, nil
	})

	resp, err := r.Route(context.Background(), models.FlowRequest{Action: models.FlowActionPing})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Kind() != models.FlowResponseHealth || resp.Data["status"] != "active" || resp.Screen != "" {
		t.Errorf("unexpected ping response: %+v", resp)
	}
	if called {
		t.Error("ping must not invoke any handler")
	}
}

func TestRouter_Dispatch(t *testing.T) {
	r := NewRouter()
	screenHandler := func(screen string) Handler {
		return func(context.Context, models.FlowRequest) (models.FlowResponse, error) {
			return models.NewScreenResponse(screen, nil), nil
		}
	}
	r.OnInit(screenHandler("FIRST"))
	r.OnExchange("FIRST", "", screenHandler("SECOND"))
	r.OnExchange("FIRST", "reload", screenHandler("FIRST_RELOADED"))
	r.OnBack("SECOND", screenHandler("FIRST"))

	tests := []struct {
		name       string
		req        models.FlowRequest
		wantScreen string
		wantKind   models.FlowResponseKind
	}{
		{"init", models.FlowRequest{Action: models.FlowActionInit}, "FIRST", models.FlowResponseScreen},
		{"default trigger", models.FlowRequest{Action: models.FlowActionDataExchange, Screen: "FIRST"}, "SECOND", models.FlowResponseScreen},
		{"explicit submit", models.FlowRequest{Action: models.FlowActionDataExchange, Screen: "FIRST", Data: map[string]interface{}{"trigger": "submit"}}, "SECOND", models.FlowResponseScreen},
		{"named trigger", models.FlowRequest{Action: models.FlowActionDataExchange, Screen: "FIRST", Data: map[string]interface{}{"trigger": "reload"}}, "FIRST_RELOADED", models.FlowResponseScreen},
		{"back", models.FlowRequest{Action: models.FlowActionBack, Screen: "SECOND"}, "FIRST", models.FlowResponseScreen},
		{"unknown screen", models.FlowRequest{Action: models.FlowActionDataExchange, Screen: "NOPE"}, "", models.FlowResponseError},
		{"unknown trigger", models.FlowRequest{Action: models.FlowActionDataExchange, Screen: "FIRST", Data: map[string]interface{}{"trigger": "x"}}, "", models.FlowResponseError},
		{"back without route", models.FlowRequest{Action: models.FlowActionBack, Screen: "FIRST"}, "", models.FlowResponseError},
		{"unknown action", models.FlowRequest{Action: "navigate"}, "", models.FlowResponseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := r.Route(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Screen != tt.wantScreen || resp.Kind() != tt.wantKind {
				t.Errorf("expected %s/%v, got %s/%v", tt.wantScreen, tt.wantKind, resp.Screen, resp.Kind())
			}
		})
	}
}

func TestRouter_InitWithoutHandler(t *testing.T) {
	resp, err := NewRouter().Route(context.Background(), models.FlowRequest{Action: models.FlowActionInit})
	if err != nil || resp.Kind() != models.FlowResponseError {
		t.Errorf("expected error response, got %+v, %v", resp, err)
	}
}

func TestRouter_HandlerErrorsAreReturned(t *testing.T) {
	boom := errors.New("boom")
	r := NewRouter()
	r.OnExchange("A", "", func(context.Context, models.FlowRequest) (models.FlowResponse, error) {
		return models.FlowResponse{}, boom
	})
	r.OnExchange("B", "", func(context.Context, models.FlowRequest) (models.FlowResponse, error) {
		panic("handler bug")
	})

	if _, err := r.Route(context.Background(), models.FlowRequest{Action: models.FlowActionDataExchange, Screen: "A"}); !errors.Is(err, boom) {
		t.Errorf("expected handler error, got %v", err)
	}
	if _, err := r.Route(context.Background(), models.FlowRequest{Action: models.FlowActionDataExchange, Screen: "B"}); err == nil {
		t.Error("expected panic to be converted into an error")
	}
}
