// Package flow routes decrypted WhatsApp Flow requests to screen handlers.
//
// The router is stateless across requests: WhatsApp gives no session affinity
// between calls of one flow instance, so every handler works only from the
// action, the current screen and the data the client sent back.
package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/FlowDesk/internal/flowcrypto"
	"github.com/BTreeMap/FlowDesk/internal/models"
)

const (
	// TriggerField is the data key a screen uses to say which of its actions fired.
	TriggerField = "trigger"
	// DefaultTrigger is assumed when a request carries no trigger.
	DefaultTrigger = "submit"
)

// Handler produces the response to one Flow request.
type Handler func(ctx context.Context, req models.FlowRequest) (models.FlowResponse, error)

type routeKey struct {
	screen  string
	trigger string
}

// Router dispatches Flow requests by action, screen and trigger.
type Router struct {
	init     Handler
	exchange map[routeKey]Handler
	back     map[string]Handler
}

// NewRouter creates an empty Router. Register handlers before serving.
func NewRouter() *Router {
	return &Router{
		exchange: make(map[routeKey]Handler),
		back:     make(map[string]Handler),
	}
}

// OnInit sets the handler for INIT, which renders the first screen.
func (r *Router) OnInit(h Handler) {
	r.init = h
}

// OnExchange registers the data_exchange handler for screen and trigger.
// An empty trigger registers DefaultTrigger.
func (r *Router) OnExchange(screen, trigger string, h Handler) {
	if trigger == "" {
		trigger = DefaultTrigger
	}
	r.exchange[routeKey{screen: screen, trigger: trigger}] = h
}

// OnBack registers the handler that rebuilds the screen before screen.
func (r *Router) OnBack(screen string, h Handler) {
	r.back[screen] = h
}

// Trigger returns the trigger carried in req.Data, or DefaultTrigger.
func Trigger(req models.FlowRequest) string {
	if t := req.StringField(TriggerField); t != "" {
		return t
	}
	return DefaultTrigger
}

// Route returns the response for req. Unknown screen and action combinations
// produce an error response; a handler error is returned to the caller, which
// must still answer the client with an encrypted error response.
func (r *Router) Route(ctx context.Context, req models.FlowRequest) (resp models.FlowResponse, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Router.Route: handler panicked", "action", req.Action, "screen", req.Screen, "panic", p)
			err = fmt.Errorf("flow handler panic: %v", p)
		}
	}()

	switch req.Action {
	case models.FlowActionPing:
		return models.NewHealthResponse(), nil

	case models.FlowActionInit:
		if r.init == nil {
			slog.Warn("Router.Route: no INIT handler registered")
			return flowcrypto.ErrorResponse("Flow is not configured"), nil
		}
		return r.init(ctx, req)

	case models.FlowActionDataExchange:
		trigger := Trigger(req)
		h, ok := r.exchange[routeKey{screen: req.Screen, trigger: trigger}]
		if !ok {
			slog.Warn("Router.Route: unknown data_exchange route", "screen", req.Screen, "trigger", trigger)
			return flowcrypto.ErrorResponse(fmt.Sprintf("Unknown screen %q or action %q", req.Screen, trigger)), nil
		}
		slog.Debug("Router.Route: data_exchange", "screen", req.Screen, "trigger", trigger)
		return h(ctx, req)

	case models.FlowActionBack:
		h, ok := r.back[req.Screen]
		if !ok {
			slog.Warn("Router.Route: no BACK route", "screen", req.Screen)
			return flowcrypto.ErrorResponse(fmt.Sprintf("Cannot go back from screen %q", req.Screen)), nil
		}
		return h(ctx, req)

	default:
		slog.Warn("Router.Route: unknown action", "action", req.Action)
		return flowcrypto.ErrorResponse(fmt.Sprintf("Unknown action %q", req.Action)), nil
	}
}
