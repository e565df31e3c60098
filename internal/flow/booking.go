package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/BTreeMap/FlowDesk/internal/templates"
	"github.com/BTreeMap/FlowDesk/internal/util"
	"github.com/google/uuid"
)

// Screens of the booking flow.
const (
	ScreenServices = "SERVICES"
	ScreenDate     = "DATE"
	ScreenDetails  = "DETAILS"
	ScreenSuccess  = "SUCCESS"
)

// TriggerRefresh re-lists the slots of the DATE screen after a date change.
const TriggerRefresh = "refresh"

const dateLayout = "2006-01-02"

// ValidationError reports a request whose data does not fit the screen.
type ValidationError struct {
	Screen string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Screen, e.Field, e.Reason)
}

// SubmissionSink receives completed bookings.
type SubmissionSink interface {
	AddFlowSubmission(ctx context.Context, sub models.FlowSubmission) error
}

// BookingOpts holds configuration for the booking flow.
type BookingOpts struct {
	WindowDays    int              // how far ahead a date may be booked
	DefaultRegion string           // region for phone numbers typed without country code
	Now           func() time.Time // clock, for tests
}

// BookingOption defines a configuration option for the booking flow.
type BookingOption func(*BookingOpts)

// WithWindowDays sets how many days ahead can be booked.
func WithWindowDays(days int) BookingOption {
	return func(o *BookingOpts) {
		o.WindowDays = days
	}
}

// WithPhoneRegion sets the default phone region for the DETAILS screen.
func WithPhoneRegion(region string) BookingOption {
	return func(o *BookingOpts) {
		o.DefaultRegion = region
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BookingOption {
	return func(o *BookingOpts) {
		o.Now = now
	}
}

// Booking is the SERVICES -> DATE -> DETAILS -> SUCCESS appointment flow.
type Booking struct {
	catalog Catalog
	sink    SubmissionSink
	cfg     BookingOpts
}

// NewBooking creates the booking flow. sink may be nil, in which case completed
// bookings are only logged.
func NewBooking(catalog Catalog, sink SubmissionSink, opts ...BookingOption) *Booking {
	cfg := BookingOpts{WindowDays: 30, DefaultRegion: templates.DefaultRegion, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Booking{catalog: catalog, sink: sink, cfg: cfg}
}

// Register wires the booking screens into r.
func (b *Booking) Register(r *Router) {
	r.OnInit(b.servicesScreen)
	r.OnExchange(ScreenServices, DefaultTrigger, b.chooseService)
	r.OnExchange(ScreenDate, TriggerRefresh, b.refreshSlots)
	r.OnExchange(ScreenDate, DefaultTrigger, b.chooseSlot)
	r.OnExchange(ScreenDetails, DefaultTrigger, b.confirm)

	r.OnBack(ScreenServices, b.servicesScreen)
	r.OnBack(ScreenDate, b.servicesScreen)
	r.OnBack(ScreenDetails, b.backToDate)
}

func (b *Booking) servicesScreen(ctx context.Context, req models.FlowRequest) (models.FlowResponse, error) {
	services, err := b.catalog.Services(ctx)
	if err != nil {
		return models.FlowResponse{}, fmt.Errorf("list services: %w", err)
	}
	items := make([]map[string]interface{}, 0, len(services))
	for _, s := range services {
		item := map[string]interface{}{"id": s.ID, "title": s.Title}
		if s.Description != "" {
			item["description"] = s.Description
		}
		items = append(items, item)
	}
	data := map[string]interface{}{"services": items}
	// BACK keeps the previous choice selected
	if selected := req.StringField("service"); selected != "" {
		data["selected_service"] = selected
	}
	return models.NewScreenResponse(ScreenServices, data), nil
}

func (b *Booking) chooseService(ctx context.Context, req models.FlowRequest) (models.FlowResponse, error) {
	svc, err := b.requireService(ctx, req, ScreenServices)
	if err != nil {
		return models.FlowResponse{}, err
	}
	today := b.today()
	return models.NewScreenResponse(ScreenDate, map[string]interface{}{
		"service":       svc.ID,
		"service_title": svc.Title,
		"min_date":      today.Format(dateLayout),
		"max_date":      today.AddDate(0, 0, b.cfg.WindowDays).Format(dateLayout),
		"slots":         []map[string]interface{}{},
	}), nil
}

func (b *Booking) refreshSlots(ctx context.Context, req models.FlowRequest) (models.FlowResponse, error) {
	svc, err := b.requireService(ctx, req, ScreenDate)
	if err != nil {
		return models.FlowResponse{}, err
	}
	date, err := b.requireDate(req, ScreenDate)
	if err != nil {
		return models.FlowResponse{}, err
	}
	return b.dateScreen(ctx, svc, date)
}

func (b *Booking) chooseSlot(ctx context.Context, req models.FlowRequest) (models.FlowResponse, error) {
	svc, err := b.requireService(ctx, req, ScreenDate)
	if err != nil {
		return models.FlowResponse{}, err
	}
	date, err := b.requireDate(req, ScreenDate)
	if err != nil {
		return models.FlowResponse{}, err
	}
	slot, err := b.requireSlot(ctx, req, ScreenDate, svc, date)
	if err != nil {
		return models.FlowResponse{}, err
	}
	return models.NewScreenResponse(ScreenDetails, map[string]interface{}{
		"service":       svc.ID,
		"service_title": svc.Title,
		"date":          date.Format(dateLayout),
		"slot":          slot,
		"summary":       fmt.Sprintf("%s on %s at %s", svc.Title, date.Format(dateLayout), slot),
	}), nil
}

func (b *Booking) backToDate(ctx context.Context, req models.FlowRequest) (models.FlowResponse, error) {
	svc, err := b.requireService(ctx, req, ScreenDetails)
	if err != nil {
		return models.FlowResponse{}, err
	}
	date, err := b.requireDate(req, ScreenDetails)
	if err != nil {
		return models.FlowResponse{}, err
	}
	return b.dateScreen(ctx, svc, date)
}

func (b *Booking) confirm(ctx context.Context, req models.FlowRequest) (models.FlowResponse, error) {
	svc, err := b.requireService(ctx, req, ScreenDetails)
	if err != nil {
		return models.FlowResponse{}, err
	}
	date, err := b.requireDate(req, ScreenDetails)
	if err != nil {
		return models.FlowResponse{}, err
	}
	slot, err := b.requireSlot(ctx, req, ScreenDetails, svc, date)
	if err != nil {
		return models.FlowResponse{}, err
	}
	name := strings.TrimSpace(req.StringField("name"))
	if name == "" {
		return models.FlowResponse{}, &ValidationError{Screen: ScreenDetails, Field: "name", Reason: "is required"}
	}
	phone, err := templates.NormalizePhone(req.StringField("phone"), b.cfg.DefaultRegion)
	if err != nil {
		return models.FlowResponse{}, &ValidationError{Screen: ScreenDetails, Field: "phone", Reason: "is not a valid phone number"}
	}

	code := util.GenerateConfirmationCode()
	fields := map[string]string{
		"service":      svc.ID,
		"date":         date.Format(dateLayout),
		"slot":         slot,
		"name":         name,
		"phone":        phone,
		"confirmation": code,
	}
	if email := strings.TrimSpace(req.StringField("email")); email != "" {
		fields["email"] = email
	}
	if notes := strings.TrimSpace(req.StringField("notes")); notes != "" {
		fields["notes"] = notes
	}

	sub := models.FlowSubmission{
		ID:        uuid.NewString(),
		FlowToken: req.FlowToken,
		Screen:    ScreenDetails,
		Fields:    fields,
		CreatedAt: b.cfg.Now().UTC(),
	}
	if b.sink != nil {
		if err := b.sink.AddFlowSubmission(ctx, sub); err != nil {
			return models.FlowResponse{}, fmt.Errorf("save booking: %w", err)
		}
	}
	slog.Info("Booking.confirm: booking completed", "submission_id", sub.ID, "service", svc.ID, "date", fields["date"], "slot", slot)

	params := map[string]interface{}{"flow_token": req.FlowToken}
	for k, v := range fields {
		params[k] = v
	}
	return models.NewScreenResponse(ScreenSuccess, map[string]interface{}{
		"status": models.FlowStatusComplete,
		"extension_message_response": map[string]interface{}{
			"params": params,
		},
	}), nil
}

func (b *Booking) dateScreen(ctx context.Context, svc Service, date time.Time) (models.FlowResponse, error) {
	slots, err := b.catalog.Slots(ctx, svc.ID, date)
	if err != nil {
		return models.FlowResponse{}, fmt.Errorf("list slots: %w", err)
	}
	items := make([]map[string]interface{}, 0, len(slots))
	for _, s := range slots {
		items = append(items, map[string]interface{}{"id": s, "title": s})
	}
	today := b.today()
	return models.NewScreenResponse(ScreenDate, map[string]interface{}{
		"service":       svc.ID,
		"service_title": svc.Title,
		"date":          date.Format(dateLayout),
		"min_date":      today.Format(dateLayout),
		"max_date":      today.AddDate(0, 0, b.cfg.WindowDays).Format(dateLayout),
		"slots":         items,
	}), nil
}

func (b *Booking) today() time.Time {
	now := b.cfg.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func (b *Booking) requireService(ctx context.Context, req models.FlowRequest, screen string) (Service, error) {
	id := req.StringField("service")
	if id == "" {
		return Service{}, &ValidationError{Screen: screen, Field: "service", Reason: "is required"}
	}
	services, err := b.catalog.Services(ctx)
	if err != nil {
		return Service{}, fmt.Errorf("list services: %w", err)
	}
	for _, s := range services {
		if s.ID == id {
			return s, nil
		}
	}
	return Service{}, &ValidationError{Screen: screen, Field: "service", Reason: fmt.Sprintf("%q is not offered", id)}
}

func (b *Booking) requireDate(req models.FlowRequest, screen string) (time.Time, error) {
	raw := req.StringField("date")
	if raw == "" {
		return time.Time{}, &ValidationError{Screen: screen, Field: "date", Reason: "is required"}
	}
	today := b.today()
	date, err := time.ParseInLocation(dateLayout, raw, today.Location())
	if err != nil {
		return time.Time{}, &ValidationError{Screen: screen, Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	if date.Before(today) || date.After(today.AddDate(0, 0, b.cfg.WindowDays)) {
		return time.Time{}, &ValidationError{Screen: screen, Field: "date", Reason: "is outside the booking window"}
	}
	return date, nil
}

func (b *Booking) requireSlot(ctx context.Context, req models.FlowRequest, screen string, svc Service, date time.Time) (string, error) {
	slot := req.StringField("slot")
	if slot == "" {
		return "", &ValidationError{Screen: screen, Field: "slot", Reason: "is required"}
	}
	slots, err := b.catalog.Slots(ctx, svc.ID, date)
	if err != nil {
		return "", fmt.Errorf("list slots: %w", err)
	}
	for _, s := range slots {
		if s == slot {
			return slot, nil
		}
	}
	return "", &ValidationError{Screen: screen, Field: "slot", Reason: fmt.Sprintf("%q is not available", slot)}
}

// IsValidationError reports whether err came from request data validation.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
