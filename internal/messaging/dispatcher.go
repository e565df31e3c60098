package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/BTreeMap/FlowDesk/internal/templates"
	"github.com/google/uuid"
)

// RecordSink persists the outcome of each contact in a batch.
type RecordSink interface {
	AddSendRecord(ctx context.Context, rec models.SendRecord) error
}

// BatchRequest is one template sent to many contacts with shared tokens.
type BatchRequest struct {
	Template models.Template  `json:"template"`
	Language string           `json:"language,omitempty"`
	Tokens   templates.Tokens `json:"tokens"`
	Contacts []models.Contact `json:"contacts"`
}

// Validate checks the batch before any contact is processed.
func (r BatchRequest) Validate() error {
	if r.Template.Name == "" {
		return models.ErrMissingTemplateName
	}
	if len(r.Contacts) == 0 {
		return models.ErrMissingContacts
	}
	if len(r.Contacts) > models.MaxBatchContacts {
		return fmt.Errorf("%w: %d > %d", models.ErrTooManyContacts, len(r.Contacts), models.MaxBatchContacts)
	}
	return nil
}

// BatchResult summarizes a batch; Records are in contact order.
type BatchResult struct {
	BatchID string              `json:"batch_id"`
	Sent    int                 `json:"sent"`
	Skipped int                 `json:"skipped"`
	Failed  int                 `json:"failed"`
	Records []models.SendRecord `json:"records"`
}

// DispatcherOpts holds configuration for a Dispatcher.
type DispatcherOpts struct {
	DefaultRegion string
	Now           func() time.Time
}

// DispatcherOption defines a configuration option for a Dispatcher.
type DispatcherOption func(*DispatcherOpts)

// WithDispatchRegion sets the region for contact numbers without a country code.
func WithDispatchRegion(region string) DispatcherOption {
	return func(o *DispatcherOpts) { o.DefaultRegion = region }
}

// WithDispatchClock replaces the clock used to stamp records.
func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(o *DispatcherOpts) { o.Now = now }
}

// Dispatcher runs precheck, payload build and delivery for each contact of a batch.
type Dispatcher struct {
	sender Sender
	sink   RecordSink
	region string
	now    func() time.Time
}

func NewDispatcher(sender Sender, sink RecordSink, opts ...DispatcherOption) *Dispatcher {
	cfg := DispatcherOpts{DefaultRegion: templates.DefaultRegion, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{sender: sender, sink: sink, region: cfg.DefaultRegion, now: cfg.Now}
}

// SendBatch processes contacts sequentially. Skipped contacts are recorded
// and never reach the sender. A cancelled ctx stops the batch between
// contacts and returns the partial result with ctx's error.
func (d *Dispatcher) SendBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	result := &BatchResult{BatchID: uuid.NewString()}
	slog.Info("Dispatcher.SendBatch: started", "batch_id", result.BatchID, "template", req.Template.Name, "contacts", len(req.Contacts))

	for _, contact := range req.Contacts {
		if err := ctx.Err(); err != nil {
			slog.Warn("Dispatcher.SendBatch: cancelled", "batch_id", result.BatchID, "processed", len(result.Records))
			return result, err
		}
		rec := d.sendOne(ctx, result.BatchID, req, contact)
		if err := d.sink.AddSendRecord(ctx, rec); err != nil {
			slog.Error("Dispatcher.SendBatch: failed to record outcome", "error", err, "batch_id", result.BatchID, "contact_id", contact.ContactID)
			return result, fmt.Errorf("failed to record send for contact %s: %w", contact.ContactID, err)
		}
		switch rec.Status {
		case models.SendStatusSent:
			result.Sent++
		case models.SendStatusSkipped:
			result.Skipped++
		default:
			result.Failed++
		}
		result.Records = append(result.Records, rec)
	}
	slog.Info("Dispatcher.SendBatch: finished", "batch_id", result.BatchID, "sent", result.Sent, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, batchID string, req BatchRequest, contact models.Contact) models.SendRecord {
	rec := models.SendRecord{
		ID:           uuid.NewString(),
		BatchID:      batchID,
		ContactID:    contact.ContactID,
		Phone:        contact.Phone,
		TemplateName: req.Template.Name,
		CreatedAt:    d.now().UTC(),
	}

	check := templates.Precheck(contact, req.Template, req.Tokens, templates.WithDefaultRegion(d.region))
	if !check.OK {
		rec.Status = models.SendStatusSkipped
		rec.SkipCode = string(check.SkipCode)
		rec.Reason = check.Reason
		slog.Debug("Dispatcher.sendOne: skipped", "contact_id", contact.ContactID, "code", check.SkipCode)
		return rec
	}
	rec.Phone = check.NormalizedPhone

	payload, err := templates.BuildPayload(templates.BuildInput{
		To:       check.NormalizedPhone,
		Language: req.Language,
		Values:   *check.Values,
		Template: req.Template,
	})
	if err != nil {
		rec.Status = models.SendStatusFailed
		rec.Reason = err.Error()
		slog.Warn("Dispatcher.sendOne: payload build failed", "contact_id", contact.ContactID, "error", err)
		return rec
	}

	messageID, err := d.sender.SendTemplate(ctx, payload)
	if err != nil {
		rec.Status = models.SendStatusFailed
		rec.Reason = err.Error()
		slog.Warn("Dispatcher.sendOne: send failed", "contact_id", contact.ContactID, "error", err)
		return rec
	}
	rec.Status = models.SendStatusSent
	rec.MessageID = messageID
	return rec
}
