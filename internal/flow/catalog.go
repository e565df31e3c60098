package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Service is one bookable item shown on the SERVICES screen.
type Service struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
}

// Catalog supplies the dynamic lists a booking flow renders.
type Catalog interface {
	Services(ctx context.Context) ([]Service, error)
	// Slots lists the start times available for serviceID on date (YYYY-MM-DD).
	Slots(ctx context.Context, serviceID string, date time.Time) ([]string, error)
}

// StaticCatalog serves a fixed service list and daily slot grid.
type StaticCatalog struct {
	ServiceList    []Service `json:"services"`
	DailySlots     []string  `json:"slots"`
	ClosedWeekdays []string  `json:"closed_weekdays,omitempty"`
}

var _ Catalog = (*StaticCatalog)(nil)

// DefaultCatalog is used when no catalog file is configured.
func DefaultCatalog() *StaticCatalog {
	return &StaticCatalog{
		ServiceList: []Service{
			{ID: "consultation", Title: "Consultation", Description: "First visit", DurationMinutes: 30},
			{ID: "follow_up", Title: "Follow-up", Description: "Returning customers", DurationMinutes: 20},
		},
		DailySlots:     []string{"09:00", "10:00", "11:00", "14:00", "15:00", "16:00"},
		ClosedWeekdays: []string{"sunday"},
	}
}

// LoadStaticCatalog reads a StaticCatalog from a JSON file.
func LoadStaticCatalog(path string) (*StaticCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var c StaticCatalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(c.ServiceList) == 0 {
		return nil, fmt.Errorf("catalog %s has no services", path)
	}
	for _, d := range c.ClosedWeekdays {
		if _, ok := weekdays[strings.ToLower(d)]; !ok {
			return nil, fmt.Errorf("catalog %s: unknown weekday %q", path, d)
		}
	}
	return &c, nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
}

func (c *StaticCatalog) Services(context.Context) ([]Service, error) {
	return append([]Service(nil), c.ServiceList...), nil
}

func (c *StaticCatalog) Slots(_ context.Context, serviceID string, date time.Time) ([]string, error) {
	if _, ok := c.service(serviceID); !ok {
		return nil, fmt.Errorf("unknown service %q", serviceID)
	}
	for _, d := range c.ClosedWeekdays {
		if weekdays[strings.ToLower(d)] == date.Weekday() {
			return []string{}, nil
		}
	}
	return append([]string{}, c.DailySlots...), nil
}

func (c *StaticCatalog) service(id string) (Service, bool) {
	for _, s := range c.ServiceList {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}
