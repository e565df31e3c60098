// Package templates validates contacts against WhatsApp message templates and
// builds the Cloud API template payload.
//
// Precheck never fails loudly: a contact that cannot fill every placeholder
// comes back as a skipped result with a machine readable code and the exact
// slot that is missing. BuildPayload, in contrast, returns an error when the
// caller hands it values that cannot satisfy the template.
package templates

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// slot is one placeholder a component declares, in send order.
type slot struct {
	Key string
	Raw string
}

// Placeholder is a placeholder occurrence found in template text.
type Placeholder struct {
	Key string `json:"key"`
	Raw string `json:"raw"`
}

// Placeholders lists the distinct placeholders of text in order of first appearance.
func Placeholders(text string) []Placeholder {
	var out []Placeholder
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		key := m[1]
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Placeholder{Key: key, Raw: m[0]})
	}
	return out
}

func isNumericKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// declaredSlots returns the slots of text for the given format.
// Positional keys must form the dense sequence 1..n; named templates may not use numeric keys.
func declaredSlots(text string, format models.ParameterFormat) ([]slot, error) {
	found := Placeholders(text)
	if len(found) == 0 {
		return nil, nil
	}
	slots := make([]slot, 0, len(found))
	if format == models.ParameterFormatNamed {
		for _, p := range found {
			if isNumericKey(p.Key) {
				return nil, fmt.Errorf("named template uses positional placeholder %s", p.Raw)
			}
			slots = append(slots, slot{Key: p.Key, Raw: p.Raw})
		}
		return slots, nil
	}

	indexes := make([]int, 0, len(found))
	for _, p := range found {
		if !isNumericKey(p.Key) {
			return nil, fmt.Errorf("positional template uses named placeholder %s", p.Raw)
		}
		n, err := strconv.Atoi(p.Key)
		if err != nil {
			return nil, fmt.Errorf("invalid positional placeholder %s: %w", p.Raw, err)
		}
		indexes = append(indexes, n)
	}
	sort.Ints(indexes)
	for i, n := range indexes {
		if n != i+1 {
			return nil, fmt.Errorf("positional placeholders must be {{1}}..{{%d}} without gaps, found {{%d}}", len(indexes), n)
		}
		key := strconv.Itoa(n)
		slots = append(slots, slot{Key: key, Raw: "{{" + key + "}}"})
	}
	return slots, nil
}

// ValidateTemplate checks that every component's placeholders follow the template's parameter format.
func ValidateTemplate(tpl models.Template) error {
	if !models.IsValidParameterFormat(tpl.ParameterFormat) {
		return fmt.Errorf("%w: %q", models.ErrInvalidParamFormat, tpl.ParameterFormat)
	}
	for _, c := range tpl.Components {
		switch c.Type {
		case models.ComponentHeader, models.ComponentBody:
			if _, err := declaredSlots(c.Text, tpl.Format()); err != nil {
				return fmt.Errorf("%s: %w", strings.ToLower(c.Type), err)
			}
		case models.ComponentButtons:
			for i, b := range c.Buttons {
				if _, err := declaredSlots(b.URL, models.ParameterFormatPositional); err != nil {
					return fmt.Errorf("button %d: %w", i, err)
				}
			}
		}
	}
	return nil
}
