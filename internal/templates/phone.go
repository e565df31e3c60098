package templates

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is assumed for numbers written without a country code.
const DefaultRegion = "BR"

const whatsappPrefix = "whatsapp:"

var (
	ErrEmptyPhone   = errors.New("phone number is empty")
	ErrInvalidPhone = errors.New("phone number is not a possible number")
)

// NormalizePhone returns raw in E.164 form ("+5511999999999").
// A "whatsapp:" prefix, as used by Twilio addresses, is ignored.
func NormalizePhone(raw, region string) (string, error) {
	cleaned := strings.TrimSpace(raw)
	if len(cleaned) >= len(whatsappPrefix) && strings.EqualFold(cleaned[:len(whatsappPrefix)], whatsappPrefix) {
		cleaned = strings.TrimSpace(cleaned[len(whatsappPrefix):])
	}
	if cleaned == "" {
		return "", ErrEmptyPhone
	}
	if region == "" {
		region = DefaultRegion
	}
	// 00 international prefix
	if strings.HasPrefix(cleaned, "00") {
		cleaned = "+" + cleaned[2:]
	}

	num, err := phonenumbers.Parse(cleaned, strings.ToUpper(region))
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPhone, raw, err)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
