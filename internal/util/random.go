// Package util provides small helpers shared across FlowDesk components.
package util

import (
	"math/rand/v2"
	"strings"
)

// confirmationAlphabet leaves out 0/O and 1/I, which are easy to confuse when read aloud.
const confirmationAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// ConfirmationCodeLength is the number of random characters after the prefix.
const ConfirmationCodeLength = 6

// GenerateRandomString returns length characters drawn from alphabet.
// Not for secrets: it uses math/rand/v2.
func GenerateRandomString(alphabet string, length int) string {
	if length <= 0 || alphabet == "" {
		return ""
	}
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(alphabet[rand.IntN(len(alphabet))])
	}
	return builder.String()
}

// GenerateConfirmationCode returns a booking reference such as "FD-7KQ2MX".
func GenerateConfirmationCode() string {
	return "FD-" + GenerateRandomString(confirmationAlphabet, ConfirmationCodeLength)
}
