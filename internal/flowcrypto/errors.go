package flowcrypto

import "fmt"

// Cause identifies why a request could not be decrypted. It is meant for
// logs only; every cause produces the same HTTP status.
type Cause string

const (
	// CauseEnvelope means a base64 field could not be decoded.
	CauseEnvelope Cause = "envelope"
	// CauseKeyUnwrap means the private key is unusable or does not match the wrapped AES key.
	CauseKeyUnwrap Cause = "key_unwrap"
	// CauseAuthentication means the GCM tag did not verify (tampering, wrong IV or truncation).
	CauseAuthentication Cause = "authentication"
	// CausePayload means the plaintext is not a JSON object.
	CausePayload Cause = "payload"
)

// DecryptionError is returned by Decrypt for every failure.
type DecryptionError struct {
	Cause Cause
	Err   error
}

func newDecryptionError(cause Cause, err error) *DecryptionError {
	return &DecryptionError{Cause: cause, Err: err}
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("flow decryption failed (%s): %v", e.Cause, e.Err)
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}
