// Package flowcrypto implements the WhatsApp Flows endpoint envelope.
//
// Requests arrive as an RSA-OAEP(SHA-256) wrapped AES key, an initial vector
// and an AES-GCM encrypted JSON body with a trailing 16 byte tag. Responses are
// sealed with the same AES key under the bitwise complement of the request IV.
// Nothing in this package retains state between calls.
package flowcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

// TagSize is the AES-GCM authentication tag length appended to flow data.
const TagSize = 16

// Decrypted holds the plaintext request and the session material needed to seal the reply.
// AESKey and IV belong to a single request/response pair; callers should Wipe
// the key once the response is encrypted.
type Decrypted struct {
	Body    map[string]interface{}
	Request models.FlowRequest
	AESKey  []byte
	IV      []byte
}

// Decrypt opens an encrypted Flow request with the given PEM encoded RSA private key.
// Every failure is returned as a *DecryptionError.
func Decrypt(req models.EncryptedFlowRequest, privateKeyPEM string) (*Decrypted, error) {
	wrappedKey, err := base64.StdEncoding.DecodeString(req.EncryptedAESKey)
	if err != nil {
		return nil, newDecryptionError(CauseEnvelope, fmt.Errorf("decode encrypted_aes_key: %w", err))
	}
	flowData, err := base64.StdEncoding.DecodeString(req.EncryptedFlowData)
	if err != nil {
		return nil, newDecryptionError(CauseEnvelope, fmt.Errorf("decode encrypted_flow_data: %w", err))
	}
	iv, err := base64.StdEncoding.DecodeString(req.InitialVector)
	if err != nil {
		return nil, newDecryptionError(CauseEnvelope, fmt.Errorf("decode initial_vector: %w", err))
	}

	privateKey, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, newDecryptionError(CauseKeyUnwrap, err)
	}
	aesKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, privateKey, wrappedKey, nil)
	if err != nil {
		return nil, newDecryptionError(CauseKeyUnwrap, fmt.Errorf("unwrap aes key: %w", err))
	}

	if len(flowData) <= TagSize {
		Wipe(aesKey)
		return nil, newDecryptionError(CauseAuthentication, fmt.Errorf("flow data too short: %d bytes", len(flowData)))
	}
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		Wipe(aesKey)
		return nil, newDecryptionError(CauseKeyUnwrap, fmt.Errorf("create aes cipher: %w", err))
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		Wipe(aesKey)
		return nil, newDecryptionError(CauseAuthentication, fmt.Errorf("create gcm for %d byte iv: %w", len(iv), err))
	}
	// flowData is ciphertext followed by the tag, which is the layout Open expects.
	plaintext, err := gcm.Open(nil, iv, flowData, nil)
	if err != nil {
		Wipe(aesKey)
		return nil, newDecryptionError(CauseAuthentication, fmt.Errorf("open flow data: %w", err))
	}

	var body map[string]interface{}
	if err := json.Unmarshal(plaintext, &body); err != nil {
		Wipe(aesKey)
		return nil, newDecryptionError(CausePayload, fmt.Errorf("parse decrypted body: %w", err))
	}
	if body == nil {
		Wipe(aesKey)
		return nil, newDecryptionError(CausePayload, fmt.Errorf("decrypted body is null"))
	}
	var request models.FlowRequest
	if err := json.Unmarshal(plaintext, &request); err != nil {
		Wipe(aesKey)
		return nil, newDecryptionError(CausePayload, fmt.Errorf("parse flow request: %w", err))
	}

	return &Decrypted{
		Body:    body,
		Request: request,
		AESKey:  aesKey,
		IV:      iv,
	}, nil
}

// Encrypt seals a response body for the request that produced aesKey and requestIV.
// The returned string is base64(ciphertext || tag). Inputs are not modified.
func Encrypt(body interface{}, aesKey, requestIV []byte) (string, error) {
	plaintext, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal flow response: %w", err)
	}
	responseIV := FlipIV(requestIV)
	gcm, err := newGCM(aesKey, len(responseIV))
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, responseIV, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// FlipIV returns a new slice holding the bitwise NOT of every byte of iv.
func FlipIV(iv []byte) []byte {
	flipped := make([]byte, len(iv))
	for i, b := range iv {
		flipped[i] = ^b
	}
	return flipped
}

// ErrorResponse builds the terminal error body delivered to the client.
func ErrorResponse(message string) models.FlowResponse {
	return models.FlowResponse{
		Data: map[string]interface{}{
			"status":        models.FlowStatusError,
			"error_message": message,
		},
	}
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
