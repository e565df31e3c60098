// Package testutil provides common test utilities and helpers for FlowDesk tests.
//
// It contains an independent implementation of the client side of the
// WhatsApp Flows envelope (what Meta does before calling the endpoint), so
// endpoint tests do not rely on the code they are checking.
package testutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

var (
	keyOnce     sync.Once
	sharedKey   *rsa.PrivateKey
	sharedPEM   string
	keyGenErr   error
	otherOnce   sync.Once
	otherKey    *rsa.PrivateKey
	otherGenErr error
)

// RSAKey returns a process-wide 2048 bit test key and its PKCS#8 PEM encoding.
func RSAKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	keyOnce.Do(func() {
		sharedKey, keyGenErr = rsa.GenerateKey(rand.Reader, 2048)
		if keyGenErr != nil {
			return
		}
		var der []byte
		der, keyGenErr = x509.MarshalPKCS8PrivateKey(sharedKey)
		sharedPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	})
	if keyGenErr != nil {
		t.Fatalf("failed to generate test RSA key: %v", keyGenErr)
	}
	return sharedKey, sharedPEM
}

// UnrelatedRSAKey returns a second key pair, used to simulate a rotated or wrong key.
func UnrelatedRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	otherOnce.Do(func() {
		otherKey, otherGenErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if otherGenErr != nil {
		t.Fatalf("failed to generate unrelated RSA key: %v", otherGenErr)
	}
	return otherKey
}

// FlowEnvelope is what the client side keeps to read the endpoint's reply.
type FlowEnvelope struct {
	Request models.EncryptedFlowRequest
	AESKey  []byte
	IV      []byte
}

// EncryptFlowRequest seals payload the way the WhatsApp client does:
// a random AES-128 key wrapped with RSA-OAEP(SHA-256), a random 16 byte IV and
// AES-GCM over the JSON body.
func EncryptFlowRequest(t *testing.T, pub *rsa.PublicKey, payload interface{}) FlowEnvelope {
	t.Helper()
	plaintext, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal flow payload: %v", err)
	}
	return EncryptRawFlowRequest(t, pub, plaintext)
}

// EncryptRawFlowRequest is EncryptFlowRequest for an arbitrary plaintext.
func EncryptRawFlowRequest(t *testing.T, pub *rsa.PublicKey, plaintext []byte) FlowEnvelope {
	t.Helper()
	aesKey := make([]byte, 16)
	iv := make([]byte, 16)
	if _, err := rand.Read(aesKey); err != nil {
		t.Fatalf("failed to generate aes key: %v", err)
	}
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("failed to generate iv: %v", err)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, aesKey, nil)
	if err != nil {
		t.Fatalf("failed to wrap aes key: %v", err)
	}
	gcm := newGCM(t, aesKey, len(iv))
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	return FlowEnvelope{
		Request: models.EncryptedFlowRequest{
			EncryptedFlowData: base64.StdEncoding.EncodeToString(sealed),
			EncryptedAESKey:   base64.StdEncoding.EncodeToString(wrapped),
			InitialVector:     base64.StdEncoding.EncodeToString(iv),
		},
		AESKey: aesKey,
		IV:     iv,
	}
}

// DecryptFlowResponse opens an endpoint reply using the complemented IV.
func DecryptFlowResponse(t *testing.T, env FlowEnvelope, body string) map[string]interface{} {
	t.Helper()
	sealed, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		t.Fatalf("response is not base64: %v", err)
	}
	flipped := make([]byte, len(env.IV))
	for i, b := range env.IV {
		flipped[i] = ^b
	}
	gcm := newGCM(t, env.AESKey, len(flipped))
	plaintext, err := gcm.Open(nil, flipped, sealed, nil)
	if err != nil {
		t.Fatalf("failed to open response with flipped IV: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(plaintext, &out); err != nil {
		t.Fatalf("response plaintext is not JSON: %v", err)
	}
	return out
}

func newGCM(t *testing.T, key []byte, nonceSize int) cipher.AEAD {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("failed to create cipher: %v", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		t.Fatalf("failed to create gcm: %v", err)
	}
	return gcm
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}
