package activitypub

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"testing"
	"time"
)

// generateTestKeyPair generates an RSA key pair for testing
func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	return privateKey, &privateKey.PublicKey
}

// privateKeyToPEM converts private key to PEM string
func privateKeyToPEM(key *rsa.PrivateKey) string {
	keyBytes := x509.MarshalPKCS1PrivateKey(key)
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: keyBytes,
	})
	return string(keyPEM)
}

// publicKeyToPEM converts public key to PEM string
func publicKeyToPEM(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: keyBytes,
	})
	return string(keyPEM)
}

// signedTestRequest builds a signed POST with body and required headers
func signedTestRequest(t *testing.T, privateKey *rsa.PrivateKey, keyId string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", "example.com")
	req.Header.Set("Digest", DigestHeader(body))

	if err := SignRequest(req, privateKey, keyId); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	// Recreate the request with the body because signing consumes it;
	// headers carry over.
	req2, err := http.NewRequest("POST", "https://example.com/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to recreate request: %v", err)
	}
	req2.Header = req.Header.Clone()
	return req2
}

func TestParsePrivateKey(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t)

	parsed, err := ParsePrivateKey(privateKeyToPEM(privateKey))
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	if parsed.N.Cmp(privateKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestParsePrivateKeyInvalidPEM(t *testing.T) {
	if _, err := ParsePrivateKey("not a valid PEM"); err == nil {
		t.Error("Expected error for invalid PEM")
	}
	if _, err := ParsePrivateKey(""); err == nil {
		t.Error("Expected error for empty string")
	}
}

func TestParsePublicKey(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)

	parsed, err := ParsePublicKey(publicKeyToPEM(t, publicKey))
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}
	if parsed.N.Cmp(publicKey.N) != 0 {
		t.Error("Parsed key doesn't match original")
	}
}

func TestParsePublicKeyInvalidPEM(t *testing.T) {
	if _, err := ParsePublicKey("not a valid PEM"); err == nil {
		t.Error("Expected error for invalid PEM")
	}
	if _, err := ParsePublicKey(""); err == nil {
		t.Error("Expected error for empty string")
	}
}

func TestDigestHeader(t *testing.T) {
	body := []byte(`{"type":"Create"}`)
	hash := sha256.Sum256(body)
	want := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
	if got := DigestHeader(body); got != want {
		t.Errorf("DigestHeader = %q, want %q", got, want)
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	keyId := "https://myserver.com/actors/alice#main-key"

	req := signedTestRequest(t, privateKey, keyId, []byte(`{"type":"Create"}`))

	actorURI, err := VerifyRequest(req, publicKeyToPEM(t, publicKey))
	if err != nil {
		t.Fatalf("VerifyRequest failed: %v", err)
	}
	if actorURI != "https://myserver.com/actors/alice" {
		t.Errorf("Expected actor URI without fragment, got %q", actorURI)
	}
}

func TestRequestKeyID(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t)
	keyId := "https://myserver.com/actors/alice#main-key"

	req := signedTestRequest(t, privateKey, keyId, []byte(`{}`))

	got, err := RequestKeyID(req)
	if err != nil {
		t.Fatalf("RequestKeyID failed: %v", err)
	}
	if got != keyId {
		t.Errorf("Expected keyId %q, got %q", keyId, got)
	}
}

func TestRequestKeyIDUnsigned(t *testing.T) {
	req, err := http.NewRequest("POST", "https://example.com/inbox", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if _, err := RequestKeyID(req); err == nil {
		t.Error("Expected error for unsigned request")
	}
}

func TestVerifyRequestWrongKey(t *testing.T) {
	privateKey1, _ := generateTestKeyPair(t)
	_, publicKey2 := generateTestKeyPair(t)

	req := signedTestRequest(t, privateKey1, "https://myserver.com/actors/alice#main-key", []byte(`{"type":"Create"}`))

	if _, err := VerifyRequest(req, publicKeyToPEM(t, publicKey2)); err == nil {
		t.Error("Expected verification to fail with wrong public key")
	}
}

func TestVerifyRequestInvalidPEM(t *testing.T) {
	req, err := http.NewRequest("POST", "https://example.com/inbox", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if _, err := VerifyRequest(req, "invalid PEM"); err == nil {
		t.Error("Expected error with invalid PEM")
	}
}
