package broadcast

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestSign_ReproducibleByReceiver(t *testing.T) {
	payload := []byte(`{"event_id":"AUTH_SUSPICIOUS_LOGIN","severity":"warning"}`)
	secret := "domain-shared-secret"

	got := Sign(payload, secret)

	// A receiver recomputing HMAC-SHA256 over the exact payload bytes must
	// reproduce the signature.
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))

	if got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"event_id":"E1"}`)
	secret := "s3cret"
	sig := Sign(payload, secret)

	tests := []struct {
		name      string
		payload   []byte
		secret    string
		signature string
		want      bool
	}{
		{"valid", payload, secret, sig, true},
		{"wrong secret", payload, "other", sig, false},
		{"tampered payload", []byte(`{"event_id":"E2"}`), secret, sig, false},
		{"malformed hex", payload, secret, "zz-not-hex", false},
		{"empty signature", payload, secret, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.payload, tt.secret, tt.signature); got != tt.want {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSign_DiffersPerSecret(t *testing.T) {
	payload := []byte(`{"event_id":"E1"}`)
	if Sign(payload, "secret-a") == Sign(payload, "secret-b") {
		t.Error("signatures for different secrets should differ")
	}
}
