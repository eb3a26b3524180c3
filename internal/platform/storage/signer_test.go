package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"testing"
)

func serviceAccountJSON(t *testing.T, key *rsa.PrivateKey, email string) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	data, err := json.Marshal(map[string]string{
		"type":         "service_account",
		"client_email": email,
		"private_key":  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	})
	if err != nil {
		t.Fatalf("marshal json: %v", err)
	}
	return data
}

func TestServiceAccountSignerSignsPayload(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := NewServiceAccountSignerFromJSON(serviceAccountJSON(t, key, "vouchers@gymhub.iam.gserviceaccount.com"))
	if err != nil {
		t.Fatalf("NewServiceAccountSignerFromJSON: %v", err)
	}
	if signer.Email() != "vouchers@gymhub.iam.gserviceaccount.com" {
		t.Fatalf("unexpected email %q", signer.Email())
	}

	payload := []byte("GOOG4-RSA-SHA256\n20250603T120000Z")
	sig, err := signer.SignBytes(context.Background(), payload)
	if err != nil {
		t.Fatalf("SignBytes: %v", err)
	}
	sum := sha256.Sum256(payload)
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, sum[:], sig); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}
}

func TestServiceAccountSignerRejectsBadKeys(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":       nil,
		"not json":    []byte("sa-key"),
		"no key":      []byte(`{"type":"service_account","client_email":"a@b.c"}`),
		"garbage pem": []byte(`{"type":"service_account","client_email":"a@b.c","private_key":"nope"}`),
	} {
		if _, err := NewServiceAccountSignerFromJSON(data); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
