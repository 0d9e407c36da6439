package crypto

import (
	"testing"
)

func TestAgentCredentialRoundTrip(t *testing.T) {
	encoded, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := DecodeKey(encoded)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}

	cred, err := IssueAgentCredential(key, "fw-0001")
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}

	deviceID, err := VerifyAgentCredential(key, cred)
	if err != nil {
		t.Fatalf("verify credential: %v", err)
	}
	if deviceID != "fw-0001" {
		t.Errorf("expected device fw-0001, got %s", deviceID)
	}
}

func TestVerifyWithWrongKey(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	key1, _ := DecodeKey(k1)
	key2, _ := DecodeKey(k2)

	cred, err := IssueAgentCredential(key1, "fw-0001")
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}

	if _, err := VerifyAgentCredential(key2, cred); err == nil {
		t.Fatal("credential must not verify under a different key")
	}
}

func TestVerifyGarbage(t *testing.T) {
	encoded, _ := GenerateKey()
	key, _ := DecodeKey(encoded)

	if _, err := VerifyAgentCredential(key, "not-a-credential"); err == nil {
		t.Fatal("garbage must not verify")
	}
	if _, err := VerifyAgentCredential(key, ""); err == nil {
		t.Fatal("empty credential must not verify")
	}
}

func TestIssueRequiresDeviceID(t *testing.T) {
	encoded, _ := GenerateKey()
	key, _ := DecodeKey(encoded)

	if _, err := IssueAgentCredential(key, ""); err == nil {
		t.Fatal("empty device id must be rejected")
	}
}

func TestDecodeKeyInvalid(t *testing.T) {
	if _, err := DecodeKey("short"); err == nil {
		t.Fatal("invalid key must not decode")
	}
}
