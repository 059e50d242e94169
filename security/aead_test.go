package security

import (
	"bytes"
	"testing"
)

func TestGCM_SealOpenBindsAssociatedData(t *testing.T) {
	key := stretchKey([]byte("short master"))
	if len(key) != 32 {
		t.Fatalf("expected 32 byte key, got %d", len(key))
	}
	plaintext := []byte(`{"ApplicationId":"1","Token":"t","PublicKey":"k"}`)
	sealed, err := sealGCM(key, plaintext, []byte("alias/k|1|SimpBot"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatalf("expected sealed payload to hide plaintext")
	}
	opened, err := openGCM(key, sealed, []byte("alias/k|1|SimpBot"))
	if err != nil || !bytes.Equal(opened, plaintext) {
		t.Fatalf("open: %q %v", opened, err)
	}
	if _, err := openGCM(key, sealed, []byte("alias/k|1|Watchdog2")); err == nil {
		t.Fatalf("expected other tenant's associated data to fail")
	}
	if _, err := openGCM(key, sealed[:8], nil); err == nil {
		t.Fatalf("expected truncated payload to fail")
	}
}

func TestEnvelope_RejectsForeignValues(t *testing.T) {
	if IsEnvelope([]byte(`{"token":"plain"}`)) {
		t.Fatalf("plain json is not an envelope")
	}
	if _, err := ParseEnvelopeMetadata([]byte(`{"token":"plain"}`)); err == nil {
		t.Fatalf("expected missing prefix to fail")
	}
	if _, err := ParseEnvelopeMetadata([]byte(`botfactory.secret.v1:{"kid":"alias/k","ver":1}`)); err == nil {
		t.Fatalf("expected envelope without algorithm to fail")
	}
}
