package core

import "testing"

func TestCredentialHandle_AllowsReader(t *testing.T) {
	handle := CredentialHandle{Tenant: "SimpBot", Name: "bot/SimpBot", Readers: []Role{RoleGate}}
	if !handle.AllowsReader(RoleGate) {
		t.Fatalf("expected gate reader")
	}
	if handle.AllowsReader(RoleProcessor) {
		t.Fatalf("processor was never granted")
	}
}

func TestParseBotSecret(t *testing.T) {
	secret, err := ParseBotSecret([]byte(`{"ApplicationId":"123","Token":"tok","PublicKey":"abcd"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if secret.ApplicationID != "123" || secret.Token != "tok" {
		t.Fatalf("unexpected secret %#v", secret)
	}
	if err := secret.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := (BotSecret{}).Validate(); err == nil {
		t.Fatalf("expected validation error for empty secret")
	}
}

func TestTenantDescriptor_CloneIsolatesSettings(t *testing.T) {
	original := TenantDescriptor{Name: "Watchdog2", Settings: map[string]string{"a": "1"}}
	clone := original.Clone()
	clone.Settings["a"] = "2"
	if original.Settings["a"] != "1" {
		t.Fatalf("clone must not share settings")
	}
}

func TestOutcomeString(t *testing.T) {
	if OutcomeUnauthorized.String() != "unauthorized" || OutcomeAccepted.String() != "accepted" {
		t.Fatalf("unexpected outcome names")
	}
}
