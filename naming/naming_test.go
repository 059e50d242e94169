package naming

import (
	"strings"
	"testing"

	"github.com/goliatone/go-botfactory/core"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func clampName(name string) string {
	if len(name) > MaxTenantNameLength {
		return name[:MaxTenantNameLength]
	}
	return name
}

func TestDerive_SimpBotShapes(t *testing.T) {
	record, err := Derive("SimpBot")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	expected := core.NamingRecord{
		Tenant:            "SimpBot",
		SecretID:          "bot/SimpBot",
		SecretKeyAlias:    "alias/BotSecretSimpBotKMSKey",
		QueueID:           "SQSSimpBot",
		QueueKeyAlias:     "alias/SQSSimpBotKMSKey",
		DeadLetterQueueID: "SQSSimpBot-dlq",
		GateID:            "LambdaReceiverSimpBot",
		GateRoleID:        "LambdaReceiverRoleSimpBot",
		ProcessorID:       "LambdaProcessingSimpBot",
		ProcessorRoleID:   "LambdaProcessingRoleSimpBot",
		CommandJobID:      "CommandUpdatesSimpBot",
		Handler:           "simp_bot",
		Route:             "/SimpBot",
	}
	if record != expected {
		t.Fatalf("unexpected record:\n got %#v\nwant %#v", record, expected)
	}
}

func TestDerive_RejectsUnsafeNames(t *testing.T) {
	cases := []string{
		"",
		" SimpBot",
		"2Bot",
		"Simp-Bot",
		"Simp Bot",
		"bot/evil",
		"Ünicode",
		"RoleFoo",
		"Role",
		strings.Repeat("a", MaxTenantNameLength+1),
	}
	for _, name := range cases {
		if _, err := Derive(name); err == nil {
			t.Fatalf("expected %q to be rejected", name)
		} else if !core.IsInvalidTenantName(err) {
			t.Fatalf("expected InvalidTenantName for %q, got %v", name, err)
		}
	}
}

func TestDerive_RoleNamesFitLimit(t *testing.T) {
	record := MustDerive(strings.Repeat("A", MaxTenantNameLength))
	if len(record.ProcessorRoleID) > 64 {
		t.Fatalf("role name too long: %d", len(record.ProcessorRoleID))
	}
}

func TestDerive_SimpBotAndWatchdog2AreDisjoint(t *testing.T) {
	simp := MustDerive("SimpBot")
	watchdog := MustDerive("Watchdog2")
	seen := map[string]bool{}
	for _, id := range simp.Identifiers() {
		seen[id] = true
	}
	for _, id := range watchdog.Identifiers() {
		if seen[id] {
			t.Fatalf("identifier %q shared between tenants", id)
		}
	}
}

func TestDerive_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("derivation is idempotent", prop.ForAll(
		func(name string) bool {
			name = clampName(name)
			first, err1 := Derive(name)
			second, err2 := Derive(name)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return first == second
		},
		gen.Identifier(),
	))

	properties.Property("distinct names never share an identifier of the same kind", prop.ForAll(
		func(a string, b string) bool {
			a, b = clampName(a), clampName(b)
			if a == b {
				return true
			}
			left, err := Derive(a)
			if err != nil {
				return false
			}
			right, err := Derive(b)
			if err != nil {
				return false
			}
			leftIDs, rightIDs := left.Identifiers(), right.Identifiers()
			for index := range leftIDs {
				if leftIDs[index] == rightIDs[index] {
					return false
				}
			}
			return true
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	roleLike := gen.OneGenOf(
		gen.Identifier(),
		gen.Identifier().Map(func(name string) string { return "Role" + name }),
		gen.Identifier().Map(func(name string) string { return strings.ToUpper(name[:1]) + name[1:] }),
	)
	properties.Property("distinct names never share an identifier of any kind", prop.ForAll(
		func(a string, b string) bool {
			a, b = clampName(a), clampName(b)
			if a == b {
				return true
			}
			left, errLeft := Derive(a)
			right, errRight := Derive(b)
			if strings.HasPrefix(a, "Role") || strings.HasPrefix(b, "Role") {
				return (errLeft != nil) == strings.HasPrefix(a, "Role") && (errRight != nil) == strings.HasPrefix(b, "Role")
			}
			if errLeft != nil || errRight != nil {
				return false
			}
			seen := map[string]bool{}
			for _, id := range left.Identifiers() {
				seen[id] = true
			}
			for _, id := range right.Identifiers() {
				if seen[id] {
					return false
				}
			}
			return true
		},
		roleLike,
		roleLike,
	))

	properties.Property("aliases and queues never collide across kinds", prop.ForAll(
		func(a string, b string) bool {
			left, err := Derive(clampName(a))
			if err != nil {
				return false
			}
			right, err := Derive(clampName(b))
			if err != nil {
				return false
			}
			return left.SecretKeyAlias != right.QueueKeyAlias && left.QueueID != right.DeadLetterQueueID
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"SimpBot":   "simp_bot",
		"Watchdog2": "watchdog2",
		"simpbot":   "simpbot",
		"ABot":      "a_bot",
	}
	for input, expected := range cases {
		if got := SnakeCase(input); got != expected {
			t.Fatalf("SnakeCase(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestDomain(t *testing.T) {
	if got := Domain("SimpBot", "BotFactory.lol."); got != "simpbot.botfactory.lol" {
		t.Fatalf("unexpected domain %q", got)
	}
}
