package naming

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/goliatone/go-botfactory/core"
)

// MaxTenantNameLength keeps LambdaProcessingRole<name> within the 64 char
// role name limit.
const MaxTenantNameLength = 40

const (
	secretPrefix          = "bot/"
	queuePrefix           = "SQS"
	deadLetterSuffix      = "-dlq"
	gatePrefix            = "LambdaReceiver"
	gateRolePrefix        = "LambdaReceiverRole"
	processorPrefix       = "LambdaProcessing"
	processorRolePrefix   = "LambdaProcessingRole"
	commandJobPrefix      = "CommandUpdates"
	secretKeyAliasPattern = "alias/BotSecret%sKMSKey"
	queueKeyAliasPattern  = "alias/SQS%sKMSKey"
)

// reservedPrefix separates compute identifiers from their role identifiers.
const reservedPrefix = "Role"

var tenantNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// Validate reports whether name is safe for every downstream namespace.
func Validate(name string) error {
	switch {
	case name == "":
		return core.InvalidTenantNameError(name, "name is required")
	case name != strings.TrimSpace(name):
		return core.InvalidTenantNameError(name, "name must not contain surrounding whitespace")
	case len(name) > MaxTenantNameLength:
		return core.InvalidTenantNameError(name, "name must be at most 40 characters")
	case !tenantNamePattern.MatchString(name):
		return core.InvalidTenantNameError(name, "name must start with a letter and contain only ASCII letters and digits")
	case strings.HasPrefix(name, reservedPrefix):
		// LambdaReceiver+"RoleX" would equal LambdaReceiverRole+"X".
		return core.InvalidTenantNameError(name, "name must not start with "+reservedPrefix)
	}
	return nil
}

// Derive computes every identifier owned by a tenant. It is a pure function of
// name: equal inputs always yield equal records and distinct valid names never
// share an identifier, whatever its kind.
func Derive(name string) (core.NamingRecord, error) {
	if err := Validate(name); err != nil {
		return core.NamingRecord{}, err
	}
	return core.NamingRecord{
		Tenant:            name,
		SecretID:          secretPrefix + name,
		SecretKeyAlias:    fmt.Sprintf(secretKeyAliasPattern, name),
		QueueID:           queuePrefix + name,
		QueueKeyAlias:     fmt.Sprintf(queueKeyAliasPattern, name),
		DeadLetterQueueID: queuePrefix + name + deadLetterSuffix,
		GateID:            gatePrefix + name,
		GateRoleID:        gateRolePrefix + name,
		ProcessorID:       processorPrefix + name,
		ProcessorRoleID:   processorRolePrefix + name,
		CommandJobID:      commandJobPrefix + name,
		Handler:           SnakeCase(name),
		Route:             "/" + name,
	}, nil
}

// MustDerive panics on invalid names. Intended for static fixtures.
func MustDerive(name string) core.NamingRecord {
	record, err := Derive(name)
	if err != nil {
		panic(err)
	}
	return record
}

// Domain returns the tenant subdomain inside zone.
func Domain(name string, zone string) string {
	zone = strings.Trim(strings.ToLower(strings.TrimSpace(zone)), ".")
	return strings.ToLower(name) + "." + zone
}

// SnakeCase turns SimpBot into simp_bot.
func SnakeCase(name string) string {
	var b strings.Builder
	for index, r := range name {
		if unicode.IsUpper(r) {
			if index > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
