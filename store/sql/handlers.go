package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func (r *tenantRecord) recordID() *string     { return &r.ID }
func (r *commandRunRecord) recordID() *string { return &r.ID }
func (r *deadLetterRecord) recordID() *string { return &r.ID }

// uuidHandlers wires a uuid keyed record into go-repository-bun. Ids that
// do not parse as uuids read as uuid.Nil.
func uuidHandlers[R any, T interface {
	*R
	recordID() *string
}]() repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: func() T { return T(new(R)) },
		GetID: func(record T) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(*record.recordID())
		},
		SetID: func(record T, id uuid.UUID) {
			if record != nil {
				*record.recordID() = id.String()
			}
		},
		GetIdentifier: func() string { return "id" },
		GetIdentifierValue: func(record T) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(*record.recordID())
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

// tenantID is stable per case-folded tenant name.
func tenantID(nameKey string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("botfactory:tenant:"+nameKey)).String()
}
