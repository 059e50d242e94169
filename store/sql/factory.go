package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory holds every SQL store of the factory over one bun
// database.
type RepositoryFactory struct {
	db          *bun.DB
	tenants     *TenantStore
	credentials *CredentialStore
	keys        *KeyStore
	relay       *RelayStore
	deadLetters *DeadLetterStore
	runs        *RunStore
	points      *PointsStore
	contacts    *ContactStore
}

// NewRepositoryFactoryFromPersistence builds the stores over the database of
// a migrated persistence client.
func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	return NewRepositoryFactoryFromDB(client.DB())
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	f := &RepositoryFactory{db: db}
	builders := []func() error{
		func() (err error) { f.tenants, err = NewTenantStore(db); return },
		func() (err error) { f.credentials, err = NewCredentialStore(db); return },
		func() (err error) { f.keys, err = NewKeyStore(db); return },
		func() (err error) { f.relay, err = NewRelayStore(db); return },
		func() (err error) { f.deadLetters, err = NewDeadLetterStore(db); return },
		func() (err error) { f.runs, err = NewRunStore(db); return },
		func() (err error) { f.points, err = NewPointsStore(db); return },
		func() (err error) { f.contacts, err = NewContactStore(db); return },
	}
	for _, build := range builders {
		if err := build(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB                       { return f.db }
func (f *RepositoryFactory) TenantStore() *TenantStore         { return f.tenants }
func (f *RepositoryFactory) CredentialStore() *CredentialStore { return f.credentials }
func (f *RepositoryFactory) KeyStore() *KeyStore               { return f.keys }
func (f *RepositoryFactory) RelayStore() *RelayStore           { return f.relay }
func (f *RepositoryFactory) DeadLetterStore() *DeadLetterStore { return f.deadLetters }
func (f *RepositoryFactory) RunStore() *RunStore               { return f.runs }
func (f *RepositoryFactory) PointsStore() *PointsStore         { return f.points }
func (f *RepositoryFactory) ContactStore() *ContactStore       { return f.contacts }
