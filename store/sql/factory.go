package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-adconnect/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db      *bun.DB
	secrets core.SecretProvider
	opts    []StoreOption

	credentialStore *CredentialStore
	stateStore      *StateStore
}

func NewRepositoryFactory(secrets core.SecretProvider, opts ...StoreOption) *RepositoryFactory {
	return &RepositoryFactory{secrets: secrets, opts: opts}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, secrets core.SecretProvider, opts ...StoreOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(secrets, opts...)
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, secrets core.SecretProvider, opts ...StoreOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(secrets, opts...)
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB.
func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.credentialStore != nil && f.stateStore != nil {
		return nil
	}
	credentialStore, err := NewCredentialStore(f.db, f.secrets, f.opts...)
	if err != nil {
		return err
	}
	stateStore, err := NewStateStore(f.db, f.opts...)
	if err != nil {
		return err
	}
	f.credentialStore = credentialStore
	f.stateStore = stateStore
	return nil
}

func (f *RepositoryFactory) CredentialStore() core.CredentialStore {
	if f == nil || f.credentialStore == nil {
		return nil
	}
	return f.credentialStore
}

func (f *RepositoryFactory) StateStore() core.StateStore {
	if f == nil || f.stateStore == nil {
		return nil
	}
	return f.stateStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
