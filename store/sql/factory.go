package sqlstore

import (
	"fmt"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// NewIdempotencyStoreFromPersistence builds the store on top of a
// go-persistence-bun client.
func NewIdempotencyStoreFromPersistence(client *persistence.Client, ttl time.Duration) (*IdempotencyStore, error) {
	db, err := resolveBunDB(client)
	if err != nil {
		return nil, err
	}
	return NewIdempotencyStore(db, ttl)
}

// NewIdempotencyStoreFrom accepts a *bun.DB or anything exposing DB() *bun.DB.
func NewIdempotencyStoreFrom(candidate any, ttl time.Duration) (*IdempotencyStore, error) {
	db, err := resolveBunDB(candidate)
	if err != nil {
		return nil, err
	}
	return NewIdempotencyStore(db, ttl)
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		if typed == nil {
			return nil, fmt.Errorf("sqlstore: bun db is required")
		}
		return typed, nil
	case *persistence.Client:
		if typed == nil {
			return nil, fmt.Errorf("sqlstore: persistence client is required")
		}
		return typed.DB(), nil
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
