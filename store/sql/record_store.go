package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/kyoukan/campuskit/core"
)

// RecordStore is the durable key/value capability backed by a bun database.
// One row per record key; Set replaces the payload in place so readers only
// ever observe a fully written snapshot.
type RecordStore struct {
	db *bun.DB
}

func NewRecordStoreFromDB(db *bun.DB) (*RecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &RecordStore{db: db}, nil
}

func NewRecordStoreFromPersistence(client *persistence.Client) (*RecordStore, error) {
	db, err := resolveBunDB(client)
	if err != nil {
		return nil, err
	}
	return NewRecordStoreFromDB(db)
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

// EnsureSchema creates the record table when it does not exist yet. Embedded
// hosts call this at startup instead of running a migration pipeline.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: record store is not configured")
	}
	_, err := s.db.NewCreateTable().
		Model((*recordRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: ensure record schema: %w", err)
	}
	return nil
}

func (s *RecordStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: record store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("sqlstore: record key is required")
	}

	row := &recordRow{}
	err := s.db.NewSelect().
		Model(row).
		Where("key = ?", key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: read record %q: %w", key, err)
	}
	return append([]byte(nil), row.Payload...), nil
}

func (s *RecordStore) Set(ctx context.Context, key string, payload []byte) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: record store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: record key is required")
	}

	now := time.Now().UTC()
	row := &recordRow{
		ID:        uuid.NewString(),
		Key:       key,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (key) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: write record %q: %w", key, err)
	}
	return nil
}

func (s *RecordStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: record store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("sqlstore: record key is required")
	}

	_, err := s.db.NewDelete().
		Model((*recordRow)(nil)).
		Where("key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: delete record %q: %w", key, err)
	}
	return nil
}

var _ core.RecordStore = (*RecordStore)(nil)
