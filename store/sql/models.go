package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type recordRow struct {
	bun.BaseModel `bun:"table:kit_records,alias:kr"`

	ID        string    `bun:"id,pk"`
	Key       string    `bun:"key,notnull,unique"`
	Payload   []byte    `bun:"payload"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
