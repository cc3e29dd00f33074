package services

import (
	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore implements Store on Postgres.
type PgStore struct {
	pool *pgxpool.Pool
	ids  *snowflake.Node
}

func NewPgStore(pool *pgxpool.Pool, ids *snowflake.Node) *PgStore {
	return &PgStore{pool: pool, ids: ids}
}

var _ Store = (*PgStore)(nil)
