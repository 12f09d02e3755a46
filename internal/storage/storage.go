package storage

import (
	"context"
	"time"
)

// Record журнальная запись лога (события моста и жизненного цикла).
type Record struct {
	Level        string
	Message      string
	Command      string
	InvocationID string
	Attrs        []byte
	TS           time.Time
}

// Query задает фильтры выборки журнала.
type Query struct {
	From    time.Time
	To      time.Time
	Command string
	Limit   int
}

// Store описывает операции журнала.
type Store interface {
	SaveRecord(ctx context.Context, rec Record) error
	QueryRecords(ctx context.Context, q Query) ([]Record, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
