package collection

import (
	"context"

	"github.com/jhusain/pocket-reader/internal/domain"
	"github.com/jhusain/pocket-reader/pkg/publishers"
)

// RecordStore is the persistence surface the controller needs.
type RecordStore interface {
	ReadAll() ([]domain.Record, error)
	ReplaceAll(records []domain.Record) error
}

// EventPublisher delivers record lifecycle events downstream.
type EventPublisher interface {
	Publish(ctx context.Context, evt publishers.Event) (int, error)
}

// Transform derives the next collection from the current one. It receives a
// copy and may modify it freely.
type Transform func(records []domain.Record) ([]domain.Record, error)
