package core

import (
	"context"
	"time"

	"dispatch/internal/model"
)

// Executor performs one blocking exchange.
type Executor interface {
	Execute(ctx context.Context, req model.RequestDraft) model.ExchangeResult
}

// Gateway is the persistence boundary. *storage.SQLiteStorage implements it.
type Gateway interface {
	SaveExchange(item model.HistoryItem) (int64, error)
	GetHistory(limit int) ([]model.HistoryItem, error)
	GetHistoryItem(id int64) (model.HistoryItem, error)
	ClearHistory() error

	CreateCollection(name string) (model.Collection, error)
	GetCollections() ([]model.Collection, error)
	DeleteCollection(id int64) error
	SaveToCollection(item model.CollectionItem) (int64, error)
	GetCollectionItems(collectionID int64) ([]model.CollectionItem, error)
	GetCollectionItem(id int64) (model.CollectionItem, error)
}

// Metrics receives lifecycle events. *metrics.Recorder implements it.
type Metrics interface {
	SendStarted()
	SendCompleted(outcome string, elapsed time.Duration)
	StaleDiscarded()
	PersistenceFailed(op string)
}

type nopMetrics struct{}

func (nopMetrics) SendStarted()                         {}
func (nopMetrics) SendCompleted(string, time.Duration) {}
func (nopMetrics) StaleDiscarded()                      {}
func (nopMetrics) PersistenceFailed(string)             {}
