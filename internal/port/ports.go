// Package port defines the interfaces (ports) for external collaborators.
// Following hexagonal architecture, these ports decouple the engine and
// service layer from concrete storage, transport and market-data adapters.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/domain"
)

// HistoryStore gives read access to prior transactions and accepts new ones.
// Every read returns transactions strictly older than `before`, oldest first.
type HistoryStore interface {
	// Window returns the last `limit` transactions of an entity.
	Window(ctx context.Context, entityID string, before time.Time, limit int) (domain.HistoricalWindow, error)
	// ByCounterparty returns transactions of any entity paid to a normalized counterparty.
	ByCounterparty(ctx context.Context, counterparty string, since, before time.Time) ([]domain.Transaction, error)
	// ByAccount returns transactions originated by an account.
	ByAccount(ctx context.Context, accountID string, since, before time.Time) ([]domain.Transaction, error)
	Append(ctx context.Context, txn domain.Transaction) error
}

// ProfileStore persists entity profiles.
// GetProfile returns *domain.ErrNotFound when the entity has no profile yet.
type ProfileStore interface {
	GetProfile(ctx context.Context, entityID string) (*domain.EntityProfile, error)
	SaveProfile(ctx context.Context, profile *domain.EntityProfile) error
}

// AssessmentStore keeps the append-only assessment history.
type AssessmentStore interface {
	SaveAssessment(ctx context.Context, a *domain.RiskAssessment) error
	GetAssessment(ctx context.Context, transactionID string) (*domain.RiskAssessment, error)
}

// AlertStore persists alert records and their lifecycle.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *domain.AlertRecord) error
	GetAlert(ctx context.Context, alertID string) (*domain.AlertRecord, error)
	UpdateAlert(ctx context.Context, alert *domain.AlertRecord) error
	ListAlerts(ctx context.Context, entityID string, status domain.AlertStatus) ([]domain.AlertRecord, error)
}

// AlertPublisher hands alerts to the notification subsystem.
type AlertPublisher interface {
	Publish(ctx context.Context, alert *domain.AlertRecord) error
}

// RateProvider resolves market reference data for the FX detector.
type RateProvider interface {
	Rates(ctx context.Context, base string) (*domain.RateTable, error)
}

// AuditLog records every assessment in a tamper-evident chain.
type AuditLog interface {
	Record(ctx context.Context, a *domain.RiskAssessment) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
