// Package sqlstore persists history, profiles, assessments, alerts and the
// audit chain through gorm. Postgres is used in production; tests run on
// an in-memory SQLite database.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/boddenberg/txn-risk-engine/internal/audit"
	"github.com/boddenberg/txn-risk-engine/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type transactionRow struct {
	ID           string `gorm:"primaryKey;size:128"`
	EntityID     string `gorm:"index:idx_txn_entity_ts,priority:1;size:128;not null"`
	AccountID    string `gorm:"index:idx_txn_account_ts,priority:1;size:128;not null"`
	Counterparty string `gorm:"index:idx_txn_cp_ts,priority:1;size:256"`
	TsNanos      int64  `gorm:"index:idx_txn_entity_ts,priority:2;index:idx_txn_account_ts,priority:2;index:idx_txn_cp_ts,priority:2"`
	Payload      []byte `gorm:"not null"`
}

func (transactionRow) TableName() string { return "risk_transactions" }

type profileRow struct {
	EntityID  string `gorm:"primaryKey;size:128"`
	Version   int64
	Payload   []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (profileRow) TableName() string { return "risk_profiles" }

type assessmentRow struct {
	TransactionID string `gorm:"primaryKey;size:128"`
	ID            string `gorm:"uniqueIndex;size:36"`
	EntityID      string `gorm:"index;size:128"`
	Score         int
	Level         string `gorm:"size:16"`
	Action        string `gorm:"size:32"`
	AnalyzedAt    time.Time
	Payload       []byte `gorm:"not null"`
}

func (assessmentRow) TableName() string { return "risk_assessments" }

type alertRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	EntityID  string `gorm:"index:idx_alert_entity_status,priority:1;size:128"`
	Status    string `gorm:"index:idx_alert_entity_status,priority:2;size:16"`
	Priority  string `gorm:"size:2"`
	CreatedAt time.Time
	Payload   []byte `gorm:"not null"`
}

func (alertRow) TableName() string { return "risk_alerts" }

type auditRow struct {
	Seq           int64  `gorm:"primaryKey;autoIncrement:false"`
	AssessmentID  string `gorm:"index;size:36"`
	TransactionID string `gorm:"size:128"`
	PrevDigest    string `gorm:"size:64"`
	Digest        string `gorm:"size:64;uniqueIndex"`
	Payload       []byte `gorm:"not null"`
	RecordedAt    time.Time
}

func (auditRow) TableName() string { return "risk_audit_chain" }

// Open connects to dsn: postgres:// URLs use the Postgres driver, anything
// else is treated as a SQLite file (":memory:" included).
func Open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Store implements the history, profile, assessment, alert and audit-sink ports.
type Store struct {
	db *gorm.DB
}

// New migrates the schema and returns the store.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&transactionRow{}, &profileRow{}, &assessmentRow{}, &alertRow{}, &auditRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// nanos keeps zero timestamps ordered before every real one.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return math.MinInt64
	}
	return t.UnixNano()
}

func decodeTxns(rows []transactionRow) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, 0, len(rows))
	for _, r := range rows {
		var t domain.Transaction
		if err := json.Unmarshal(r.Payload, &t); err != nil {
			return nil, fmt.Errorf("decode transaction %s: %w", r.ID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// ============================================================
// HistoryStore
// ============================================================

func (s *Store) Window(ctx context.Context, entityID string, before time.Time, limit int) (domain.HistoricalWindow, error) {
	q := s.db.WithContext(ctx).
		Where("entity_id = ? AND ts_nanos < ?", entityID, nanos(before)).
		Order("ts_nanos DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []transactionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query window: %w", err)
	}
	txns, err := decodeTxns(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(txns)-1; i < j; i, j = i+1, j-1 {
		txns[i], txns[j] = txns[j], txns[i]
	}
	return domain.HistoricalWindow(txns), nil
}

func (s *Store) ByCounterparty(ctx context.Context, counterparty string, since, before time.Time) ([]domain.Transaction, error) {
	return s.between(ctx, "counterparty", domain.NormalizeVendor(counterparty), since, before)
}

func (s *Store) ByAccount(ctx context.Context, accountID string, since, before time.Time) ([]domain.Transaction, error) {
	return s.between(ctx, "account_id", accountID, since, before)
}

func (s *Store) between(ctx context.Context, column, value string, since, before time.Time) ([]domain.Transaction, error) {
	var rows []transactionRow
	err := s.db.WithContext(ctx).
		Where(column+" = ? AND ts_nanos >= ? AND ts_nanos < ?", value, nanos(since), nanos(before)).
		Order("ts_nanos, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", column, err)
	}
	return decodeTxns(rows)
}

// Append upserts txn by id.
func (s *Store) Append(ctx context.Context, txn domain.Transaction) error {
	payload, err := json.Marshal(txn)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	row := transactionRow{
		ID:           txn.ID,
		EntityID:     txn.Entity(),
		AccountID:    txn.AccountID,
		Counterparty: txn.Vendor(),
		TsNanos:      nanos(txn.Timestamp),
		Payload:      payload,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// ============================================================
// ProfileStore
// ============================================================

func (s *Store) GetProfile(ctx context.Context, entityID string) (*domain.EntityProfile, error) {
	var row profileRow
	err := s.db.WithContext(ctx).First(&row, "entity_id = ?", entityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: entityID}
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	p := domain.NewEntityProfile(entityID)
	if err := json.Unmarshal(row.Payload, p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p *domain.EntityProfile) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	row := profileRow{EntityID: p.EntityID, Version: p.Version, Payload: payload, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

// ============================================================
// AssessmentStore
// ============================================================

func (s *Store) SaveAssessment(ctx context.Context, a *domain.RiskAssessment) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	row := assessmentRow{
		TransactionID: a.TransactionID,
		ID:            a.ID,
		EntityID:      a.EntityID,
		Score:         a.Score,
		Level:         string(a.Level),
		Action:        string(a.Action),
		AnalyzedAt:    a.AnalyzedAt,
		Payload:       payload,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *Store) GetAssessment(ctx context.Context, transactionID string) (*domain.RiskAssessment, error) {
	var row assessmentRow
	err := s.db.WithContext(ctx).First(&row, "transaction_id = ?", transactionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.ErrNotFound{Resource: "assessment", ID: transactionID}
	}
	if err != nil {
		return nil, fmt.Errorf("query assessment: %w", err)
	}
	var a domain.RiskAssessment
	if err := json.Unmarshal(row.Payload, &a); err != nil {
		return nil, fmt.Errorf("decode assessment: %w", err)
	}
	return &a, nil
}

// ============================================================
// AlertStore
// ============================================================

func alertToRow(a *domain.AlertRecord) (*alertRow, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal alert: %w", err)
	}
	return &alertRow{
		ID:        a.ID,
		EntityID:  a.EntityID,
		Status:    string(a.Status),
		Priority:  string(a.Priority),
		CreatedAt: a.CreatedAt,
		Payload:   payload,
	}, nil
}

func (s *Store) SaveAlert(ctx context.Context, a *domain.AlertRecord) error {
	row, err := alertToRow(a)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

func (s *Store) GetAlert(ctx context.Context, alertID string) (*domain.AlertRecord, error) {
	var row alertRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", alertID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.ErrNotFound{Resource: "alert", ID: alertID}
	}
	if err != nil {
		return nil, fmt.Errorf("query alert: %w", err)
	}
	var a domain.AlertRecord
	if err := json.Unmarshal(row.Payload, &a); err != nil {
		return nil, fmt.Errorf("decode alert: %w", err)
	}
	return &a, nil
}

func (s *Store) UpdateAlert(ctx context.Context, a *domain.AlertRecord) error {
	row, err := alertToRow(a)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&alertRow{}).Where("id = ?", a.ID).Updates(map[string]any{
		"status":   row.Status,
		"priority": row.Priority,
		"payload":  row.Payload,
	})
	if res.Error != nil {
		return fmt.Errorf("update alert: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.ErrNotFound{Resource: "alert", ID: a.ID}
	}
	return nil
}

// ListAlerts returns the entity's alerts, newest first. An empty status matches all.
func (s *Store) ListAlerts(ctx context.Context, entityID string, status domain.AlertStatus) ([]domain.AlertRecord, error) {
	q := s.db.WithContext(ctx).Where("entity_id = ?", entityID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var rows []alertRow
	if err := q.Order("created_at DESC, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	out := make([]domain.AlertRecord, 0, len(rows))
	for _, r := range rows {
		var a domain.AlertRecord
		if err := json.Unmarshal(r.Payload, &a); err != nil {
			return nil, fmt.Errorf("decode alert %s: %w", r.ID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// ============================================================
// audit.Sink
// ============================================================

func (s *Store) AppendEntry(ctx context.Context, e audit.Entry) error {
	row := auditRow{
		Seq:           e.Seq,
		AssessmentID:  e.AssessmentID,
		TransactionID: e.TransactionID,
		PrevDigest:    e.PrevDigest,
		Digest:        e.Digest,
		Payload:       e.Payload,
		RecordedAt:    e.RecordedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) LastEntry(ctx context.Context) (*audit.Entry, error) {
	var row auditRow
	err := s.db.WithContext(ctx).Order("seq DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query audit head: %w", err)
	}
	e := rowToEntry(row)
	return &e, nil
}

// AuditEntries returns the whole chain in sequence order.
func (s *Store) AuditEntries(ctx context.Context) ([]audit.Entry, error) {
	var rows []auditRow
	if err := s.db.WithContext(ctx).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query audit chain: %w", err)
	}
	out := make([]audit.Entry, len(rows))
	for i, r := range rows {
		out[i] = rowToEntry(r)
	}
	return out, nil
}

func rowToEntry(r auditRow) audit.Entry {
	return audit.Entry{
		Seq:           r.Seq,
		AssessmentID:  r.AssessmentID,
		TransactionID: r.TransactionID,
		PrevDigest:    r.PrevDigest,
		Digest:        r.Digest,
		Payload:       r.Payload,
		RecordedAt:    r.RecordedAt,
	}
}
