package repository

import (
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
)

const errorSeparator = "\n"

// DispatchRunModel is the persistence model for the dispatch_runs table.
type DispatchRunModel struct {
	ID          string           `gorm:"type:uuid;primaryKey"`
	Provider    domain.Provider  `gorm:"type:varchar(16);not null"`
	Status      domain.RunStatus `gorm:"type:varchar(20);not null"`
	TotalCount  int              `gorm:"not null"`
	SentCount   int              `gorm:"not null;default:0"`
	FailedCount int              `gorm:"not null;default:0"`
	Errors      string           `gorm:"type:text;not null;default:''"`
	FinishedAt  *time.Time       `gorm:"type:timestamptz"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Outcomes []DispatchOutcomeModel `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

func (DispatchRunModel) TableName() string {
	return "dispatch_runs"
}

// DispatchOutcomeModel is one recipient row of a run, ordered by Position.
type DispatchOutcomeModel struct {
	ID                string               `gorm:"type:uuid;primaryKey"`
	RunID             string               `gorm:"type:uuid;not null;index:idx_dispatch_outcomes_run_position,priority:1"`
	Position          int                  `gorm:"not null;index:idx_dispatch_outcomes_run_position,priority:2"`
	Address           string               `gorm:"type:varchar(320);not null"`
	Name              string               `gorm:"type:varchar(255);not null;default:''"`
	Status            domain.OutcomeStatus `gorm:"type:varchar(10);not null"`
	ProviderMessageID *string              `gorm:"type:varchar(255)"`
	ErrorReason       *string              `gorm:"type:text"`
	ErrorCode         *string              `gorm:"type:varchar(64)"`
	CreatedAt         time.Time
}

func (DispatchOutcomeModel) TableName() string {
	return "dispatch_outcomes"
}

func runModelFromDomain(r *domain.DispatchRun) *DispatchRunModel {
	if r == nil {
		return nil
	}

	return &DispatchRunModel{
		ID:          r.ID,
		Provider:    r.Provider,
		Status:      r.Status,
		TotalCount:  r.TotalCount,
		SentCount:   r.SentCount,
		FailedCount: r.FailedCount,
		Errors:      strings.Join(r.Errors, errorSeparator),
		FinishedAt:  r.FinishedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func runModelToDomain(m *DispatchRunModel) *domain.DispatchRun {
	if m == nil {
		return nil
	}

	run := &domain.DispatchRun{
		ID:          m.ID,
		Provider:    m.Provider,
		Status:      m.Status,
		TotalCount:  m.TotalCount,
		SentCount:   m.SentCount,
		FailedCount: m.FailedCount,
		Errors:      splitErrors(m.Errors),
		Outcomes:    make([]domain.SendOutcome, 0, len(m.Outcomes)),
		FinishedAt:  m.FinishedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	for i := range m.Outcomes {
		run.Outcomes = append(run.Outcomes, outcomeModelToDomain(&m.Outcomes[i]))
	}
	return run
}

func outcomeModelFromDomain(runID string, position int, o domain.SendOutcome, createdAt time.Time) DispatchOutcomeModel {
	return DispatchOutcomeModel{
		RunID:             runID,
		Position:          position,
		Address:           o.Recipient.Address,
		Name:              o.Recipient.Name,
		Status:            o.Status,
		ProviderMessageID: optionalString(o.ProviderMessageID),
		ErrorReason:       optionalString(o.ErrorReason),
		ErrorCode:         optionalString(o.ErrorCode),
		CreatedAt:         createdAt,
	}
}

func outcomeModelToDomain(m *DispatchOutcomeModel) domain.SendOutcome {
	return domain.SendOutcome{
		Recipient:         domain.Recipient{Address: m.Address, Name: m.Name},
		Status:            m.Status,
		ProviderMessageID: derefString(m.ProviderMessageID),
		ErrorReason:       derefString(m.ErrorReason),
		ErrorCode:         derefString(m.ErrorCode),
	}
}

func splitErrors(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, errorSeparator)
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
