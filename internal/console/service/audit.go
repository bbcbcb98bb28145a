package service

import (
	"fmt"
	"time"

	"github.com/xela07ax/soc-response-gateway/internal/audit"
)

// AuditProvider описывает контракт чтения журнала. Реализуется Ledger'ом:
// модель данных (audit.Entry) едина для записи и выборки.
type AuditProvider interface {
	Query(filter audit.QueryFilter) ([]audit.Entry, error)
	Summarize(window time.Duration) (*audit.Summary, error)
}

type AuditService struct {
	ledger AuditProvider
}

func NewAuditService(ledger AuditProvider) *AuditService {
	return &AuditService{ledger: ledger}
}

// FetchEntries запрашивает записи с конъюнктивной фильтрацией.
func (s *AuditService) FetchEntries(filter audit.QueryFilter) ([]audit.Entry, error) {
	entries, err := s.ledger.Query(filter)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch entries: %w", err)
	}
	return entries, nil
}

// Summarize отдает агрегаты за скользящее окно.
func (s *AuditService) Summarize(window time.Duration) (*audit.Summary, error) {
	summary, err := s.ledger.Summarize(window)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to summarize: %w", err)
	}
	return summary, nil
}
