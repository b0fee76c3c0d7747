package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/metavida/wellness-automation/internal/domain"
	"github.com/metavida/wellness-automation/internal/engine"
	"github.com/metavida/wellness-automation/internal/store"
)

const contractLockKey = "contracts"

// ContractScanner records CONTRATO_EXPIRANDO for active contracts that end
// within the alert horizon. Each contract is alerted once.
type ContractScanner struct {
	store     store.Store
	locker    engine.Locker
	alertDays int
	logger    *slog.Logger
	now       func() time.Time
}

type ScanResult struct {
	Found   int `json:"found"`
	Alerted int `json:"alerted"`
	Failed  int `json:"failed"`
}

func NewContractScanner(st store.Store, locker engine.Locker, alertDays int, logger *slog.Logger) *ContractScanner {
	if alertDays <= 0 {
		alertDays = 60
	}
	return &ContractScanner{
		store:     st,
		locker:    locker,
		alertDays: alertDays,
		logger:    logger.With("component", "contract_scanner"),
		now:       time.Now,
	}
}

type contractExpiringPayload struct {
	UserID       *int64  `json:"user_id,omitempty"`
	ContractID   int64   `json:"contract_id"`
	ContractName string  `json:"contract_name"`
	TenantID     int64   `json:"tenant_id"`
	EndsAt       string  `json:"ends_at"`
	DaysLeft     int     `json:"days_left"`
	MonthlyValue float64 `json:"monthly_value"`
}

func (s *ContractScanner) Scan(ctx context.Context) (ScanResult, error) {
	release, err := s.locker.TryLock(ctx, contractLockKey, 5*time.Minute)
	if err != nil {
		if errors.Is(err, engine.ErrLocked) {
			s.logger.Info("contract scan already running")
			return ScanResult{}, nil
		}
		return ScanResult{}, fmt.Errorf("acquiring contract lock: %w", err)
	}
	defer release()

	now := s.now()
	contracts, err := s.store.ListExpiringContracts(ctx, now.AddDate(0, 0, s.alertDays))
	if err != nil {
		return ScanResult{}, fmt.Errorf("listing expiring contracts: %w", err)
	}

	res := ScanResult{Found: len(contracts)}
	for _, c := range contracts {
		payload, err := json.Marshal(contractExpiringPayload{
			UserID:       c.AccountManagerID,
			ContractID:   c.ID,
			ContractName: c.Name,
			TenantID:     c.TenantID,
			EndsAt:       c.EndsAt.Format(time.DateOnly),
			DaysLeft:     c.DaysLeft(now),
			MonthlyValue: c.MonthlyValue,
		})
		if err != nil {
			return res, fmt.Errorf("encoding contract %d: %w", c.ID, err)
		}

		err = s.store.WithinTx(ctx, func(repo store.Repository) error {
			if _, err := repo.RecordEvent(ctx, domain.EventContractExpiring, payload); err != nil {
				return err
			}
			return repo.MarkContractAlerted(ctx, c.ID, now)
		})
		if err != nil {
			res.Failed++
			s.logger.Error("failed to alert contract", "contract_id", c.ID, "error", err)
			continue
		}

		res.Alerted++
		s.logger.Info("contract expiry recorded",
			"contract_id", c.ID,
			"days_left", c.DaysLeft(now),
		)
	}

	return res, nil
}
