package service

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/ledger"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/payout"
	"github.com/mmeshcher/partsmart-ledger/internal/repository"
)

const payoutBatchSize = 100

// StartPayoutUpdates запускает фоновую передачу заявок на вывод провайдеру и опрос их статусов.
func (s *Service) StartPayoutUpdates(ctx context.Context) {
	if s.payouts == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processPayoutBatch(ctx)
			}
		}
	}()
}

// processPayoutBatch обрабатывает заявки в статусах REQUESTED и PROCESSING.
//
// Перед отправкой заявка ищется у провайдера по Reference, поэтому выплата,
// отправленная в прошлый раз без ответа, не создаётся повторно.
// До вызова CreatePayout заявка переводится в PROCESSING: после этого её нельзя
// отклонить, даже если ответ провайдера потерян.
// Ошибка транспорта не считается отказом: заявка остаётся в прежнем статусе до следующего прохода.
func (s *Service) processPayoutBatch(ctx context.Context) {
	pending, err := s.repo.GetWithdrawalsByStatus(ctx,
		[]model.WithdrawalStatus{model.WithdrawalRequested, model.WithdrawalProcessing}, payoutBatchSize)
	if err != nil {
		s.logger.Error("failed to load pending withdrawals", zap.Error(err))
		return
	}

	for _, wd := range pending {
		p, statusCode, retryAfter, err := s.payouts.GetPayout(ctx, wd.ID)
		if err == nil && statusCode == http.StatusNotFound && wd.PayoutID == "" {
			submitted, markErr := s.markSubmitted(ctx, wd.ID)
			if markErr != nil {
				s.logger.Error("failed to mark withdrawal submitted", zap.String("withdrawal", wd.ID), zap.Error(markErr))
				continue
			}
			if !submitted {
				continue
			}
			p, statusCode, retryAfter, err = s.payouts.CreatePayout(ctx, payout.Request{
				Reference: wd.ID,
				Amount:    wd.Amount,
				Bank:      wd.Bank,
			})
		}
		if err != nil {
			s.logger.Warn("payout provider call failed", zap.String("withdrawal", wd.ID), zap.Error(err))
			continue
		}

		if statusCode == http.StatusTooManyRequests {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		if p == nil {
			continue
		}

		if err := s.applyPayout(ctx, wd.ID, p); err != nil {
			s.logger.Error("failed to apply payout status",
				zap.String("withdrawal", wd.ID),
				zap.String("payoutStatus", p.Status),
				zap.Error(err))
		}
	}
}

// markSubmitted переводит заявку в PROCESSING перед отправкой провайдеру.
// Возвращает false, если заявку уже нельзя отправлять, например её отклонил администратор.
func (s *Service) markSubmitted(ctx context.Context, id string) (bool, error) {
	submitted := false
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		wd, err := tx.WithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if wd.Status == model.WithdrawalProcessing {
			submitted = wd.PayoutID == ""
			return nil
		}
		if wd.Status != model.WithdrawalRequested {
			return nil
		}
		if err := ledger.StartProcessing(wd, ""); err != nil {
			return err
		}
		submitted = true
		return tx.SaveWithdrawal(ctx, wd)
	})
	return submitted, err
}

// applyPayout переносит статус выплаты провайдера на заявку. Неуспешная выплата возвращает средства.
func (s *Service) applyPayout(ctx context.Context, id string, p *payout.Payout) error {
	return s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		wd, err := tx.WithdrawalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if wd.Status.IsTerminal() {
			if p.Processed() && wd.Status != model.WithdrawalCompleted {
				s.logger.Error("payout processed for closed withdrawal",
					zap.String("withdrawal", wd.ID),
					zap.String("status", string(wd.Status)),
					zap.String("payout", p.ID),
					zap.String("utr", p.UTR))
			}
			return nil
		}

		changed := false
		if wd.PayoutID == "" && p.ID != "" {
			wd.PayoutID = p.ID
			changed = true
		}

		now := s.now()
		switch {
		case p.Processed():
			if err := ledger.CompleteWithdrawal(wd, p.UTR, now); err != nil {
				return err
			}
		case p.Failed():
			reason := p.FailureReason
			if reason == "" {
				reason = "payout " + p.Status
			}
			e, err := ledger.FailWithdrawal(wd, reason, now)
			if err != nil {
				return err
			}
			if err := s.reverse(ctx, tx, wd.OwnerID, e); err != nil {
				return err
			}
		case wd.Status == model.WithdrawalRequested:
			if err := ledger.StartProcessing(wd, p.ID); err != nil {
				return err
			}
		case !changed:
			return nil
		}

		if err := tx.SaveWithdrawal(ctx, wd); err != nil {
			return err
		}
		s.logger.Info("withdrawal status updated",
			zap.String("withdrawal", wd.ID),
			zap.String("status", string(wd.Status)),
			zap.String("payout", wd.PayoutID))
		return nil
	})
}
