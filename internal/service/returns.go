package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/ledger"
	"github.com/mmeshcher/partsmart-ledger/internal/lifecycle"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
	"github.com/mmeshcher/partsmart-ledger/internal/repository"
	"github.com/mmeshcher/partsmart-ledger/internal/returns"
)

// InspectionInput: результат проверки возвращённого товара.
type InspectionInput struct {
	Result        model.InspectionResult `json:"result"`
	PartialAmount decimal.Decimal        `json:"partial_amount"`
	Notes         string                 `json:"notes"`
}

// SubmitReturn создаёт заявку на возврат.
// Ошибки заполнения возвращаются как returns.ValidationErrors до обращения к хранилищу.
func (s *Service) SubmitReturn(ctx context.Context, actor model.Actor, sub returns.Submission) (*model.ReturnRequest, error) {
	if errs := returns.Validate(sub); errs != nil {
		return nil, errs
	}

	var created *model.ReturnRequest
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.now()

		o, err := tx.OrderForUpdate(ctx, sub.OrderID)
		if err != nil {
			return err
		}
		if o.UserID != actor.UserID {
			return ErrForbidden
		}

		existing, err := tx.ReturnsForOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		if err := s.returns.CheckEligibility(o, sub.Items, existing, now); err != nil {
			return err
		}

		r := returns.New(newID(), actor.UserID, o, sub, now)
		if err := tx.InsertReturn(ctx, r); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created.Flagged {
		s.logger.Warn("return request flagged for review",
			zap.String("return", created.ID),
			zap.String("order", created.OrderID),
			zap.Int("fraudScore", created.FraudScore))
	}
	return created, nil
}

// GetReturn возвращает заявку, если пользователь может её видеть.
func (s *Service) GetReturn(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error) {
	r, err := s.repo.GetReturn(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canViewReturn(actor, r) {
		return nil, ErrForbidden
	}
	return r, nil
}

// ListReturns возвращает заявки покупателя, продавца или последние заявки площадки.
func (s *Service) ListReturns(ctx context.Context, actor model.Actor) ([]model.ReturnRequest, error) {
	switch actor.Role {
	case model.RoleAdmin:
		return s.repo.GetRecentReturns(ctx, recentLimit)
	case model.RoleSeller:
		return s.repo.GetReturnsBySeller(ctx, actor.UserID)
	default:
		return s.repo.GetReturnsByCustomer(ctx, actor.UserID)
	}
}

// ApproveReturn одобряет заявку.
func (s *Service) ApproveReturn(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error) {
	return s.updateReturn(ctx, actor, id, canDecideReturn,
		func(_ context.Context, _ repository.Tx, r *model.ReturnRequest) error {
			return returns.Approve(r, s.now())
		})
}

// RejectReturn отклоняет заявку. Причина обязательна.
func (s *Service) RejectReturn(ctx context.Context, actor model.Actor, id, reason string) (*model.ReturnRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrInvalidInput)
	}
	return s.updateReturn(ctx, actor, id, canDecideReturn,
		func(_ context.Context, _ repository.Tx, r *model.ReturnRequest) error {
			return returns.Reject(r, reason, s.now())
		})
}

// ScheduleReturnPickup назначает забор товара с трек-номером обратной доставки.
func (s *Service) ScheduleReturnPickup(ctx context.Context, actor model.Actor, id, trackingNumber string) (*model.ReturnRequest, error) {
	if strings.TrimSpace(trackingNumber) == "" {
		return nil, fmt.Errorf("%w: return tracking number is required", ErrInvalidInput)
	}
	return s.updateReturn(ctx, actor, id, canDecideReturn,
		func(_ context.Context, _ repository.Tx, r *model.ReturnRequest) error {
			return returns.SchedulePickup(r, trackingNumber, s.now())
		})
}

// MarkReturnInTransit отмечает, что товар в пути к продавцу.
func (s *Service) MarkReturnInTransit(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error) {
	return s.updateReturn(ctx, actor, id, canDecideReturn,
		func(_ context.Context, _ repository.Tx, r *model.ReturnRequest) error {
			return returns.MarkInTransit(r, s.now())
		})
}

// MarkReturnReceived отмечает получение товара продавцом.
func (s *Service) MarkReturnReceived(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error) {
	return s.updateReturn(ctx, actor, id, canDecideReturn,
		func(_ context.Context, _ repository.Tx, r *model.ReturnRequest) error {
			return returns.MarkReceived(r, s.now())
		})
}

// InspectReturn фиксирует результат проверки и сумму возврата.
func (s *Service) InspectReturn(ctx context.Context, actor model.Actor, id string, in InspectionInput) (*model.ReturnRequest, error) {
	return s.updateReturn(ctx, actor, id, canDecideReturn,
		func(ctx context.Context, tx repository.Tx, r *model.ReturnRequest) error {
			o, err := tx.OrderForUpdate(ctx, r.OrderID)
			if err != nil {
				return err
			}
			return returns.Inspect(r, o, in.Result, in.PartialAmount, strings.TrimSpace(in.Notes), s.now())
		})
}

// CompleteReturn выплачивает возврат и завершает заявку.
//
// Заказы, оплаченные картой или UPI, получают поручение на возврат исходным способом,
// для остальных деньги зачисляются на кошелёк покупателя. Если по заказу уже был расчёт,
// у продавцов и платформы списывается их доля суммы возврата. Если у кого-то из них
// не хватает средств, заявка не завершается. Списания, поручение, статус COMPLETED
// и перевод заказа в RETURNED записываются в одной транзакции.
func (s *Service) CompleteReturn(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error) {
	return s.updateReturn(ctx, actor, id, canDecideReturn,
		func(ctx context.Context, tx repository.Tx, r *model.ReturnRequest) error {
			now := s.now()
			if err := returns.CheckCompletable(r); err != nil {
				return err
			}

			o, err := tx.OrderForUpdate(ctx, r.OrderID)
			if err != nil {
				return err
			}

			if o.DeliveredAt != nil {
				if err := s.clawback(ctx, tx, r, o, now); err != nil {
					return err
				}
			}

			var instr returns.RefundInstruction
			if o.PaymentMethod.RequiresConfirmation() && o.IsPaid() {
				instr = returns.RefundInstruction{Method: model.RefundToOriginalPayment, Reference: newReference("RFND-", 12)}
			} else {
				wt, err := s.post(ctx, tx, r.CustomerID,
					ledger.Credit(model.SourceReturnRefund, r.RefundAmount, "refund for return on order "+o.HumanID).ForOrder(o.ID), now)
				if err != nil {
					return err
				}
				instr = returns.RefundInstruction{Method: model.RefundToWallet, Reference: wt.ID}
			}

			if err := returns.Complete(r, instr, now); err != nil {
				return err
			}

			if o.Status != model.OrderStatusDelivered {
				return nil
			}
			prev := o.Status
			if err := lifecycle.MarkReturned(o, now); err != nil {
				return err
			}
			if err := tx.SaveOrder(ctx, o); err != nil {
				return err
			}
			return appendEvent(ctx, tx, o, model.EventOrderStatusChanged, prev, actor.UserID, now)
		})
}

// clawback списывает сумму возврата с продавцов и платформы в тех же долях, в которых
// settle зачислил выручку: продавцу чистая часть, платформе комиссия.
// Частичный возврат делится между продавцами пропорционально стоимости их позиций.
func (s *Service) clawback(ctx context.Context, tx repository.Tx, r *model.ReturnRequest, o *model.Order, now time.Time) error {
	shares := refundShares(r, o)
	sellers := make([]int64, 0, len(shares))
	for id := range shares {
		sellers = append(sellers, id)
	}
	sort.Slice(sellers, func(i, j int) bool { return sellers[i] < sellers[j] })

	commission := decimal.Zero
	for _, sellerID := range sellers {
		gross := shares[sellerID]
		fee := money.Round(gross.Mul(s.settings.CommissionRate))
		net := gross.Sub(fee)
		commission = commission.Add(fee)

		if !net.IsPositive() {
			continue
		}
		e := ledger.Debit(model.SourceOrderRefund, net, "refund for return on order "+o.HumanID).ForOrder(o.ID)
		if err := s.reverse(ctx, tx, sellerID, e); err != nil {
			return fmt.Errorf("debit seller %d: %w", sellerID, err)
		}
	}

	if commission.IsPositive() {
		e := ledger.Debit(model.SourceOrderRefund, commission, "commission reversal for order "+o.HumanID).ForOrder(o.ID)
		if err := s.reverse(ctx, tx, s.settings.PlatformWalletOwnerID, e); err != nil {
			return fmt.Errorf("debit platform commission: %w", err)
		}
	}
	return nil
}

// refundShares делит RefundAmount между продавцами возвращаемых позиций.
// Остаток от округления достаётся последнему продавцу, сумма долей равна RefundAmount.
func refundShares(r *model.ReturnRequest, o *model.Order) map[int64]decimal.Decimal {
	gross := make(map[int64]decimal.Decimal)
	var order []int64
	for _, it := range r.Items {
		oi, ok := o.Item(it.OrderItemID)
		if !ok {
			continue
		}
		if _, seen := gross[oi.SellerID]; !seen {
			order = append(order, oi.SellerID)
		}
		gross[oi.SellerID] = gross[oi.SellerID].Add(money.Round(oi.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))))
	}

	full := returns.FullRefundAmount(r, o)
	if !full.IsPositive() || r.RefundAmount.Equal(full) {
		return gross
	}

	shares := make(map[int64]decimal.Decimal, len(gross))
	rest := r.RefundAmount
	for i, id := range order {
		if i == len(order)-1 {
			shares[id] = rest
			break
		}
		part := money.Round(r.RefundAmount.Mul(gross[id]).Div(full))
		shares[id] = part
		rest = rest.Sub(part)
	}
	return shares
}

// CancelReturn отменяет заявку по инициативе покупателя.
func (s *Service) CancelReturn(ctx context.Context, actor model.Actor, id string) (*model.ReturnRequest, error) {
	return s.updateReturn(ctx, actor, id, canCancelReturn,
		func(_ context.Context, _ repository.Tx, r *model.ReturnRequest) error {
			return returns.Cancel(r, s.now())
		})
}

func (s *Service) updateReturn(
	ctx context.Context,
	actor model.Actor,
	id string,
	allowed func(model.Actor, *model.ReturnRequest) bool,
	fn func(ctx context.Context, tx repository.Tx, r *model.ReturnRequest) error,
) (*model.ReturnRequest, error) {
	var updated *model.ReturnRequest
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		r, err := tx.ReturnForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !allowed(actor, r) {
			return ErrForbidden
		}
		if err := fn(ctx, tx, r); err != nil {
			return err
		}
		if err := tx.SaveReturn(ctx, r); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("return updated",
		zap.String("return", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.String("refund", updated.RefundAmount.StringFixed(money.Scale)),
		zap.Int64("actorID", actor.UserID))
	return updated, nil
}

func canViewReturn(actor model.Actor, r *model.ReturnRequest) bool {
	return actor.IsAdmin() || r.CustomerID == actor.UserID || (actor.Role == model.RoleSeller && r.HasSeller(actor.UserID))
}

func canDecideReturn(actor model.Actor, r *model.ReturnRequest) bool {
	return actor.IsAdmin() || (actor.Role == model.RoleSeller && r.HasSeller(actor.UserID))
}

func canCancelReturn(actor model.Actor, r *model.ReturnRequest) bool {
	return actor.IsAdmin() || r.CustomerID == actor.UserID
}
