package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/coupon"
	"github.com/mmeshcher/partsmart-ledger/internal/ledger"
	"github.com/mmeshcher/partsmart-ledger/internal/lifecycle"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
	"github.com/mmeshcher/partsmart-ledger/internal/pricing"
	"github.com/mmeshcher/partsmart-ledger/internal/repository"
)

const recentLimit = 100

// CheckoutRequest: данные для оформления заказа из корзины.
type CheckoutRequest struct {
	AddressID       int64               `json:"address_id"`
	ShippingAddress model.Address       `json:"shipping_address"`
	PaymentMethod   model.PaymentMethod `json:"payment_method"`
}

// CheckoutResult: результат оформления заказа.
type CheckoutResult struct {
	ID              string       `json:"id"`
	OrderID         string       `json:"order_id"`
	PaymentRequired bool         `json:"payment_required"`
	Order           *model.Order `json:"order"`
}

// CreateOrder оформляет заказ из корзины покупателя.
//
// Купон проверяется заново по текущей корзине. Снимок корзины, списание с кошелька,
// использование купона и очистка корзины выполняются в одной транзакции:
// при любой ошибке заказ не создаётся, а корзина остаётся прежней.
func (s *Service) CreateOrder(ctx context.Context, actor model.Actor, req CheckoutRequest) (*CheckoutResult, error) {
	if err := validateCheckout(req); err != nil {
		return nil, err
	}

	var order *model.Order
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		now := s.now()

		cart, err := tx.CartForUpdate(ctx, actor.UserID)
		if err != nil {
			return err
		}
		if cart.IsEmpty() {
			return ErrCartEmpty
		}

		discount := decimal.Zero
		if cart.CouponCode != "" {
			app, rej, err := s.evaluateCoupon(ctx, tx, actor.UserID, cart.CouponCode, pricing.Subtotal(cart.Lines))
			if err != nil {
				return err
			}
			if rej != nil {
				return rej
			}
			discount = app.DiscountAmount
		}

		totals := s.pricing.Calculate(cart.Lines, discount)

		o := &model.Order{
			ID:              newID(),
			HumanID:         newReference("ORD-", 8),
			UserID:          actor.UserID,
			Status:          model.OrderStatusPending,
			PaymentMethod:   req.PaymentMethod,
			PaymentRequired: req.PaymentMethod.RequiresConfirmation(),
			Items:           make([]model.OrderItem, 0, len(cart.Lines)),
			SubtotalAmount:  totals.Subtotal,
			TaxAmount:       totals.Tax,
			ShippingAmount:  totals.Shipping,
			DiscountAmount:  totals.Discount,
			TotalAmount:     totals.GrandTotal,
			CouponCode:      cart.CouponCode,
			ShippingAddress: req.ShippingAddress,
			TrackingUpdates: []model.TrackingUpdate{{Status: model.OrderStatusPending, Note: "order placed", At: now}},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		o.ShippingAddress.ID = req.AddressID

		for i, l := range cart.Lines {
			lt := totals.Lines[i]
			o.Items = append(o.Items, model.OrderItem{
				ID:          int64(i + 1),
				ProductID:   l.ProductID,
				SellerID:    l.SellerID,
				ProductName: l.ProductName,
				Price:       l.EffectiveUnitPrice(),
				Quantity:    l.Quantity,
				Subtotal:    lt.Subtotal,
				TaxAmount:   lt.Tax,
			})
		}

		if req.PaymentMethod == model.PaymentWallet {
			if o.TotalAmount.IsPositive() {
				wt, err := s.post(ctx, tx, actor.UserID,
					ledger.Debit(model.SourceOrderPayment, o.TotalAmount, "payment for order "+o.HumanID).ForOrder(o.ID), now)
				if err != nil {
					return err
				}
				o.PaymentReference = wt.ID
			}
			o.PaymentConfirmed = true
		}

		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}

		if o.CouponCode != "" {
			if err := tx.RedeemCoupon(ctx, o.CouponCode, actor.UserID, o.ID, now); err != nil {
				if errors.Is(err, repository.ErrCouponAlreadyRedeemed) {
					return &coupon.Rejection{
						Code:    o.CouponCode,
						Reason:  coupon.ReasonAlreadyUsedByCustomer,
						Message: "coupon already used by this customer",
					}
				}
				if errors.Is(err, repository.ErrCouponExhausted) {
					return &coupon.Rejection{
						Code:    o.CouponCode,
						Reason:  coupon.ReasonExpired,
						Message: "coupon usage limit reached",
					}
				}
				return err
			}
		}

		cart.Lines = nil
		cart.CouponCode = ""
		cart.UpdatedAt = now
		if err := tx.SaveCart(ctx, cart); err != nil {
			return err
		}

		if err := appendEvent(ctx, tx, o, model.EventOrderCreated, "", actor.UserID, now); err != nil {
			return err
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("order", order.HumanID),
		zap.Int64("userID", actor.UserID),
		zap.String("total", order.TotalAmount.StringFixed(money.Scale)),
		zap.String("payment", string(order.PaymentMethod)))

	return &CheckoutResult{
		ID:              order.ID,
		OrderID:         order.HumanID,
		PaymentRequired: order.PaymentRequired,
		Order:           order,
	}, nil
}

// GetOrder возвращает заказ, если пользователь может его видеть.
func (s *Service) GetOrder(ctx context.Context, actor model.Actor, id string) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, o) {
		return nil, ErrForbidden
	}
	return o, nil
}

// ListOrders возвращает заказы покупателя, заказы с товарами продавца
// или последние заказы площадки для администратора.
func (s *Service) ListOrders(ctx context.Context, actor model.Actor) ([]model.Order, error) {
	switch actor.Role {
	case model.RoleAdmin:
		return s.repo.GetRecentOrders(ctx, recentLimit)
	case model.RoleSeller:
		return s.repo.GetOrdersBySeller(ctx, actor.UserID)
	default:
		return s.repo.GetOrdersByUser(ctx, actor.UserID)
	}
}

// CancelOrder отменяет заказ. Оплаченный заказ возвращает деньги на кошелёк покупателя.
func (s *Service) CancelOrder(ctx context.Context, actor model.Actor, id string, expected model.OrderStatus) (*model.Order, error) {
	return s.updateOrder(ctx, actor, id, expected, canCancel,
		func(ctx context.Context, tx repository.Tx, o *model.Order) error {
			now := s.now()
			if err := lifecycle.Cancel(o, now); err != nil {
				return err
			}
			if !o.IsPaid() || !o.TotalAmount.IsPositive() {
				return nil
			}
			_, err := s.post(ctx, tx, o.UserID,
				ledger.Credit(model.SourceOrderRefund, o.TotalAmount, "refund for cancelled order "+o.HumanID).ForOrder(o.ID), now)
			return err
		})
}

// ConfirmPayment отмечает онлайн-оплату заказа по ссылке платёжного провайдера.
func (s *Service) ConfirmPayment(ctx context.Context, actor model.Actor, id, reference string) (*model.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: payment reference is required", ErrInvalidInput)
	}
	return s.updateOrder(ctx, actor, id, "", canPay,
		func(_ context.Context, _ repository.Tx, o *model.Order) error {
			return lifecycle.ConfirmPayment(o, reference, s.now())
		})
}

// ProcessOrder переводит заказ в обработку.
func (s *Service) ProcessOrder(ctx context.Context, actor model.Actor, id string, expected model.OrderStatus) (*model.Order, error) {
	return s.updateOrder(ctx, actor, id, expected, canFulfil,
		func(_ context.Context, _ repository.Tx, o *model.Order) error {
			return lifecycle.Process(o, s.now())
		})
}

// ShipOrder отправляет заказ. Продавец может указать трек-номера только для своих позиций.
func (s *Service) ShipOrder(ctx context.Context, actor model.Actor, id string, expected model.OrderStatus, req lifecycle.ShipRequest) (*model.Order, error) {
	return s.updateOrder(ctx, actor, id, expected, canFulfil,
		func(_ context.Context, _ repository.Tx, o *model.Order) error {
			if actor.Role == model.RoleSeller {
				for itemID := range req.Items {
					if it, ok := o.Item(itemID); ok && it.SellerID != actor.UserID {
						return ErrForbidden
					}
				}
			}
			return lifecycle.Ship(o, req, s.now())
		})
}

// DeliverOrder отмечает заказ доставленным и один раз рассчитывается с продавцами.
func (s *Service) DeliverOrder(ctx context.Context, actor model.Actor, id string, expected model.OrderStatus) (*model.Order, error) {
	return s.updateOrder(ctx, actor, id, expected, canFulfil,
		func(ctx context.Context, tx repository.Tx, o *model.Order) error {
			now := s.now()
			if err := lifecycle.Deliver(o, now); err != nil {
				return err
			}
			return s.settle(ctx, tx, o)
		})
}

// settle зачисляет продавцам их долю за вычетом комиссии, а платформе комиссию.
func (s *Service) settle(ctx context.Context, tx repository.Tx, o *model.Order) error {
	now := s.now()

	shares := make(map[int64]decimal.Decimal)
	for _, it := range o.Items {
		shares[it.SellerID] = shares[it.SellerID].Add(it.Subtotal)
	}
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
		_, err := s.post(ctx, tx, sellerID,
			ledger.Credit(model.SourceOrderPayment, net, "sale in order "+o.HumanID).ForOrder(o.ID), now)
		if err != nil {
			return fmt.Errorf("credit seller %d: %w", sellerID, err)
		}
	}

	if commission.IsPositive() {
		_, err := s.post(ctx, tx, s.settings.PlatformWalletOwnerID,
			ledger.Credit(model.SourceCommission, commission, "commission for order "+o.HumanID).ForOrder(o.ID), now)
		if err != nil {
			return fmt.Errorf("credit platform commission: %w", err)
		}
	}
	return nil
}

// updateOrder блокирует заказ, проверяет права и ожидаемый статус, применяет fn и пишет событие.
// Чтение статуса и запись выполняются в одной транзакции.
func (s *Service) updateOrder(
	ctx context.Context,
	actor model.Actor,
	id string,
	expected model.OrderStatus,
	allowed func(model.Actor, *model.Order) bool,
	fn func(ctx context.Context, tx repository.Tx, o *model.Order) error,
) (*model.Order, error) {
	var order *model.Order
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		o, err := tx.OrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !allowed(actor, o) {
			return ErrForbidden
		}
		if err := lifecycle.CheckExpected(o, expected); err != nil {
			return err
		}

		prev := o.Status
		paid := o.PaymentConfirmed
		if err := fn(ctx, tx, o); err != nil {
			return err
		}
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}

		now := s.now()
		if o.Status != prev {
			if err := appendEvent(ctx, tx, o, model.EventOrderStatusChanged, prev, actor.UserID, now); err != nil {
				return err
			}
		}
		if !paid && o.PaymentConfirmed {
			if err := appendEvent(ctx, tx, o, model.EventOrderPaid, prev, actor.UserID, now); err != nil {
				return err
			}
		}

		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order updated",
		zap.String("order", order.HumanID),
		zap.String("status", string(order.Status)),
		zap.Int64("actorID", actor.UserID))
	return order, nil
}

func appendEvent(ctx context.Context, tx repository.Tx, o *model.Order, typ string, prev model.OrderStatus, actorID int64, now time.Time) error {
	return tx.AppendOrderEvent(ctx, model.OrderEvent{
		OrderID:        o.ID,
		Type:           typ,
		PreviousStatus: prev,
		Status:         o.Status,
		ActorID:        actorID,
		CreatedAt:      now,
	})
}

func canView(actor model.Actor, o *model.Order) bool {
	return actor.IsAdmin() || o.UserID == actor.UserID || (actor.Role == model.RoleSeller && o.HasSeller(actor.UserID))
}

func canCancel(actor model.Actor, o *model.Order) bool {
	return canView(actor, o)
}

func canPay(actor model.Actor, o *model.Order) bool {
	return actor.IsAdmin() || o.UserID == actor.UserID
}

func canFulfil(actor model.Actor, o *model.Order) bool {
	return actor.IsAdmin() || (actor.Role == model.RoleSeller && o.HasSeller(actor.UserID))
}

func validateCheckout(req CheckoutRequest) error {
	var problems []string
	if !req.PaymentMethod.Valid() {
		problems = append(problems, "unknown payment_method")
	}
	a := req.ShippingAddress
	if strings.TrimSpace(a.FullName) == "" || strings.TrimSpace(a.Street) == "" ||
		strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.PostalCode) == "" {
		problems = append(problems, "shipping_address requires full_name, street, city and postal_code")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}
