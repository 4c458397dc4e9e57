package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/coupon"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
	"github.com/mmeshcher/partsmart-ledger/internal/pricing"
	"github.com/mmeshcher/partsmart-ledger/internal/repository"
)

var hundred = decimal.NewFromInt(100)

// CartView: корзина с рассчитанными итогами.
type CartView struct {
	UserID     int64            `json:"user_id"`
	Items      []model.CartLine `json:"items"`
	CouponCode string           `json:"coupon_code,omitempty"`
	Totals     pricing.Totals   `json:"totals"`
	// CouponRejection заполняется, если применённый купон перестал подходить и был снят.
	CouponRejection *coupon.Rejection `json:"coupon_rejection,omitempty"`
}

// GetCart возвращает корзину с итогами. Купон, который больше не проходит проверку, снимается.
func (s *Service) GetCart(ctx context.Context, userID int64) (*CartView, error) {
	var view *CartView
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		cart, err := tx.CartForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		hadCoupon := cart.CouponCode != ""

		view, err = s.priceCart(ctx, tx, cart)
		if err != nil {
			return err
		}
		if hadCoupon && cart.CouponCode == "" {
			cart.UpdatedAt = s.now()
			return tx.SaveCart(ctx, cart)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// AddCartItem добавляет товар в корзину. Для уже добавленного товара количество суммируется,
// а данные каталога обновляются.
func (s *Service) AddCartItem(ctx context.Context, userID int64, line model.CartLine) (*CartView, error) {
	if err := validateLine(line); err != nil {
		return nil, err
	}

	return s.mutateCart(ctx, userID, func(cart *model.Cart) error {
		if i, ok := cart.LineIndex(line.ProductID); ok {
			line.Quantity += cart.Lines[i].Quantity
			cart.Lines[i] = line
			return nil
		}
		cart.Lines = append(cart.Lines, line)
		return nil
	})
}

// UpdateCartItem задаёт количество товара. Количество 0 удаляет позицию.
func (s *Service) UpdateCartItem(ctx context.Context, userID, productID int64, quantity int) (*CartView, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", ErrInvalidInput)
	}

	return s.mutateCart(ctx, userID, func(cart *model.Cart) error {
		i, ok := cart.LineIndex(productID)
		if !ok {
			return ErrCartItemNotFound
		}
		if quantity == 0 {
			cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
			return nil
		}
		cart.Lines[i].Quantity = quantity
		return nil
	})
}

// RemoveCartItem удаляет товар из корзины.
func (s *Service) RemoveCartItem(ctx context.Context, userID, productID int64) (*CartView, error) {
	return s.UpdateCartItem(ctx, userID, productID, 0)
}

// ClearCart очищает корзину и снимает купон.
func (s *Service) ClearCart(ctx context.Context, userID int64) (*CartView, error) {
	return s.mutateCart(ctx, userID, func(cart *model.Cart) error {
		cart.Lines = nil
		cart.CouponCode = ""
		return nil
	})
}

// ApplyCoupon применяет купон к корзине, заменяя ранее применённый.
// При отказе корзина не меняется, а причина возвращается как *coupon.Rejection.
func (s *Service) ApplyCoupon(ctx context.Context, userID int64, code string) (*CartView, error) {
	code = coupon.NormalizeCode(code)
	if code == "" {
		return nil, fmt.Errorf("%w: coupon code is required", ErrInvalidInput)
	}

	var view *CartView
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		cart, err := tx.CartForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		_, rej, err := s.evaluateCoupon(ctx, tx, userID, code, pricing.Subtotal(cart.Lines))
		if err != nil {
			return err
		}
		if rej != nil {
			return rej
		}

		cart.CouponCode = code
		cart.UpdatedAt = s.now()
		view, err = s.priceCart(ctx, tx, cart)
		if err != nil {
			return err
		}
		return tx.SaveCart(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// RemoveCoupon снимает купон. Скидка становится нулевой.
func (s *Service) RemoveCoupon(ctx context.Context, userID int64) (*CartView, error) {
	return s.mutateCart(ctx, userID, func(cart *model.Cart) error {
		cart.CouponCode = ""
		return nil
	})
}

// PreviewCoupon проверяет купон для указанной суммы корзины, ничего не сохраняя.
func (s *Service) PreviewCoupon(ctx context.Context, userID int64, code string, cartTotal decimal.Decimal) (coupon.Application, error) {
	var app coupon.Application
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		a, rej, err := s.evaluateCoupon(ctx, tx, userID, coupon.NormalizeCode(code), money.Round(cartTotal))
		if err != nil {
			return err
		}
		if rej != nil {
			return rej
		}
		app = a
		return nil
	})
	if err != nil {
		return coupon.Application{}, err
	}
	return app, nil
}

// CreateCoupon выпускает новый купон. Доступно только администратору.
func (s *Service) CreateCoupon(ctx context.Context, actor model.Actor, c model.Coupon) (*model.Coupon, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	c.Code = coupon.NormalizeCode(c.Code)
	if c.DiscountType == "" {
		c.DiscountType = model.DiscountFixed
	}
	c.UsedCount = 0

	var problems []string
	if c.Code == "" {
		problems = append(problems, "code is required")
	}
	switch c.DiscountType {
	case model.DiscountFixed:
		if !positive(c.DiscountAmount) {
			problems = append(problems, "discount_amount must be positive")
		}
		c.DiscountAmount = money.Round(c.DiscountAmount)
	case model.DiscountPercentage:
		if !positive(c.DiscountPercent) || c.DiscountPercent.GreaterThan(hundred) {
			problems = append(problems, "discount_percent must be in (0, 100]")
		}
		c.DiscountPercent = money.Round(c.DiscountPercent)
	default:
		problems = append(problems, "unknown discount_type")
	}
	if c.MinCartTotal != nil && c.MinCartTotal.IsNegative() {
		problems = append(problems, "min_cart_total must not be negative")
	}
	if c.ValidFrom != nil && c.ValidTo != nil && c.ValidTo.Before(*c.ValidFrom) {
		problems = append(problems, "valid_to is before valid_from")
	}
	if c.UsageLimit != nil && *c.UsageLimit < 1 {
		problems = append(problems, "usage_limit must be at least 1")
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}

	if err := s.repo.CreateCoupon(ctx, &c); err != nil {
		return nil, err
	}
	s.logger.Info("coupon created", zap.String("code", c.Code), zap.Int64("adminID", actor.UserID))
	return &c, nil
}

// mutateCart изменяет корзину и перепроверяет купон относительно новой суммы.
func (s *Service) mutateCart(ctx context.Context, userID int64, fn func(cart *model.Cart) error) (*CartView, error) {
	var view *CartView
	err := s.repo.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		cart, err := tx.CartForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(cart); err != nil {
			return err
		}

		cart.UpdatedAt = s.now()
		view, err = s.priceCart(ctx, tx, cart)
		if err != nil {
			return err
		}
		return tx.SaveCart(ctx, cart)
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// priceCart рассчитывает итоги. Если купон больше не подходит, он снимается с корзины.
func (s *Service) priceCart(ctx context.Context, tx repository.Tx, cart *model.Cart) (*CartView, error) {
	view := &CartView{
		UserID: cart.UserID,
		Items:  make([]model.CartLine, len(cart.Lines)),
	}
	copy(view.Items, cart.Lines)

	discount := decimal.Zero
	if cart.CouponCode != "" {
		app, rej, err := s.evaluateCoupon(ctx, tx, cart.UserID, cart.CouponCode, pricing.Subtotal(cart.Lines))
		if err != nil {
			return nil, err
		}
		if rej != nil {
			cart.CouponCode = ""
			view.CouponRejection = rej
		} else {
			discount = app.DiscountAmount
		}
	}

	view.CouponCode = cart.CouponCode
	view.Totals = s.pricing.Calculate(cart.Lines, discount)
	return view, nil
}

func (s *Service) evaluateCoupon(ctx context.Context, tx repository.Tx, userID int64, code string, subtotal decimal.Decimal) (coupon.Application, *coupon.Rejection, error) {
	c, err := tx.Coupon(ctx, code)
	if err != nil {
		if !errors.Is(err, repository.ErrCouponNotFound) {
			return coupon.Application{}, nil, err
		}
		c = nil
	}

	used := false
	if c != nil {
		used, err = tx.CouponRedeemed(ctx, code, userID)
		if err != nil {
			return coupon.Application{}, nil, err
		}
	}

	app, rej := s.coupons.Apply(code, c, used, subtotal)
	return app, rej, nil
}

func validateLine(l model.CartLine) error {
	var problems []string
	if l.ProductID <= 0 {
		problems = append(problems, "product_id is required")
	}
	if l.SellerID <= 0 {
		problems = append(problems, "seller_id is required")
	}
	if l.Quantity < 1 {
		problems = append(problems, "quantity must be at least 1")
	}
	if !positive(l.UnitPrice) || !money.Round(l.UnitPrice).Equal(l.UnitPrice) {
		problems = append(problems, "unit_price must be positive with at most 2 decimal places")
	}
	if l.DiscountedUnitPrice != nil {
		d := *l.DiscountedUnitPrice
		if d.IsNegative() || d.GreaterThan(l.UnitPrice) || !money.Round(d).Equal(d) {
			problems = append(problems, "discounted_unit_price must be between 0 and unit_price")
		}
	}
	if l.TaxRatePercent.IsNegative() || l.TaxRatePercent.GreaterThan(hundred) {
		problems = append(problems, "tax_rate_percent must be between 0 and 100")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}
