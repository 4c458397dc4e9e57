package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/partsmart-ledger/internal/coupon"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
)

func createCoupon(t *testing.T, svc *Service, code, amount, minTotal string) {
	t.Helper()
	c := model.Coupon{Code: code, DiscountAmount: money.MustParse(amount), Active: true}
	if minTotal != "" {
		m := money.MustParse(minTotal)
		c.MinCartTotal = &m
	}
	_, err := svc.CreateCoupon(context.Background(), admin, c)
	require.NoError(t, err)
}

func TestCartTotalsWithFreeShipping(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddCartItem(ctx, customer.UserID, line(501, "1000", 2, "18"))
	require.NoError(t, err)

	view, err := svc.GetCart(ctx, customer.UserID)
	require.NoError(t, err)
	assert.Equal(t, "2000.00", view.Totals.Subtotal.StringFixed(2))
	assert.Equal(t, "360.00", view.Totals.Tax.StringFixed(2))
	assert.Equal(t, "0.00", view.Totals.Shipping.StringFixed(2))
	assert.Equal(t, "2360.00", view.Totals.GrandTotal.StringFixed(2))
}

func TestApplyCouponReducesGrandTotal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	createCoupon(t, svc, "save200", "200", "")

	_, err := svc.AddCartItem(ctx, customer.UserID, line(501, "1000", 2, "18"))
	require.NoError(t, err)

	view, err := svc.ApplyCoupon(ctx, customer.UserID, "SAVE200")
	require.NoError(t, err)
	assert.Equal(t, "SAVE200", view.CouponCode)
	assert.Equal(t, "200.00", view.Totals.Discount.StringFixed(2))
	assert.Equal(t, "2160.00", view.Totals.GrandTotal.StringFixed(2))
}

func TestAddCartItemMergesQuantity(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddCartItem(ctx, customer.UserID, line(501, "100", 1, "0"))
	require.NoError(t, err)
	view, err := svc.AddCartItem(ctx, customer.UserID, line(501, "100", 2, "0"))
	require.NoError(t, err)

	require.Len(t, view.Items, 1)
	assert.Equal(t, 3, view.Items[0].Quantity)
}

func TestUpdateCartItem(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddCartItem(ctx, customer.UserID, line(501, "100", 1, "0"))
	require.NoError(t, err)

	_, err = svc.UpdateCartItem(ctx, customer.UserID, 501, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.UpdateCartItem(ctx, customer.UserID, 999, 1)
	assert.ErrorIs(t, err, ErrCartItemNotFound)

	view, err := svc.UpdateCartItem(ctx, customer.UserID, 501, 0)
	require.NoError(t, err)
	assert.Empty(t, view.Items, "quantity 0 must remove the line")
	assert.True(t, view.Totals.GrandTotal.IsZero())
}

func TestCouponRevalidatedOnCartMutation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	createCoupon(t, svc, "BIG", "150", "1500")

	_, err := svc.AddCartItem(ctx, customer.UserID, line(501, "1000", 2, "0"))
	require.NoError(t, err)
	_, err = svc.ApplyCoupon(ctx, customer.UserID, "BIG")
	require.NoError(t, err)

	view, err := svc.UpdateCartItem(ctx, customer.UserID, 501, 1)
	require.NoError(t, err)
	assert.Empty(t, view.CouponCode)
	assert.True(t, view.Totals.Discount.IsZero(), "stale discount must not survive a cart change")
	require.NotNil(t, view.CouponRejection)
	assert.Equal(t, coupon.ReasonBelowMinimumCartTotal, view.CouponRejection.Reason)

	view, err = svc.GetCart(ctx, customer.UserID)
	require.NoError(t, err)
	assert.Empty(t, view.CouponCode)
}

func TestApplyCouponRejections(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	createCoupon(t, svc, "MIN5K", "100", "5000")

	_, err := svc.AddCartItem(ctx, customer.UserID, line(501, "1000", 1, "0"))
	require.NoError(t, err)

	tests := []struct {
		code string
		want coupon.Reason
	}{
		{"NOPE", coupon.ReasonCodeNotFound},
		{"MIN5K", coupon.ReasonBelowMinimumCartTotal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			_, err := svc.ApplyCoupon(ctx, customer.UserID, tt.code)
			var rej *coupon.Rejection
			if !errors.As(err, &rej) {
				t.Fatalf("err = %v, want *coupon.Rejection", err)
			}
			assert.Equal(t, tt.want, rej.Reason)
		})
	}
}

func TestPreviewCoupon(t *testing.T) {
	svc, _, _ := newTestService(t)
	createCoupon(t, svc, "SAVE200", "200", "")

	app, err := svc.PreviewCoupon(context.Background(), customer.UserID, "save200", money.MustParse("2000"))
	require.NoError(t, err)
	assert.Equal(t, "SAVE200", app.Code)
	assert.Equal(t, "200.00", app.DiscountAmount.StringFixed(2))
}

func TestCreateCouponRequiresAdmin(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateCoupon(context.Background(), customer, model.Coupon{Code: "X", DiscountAmount: money.MustParse("1"), Active: true})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.CreateCoupon(context.Background(), admin, model.Coupon{Code: "P", DiscountType: model.DiscountPercentage, DiscountPercent: money.MustParse("120")})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
