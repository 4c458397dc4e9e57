package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/partsmart-ledger/internal/ledger"
	"github.com/mmeshcher/partsmart-ledger/internal/lifecycle"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
	"github.com/mmeshcher/partsmart-ledger/internal/repository"
)

var (
	admin    = model.Actor{UserID: 1, Role: model.RoleAdmin}
	customer = model.Actor{UserID: 10, Role: model.RoleCustomer}
	seller   = model.Actor{UserID: 20, Role: model.RoleSeller}
	stranger = model.Actor{UserID: 30, Role: model.RoleSeller}

	testAddress = model.Address{
		FullName:   "Asha Rao",
		Phone:      "+91 98450 00000",
		Street:     "12 MG Road",
		City:       "Bengaluru",
		State:      "KA",
		PostalCode: "560001",
	}

	testBank = model.BankDetails{
		AccountNumber: "123456789012",
		IFSC:          "HDFC0001234",
		AccountHolder: "Parts Seller",
		BankName:      "HDFC",
	}
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T) (*Service, *repository.MemoryRepository, *testClock) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	svc := NewService(repo, nil, DefaultSettings(), zap.NewNop())
	svc.now = clock.Now
	return svc, repo, clock
}

func line(productID int64, price string, qty int, tax string) model.CartLine {
	return model.CartLine{
		ProductID:      productID,
		ProductName:    "Display assembly",
		SellerID:       seller.UserID,
		UnitPrice:      money.MustParse(price),
		Quantity:       qty,
		TaxRatePercent: money.MustParse(tax),
	}
}

func fund(t *testing.T, svc *Service, ownerID int64, amount string) {
	t.Helper()
	err := svc.repo.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		_, err := svc.post(ctx, tx, ownerID, ledger.Credit(model.SourceAdjustment, money.MustParse(amount), "test funding"), svc.now())
		return err
	})
	require.NoError(t, err)
}

func balance(t *testing.T, svc *Service, ownerID int64) string {
	t.Helper()
	w, err := svc.GetWallet(context.Background(), ownerID)
	require.NoError(t, err)
	return w.Balance.StringFixed(money.Scale)
}

// placeOrder кладёт в корзину одну позицию 1000 x 2 и оформляет заказ.
func placeOrder(t *testing.T, svc *Service, method model.PaymentMethod) *model.Order {
	t.Helper()
	ctx := context.Background()

	_, err := svc.AddCartItem(ctx, customer.UserID, line(501, "1000.00", 2, "18"))
	require.NoError(t, err)

	res, err := svc.CreateOrder(ctx, customer, CheckoutRequest{AddressID: 7, ShippingAddress: testAddress, PaymentMethod: method})
	require.NoError(t, err)
	return res.Order
}

func deliverOrder(t *testing.T, svc *Service, id string) *model.Order {
	t.Helper()
	ctx := context.Background()

	_, err := svc.ProcessOrder(ctx, seller, id, model.OrderStatusPending)
	require.NoError(t, err)
	_, err = svc.ShipOrder(ctx, seller, id, model.OrderStatusProcessing, lifecycle.ShipRequest{
		Tracking: &model.Tracking{TrackingNumber: "TRK-1", CourierName: "BlueDart"},
	})
	require.NoError(t, err)
	o, err := svc.DeliverOrder(ctx, seller, id, model.OrderStatusShipped)
	require.NoError(t, err)
	return o
}
