package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusReturned   OrderStatus = "RETURNED"
)

// Valid сообщает, является ли статус известным.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	}
	return false
}

// PaymentMethod описывает способ оплаты заказа.
type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "COD"
	PaymentCard   PaymentMethod = "CARD"
	PaymentUPI    PaymentMethod = "UPI"
	PaymentWallet PaymentMethod = "WALLET"
)

// Valid сообщает, является ли способ оплаты известным.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCOD, PaymentCard, PaymentUPI, PaymentWallet:
		return true
	}
	return false
}

// RequiresConfirmation сообщает, что оплату подтверждает внешний платёжный провайдер.
func (m PaymentMethod) RequiresConfirmation() bool {
	return m == PaymentCard || m == PaymentUPI
}

// Address: снимок адреса доставки на момент оформления заказа.
type Address struct {
	ID         int64  `json:"id,omitempty"`
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

// Tracking: данные отслеживания отправления.
type Tracking struct {
	TrackingNumber string `json:"tracking_number,omitempty"`
	CourierName    string `json:"courier_name,omitempty"`
}

// HasReference сообщает, что указан трек-номер или служба доставки.
func (t *Tracking) HasReference() bool {
	return t != nil && (t.TrackingNumber != "" || t.CourierName != "")
}

// TrackingUpdate: запись в истории перемещения заказа.
type TrackingUpdate struct {
	Status OrderStatus `json:"status"`
	Note   string      `json:"note,omitempty"`
	At     time.Time   `json:"at"`
}

// OrderItem: снимок позиции корзины на момент покупки.
type OrderItem struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	SellerID    int64           `json:"seller_id"`
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	Tracking    *Tracking       `json:"tracking,omitempty"`
}

// Order: заказ покупателя.
type Order struct {
	ID               string           `json:"id"`
	HumanID          string           `json:"order_id"`
	UserID           int64            `json:"user_id"`
	Status           OrderStatus      `json:"status"`
	PaymentMethod    PaymentMethod    `json:"payment_method"`
	PaymentRequired  bool             `json:"payment_required"`
	PaymentConfirmed bool             `json:"payment_confirmed"`
	PaymentReference string           `json:"payment_reference,omitempty"`
	Items            []OrderItem      `json:"items"`
	SubtotalAmount   decimal.Decimal  `json:"subtotal_amount"`
	TaxAmount        decimal.Decimal  `json:"tax_amount"`
	ShippingAmount   decimal.Decimal  `json:"shipping_amount"`
	DiscountAmount   decimal.Decimal  `json:"discount_amount"`
	TotalAmount      decimal.Decimal  `json:"total_amount"`
	CouponCode       string           `json:"coupon_code,omitempty"`
	ShippingAddress  Address          `json:"shipping_address"`
	TrackingUpdates  []TrackingUpdate `json:"tracking_updates,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	ShippedAt        *time.Time       `json:"shipped_at,omitempty"`
	DeliveredAt      *time.Time       `json:"delivered_at,omitempty"`
	CancelledAt      *time.Time       `json:"cancelled_at,omitempty"`
}

// Cancellable сообщает, можно ли ещё отменить заказ.
func (o *Order) Cancellable() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusProcessing
}

// MarshalJSON добавляет к заказу вычисляемый признак cancellable.
func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		Cancellable bool `json:"cancellable"`
	}{plain(o), o.Cancellable()})
}

// IsPaid сообщает, что деньги за заказ получены.
func (o *Order) IsPaid() bool {
	return o.PaymentConfirmed
}

// HasSeller сообщает, что в заказе есть товар указанного продавца.
func (o *Order) HasSeller(sellerID int64) bool {
	for _, it := range o.Items {
		if it.SellerID == sellerID {
			return true
		}
	}
	return false
}

// Item возвращает позицию заказа по идентификатору.
func (o *Order) Item(id int64) (*OrderItem, bool) {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// OrderEvent: событие изменения заказа для публикации через outbox.
type OrderEvent struct {
	ID             int64       `json:"id"`
	OrderID        string      `json:"order_id"`
	Type           string      `json:"type"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	Status         OrderStatus `json:"status"`
	ActorID        int64       `json:"actor_id"`
	CreatedAt      time.Time   `json:"created_at"`
}

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status.changed"
	EventOrderPaid          = "order.paid"
)
