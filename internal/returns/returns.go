// Package returns описывает заявки на возврат: проверку при создании,
// конечный автомат статусов и расчёт суммы возврата.
package returns

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
)

// MinDescriptionLength: минимальная длина описания причины возврата.
const MinDescriptionLength = 10

// DefaultWindowDays: срок, в течение которого после доставки можно оформить возврат.
const DefaultWindowDays = 3

var (
	ErrNotDelivered      = errors.New("order is not delivered")
	ErrWindowExpired     = errors.New("return window has expired")
	ErrDuplicateReturn   = errors.New("return already requested for order item")
	ErrUnknownItem       = errors.New("item does not belong to order")
	ErrQuantityExceeded  = errors.New("return quantity exceeds purchased quantity")
	ErrInvalidTransition = errors.New("invalid return status transition")
	// ErrNothingToRefund возвращается при попытке завершить возврат, проверка которого не одобрила выплату.
	ErrNothingToRefund = errors.New("inspection did not approve a refund")
	// ErrInvalidRefundAmount возвращается, если частичная сумма вне диапазона (0, полная сумма].
	ErrInvalidRefundAmount = errors.New("invalid partial refund amount")
	ErrRefundNotRecorded   = errors.New("refund instruction missing")
)

// Policy содержит правила оформления возврата.
type Policy struct {
	WindowDays int
}

// DefaultPolicy возвращает правила по умолчанию.
func DefaultPolicy() Policy {
	return Policy{WindowDays: DefaultWindowDays}
}

// Deadline возвращает последний момент, когда ещё можно оформить возврат.
func (p Policy) Deadline(deliveredAt time.Time) time.Time {
	return deliveredAt.Add(time.Duration(p.WindowDays) * 24 * time.Hour)
}

// WithinWindow сообщает, открыто ли окно возврата. Граница включительная:
// ровно через WindowDays суток после доставки возврат ещё возможен.
func (p Policy) WithinWindow(deliveredAt, now time.Time) bool {
	return !now.After(p.Deadline(deliveredAt))
}

// Submission: данные заявки на возврат от покупателя.
type Submission struct {
	OrderID        string             `json:"order_id"`
	Items          []model.ReturnItem `json:"items"`
	Reason         model.ReturnReason `json:"reason"`
	Description    string             `json:"description"`
	EvidenceImages []string           `json:"images"`
}

// FieldError: ошибка проверки одного поля заявки.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors: список ошибок проверки заявки.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, fe := range v {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "invalid return request: " + strings.Join(parts, "; ")
}

// Validate проверяет заявку без обращения к заказу. Возвращает nil, если ошибок нет.
func Validate(s Submission) ValidationErrors {
	var errs ValidationErrors

	if strings.TrimSpace(s.OrderID) == "" {
		errs = append(errs, FieldError{Field: "order_id", Message: "order is required"})
	}

	if !s.Reason.Valid() {
		errs = append(errs, FieldError{Field: "reason", Message: "unknown return reason"})
	}

	if len([]rune(strings.TrimSpace(s.Description))) < MinDescriptionLength {
		errs = append(errs, FieldError{
			Field:   "description",
			Message: fmt.Sprintf("description must be at least %d characters", MinDescriptionLength),
		})
	}

	if s.Reason.RequiresEvidence() && countImages(s.EvidenceImages) == 0 {
		errs = append(errs, FieldError{Field: "images", Message: "at least one evidence image is required for this reason"})
	}

	if len(s.Items) == 0 {
		errs = append(errs, FieldError{Field: "items", Message: "at least one item is required"})
	}

	seen := make(map[int64]struct{}, len(s.Items))
	for _, it := range s.Items {
		if it.Quantity < 1 {
			errs = append(errs, FieldError{Field: "items", Message: fmt.Sprintf("item %d: quantity must be at least 1", it.OrderItemID)})
		}
		if _, dup := seen[it.OrderItemID]; dup {
			errs = append(errs, FieldError{Field: "items", Message: fmt.Sprintf("item %d listed twice", it.OrderItemID)})
		}
		seen[it.OrderItemID] = struct{}{}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func countImages(images []string) int {
	n := 0
	for _, img := range images {
		if strings.TrimSpace(img) != "" {
			n++
		}
	}
	return n
}

// CheckEligibility проверяет заявку относительно заказа и уже открытых возвратов.
func (p Policy) CheckEligibility(o *model.Order, items []model.ReturnItem, open []model.ReturnRequest, now time.Time) error {
	if o.Status != model.OrderStatusDelivered || o.DeliveredAt == nil {
		return fmt.Errorf("%w: status %s", ErrNotDelivered, o.Status)
	}

	if !p.WithinWindow(*o.DeliveredAt, now) {
		return fmt.Errorf("%w: returns accepted until %s", ErrWindowExpired, p.Deadline(*o.DeliveredAt).Format(time.RFC3339))
	}

	for _, it := range items {
		oi, ok := o.Item(it.OrderItemID)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownItem, it.OrderItemID)
		}
		if it.Quantity > oi.Quantity {
			return fmt.Errorf("%w: item %d, purchased %d", ErrQuantityExceeded, it.OrderItemID, oi.Quantity)
		}
	}

	for _, r := range open {
		if r.Status.IsTerminal() {
			continue
		}
		for _, existing := range r.Items {
			for _, it := range items {
				if existing.OrderItemID == it.OrderItemID {
					return fmt.Errorf("%w: item %d in return %s", ErrDuplicateReturn, it.OrderItemID, r.ID)
				}
			}
		}
	}

	return nil
}

// New создаёт заявку в статусе REQUESTED.
func New(id string, customerID int64, o *model.Order, s Submission, now time.Time) *model.ReturnRequest {
	items := make([]model.ReturnItem, len(s.Items))
	copy(items, s.Items)

	var sellers []int64
	seen := make(map[int64]struct{})
	for _, it := range items {
		if oi, ok := o.Item(it.OrderItemID); ok {
			if _, dup := seen[oi.SellerID]; !dup {
				seen[oi.SellerID] = struct{}{}
				sellers = append(sellers, oi.SellerID)
			}
		}
	}

	images := make([]string, 0, len(s.EvidenceImages))
	for _, img := range s.EvidenceImages {
		if strings.TrimSpace(img) != "" {
			images = append(images, img)
		}
	}

	r := &model.ReturnRequest{
		ID:               id,
		OrderID:          o.ID,
		CustomerID:       customerID,
		SellerIDs:        sellers,
		Items:            items,
		Reason:           s.Reason,
		Description:      strings.TrimSpace(s.Description),
		EvidenceImages:   images,
		Status:           model.ReturnRequested,
		InspectionResult: model.InspectionPending,
		RefundAmount:     decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.FraudScore = FraudScore(o, r, now)
	r.Flagged = r.FraudScore >= FlagThreshold
	return r
}

// FullRefundAmount возвращает стоимость возвращаемых позиций по ценам покупки.
func FullRefundAmount(r *model.ReturnRequest, o *model.Order) decimal.Decimal {
	total := decimal.Zero
	for _, it := range r.Items {
		if oi, ok := o.Item(it.OrderItemID); ok {
			total = total.Add(money.Round(oi.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))))
		}
	}
	return total
}
