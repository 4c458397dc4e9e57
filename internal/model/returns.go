package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReturnStatus описывает статус заявки на возврат.
type ReturnStatus string

const (
	ReturnRequested       ReturnStatus = "REQUESTED"
	ReturnApproved        ReturnStatus = "APPROVED"
	ReturnPickupScheduled ReturnStatus = "PICKUP_SCHEDULED"
	ReturnInTransit       ReturnStatus = "IN_TRANSIT"
	ReturnReceived        ReturnStatus = "RECEIVED"
	ReturnInspected       ReturnStatus = "INSPECTED"
	ReturnCompleted       ReturnStatus = "COMPLETED"
	ReturnRejected        ReturnStatus = "REJECTED"
	ReturnCancelled       ReturnStatus = "CANCELLED"
)

// IsTerminal сообщает, что заявка больше не может менять статус.
func (s ReturnStatus) IsTerminal() bool {
	return s == ReturnCompleted || s == ReturnRejected || s == ReturnCancelled
}

// ReturnReason: причина возврата.
type ReturnReason string

const (
	ReasonDefective      ReturnReason = "DEFECTIVE"
	ReasonWrongItem      ReturnReason = "WRONG_ITEM"
	ReasonNotAsDescribed ReturnReason = "NOT_AS_DESCRIBED"
	ReasonSizeIssue      ReturnReason = "SIZE_ISSUE"
	ReasonQualityIssue   ReturnReason = "QUALITY_ISSUE"
	ReasonChangedMind    ReturnReason = "CHANGED_MIND"
	ReasonBetterPrice    ReturnReason = "BETTER_PRICE"
	ReasonOther          ReturnReason = "OTHER"
)

// Valid сообщает, является ли причина известной.
func (r ReturnReason) Valid() bool {
	switch r {
	case ReasonDefective, ReasonWrongItem, ReasonNotAsDescribed, ReasonSizeIssue,
		ReasonQualityIssue, ReasonChangedMind, ReasonBetterPrice, ReasonOther:
		return true
	}
	return false
}

// RequiresEvidence сообщает, что для причины обязательны фотографии.
func (r ReturnReason) RequiresEvidence() bool {
	return r == ReasonDefective || r == ReasonWrongItem || r == ReasonNotAsDescribed
}

// InspectionResult: итог проверки возвращённого товара.
type InspectionResult string

const (
	InspectionPending  InspectionResult = "PENDING"
	InspectionApproved InspectionResult = "APPROVED"
	InspectionRejected InspectionResult = "REJECTED"
	InspectionPartial  InspectionResult = "PARTIAL"
)

// RefundMethod: способ возврата денег.
type RefundMethod string

const (
	RefundToWallet          RefundMethod = "WALLET"
	RefundToOriginalPayment RefundMethod = "ORIGINAL_PAYMENT"
)

// ReturnItem: возвращаемая позиция заказа.
type ReturnItem struct {
	OrderItemID int64 `json:"order_item_id"`
	Quantity    int   `json:"quantity"`
}

// ReturnRequest: заявка покупателя на возврат товара.
type ReturnRequest struct {
	ID                   string           `json:"id"`
	OrderID              string           `json:"order_id"`
	CustomerID           int64            `json:"customer_id"`
	SellerIDs            []int64          `json:"seller_ids"`
	Items                []ReturnItem     `json:"items"`
	Reason               ReturnReason     `json:"reason"`
	Description          string           `json:"description"`
	EvidenceImages       []string         `json:"evidence_images"`
	Status               ReturnStatus     `json:"status"`
	InspectionResult     InspectionResult `json:"inspection_result"`
	InspectionNotes      string           `json:"inspection_notes,omitempty"`
	RejectionReason      string           `json:"rejection_reason,omitempty"`
	ReturnTrackingNumber string           `json:"return_tracking_number,omitempty"`
	RefundAmount         decimal.Decimal  `json:"refund_amount"`
	RefundMethod         RefundMethod     `json:"refund_method,omitempty"`
	RefundReference      string           `json:"refund_reference,omitempty"`
	FraudScore           int              `json:"fraud_score"`
	Flagged              bool             `json:"flagged"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
	RefundedAt           *time.Time       `json:"refunded_at,omitempty"`
}

// HasSeller сообщает, что заявка касается товара указанного продавца.
func (r *ReturnRequest) HasSeller(sellerID int64) bool {
	for _, id := range r.SellerIDs {
		if id == sellerID {
			return true
		}
	}
	return false
}
