package repository

import (
	"time"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneCart(c *model.Cart) *model.Cart {
	cp := *c
	cp.Lines = make([]model.CartLine, len(c.Lines))
	for i, l := range c.Lines {
		if l.DiscountedUnitPrice != nil {
			v := *l.DiscountedUnitPrice
			l.DiscountedUnitPrice = &v
		}
		cp.Lines[i] = l
	}
	return &cp
}

func cloneCoupon(c *model.Coupon) *model.Coupon {
	cp := *c
	if c.MinCartTotal != nil {
		v := *c.MinCartTotal
		cp.MinCartTotal = &v
	}
	if c.UsageLimit != nil {
		v := *c.UsageLimit
		cp.UsageLimit = &v
	}
	cp.ValidFrom = cloneTime(c.ValidFrom)
	cp.ValidTo = cloneTime(c.ValidTo)
	return &cp
}

func cloneOrder(o *model.Order) *model.Order {
	cp := *o
	cp.Items = make([]model.OrderItem, len(o.Items))
	for i, it := range o.Items {
		if it.Tracking != nil {
			tr := *it.Tracking
			it.Tracking = &tr
		}
		cp.Items[i] = it
	}
	cp.TrackingUpdates = append([]model.TrackingUpdate(nil), o.TrackingUpdates...)
	cp.ShippedAt = cloneTime(o.ShippedAt)
	cp.DeliveredAt = cloneTime(o.DeliveredAt)
	cp.CancelledAt = cloneTime(o.CancelledAt)
	return &cp
}

func cloneReturn(r *model.ReturnRequest) *model.ReturnRequest {
	cp := *r
	cp.SellerIDs = append([]int64(nil), r.SellerIDs...)
	cp.Items = append([]model.ReturnItem(nil), r.Items...)
	cp.EvidenceImages = append([]string(nil), r.EvidenceImages...)
	cp.RefundedAt = cloneTime(r.RefundedAt)
	return &cp
}

func cloneWithdrawal(wd *model.Withdrawal) *model.Withdrawal {
	cp := *wd
	cp.ProcessedAt = cloneTime(wd.ProcessedAt)
	return &cp
}
