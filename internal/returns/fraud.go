package returns

import (
	"time"

	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
)

// FlagThreshold: оценка риска, начиная с которой заявка помечается для ручной проверки.
const FlagThreshold = 50

var highValueOrder = money.MustParse("10000")

// FraudScore оценивает риск злоупотребления возвратом по шкале 0..100.
func FraudScore(o *model.Order, r *model.ReturnRequest, now time.Time) int {
	score := 0

	if o.DeliveredAt != nil && now.Sub(*o.DeliveredAt) < 24*time.Hour {
		score += 20
	}

	if r.Reason == model.ReasonChangedMind || r.Reason == model.ReasonBetterPrice {
		score += 10
	}

	if r.Reason.RequiresEvidence() && len(r.EvidenceImages) == 0 {
		score += 25
	}

	if o.TotalAmount.GreaterThan(highValueOrder) {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}
