package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mmeshcher/partsmart-ledger/internal/ledger"
	"github.com/mmeshcher/partsmart-ledger/internal/model"
	"github.com/mmeshcher/partsmart-ledger/internal/money"
	"github.com/mmeshcher/partsmart-ledger/internal/payout"
)

func TestWithdrawalReservesFullBalance(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	fund(t, svc, seller.UserID, "500")

	wd, err := svc.RequestWithdrawal(ctx, seller, money.MustParse("500"), testBank)
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalRequested, wd.Status)
	assert.NotEmpty(t, wd.DebitTransactionID)
	assert.Equal(t, "0.00", balance(t, svc, seller.UserID))

	for _, amount := range []string{"0.01", "100", "500"} {
		_, err = svc.RequestWithdrawal(ctx, seller, money.MustParse(amount), testBank)
		if !errors.Is(err, ledger.ErrInsufficientFunds) {
			t.Fatalf("amount %s: err = %v, want ErrInsufficientFunds", amount, err)
		}
	}

	txs, err := svc.GetTransactions(ctx, seller.UserID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, model.TransactionDebit, txs[1].Type)
	assert.Equal(t, model.SourceWithdrawal, txs[1].Source)
	assert.Equal(t, wd.ID, txs[1].WithdrawalID)
}

func TestWithdrawalRules(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	fund(t, svc, seller.UserID, "1000")

	_, err := svc.RequestWithdrawal(ctx, seller, money.MustParse("99.99"), testBank)
	assert.ErrorIs(t, err, ledger.ErrBelowMinimum)

	bad := testBank
	bad.IFSC = "HDFC1234"
	_, err = svc.RequestWithdrawal(ctx, seller, money.MustParse("200"), bad)
	assert.ErrorIs(t, err, ledger.ErrInvalidBankDetails)

	_, err = svc.RequestWithdrawal(ctx, seller, money.MustParse("200.001"), testBank)
	assert.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, repo.SetWalletFlags(ctx, seller.UserID, false, false))
	_, err = svc.RequestWithdrawal(ctx, seller, money.MustParse("200"), testBank)
	assert.ErrorIs(t, err, ledger.ErrWalletInactive)

	_, err = svc.SetWalletStatus(ctx, customer, seller.UserID, true, true)
	assert.ErrorIs(t, err, ErrForbidden)
	w, err := svc.SetWalletStatus(ctx, admin, seller.UserID, true, true)
	require.NoError(t, err)
	assert.True(t, w.IsLocked)
	_, err = svc.RequestWithdrawal(ctx, seller, money.MustParse("200"), testBank)
	assert.ErrorIs(t, err, ledger.ErrWalletLocked)

	assert.Equal(t, "1000.00", balance(t, svc, seller.UserID))
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	fund(t, svc, seller.UserID, "500")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RequestWithdrawal(ctx, seller, money.MustParse("300"), testBank)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ledger.ErrInsufficientFunds):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, rejected)
	assert.Equal(t, "200.00", balance(t, svc, seller.UserID))

	v, err := svc.VerifyWallet(ctx, seller.UserID)
	require.NoError(t, err)
	assert.True(t, v.Consistent)
	assert.Equal(t, 2, v.TransactionCount)
}

func TestRejectWithdrawalPostsReversal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	fund(t, svc, seller.UserID, "500")

	wd, err := svc.RequestWithdrawal(ctx, seller, money.MustParse("300"), testBank)
	require.NoError(t, err)

	_, err = svc.RejectWithdrawal(ctx, seller, wd.ID, "suspicious")
	assert.ErrorIs(t, err, ErrForbidden)

	rejected, err := svc.RejectWithdrawal(ctx, admin, wd.ID, "bank account closed")
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalRejected, rejected.Status)
	assert.Equal(t, "500.00", balance(t, svc, seller.UserID))

	_, err = svc.CompleteWithdrawal(ctx, admin, wd.ID, "UTR1")
	assert.ErrorIs(t, err, ledger.ErrInvalidWithdrawalTransition)

	txs, err := svc.GetTransactions(ctx, seller.UserID)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, model.SourceAdjustment, txs[2].Source)
	assert.Equal(t, model.TransactionCredit, txs[2].Type)
}

func TestCompleteWithdrawalManually(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	fund(t, svc, seller.UserID, "500")

	wd, err := svc.RequestWithdrawal(ctx, seller, money.MustParse("250"), testBank)
	require.NoError(t, err)

	_, err = svc.CompleteWithdrawal(ctx, admin, wd.ID, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	done, err := svc.CompleteWithdrawal(ctx, admin, wd.ID, "UTR42")
	require.NoError(t, err)
	assert.Equal(t, model.WithdrawalCompleted, done.Status)
	assert.Equal(t, "UTR42", done.UTRNumber)
	require.NotNil(t, done.ProcessedAt)
	assert.Equal(t, "250.00", balance(t, svc, seller.UserID))
}

type stubPayouts struct {
	mu      sync.Mutex
	payouts map[string]*payout.Payout
	created []string
	err     error
	limited bool
	// createErr возвращается из CreatePayout. Если lost, выплата при этом создаётся.
	createErr error
	lost      bool
}

func newStubPayouts() *stubPayouts {
	return &stubPayouts{payouts: make(map[string]*payout.Payout)}
}

func (s *stubPayouts) CreatePayout(_ context.Context, req payout.Request) (*payout.Payout, int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, 0, 0, s.err
	}
	if s.createErr != nil && !s.lost {
		return nil, 0, 0, s.createErr
	}
	s.created = append(s.created, req.Reference)
	p := &payout.Payout{ID: "po_" + req.Reference, Reference: req.Reference, Status: payout.StatusQueued}
	s.payouts[req.Reference] = p
	if s.createErr != nil {
		return nil, 0, 0, s.createErr
	}
	cp := *p
	return &cp, http.StatusCreated, 0, nil
}

func (s *stubPayouts) GetPayout(_ context.Context, reference string) (*payout.Payout, int, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, 0, 0, s.err
	}
	if s.limited {
		return nil, http.StatusTooManyRequests, 0, nil
	}
	p, ok := s.payouts[reference]
	if !ok {
		return nil, http.StatusNotFound, 0, nil
	}
	cp := *p
	return &cp, http.StatusOK, 0, nil
}

func (s *stubPayouts) set(reference, status, utr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.payouts[reference]
	p.Status = status
	p.UTR = utr
}

func withdrawalStatus(t *testing.T, svc *Service, ownerID int64, id string) *model.Withdrawal {
	t.Helper()
	list, err := svc.ListWithdrawals(context.Background(), ownerID)
	require.NoError(t, err)
	for i := range list {
		if list[i].ID == id {
			return &list[i]
		}
	}
	t.Fatalf("withdrawal %s not found", id)
	return nil
}

func TestPayoutBatchCompletesWithdrawal(t *testing.T) {
	svc, _, _ := newTestService(t)
	provider := newStubPayouts()
	svc.payouts = provider
	ctx := context.Background()
	fund(t, svc, seller.UserID, "500")

	wd, err := svc.RequestWithdrawal(ctx, seller, money.MustParse("200"), testBank)
	require.NoError(t, err)

	svc.processPayoutBatch(ctx)
	got := withdrawalStatus(t, svc, seller.UserID, wd.ID)
	assert.Equal(t, model.WithdrawalProcessing, got.Status)
	assert.Equal(t, "po_"+wd.ID, got.PayoutID)

	svc.processPayoutBatch(ctx)
	assert.Len(t, provider.created, 1, "a submitted payout must not be created twice")

	provider.set(wd.ID, payout.StatusProcessed, "UTR777")
	svc.processPayoutBatch(ctx)
	got = withdrawalStatus(t, svc, seller.UserID, wd.ID)
	assert.Equal(t, model.WithdrawalCompleted, got.Status)
	assert.Equal(t, "UTR777", got.UTRNumber)
	assert.Equal(t, "300.00", balance(t, svc, seller.UserID))
}

func TestPayoutBatchFailureReversesFunds(t *testing.T) {
	svc, _, _ := newTestService(t)
	provider := newStubPayouts()
	svc.payouts = provider
	ctx := context.Background()
	fund(t, svc, seller.UserID, "500")

	wd, err := svc.RequestWithdrawal(ctx, seller, money.MustParse("200"), testBank)
	require.NoError(t, err)

	svc.processPayoutBatch(ctx)
	provider.set(wd.ID, payout.StatusReversed, "")
	svc.processPayoutBatch(ctx)

	got := withdrawalStatus(t, svc, seller.UserID, wd.ID)
	assert.Equal(t, model.WithdrawalFailed, got.Status)
	assert.Equal(t, "payout reversed", got.FailureReason)
	assert.Equal(t, "500.00", balance(t, svc, seller.UserID))

	v, err := svc.VerifyWallet(ctx, seller.UserID)
	require.NoError(t, err)
	assert.True(t, v.Consistent)
}

func TestPayoutBatchLeavesUnknownOutcomeUntouched(t *testing.T) {
	svc, _, _ := newTestService(t)
	provider := newStubPayouts()
	provider.err = errors.New("dial tcp: i/o timeout")
	svc.payouts = provider
	ctx := context.Background()
	fund(t, svc, seller.UserID, "500")

	wd, err := svc.RequestWithdrawal(ctx, seller, money.MustParse("200"), testBank)
	require.NoError(t, err)

	svc.processPayoutBatch(ctx)
	got := withdrawalStatus(t, svc, seller.UserID, wd.ID)
	assert.Equal(t, model.WithdrawalRequested, got.Status)
	assert.Equal(t, "300.00", balance(t, svc, seller.UserID), "a transport error is not a failed payout")

	provider.err = nil
	provider.limited = true
	svc.processPayoutBatch(ctx)
	got = withdrawalStatus(t, svc, seller.UserID, wd.ID)
	assert.Equal(t, model.WithdrawalRequested, got.Status)
	assert.Empty(t, provider.created)
}

func TestLostPayoutResponseBlocksRejection(t *testing.T) {
	svc, _, _ := newTestService(t)
	provider := newStubPayouts()
	provider.createErr = context.DeadlineExceeded
	provider.lost = true
	svc.payouts = provider
	ctx := context.Background()
	fund(t, svc, seller.UserID, "500")

	wd, err := svc.RequestWithdrawal(ctx, seller, money.MustParse("200"), testBank)
	require.NoError(t, err)

	svc.processPayoutBatch(ctx)
	got := withdrawalStatus(t, svc, seller.UserID, wd.ID)
	assert.Equal(t, model.WithdrawalProcessing, got.Status)
	assert.Empty(t, got.PayoutID)

	_, err = svc.RejectWithdrawal(ctx, admin, wd.ID, "customer asked to cancel")
	assert.ErrorIs(t, err, ledger.ErrInvalidWithdrawalTransition)
	assert.Equal(t, "300.00", balance(t, svc, seller.UserID))

	provider.createErr = nil
	provider.lost = false
	svc.processPayoutBatch(ctx)
	got = withdrawalStatus(t, svc, seller.UserID, wd.ID)
	assert.Equal(t, "po_"+wd.ID, got.PayoutID)
	assert.Len(t, provider.created, 1)

	provider.set(wd.ID, payout.StatusProcessed, "UTR900")
	svc.processPayoutBatch(ctx)
	got = withdrawalStatus(t, svc, seller.UserID, wd.ID)
	assert.Equal(t, model.WithdrawalCompleted, got.Status)
	assert.Equal(t, "300.00", balance(t, svc, seller.UserID))
}

func TestUnsentPayoutIsResubmitted(t *testing.T) {
	svc, _, _ := newTestService(t)
	provider := newStubPayouts()
	provider.createErr = errors.New("connection reset by peer")
	svc.payouts = provider
	ctx := context.Background()
	fund(t, svc, seller.UserID, "500")

	wd, err := svc.RequestWithdrawal(ctx, seller, money.MustParse("200"), testBank)
	require.NoError(t, err)

	svc.processPayoutBatch(ctx)
	assert.Empty(t, provider.created)
	assert.Equal(t, model.WithdrawalProcessing, withdrawalStatus(t, svc, seller.UserID, wd.ID).Status)

	provider.createErr = nil
	svc.processPayoutBatch(ctx)
	assert.Equal(t, []string{wd.ID}, provider.created)
	assert.Equal(t, "po_"+wd.ID, withdrawalStatus(t, svc, seller.UserID, wd.ID).PayoutID)
}

func TestProcessedPayoutForRejectedWithdrawalIsLogged(t *testing.T) {
	svc, _, _ := newTestService(t)
	core, logs := observer.New(zap.ErrorLevel)
	svc.logger = zap.New(core)
	ctx := context.Background()
	fund(t, svc, seller.UserID, "500")

	wd, err := svc.RequestWithdrawal(ctx, seller, money.MustParse("200"), testBank)
	require.NoError(t, err)
	_, err = svc.RejectWithdrawal(ctx, admin, wd.ID, "bank account closed")
	require.NoError(t, err)

	err = svc.applyPayout(ctx, wd.ID, &payout.Payout{ID: "po_late", Reference: wd.ID, Status: payout.StatusProcessed, UTR: "UTR1"})
	require.NoError(t, err)

	entries := logs.FilterMessage("payout processed for closed withdrawal").All()
	require.Len(t, entries, 1)
	assert.Equal(t, wd.ID, entries[0].ContextMap()["withdrawal"])
	assert.Equal(t, model.WithdrawalRejected, withdrawalStatus(t, svc, seller.UserID, wd.ID).Status)
}
