package settlement

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carbon-scribe/settlement-backend/internal/escrow"
	"carbon-scribe/settlement-backend/internal/finality"
	"carbon-scribe/settlement-backend/internal/marketplace"
	"carbon-scribe/settlement-backend/internal/mirror"
	"carbon-scribe/settlement-backend/internal/notifications"
	"carbon-scribe/settlement-backend/internal/registry"
	"carbon-scribe/settlement-backend/pkg/ledger"
)

func TestService_FullSettlementFlow(t *testing.T) {
	e := newEnv(t, envOptions{recordLag: ledger.DefaultRecordLag})
	ctx := context.Background()
	e.associate(t, e.proposer, e.buyer)

	sub, err := e.svc.SubmitProject(ctx, e.proposer, "ipfs://QmProject", ledger.Hbar(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sub.ProjectID)

	review, err := e.svc.ReviewProject(ctx, e.verifier, ReviewRequest{SubmissionTransactionID: sub.TransactionID, Approve: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), review.SerialNumber)
	assert.Equal(t, escrow.ProjectStatusApproved, review.Status)
	assert.Equal(t, e.d.TokenID.String(), review.TokenID)

	listed, err := e.svc.DepositAndList(ctx, e.proposer, 1, ledger.Hbar(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), listed.ListingID)

	for _, payment := range []int64{ledger.Hbar(4), ledger.Hbar(6)} {
		_, err := e.svc.BuyCredit(ctx, e.buyer, 1, payment)
		require.Error(t, err)
		assert.ErrorIs(t, err, marketplace.ErrPaymentMismatch)
		phase, _ := FailedPhase(err)
		assert.Equal(t, PhaseSubmission, phase)
		assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	}

	bought, err := e.svc.BuyCredit(ctx, e.buyer, 1, ledger.Hbar(5))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bought.ListingID)

	_, err = e.svc.BuyCredit(ctx, e.buyer, 1, ledger.Hbar(5))
	assert.ErrorIs(t, err, marketplace.ErrListingInactive)
	assert.Equal(t, http.StatusConflict, StatusCode(err))

	credits, err := e.svc.MyCredits(ctx, e.buyer)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, int64(1), credits[0].SerialNumber)

	before, err := e.svc.Balance(e.proposer)
	require.NoError(t, err)
	claim, err := e.svc.ClaimProceeds(ctx, e.proposer, 1)
	require.NoError(t, err)
	assert.Equal(t, ledger.Hbar(5), claim.Amount)
	after, err := e.svc.Balance(e.proposer)
	require.NoError(t, err)
	assert.Equal(t, before+ledger.Hbar(5), after)

	_, err = e.svc.ClaimProceeds(ctx, e.proposer, 1)
	assert.ErrorIs(t, err, marketplace.ErrAlreadyClaimed)
	assert.Equal(t, http.StatusConflict, StatusCode(err))

	statement, err := e.svc.SalesStatement(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, statement.TotalSales)
	assert.Equal(t, ledger.Hbar(5), statement.GrossVolume)

	assert.Equal(t, []string{
		notifications.EventTokenAssociated,
		notifications.EventTokenAssociated,
		notifications.EventProjectSubmitted,
		notifications.EventSubmissionConfirmed,
		notifications.EventProjectReviewed,
		notifications.EventCreditDeposited,
		notifications.EventCreditListed,
		notifications.EventCreditSold,
		notifications.EventProceedsClaimed,
	}, e.notifier.events())
}

func TestService_SecondApprovalMintsNextSerial(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.associate(t, e.proposer)

	assert.Equal(t, int64(1), e.mintTo(t))
	assert.Equal(t, int64(2), e.mintTo(t))
}

func TestService_RejectedProjectMintsNothing(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	sub, err := e.svc.SubmitProject(ctx, e.proposer, "ipfs://QmProject", 1)
	require.NoError(t, err)
	res, err := e.svc.ReviewProject(ctx, e.verifier, ReviewRequest{ProjectID: sub.ProjectID, Approve: false})
	require.NoError(t, err)
	assert.Equal(t, escrow.ProjectStatusRejected, res.Status)
	assert.Zero(t, res.SerialNumber)

	p, err := e.svc.GetProject(ctx, sub.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, string(escrow.ProjectStatusRejected), p.Status)
	assert.Nil(t, p.MintedSerial)

	_, err = e.svc.ReviewProject(ctx, e.verifier, ReviewRequest{ProjectID: sub.ProjectID, Approve: true})
	assert.ErrorIs(t, err, escrow.ErrProjectNotPending)
	assert.Equal(t, http.StatusConflict, StatusCode(err))
}

func TestService_SubmitProjectRejections(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	t.Run("validation before submission", func(t *testing.T) {
		_, err := e.svc.SubmitProject(ctx, e.proposer, " ", 1)
		assert.ErrorIs(t, err, ErrInvalidRequest)
		_, err = e.svc.SubmitProject(ctx, e.proposer, "ipfs://x", 0)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	})

	t.Run("insufficient balance is a precheck", func(t *testing.T) {
		_, err := e.svc.SubmitProject(ctx, e.proposer, "ipfs://x", ledger.Hbar(1000))
		var pe *PhaseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, PhaseSubmission, pe.Phase)
		assert.Empty(t, pe.TransactionID)
		assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	})
}

func TestService_ReviewRequiresVerifier(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	sub, err := e.svc.SubmitProject(ctx, e.proposer, "ipfs://x", 1)
	require.NoError(t, err)

	_, err = e.svc.ReviewProject(ctx, e.buyer, ReviewRequest{SubmissionTransactionID: sub.TransactionID, Approve: true})
	assert.ErrorIs(t, err, escrow.ErrNotVerifier)
	reason, ok := ledger.RevertReason(err)
	require.True(t, ok)
	assert.Equal(t, "caller is not the verifier", reason)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
}

func TestService_ReviewProjectResolution(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()

	t.Run("malformed transaction id", func(t *testing.T) {
		_, err := e.svc.ReviewProject(ctx, e.verifier, ReviewRequest{SubmissionTransactionID: "not-a-tx", Approve: true})
		assert.ErrorIs(t, err, ledger.ErrMalformedTransactionID)
		var rerr *finality.ResolutionError
		require.ErrorAs(t, err, &rerr)
		assert.Zero(t, rerr.Attempts)
		assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	})

	t.Run("unknown transaction never resolves", func(t *testing.T) {
		start := e.clock.Now()
		_, err := e.svc.ReviewProject(ctx, e.verifier, ReviewRequest{SubmissionTransactionID: "0.0.1003@1700000000.000000001", Approve: true})
		assert.ErrorIs(t, err, finality.ErrRecordUnavailable)
		phase, _ := FailedPhase(err)
		assert.Equal(t, PhaseConfirmation, phase)
		assert.Equal(t, 24*time.Second, e.clock.Now().Sub(start))
		assert.Equal(t, http.StatusGatewayTimeout, StatusCode(err))
	})

	t.Run("rejected submission is not reviewable", func(t *testing.T) {
		receipt, err := e.ledger.Submit(ctx, e.proposer, e.d.Escrow.SubmitProjectCall("ipfs://x", 0))
		require.NoError(t, err)
		require.Error(t, receipt.Err())

		_, err = e.svc.ReviewProject(ctx, e.verifier, ReviewRequest{SubmissionTransactionID: receipt.TransactionID.String(), Approve: true})
		var pe *PhaseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, PhaseSubmission, pe.Phase)
		assert.Equal(t, "resolve submission", pe.Step)
		assert.ErrorIs(t, err, escrow.ErrFeeBelowMinimum)
	})

	t.Run("missing project", func(t *testing.T) {
		_, err := e.svc.ReviewProject(ctx, e.verifier, ReviewRequest{Approve: true})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestService_UnconfirmedSubmissionIsRemembered(t *testing.T) {
	repo := new(MockRepository)
	e := newEnv(t, envOptions{repo: repo, recordLag: time.Minute, maxAttempts: 2})

	repo.On("SaveSubmission", mock.Anything, mock.MatchedBy(func(s *mirror.PendingSubmission) bool {
		return s.Status == mirror.SubmissionUnconfirmed && s.FeePaid == 1 && s.Proposer == e.proposer.String()
	})).Return(nil).Once()

	_, err := e.svc.SubmitProject(context.Background(), e.proposer, "ipfs://x", 1)
	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseConfirmation, pe.Phase)
	assert.NotEmpty(t, pe.TransactionID)
	assert.Equal(t, http.StatusGatewayTimeout, StatusCode(err))

	// accepted even though unconfirmed
	var next uint64
	require.NoError(t, e.ledger.Query(context.Background(), func() error { next = e.d.Escrow.NextProjectID(); return nil }))
	assert.Equal(t, uint64(2), next)
	repo.AssertExpectations(t)
}

func TestService_MirrorFailureDoesNotFailWorkflow(t *testing.T) {
	repo := new(MockRepository)
	e := newEnv(t, envOptions{repo: repo})
	boom := errors.New("database unavailable")

	repo.On("SaveSubmission", mock.Anything, mock.Anything).Return(boom)
	repo.On("GetProject", mock.Anything, uint64(1)).Return(nil, mirror.ErrNotFound)
	repo.On("UpsertProject", mock.Anything, mock.MatchedBy(func(p *mirror.ProjectView) bool {
		return p.ProjectID == 1 && p.SubmitTransactionID != ""
	})).Return(boom)

	res, err := e.svc.SubmitProject(context.Background(), e.proposer, "ipfs://x", 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.ProjectID)
	repo.AssertExpectations(t)
}

func TestService_MirrorWritesAfterReview(t *testing.T) {
	repo := new(MockRepository)
	e := newEnv(t, envOptions{repo: repo})
	ctx := context.Background()
	e.associate(t, e.proposer)

	repo.On("SaveSubmission", mock.Anything, mock.Anything).Return(nil)
	repo.On("GetProject", mock.Anything, uint64(1)).Return(nil, mirror.ErrNotFound).Once()
	repo.On("UpsertProject", mock.Anything, mock.Anything).Return(nil).Once()

	sub, err := e.svc.SubmitProject(ctx, e.proposer, "ipfs://x", 1)
	require.NoError(t, err)

	repo.On("GetProject", mock.Anything, uint64(1)).Return(&mirror.ProjectView{ProjectID: 1, SubmitTransactionID: sub.TransactionID}, nil).Once()
	repo.On("UpsertProject", mock.Anything, mock.MatchedBy(func(p *mirror.ProjectView) bool {
		return p.Status == string(escrow.ProjectStatusApproved) &&
			p.SubmitTransactionID == sub.TransactionID &&
			p.ReviewTransactionID != "" &&
			p.MintedSerial != nil && *p.MintedSerial == 1
	})).Return(nil).Once()
	repo.On("UpsertCredit", mock.Anything, mock.MatchedBy(func(c *mirror.CreditView) bool {
		return c.SerialNumber == 1 && c.Owner == e.proposer.String() && c.ProjectID == 1
	})).Return(nil).Once()

	_, err = e.svc.ReviewProject(ctx, e.verifier, ReviewRequest{SubmissionTransactionID: sub.TransactionID, Approve: true})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestService_WithdrawListing(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()
	e.associate(t, e.proposer)
	serial := e.mintTo(t)

	_, err := e.svc.DepositAndList(ctx, e.proposer, serial, ledger.Hbar(5))
	require.NoError(t, err)

	_, err = e.svc.WithdrawListing(ctx, e.buyer, serial)
	assert.ErrorIs(t, err, marketplace.ErrNotSeller)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))

	_, err = e.svc.WithdrawListing(ctx, e.proposer, serial)
	require.NoError(t, err)

	credits, err := e.svc.MyCredits(ctx, e.proposer)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, serial, credits[0].SerialNumber)

	active, err := e.svc.Listings(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestService_DepositRequiresOwnership(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.associate(t, e.proposer)
	serial := e.mintTo(t)

	_, err := e.svc.DepositCredit(context.Background(), e.buyer, serial)
	assert.ErrorIs(t, err, registry.ErrNotCreditOwner)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
}

func TestService_PlatformFee(t *testing.T) {
	e := newEnv(t, envOptions{market: marketplace.Config{FeeBasisPoints: 250}})
	ctx := context.Background()
	e.associate(t, e.proposer, e.buyer)
	serial := e.mintTo(t)

	_, err := e.svc.DepositAndList(ctx, e.proposer, serial, ledger.Hbar(5))
	require.NoError(t, err)
	_, err = e.svc.BuyCredit(ctx, e.buyer, serial, ledger.Hbar(5))
	require.NoError(t, err)

	claim, err := e.svc.ClaimProceeds(ctx, e.proposer, serial)
	require.NoError(t, err)
	assert.Equal(t, ledger.Hbar(5)-ledger.Hbar(5)*250/10000, claim.Amount)

	_, err = e.svc.WithdrawPlatformFees(ctx, e.buyer)
	assert.ErrorIs(t, err, marketplace.ErrNotFeeRecipient)

	fees, err := e.svc.WithdrawPlatformFees(ctx, e.operator)
	require.NoError(t, err)
	assert.Equal(t, ledger.Hbar(5)*250/10000, fees.Amount)
}

func TestService_DashboardsWithoutMirror(t *testing.T) {
	e := newEnv(t, envOptions{})
	ctx := context.Background()
	e.associate(t, e.proposer)

	e.mintTo(t)
	_, err := e.svc.SubmitProject(ctx, e.proposer, "ipfs://second", 1)
	require.NoError(t, err)

	mine, err := e.svc.MyProjects(ctx, e.proposer)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	dash, err := e.svc.VerifierDashboard(ctx, e.verifier)
	require.NoError(t, err)
	require.Len(t, dash.Pending, 1)
	assert.Equal(t, uint64(2), dash.Pending[0].ProjectID)
	require.Len(t, dash.Reviewed, 1)
	assert.Equal(t, uint64(1), dash.Reviewed[0].ProjectID)

	_, err = e.svc.GetProject(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}
