package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"carbon-scribe/settlement-backend/internal/deploy"
	"carbon-scribe/settlement-backend/internal/escrow"
	"carbon-scribe/settlement-backend/internal/finality"
	"carbon-scribe/settlement-backend/internal/marketplace"
	"carbon-scribe/settlement-backend/internal/mirror"
	"carbon-scribe/settlement-backend/internal/notifications"
	"carbon-scribe/settlement-backend/internal/registry"
	"carbon-scribe/settlement-backend/pkg/ledger"
)

const source = "settlement"

// Service drives the multi-step settlement workflows for the acting account.
// The ledger is the source of truth; the mirror and notifier are only written
// after an on-chain step succeeded.
type Service struct {
	d        *deploy.Deployment
	resolver *finality.Resolver
	repo     mirror.Repository
	notifier notifications.Notifier
	logger   *zap.Logger
}

// NewService creates a settlement service. repo and notifier may be nil.
func NewService(d *deploy.Deployment, resolver *finality.Resolver, repo mirror.Repository, notifier notifications.Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	return &Service{d: d, resolver: resolver, repo: repo, notifier: notifier, logger: logger}
}

// Deployment returns the contract set the service talks to
func (s *Service) Deployment() *deploy.Deployment {
	return s.d
}

// TxResult is the outcome of a single accepted call
type TxResult struct {
	TransactionID string `json:"transaction_id"`
}

// SubmitResult is returned by SubmitProject
type SubmitResult struct {
	TransactionID string `json:"transaction_id"`
	ProjectID     uint64 `json:"project_id"`
}

// ReviewRequest identifies the project to review, either by the id of its
// submission transaction or directly by project id
type ReviewRequest struct {
	SubmissionTransactionID string
	ProjectID               uint64
	Approve                 bool
}

// ReviewResult is returned by ReviewProject. SerialNumber is 0 on rejection.
type ReviewResult struct {
	TransactionID string               `json:"transaction_id"`
	ProjectID     uint64               `json:"project_id"`
	Status        escrow.ProjectStatus `json:"status"`
	SerialNumber  int64                `json:"serial_number,omitempty"`
	TokenID       string               `json:"token_id,omitempty"`
}

// ListingResult is returned by listing and buying workflows
type ListingResult struct {
	TransactionID string `json:"transaction_id"`
	ListingID     uint64 `json:"listing_id"`
	SerialNumber  int64  `json:"serial_number"`
}

// ClaimResult is returned by ClaimProceeds
type ClaimResult struct {
	TransactionID string `json:"transaction_id"`
	SerialNumber  int64  `json:"serial_number"`
	Amount        int64  `json:"amount"`
}

// submit sends call and fails with a submission-phase error unless the
// receipt is a success
func (s *Service) submit(ctx context.Context, workflow, step string, actor ledger.AccountID, call ledger.Call) (*ledger.Receipt, error) {
	receipt, err := s.d.Ledger.Submit(ctx, actor, call)
	if err != nil {
		return nil, &PhaseError{Workflow: workflow, Step: step, Phase: PhaseSubmission, Err: err}
	}
	if err := receipt.Err(); err != nil {
		return nil, &PhaseError{Workflow: workflow, Step: step, Phase: PhaseSubmission, TransactionID: receipt.TransactionID.String(), Err: err}
	}
	return receipt, nil
}

// confirm reads the durable record of an accepted transaction
func (s *Service) confirm(ctx context.Context, workflow, step string, txID ledger.TransactionID) (*ledger.Record, error) {
	rec, err := s.resolver.Await(ctx, txID)
	if err != nil {
		return nil, &PhaseError{Workflow: workflow, Step: step, Phase: PhaseConfirmation, TransactionID: txID.String(), Err: err}
	}
	if err := rec.Err(); err != nil {
		return nil, &PhaseError{Workflow: workflow, Step: step, Phase: PhaseExecution, TransactionID: txID.String(), Err: err}
	}
	return rec, nil
}

// execute submits call and resolves its record
func (s *Service) execute(ctx context.Context, workflow, step string, actor ledger.AccountID, call ledger.Call) (*ledger.Record, error) {
	receipt, err := s.submit(ctx, workflow, step, actor, call)
	if err != nil {
		return nil, err
	}
	return s.confirm(ctx, workflow, step, receipt.TransactionID)
}

func executionError(workflow, step string, rec *ledger.Record, err error) error {
	return &PhaseError{Workflow: workflow, Step: step, Phase: PhaseExecution, TransactionID: rec.TransactionID.String(), Err: err}
}

// SubmitProject locks fee in escrow and resolves the assigned project id. If
// the submission is accepted but never confirmed, it is remembered for the
// reconciler.
func (s *Service) SubmitProject(ctx context.Context, actor ledger.AccountID, metadataReference string, fee int64) (*SubmitResult, error) {
	const workflow = "submit project"
	if strings.TrimSpace(metadataReference) == "" {
		return nil, fmt.Errorf("%w: metadata reference is required", ErrInvalidRequest)
	}
	if fee <= 0 {
		return nil, fmt.Errorf("%w: fee must be positive", ErrInvalidAmount)
	}

	receipt, err := s.submit(ctx, workflow, "submitProject", actor, s.d.Escrow.SubmitProjectCall(metadataReference, fee))
	if err != nil {
		return nil, err
	}
	txID := receipt.TransactionID.String()
	s.publish(notifications.EventProjectSubmitted, map[string]interface{}{
		"transaction_id": txID,
		"proposer":       actor.String(),
	}, actor.String())

	rec, err := s.confirm(ctx, workflow, "resolve submission", receipt.TransactionID)
	if err != nil {
		if phase, _ := FailedPhase(err); phase == PhaseConfirmation {
			s.saveSubmission(ctx, &mirror.PendingSubmission{
				TransactionID:     txID,
				Proposer:          actor.String(),
				MetadataReference: metadataReference,
				FeePaid:           fee,
				Status:            mirror.SubmissionUnconfirmed,
				Attempts:          s.resolver.Config().MaxAttempts,
				LastError:         err.Error(),
			})
		}
		return nil, err
	}

	id, err := rec.ContractFunctionResult.Uint64(0)
	if err != nil {
		return nil, executionError(workflow, "read project id", rec, err)
	}

	s.confirmSubmission(ctx, rec, actor, metadataReference, fee, id)
	return &SubmitResult{TransactionID: txID, ProjectID: id}, nil
}

// confirmSubmission mirrors a resolved submission and announces it
func (s *Service) confirmSubmission(ctx context.Context, rec *ledger.Record, proposer ledger.AccountID, ref string, fee int64, projectID uint64) {
	txID := rec.TransactionID.String()
	sub := &mirror.PendingSubmission{
		TransactionID:     txID,
		Proposer:          proposer.String(),
		MetadataReference: ref,
		FeePaid:           fee,
		Status:            mirror.SubmissionConfirmed,
		ProjectID:         &projectID,
	}
	if raw, err := json.Marshal(rec); err == nil {
		sub.Record = datatypes.JSON(raw)
	}
	s.saveSubmission(ctx, sub)
	s.syncProject(ctx, projectID, txID, "")
	s.publish(notifications.EventSubmissionConfirmed, map[string]interface{}{
		"transaction_id": txID,
		"project_id":     projectID,
	}, proposer.String())
}

// ReviewProject resolves the project id from its submission (when given a
// transaction id), submits the verifier's decision and resolves the minted
// serial
func (s *Service) ReviewProject(ctx context.Context, actor ledger.AccountID, req ReviewRequest) (*ReviewResult, error) {
	const workflow = "review project"

	projectID := req.ProjectID
	if raw := strings.TrimSpace(req.SubmissionTransactionID); raw != "" {
		rec, err := s.resolver.AwaitString(ctx, raw)
		if err != nil {
			return nil, &PhaseError{Workflow: workflow, Step: "resolve submission", Phase: PhaseConfirmation, TransactionID: raw, Err: err}
		}
		if err := rec.Err(); err != nil {
			// the submission itself was rejected, there is nothing to review
			return nil, &PhaseError{Workflow: workflow, Step: "resolve submission", Phase: PhaseSubmission, TransactionID: raw, Err: err}
		}
		if projectID, err = rec.ContractFunctionResult.Uint64(0); err != nil {
			return nil, executionError(workflow, "read project id", rec, err)
		}
	}
	if projectID == 0 {
		return nil, fmt.Errorf("%w: a submission transaction id or project id is required", ErrInvalidRequest)
	}

	rec, err := s.execute(ctx, workflow, "reviewProject", actor, s.d.Escrow.ReviewProjectCall(projectID, req.Approve))
	if err != nil {
		return nil, err
	}
	serial, err := rec.ContractFunctionResult.Int64(0)
	if err != nil {
		return nil, executionError(workflow, "read serial number", rec, err)
	}
	token, err := rec.ContractFunctionResult.String(1)
	if err != nil {
		return nil, executionError(workflow, "read token id", rec, err)
	}

	res := &ReviewResult{
		TransactionID: rec.TransactionID.String(),
		ProjectID:     projectID,
		Status:        escrow.ProjectStatusRejected,
		TokenID:       token,
	}
	if req.Approve {
		res.Status = escrow.ProjectStatusApproved
		res.SerialNumber = serial
		s.syncCredit(ctx, serial)
	}

	p := s.syncProject(ctx, projectID, "", res.TransactionID)
	targets := []string{actor.String()}
	if p != nil {
		targets = append(targets, p.Proposer.String())
	}
	s.publish(notifications.EventProjectReviewed, map[string]interface{}{
		"transaction_id": res.TransactionID,
		"project_id":     projectID,
		"status":         string(res.Status),
		"serial_number":  res.SerialNumber,
	}, targets...)
	return res, nil
}

// AssociateToken associates the actor with the credit collection so it can
// receive credits
func (s *Service) AssociateToken(ctx context.Context, actor ledger.AccountID) (*TxResult, error) {
	receipt, err := s.submit(ctx, "associate token", "associate", actor, s.d.Registry.AssociateCall())
	if err != nil {
		return nil, err
	}
	s.publish(notifications.EventTokenAssociated, map[string]interface{}{
		"transaction_id": receipt.TransactionID.String(),
		"account":        actor.String(),
		"token_id":       s.d.TokenID.String(),
	}, actor.String())
	return &TxResult{TransactionID: receipt.TransactionID.String()}, nil
}

// DepositCredit moves a credit the actor owns into marketplace custody
func (s *Service) DepositCredit(ctx context.Context, actor ledger.AccountID, serial int64) (*TxResult, error) {
	if serial <= 0 {
		return nil, fmt.Errorf("%w: serial number must be positive", ErrInvalidRequest)
	}
	receipt, err := s.submit(ctx, "deposit credit", "transferNft", actor, s.d.Registry.TransferCall(serial, s.d.MarketplaceID))
	if err != nil {
		return nil, err
	}
	s.syncCredit(ctx, serial)
	s.publish(notifications.EventCreditDeposited, map[string]interface{}{
		"transaction_id": receipt.TransactionID.String(),
		"serial_number":  serial,
	}, actor.String())
	return &TxResult{TransactionID: receipt.TransactionID.String()}, nil
}

// ListCredit lists a deposited credit at price
func (s *Service) ListCredit(ctx context.Context, actor ledger.AccountID, serial, price int64) (*ListingResult, error) {
	const workflow = "list credit"
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidAmount)
	}
	rec, err := s.execute(ctx, workflow, "listDepositedCredit", actor, s.d.Marketplace.ListDepositedCreditCall(serial, price))
	if err != nil {
		return nil, err
	}
	id, err := rec.ContractFunctionResult.Uint64(0)
	if err != nil {
		return nil, executionError(workflow, "read listing id", rec, err)
	}

	s.syncListing(ctx, id)
	s.publish(notifications.EventCreditListed, map[string]interface{}{
		"transaction_id": rec.TransactionID.String(),
		"listing_id":     id,
		"serial_number":  serial,
		"price":          ledger.FormatHbar(price),
	})
	return &ListingResult{TransactionID: rec.TransactionID.String(), ListingID: id, SerialNumber: serial}, nil
}

// DepositAndList deposits a credit and lists it in two calls. A listing
// failure leaves the credit deposited; the error says which step failed.
func (s *Service) DepositAndList(ctx context.Context, actor ledger.AccountID, serial, price int64) (*ListingResult, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidAmount)
	}
	if _, err := s.DepositCredit(ctx, actor, serial); err != nil {
		return nil, err
	}
	return s.ListCredit(ctx, actor, serial, price)
}

// BuyCredit pays for the active listing of serial
func (s *Service) BuyCredit(ctx context.Context, actor ledger.AccountID, serial, payment int64) (*ListingResult, error) {
	const workflow = "buy credit"
	if payment <= 0 {
		return nil, fmt.Errorf("%w: payment must be positive", ErrInvalidAmount)
	}
	rec, err := s.execute(ctx, workflow, "buyCredit", actor, s.d.Marketplace.BuyCreditCall(serial, payment))
	if err != nil {
		return nil, err
	}
	id, err := rec.ContractFunctionResult.Uint64(0)
	if err != nil {
		return nil, executionError(workflow, "read listing id", rec, err)
	}

	l := s.syncListing(ctx, id)
	s.syncCredit(ctx, serial)
	targets := []string{actor.String()}
	if l != nil {
		targets = append(targets, l.Seller.String())
	}
	s.publish(notifications.EventCreditSold, map[string]interface{}{
		"transaction_id": rec.TransactionID.String(),
		"listing_id":     id,
		"serial_number":  serial,
		"buyer":          actor.String(),
	}, targets...)
	return &ListingResult{TransactionID: rec.TransactionID.String(), ListingID: id, SerialNumber: serial}, nil
}

// ClaimProceeds pays the seller of a sold listing
func (s *Service) ClaimProceeds(ctx context.Context, actor ledger.AccountID, serial int64) (*ClaimResult, error) {
	const workflow = "claim proceeds"
	rec, err := s.execute(ctx, workflow, "claimProceeds", actor, s.d.Marketplace.ClaimProceedsCall(serial))
	if err != nil {
		return nil, err
	}
	amount, err := rec.ContractFunctionResult.Int64(0)
	if err != nil {
		return nil, executionError(workflow, "read amount", rec, err)
	}

	s.syncLatestListing(ctx, serial)
	s.publish(notifications.EventProceedsClaimed, map[string]interface{}{
		"transaction_id": rec.TransactionID.String(),
		"serial_number":  serial,
		"amount":         ledger.FormatHbar(amount),
	}, actor.String())
	return &ClaimResult{TransactionID: rec.TransactionID.String(), SerialNumber: serial, Amount: amount}, nil
}

// WithdrawListing cancels the actor's active listing and returns the credit
func (s *Service) WithdrawListing(ctx context.Context, actor ledger.AccountID, serial int64) (*TxResult, error) {
	receipt, err := s.submit(ctx, "withdraw listing", "withdrawListing", actor, s.d.Marketplace.WithdrawListingCall(serial))
	if err != nil {
		return nil, err
	}
	s.syncLatestListing(ctx, serial)
	s.syncCredit(ctx, serial)
	s.publish(notifications.EventListingWithdrawn, map[string]interface{}{
		"transaction_id": receipt.TransactionID.String(),
		"serial_number":  serial,
	})
	return &TxResult{TransactionID: receipt.TransactionID.String()}, nil
}

// WithdrawPlatformFees pays accrued platform fees to the fee recipient
func (s *Service) WithdrawPlatformFees(ctx context.Context, actor ledger.AccountID) (*ClaimResult, error) {
	const workflow = "withdraw platform fees"
	rec, err := s.execute(ctx, workflow, "withdrawPlatformFees", actor, s.d.Marketplace.WithdrawPlatformFeesCall())
	if err != nil {
		return nil, err
	}
	amount, err := rec.ContractFunctionResult.Int64(0)
	if err != nil {
		return nil, executionError(workflow, "read amount", rec, err)
	}
	return &ClaimResult{TransactionID: rec.TransactionID.String(), Amount: amount}, nil
}

// ResolveRecord reads the durable record of any transaction
func (s *Service) ResolveRecord(ctx context.Context, raw string) (*ledger.Record, error) {
	return s.resolver.AwaitString(ctx, raw)
}

// Balance returns the actor's current balance in tinybars
func (s *Service) Balance(actor ledger.AccountID) (int64, error) {
	return s.d.Ledger.Balance(actor)
}

func (s *Service) publish(event string, data map[string]interface{}, targets ...string) {
	if err := s.notifier.Publish(notifications.NewSettlementMessage(event, source, data, targets...)); err != nil {
		s.logger.Warn("Failed to publish settlement event", zap.String("event", event), zap.Error(err))
	}
}

// chain runs fn as a read-only view. Failures are logged and reported as false.
func (s *Service) chain(ctx context.Context, fn func() error) bool {
	if err := s.d.Ledger.Query(ctx, fn); err != nil {
		s.logger.Warn("Ledger query failed", zap.Error(err))
		return false
	}
	return true
}

// The sync helpers copy on-chain state into the mirror. Mirror failures
// never fail a workflow that already succeeded on-chain.

func (s *Service) syncProject(ctx context.Context, id uint64, submitTx, reviewTx string) *escrow.Project {
	var p escrow.Project
	var ok bool
	if !s.chain(ctx, func() error { p, ok = s.d.Escrow.Project(id); return nil }) || !ok {
		return nil
	}
	if s.repo == nil {
		return &p
	}
	view := mirror.ProjectFromChain(p)
	if existing, err := s.repo.GetProject(ctx, id); err == nil {
		view.SubmitTransactionID = existing.SubmitTransactionID
		view.ReviewTransactionID = existing.ReviewTransactionID
	}
	if submitTx != "" {
		view.SubmitTransactionID = submitTx
	}
	if reviewTx != "" {
		view.ReviewTransactionID = reviewTx
	}
	if err := s.repo.UpsertProject(ctx, view); err != nil {
		s.logger.Error("Failed to mirror project", zap.Uint64("project_id", id), zap.Error(err))
	}
	return &p
}

func (s *Service) syncCredit(ctx context.Context, serial int64) {
	if s.repo == nil {
		return
	}
	var c registry.Credit
	var ok bool
	if !s.chain(ctx, func() error { c, ok = s.d.Registry.Credit(serial); return nil }) || !ok {
		return
	}
	if err := s.repo.UpsertCredit(ctx, mirror.CreditFromChain(c)); err != nil {
		s.logger.Error("Failed to mirror credit", zap.Int64("serial_number", serial), zap.Error(err))
	}
}

func (s *Service) syncListing(ctx context.Context, id uint64) *marketplace.Listing {
	var l marketplace.Listing
	var ok bool
	if !s.chain(ctx, func() error { l, ok = s.d.Marketplace.Listing(id); return nil }) || !ok {
		return nil
	}
	s.mirrorListing(ctx, l)
	return &l
}

func (s *Service) syncLatestListing(ctx context.Context, serial int64) {
	var l marketplace.Listing
	var ok bool
	if !s.chain(ctx, func() error { l, ok = s.d.Marketplace.LatestListing(serial); return nil }) || !ok {
		return
	}
	s.mirrorListing(ctx, l)
}

func (s *Service) mirrorListing(ctx context.Context, l marketplace.Listing) {
	if s.repo == nil {
		return
	}
	if err := s.repo.UpsertListing(ctx, mirror.ListingFromChain(l)); err != nil {
		s.logger.Error("Failed to mirror listing", zap.Uint64("listing_id", l.ID), zap.Error(err))
	}
}

func (s *Service) saveSubmission(ctx context.Context, sub *mirror.PendingSubmission) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveSubmission(ctx, sub); err != nil {
		s.logger.Error("Failed to save submission",
			zap.String("transaction_id", sub.TransactionID),
			zap.Error(err))
	}
}
