package commands

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"carbon-scribe/settlement-backend/internal/deploy"
	"carbon-scribe/settlement-backend/internal/finality"
	"carbon-scribe/settlement-backend/internal/notifications"
	"carbon-scribe/settlement-backend/internal/printer"
	"carbon-scribe/settlement-backend/internal/settlement"
	"carbon-scribe/settlement-backend/pkg/ledger"
)

var (
	flowReject     bool
	flowFast       bool
	flowShowEvents bool
	flowFee        string
	flowPrice      string
	flowPayment    string
	flowMetadata   string
	flowProposer   string
	flowBuyer      string
)

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Run the full settlement scenario on a fresh deployment",
	Long: `Deploys the contracts and walks one project through the whole lifecycle:

  proposer and buyer associate with the credit token
  proposer submits a project with the submission fee
  verifier approves (or rejects with --reject) the project
  proposer deposits and lists the minted credit
  buyer purchases the credit
  proposer claims the sale proceeds

Every step waits for the durable transaction record before continuing.

Examples:
  settlectl flow --fast
  settlectl flow --price 25 --payment 25
  settlectl flow --reject`,
	Args: cobra.NoArgs,
	RunE: runFlow,
}

func init() {
	flowCmd.Flags().BoolVar(&flowReject, "reject", false, "reject the project instead of approving it")
	flowCmd.Flags().BoolVar(&flowFast, "fast", false, "make records available immediately and poll quickly")
	flowCmd.Flags().BoolVar(&flowShowEvents, "events", false, "print settlement events as they are published")
	flowCmd.Flags().StringVar(&flowFee, "fee", "", "submission fee in HBAR (default: the configured minimum)")
	flowCmd.Flags().StringVar(&flowPrice, "price", "10", "listing price in HBAR")
	flowCmd.Flags().StringVar(&flowPayment, "payment", "", "buyer payment in HBAR (default: the price)")
	flowCmd.Flags().StringVar(&flowMetadata, "metadata", "ipfs://QmCarbonProjectMetadata", "project metadata reference")
	flowCmd.Flags().StringVar(&flowProposer, "proposer", "proposer", "proposer account id or configured name")
	flowCmd.Flags().StringVar(&flowBuyer, "buyer", "buyer", "buyer account id or configured name")
	rootCmd.AddCommand(flowCmd)
}

// eventPrinter prints published settlement events
type eventPrinter struct{}

func (eventPrinter) Publish(msg notifications.WebSocketMessage) error {
	fields := make(map[string]string, len(msg.Data))
	for k, v := range msg.Data {
		fields[k] = fmt.Sprint(v)
	}
	printer.Info("  event %s", msg.Event)
	printer.Detail(fields)
	return nil
}

func runFlow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flowFast {
		cfg.Ledger.RecordLag.Duration = 0
		cfg.Resolver.Delay.Duration = 50 * time.Millisecond
	}
	fee, payment := flowFee, flowPayment
	if fee == "" {
		fee = cfg.Escrow.MinimumFee
	}
	if payment == "" {
		payment = flowPrice
	}
	amounts := map[string]int64{}
	for name, raw := range map[string]string{"fee": fee, "price": flowPrice, "payment": payment} {
		v, err := ledger.ParseHbar(raw)
		if err != nil {
			return printer.Error("Invalid amount", err.Error(), map[string]string{"flag": "--" + name})
		}
		amounts[name] = v
	}

	logger := newLogger()
	n, err := deploy.StartNetwork(ctx, cfg, logger)
	if err != nil {
		return printer.Error("Deployment failed", err.Error(), nil)
	}
	d := n.Deployment
	printer.Success("Contracts deployed on %s (token %s)", d.Network, d.TokenID)

	proposer, err := n.Account(flowProposer)
	if err != nil {
		return printer.Error("Unknown proposer", err.Error(), nil)
	}
	buyer, err := n.Account(flowBuyer)
	if err != nil {
		return printer.Error("Unknown buyer", err.Error(), nil)
	}

	resolver := finality.NewResolver(d.Ledger, finality.Config{
		MaxAttempts: cfg.Resolver.MaxAttempts,
		Delay:       cfg.Resolver.Delay.Duration,
		Timeout:     cfg.Resolver.Timeout.Duration,
	}, logger)
	var notifier notifications.Notifier = notifications.Nop{}
	if flowShowEvents {
		notifier = eventPrinter{}
	}
	svc := settlement.NewService(d, resolver, nil, notifier, logger)

	before := balances(n)

	for _, acct := range []ledger.AccountID{proposer, buyer} {
		printer.Step("Associating %s with the credit token", acct)
		if _, err := svc.AssociateToken(ctx, acct); err != nil {
			return stepFailed("Association failed", err)
		}
	}

	printer.Step("Submitting project as %s with fee %s HBAR", proposer, fee)
	sub, err := svc.SubmitProject(ctx, proposer, flowMetadata, amounts["fee"])
	if err != nil {
		return stepFailed("Project submission failed", err)
	}
	printer.Detail(map[string]string{"transaction_id": sub.TransactionID, "project_id": strconv.FormatUint(sub.ProjectID, 10)})

	printer.Step("Reviewing project %d as verifier %s", sub.ProjectID, d.Verifier)
	review, err := svc.ReviewProject(ctx, d.Verifier, settlement.ReviewRequest{
		SubmissionTransactionID: sub.TransactionID,
		Approve:                 !flowReject,
	})
	if err != nil {
		return stepFailed("Project review failed", err)
	}
	printer.Detail(map[string]string{"transaction_id": review.TransactionID, "status": string(review.Status)})

	if flowReject {
		printer.Success("Project %d rejected", review.ProjectID)
		printBalances(n, before)
		return nil
	}
	printer.Success("Credit %s #%d minted to %s", review.TokenID, review.SerialNumber, proposer)

	printer.Step("Depositing and listing credit #%d for %s HBAR", review.SerialNumber, flowPrice)
	listing, err := svc.DepositAndList(ctx, proposer, review.SerialNumber, amounts["price"])
	if err != nil {
		return stepFailed("Listing failed", err)
	}
	printer.Detail(map[string]string{"transaction_id": listing.TransactionID, "listing_id": strconv.FormatUint(listing.ListingID, 10)})

	printer.Step("Buying credit #%d as %s with %s HBAR", review.SerialNumber, buyer, payment)
	sale, err := svc.BuyCredit(ctx, buyer, review.SerialNumber, amounts["payment"])
	if err != nil {
		return stepFailed("Purchase failed", err)
	}
	printer.Detail(map[string]string{"transaction_id": sale.TransactionID})

	printer.Step("Claiming proceeds for credit #%d", review.SerialNumber)
	claim, err := svc.ClaimProceeds(ctx, proposer, review.SerialNumber)
	if err != nil {
		return stepFailed("Claim failed", err)
	}
	printer.Detail(map[string]string{"transaction_id": claim.TransactionID, "amount": ledger.FormatHbar(claim.Amount) + " HBAR"})

	printer.Success("Credit #%d settled: %s now owns it", review.SerialNumber, buyer)
	printBalances(n, before)
	return nil
}

func stepFailed(title string, err error) error {
	context := map[string]string{}
	var pe *settlement.PhaseError
	if errors.As(err, &pe) {
		context["phase"] = string(pe.Phase)
		context["step"] = pe.Step
		if pe.TransactionID != "" {
			context["transaction_id"] = pe.TransactionID
		}
	}
	if reason, ok := ledger.RevertReason(err); ok {
		context["reason"] = reason
	}
	var suggestions []string
	if phase, ok := settlement.FailedPhase(err); ok && phase == settlement.PhaseConfirmation {
		suggestions = append(suggestions, "the transaction was accepted; resolve its record later with 'settlectl resolve'")
	}
	return printer.Error(title, err.Error(), context, suggestions...)
}

func balances(n *deploy.Network) map[string]int64 {
	out := make(map[string]int64, len(n.Accounts))
	for name, id := range n.Accounts {
		if bal, err := n.Ledger.Balance(id); err == nil {
			out[name] = bal
		}
	}
	return out
}

func printBalances(n *deploy.Network, before map[string]int64) {
	after := balances(n)
	names := make([]string, 0, len(after))
	for name := range after {
		names = append(names, name)
	}
	sort.Strings(names)

	printer.Info("")
	printer.Info("Balances (HBAR)")
	for _, name := range names {
		delta := after[name] - before[name]
		sign := "+"
		if delta < 0 {
			sign = "-"
			delta = -delta
		}
		printer.Info("  %-10s %-12s %s %s%s", name, n.Accounts[name], ledger.FormatHbar(after[name]), sign, ledger.FormatHbar(delta))
	}
}
