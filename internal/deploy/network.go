package deploy

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"carbon-scribe/settlement-backend/internal/config"
	"carbon-scribe/settlement-backend/internal/escrow"
	"carbon-scribe/settlement-backend/internal/marketplace"
	"carbon-scribe/settlement-backend/pkg/ledger"
)

// Network is a started ledger with its funded accounts and deployed contracts
type Network struct {
	Ledger     *ledger.Ledger
	Deployment *Deployment
	// Accounts maps configured account names to ids. The operator is
	// always present.
	Accounts map[string]ledger.AccountID
}

// Account resolves an account id or a configured account name
func (n *Network) Account(ref string) (ledger.AccountID, error) {
	if id, ok := n.Accounts[ref]; ok {
		return id, nil
	}
	return ledger.ParseAccountID(ref)
}

// StartNetwork creates the ledger described by cfg, funds the operator and the
// configured accounts, then bootstraps the contracts
func StartNetwork(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Network, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := ledger.New(ledger.Options{
		Network:         cfg.Ledger.Network,
		Now:             time.Now,
		RecordLag:       cfg.Ledger.RecordLag.Duration,
		FirstAccountNum: cfg.Ledger.FirstAccountNum,
		Logger:          logger,
	})
	n := &Network{Ledger: l, Accounts: make(map[string]ledger.AccountID)}

	create := func(name, balance string) error {
		amount, err := ledger.ParseHbar(balance)
		if err != nil {
			return fmt.Errorf("account %s: %w", name, err)
		}
		id, err := l.CreateAccount(amount)
		if err != nil {
			return fmt.Errorf("account %s: %w", name, err)
		}
		n.Accounts[name] = id
		logger.Info("Account created",
			zap.String("name", name),
			zap.String("account_id", id.String()),
			zap.String("balance", balance))
		return nil
	}

	if err := create("operator", cfg.Ledger.OperatorBalance); err != nil {
		return nil, err
	}
	for _, a := range cfg.Ledger.Accounts {
		if _, dup := n.Accounts[a.Name]; dup || a.Name == "" {
			return nil, fmt.Errorf("account name %q is empty or duplicated", a.Name)
		}
		if err := create(a.Name, a.Balance); err != nil {
			return nil, err
		}
	}

	dcfg, err := n.deployConfig(cfg)
	if err != nil {
		return nil, err
	}
	d, err := Bootstrap(ctx, l, n.Accounts["operator"], dcfg, logger)
	if err != nil {
		return nil, err
	}
	n.Deployment = d
	return n, nil
}

func (n *Network) deployConfig(cfg *config.Config) (Config, error) {
	verifier, err := n.Account(cfg.Escrow.Verifier)
	if err != nil {
		return Config{}, fmt.Errorf("escrow verifier: %w", err)
	}
	minFee := int64(0)
	if cfg.Escrow.MinimumFee != "" {
		if minFee, err = ledger.ParseHbar(cfg.Escrow.MinimumFee); err != nil {
			return Config{}, fmt.Errorf("escrow minimum fee: %w", err)
		}
	}

	var recipient ledger.AccountID
	if cfg.Marketplace.FeeRecipient != "" {
		if recipient, err = n.Account(cfg.Marketplace.FeeRecipient); err != nil {
			return Config{}, fmt.Errorf("marketplace fee recipient: %w", err)
		}
	}

	return Config{
		Escrow: escrow.Config{
			Verifier:           verifier,
			MinimumFee:         minFee,
			RejectionFeePolicy: escrow.FeePolicy(cfg.Escrow.RejectionFeePolicy),
		},
		Marketplace: marketplace.Config{
			FeeRecipient:    recipient,
			FeeBasisPoints:  cfg.Marketplace.FeeBasisPoints,
			PaymentMatch:    marketplace.PaymentMatch(cfg.Marketplace.PaymentMatch),
			AllowWithdrawal: cfg.Marketplace.AllowWithdrawal,
		},
	}, nil
}
