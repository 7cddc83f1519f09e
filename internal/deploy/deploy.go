package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"carbon-scribe/settlement-backend/internal/escrow"
	"carbon-scribe/settlement-backend/internal/marketplace"
	"carbon-scribe/settlement-backend/internal/registry"
	"carbon-scribe/settlement-backend/pkg/ledger"
)

// CollectionConfig describes the single credit collection
type CollectionConfig struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	MaxSupply   int64  `json:"max_supply"`
}

// DefaultCollection is the collection the registry is bootstrapped with
func DefaultCollection() CollectionConfig {
	return CollectionConfig{
		Name:        "Verified Carbon Credit",
		Symbol:      "VCC",
		Description: "A verified carbon credit from the registry",
		MaxSupply:   10000,
	}
}

// Config drives Bootstrap. Empty admin and fee recipient fields default to
// the operator.
type Config struct {
	Collection  CollectionConfig   `json:"collection"`
	Escrow      escrow.Config      `json:"escrow"`
	Marketplace marketplace.Config `json:"marketplace"`
}

// Deployment is the bootstrapped contract set
type Deployment struct {
	Network       string           `json:"network"`
	Operator      ledger.AccountID `json:"operator"`
	RegistryID    ledger.AccountID `json:"registry_id"`
	EscrowID      ledger.AccountID `json:"escrow_id"`
	MarketplaceID ledger.AccountID `json:"marketplace_id"`
	TokenID       ledger.AccountID `json:"token_id"`
	Verifier      ledger.AccountID `json:"verifier"`
	DeployedAt    time.Time        `json:"deployed_at"`

	Ledger      *ledger.Ledger           `json:"-"`
	Registry    *registry.Registry       `json:"-"`
	Escrow      *escrow.Escrow           `json:"-"`
	Marketplace *marketplace.Marketplace `json:"-"`
}

// Bootstrap deploys and wires the registry, escrow and marketplace
// contracts. Steps run in order and stop at the first failure:
//
//  1. deploy registry, escrow(registry), marketplace(registry, escrow)
//  2. escrow.setMarketplaceContract(marketplace)
//  3. registry.transferOwnership(escrow)
//  4. escrow.initCollection(...)
//  5. marketplace.associateWithToken(token)
//  6. marketplace.updateNftTokenAddress(token)
func Bootstrap(ctx context.Context, l *ledger.Ledger, operator ledger.AccountID, cfg Config, logger *zap.Logger) (*Deployment, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == (CollectionConfig{}) {
		cfg.Collection = DefaultCollection()
	}
	if cfg.Escrow.Admin == "" {
		cfg.Escrow.Admin = operator
	}
	if cfg.Escrow.RejectionFeePolicy == "" {
		cfg.Escrow.RejectionFeePolicy = escrow.FeePolicyRefund
	}
	if cfg.Marketplace.Admin == "" {
		cfg.Marketplace.Admin = operator
	}
	if cfg.Marketplace.FeeRecipient == "" {
		cfg.Marketplace.FeeRecipient = operator
	}
	if cfg.Marketplace.PaymentMatch == "" {
		cfg.Marketplace.PaymentMatch = marketplace.PaymentMatchExact
	}
	if _, err := l.Balance(operator); err != nil {
		return nil, fmt.Errorf("operator account: %w", err)
	}

	regID := l.RegisterContract("CarbonCreditNFT")
	reg := registry.New(regID, operator)

	escrowID := l.RegisterContract("Escrow")
	esc, err := escrow.New(escrowID, reg, cfg.Escrow)
	if err != nil {
		return nil, fmt.Errorf("invalid escrow config: %w", err)
	}

	marketID := l.RegisterContract("Marketplace")
	market, err := marketplace.New(marketID, reg, cfg.Marketplace)
	if err != nil {
		return nil, fmt.Errorf("invalid marketplace config: %w", err)
	}

	d := &Deployment{
		Network:       l.Network(),
		Operator:      operator,
		RegistryID:    regID,
		EscrowID:      escrowID,
		MarketplaceID: marketID,
		Verifier:      cfg.Escrow.Verifier,
		DeployedAt:    time.Now().UTC(),
		Ledger:        l,
		Registry:      reg,
		Escrow:        esc,
		Marketplace:   market,
	}

	submit := func(step string, payer ledger.AccountID, call ledger.Call) error {
		receipt, err := l.Submit(ctx, payer, call)
		if err == nil {
			err = receipt.Err()
		}
		if err != nil {
			logger.Error("Bootstrap step failed", zap.String("step", step), zap.Error(err))
			return fmt.Errorf("%s: %w", step, err)
		}
		logger.Info("Bootstrap step completed",
			zap.String("step", step),
			zap.String("transaction_id", receipt.TransactionID.String()))
		return nil
	}

	if err := submit("set marketplace", cfg.Escrow.Admin, esc.SetMarketplaceCall(marketID)); err != nil {
		return nil, err
	}
	if err := submit("transfer minting rights", operator, reg.TransferMintingRightsCall(escrowID)); err != nil {
		return nil, err
	}
	c := cfg.Collection
	if err := submit("init collection", cfg.Escrow.Admin, esc.InitCollectionCall(c.Name, c.Symbol, c.Description, c.MaxSupply)); err != nil {
		return nil, err
	}
	if err := l.Query(ctx, func() error {
		d.TokenID = esc.TokenID()
		return nil
	}); err != nil {
		return nil, err
	}
	if err := submit("associate marketplace", cfg.Marketplace.Admin, market.AssociateWithTokenCall(d.TokenID)); err != nil {
		return nil, err
	}
	if err := submit("update token address", cfg.Marketplace.Admin, market.UpdateNftTokenAddressCall(d.TokenID)); err != nil {
		return nil, err
	}

	logger.Info("Contracts deployed",
		zap.String("registry_id", regID.String()),
		zap.String("escrow_id", escrowID.String()),
		zap.String("marketplace_id", marketID.String()),
		zap.String("token_id", d.TokenID.String()))
	return d, nil
}

// WriteJSON writes the deployment addresses as indented JSON
func (d *Deployment) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// Save writes the deployment addresses to path
func (d *Deployment) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create deployment file: %w", err)
	}
	defer f.Close()
	if err := d.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to write deployment file: %w", err)
	}
	return nil
}
