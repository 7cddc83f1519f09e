package registry

import (
	"sort"
	"strconv"

	"carbon-scribe/settlement-backend/pkg/ledger"
)

var (
	ErrNotMintingAuthority      = ledger.Revert("caller lacks minting rights")
	ErrRightsAlreadyTransferred = ledger.Revert("minting rights already transferred")
	ErrCollectionExists         = ledger.Revert("collection already initialized")
	ErrCollectionMissing        = ledger.Revert("collection not initialized")
	ErrInvalidMaxSupply         = ledger.Revert("max supply must be positive")
	ErrBatchMint                = ledger.Revert("only single-credit mints are supported")
	ErrMaxSupplyReached         = ledger.Revert("collection max supply reached")
	ErrUnknownSerial            = ledger.Revert("unknown serial number")
	ErrNotCreditOwner           = ledger.Revert("sender does not own credit")
	ErrUnknownAccount           = ledger.Revert("unknown account")
	ErrNotAssociated            = &ledger.RevertError{Status: ledger.StatusTokenNotAssociatedToAccount, Reason: "recipient is not associated with the collection token"}
)

// Registry is the asset registry contract. It owns the one credit collection,
// keeps an arena of credits indexed by serial number and moves ownership
// only through Mint and Transfer.
type Registry struct {
	address           ledger.AccountID
	mintingAuthority  ledger.AccountID
	rightsTransferred bool
	collection        *Collection
	credits           map[int64]*Credit
	lastSerial        int64
	associations      map[ledger.AccountID]bool
}

// New creates a registry at address whose minting rights start with deployer
func New(address, deployer ledger.AccountID) *Registry {
	return &Registry{
		address:          address,
		mintingAuthority: deployer,
		credits:          make(map[int64]*Credit),
		associations:     make(map[ledger.AccountID]bool),
	}
}

// Address returns the contract address
func (r *Registry) Address() ledger.AccountID {
	return r.address
}

// TransferMintingRights hands minting rights to another account. It can run
// once, at bootstrap.
func (r *Registry) TransferMintingRights(tx *ledger.Tx, to ledger.AccountID) error {
	if tx.Sender() != r.mintingAuthority {
		return ErrNotMintingAuthority
	}
	if r.rightsTransferred {
		return ErrRightsAlreadyTransferred
	}
	if !tx.AccountExists(to) {
		return ErrUnknownAccount
	}

	prev := r.mintingAuthority
	r.mintingAuthority = to
	r.rightsTransferred = true
	tx.OnRevert(func() {
		r.mintingAuthority = prev
		r.rightsTransferred = false
	})

	tx.Emit("MintingRightsTransferred", map[string]string{"from": string(prev), "to": string(to)})
	return nil
}

// CreateCollection initializes the credit collection. Only the minting
// authority may call it, and only once.
func (r *Registry) CreateCollection(tx *ledger.Tx, name, symbol, description string, maxSupply int64) (ledger.AccountID, error) {
	if tx.Sender() != r.mintingAuthority {
		return "", ErrNotMintingAuthority
	}
	if r.collection != nil {
		return "", ErrCollectionExists
	}
	if maxSupply <= 0 {
		return "", ErrInvalidMaxSupply
	}

	c := &Collection{
		TokenID:     tx.AllocateEntity(),
		Name:        name,
		Symbol:      symbol,
		Description: description,
		MaxSupply:   maxSupply,
		Treasury:    r.address,
		CreatedAt:   tx.Timestamp(),
	}
	r.collection = c
	r.associations[r.address] = true
	tx.OnRevert(func() {
		r.collection = nil
		delete(r.associations, r.address)
	})

	tx.Emit("CollectionCreated", map[string]string{"token_id": string(c.TokenID), "symbol": symbol})
	return c.TokenID, nil
}

// Associate lets the calling account receive credits of the collection.
// Associating twice is a no-op.
func (r *Registry) Associate(tx *ledger.Tx) error {
	if r.collection == nil {
		return ErrCollectionMissing
	}
	account := tx.Sender()
	if r.associations[account] {
		return nil
	}
	r.associations[account] = true
	tx.OnRevert(func() { delete(r.associations, account) })
	return nil
}

// Mint creates count new credits for projectRef owned by to and returns the
// serial number. Only single-credit mints are supported.
func (r *Registry) Mint(tx *ledger.Tx, to ledger.AccountID, projectRef uint64, count int64) (int64, error) {
	if tx.Sender() != r.mintingAuthority {
		return 0, ErrNotMintingAuthority
	}
	if r.collection == nil {
		return 0, ErrCollectionMissing
	}
	if count != 1 {
		return 0, ErrBatchMint
	}
	if r.collection.TotalSupply >= r.collection.MaxSupply {
		return 0, ErrMaxSupplyReached
	}
	if !r.associations[to] {
		return 0, ErrNotAssociated
	}

	r.lastSerial++
	serial := r.lastSerial
	r.credits[serial] = &Credit{
		TokenID:      r.collection.TokenID,
		SerialNumber: serial,
		ProjectRef:   projectRef,
		Owner:        to,
		Status:       CreditStatusMinted,
		MintedAt:     tx.Timestamp(),
	}
	r.collection.TotalSupply++
	tx.OnRevert(func() {
		delete(r.credits, serial)
		r.lastSerial--
		r.collection.TotalSupply--
	})

	tx.Emit("CreditMinted", map[string]string{
		"serial_number": strconv.FormatInt(serial, 10),
		"project_id":    strconv.FormatUint(projectRef, 10),
		"owner":         string(to),
	})
	return serial, nil
}

// Transfer moves custody of a credit from the sender to another account
func (r *Registry) Transfer(tx *ledger.Tx, serial int64, to ledger.AccountID) error {
	credit, ok := r.credits[serial]
	if !ok {
		return ErrUnknownSerial
	}
	if credit.Owner != tx.Sender() {
		return ErrNotCreditOwner
	}
	if !r.associations[to] {
		return ErrNotAssociated
	}

	prev := *credit
	at := tx.Timestamp()
	credit.PreviousOwner = credit.Owner
	credit.Owner = to
	credit.TransferredAt = &at
	credit.Status = CreditStatusTransferred
	if tx.IsContract(to) {
		credit.Status = CreditStatusInCustody
	}
	tx.OnRevert(func() { *credit = prev })

	tx.Emit("CreditTransferred", map[string]string{
		"serial_number": strconv.FormatInt(serial, 10),
		"from":          string(prev.Owner),
		"to":            string(to),
	})
	return nil
}

// Views. Callers outside a transaction must run these inside ledger.Query.

// Credit returns a copy of the credit with the given serial
func (r *Registry) Credit(serial int64) (Credit, bool) {
	c, ok := r.credits[serial]
	if !ok {
		return Credit{}, false
	}
	return *c, true
}

// OwnerOf returns the current holder of a serial
func (r *Registry) OwnerOf(serial int64) (ledger.AccountID, bool) {
	c, ok := r.credits[serial]
	if !ok {
		return "", false
	}
	return c.Owner, true
}

// CreditsOwnedBy lists credits held by account, ordered by serial
func (r *Registry) CreditsOwnedBy(account ledger.AccountID) []Credit {
	var out []Credit
	for _, c := range r.credits {
		if c.Owner == account {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return out
}

// CreditsForProject lists credits minted for a project
func (r *Registry) CreditsForProject(projectRef uint64) []Credit {
	var out []Credit
	for _, c := range r.credits {
		if c.ProjectRef == projectRef {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	return out
}

// Collection returns the collection, if initialized
func (r *Registry) Collection() (Collection, bool) {
	if r.collection == nil {
		return Collection{}, false
	}
	return *r.collection, true
}

// TotalSupply returns the number of credits minted so far
func (r *Registry) TotalSupply() int64 {
	if r.collection == nil {
		return 0
	}
	return r.collection.TotalSupply
}

// IsAssociated reports whether account may receive credits
func (r *Registry) IsAssociated(account ledger.AccountID) bool {
	return r.associations[account]
}

// MintingAuthority returns the current holder of minting rights
func (r *Registry) MintingAuthority() ledger.AccountID {
	return r.mintingAuthority
}
