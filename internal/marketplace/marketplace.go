package marketplace

import (
	"sort"
	"strconv"

	"carbon-scribe/settlement-backend/internal/registry"
	"carbon-scribe/settlement-backend/pkg/ledger"
)

var (
	ErrNotAdmin            = ledger.Revert("caller is not the marketplace admin")
	ErrTokenAlreadyBound   = ledger.Revert("marketplace is bound to a different token")
	ErrTokenNotBound       = ledger.Revert("marketplace token not set")
	ErrUnknownToken        = ledger.Revert("token is not the registry collection")
	ErrInvalidPrice        = ledger.Revert("price must be positive")
	ErrNotDeposited        = ledger.Revert("credit not deposited by caller")
	ErrAlreadyListed       = ledger.Revert("credit already has an active listing")
	ErrListingNotFound     = ledger.Revert("no listing for serial number")
	ErrListingInactive     = ledger.Revert("listing is not active")
	ErrPaymentMismatch     = ledger.Revert("payment does not match price")
	ErrInsufficientPayment = ledger.Revert("payment below price")
	ErrSellerCannotBuy     = ledger.Revert("seller cannot buy own listing")
	ErrNotSeller           = ledger.Revert("caller is not the seller")
	ErrNotSold             = ledger.Revert("listing has not been sold")
	ErrAlreadyClaimed      = ledger.Revert("proceeds already claimed")
	ErrWithdrawalDisabled  = ledger.Revert("listing withdrawal is disabled")
	ErrNoPlatformFees      = ledger.Revert("no platform fees accrued")
	ErrNotFeeRecipient     = ledger.Revert("caller is not the fee recipient")
	ErrFeeOutOfRange       = ledger.Revert("platform fee outside listing price")
)

// Marketplace is the settlement engine contract. It lists credits that were
// deposited into its custody, sells them for attached payment and holds the
// seller's proceeds until they are claimed.
type Marketplace struct {
	address      ledger.AccountID
	registry     *registry.Registry
	cfg          Config
	token        ledger.AccountID
	associated   ledger.AccountID
	listings     map[uint64]*Listing
	bySerial     map[int64][]uint64
	active       map[int64]uint64
	nextID       uint64
	platformFees int64
}

// New creates the contract object at address
func New(address ledger.AccountID, reg *registry.Registry, cfg Config) (*Marketplace, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Marketplace{
		address:  address,
		registry: reg,
		cfg:      cfg,
		listings: make(map[uint64]*Listing),
		bySerial: make(map[int64][]uint64),
		active:   make(map[int64]uint64),
		nextID:   1,
	}, nil
}

// Address returns the contract address
func (m *Marketplace) Address() ledger.AccountID {
	return m.address
}

// Config returns the deployment configuration
func (m *Marketplace) Config() Config {
	return m.cfg
}

// AssociateWithToken associates the marketplace account with the credit
// collection so it can take custody of credits
func (m *Marketplace) AssociateWithToken(tx *ledger.Tx, token ledger.AccountID) error {
	if err := m.checkBinding(tx, m.associated, token); err != nil {
		return err
	}
	if m.associated == token {
		return nil
	}
	err := tx.Invoke(m.registry.Address(), func(tx *ledger.Tx) error {
		return m.registry.Associate(tx)
	})
	if err != nil {
		return err
	}
	m.associated = token
	tx.OnRevert(func() { m.associated = "" })
	return nil
}

// UpdateNftTokenAddress binds the marketplace to the credit collection. It
// binds once; repeating with the same token is a no-op.
func (m *Marketplace) UpdateNftTokenAddress(tx *ledger.Tx, token ledger.AccountID) error {
	if err := m.checkBinding(tx, m.token, token); err != nil {
		return err
	}
	if m.token == token {
		return nil
	}
	m.token = token
	tx.OnRevert(func() { m.token = "" })
	tx.Emit("TokenBound", map[string]string{"token_id": string(token)})
	return nil
}

func (m *Marketplace) checkBinding(tx *ledger.Tx, current, token ledger.AccountID) error {
	if tx.Sender() != m.cfg.Admin {
		return ErrNotAdmin
	}
	if current != "" && current != token {
		return ErrTokenAlreadyBound
	}
	c, ok := m.registry.Collection()
	if !ok || c.TokenID != token {
		return ErrUnknownToken
	}
	return nil
}

// ListDepositedCredit creates an active listing for a credit the caller has
// already transferred into marketplace custody
func (m *Marketplace) ListDepositedCredit(tx *ledger.Tx, serial, price int64) (uint64, error) {
	if m.token == "" {
		return 0, ErrTokenNotBound
	}
	if price <= 0 {
		return 0, ErrInvalidPrice
	}
	credit, ok := m.registry.Credit(serial)
	if !ok || credit.TokenID != m.token || credit.Owner != m.address || credit.PreviousOwner != tx.Sender() {
		return 0, ErrNotDeposited
	}
	if _, ok := m.active[serial]; ok {
		return 0, ErrAlreadyListed
	}

	id := m.nextID
	m.listings[id] = &Listing{
		ID:           id,
		SerialNumber: serial,
		Seller:       tx.Sender(),
		Price:        price,
		Active:       true,
		ListedAt:     tx.Timestamp(),
	}
	m.bySerial[serial] = append(m.bySerial[serial], id)
	m.active[serial] = id
	m.nextID++
	tx.OnRevert(func() {
		delete(m.listings, id)
		m.bySerial[serial] = m.bySerial[serial][:len(m.bySerial[serial])-1]
		delete(m.active, serial)
		m.nextID--
	})

	tx.Emit("CreditListed", map[string]string{
		"listing_id":    strconv.FormatUint(id, 10),
		"serial_number": strconv.FormatInt(serial, 10),
		"seller":        string(tx.Sender()),
		"price":         strconv.FormatInt(price, 10),
	})
	return id, nil
}

// BuyCredit settles the active listing for serial against the attached
// payment. The credit moves to the buyer; the seller's share stays in
// contract custody as proceeds until claimed.
func (m *Marketplace) BuyCredit(tx *ledger.Tx, serial int64) (uint64, error) {
	id, ok := m.active[serial]
	if !ok {
		if len(m.bySerial[serial]) == 0 {
			return 0, ErrListingNotFound
		}
		return 0, ErrListingInactive
	}
	l := m.listings[id]
	buyer := tx.Sender()
	if buyer == l.Seller {
		return 0, ErrSellerCannotBuy
	}

	paid := tx.Value()
	switch m.cfg.PaymentMatch {
	case PaymentMatchMinimum:
		if paid < l.Price {
			return 0, ErrInsufficientPayment
		}
	default:
		if paid != l.Price {
			return 0, ErrPaymentMismatch
		}
	}

	fee := PlatformFee(l.Price, m.cfg.FeeBasisPoints)
	if fee < 0 || fee > l.Price {
		return 0, ErrFeeOutOfRange
	}

	// the active flag flips before any nested call
	prev := *l
	prevFees := m.platformFees
	delete(m.active, serial)
	tx.OnRevert(func() {
		*l = prev
		m.active[serial] = id
		m.platformFees = prevFees
	})

	at := tx.Timestamp()
	l.Active = false
	l.Sold = true
	l.Buyer = buyer
	l.SoldAt = &at
	l.PlatformFee = fee
	l.Proceeds = l.Price - fee
	m.platformFees += fee

	err := tx.Invoke(m.registry.Address(), func(tx *ledger.Tx) error {
		return m.registry.Transfer(tx, serial, buyer)
	})
	if err != nil {
		return 0, err
	}
	if excess := paid - l.Price; excess > 0 {
		if err := tx.Transfer(buyer, excess); err != nil {
			return 0, err
		}
	}

	tx.Emit("CreditSold", map[string]string{
		"listing_id":    strconv.FormatUint(id, 10),
		"serial_number": strconv.FormatInt(serial, 10),
		"buyer":         string(buyer),
		"proceeds":      strconv.FormatInt(l.Proceeds, 10),
		"platform_fee":  strconv.FormatInt(fee, 10),
	})
	return id, nil
}

// ClaimProceeds pays the seller of a sold listing its held proceeds. It
// succeeds once per sale.
func (m *Marketplace) ClaimProceeds(tx *ledger.Tx, serial int64) (int64, error) {
	ids := m.bySerial[serial]
	if len(ids) == 0 {
		return 0, ErrListingNotFound
	}
	l := m.sellerListing(ids, tx.Sender())
	if l == nil {
		return 0, ErrNotSeller
	}
	if !l.Sold {
		return 0, ErrNotSold
	}
	if l.Claimed {
		return 0, ErrAlreadyClaimed
	}

	amount := l.Proceeds
	if amount > 0 {
		if err := tx.Transfer(l.Seller, amount); err != nil {
			return 0, err
		}
	}
	prev := *l
	at := tx.Timestamp()
	l.Proceeds = 0
	l.Claimed = true
	l.ClaimedAt = &at
	tx.OnRevert(func() { *l = prev })

	tx.Emit("ProceedsClaimed", map[string]string{
		"listing_id": strconv.FormatUint(l.ID, 10),
		"seller":     string(l.Seller),
		"amount":     strconv.FormatInt(amount, 10),
	})
	return amount, nil
}

// sellerListing picks the listing of seller for a serial: an unclaimed sale
// first, otherwise the most recent one
func (m *Marketplace) sellerListing(ids []uint64, seller ledger.AccountID) *Listing {
	var latest *Listing
	for i := len(ids) - 1; i >= 0; i-- {
		l := m.listings[ids[i]]
		if l.Seller != seller {
			continue
		}
		if l.Sold && !l.Claimed {
			return l
		}
		if latest == nil {
			latest = l
		}
	}
	return latest
}

// WithdrawListing cancels the seller's active listing and returns the credit
// to the seller
func (m *Marketplace) WithdrawListing(tx *ledger.Tx, serial int64) (uint64, error) {
	if !m.cfg.AllowWithdrawal {
		return 0, ErrWithdrawalDisabled
	}
	id, ok := m.active[serial]
	if !ok {
		if len(m.bySerial[serial]) == 0 {
			return 0, ErrListingNotFound
		}
		return 0, ErrListingInactive
	}
	l := m.listings[id]
	if l.Seller != tx.Sender() {
		return 0, ErrNotSeller
	}

	prev := *l
	delete(m.active, serial)
	tx.OnRevert(func() {
		*l = prev
		m.active[serial] = id
	})
	at := tx.Timestamp()
	l.Active = false
	l.Withdrawn = true
	l.WithdrawnAt = &at

	err := tx.Invoke(m.registry.Address(), func(tx *ledger.Tx) error {
		return m.registry.Transfer(tx, serial, l.Seller)
	})
	if err != nil {
		return 0, err
	}

	tx.Emit("ListingWithdrawn", map[string]string{
		"listing_id":    strconv.FormatUint(id, 10),
		"serial_number": strconv.FormatInt(serial, 10),
	})
	return id, nil
}

// WithdrawPlatformFees pays accrued platform fees to the fee recipient
func (m *Marketplace) WithdrawPlatformFees(tx *ledger.Tx) (int64, error) {
	if tx.Sender() != m.cfg.FeeRecipient {
		return 0, ErrNotFeeRecipient
	}
	amount := m.platformFees
	if amount == 0 {
		return 0, ErrNoPlatformFees
	}
	if err := tx.Transfer(m.cfg.FeeRecipient, amount); err != nil {
		return 0, err
	}
	m.platformFees = 0
	tx.OnRevert(func() { m.platformFees = amount })
	return amount, nil
}

// Views. Callers outside a transaction must run these inside ledger.Query.

// Listing returns a copy of a listing by id
func (m *Marketplace) Listing(id uint64) (Listing, bool) {
	l, ok := m.listings[id]
	if !ok {
		return Listing{}, false
	}
	return *l, true
}

// ActiveListing returns the active listing for serial, if any
func (m *Marketplace) ActiveListing(serial int64) (Listing, bool) {
	id, ok := m.active[serial]
	if !ok {
		return Listing{}, false
	}
	return m.Listing(id)
}

// LatestListing returns the most recent listing of serial
func (m *Marketplace) LatestListing(serial int64) (Listing, bool) {
	ids := m.bySerial[serial]
	if len(ids) == 0 {
		return Listing{}, false
	}
	return m.Listing(ids[len(ids)-1])
}

// Listings returns listings ordered by id. activeOnly filters to open ones.
func (m *Marketplace) Listings(activeOnly bool) []Listing {
	out := make([]Listing, 0, len(m.listings))
	for _, l := range m.listings {
		if activeOnly && !l.Active {
			continue
		}
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListingsBySeller returns every listing created by seller
func (m *Marketplace) ListingsBySeller(seller ledger.AccountID) []Listing {
	var out []Listing
	for _, l := range m.Listings(false) {
		if l.Seller == seller {
			out = append(out, l)
		}
	}
	return out
}

// Token returns the bound collection token
func (m *Marketplace) Token() ledger.AccountID {
	return m.token
}

// PlatformFees returns fees accrued and not yet withdrawn
func (m *Marketplace) PlatformFees() int64 {
	return m.platformFees
}

// HeldProceeds sums unclaimed proceeds across all listings
func (m *Marketplace) HeldProceeds() int64 {
	var total int64
	for _, l := range m.listings {
		total += l.Proceeds
	}
	return total
}
