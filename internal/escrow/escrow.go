package escrow

import (
	"sort"
	"strconv"

	"carbon-scribe/settlement-backend/internal/registry"
	"carbon-scribe/settlement-backend/pkg/ledger"
)

var (
	ErrNotAdmin          = ledger.Revert("caller is not the escrow admin")
	ErrNotVerifier       = ledger.Revert("caller is not the verifier")
	ErrFeeBelowMinimum   = ledger.Revert("fee below minimum")
	ErrFeeMismatch       = ledger.Revert("attached value does not match fee")
	ErrUnknownProject    = ledger.Revert("unknown project")
	ErrProjectNotPending = ledger.Revert("project is not pending")
	ErrNoCollectedFees   = ledger.Revert("no collected fees")
)

// Escrow is the escrow authority contract. It takes project submissions with
// a locked fee, lets the configured verifier resolve each exactly once and
// mints the project's credit through the registry on approval.
type Escrow struct {
	address       ledger.AccountID
	registry      *registry.Registry
	cfg           Config
	projects      map[uint64]*Project
	nextProjectID uint64
	tokenID       ledger.AccountID
	marketplace   ledger.AccountID
	collectedFees int64
}

// New creates the contract object at address
func New(address ledger.AccountID, reg *registry.Registry, cfg Config) (*Escrow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Escrow{
		address:       address,
		registry:      reg,
		cfg:           cfg,
		projects:      make(map[uint64]*Project),
		nextProjectID: 1,
	}, nil
}

// Address returns the contract address
func (e *Escrow) Address() ledger.AccountID {
	return e.address
}

// Config returns the deployment configuration
func (e *Escrow) Config() Config {
	return e.cfg
}

// SubmitProject records a new pending project and keeps the attached fee in
// contract custody. Returns the assigned project id.
func (e *Escrow) SubmitProject(tx *ledger.Tx, metadataReference string, fee int64) (uint64, error) {
	if fee < e.cfg.MinimumFee {
		return 0, ErrFeeBelowMinimum
	}
	if tx.Value() != fee {
		return 0, ErrFeeMismatch
	}

	id := e.nextProjectID
	e.projects[id] = &Project{
		ID:                id,
		Proposer:          tx.Sender(),
		MetadataReference: metadataReference,
		FeePaid:           fee,
		Status:            ProjectStatusPending,
		SubmittedAt:       tx.Timestamp(),
	}
	e.nextProjectID++
	tx.OnRevert(func() {
		delete(e.projects, id)
		e.nextProjectID--
	})

	tx.Emit("ProjectSubmitted", map[string]string{
		"project_id": strconv.FormatUint(id, 10),
		"proposer":   string(tx.Sender()),
		"fee":        strconv.FormatInt(fee, 10),
	})
	return id, nil
}

// ReviewProject resolves a pending project. Approval mints one credit to the
// proposer and returns its serial number; rejection applies the configured
// fee policy. The pending check and the transition happen in the same call,
// so a project can only ever be reviewed once.
func (e *Escrow) ReviewProject(tx *ledger.Tx, projectID uint64, approve bool) (int64, error) {
	if tx.Sender() != e.cfg.Verifier {
		return 0, ErrNotVerifier
	}
	p, ok := e.projects[projectID]
	if !ok {
		return 0, ErrUnknownProject
	}
	next := ProjectStatusRejected
	if approve {
		next = ProjectStatusApproved
	}
	if !p.Status.CanBecome(next) {
		return 0, ErrProjectNotPending
	}

	prev := *p
	prevCollected := e.collectedFees
	tx.OnRevert(func() {
		*p = prev
		e.collectedFees = prevCollected
	})

	var serial int64
	if approve {
		err := tx.Invoke(e.registry.Address(), func(tx *ledger.Tx) error {
			var err error
			serial, err = e.registry.Mint(tx, p.Proposer, p.ID, 1)
			return err
		})
		if err != nil {
			return 0, err
		}
		p.MintedSerial = &serial
		e.collectedFees += p.FeePaid
	} else {
		if e.cfg.RejectionFeePolicy == FeePolicyRefund && p.FeePaid > 0 {
			if err := tx.Transfer(p.Proposer, p.FeePaid); err != nil {
				return 0, err
			}
			p.FeeRefunded = true
		} else {
			e.collectedFees += p.FeePaid
		}
	}
	p.Status = next

	at := tx.Timestamp()
	p.Verifier = tx.Sender()
	p.ReviewedAt = &at

	tx.Emit("ProjectReviewed", map[string]string{
		"project_id":    strconv.FormatUint(p.ID, 10),
		"status":        string(p.Status),
		"serial_number": strconv.FormatInt(serial, 10),
	})
	return serial, nil
}

// InitCollection creates the credit collection through the registry. The
// escrow must already hold minting rights.
func (e *Escrow) InitCollection(tx *ledger.Tx, name, symbol, description string, maxSupply int64) (ledger.AccountID, error) {
	if tx.Sender() != e.cfg.Admin {
		return "", ErrNotAdmin
	}
	if e.tokenID != "" {
		return "", registry.ErrCollectionExists
	}

	var tokenID ledger.AccountID
	err := tx.Invoke(e.registry.Address(), func(tx *ledger.Tx) error {
		var err error
		tokenID, err = e.registry.CreateCollection(tx, name, symbol, description, maxSupply)
		return err
	})
	if err != nil {
		return "", err
	}

	e.tokenID = tokenID
	tx.OnRevert(func() { e.tokenID = "" })
	return tokenID, nil
}

// SetMarketplace links the marketplace contract credits are sold through
func (e *Escrow) SetMarketplace(tx *ledger.Tx, marketplace ledger.AccountID) error {
	if tx.Sender() != e.cfg.Admin {
		return ErrNotAdmin
	}
	if !tx.IsContract(marketplace) {
		return &ledger.RevertError{Status: ledger.StatusInvalidContractID, Reason: string(marketplace)}
	}
	prev := e.marketplace
	e.marketplace = marketplace
	tx.OnRevert(func() { e.marketplace = prev })
	return nil
}

// WithdrawCollectedFees pays consumed and forfeited fees out to the admin
func (e *Escrow) WithdrawCollectedFees(tx *ledger.Tx) (int64, error) {
	if tx.Sender() != e.cfg.Admin {
		return 0, ErrNotAdmin
	}
	amount := e.collectedFees
	if amount == 0 {
		return 0, ErrNoCollectedFees
	}
	if err := tx.Transfer(e.cfg.Admin, amount); err != nil {
		return 0, err
	}
	e.collectedFees = 0
	tx.OnRevert(func() { e.collectedFees = amount })
	return amount, nil
}

// Views. Callers outside a transaction must run these inside ledger.Query.

// Project returns a copy of a project
func (e *Escrow) Project(id uint64) (Project, bool) {
	p, ok := e.projects[id]
	if !ok {
		return Project{}, false
	}
	cp := *p
	if p.MintedSerial != nil {
		serial := *p.MintedSerial
		cp.MintedSerial = &serial
	}
	return cp, true
}

// Projects lists projects matching status (all when status is empty)
func (e *Escrow) Projects(status ProjectStatus) []Project {
	var out []Project
	for id := range e.projects {
		p, _ := e.Project(id)
		if status == "" || p.Status == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextProjectID is the id the next submission will receive
func (e *Escrow) NextProjectID() uint64 {
	return e.nextProjectID
}

// TokenID returns the collection token, empty before InitCollection
func (e *Escrow) TokenID() ledger.AccountID {
	return e.tokenID
}

// Marketplace returns the linked marketplace contract
func (e *Escrow) Marketplace() ledger.AccountID {
	return e.marketplace
}

// CollectedFees returns fees held for the admin
func (e *Escrow) CollectedFees() int64 {
	return e.collectedFees
}
