package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/settlement-backend/pkg/ledger"
)

type fixture struct {
	ledger   *ledger.Ledger
	registry *Registry
	deployer ledger.AccountID
	alice    ledger.AccountID
	bob      ledger.AccountID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledger.New(ledger.Options{})
	f := &fixture{ledger: l}
	var err error
	f.deployer, err = l.CreateAccount(ledger.Hbar(10))
	require.NoError(t, err)
	f.alice, err = l.CreateAccount(ledger.Hbar(10))
	require.NoError(t, err)
	f.bob, err = l.CreateAccount(ledger.Hbar(10))
	require.NoError(t, err)
	f.registry = New(l.RegisterContract("registry"), f.deployer)
	return f
}

// exec runs fn as a call on the registry paid by payer
func (f *fixture) exec(t *testing.T, payer ledger.AccountID, fn func(tx *ledger.Tx) error) error {
	t.Helper()
	receipt, err := f.ledger.Submit(context.Background(), payer, ledger.Call{
		Contract: f.registry.Address(),
		Function: "test",
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			return nil, fn(tx)
		},
	})
	require.NoError(t, err)
	return receipt.Err()
}

func (f *fixture) createCollection(t *testing.T, maxSupply int64) ledger.AccountID {
	t.Helper()
	var token ledger.AccountID
	require.NoError(t, f.exec(t, f.deployer, func(tx *ledger.Tx) error {
		var err error
		token, err = f.registry.CreateCollection(tx, "Verified Carbon Credit", "VCC", "desc", maxSupply)
		return err
	}))
	return token
}

func (f *fixture) mint(t *testing.T, to ledger.AccountID, project uint64) (int64, error) {
	t.Helper()
	var serial int64
	err := f.exec(t, f.deployer, func(tx *ledger.Tx) error {
		var err error
		serial, err = f.registry.Mint(tx, to, project, 1)
		return err
	})
	return serial, err
}

func (f *fixture) associate(t *testing.T, who ledger.AccountID) {
	t.Helper()
	receipt, err := f.ledger.Submit(context.Background(), who, f.registry.AssociateCall())
	require.NoError(t, err)
	require.NoError(t, receipt.Err())
}

func TestMint_RequiresCollectionAndRights(t *testing.T) {
	f := newFixture(t)

	_, err := f.mint(t, f.alice, 1)
	assert.ErrorIs(t, err, ErrCollectionMissing)

	f.createCollection(t, 10)
	f.associate(t, f.alice)

	err = f.exec(t, f.alice, func(tx *ledger.Tx) error {
		_, err := f.registry.Mint(tx, f.alice, 1, 1)
		return err
	})
	assert.ErrorIs(t, err, ErrNotMintingAuthority)

	err = f.exec(t, f.deployer, func(tx *ledger.Tx) error {
		_, err := f.registry.Mint(tx, f.alice, 1, 3)
		return err
	})
	assert.ErrorIs(t, err, ErrBatchMint)
	assert.Zero(t, f.registry.TotalSupply())
}

func TestMint_SerialsAreMonotonic(t *testing.T) {
	f := newFixture(t)
	token := f.createCollection(t, 10)
	f.associate(t, f.alice)

	for want := int64(1); want <= 3; want++ {
		serial, err := f.mint(t, f.alice, uint64(want+10))
		require.NoError(t, err)
		assert.Equal(t, want, serial)
	}

	c, ok := f.registry.Credit(2)
	require.True(t, ok)
	assert.Equal(t, token, c.TokenID)
	assert.Equal(t, uint64(12), c.ProjectRef)
	assert.Equal(t, f.alice, c.Owner)
	assert.Equal(t, CreditStatusMinted, c.Status)
	assert.Equal(t, int64(3), f.registry.TotalSupply())
	assert.Len(t, f.registry.CreditsOwnedBy(f.alice), 3)
	assert.Len(t, f.registry.CreditsForProject(12), 1)
}

func TestMint_FailedMintDoesNotConsumeSerial(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, 10)
	f.associate(t, f.alice)

	_, err := f.mint(t, f.bob, 1)
	assert.ErrorIs(t, err, ErrNotAssociated)

	serial, err := f.mint(t, f.alice, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), serial)
}

func TestMint_MaxSupply(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, 1)
	f.associate(t, f.alice)

	_, err := f.mint(t, f.alice, 1)
	require.NoError(t, err)
	_, err = f.mint(t, f.alice, 2)
	assert.ErrorIs(t, err, ErrMaxSupplyReached)
}

func TestCreateCollection_Once(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, 10)

	err := f.exec(t, f.deployer, func(tx *ledger.Tx) error {
		_, err := f.registry.CreateCollection(tx, "x", "X", "", 10)
		return err
	})
	assert.ErrorIs(t, err, ErrCollectionExists)

	c, ok := f.registry.Collection()
	require.True(t, ok)
	assert.Equal(t, "VCC", c.Symbol)
	assert.Equal(t, f.registry.Address(), c.Treasury)
	assert.True(t, f.registry.IsAssociated(f.registry.Address()))
}

func TestTransferMintingRights_OneTime(t *testing.T) {
	f := newFixture(t)

	receipt, err := f.ledger.Submit(context.Background(), f.alice, f.registry.TransferMintingRightsCall(f.alice))
	require.NoError(t, err)
	assert.ErrorIs(t, receipt.Err(), ErrNotMintingAuthority)

	receipt, err = f.ledger.Submit(context.Background(), f.deployer, f.registry.TransferMintingRightsCall(f.alice))
	require.NoError(t, err)
	require.NoError(t, receipt.Err())
	assert.Equal(t, f.alice, f.registry.MintingAuthority())

	receipt, err = f.ledger.Submit(context.Background(), f.alice, f.registry.TransferMintingRightsCall(f.bob))
	require.NoError(t, err)
	assert.ErrorIs(t, receipt.Err(), ErrRightsAlreadyTransferred)
	assert.Equal(t, f.alice, f.registry.MintingAuthority())
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, 10)
	f.associate(t, f.alice)
	serial, err := f.mint(t, f.alice, 1)
	require.NoError(t, err)

	receipt, err := f.ledger.Submit(context.Background(), f.alice, f.registry.TransferCall(serial, f.bob))
	require.NoError(t, err)
	assert.ErrorIs(t, receipt.Err(), ErrNotAssociated)

	f.associate(t, f.bob)

	receipt, err = f.ledger.Submit(context.Background(), f.bob, f.registry.TransferCall(serial, f.bob))
	require.NoError(t, err)
	assert.ErrorIs(t, receipt.Err(), ErrNotCreditOwner)

	receipt, err = f.ledger.Submit(context.Background(), f.alice, f.registry.TransferCall(serial, f.bob))
	require.NoError(t, err)
	require.NoError(t, receipt.Err())

	c, _ := f.registry.Credit(serial)
	assert.Equal(t, f.bob, c.Owner)
	assert.Equal(t, f.alice, c.PreviousOwner)
	assert.Equal(t, CreditStatusTransferred, c.Status)
	require.NotNil(t, c.TransferredAt)

	receipt, err = f.ledger.Submit(context.Background(), f.alice, f.registry.TransferCall(99, f.bob))
	require.NoError(t, err)
	assert.ErrorIs(t, receipt.Err(), ErrUnknownSerial)
}

func TestAssociate_RequiresCollection(t *testing.T) {
	f := newFixture(t)

	receipt, err := f.ledger.Submit(context.Background(), f.alice, f.registry.AssociateCall())
	require.NoError(t, err)
	assert.ErrorIs(t, receipt.Err(), ErrCollectionMissing)

	f.createCollection(t, 10)
	f.associate(t, f.alice)
	f.associate(t, f.alice)
	assert.True(t, f.registry.IsAssociated(f.alice))
	assert.False(t, f.registry.IsAssociated(f.bob))
}
