package registry

import "carbon-scribe/settlement-backend/pkg/ledger"

// TransferMintingRightsCall builds the bootstrap call granting minting rights
func (r *Registry) TransferMintingRightsCall(to ledger.AccountID) ledger.Call {
	return ledger.Call{
		Contract: r.address,
		Function: "transferOwnership",
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			return nil, r.TransferMintingRights(tx, to)
		},
	}
}

// AssociateCall associates the payer with the collection token
func (r *Registry) AssociateCall() ledger.Call {
	return ledger.Call{
		Contract: r.address,
		Function: "associate",
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			return nil, r.Associate(tx)
		},
	}
}

// TransferCall moves a credit from the payer to another account
func (r *Registry) TransferCall(serial int64, to ledger.AccountID) ledger.Call {
	return ledger.Call{
		Contract: r.address,
		Function: "transferNft",
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			return nil, r.Transfer(tx, serial, to)
		},
	}
}
