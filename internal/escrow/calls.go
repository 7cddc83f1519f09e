package escrow

import "carbon-scribe/settlement-backend/pkg/ledger"

// SubmitProjectCall attaches fee and submits a project. Result 0 is the
// assigned project id.
func (e *Escrow) SubmitProjectCall(metadataReference string, fee int64) ledger.Call {
	return ledger.Call{
		Contract: e.address,
		Function: "submitProject",
		Payable:  fee,
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			id, err := e.SubmitProject(tx, metadataReference, fee)
			if err != nil {
				return nil, err
			}
			return []interface{}{id}, nil
		},
	}
}

// ReviewProjectCall approves or rejects a project. Result 0 is the minted
// serial (0 on rejection), result 1 the collection token.
func (e *Escrow) ReviewProjectCall(projectID uint64, approve bool) ledger.Call {
	return ledger.Call{
		Contract: e.address,
		Function: "reviewProject",
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			serial, err := e.ReviewProject(tx, projectID, approve)
			if err != nil {
				return nil, err
			}
			return []interface{}{serial, string(e.tokenID)}, nil
		},
	}
}

// InitCollectionCall creates the collection. Result 0 is the token id.
func (e *Escrow) InitCollectionCall(name, symbol, description string, maxSupply int64) ledger.Call {
	return ledger.Call{
		Contract: e.address,
		Function: "initCollection",
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			tokenID, err := e.InitCollection(tx, name, symbol, description, maxSupply)
			if err != nil {
				return nil, err
			}
			return []interface{}{string(tokenID)}, nil
		},
	}
}

// SetMarketplaceCall records the marketplace contract. Admin only.
func (e *Escrow) SetMarketplaceCall(marketplace ledger.AccountID) ledger.Call {
	return ledger.Call{
		Contract: e.address,
		Function: "setMarketplaceContract",
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			return nil, e.SetMarketplace(tx, marketplace)
		},
	}
}

// WithdrawCollectedFeesCall pays retained fees to the admin. Result 0 is the
// amount in tinybars.
func (e *Escrow) WithdrawCollectedFeesCall() ledger.Call {
	return ledger.Call{
		Contract: e.address,
		Function: "withdrawCollectedFees",
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			amount, err := e.WithdrawCollectedFees(tx)
			if err != nil {
				return nil, err
			}
			return []interface{}{amount}, nil
		},
	}
}
