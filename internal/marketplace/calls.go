package marketplace

import "carbon-scribe/settlement-backend/pkg/ledger"

func (m *Marketplace) AssociateWithTokenCall(token ledger.AccountID) ledger.Call {
	return ledger.Call{
		Contract: m.address,
		Function: "associateWithToken",
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			return nil, m.AssociateWithToken(tx, token)
		},
	}
}

func (m *Marketplace) UpdateNftTokenAddressCall(token ledger.AccountID) ledger.Call {
	return ledger.Call{
		Contract: m.address,
		Function: "updateNftTokenAddress",
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			return nil, m.UpdateNftTokenAddress(tx, token)
		},
	}
}

// ListDepositedCreditCall lists a deposited credit. Result 0 is the listing id.
func (m *Marketplace) ListDepositedCreditCall(serial, price int64) ledger.Call {
	return ledger.Call{
		Contract: m.address,
		Function: "listDepositedCredit",
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			id, err := m.ListDepositedCredit(tx, serial, price)
			if err != nil {
				return nil, err
			}
			return []interface{}{id}, nil
		},
	}
}

// BuyCreditCall attaches payment and buys the active listing of serial.
// Result 0 is the listing id.
func (m *Marketplace) BuyCreditCall(serial, payment int64) ledger.Call {
	return ledger.Call{
		Contract: m.address,
		Function: "buyCredit",
		Payable:  payment,
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			id, err := m.BuyCredit(tx, serial)
			if err != nil {
				return nil, err
			}
			return []interface{}{id}, nil
		},
	}
}

// ClaimProceedsCall pays out proceeds. Result 0 is the amount paid.
func (m *Marketplace) ClaimProceedsCall(serial int64) ledger.Call {
	return ledger.Call{
		Contract: m.address,
		Function: "claimProceeds",
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			amount, err := m.ClaimProceeds(tx, serial)
			if err != nil {
				return nil, err
			}
			return []interface{}{amount}, nil
		},
	}
}

func (m *Marketplace) WithdrawListingCall(serial int64) ledger.Call {
	return ledger.Call{
		Contract: m.address,
		Function: "withdrawListing",
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			id, err := m.WithdrawListing(tx, serial)
			if err != nil {
				return nil, err
			}
			return []interface{}{id}, nil
		},
	}
}

func (m *Marketplace) WithdrawPlatformFeesCall() ledger.Call {
	return ledger.Call{
		Contract: m.address,
		Function: "withdrawPlatformFees",
		Invoke: func(tx *ledger.Tx) ([]interface{}, error) {
			amount, err := m.WithdrawPlatformFees(tx)
			if err != nil {
				return nil, err
			}
			return []interface{}{amount}, nil
		},
	}
}
