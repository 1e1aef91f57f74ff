package carbon

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferGasLimit is the fixed gas limit used for voucher transfers.
const TransferGasLimit = 100_000

func TransferFromCalldata(from, to common.Address, id *big.Int) ([]byte, error) {
	data, err := VoucherABI.Pack("transferFrom", from, to, id)
	if err != nil {
		return nil, fmt.Errorf("pack transferFrom: %w", err)
	}
	return data, nil
}
