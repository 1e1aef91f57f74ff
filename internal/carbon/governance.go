package carbon

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var proposalCreatedTopic = GovernorABI.Events["ProposalCreated"].ID

// ProposeCalldata wraps a single call into Governor.propose.
func ProposeCalldata(target common.Address, value *big.Int, calldata []byte, description string) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	data, err := GovernorABI.Pack("propose",
		[]common.Address{target},
		[]*big.Int{value},
		[][]byte{calldata},
		description,
	)
	if err != nil {
		return nil, fmt.Errorf("pack propose: %w", err)
	}
	return data, nil
}

// ProposalIDFromReceipt scans receipt logs emitted by governor for
// ProposalCreated. ok is false when the receipt carries no such event.
func ProposalIDFromReceipt(receipt *types.Receipt, governor common.Address) (id *big.Int, ok bool, err error) {
	if receipt == nil {
		return nil, false, fmt.Errorf("receipt required")
	}
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) == 0 || lg.Topics[0] != proposalCreatedTopic {
			continue
		}
		if lg.Address != governor {
			continue
		}
		vals, err := GovernorABI.Unpack("ProposalCreated", lg.Data)
		if err != nil {
			return nil, false, fmt.Errorf("decode ProposalCreated: %w", err)
		}
		id, isInt := vals[0].(*big.Int)
		if !isInt {
			return nil, false, fmt.Errorf("decode ProposalCreated: unexpected id %T", vals[0])
		}
		return id, true, nil
	}
	return nil, false, nil
}
