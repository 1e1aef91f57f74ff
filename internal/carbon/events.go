package carbon

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type EventKind string

const (
	EventPairCreated              EventKind = "PairCreated"
	EventStrategyCreated          EventKind = "StrategyCreated"
	EventStrategyUpdated          EventKind = "StrategyUpdated"
	EventStrategyDeleted          EventKind = "StrategyDeleted"
	EventTradingFeePPMUpdated     EventKind = "TradingFeePPMUpdated"
	EventPairTradingFeePPMUpdated EventKind = "PairTradingFeePPMUpdated"
)

var ErrUnknownEvent = errors.New("unknown event")

// EventTopics lists topic0 of every controller event the cache follows.
func EventTopics() []common.Hash {
	kinds := []EventKind{
		EventPairCreated, EventStrategyCreated, EventStrategyUpdated,
		EventStrategyDeleted, EventTradingFeePPMUpdated, EventPairTradingFeePPMUpdated,
	}
	out := make([]common.Hash, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, ControllerABI.Events[string(k)].ID)
	}
	return out
}

// Event is a decoded controller log. Only the fields of its Kind are set.
type Event struct {
	Kind        EventKind
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
	Removed     bool

	Pair     Pair
	PairID   *big.Int
	Strategy EncodedStrategy
	Reason   uint8
	FeePPM   uint32
}

type strategyEventData struct {
	Id     *big.Int
	Order0 EncodedOrder
	Order1 EncodedOrder
}

type strategyUpdatedData struct {
	Order0 EncodedOrder
	Order1 EncodedOrder
	Reason uint8
}

type feeUpdatedData struct {
	PrevFeePPM uint32
	NewFeePPM  uint32
}

func topicAddress(h common.Hash) common.Address { return common.BytesToAddress(h.Bytes()) }

func DecodeLog(vLog types.Log) (*Event, error) {
	if len(vLog.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	ev, err := ControllerABI.EventByID(vLog.Topics[0])
	if err != nil {
		return nil, ErrUnknownEvent
	}
	out := &Event{
		Kind:        EventKind(ev.Name),
		TxHash:      vLog.TxHash,
		BlockNumber: vLog.BlockNumber,
		LogIndex:    vLog.Index,
		Removed:     vLog.Removed,
	}
	indexed := 0
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed++
		}
	}
	if len(vLog.Topics) != indexed+1 {
		return nil, fmt.Errorf("%s: unexpected topics len=%d", ev.Name, len(vLog.Topics))
	}

	switch out.Kind {
	case EventPairCreated:
		out.PairID = new(big.Int).SetBytes(vLog.Topics[1].Bytes())
		out.Pair = Pair{Token0: topicAddress(vLog.Topics[2]), Token1: topicAddress(vLog.Topics[3])}

	case EventStrategyCreated, EventStrategyDeleted:
		var data strategyEventData
		if err := ControllerABI.UnpackIntoInterface(&data, ev.Name, vLog.Data); err != nil {
			return nil, fmt.Errorf("%s: %w", ev.Name, err)
		}
		out.Pair = Pair{Token0: topicAddress(vLog.Topics[2]), Token1: topicAddress(vLog.Topics[3])}
		out.Strategy = EncodedStrategy{
			ID:     data.Id,
			Owner:  topicAddress(vLog.Topics[1]),
			Token0: out.Pair.Token0,
			Token1: out.Pair.Token1,
			Order0: data.Order0,
			Order1: data.Order1,
		}

	case EventStrategyUpdated:
		var data strategyUpdatedData
		if err := ControllerABI.UnpackIntoInterface(&data, ev.Name, vLog.Data); err != nil {
			return nil, fmt.Errorf("%s: %w", ev.Name, err)
		}
		out.Pair = Pair{Token0: topicAddress(vLog.Topics[2]), Token1: topicAddress(vLog.Topics[3])}
		out.Reason = data.Reason
		out.Strategy = EncodedStrategy{
			ID:     new(big.Int).SetBytes(vLog.Topics[1].Bytes()),
			Token0: out.Pair.Token0,
			Token1: out.Pair.Token1,
			Order0: data.Order0,
			Order1: data.Order1,
		}

	case EventTradingFeePPMUpdated:
		var data feeUpdatedData
		if err := ControllerABI.UnpackIntoInterface(&data, ev.Name, vLog.Data); err != nil {
			return nil, fmt.Errorf("%s: %w", ev.Name, err)
		}
		out.FeePPM = data.NewFeePPM

	case EventPairTradingFeePPMUpdated:
		var data feeUpdatedData
		if err := ControllerABI.UnpackIntoInterface(&data, ev.Name, vLog.Data); err != nil {
			return nil, fmt.Errorf("%s: %w", ev.Name, err)
		}
		out.Pair = Pair{Token0: topicAddress(vLog.Topics[1]), Token1: topicAddress(vLog.Topics[2])}
		out.FeePPM = data.NewFeePPM

	default:
		return nil, ErrUnknownEvent
	}
	return out, nil
}
