package cli

import (
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"carbon-gocli/internal/actions"
	"carbon-gocli/internal/carbon"
)

var updateOptions = []struct{ name, usage string }{
	{carbon.OptBuyPriceLow, "lowest price the buy order pays, quote per base"},
	{carbon.OptBuyPriceHigh, "highest price the buy order pays, quote per base"},
	{carbon.OptBuyBudget, "buy order budget, in quote token units"},
	{carbon.OptSellPriceLow, "lowest price the sell order accepts, quote per base"},
	{carbon.OptSellPriceHigh, "highest price the sell order accepts, quote per base"},
	{carbon.OptSellBudget, "sell order budget, in base token units"},
	{carbon.OptBuyPriceMarginal, "buy marginal price: a price, RESET or MAINTAIN"},
	{carbon.OptSellPriceMarginal, "sell marginal price: a price, RESET or MAINTAIN"},
}

// parseStrategyID accepts a non-negative base-10 integer.
func parseStrategyID(s string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(s, 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid strategy id %q", s)
	}
	return id, nil
}

func addUpdateFlags(fs *pflag.FlagSet) {
	for _, o := range updateOptions {
		fs.String(o.name, "", o.usage)
	}
}

// updateParams reads only the options the user actually passed. Marginal
// values other than RESET and MAINTAIN are passed through as literal prices.
func updateParams(fs *pflag.FlagSet, id *big.Int) (actions.UpdateParams, error) {
	values := make(map[string]string)
	p := actions.UpdateParams{StrategyID: id}
	for _, o := range updateOptions {
		f := fs.Lookup(o.name)
		if f == nil || !f.Changed {
			continue
		}
		switch o.name {
		case carbon.OptBuyPriceMarginal:
			p.BuyMarginal = carbon.ParseMarginalPrice(f.Value.String())
		case carbon.OptSellPriceMarginal:
			p.SellMarginal = carbon.ParseMarginalPrice(f.Value.String())
		default:
			values[o.name] = f.Value.String()
		}
	}
	req, err := carbon.NewUpdateRequest(values)
	if err != nil {
		return actions.UpdateParams{}, err
	}
	p.Request = req
	return p, nil
}

func writeReceipt(w io.Writer, r *types.Receipt) {
	status := "success"
	if r.Status != types.ReceiptStatusSuccessful {
		status = "reverted"
	}
	fmt.Fprintf(w, "tx %s mined in block %s: %s, gas used %d\n", r.TxHash.Hex(), r.BlockNumber, status, r.GasUsed)
}

func (a *app) newUpdateStrategyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "update-strategy <id>",
		Short:   "Update a strategy's prices, budgets or marginal prices",
		Example: "  carbon update-strategy 12345 --buyBudget 1000 --buyPriceMarginal MAINTAIN",
		Args:    cobra.ExactArgs(1),
		RunE: a.isolated(func(cmd *cobra.Command, args []string) error {
			id, err := parseStrategyID(args[0])
			if err != nil {
				return err
			}
			params, err := updateParams(cmd.Flags(), id)
			if err != nil {
				return err
			}

			s, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			a.log.Info().
				Str("strategy", params.StrategyID.String()).
				Stringer("request", params.Request).
				Str("buyMarginal", params.BuyMarginal.String()).
				Str("sellMarginal", params.SellMarginal.String()).
				Msg("updating strategy")
			receipt, err := actions.UpdateStrategy(cmd.Context(), s, params)
			if err != nil {
				return err
			}
			writeReceipt(cmd.OutOrStdout(), receipt)
			return nil
		}),
	}
	addUpdateFlags(cmd.Flags())
	return cmd
}

func proposeParams(args []string, governorFlag, description string, fs *pflag.FlagSet) (actions.ProposeParams, error) {
	id, err := parseStrategyID(args[len(args)-1])
	if err != nil {
		return actions.ProposeParams{}, err
	}
	up, err := updateParams(fs, id)
	if err != nil {
		return actions.ProposeParams{}, err
	}
	p := actions.ProposeParams{UpdateParams: up, Description: description}
	governor := governorFlag
	if len(args) == 2 {
		governor = args[0]
	}
	if governor != "" {
		if !common.IsHexAddress(governor) {
			return actions.ProposeParams{}, fmt.Errorf("invalid governor address %q", governor)
		}
		p.Governor = common.HexToAddress(governor)
	}
	return p, nil
}

func (a *app) newProposeUpdateStrategyCmd() *cobra.Command {
	var (
		governorFlag string
		description  string
	)
	cmd := &cobra.Command{
		Use:   "propose-update-strategy [<governor>] <id>",
		Short: "Propose a strategy update through the governor",
		Long: "Wraps the updateStrategy call into Governor.propose as a single zero-value action.\n" +
			"The governor is taken from the positional argument, then --governor, then\n" +
			"contracts.governor (CARBON_CONTRACTS_GOVERNOR). The network table ships no\n" +
			"governor, so one of them must be set.",
		Args: cobra.RangeArgs(1, 2),
		RunE: a.isolated(func(cmd *cobra.Command, args []string) error {
			params, err := proposeParams(args, governorFlag, description, cmd.Flags())
			if err != nil {
				return err
			}

			s, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := actions.ProposeUpdateStrategy(cmd.Context(), s, params)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			writeReceipt(out, res.Receipt)
			if res.ProposalID != nil {
				fmt.Fprintf(out, "proposal id %s\n", res.ProposalID)
			}
			return nil
		}),
	}
	addUpdateFlags(cmd.Flags())
	cmd.Flags().StringVar(&governorFlag, "governor", "", "governor address (overrides the network default)")
	cmd.Flags().StringVar(&description, "description", "", "proposal description (default \"Update strategy <id>\")")
	return cmd
}

func (a *app) newTransferStrategyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer-strategy <id>",
		Short: "Transfer a strategy voucher to the network timelock",
		Long: "Sends voucher.transferFrom(signer, timelock, id). The destination is always\n" +
			"contracts.timelock (CARBON_CONTRACTS_TIMELOCK); the network table ships none,\n" +
			"so it must be configured. The signer must hold the voucher.",
		Args: cobra.ExactArgs(1),
		RunE: a.isolated(func(cmd *cobra.Command, args []string) error {
			id, err := parseStrategyID(args[0])
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer s.Close()

			receipt, err := actions.TransferStrategy(cmd.Context(), s, id)
			if err != nil {
				return err
			}
			writeReceipt(cmd.OutOrStdout(), receipt)
			return nil
		}),
	}
}
