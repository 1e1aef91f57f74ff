package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"carbon-gocli/internal/cache"
	"carbon-gocli/internal/carbon"
	"carbon-gocli/internal/chain"
	"carbon-gocli/internal/ethutil"
	"carbon-gocli/internal/session"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func (a *app) newGetPairInfoCmd() *cobra.Command {
	var withStrategies bool
	cmd := &cobra.Command{
		Use:   "get-pair-info <token0> <token1>",
		Short: "Look up a cached pair (token order does not matter)",
		Args:  cobra.ExactArgs(2),
		RunE: a.isolated(func(cmd *cobra.Command, args []string) error {
			net := a.cfg.Network
			token0, err := net.Token(args[0])
			if err != nil {
				return err
			}
			token1, err := net.Token(args[1])
			if err != nil {
				return err
			}

			s, err := a.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			pair, ok := s.Cache.GetPair(token0, token1)
			if !ok {
				fmt.Fprintln(out, "not found")
				return nil
			}
			writePair(out, newSymbols(cmd.Context(), s), pair)
			if !withStrategies {
				return nil
			}
			return a.printStrategies(cmd, s, pair)
		}),
	}
	cmd.Flags().BoolVar(&withStrategies, "strategies", false, "also list the pair's strategies")
	return cmd
}

func (a *app) printStrategies(cmd *cobra.Command, s *session.Session, pair cache.Pair) error {
	ctx := cmd.Context()
	strategies, err := s.Cache.StrategiesByPair(ctx, pair.Token0, pair.Token1)
	if err != nil {
		return fmt.Errorf("strategies of %s: %w", pair.Key(), err)
	}
	baseDec, err := s.Decimals.Get(ctx, pair.Token0)
	if err != nil {
		return err
	}
	quoteDec, err := s.Decimals.Get(ctx, pair.Token1)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  strategies: %d\n", len(strategies))
	for _, st := range strategies {
		d := carbon.DecodeStrategy(st, baseDec, quoteDec)
		fmt.Fprintf(out, "  - id %s owner %s\n", d.ID, d.Owner)
		fmt.Fprintf(out, "    buy  low %s marginal %s high %s budget %s\n", d.BuyPriceLow, d.BuyPriceMarginal, d.BuyPriceHigh, d.BuyBudget)
		fmt.Fprintf(out, "    sell low %s marginal %s high %s budget %s\n", d.SellPriceLow, d.SellPriceMarginal, d.SellPriceHigh, d.SellBudget)
	}
	return nil
}

// symbols names tokens from the network table, falling back to the token's
// own ERC-20 symbol and then its address.
type symbols struct {
	ctx  context.Context
	s    *session.Session
	seen map[common.Address]string
}

func newSymbols(ctx context.Context, s *session.Session) *symbols {
	return &symbols{ctx: ctx, s: s, seen: make(map[common.Address]string)}
}

func (n *symbols) of(token common.Address) string {
	if name, ok := n.seen[token]; ok {
		return name
	}
	name := n.s.Config.Network.Symbol(token)
	if name == token.Hex() {
		sym, err := chain.Symbol(n.ctx, n.s.Backend, token)
		if err != nil {
			n.s.Log.Debug().Err(err).Str("token", token.Hex()).Msg("symbol lookup failed")
		} else if sym != "" {
			name = sym
		}
	}
	n.seen[token] = name
	return name
}

func writePair(w io.Writer, names *symbols, p cache.Pair) {
	fmt.Fprintf(w, "pair %s/%s\n", names.of(p.Token0), names.of(p.Token1))
	fmt.Fprintf(w, "  token0: %s\n", p.Token0.Hex())
	fmt.Fprintf(w, "  token1: %s\n", p.Token1.Hex())
	fmt.Fprintf(w, "  tradingFeePPM: %d\n", p.FeePPM)
}

func (a *app) newGetCachedPairsCmd() *cobra.Command {
	var (
		tokens string
		format string
	)
	cmd := &cobra.Command{
		Use:   "get-cached-pairs",
		Short: "Dump every cached pair",
		Args:  cobra.NoArgs,
		RunE: a.isolated(func(cmd *cobra.Command, _ []string) error {
			switch format {
			case formatText, formatJSON, formatYAML:
			default:
				return fmt.Errorf("invalid --format %q (want text, json or yaml)", format)
			}
			filter, err := ethutil.ParseAddressList(tokens, a.cfg.Network.Token)
			if err != nil {
				return err
			}

			s, err := a.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer s.Close()

			pairs := filterPairs(s.Cache.Pairs(), filter)
			return writePairs(cmd.OutOrStdout(), newSymbols(cmd.Context(), s), pairs, format)
		}),
	}
	cmd.Flags().StringVar(&tokens, "tokens", "", "only pairs containing any of these tokens (symbols or addresses, comma separated)")
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text|json|yaml")
	return cmd
}

// filterPairs keeps pairs that contain at least one of tokens. An empty
// filter keeps everything.
func filterPairs(pairs []cache.Pair, tokens []common.Address) []cache.Pair {
	if len(tokens) == 0 {
		return pairs
	}
	want := make(map[common.Address]struct{}, len(tokens))
	for _, t := range tokens {
		want[t] = struct{}{}
	}
	out := pairs[:0:0]
	for _, p := range pairs {
		_, ok0 := want[p.Token0]
		_, ok1 := want[p.Token1]
		if ok0 || ok1 {
			out = append(out, p)
		}
	}
	return out
}

type pairView struct {
	Name   string `json:"name" yaml:"name"`
	Token0 string `json:"token0" yaml:"token0"`
	Token1 string `json:"token1" yaml:"token1"`
	FeePPM uint32 `json:"tradingFeePPM" yaml:"tradingFeePPM"`
}

func writePairs(w io.Writer, names *symbols, pairs []cache.Pair, format string) error {
	views := make([]pairView, 0, len(pairs))
	for _, p := range pairs {
		views = append(views, pairView{
			Name:   names.of(p.Token0) + "/" + names.of(p.Token1),
			Token0: p.Token0.Hex(),
			Token1: p.Token1.Hex(),
			FeePPM: p.FeePPM,
		})
	}

	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(views); err != nil {
			return err
		}
		return enc.Close()
	}

	if len(views) == 0 {
		fmt.Fprintln(w, "no cached pairs")
		return nil
	}
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\tfeePPM=%d\n", v.Name, v.Token0, v.Token1, v.FeePPM)
	}
	fmt.Fprintf(w, "%d %s\n", len(views), plural(len(views), "pair"))
	return nil
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

