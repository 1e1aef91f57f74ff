package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Connect, sync the pair cache and report readiness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Bootstrap failures are the only ones that change the exit code.
			cmd.SilenceUsage = true
			s, err := a.open(cmd.Context(), true)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer s.Close()

			pairs, strategies := s.Cache.Counts()
			fmt.Fprintf(cmd.OutOrStdout(), "network %s (chain %s) ready: %d pairs, %d strategies, block %d\n",
				s.Config.Network.Name, s.ChainID, pairs, strategies, s.Cache.LatestBlock())
			a.log.Info().
				Str("network", s.Config.Network.Name).
				Int("pairs", pairs).
				Int("strategies", strategies).
				Msg("session ready")
			return nil
		},
	}
}
