package commands

// rpc sends one JSON-RPC request through the failover pools, handy for
// checking endpoints before pointing bots at them.

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"cryptobotics/internal/infra/config"

	"github.com/spf13/cobra"
)

var (
	rpcNetwork string
	rpcMethod  string
	rpcParams  string
)

var rpcCmd = &cobra.Command{
	Use:   "rpc",
	Short: "Send a raw JSON-RPC call to a network",
	Example: `  cryptobotics rpc --network ethereum --method eth_blockNumber
  cryptobotics rpc --network bsc --method eth_getBalance --params '["0x...", "latest"]'`,
	RunE: runRPC,
}

func init() {
	rpcCmd.Flags().StringVar(&rpcNetwork, "network", "ethereum", "network id")
	rpcCmd.Flags().StringVar(&rpcMethod, "method", "eth_blockNumber", "JSON-RPC method")
	rpcCmd.Flags().StringVar(&rpcParams, "params", "[]", "JSON array of params")
}

func runRPC(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var params []any
	if err := json.Unmarshal([]byte(rpcParams), &params); err != nil {
		return fmt.Errorf("--params must be a JSON array: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RPC.RequestTimeout*3)
	defer cancel()

	client := newChainClient(cfg, nil)
	raw, err := client.Call(ctx, rpcNetwork, rpcMethod, params...)
	if err != nil {
		return err
	}

	var pretty any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fmt.Fprintln(os.Stdout, string(raw))
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}
