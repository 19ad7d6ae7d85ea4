package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/FreePeak/db-dispatch-server/pkg/client"
	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
)

var (
	serverURL string
	token     string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "dispatch-client",
	Short:         "Call a db-dispatch-server gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var invokeCmd = &cobra.Command{
	Use:     "invoke MODULE METHOD [PARAMS_JSON]",
	Short:   "Invoke a module method",
	Example: `  dispatch-client invoke modules.database.mongoClient find_one '{"cname":"users","query":{"name":"ann"}}'`,
	Args:    cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var params map[string]interface{}
		if len(args) == 3 {
			p, err := dispatch.DecodeParams([]byte(args[2]))
			if err != nil {
				return err
			}
			params = p
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		env, err := newClient().Invoke(ctx, args[0], args[1], params)
		if err != nil {
			return err
		}
		return printEnvelope(cmd, env)
	},
}

var modulesCmd = &cobra.Command{
	Use:   "modules [MODULE]",
	Short: "List the server's modules",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		env, err := newClient().Modules(ctx, name)
		if err != nil {
			return err
		}
		return printEnvelope(cmd, env)
	},
}

func newClient() *client.Client {
	return client.New(serverURL, client.WithToken(token))
}

func printEnvelope(cmd *cobra.Command, env dispatch.Envelope) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("call failed: %s", env.Message)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("DISPATCH_SERVER_URL", "http://localhost:8000"), "Gateway base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("API_X_TOKEN"), "X-Token value")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "Request timeout")
	rootCmd.AddCommand(invokeCmd, modulesCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
