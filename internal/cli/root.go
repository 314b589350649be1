package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "opsgate",
		Short:         "opsgate: local operations authorization gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("opsgate {{.Version}}\n")

	cmd.PersistentFlags().String("server", getenvDefault("OPSGATE_SERVER", "http://127.0.0.1:8080"), "opsgate server base URL")
	cmd.PersistentFlags().String("api-key", getenvDefault("OPSGATE_API_KEY", ""), "API key (sent as X-API-Key)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newExecCmd())
	cmd.AddCommand(newReceiptsCmd())
	cmd.AddCommand(newConfirmationsCmd())
	cmd.AddCommand(newEventsCmd())
	cmd.AddCommand(newPolicyCmd())

	return cmd
}

type clientConfig struct {
	serverAddr string
	apiKey     string
}

func getClientConfig(cmd *cobra.Command) *clientConfig {
	serverAddr, _ := cmd.Root().PersistentFlags().GetString("server")
	apiKey, _ := cmd.Root().PersistentFlags().GetString("api-key")
	if serverAddr == "" {
		serverAddr = "http://127.0.0.1:8080"
	}
	return &clientConfig{serverAddr: serverAddr, apiKey: apiKey}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
