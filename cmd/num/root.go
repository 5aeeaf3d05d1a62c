package num

import (
	"github.com/ValentinKolb/dRPC/cmd/util"
	"github.com/ValentinKolb/dRPC/rpc/client"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/spf13/cobra"
)

var (
	rpcClient  *client.RpcClient
	rpcChannel *client.RpcChannel

	// NumCommands represents the NumService command group
	NumCommands = &cobra.Command{
		Use:                "num",
		Short:              "Call the NumService of a dRPC server",
		PersistentPreRunE:  setupNumClient,
		PersistentPostRunE: closeNumClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the num command
	util.SetupRPCClientFlags(NumCommands)

	// Add subcommands
	NumCommands.AddCommand(addCmd)
	NumCommands.AddCommand(minusCmd)
	NumCommands.AddCommand(perfTestCmd)
}

// setupNumClient starts the RPC client and opens the channel to the server
func setupNumClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	// Get client configuration components
	config := util.GetClientConfig()
	if err := common.InitLoggers(config.LogLevel); err != nil {
		return err
	}

	// Get serializer and transport
	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetClientConnector()
	if err != nil {
		return err
	}

	// Create the client, the connection is opened by the first call
	rpcClient = client.NewRpcClient(config, t, s)
	rpcClient.Start()
	rpcChannel = rpcClient.NewChannel(util.GetEndpoint())

	return nil
}

// closeNumClient closes the channel and stops the client
func closeNumClient(_ *cobra.Command, _ []string) error {
	if rpcChannel != nil {
		rpcChannel.Close()
	}
	if rpcClient != nil {
		rpcClient.End()
	}
	return nil
}
