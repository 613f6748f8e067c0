package object

import (
	"github.com/ValentinKolb/dObj/cmd/util"
	"github.com/ValentinKolb/dObj/om/client"
	"github.com/spf13/cobra"
)

var (
	localClient *client.LocalClient

	// ObjectCommands represents the object command group
	ObjectCommands = &cobra.Command{
		Use:                "object",
		Short:              "Put objects into a node and transfer them to other nodes",
		PersistentPreRunE:  setupLocalClient,
		PersistentPostRunE: closeLocalClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add the local socket flags to the object command
	util.SetupLocalClientFlags(ObjectCommands)

	// Add subcommands
	ObjectCommands.AddCommand(putCmd)
	ObjectCommands.AddCommand(transferCmd)
	ObjectCommands.AddCommand(perfTestCmd)
}

// setupLocalClient connects to the node's local socket
func setupLocalClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	localClient, err = client.DialLocal(*util.GetClientConfig())
	return err
}

func closeLocalClient(_ *cobra.Command, _ []string) error {
	if localClient == nil {
		return nil
	}
	return localClient.Close()
}
