package object

import (
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/dObj/cmd/util"
	"github.com/ValentinKolb/dObj/om/common"
	"github.com/spf13/cobra"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [file]",
		Short: "Stores the content of a file as object and prints its id",
		Long:  "Stores the content of a file as object and prints its id. The id is the SHA-1 of the content. Use - to read from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to read object data: %w", err)
			}

			id := common.ObjectIDFromData(data)
			if err := localClient.Put(id, data); err != nil {
				return err
			}
			fmt.Println(id.Hex())
			return nil
		},
	}
	transferCmd = &cobra.Command{
		Use:   "transfer [object-id] [peer]",
		Short: "Pushes a stored object to another node",
		Long:  "Pushes a stored object to another node. The peer is either a node name or the hex form of its client id.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := common.ObjectIDFromHex(args[0])
			if err != nil {
				return fmt.Errorf("invalid object id: %w", err)
			}
			if err := localClient.Transfer(id, util.ParseClientID(args[1])); err != nil {
				return err
			}
			fmt.Println("transferred successfully")
			return nil
		},
	}
)
