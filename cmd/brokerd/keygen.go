package main

import (
	"fmt"

	cli "github.com/urfave/cli/v2"

	"github.com/uhyunpark/sparkswap-broker/pkg/crypto"
)

var keygenCmd = &cli.Command{
	Name:  "keygen",
	Usage: "Generate a relayer identity key",
	Action: func(c *cli.Context) error {
		signer, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		w := c.App.Writer
		fmt.Fprintf(w, "Public Key: %s\n", signer.PublicKeyHex())
		fmt.Fprintf(w, "Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())
		fmt.Fprintf(w, "Add to .env:\nRELAYER_IDENTITY_KEY=%s\n", signer.PrivateKeyHex())
		return nil
	},
}
