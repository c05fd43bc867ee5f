package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/TxnLab/stakepool/internal/lib/misc"
	"github.com/TxnLab/stakepool/internal/lib/token"
)

func GetKeyCmdOpts() *cli.Command {
	return &cli.Command{
		Name:    "key",
		Aliases: []string{"k"},
		Usage:   "Token service callback signing keys",
		Commands: []*cli.Command{
			{
				Name:    "generate",
				Aliases: []string{"g"},
				Usage:   "Generate a signing key, for a token service or for testing callbacks",
				Action:  KeyGenerate,
			},
			{
				Name:   "sign",
				Usage:  "Print the signature header value for a callback body (the TOKEN_SERVICE_MNEMONIC secret is the key)",
				Action: KeySign,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Usage:    "File holding the exact request body",
						Required: true,
					},
				},
			},
		},
	}
}

func KeyGenerate(ctx context.Context, command *cli.Command) error {
	signer := token.GenerateSigner()
	phrase, err := signer.Mnemonic()
	if err != nil {
		return err
	}
	fmt.Println("TOKEN_SERVICE_PUBKEY:", signer.Address())
	fmt.Println("TOKEN_SERVICE_MNEMONIC:", phrase)
	return nil
}

func KeySign(ctx context.Context, command *cli.Command) error {
	phrase := misc.GetSecret("TOKEN_SERVICE_MNEMONIC")
	if phrase == "" {
		return errors.New("TOKEN_SERVICE_MNEMONIC is not set")
	}
	signer, err := token.NewSignerFromMnemonic(phrase)
	if err != nil {
		return err
	}
	body, err := os.ReadFile(command.String("file"))
	if err != nil {
		return err
	}
	if App.netCfg.TokenServiceKey != "" && App.netCfg.TokenServiceKey != signer.Address() {
		misc.Warnf(App.logger, "signing key %s is not the configured token service key %s", signer.Address(), App.netCfg.TokenServiceKey)
	}
	fmt.Printf("%s: %s\n", token.SignatureHeader, signer.Sign(body))
	return nil
}
