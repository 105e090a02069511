package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/nftstake/client"
	"github.com/brojonat/nftstake/service/staking"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func keypairFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "keypair",
		Aliases:  []string{"k"},
		Usage:    "Path to a Solana CLI keypair file",
		EnvVars:  []string{"STAKING_KEYPAIR"},
		Required: true,
	}
}

func mintFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "mint",
		Usage:    "NFT mint address",
		Required: required,
	}
}

func waitFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "wait",
			Usage: "Wait until the transaction is confirmed, finalized or failed",
		},
		&cli.DurationFlag{
			Name:  "wait-timeout",
			Usage: "How long --wait polls before giving up",
			Value: 2 * time.Minute,
		},
	}
}

func txCommands() *cli.Command {
	return &cli.Command{
		Name:  "tx",
		Usage: "Build, sign and send staking transactions",
		Subcommands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Create the user pool for the keypair's wallet",
				Flags:  append([]cli.Flag{keypairFlag()}, waitFlags()...),
				Action: runDirectAction(staking.ActionInit),
			},
			{
				Name:   "stake",
				Usage:  "Stake an NFT from the keypair's wallet",
				Flags:  append([]cli.Flag{keypairFlag(), mintFlag(true)}, waitFlags()...),
				Action: runDirectAction(staking.ActionStake),
			},
			{
				Name:   "withdraw",
				Usage:  "Withdraw a staked NFT back to the keypair's wallet",
				Flags:  append([]cli.Flag{keypairFlag(), mintFlag(true)}, waitFlags()...),
				Action: runDirectAction(staking.ActionWithdraw),
			},
			txBuildCommand(),
			txSendCommand(),
		},
	}
}

// runDirectAction signs with a local keypair and submits straight to the RPC node.
func runDirectAction(action staking.Action) cli.ActionFunc {
	return func(c *cli.Context) error {
		wallet, err := staking.LoadKeypairWallet(c.String("keypair"))
		if err != nil {
			return err
		}
		stakingClient, err := getStakingClient(c)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		var sig solana.Signature
		switch action {
		case staking.ActionInit:
			sig, err = stakingClient.InitUserPool(ctx, wallet)
		default:
			mint, perr := solana.PublicKeyFromBase58(c.String("mint"))
			if perr != nil {
				return fmt.Errorf("invalid mint: %w", perr)
			}
			setLoading := func(loading bool) {
				if loading && !jsonOutput(c) {
					fmt.Fprintf(os.Stderr, "sending %s transaction...\n", action)
				}
			}
			if action == staking.ActionStake {
				sig, err = stakingClient.StakeNFT(ctx, wallet, mint, setLoading)
			} else {
				sig, err = stakingClient.WithdrawNFT(ctx, wallet, mint, setLoading)
			}
		}
		if err != nil {
			return err
		}

		result := &staking.SignatureStatus{Signature: sig.String(), Status: staking.StatusSubmitted}
		if c.Bool("wait") {
			result, err = waitForSignature(c, stakingClient, sig)
			if err != nil {
				return err
			}
		}

		if jsonOutput(c) {
			return printResult(c, result)
		}
		fmt.Fprintf(c.App.Writer, "Signature: %s\n", result.Signature)
		fmt.Fprintf(c.App.Writer, "Status:    %s\n", result.Status)
		if result.Err != "" {
			fmt.Fprintf(c.App.Writer, "Error:     %s\n", result.Err)
		}
		return nil
	}
}

func waitForSignature(c *cli.Context, stakingClient *staking.Client, sig solana.Signature) (*staking.SignatureStatus, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("wait-timeout"))
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		st, err := stakingClient.SignatureStatus(ctx, sig)
		if err == nil && st.Status.Settled() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for %s to settle", sig)
		case <-ticker.C:
		}
	}
}

func txBuildCommand() *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "Ask the server for an unsigned transaction",
		ArgsUsage: "ACTION",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "owner",
				Usage:    "Wallet that will sign the transaction",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "mint",
				Usage: "NFT mint address (stake and withdraw)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: init, stake or withdraw")
			}
			apiClient, err := getAPIClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			unsigned, err := apiClient.BuildTransaction(ctx, c.Args().First(), c.String("owner"), c.String("mint"))
			if err != nil {
				return err
			}

			if jsonOutput(c) {
				return printResult(c, unsigned)
			}
			fmt.Fprintf(c.App.Writer, "Action:           %s\n", unsigned.Action)
			fmt.Fprintf(c.App.Writer, "Fee payer:        %s\n", unsigned.FeePayer)
			fmt.Fprintf(c.App.Writer, "Blockhash:        %s\n", unsigned.Blockhash)
			fmt.Fprintf(c.App.Writer, "Initializes pool: %t\n", unsigned.InitializesPool)
			fmt.Fprintf(c.App.Writer, "Transaction:\n%s\n", unsigned.Transaction)
			return nil
		},
	}
}

// txSendCommand is the server-mediated flow: build via the API, sign
// locally and hand the signed transaction back for submission and tracking.
func txSendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Build through the server, sign locally and submit through the server",
		ArgsUsage: "ACTION",
		Flags:     append([]cli.Flag{keypairFlag(), mintFlag(false)}, waitFlags()...),
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: init, stake or withdraw")
			}
			action, err := staking.ParseAction(c.Args().First())
			if err != nil {
				return err
			}
			wallet, err := staking.LoadKeypairWallet(c.String("keypair"))
			if err != nil {
				return err
			}
			apiClient, err := getAPIClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			unsigned, err := apiClient.BuildTransaction(ctx, string(action), wallet.PublicKey().String(), c.String("mint"))
			if err != nil {
				return err
			}
			tx, err := solana.TransactionFromBase64(unsigned.Transaction)
			if err != nil {
				return fmt.Errorf("failed to decode transaction: %w", err)
			}
			signed, err := wallet.SignTransaction(ctx, tx)
			if err != nil {
				return err
			}
			encoded, err := signed.ToBase64()
			if err != nil {
				return fmt.Errorf("failed to encode signed transaction: %w", err)
			}

			res, err := apiClient.Submit(ctx, encoded, string(action), c.String("mint"))
			if err != nil {
				return err
			}
			if res.Warning != "" {
				fmt.Fprintf(os.Stderr, "warning: %s\n", res.Warning)
			}

			var out interface{} = res
			if c.Bool("wait") {
				sub, err := apiClient.AwaitSubmission(context.Background(), res.Signature, c.Duration("wait-timeout"))
				if err != nil {
					return err
				}
				out = sub
			}

			if jsonOutput(c) {
				return printResult(c, out)
			}
			switch v := out.(type) {
			case *client.Submission:
				printSubmission(c, v)
			case *client.SubmitResult:
				fmt.Fprintf(c.App.Writer, "Signature: %s\n", v.Signature)
				fmt.Fprintf(c.App.Writer, "Status:    %s\n", v.Status)
				if v.WorkflowID != "" {
					fmt.Fprintf(c.App.Writer, "Workflow:  %s\n", v.WorkflowID)
				}
			}
			return nil
		},
	}
}

func getAPIClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	return client.NewClient(serverURL, &http.Client{Timeout: 30 * time.Second}, cliLogger()), nil
}
