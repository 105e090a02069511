package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/brojonat/nftstake/service/staking"
	"github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"
)

func poolCommands() *cli.Command {
	return &cli.Command{
		Name:  "pool",
		Usage: "Inspect user pools directly over RPC",
		Subcommands: []*cli.Command{
			poolAddressCommand(),
			poolStateCommand(),
			poolXPCommand(),
		},
	}
}

func poolAddressCommand() *cli.Command {
	return &cli.Command{
		Name:      "address",
		Usage:     "Derive the program addresses for an owner",
		ArgsUsage: "OWNER",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mint",
				Usage: "NFT mint, to include the metadata and token accounts",
			},
		},
		Action: func(c *cli.Context) error {
			owner, err := ownerArg(c)
			if err != nil {
				return err
			}
			programID, err := programIDFlag(c)
			if err != nil {
				return err
			}

			var mint *solana.PublicKey
			if raw := c.String("mint"); raw != "" {
				m, err := solana.PublicKeyFromBase58(raw)
				if err != nil {
					return fmt.Errorf("invalid mint: %w", err)
				}
				mint = &m
			}

			addrs, err := staking.DeriveAddresses(programID, owner, mint)
			if err != nil {
				return fmt.Errorf("failed to derive addresses: %w", err)
			}

			if jsonOutput(c) {
				return printResult(c, addrs)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Program:\t%s\n", programID)
			fmt.Fprintf(w, "Owner:\t%s\n", addrs.Owner)
			fmt.Fprintf(w, "User pool:\t%s\n", addrs.UserPool)
			fmt.Fprintf(w, "Global authority:\t%s (bump %d)\n", addrs.GlobalAuthority, addrs.GlobalBump)
			if addrs.Mint != nil {
				fmt.Fprintf(w, "Mint:\t%s\n", *addrs.Mint)
				fmt.Fprintf(w, "Metadata:\t%s\n", *addrs.Metadata)
				fmt.Fprintf(w, "User token account:\t%s\n", *addrs.UserTokenAccount)
				fmt.Fprintf(w, "Dest token account:\t%s\n", *addrs.DestTokenAccount)
			}
			return w.Flush()
		},
	}
}

func poolStateCommand() *cli.Command {
	return &cli.Command{
		Name:      "state",
		Usage:     "Fetch and decode an owner's user pool",
		ArgsUsage: "OWNER",
		Action: func(c *cli.Context) error {
			owner, err := ownerArg(c)
			if err != nil {
				return err
			}
			stakingClient, err := getStakingClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			pool, err := stakingClient.GetUserPoolState(ctx, owner)
			if err != nil {
				if errors.Is(err, staking.ErrUserPoolNotFound) {
					return fmt.Errorf("no user pool for %s (run `stakectl tx init`)", owner)
				}
				return fmt.Errorf("failed to load user pool: %w", err)
			}

			addr, err := staking.UserPoolAddress(owner, stakingClient.ProgramID())
			if err != nil {
				return err
			}
			view := pool.View(addr)

			if jsonOutput(c) {
				return printResult(c, view)
			}

			fmt.Fprintf(c.App.Writer, "User pool:  %s\n", view.Address)
			fmt.Fprintf(c.App.Writer, "Owner:      %s\n", view.Owner)
			fmt.Fprintf(c.App.Writer, "XP gained:  %d\n", view.XPGained)
			fmt.Fprintf(c.App.Writer, "Staked:     %d\n\n", view.ItemCount)

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NFT\tSTAKED AT")
			for _, item := range view.Items {
				fmt.Fprintf(w, "%s\t%s\n", item.NftAddr, item.StakeTime.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func poolXPCommand() *cli.Command {
	return &cli.Command{
		Name:      "xp",
		Usage:     "Show the experience points accrued in an owner's pool",
		ArgsUsage: "OWNER",
		Action: func(c *cli.Context) error {
			owner, err := ownerArg(c)
			if err != nil {
				return err
			}
			stakingClient, err := getStakingClient(c)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			xp, err := stakingClient.GetXPGained(ctx, owner)
			if err != nil {
				return fmt.Errorf("failed to get xp: %w", err)
			}

			if jsonOutput(c) {
				return printResult(c, map[string]interface{}{
					"owner":     owner.String(),
					"xp_gained": xp,
				})
			}
			fmt.Fprintf(c.App.Writer, "%d\n", xp)
			return nil
		},
	}
}

func ownerArg(c *cli.Context) (solana.PublicKey, error) {
	if c.NArg() != 1 {
		return solana.PublicKey{}, fmt.Errorf("requires exactly one argument: owner address")
	}
	owner, err := solana.PublicKeyFromBase58(c.Args().First())
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid owner address: %w", err)
	}
	return owner, nil
}

func programIDFlag(c *cli.Context) (solana.PublicKey, error) {
	raw := c.String("program-id")
	if raw == "" {
		return staking.DefaultProgramID, nil
	}
	id, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid program-id: %w", err)
	}
	return id, nil
}

// getStakingClient builds a staking client against --rpc-url.
func getStakingClient(c *cli.Context) (*staking.Client, error) {
	rpcURL := c.String("rpc-url")
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc-url is required (set SOLANA_RPC_URL env var or use --rpc-url)")
	}
	programID, err := programIDFlag(c)
	if err != nil {
		return nil, err
	}
	return staking.NewClient(staking.NewRPCClient(rpcURL), staking.ClientConfig{
		ProgramID: programID,
		Endpoint:  staking.EndpointLabel(rpcURL),
	}, nil, cliLogger()), nil
}
