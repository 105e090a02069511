package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/nftstake/client"
	"github.com/brojonat/nftstake/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func sourceFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "source",
		Usage: "Where to read submissions from: api or db",
		Value: "api",
	}
}

func submissionsCommands() *cli.Command {
	return &cli.Command{
		Name:    "submissions",
		Aliases: []string{"subs"},
		Usage:   "Inspect tracked transaction submissions",
		Subcommands: []*cli.Command{
			listSubmissionsCommand(),
			getSubmissionCommand(),
			pendingSubmissionsCommand(),
		},
	}
}

func listSubmissionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List an owner's submissions, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "owner",
				Aliases:  []string{"o"},
				Usage:    "Wallet address",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of submissions",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of submissions to skip",
			},
			sourceFlag(),
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var subs []*client.Submission
			switch c.String("source") {
			case "api":
				apiClient, err := getAPIClient(c)
				if err != nil {
					return err
				}
				subs, err = apiClient.ListSubmissions(ctx, c.String("owner"), c.Int("limit"), c.Int("offset"))
				if err != nil {
					return err
				}
			case "db":
				store, closer, err := getStore(c)
				if err != nil {
					return err
				}
				defer closer()
				rows, err := store.ListSubmissionsByOwner(ctx, db.ListSubmissionsByOwnerParams{
					Owner:  c.String("owner"),
					Limit:  int32(c.Int("limit")),
					Offset: int32(c.Int("offset")),
				})
				if err != nil {
					return fmt.Errorf("failed to list submissions: %w", err)
				}
				subs = fromDBSubmissions(rows)
			default:
				return fmt.Errorf("unknown source %q: must be api or db", c.String("source"))
			}

			if jsonOutput(c) {
				return printResult(c, subs)
			}
			printSubmissionTable(c, subs)
			return nil
		},
	}
}

func getSubmissionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show one submission by signature",
		ArgsUsage: "SIGNATURE",
		Flags:     []cli.Flag{sourceFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}
			signature := c.Args().First()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			var sub *client.Submission
			switch c.String("source") {
			case "api":
				apiClient, err := getAPIClient(c)
				if err != nil {
					return err
				}
				sub, err = apiClient.GetSubmission(ctx, signature)
				if err != nil {
					if client.IsNotFound(err) {
						return fmt.Errorf("submission not found: %s", signature)
					}
					return err
				}
			case "db":
				store, closer, err := getStore(c)
				if err != nil {
					return err
				}
				defer closer()
				row, err := store.GetSubmission(ctx, signature)
				if err != nil {
					if errors.Is(err, db.ErrSubmissionNotFound) {
						return fmt.Errorf("submission not found: %s", signature)
					}
					return fmt.Errorf("failed to get submission: %w", err)
				}
				sub = fromDBSubmission(row)
			default:
				return fmt.Errorf("unknown source %q: must be api or db", c.String("source"))
			}

			if jsonOutput(c) {
				return printResult(c, sub)
			}
			printSubmission(c, sub)
			return nil
		},
	}
}

func pendingSubmissionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "List unsettled submissions straight from the database",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Only show submissions created more than this long ago",
				Value: time.Minute,
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of submissions",
				Value: 100,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			rows, err := store.ListPendingSubmissions(ctx, time.Now().Add(-c.Duration("older-than")), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list pending submissions: %w", err)
			}
			subs := fromDBSubmissions(rows)

			if jsonOutput(c) {
				return printResult(c, subs)
			}
			printSubmissionTable(c, subs)
			return nil
		},
	}
}

func printSubmissionTable(c *cli.Context, subs []*client.Submission) {
	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNATURE\tACTION\tMINT\tSTATUS\tUPDATED")
	for _, sub := range subs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			sub.Signature,
			sub.Action,
			formatOptional(sub.Mint),
			sub.Status,
			sub.UpdatedAt.Format(time.RFC3339),
		)
	}
	w.Flush()

	fmt.Fprintf(os.Stderr, "\nTotal: %d submissions\n", len(subs))
}

func printSubmission(c *cli.Context, sub *client.Submission) {
	out := c.App.Writer
	fmt.Fprintf(out, "Signature:  %s\n", sub.Signature)
	fmt.Fprintf(out, "Owner:      %s\n", sub.Owner)
	fmt.Fprintf(out, "Action:     %s\n", sub.Action)
	fmt.Fprintf(out, "Mint:       %s\n", formatOptional(sub.Mint))
	fmt.Fprintf(out, "User pool:  %s\n", sub.UserPool)
	fmt.Fprintf(out, "Status:     %s\n", sub.Status)
	if sub.Slot != nil {
		fmt.Fprintf(out, "Slot:       %d\n", *sub.Slot)
	}
	if sub.Error != nil {
		fmt.Fprintf(out, "Error:      %s\n", *sub.Error)
	}
	fmt.Fprintf(out, "Created:    %s\n", sub.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Updated:    %s\n", sub.UpdatedAt.Format(time.RFC3339))
}

func fromDBSubmission(s *db.Submission) *client.Submission {
	return &client.Submission{
		Signature: s.Signature,
		Owner:     s.Owner,
		Action:    s.Action,
		Mint:      s.Mint,
		UserPool:  s.UserPool,
		Status:    s.Status,
		Slot:      s.Slot,
		Error:     s.Error,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func fromDBSubmissions(rows []*db.Submission) []*client.Submission {
	out := make([]*client.Submission, len(rows))
	for i, row := range rows {
		out[i] = fromDBSubmission(row)
	}
	return out
}

// getStore connects to --database-url. The returned func closes the pool.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool, nil), pool.Close, nil
}
