package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brojonat/nftstake/service/temporal"
	"github.com/urfave/cli/v2"
)

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		cliLogger(),
	)
}

func describeConfirmationCommand() *cli.Command {
	return &cli.Command{
		Name:      "describe",
		Usage:     "Describe the confirmation workflow for a signature",
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			desc, err := tc.DescribeConfirmation(ctx, c.Args().First())
			if err != nil {
				return err
			}

			if jsonOutput(c) {
				return printResult(c, desc)
			}
			fmt.Fprintf(c.App.Writer, "Workflow:  %s\n", desc.WorkflowID)
			fmt.Fprintf(c.App.Writer, "Run:       %s\n", desc.RunID)
			fmt.Fprintf(c.App.Writer, "Status:    %s\n", desc.Status)
			if desc.StartTime != nil {
				fmt.Fprintf(c.App.Writer, "Started:   %s\n", desc.StartTime.Format(time.RFC3339))
			}
			if desc.CloseTime != nil {
				fmt.Fprintf(c.App.Writer, "Closed:    %s\n", desc.CloseTime.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func confirmationResultCommand() *cli.Command {
	return &cli.Command{
		Name:      "result",
		Usage:     "Wait for a confirmation workflow and print its result",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the workflow",
				Value: 5 * time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			result, err := tc.GetConfirmationResult(ctx, c.Args().First())
			if err != nil {
				return err
			}

			if jsonOutput(c) {
				return printResult(c, result)
			}
			fmt.Fprintf(c.App.Writer, "Signature: %s\n", result.Signature)
			fmt.Fprintf(c.App.Writer, "Status:    %s\n", result.Status)
			fmt.Fprintf(c.App.Writer, "Polls:     %d\n", result.Polls)
			if result.Slot != nil {
				fmt.Fprintf(c.App.Writer, "Slot:      %d\n", *result.Slot)
			}
			fmt.Fprintf(c.App.Writer, "Error:     %s\n", formatOptional(result.Error))
			return nil
		},
	}
}
