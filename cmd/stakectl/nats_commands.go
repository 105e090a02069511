package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/nftstake/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// subscribeCommand streams staking events for one owner, or for everyone.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to staking events",
		ArgsUsage: "[owner_address]",
		Description: `Subscribe to real-time staking events published to NATS JetStream.

Events are published to the subject staking.{owner} whenever a tracked
submission changes status. Without an owner, events for every owner are shown.

Example:
  stakectl nats subscribe 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "stakectl",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: owner address")
			}
			subject := natspkg.StreamSubjects
			if owner := c.Args().First(); owner != "" {
				subject = natspkg.Subject(owner)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return streamStakingEvents(ctx, c, subject)
		},
	}
}

func streamStakingEvents(ctx context.Context, c *cli.Context, subject string) error {
	natsURL := c.String("nats-url")
	structured := jsonOutput(c)

	nc, err := natspkg.Connect(natsURL, "stakectl")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if c.Bool("durable") {
		consumerConfig.Durable = c.String("consumer-name")
		consumerConfig.Name = c.String("consumer-name")
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !structured {
		fmt.Fprintf(os.Stderr, "Subscribing to %s on %s (Ctrl-C to exit)\n\n", subject, natsURL)
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.StakingEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				_ = msg.Ack()
				continue
			}
			count++

			if structured {
				if err := printResult(c, event); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(c.App.Writer, "[%s] %s %s %s (%s)\n",
					event.PublishedAt.Format(time.RFC3339),
					event.Owner,
					event.Action,
					event.Status,
					event.Signature,
				)
				if event.Error != nil {
					fmt.Fprintf(c.App.Writer, "    error: %s\n", *event.Error)
				}
			}
			_ = msg.Ack()

		case <-ctx.Done():
			if !structured {
				fmt.Fprintf(os.Stderr, "\nReceived %d events\n", count)
			}
			return nil
		}
	}
}

// inspectStreamCommand shows information about the staking JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the STAKING JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "stakectl")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			stream, err := js.Stream(ctx, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if jsonOutput(c) {
				return printResult(c, info)
			}
			out := c.App.Writer
			fmt.Fprintf(out, "Stream:       %s\n", info.Config.Name)
			fmt.Fprintf(out, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(out, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(out, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(out, "First Seq:    %d\n", info.State.FirstSeq)
			fmt.Fprintf(out, "Last Seq:     %d\n", info.State.LastSeq)
			fmt.Fprintf(out, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(out, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(out, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
