package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quakenotify/pkg/config"
	"quakenotify/pkg/envelope"
	"quakenotify/pkg/source"

	"github.com/spf13/cobra"
)

var (
	sendAddress      string
	sendKafkaBrokers []string
	sendKafkaTopic   string
	sendEventTime    string
	sendTimeout      time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send alarm|image <path> [label]|term|raw <payload>",
	Short: "Inject one envelope into a running dispatcher",
	Long:  "Encodes one envelope and writes it to the dispatcher's UDP socket, or to a Kafka topic when brokers are given.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := buildPayload(args, sendEventTime, time.Now())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if len(sendKafkaBrokers) > 0 {
			cfg := config.KafkaSourceConfig{Brokers: sendKafkaBrokers, Topic: sendKafkaTopic}
			if err := source.SendKafka(ctx, cfg, payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %q to kafka topic %s\n", payload, sendKafkaTopic)
			return nil
		}

		if err := source.Send(ctx, sendAddress, payload); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %q to %s\n", payload, sendAddress)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendAddress, "address", "127.0.0.1:8888", "dispatcher UDP address")
	sendCmd.Flags().StringSliceVar(&sendKafkaBrokers, "kafka-brokers", nil, "send to Kafka instead of UDP")
	sendCmd.Flags().StringVar(&sendKafkaTopic, "kafka-topic", "", "Kafka topic for --kafka-brokers")
	sendCmd.Flags().StringVar(&sendEventTime, "time", "", "event time for alarm (RFC3339 or epoch seconds, default now)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 5*time.Second, "write timeout")
}

func buildPayload(args []string, eventTime string, now time.Time) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("envelope kind is required")
	}

	switch strings.ToLower(args[0]) {
	case "alarm":
		at := now
		if strings.TrimSpace(eventTime) != "" {
			parsed, err := parseAt(eventTime)
			if err != nil {
				return nil, err
			}
			at = parsed
		}
		return envelope.Alarm(at).Encode(), nil
	case "image":
		if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
			return nil, fmt.Errorf("image requires a path")
		}
		label := ""
		if len(args) > 2 {
			label = strings.Join(args[2:], " ")
		}
		return envelope.Image(args[1], label).Encode(), nil
	case "term":
		return envelope.Terminate().Encode(), nil
	case "raw":
		if len(args) < 2 {
			return nil, fmt.Errorf("raw requires a payload")
		}
		return []byte(strings.Join(args[1:], " ")), nil
	default:
		return nil, fmt.Errorf("unknown envelope kind %q: want alarm|image|term|raw", args[0])
	}
}
