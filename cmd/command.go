package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetiot/core/ingestion"
	coremqtt "github.com/kilianp07/fleetiot/core/mqtt"
	"github.com/kilianp07/fleetiot/infra/mqtt"
)

var (
	commandUser string
	commandWait time.Duration
)

var commandCmd = &cobra.Command{
	Use:   "command <site> <device> <unlock|lock|locate>",
	Short: "Send one command to a device",
	Args:  cobra.ExactArgs(3),
	RunE:  runCommand,
}

func init() {
	commandCmd.Flags().StringVar(&commandUser, "user", "", "user requesting the command")
	commandCmd.Flags().DurationVar(&commandWait, "wait", 5*time.Second, "time to wait for the response, 0 to not wait")
	rootCmd.AddCommand(commandCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	site, device, action := args[0], args[1], args[2]
	cfg, err := setup()
	if err != nil {
		return err
	}
	codec, err := mqtt.NewCodec(cfg.MQTT.Codec)
	if err != nil {
		return err
	}
	mcfg := cfg.MQTT
	mcfg.ClientID = cfg.MQTT.ClientID + "-cli"
	client := mqtt.NewClient(mcfg, "command")
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), commandWait+time.Duration(mcfg.ConnectTimeoutMS)*time.Millisecond)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return err
	}
	svc := ingestion.NewService(cfg.Ingestion, client, codec, nil, nil)
	responses := svc.CommandResponses()
	if commandWait > 0 {
		if err := client.Subscribe(coremqtt.CommandResponseTopic(site, device), svc.HandleCommandResponse); err != nil {
			return err
		}
	}
	sent, err := svc.SendCommand(ctx, site, device, action, commandUser)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "sent %s %s to %s/%s\n", sent.CommandID, action, site, device)
	if commandWait <= 0 {
		return nil
	}
	timeout := time.After(commandWait)
	for {
		select {
		case r := <-responses:
			if r.CommandID != sent.CommandID {
				continue
			}
			fmt.Fprintf(out, "response success=%t payload=%v\n", r.Success, r.Payload)
			if !r.Success {
				return fmt.Errorf("command %s failed", sent.CommandID)
			}
			return nil
		case <-timeout:
			return fmt.Errorf("no response within %s", commandWait)
		}
	}
}
