package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"easel/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if resp.Message != "" {
					fmt.Fprintln(out, resp.Message)
					return nil
				}
				if !resp.Sent {
					fmt.Fprintln(out, "Notification not sent (is notifications.ntfy_topic configured?)")
					return nil
				}
				fmt.Fprintln(out, "Test notification sent")
				return nil
			})
		},
	}
}
