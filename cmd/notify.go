package cmd

import (
	"errors"
	"fmt"

	"api-vuln-dashboard/notifier"

	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Operator notification helpers",
}

var notifyTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test message to the configured Slack webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		slack := notifier.FromConfig(appConfig.Notification)
		if !slack.Enabled() {
			return errors.New("slack notifications are disabled, set notification.slack_enabled")
		}

		if err := slack.TestConnection(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Test message sent to Slack")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifyTestCmd)
}
