package cmd

import (
	"errors"
	"fmt"

	"api-vuln-dashboard/models"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage dashboard users",
}

var (
	userName  string
	userEmail string
)

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user with the default risk weights",
	Long: `Create a dashboard user. Every OWASP category except "No Threat" gets the
default risk weight, which the user can change through the customisation API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if userName == "" || userEmail == "" {
			return errors.New("--name and --email are required")
		}

		database, err := openDatabase(appConfig)
		if err != nil {
			return err
		}
		defer database.Close()

		user := &models.User{Name: userName, Email: userEmail}
		if err := database.CreateUser(cmd.Context(), user); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Created user %d (%s <%s>)\n", user.ID, user.Name, user.Email)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)

	userAddCmd.Flags().StringVar(&userName, "name", "", "display name")
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "unique e-mail address")
}
