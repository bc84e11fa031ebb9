package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cyberguard/cyberguard/internal/auth"
)

// hashPasswordCmd prints a bcrypt hash.
var hashPasswordCmd = &cobra.Command{
	Use:     "hash-password <password>",
	Short:   "Print a bcrypt hash of a password",
	Example: `  cyberguard hash-password 's3cret'`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashPassword(args[0])
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
