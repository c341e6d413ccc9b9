package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Print the bcrypt hash of an admin token for ADMIN_TOKEN_HASH",
	Long: `Print the bcrypt hash of an admin token. The token is read from the
argument, or from the first line of stdin when no argument is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var token string
		if len(args) == 1 {
			token = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read token: %w", err)
			}
			token = line
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return errors.New("token is empty")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(hash))
		return nil
	},
}

