// v1
// cmd/riegod/cmd_operator.go
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Rlpzx/auto-riego/internal/auth"
	"github.com/Rlpzx/auto-riego/internal/config"
)

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Manage operator credentials",
}

var operatorAddCmd = &cobra.Command{
	Use:   "add [username]",
	Short: "Add an operator to the credential file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOperatorAdd,
}

var operatorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered operators",
	RunE:  runOperatorList,
}

func init() {
	rootCmd.AddCommand(operatorCmd)
	operatorCmd.AddCommand(operatorAddCmd)
	operatorCmd.AddCommand(operatorListCmd)
}

func runOperatorAdd(cmd *cobra.Command, args []string) error {
	var username string
	if len(args) == 1 {
		username = strings.TrimSpace(args[0])
	} else {
		fmt.Print("Username: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("read username: %w", err)
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	fmt.Println()
	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("read password confirmation: %w", err)
	}
	fmt.Println()
	if string(password) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}

	path := config.OperatorsPath()
	ops, err := auth.LoadOperators(path)
	if err != nil {
		return err
	}
	op, err := ops.Add(username, string(password))
	if err != nil {
		return err
	}
	fmt.Printf("Operator added to %s\n", path)
	fmt.Printf("ID: %s\n", op.ID)
	fmt.Printf("Username: %s\n", op.Username)
	return nil
}

func runOperatorList(cmd *cobra.Command, args []string) error {
	path := config.OperatorsPath()
	ops, err := auth.LoadOperators(path)
	if err != nil {
		return err
	}
	list := ops.List()
	if len(list) == 0 {
		fmt.Printf("No operators in %s\n", path)
		return nil
	}
	for _, op := range list {
		fmt.Printf("%-20s %s  created %s\n", op.Username, op.ID, op.CreatedAt)
	}
	return nil
}
