package cli

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"banksync/internal/core"
	"banksync/internal/services"
	"banksync/internal/worker"
)

func parseAccountID(v string) (int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("account id must be a positive integer, got %q", v)
	}
	return id, nil
}

func newSyncCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <account-id>",
		Short: "Synchronize one account now",
		Long: `Synchronize one account now. Without --from/--to the trailing default
window is used. With --queue the sync is published to the broker instead of
running in this process.`,
		Example: `  bankctl sync 42
  bankctl sync 42 --from 2026-10-01 --to 2026-10-15`,
		Args: cobra.ExactArgs(1),
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			queue, _ := cmd.Flags().GetBool("queue")

			var opts services.SyncOptions
			if opts.Start, err = parseDay("from", from); err != nil {
				return err
			}
			if opts.End, err = parseDay("to", to); err != nil {
				return err
			}
			if !opts.End.IsZero() {
				opts.End = opts.End.Add(24*time.Hour - time.Nanosecond)
			}

			a, err := s.App(cmd.Context())
			if err != nil {
				return err
			}
			var d worker.Dispatcher = a.Direct
			if queue {
				client, err := a.ConnectBroker(cmd.Context())
				if err != nil {
					return fmt.Errorf("broker unavailable: %w", err)
				}
				d = worker.NewQueueDispatcher(client)
			}

			res, err := d.Dispatch(cmd.Context(), id, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}),
	}
	cmd.Flags().String("from", "", "First day of the window (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "Last day of the window, inclusive (YYYY-MM-DD)")
	cmd.Flags().Bool("queue", false, "Publish to the broker instead of syncing in-process")
	return cmd
}

func newCredentialsCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage encrypted bank credentials",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <account-id> <field> <value>",
		Short: "Encrypt and store one credential field",
		Long: `Encrypt and store one credential field. Only the named field is
replaced; other fields of the account keep their sealed values.`,
		Example: `  bankctl credentials set 42 password 's3cret'`,
		Args:    cobra.ExactArgs(3),
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			field := strings.TrimSpace(args[1])
			if field == "" {
				return fmt.Errorf("field name is required")
			}

			a, err := s.App(cmd.Context())
			if err != nil {
				return err
			}
			sealed, err := a.Vault.Encrypt(args[2])
			if err != nil {
				return err
			}
			if err := a.Store.UpdateCredentialField(cmd.Context(), id, field, sealed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credential %q updated for account %d\n", field, id)
			return nil
		}),
	})
	return cmd
}

func newAccountsCommand(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Register accounts and inspect stored transactions",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Register a bank account",
		Example: `  bankctl accounts add --bank ziraat --number 12345 \
    --cred customer_no=42 --cred username=ali --cred password=s3cret`,
		Args: cobra.NoArgs,
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			bank, _ := cmd.Flags().GetString("bank")
			number, _ := cmd.Flags().GetString("number")
			iban, _ := cmd.Flags().GetString("iban")
			currency, _ := cmd.Flags().GetString("currency")
			pairs, _ := cmd.Flags().GetStringToString("cred")

			if strings.TrimSpace(number) == "" && strings.TrimSpace(iban) == "" {
				return fmt.Errorf("one of --number or --iban is required")
			}

			a, err := s.App(cmd.Context())
			if err != nil {
				return err
			}
			bank = strings.ToLower(strings.TrimSpace(bank))
			if !slices.Contains(a.Registry.Codes(), bank) {
				return &core.UnknownBankError{Code: bank}
			}
			creds, err := a.Vault.EncryptFields(pairs)
			if err != nil {
				return err
			}
			id, err := a.Store.CreateAccount(cmd.Context(), core.BankAccount{
				BankCode:      bank,
				AccountNumber: number,
				IBAN:          iban,
				Currency:      currency,
				Credentials:   creds,
				IsActive:      true,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "account %d created\n", id)
			return nil
		}),
	}
	add.Flags().String("bank", "", "Bank code (ziraat, vakifbank, halkbank)")
	add.Flags().String("number", "", "Account number")
	add.Flags().String("iban", "", "IBAN")
	add.Flags().String("currency", "TRY", "Account currency")
	add.Flags().StringToString("cred", nil, "Credential field, repeatable (key=value)")
	_ = add.MarkFlagRequired("bank")
	cmd.AddCommand(add)

	txs := &cobra.Command{
		Use:   "transactions <account-id>",
		Short: "List the most recent stored transactions of an account",
		Args:  cobra.ExactArgs(1),
		RunE: s.run(func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")

			a, err := s.App(cmd.Context())
			if err != nil {
				return err
			}
			list, err := a.Store.ListTransactions(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tREF\tDIR\tAMOUNT\tCURRENCY\tDESCRIPTION")
			for _, tx := range list {
				date := tx.TransactionDate
				dir := "in"
				if tx.IsOutgoing() {
					dir = "out"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					formatTime(&date), tx.BankRefID, dir, tx.Amount.StringFixed(2), tx.Currency, tx.Description)
			}
			return tw.Flush()
		}),
	}
	txs.Flags().Int("limit", 20, "Number of transactions to show")
	cmd.AddCommand(txs)

	return cmd
}
