package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jholhewres/concierge/pkg/concierge/reminder"
	"github.com/spf13/cobra"
)

// newRemindersCmd creates the `concierge reminders` command group for
// operator access to the reminder store.
func newRemindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Inspect and manage stored reminders",
		Long: `Inspect and manage the reminder store directly.

Examples:
  concierge reminders list
  concierge reminders list --owner 5511999999999@s.whatsapp.net
  concierge reminders cancel 42`,
	}

	cmd.AddCommand(
		newRemindersListCmd(),
		newRemindersCancelCmd(),
	)

	return cmd
}

// openStore opens the reminder store from config.
func openStore(cmd *cobra.Command) (*reminder.SQLiteStore, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	return reminder.OpenStore(cfg.Reminders.DBPath)
}

func newRemindersListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending reminders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			owner, _ := cmd.Flags().GetString("owner")

			var pending []*reminder.Reminder
			if owner != "" {
				pending, err = store.ListPending(ctx, owner)
			} else {
				pending, err = store.ListAll(ctx)
			}
			if err != nil {
				return err
			}

			if len(pending) == 0 {
				fmt.Println("No pending reminders.")
				return nil
			}
			for _, r := range pending {
				fmt.Printf("#%d  %s  %s  %q\n",
					r.ID,
					r.RemindAt.Local().Format(time.RFC3339),
					r.SenderID,
					r.Message)
			}
			return nil
		},
	}

	cmd.Flags().String("owner", "", "only list reminders for this sender id")
	return cmd
}

func newRemindersCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending reminder by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid reminder id %q", args[0])
			}

			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			pending, err := store.ListAll(ctx)
			if err != nil {
				return err
			}
			for _, r := range pending {
				if r.ID == id {
					ok, err := store.Cancel(ctx, id, r.SenderID)
					if err != nil {
						return err
					}
					if ok {
						fmt.Printf("Reminder #%d cancelled.\n", id)
						return nil
					}
					break
				}
			}
			return fmt.Errorf("no pending reminder with id %d", id)
		},
	}
}
