package main

import (
	"fmt"
	"time"

	"library-catalog/library"

	"github.com/spf13/cobra"
)

// newPassword asks for the password of an account being created.
func (a *app) newPassword(username string) (string, error) {
	pw, err := a.readPassword(fmt.Sprintf("Password for new user %s: ", username))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return pw, nil
}

func (a *app) customerCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "customer", Short: "Register library customers"}

	var f library.CustomerForm
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Register a customer; the password is prompted for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.require(cmd, library.CapRegisterCustomers)
			if err != nil {
				return err
			}
			if f.Password, err = a.newPassword(f.Username); err != nil {
				return err
			}
			id, err := a.mgr.RegisterCustomer(cmd.Context(), u, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Registered customer %s with ID %d.\n", f.Username, id)
			return nil
		},
	}
	registerCmd.Flags().StringVar(&f.Username, "username", "", "login name, not only digits")
	registerCmd.Flags().StringVar(&f.FirstName, "first-name", "", "first name")
	registerCmd.Flags().StringVar(&f.LastName, "last-name", "", "last name")
	registerCmd.Flags().StringVar(&f.Email, "email", "", "gmail address")

	cmd.AddCommand(registerCmd)
	return cmd
}

func (a *app) userCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage accounts"}

	var f library.UserForm
	var role string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create an account with any role; the password is prompted for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.require(cmd, library.CapManageUsers)
			if err != nil {
				return err
			}
			f.Role = library.Role(role)
			if f.Password, err = a.newPassword(f.Username); err != nil {
				return err
			}
			id, err := a.mgr.CreateStaffUser(cmd.Context(), u, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created user %s with ID %d.\n", f.Username, id)
			return nil
		},
	}
	addCmd.Flags().StringVar(&f.Username, "username", "", "login name")
	addCmd.Flags().StringVar(&f.FirstName, "first-name", "", "first name")
	addCmd.Flags().StringVar(&f.LastName, "last-name", "", "last name")
	addCmd.Flags().StringVar(&f.Email, "email", "", "email address")
	addCmd.Flags().StringVar(&role, "role", "", "ADMIN, MANAGER or CLIENT")

	var listRole string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.login(cmd)
			if err != nil {
				return err
			}
			role := library.Role(listRole)
			// Desk staff look customers up to lend to them.
			if !u.Role.Can(library.CapManageUsers) {
				if !u.Role.Can(library.CapIssueLoans) {
					return fmt.Errorf("%s cannot %s: %w", u.Role, library.CapManageUsers, library.ErrForbidden)
				}
				role = library.RoleClient
			}
			users, err := a.mgr.ListUsers(cmd.Context(), role)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(users)
			}
			for _, usr := range users {
				fmt.Fprintf(a.out, "%-5d %-15s %-25s %-30s %s\n",
					usr.ID, usr.Username, truncateString(usr.FullName(), 25), usr.Email, usr.Role)
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&listRole, "role", "", "only this role")

	deleteCmd := &cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete an account that has nothing on loan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.require(cmd, library.CapManageUsers)
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "user")
			if err != nil {
				return err
			}
			if err := a.mgr.DeleteUser(cmd.Context(), u, id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Deleted user ID %d.\n", id)
			return nil
		},
	}

	cmd.AddCommand(addCmd, listCmd, deleteCmd)
	return cmd
}

type statsReport struct {
	*library.DashboardStats
	MaxOverdueDays int                   `json:"max_overdue_days"`
	TopBooks       []library.TopBook     `json:"top_books"`
	TopBorrowers   []library.TopBorrower `json:"top_borrowers"`
}

func (a *app) statsCommand() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Dashboard counters and rankings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.require(cmd, library.CapViewAnalytics); err != nil {
				return err
			}
			ctx := cmd.Context()
			var r statsReport
			var err error
			if r.DashboardStats, err = a.mgr.Stats(ctx); err != nil {
				return err
			}
			if r.MaxOverdueDays, err = a.mgr.MaxOverdueDays(ctx); err != nil {
				return err
			}
			if r.TopBooks, err = a.mgr.TopBorrowedBooks(ctx, top); err != nil {
				return err
			}
			if r.TopBorrowers, err = a.mgr.TopActiveBorrowers(ctx, top); err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(r)
			}

			s := r.DashboardStats
			fmt.Fprintf(a.out, "Books:          %d\n", s.TotalBooks)
			fmt.Fprintf(a.out, "Users:          %d\n", s.TotalUsers)
			fmt.Fprintf(a.out, "Copies:         %d (%d available, %d checked out)\n",
				s.TotalCopies, s.AvailableCopies, s.CheckedOutCopies)
			fmt.Fprintf(a.out, "Active loans:   %d\n", s.ActiveLoans)
			fmt.Fprintf(a.out, "Overdue loans:  %d (max %d days)\n", s.OverdueLoans, r.MaxOverdueDays)
			fmt.Fprintln(a.out, "\nMost borrowed books:")
			for i, b := range r.TopBooks {
				fmt.Fprintf(a.out, "  %d. %-40s %d\n", i+1, truncateString(b.Title, 40), b.Times)
			}
			fmt.Fprintln(a.out, "\nMost active borrowers:")
			for i, b := range r.TopBorrowers {
				fmt.Fprintf(a.out, "  %d. %-40s %d\n", i+1, truncateString(b.Name, 40), b.Loans)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 5, "entries per ranking")
	return cmd
}

func (a *app) activityCommand() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Recent activity, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.require(cmd, library.CapViewActivity); err != nil {
				return err
			}
			entries, err := a.mgr.RecentActivity(cmd.Context(), n)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(entries)
			}
			for _, e := range entries {
				fmt.Fprintf(a.out, "%s  %-12s %-20s %s\n",
					e.When.Local().Format(time.DateTime), e.Who, e.Action, e.Details)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 50, "number of entries")
	return cmd
}
