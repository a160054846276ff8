package main

import (
	"fmt"
	"time"

	"library-catalog/library"

	"github.com/spf13/cobra"
)

func (a *app) loanCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "loan", Short: "Lend and take back copies"}

	var (
		customerID, copyID int64
		due                string
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Lend a copy to a customer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.require(cmd, library.CapIssueLoans)
			if err != nil {
				return err
			}
			dueDate := time.Now().AddDate(0, 0, a.cfg.Loans.DefaultDays)
			if due != "" {
				d, err := parseDate(due)
				if err != nil {
					return err
				}
				dueDate = *d
			}
			id, err := a.mgr.CreateLoan(cmd.Context(), u, library.LoanRequest{
				CustomerID: customerID,
				CopyID:     copyID,
				DueDate:    dueDate,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Loan %d created, due %s.\n", id, dueDate.Format(time.DateOnly))
			return nil
		},
	}
	createCmd.Flags().Int64Var(&customerID, "customer", 0, "customer user ID")
	createCmd.Flags().Int64Var(&copyID, "copy", 0, "copy ID (see 'copies')")
	createCmd.Flags().StringVar(&due, "due", "", "due date, YYYY-MM-DD (default: today plus LOAN_DEFAULT_DAYS)")

	returnCmd := &cobra.Command{
		Use:   "return <loan-id>",
		Short: "Take a copy back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.require(cmd, library.CapIssueLoans)
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "loan")
			if err != nil {
				return err
			}
			if err := a.mgr.ReturnLoan(cmd.Context(), u, id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Loan %d returned.\n", id)
			return nil
		},
	}

	var filter library.LoanFilter
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List loans; clients only see their own",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.login(cmd)
			if err != nil {
				return err
			}
			switch {
			case u.Role.Can(library.CapIssueLoans):
			case u.Role.Can(library.CapViewOwnLoans):
				filter.UserID = u.ID
			default:
				return fmt.Errorf("%s cannot %s: %w", u.Role, library.CapViewOwnLoans, library.ErrForbidden)
			}
			loans, err := a.mgr.ListLoans(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(loans)
			}
			today := time.Now()
			fmt.Fprintf(a.out, "%-6s %-6s %-6s %-30s %-10s %-10s %s\n",
				"Loan", "User", "Copy", "Title", "Borrowed", "Due", "Status")
			for _, l := range loans {
				status := "returned " + formatDate(l.ReturnedAt)
				switch {
				case l.Overdue(today):
					status = "OVERDUE"
				case l.Active():
					status = "on loan"
				}
				fmt.Fprintf(a.out, "%-6d %-6d %-6d %-30s %-10s %-10s %s\n",
					l.ID, l.UserID, l.CopyID, truncateString(l.BookTitle, 30),
					l.BorrowedAt.Format(time.DateOnly), l.DueDate.Format(time.DateOnly), status)
			}
			return nil
		},
	}
	listCmd.Flags().Int64Var(&filter.UserID, "customer", 0, "only this customer")
	listCmd.Flags().BoolVar(&filter.ActiveOnly, "active", false, "only loans not yet returned")

	cmd.AddCommand(createCmd, returnCmd, listCmd)
	return cmd
}

func (a *app) reserveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reserve <book-id>",
		Short: "Reserve a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.require(cmd, library.CapReserve)
			if err != nil {
				return err
			}
			bookID, err := parseID(args[0], "book")
			if err != nil {
				return err
			}
			id, err := a.mgr.ReserveBook(cmd.Context(), u, bookID)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Reservation %d created.\n", id)
			return nil
		},
	}
}

func (a *app) reservationCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "reservation", Short: "Follow reservations through pickup"}

	var filter library.ReservationFilter
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List reservations; clients only see their own",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.login(cmd)
			if err != nil {
				return err
			}
			if !u.Role.Can(library.CapManageReservations) {
				filter.UserID = u.ID
			}
			res, err := a.mgr.ListReservations(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(res)
			}
			for _, r := range res {
				fmt.Fprintf(a.out, "%-6d %-15s %-30s %-10s %s\n",
					r.ID, r.Username, truncateString(r.BookTitle, 30), r.CreatedAt.Format(time.DateOnly), r.Status)
			}
			return nil
		},
	}
	listCmd.Flags().Int64Var(&filter.UserID, "customer", 0, "only this customer")
	listCmd.Flags().BoolVar(&filter.ActiveOnly, "active", false, "only PENDING and READY")

	advanceCmd := &cobra.Command{
		Use:   "advance <reservation-id>",
		Short: "Move PENDING to READY, or READY to COMPLETED",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.require(cmd, library.CapManageReservations)
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "reservation")
			if err != nil {
				return err
			}
			next, err := a.mgr.AdvanceReservation(cmd.Context(), u, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Reservation %d is now %s.\n", id, next)
			return nil
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <reservation-id>",
		Short: "Cancel a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.login(cmd)
			if err != nil {
				return err
			}
			id, err := parseID(args[0], "reservation")
			if err != nil {
				return err
			}
			if err := a.mgr.CancelReservation(cmd.Context(), u, id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Reservation %d cancelled.\n", id)
			return nil
		},
	}

	cmd.AddCommand(listCmd, advanceCmd, cancelCmd)
	return cmd
}
