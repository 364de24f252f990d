package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kevin07696/payment-reconciler/internal/app"
	"github.com/kevin07696/payment-reconciler/internal/converters"
	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/services/ledger"
)

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <payment-id>",
		Short: "Print a payment's transactions and balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			byReference, _ := cmd.Flags().GetBool("reference")
			asJSON, _ := cmd.Flags().GetBool("json")

			return withDependencies(cmd, func(ctx context.Context, deps *app.Dependencies, logger *zap.Logger) error {
				var (
					payment *domain.Payment
					err     error
				)
				if byReference {
					payment, err = deps.Ledger.GetByGatewayReference(ctx, args[0])
				} else {
					payment, err = deps.Ledger.Get(ctx, args[0])
				}
				if err != nil {
					return err
				}

				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(payment)
				}
				return printPayment(cmd.OutOrStdout(), payment)
			})
		},
	}

	cmd.Flags().BoolP("reference", "r", false, "Treat the argument as a gateway payment reference")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")

	return cmd
}

func printPayment(w io.Writer, p *domain.Payment) error {
	state := ledger.ComputeLedgerState(p.Transactions)

	fmt.Fprintf(w, "Payment     %s (version %d)\n", p.ID, p.Version)
	fmt.Fprintf(w, "Reference   %s\n", p.GatewayReference)
	fmt.Fprintf(w, "Cart        %s\n", p.CartID)
	fmt.Fprintf(w, "Planned     %s\n", converters.FormatMoney(p.AmountPlanned))

	order := "none"
	switch {
	case p.OrderID != "":
		order = p.OrderID
	case p.OrderCreated:
		order = "claimed, not confirmed"
	}
	fmt.Fprintf(w, "Order       %s\n", order)

	currency := p.AmountPlanned.CurrencyCode
	money := func(cents int64) string {
		return converters.FormatMoney(domain.Money{CentAmount: cents, CurrencyCode: currency})
	}
	fmt.Fprintf(w, "Authorized  %s\n", money(state.AuthorizedAmount))
	fmt.Fprintf(w, "Charged     %s\n", money(state.ChargedAmount))
	fmt.Fprintf(w, "Refunded    %s\n", money(state.RefundedAmount))
	fmt.Fprintf(w, "Canceled    %t\n\n", state.IsCanceled)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSTATE\tAMOUNT\tINTERACTION\tUPDATED")
	for _, tx := range p.Transactions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			tx.Type, tx.State, converters.FormatMoney(tx.Amount), tx.InteractionID,
			tx.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return tw.Flush()
}
