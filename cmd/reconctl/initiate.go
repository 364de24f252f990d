package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kevin07696/payment-reconciler/internal/app"
	"github.com/kevin07696/payment-reconciler/internal/converters"
	"github.com/kevin07696/payment-reconciler/internal/services/reconciliation"
)

func initiateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "initiate",
		Short: "Create a payment intent and its ledger payment for a cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cartID, _ := cmd.Flags().GetString("cart")
			rawAmount, _ := cmd.Flags().GetString("amount")
			currency, _ := cmd.Flags().GetString("currency")
			if cartID == "" {
				return errors.New("--cart is required")
			}

			amount, err := converters.ParseAmount(rawAmount, currency)
			if err != nil {
				return err
			}

			return withDependencies(cmd, func(ctx context.Context, deps *app.Dependencies, logger *zap.Logger) error {
				resp, err := deps.Initializer.Initiate(ctx, reconciliation.InitiateRequest{
					CartID: cartID,
					Amount: amount,
				})
				if err != nil {
					return err
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			})
		},
	}

	cmd.Flags().String("cart", "", "Commerce cart id")
	cmd.Flags().String("amount", "", `Amount in minor units ("4500") or major units ("45.00")`)
	cmd.Flags().String("currency", "USD", "ISO 4217 currency code")

	return cmd
}
