// mpesactl 运维用 Daraja 调试工具：取令牌、发起 STK Push、查询状态
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/order-payments/config"
	"github.com/d60-Lab/order-payments/internal/mpesa"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "mpesactl",
		Short:        "Daraja STK Push operator tool",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "directory containing config.yaml")
	rootCmd.PersistentFlags().Bool("verbose", false, "log gateway calls")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "overall command timeout")

	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(pushCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(phoneCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Fetch an OAuth access token (verifies credentials)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			tok, err := client.AccessToken(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "environment: %s\ntoken:       %s…\n", client.Environment(), prefix(tok, 8))
			return nil
		},
	}
}

func pushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Send an STK Push to a phone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			phone, _ := cmd.Flags().GetString("phone")
			amount, _ := cmd.Flags().GetInt64("amount")
			ref, _ := cmd.Flags().GetString("ref")
			desc, _ := cmd.Flags().GetString("desc")

			normalized, err := mpesa.NormalizePhone(phone)
			if err != nil {
				return err
			}
			if amount <= 0 {
				return fmt.Errorf("amount must be a positive integer")
			}

			client, ctx, cancel, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			resp, err := client.STKPush(ctx, mpesa.STKPushRequest{
				Phone:            normalized,
				Amount:           amount,
				AccountReference: ref,
				Description:      desc,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().StringP("phone", "p", "", "payer phone (07XXXXXXXX, 7XXXXXXXX or 2547XXXXXXXX)")
	cmd.Flags().Int64P("amount", "a", 1, "amount in whole shillings")
	cmd.Flags().String("ref", "TEST", "account reference (max 12 chars)")
	cmd.Flags().String("desc", "Test payment", "transaction description (max 13 chars)")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query [checkout-request-id]",
		Short: "Query the status of an STK Push",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			resp, err := client.QuerySTK(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
}

func phoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "phone [number]",
		Short: "Show the normalized form of a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := mpesa.NormalizePhone(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

func newClient(cmd *cobra.Command) (*mpesa.Client, context.Context, context.CancelFunc, error) {
	dir, _ := cmd.Flags().GetString("config")
	var paths []string
	if dir != "" {
		paths = append(paths, dir)
	}
	cfg, err := config.LoadMpesa(paths...)
	if err != nil {
		return nil, nil, nil, err
	}

	log := zap.NewNop()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		if log, err = zap.NewDevelopment(); err != nil {
			return nil, nil, nil, err
		}
	}

	client := mpesa.NewClient(mpesa.Config{
		Environment:     mpesa.Environment(cfg.Environment),
		ConsumerKey:     cfg.ConsumerKey,
		ConsumerSecret:  cfg.ConsumerSecret,
		ShortCode:       cfg.ShortCode,
		PassKey:         cfg.PassKey,
		InitiatorName:   cfg.InitiatorName,
		CallbackBaseURL: cfg.CallbackBaseURL,
		BaseURL:         cfg.BaseURL,
		Timeout:         cfg.Timeout,
	}, mpesa.WithLogger(log))

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return client, ctx, cancel, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
