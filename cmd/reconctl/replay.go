package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kevin07696/payment-reconciler/internal/app"
	"github.com/kevin07696/payment-reconciler/internal/converters"
	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/internal/services/reconciliation"
)

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <file>",
		Short: "Reconcile events from a JSON-lines file (- reads stdin)",
		Long: `Each line is one event in the gateway-neutral shape:

  {"eventId":"evt_1","type":"charge-succeeded","subjectId":"pi_1","amount":"4500","currency":"USD","capturedFlag":true}

Events run in file order through the same pipeline as webhook deliveries.
Lines that fail to decode are reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			return withDependencies(cmd, func(ctx context.Context, deps *app.Dependencies, logger *zap.Logger) error {
				summary, err := replayEvents(ctx, in, deps.Orchestrator, cmd.OutOrStdout())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d events: %d done, %d failed, %d skipped\n",
					summary.Total, summary.Done, summary.Failed, summary.Skipped)
				if summary.Failed > 0 || summary.Skipped > 0 {
					return fmt.Errorf("replay finished with %d failed and %d skipped events", summary.Failed, summary.Skipped)
				}
				return nil
			})
		},
	}
}

type replaySummary struct {
	Total   int
	Done    int
	Failed  int
	Skipped int
}

func replayEvents(ctx context.Context, r io.Reader, handler reconciliation.EventHandler, out io.Writer) (replaySummary, error) {
	var summary replaySummary

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Total++

		event, err := converters.DecodeInboundEvent(raw)
		if err != nil {
			summary.Skipped++
			fmt.Fprintf(out, "line %d: skipped: %v\n", line, err)
			continue
		}

		result := handler.Handle(ctx, event)
		if result.Stage == domain.StageFailed {
			summary.Failed++
		} else {
			summary.Done++
		}
		fmt.Fprintln(out, formatResult(result))
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("read events: %w", err)
	}
	return summary, nil
}

func formatResult(r domain.ReconciliationResult) string {
	s := fmt.Sprintf("%s: %s", r.EventID, r.Stage)
	if r.PaymentID != "" {
		s += " payment=" + r.PaymentID
	}
	switch {
	case r.Noop:
		s += " noop"
	case r.Apply != "":
		s += " apply=" + string(r.Apply)
	}
	if r.OrderCreated {
		s += " order_created"
	}
	if r.Err != nil {
		s += fmt.Sprintf(" failed_at=%s retryable=%t error=%q", r.FailedAt, r.Retryable, r.Err.Error())
	}
	return s
}
