package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fleettrackr/auth"
	"fleettrackr/config"
	"fleettrackr/renewal"
	"fleettrackr/view"
	"fleettrackr/workflow"
)

func NewRequestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Renewal requests visible to you",
	}
	cmd.AddCommand(
		newRequestsListCmd(),
		newRequestsShowCmd(),
		newRequestsWatchCmd(),
	)
	return cmd
}

func newRequestsListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your renewal requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter renewal.Status
			if status != "" {
				parsed, err := renewal.ParseStatus(status)
				if err != nil {
					return err
				}
				filter = parsed
			}

			app, err := openClient()
			if err != nil {
				return err
			}
			if err := app.sync.Refresh(cmd.Context()); err != nil {
				return err
			}

			list := app.store.List()
			out := cmd.OutOrStdout()
			writeRequestTable(out, app.actor(), view.ProjectAll(app.actor(), view.Filter(list, filter), app.coord.Busy))
			writeSummary(out, view.Summarize(list))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only show requests with this status")
	return cmd
}

func newRequestsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one request and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient()
			if err != nil {
				return err
			}
			if err := app.sync.Refresh(cmd.Context()); err != nil {
				return err
			}
			req, err := app.store.Get(args[0])
			if err != nil {
				return err
			}
			events, err := app.client.Timeline(cmd.Context(), req.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			writeRequestDetail(out, view.Project(app.actor(), req, app.coord.Busy(req.ID)))

			fmt.Fprintln(out)
			fmt.Fprintln(out, labelStyle.Render("History"))
			if len(events) == 0 {
				fmt.Fprintln(out, "  no status changes yet")
			}
			for _, ev := range events {
				fmt.Fprintf(out, "  %d. %s -> %s  %s\n", ev.Seq, ev.From, ev.To, mutedStyle.Render(ev.At.UTC().Format(time.RFC3339)))
			}
			return nil
		},
	}
}

func newRequestsWatchCmd() *cobra.Command {
	var (
		interval time.Duration
		polls    int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow request status changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient(func(cfg *config.Config) {
				if interval > 0 {
					cfg.Sync.Interval = interval
				}
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchRequests(ctx, app, cmd.OutOrStdout(), cmd.ErrOrStderr(), polls)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Poll interval (default from config)")
	cmd.Flags().IntVar(&polls, "polls", 0, "Stop after this many refreshes (0 runs until interrupted)")
	return cmd
}

func watchRequests(ctx context.Context, app *clientApp, out, errOut io.Writer, polls int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu     sync.Mutex
		seen   map[string]renewal.Status
		rounds int
		fatal  error
	)
	app.sync.OnError(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if workflow.Fatal(err) {
			fatal = err
			cancel()
			return
		}
		PrintError(errOut, err)
	})
	unsubscribe := app.sync.Subscribe(func(list []renewal.Request) {
		mu.Lock()
		defer mu.Unlock()

		if seen == nil {
			writeRequestTable(out, app.actor(), view.ProjectAll(app.actor(), list, app.coord.Busy))
			seen = make(map[string]renewal.Status, len(list))
		} else {
			for _, req := range list {
				prev, ok := seen[req.ID]
				switch {
				case !ok:
					fmt.Fprintf(out, "%s %s %s (%s)\n", okStyle.Render("+"), req.ID, req.Status, orDash(req.Vehicle.RegistrationNumber))
				case prev != req.Status:
					fmt.Fprintf(out, "%s %s %s -> %s (%s)\n", infoStyle.Render("~"), req.ID, prev, req.Status, orDash(req.Vehicle.RegistrationNumber))
				}
			}
		}
		for _, req := range list {
			seen[req.ID] = req.Status
		}

		rounds++
		if polls > 0 && rounds >= polls {
			cancel()
		}
	})
	defer unsubscribe()

	app.sync.Start()
	defer app.sync.Stop()

	<-ctx.Done()
	mu.Lock()
	defer mu.Unlock()
	return fatal
}

func writeRequestTable(out io.Writer, actor renewal.Actor, views []view.View) {
	if len(views) == 0 {
		fmt.Fprintln(out, "No renewal requests found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tVEHICLE\tWITH\tAMOUNT\tACTIONS")
	for _, v := range views {
		req := v.Request
		actions := formatActions(v.Actions)
		if v.Busy {
			actions = "(in flight)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			req.ID, req.Type, req.Status, orDash(req.Vehicle.RegistrationNumber),
			counterparty(actor, req), formatAmount(req.Offer.Amount), actions)
	}
	_ = w.Flush()
}

func writeSummary(out io.Writer, s view.Summary) {
	fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%d total: %d pending, %d offer sent, %d accepted, %d rejected, %d completed",
		s.Total, s.Pending, s.OfferSent, s.Accepted, s.Rejected, s.Completed)))
}

func writeRequestDetail(out io.Writer, v view.View) {
	req := v.Request
	field := func(label, value string) {
		fmt.Fprintf(out, "%s %s\n", labelStyle.Render(label+":"), value)
	}

	field("Request", req.ID)
	field("Type", string(req.Type))
	field("Status", string(req.Status))
	field("Vehicle", fmt.Sprintf("%s %s %s", orDash(req.Vehicle.RegistrationNumber), req.Vehicle.Make, req.Vehicle.Model))
	field("Current expiry", formatDatePtr(req.Vehicle.InsuranceExpiry))
	field("Agent", agentLabel(req.Agent))
	field("Owner", orDash(req.Owner.Name))
	if v.ContactVisible {
		field("Phone", orDash(req.Owner.Phone))
		field("Email", orDash(req.Owner.Email))
		field("Address", orDash(req.Owner.Address))
	} else {
		field("Contact", mutedStyle.Render("shared once the renewal is accepted"))
	}
	if req.OwnerAsk != nil {
		field("Asked", fmt.Sprintf("%s for %s", formatAmount(req.OwnerAsk.ExpectedAmount), orDash(req.OwnerAsk.CoverType)))
		if req.OwnerAsk.Message != "" {
			field("Message", req.OwnerAsk.Message)
		}
	}
	if req.Offer.Amount > 0 {
		field("Offer", fmt.Sprintf("%s for %s", formatAmount(req.Offer.Amount), orDash(req.Offer.CoverType)))
		if req.Offer.CoverageDetails != "" {
			field("Coverage", req.Offer.CoverageDetails)
		}
	}
	if req.Status == renewal.StatusRejected {
		field("Reason", orDash(req.RejectionReason))
	}
	if req.Completion != nil {
		field("Policy", fmt.Sprintf("%s (%s) until %s", req.Completion.PolicyNumber, orDash(req.Completion.Provider), formatDate(req.Completion.ExpiryDate)))
	}
	field("Created", formatDate(req.CreatedAt))
	field("Updated", formatDate(req.UpdatedAt))
	if v.Busy {
		field("Actions", "(in flight)")
	} else {
		field("Actions", formatActions(v.Actions))
	}
}

func counterparty(actor renewal.Actor, req renewal.Request) string {
	if actor.Role == auth.RoleAgent {
		return orDash(req.Owner.Name)
	}
	return agentLabel(req.Agent)
}

func agentLabel(a renewal.Agent) string {
	switch {
	case a.Name == "":
		return "-"
	case a.Company == "":
		return a.Name
	default:
		return fmt.Sprintf("%s (%s)", a.Name, a.Company)
	}
}
