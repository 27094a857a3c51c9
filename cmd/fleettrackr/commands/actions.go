package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fleettrackr/api"
	"fleettrackr/renewal"
	"fleettrackr/view"
)

var actionCommands = []struct {
	action renewal.Action
	use    string
	short  string
}{
	{renewal.ActionSendOffer, "offer", "Send an offer on a pending owner request (agent)"},
	{renewal.ActionDecline, "decline", "Decline a pending owner request (agent)"},
	{renewal.ActionAcceptOffer, "accept-offer", "Accept the agent's offer (owner)"},
	{renewal.ActionRejectOffer, "reject-offer", "Reject the agent's offer (owner)"},
	{renewal.ActionAccept, "accept", "Accept an agent's renewal proposal (owner)"},
	{renewal.ActionReject, "reject", "Reject an agent's renewal proposal (owner)"},
	{renewal.ActionComplete, "complete", "Record the issued policy on an accepted request (agent)"},
}

func commandFor(a renewal.Action) string {
	for _, c := range actionCommands {
		if c.action == a {
			return c.use
		}
	}
	return string(a)
}

// NewTransitionCmds returns one command per request transition.
func NewTransitionCmds() []*cobra.Command {
	out := make([]*cobra.Command, 0, len(actionCommands))
	for _, c := range actionCommands {
		out = append(out, newTransitionCmd(c.action, c.use, c.short))
	}
	return out
}

func newTransitionCmd(action renewal.Action, use, short string) *cobra.Command {
	var (
		amount   float64
		cover    string
		details  string
		reason   string
		policy   string
		expiry   string
		provider string
	)
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		command := renewal.Command{Action: action}
		switch action {
		case renewal.ActionSendOffer:
			command.Offer = &renewal.Offer{Amount: amount, CoverType: cover, CoverageDetails: details}
		case renewal.ActionDecline, renewal.ActionReject, renewal.ActionRejectOffer:
			if cmd.Flags().Changed("reason") {
				command.Reason = &reason
			}
		case renewal.ActionComplete:
			expiresAt, err := api.ParseDate(expiry)
			if err != nil {
				return &renewal.ValidationError{Field: "newExpiryDate", Msg: "must be a date (yyyy-mm-dd)"}
			}
			command.Completion = &renewal.CompletionDetails{
				PolicyNumber: strings.TrimSpace(policy),
				ExpiryDate:   expiresAt,
				Provider:     strings.TrimSpace(provider),
			}
		}

		app, err := openClient()
		if err != nil {
			return err
		}
		updated, err := app.coord.Do(cmd.Context(), args[0], command)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s is now %s\n", okStyle.Render("✓"), updated.ID, updated.Status)
		v := view.Project(app.actor(), updated, false)
		if v.ContactVisible && updated.Owner.Phone != "" {
			fmt.Fprintf(out, "  Owner contact: %s, %s\n", updated.Owner.Phone, orDash(updated.Owner.Email))
		}
		if len(v.Actions) > 0 {
			fmt.Fprintf(out, "  Next: %s\n", formatActions(v.Actions))
		}
		return nil
	}

	switch action {
	case renewal.ActionSendOffer:
		cmd.Flags().Float64Var(&amount, "amount", 0, "Renewal premium (required)")
		cmd.Flags().StringVar(&cover, "cover", "", "Cover type (required)")
		cmd.Flags().StringVar(&details, "details", "", "Coverage details (required)")
	case renewal.ActionDecline, renewal.ActionReject, renewal.ActionRejectOffer:
		cmd.Flags().StringVar(&reason, "reason", "", "Reason shown to the other party")
	case renewal.ActionComplete:
		cmd.Flags().StringVar(&policy, "policy", "", "New policy number (required)")
		cmd.Flags().StringVar(&expiry, "expiry", "", "New expiry date, yyyy-mm-dd (required)")
		cmd.Flags().StringVar(&provider, "provider", "", "Insurance provider")
	}
	return cmd
}
