package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fleettrackr/api"
	"fleettrackr/renewal"
)

func NewAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List insurance agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient()
			if err != nil {
				return err
			}
			agents, err := app.client.ListAgents(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(agents) == 0 {
				fmt.Fprintln(out, "No agents found")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tCOMPANY\tEMAIL")
			for _, a := range agents {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.Name, orDash(a.Company), orDash(a.Email))
			}
			return w.Flush()
		},
	}
}

func NewExpiringCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expiring",
		Short: "List vehicles whose cover lapses soon (agent)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient()
			if err != nil {
				return err
			}
			vehicles, err := app.client.ExpiringVehicles(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(vehicles) == 0 {
				fmt.Fprintln(out, "No vehicles expiring soon")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "VEHICLE\tREGISTRATION\tEXPIRES\tPROVIDER\tOWNER\tOWNER ID")
			for _, v := range vehicles {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					v.ID, v.RegistrationNumber, wireDate(v.InsuranceExpiryDate), orDash(v.InsuranceProvider), orDash(v.Owner.Name), v.Owner.ID)
			}
			return w.Flush()
		},
	}
}

func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard counts (agent)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient()
			if err != nil {
				return err
			}
			stats, err := app.client.Stats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, labelStyle.Render("Renewal requests"))
			fmt.Fprintf(out, "  Total:      %d\n", stats.Total)
			fmt.Fprintf(out, "  Pending:    %d\n", stats.Pending)
			fmt.Fprintf(out, "  Offer sent: %d\n", stats.OfferSent)
			fmt.Fprintf(out, "  Accepted:   %d\n", stats.Accepted)
			fmt.Fprintf(out, "  Rejected:   %d\n", stats.Rejected)
			fmt.Fprintf(out, "  Completed:  %d\n", stats.Completed)
			fmt.Fprintf(out, "%s %d\n", labelStyle.Render("Expiring vehicles:"), stats.Expiring)
			return nil
		},
	}
}

func NewNotificationsCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Show recent notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient()
			if err != nil {
				return err
			}
			notes, err := app.client.Notifications(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			shown := 0
			for _, n := range notes {
				if unread && n.Read {
					continue
				}
				marker := " "
				if !n.Read {
					marker = infoStyle.Render("•")
				}
				fmt.Fprintf(out, "%s %s %s %s\n", marker, mutedStyle.Render(n.CreatedAt.UTC().Format(time.DateTime)), n.Message, mutedStyle.Render(n.RequestID))
				shown++
			}
			if shown == 0 {
				fmt.Fprintln(out, "No notifications")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "Only show unread notifications")
	return cmd
}

func NewVehiclesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vehicles",
		Short: "Manage your fleet (owner)",
	}
	cmd.AddCommand(newVehiclesListCmd(), newVehiclesAddCmd())
	return cmd
}

func newVehiclesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your vehicles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient()
			if err != nil {
				return err
			}
			vehicles, err := app.client.Vehicles(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(vehicles) == 0 {
				fmt.Fprintln(out, "No vehicles found")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tREGISTRATION\tMAKE\tMODEL\tPROVIDER\tPOLICY\tEXPIRES")
			for _, v := range vehicles {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					v.ID, v.RegistrationNumber, orDash(v.Make), orDash(v.Model), orDash(v.InsuranceProvider), orDash(v.InsuranceNumber), wireDate(v.InsuranceExpiryDate))
			}
			return w.Flush()
		},
	}
}

func newVehiclesAddCmd() *cobra.Command {
	var body api.VehicleBody
	var expiry string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a vehicle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(body.RegistrationNumber) == "" {
				return &renewal.ValidationError{Field: "registrationNumber", Msg: "is required"}
			}
			if expiry != "" {
				t, err := api.ParseDate(expiry)
				if err != nil {
					return &renewal.ValidationError{Field: "insuranceExpiryDate", Msg: "must be a date (yyyy-mm-dd)"}
				}
				body.InsuranceExpiryDate = &api.Date{Time: t}
			}

			app, err := openClient()
			if err != nil {
				return err
			}
			v, err := app.client.AddVehicle(cmd.Context(), body)
			if err != nil {
				return detach(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Vehicle %s added (ID: %s)\n", okStyle.Render("✓"), v.RegistrationNumber, v.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&body.RegistrationNumber, "reg", "", "Registration number (required)")
	cmd.Flags().StringVar(&body.Make, "make", "", "Make")
	cmd.Flags().StringVar(&body.Model, "model", "", "Model")
	cmd.Flags().StringVar(&body.InsuranceProvider, "provider", "", "Current insurance provider")
	cmd.Flags().StringVar(&body.InsuranceNumber, "policy", "", "Current policy number")
	cmd.Flags().StringVar(&expiry, "expiry", "", "Current policy expiry, yyyy-mm-dd")
	return cmd
}

func wireDate(d *api.Date) string {
	if d == nil {
		return "-"
	}
	return formatDate(d.Time)
}
