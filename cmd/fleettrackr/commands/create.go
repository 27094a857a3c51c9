package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"fleettrackr/api"
	"fleettrackr/renewal"
)

func NewRequestRenewalCmd() *cobra.Command {
	var (
		vehicle string
		agent   string
		amount  float64
		cover   string
		message string
	)
	cmd := &cobra.Command{
		Use:   "request-renewal",
		Short: "Ask an insurance agent for a renewal quote (owner)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient()
			if err != nil {
				return err
			}
			ref, err := resolveOwnVehicle(cmd.Context(), app.client, vehicle)
			if err != nil {
				return err
			}

			created, err := app.coord.RequestRenewal(cmd.Context(), renewal.OwnerRequestParams{
				AgentID:        strings.TrimSpace(agent),
				VehicleID:      ref.ID,
				ExpectedAmount: amount,
				CoverType:      cover,
				Message:        message,
			}, ref.RegistrationNumber)
			if err != nil {
				return detach(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Renewal request %s sent for %s\n", okStyle.Render("✓"), created.ID, orDash(ref.RegistrationNumber))
			return nil
		},
	}
	cmd.Flags().StringVar(&vehicle, "vehicle", "", "Vehicle id or registration number (required)")
	cmd.Flags().StringVar(&agent, "agent", "", "Agent id (see 'fleettrackr agents')")
	cmd.Flags().Float64Var(&amount, "amount", 0, "Premium you expect to pay")
	cmd.Flags().StringVar(&cover, "cover", "", "Cover type")
	cmd.Flags().StringVar(&message, "message", "", "Note for the agent")
	return cmd
}

func NewProposeCmd() *cobra.Command {
	var (
		vehicle string
		owner   string
		amount  float64
		cover   string
		details string
		message string
	)
	cmd := &cobra.Command{
		Use:   "propose",
		Short: "Send a renewal proposal to the owner of an expiring vehicle (agent)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openClient()
			if err != nil {
				return err
			}

			vehicleID, ownerID := strings.TrimSpace(vehicle), strings.TrimSpace(owner)
			if ownerID == "" {
				ev, err := resolveExpiringVehicle(cmd.Context(), app.client, vehicleID)
				if err != nil {
					return err
				}
				vehicleID, ownerID = ev.ID, ev.Owner.ID
			}

			created, err := app.coord.Propose(cmd.Context(), renewal.AgentProposalParams{
				OwnerID:   ownerID,
				VehicleID: vehicleID,
				Offer: renewal.Offer{
					Amount:          amount,
					CoverType:       strings.TrimSpace(cover),
					CoverageDetails: strings.TrimSpace(details),
				},
			}, message)
			if err != nil {
				return detach(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Proposal %s sent\n", okStyle.Render("✓"), created.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&vehicle, "vehicle", "", "Vehicle id or registration number (required)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (looked up from expiring vehicles when omitted)")
	cmd.Flags().Float64Var(&amount, "amount", 0, "Offered premium")
	cmd.Flags().StringVar(&cover, "cover", "", "Cover type")
	cmd.Flags().StringVar(&details, "details", "", "Coverage details")
	cmd.Flags().StringVar(&message, "message", "", "Note for the owner")
	return cmd
}

func resolveOwnVehicle(ctx context.Context, client *api.Client, key string) (api.VehicleRef, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return api.VehicleRef{}, &renewal.ValidationError{Field: "vehicleId", Msg: "is required"}
	}
	vehicles, err := client.Vehicles(ctx)
	if err != nil {
		return api.VehicleRef{}, err
	}
	for _, v := range vehicles {
		if v.ID == key || strings.EqualFold(v.RegistrationNumber, key) {
			return v, nil
		}
	}
	return api.VehicleRef{}, &renewal.ValidationError{Field: "vehicleId", Msg: fmt.Sprintf("no vehicle %q in your fleet", key)}
}

func resolveExpiringVehicle(ctx context.Context, client *api.Client, key string) (api.ExpiringVehicle, error) {
	if key == "" {
		return api.ExpiringVehicle{}, &renewal.ValidationError{Field: "vehicleId", Msg: "is required"}
	}
	vehicles, err := client.ExpiringVehicles(ctx)
	if err != nil {
		return api.ExpiringVehicle{}, err
	}
	for _, v := range vehicles {
		if v.ID == key || strings.EqualFold(v.RegistrationNumber, key) {
			return v, nil
		}
	}
	return api.ExpiringVehicle{}, &renewal.ValidationError{Field: "vehicleId", Msg: fmt.Sprintf("%q is not an expiring vehicle; pass --owner", key)}
}
