// Package actors drives concurrent owners and agents against one shared set
// of renewal requests.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fleettrackr/insurance"
	"fleettrackr/renewal"
)

// Expected reports whether err is an outcome the workflow produces on its
// own under contention: an illegal or stale transition, or a rejected
// payload.
func Expected(err error) bool {
	return errors.Is(err, renewal.ErrTransitionRejected) || errors.Is(err, renewal.ErrValidation)
}

// connectionLost reports errors caused by Disrupter killing a backend.
func connectionLost(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "57P01"
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.Is(err, pgx.ErrTxClosed)
}

func pause(rng *rand.Rand, base, spread int) {
	time.Sleep(time.Duration(base+rng.Intn(spread)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

// Agent repeatedly issues the agent-side actions against random requests.
func Agent(ctx context.Context, svc *insurance.Service, actor renewal.Actor, ids []string, seed int64, tolerateLoss bool, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		id := ids[rng.Intn(len(ids))]
		var cmd renewal.Command
		switch rng.Intn(3) {
		case 0:
			cmd = renewal.Command{Action: renewal.ActionSendOffer, Offer: &renewal.Offer{
				Amount:          float64(1000 + rng.Intn(9000)),
				CoverType:       "comprehensive",
				CoverageDetails: "stress",
			}}
		case 1:
			reason := "capacity"
			cmd = renewal.Command{Action: renewal.ActionDecline, Reason: &reason}
		default:
			cmd = renewal.Command{Action: renewal.ActionComplete, Completion: &renewal.CompletionDetails{
				PolicyNumber: fmt.Sprintf("POL-%d", rng.Int63()),
				ExpiryDate:   time.Now().AddDate(1, 0, 0),
				Provider:     "Stress Mutual",
			}}
		}
		if err := act(ctx, svc, actor, id, cmd, tolerateLoss); err != nil {
			return err
		}
		pause(rng, 5, 20)
	}
}

// Owner repeatedly issues the owner-side actions against random requests.
func Owner(ctx context.Context, svc *insurance.Service, actor renewal.Actor, ids []string, seed int64, tolerateLoss bool, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	actions := []renewal.Action{renewal.ActionAcceptOffer, renewal.ActionRejectOffer, renewal.ActionAccept, renewal.ActionReject}
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		cmd := renewal.Command{Action: actions[rng.Intn(len(actions))]}
		if err := act(ctx, svc, actor, ids[rng.Intn(len(ids))], cmd, tolerateLoss); err != nil {
			return err
		}
		pause(rng, 5, 20)
	}
}

func act(ctx context.Context, svc *insurance.Service, actor renewal.Actor, id string, cmd renewal.Command, tolerateLoss bool) error {
	_, err := svc.Transition(ctx, actor, id, cmd)
	switch {
	case err == nil, Expected(err):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case tolerateLoss && connectionLost(err):
		return nil
	default:
		return fmt.Errorf("%s %s on %s: %w", actor.Role, cmd.Action, id, err)
	}
}

// Reader lists the actor's requests continuously, checking every record it
// sees against the data-model invariants.
func Reader(ctx context.Context, svc *insurance.Service, actor renewal.Actor, tolerateLoss bool, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		list, err := svc.ListForActor(ctx, actor)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if tolerateLoss && connectionLost(err) {
				continue
			}
			return fmt.Errorf("list for %s: %w", actor.Role, err)
		}
		for _, req := range list {
			if err := renewal.CheckInvariants(req); err != nil {
				return err
			}
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// Disrupter terminates a random backend of the current database every few
// seconds.
func Disrupter(ctx context.Context, pool *pgxpool.Pool, seed int64, stop <-chan struct{}) {
	rng := rand.New(rand.NewSource(seed))
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rng.Intn(3) == 0 {
				_, _ = pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = current_database() AND pid <> pg_backend_pid() ORDER BY random() LIMIT 1`)
			}
		}
	}
}
