package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"fleettrackr/auth"
	"fleettrackr/insurance"
	"fleettrackr/renewal"
	"fleettrackr/test/actors"
	"fleettrackr/test/infra"
	"fleettrackr/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 20*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors per role")
	flRequests    = flag.Int("requests", 40, "number of contended renewal requests")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
	flChaos       = flag.Bool("chaos", false, "terminate random backends while running")
)

type world struct {
	svc   *insurance.Service
	owner renewal.Actor
	agent renewal.Actor
	ids   []string
}

func openDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}
	database, err := infra.Open(ctx, *flDSN)
	if errors.Is(err, infra.ErrNoDatabase) {
		t.Skip("no postgres available: set -dsn, FLEETTRACKR_TEST_PG_DSN, or run docker")
	}
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if err := database.Close(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})
	return database.Pool
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, requests int, rng *rand.Rand) world {
	t.Helper()
	users := auth.NewRepository(pool)
	owner, err := users.CreateUser(ctx, auth.CreateUserParams{Email: fmt.Sprintf("owner%d@example.com", rng.Int63()), Name: "Stress Owner", PasswordHash: "x", Role: auth.RoleOwner})
	if err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	agent, err := users.CreateUser(ctx, auth.CreateUserParams{Email: fmt.Sprintf("agent%d@example.com", rng.Int63()), Name: "Stress Agent", PasswordHash: "x", Role: auth.RoleAgent})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}

	w := world{
		svc:   insurance.NewService(insurance.NewRepository(pool), users),
		owner: renewal.Actor{ID: owner.ID, Role: auth.RoleOwner},
		agent: renewal.Actor{ID: agent.ID, Role: auth.RoleAgent},
	}
	vehicle, err := w.svc.AddVehicle(ctx, w.owner, insurance.Vehicle{RegistrationNumber: fmt.Sprintf("ST%d", rng.Int63()), Make: "Ford", Model: "Transit"})
	if err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}

	for i := 0; i < requests; i++ {
		var req renewal.Request
		if i%2 == 0 {
			req, err = w.svc.CreateOwnerRequest(ctx, w.owner, renewal.OwnerRequestParams{
				AgentID: agent.ID, VehicleID: vehicle.ID, ExpectedAmount: 5000, CoverType: "comprehensive",
			})
		} else {
			req, err = w.svc.CreateAgentProposal(ctx, w.agent, vehicle.ID, renewal.Offer{
				Amount: 4800, CoverType: "comprehensive", CoverageDetails: "proposal",
			})
		}
		if err != nil {
			t.Fatalf("seed request %d: %v", i, err)
		}
		w.ids = append(w.ids, req.ID)
	}
	return w
}

func TestRenewalConcurrency(t *testing.T) {
	seed := *flSeed
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	pool := openDatabase(t, ctx)
	w := mustSeed(t, ctx, pool, *flRequests, rand.New(rand.NewSource(seed)))

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		i := int64(i)
		g.Go(func() error { return actors.Agent(ctx2, w.svc, w.agent, w.ids, seed+2*i, *flChaos, stop) })
		g.Go(func() error { return actors.Owner(ctx2, w.svc, w.owner, w.ids, seed+2*i+1, *flChaos, stop) })
	}
	g.Go(func() error { return actors.Reader(ctx2, w.svc, w.owner, *flChaos, stop) })
	g.Go(func() error { return actors.Reader(ctx2, w.svc, w.agent, *flChaos, stop) })
	if *flChaos {
		go actors.Disrupter(ctx2, pool, seed, stop)
	}

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx2.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v (seed=%d)", err, seed)
		}
	}

	name, row, err := oracles.Run(ctx, pool)
	if err != nil {
		t.Fatalf("final oracle error: %v", err)
	}
	if name != "" {
		dumpRecent(t, ctx, pool)
		t.Fatalf("Oracle %s failed after run. First row: %s (seed=%d)", name, row, seed)
	}
}

func TestRacingDecisionsHaveOneWinner(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool := openDatabase(t, ctx)
	w := mustSeed(t, ctx, pool, 1, rand.New(rand.NewSource(*flSeed)))

	proposal, err := w.svc.CreateAgentProposal(ctx, w.agent, mustVehicle(t, ctx, w), renewal.Offer{Amount: 100, CoverType: "basic", CoverageDetails: "race"})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}

	var wins atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 16; i++ {
		action := renewal.ActionAccept
		if i%2 == 1 {
			action = renewal.ActionReject
		}
		g.Go(func() error {
			_, err := w.svc.Transition(gctx, w.owner, proposal.ID, renewal.Command{Action: action})
			switch {
			case err == nil:
				wins.Add(1)
				return nil
			case errors.Is(err, renewal.ErrTransitionRejected):
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("racing owners: %v", err)
	}
	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one winning decision, got %d", got)
	}

	events, err := w.svc.Timeline(ctx, w.owner, proposal.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(events) != 1 || events[0].From != renewal.StatusPending {
		t.Fatalf("expected a single event out of pending, got %+v", events)
	}
}

func mustVehicle(t *testing.T, ctx context.Context, w world) string {
	t.Helper()
	vehicles, err := w.svc.Vehicles(ctx, w.owner)
	if err != nil || len(vehicles) == 0 {
		t.Fatalf("list vehicles: %v", err)
	}
	return vehicles[0].ID
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"renewal_events", `SELECT request_id, seq, from_status, to_status, created_at FROM renewal_events ORDER BY created_at DESC LIMIT 50`},
		{"renewal_requests", `SELECT id, request_type, status, renewal_amount, new_policy_number FROM renewal_requests ORDER BY updated_at DESC LIMIT 50`},
		{"vehicles", `SELECT id, registration_number, insurance_number, insurance_expiry_date FROM vehicles LIMIT 10`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
