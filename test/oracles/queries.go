// Package oracles holds SQL checks that must return no rows however the
// actors interleave.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

const rank = `CASE %s WHEN 'pending' THEN 0 WHEN 'offer_sent' THEN 1 WHEN 'accepted' THEN 2 ELSE 3 END`

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_event_seq_contiguous",
			SQL: `SELECT request_id, seq FROM (
                      SELECT request_id, seq, ROW_NUMBER() OVER (PARTITION BY request_id ORDER BY seq) AS n
                      FROM renewal_events) s
                  WHERE seq <> n`,
		},
		{
			Name: "O2_forward_only",
			SQL: fmt.Sprintf(`SELECT request_id, seq, from_status, to_status FROM renewal_events
                  WHERE from_status IN ('rejected','completed')
                     OR %s >= %s`, fmt.Sprintf(rank, "from_status"), fmt.Sprintf(rank, "to_status")),
		},
		{
			Name: "O3_event_chain",
			SQL: `SELECT request_id, seq FROM (
                      SELECT request_id, seq, from_status,
                             LAG(to_status) OVER (PARTITION BY request_id ORDER BY seq) AS prev_to
                      FROM renewal_events) s
                  WHERE prev_to IS NOT NULL AND from_status <> prev_to`,
		},
		{
			Name: "O4_status_matches_timeline",
			SQL: `SELECT r.id, r.status, e.to_status FROM renewal_requests r
                  LEFT JOIN LATERAL (
                      SELECT to_status FROM renewal_events WHERE request_id = r.id ORDER BY seq DESC LIMIT 1
                  ) e ON true
                  WHERE r.status <> COALESCE(e.to_status, 'pending')`,
		},
		{
			Name: "O5_legal_edges",
			SQL: `SELECT e.request_id, e.seq, r.request_type, e.from_status, e.to_status
                  FROM renewal_events e JOIN renewal_requests r ON r.id = e.request_id
                  WHERE (e.from_status, e.to_status, r.request_type) NOT IN (
                      ('pending', 'offer_sent', 'user_to_agent'),
                      ('pending', 'rejected', 'user_to_agent'),
                      ('offer_sent', 'accepted', 'user_to_agent'),
                      ('offer_sent', 'rejected', 'user_to_agent'),
                      ('pending', 'accepted', 'agent_to_user'),
                      ('pending', 'rejected', 'agent_to_user'),
                      ('accepted', 'completed', 'user_to_agent'),
                      ('accepted', 'completed', 'agent_to_user'))`,
		},
		{
			Name: "O6_vehicle_policy_from_completion",
			SQL: `SELECT v.id, v.insurance_number FROM vehicles v
                  WHERE EXISTS (SELECT 1 FROM renewal_requests r WHERE r.vehicle_id = v.id AND r.status = 'completed')
                    AND v.insurance_number NOT IN (
                        SELECT new_policy_number FROM renewal_requests
                        WHERE vehicle_id = v.id AND status = 'completed')`,
		},
		{
			Name: "O7_offer_present_after_offer",
			SQL: `SELECT id FROM renewal_requests
                  WHERE status IN ('offer_sent','accepted','completed') AND renewal_amount <= 0`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
