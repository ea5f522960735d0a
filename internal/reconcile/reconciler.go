// Package reconcile audits the unit ledger against the appointment and
// session tables. It detects drift; it never repairs it. Correctness of
// the counters comes from the serializable transactions in the service
// layer, so any drift found here is a bug worth paging on.
package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

type Reconciler struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func New(pool *pgxpool.Pool, log zerolog.Logger) *Reconciler {
	return &Reconciler{pool: pool, log: log}
}

type Report struct {
	Checked int
	Drifted int
}

// Run recomputes, per authorization, the scheduled units implied by
// live appointments and the used units implied by sessions, and
// compares both with the stored counters. The ledger invariant
// (scheduled + used <= total, both non-negative) is checked as well.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id,
		       a.total_units,
		       a.scheduled_units,
		       a.used_units,
		       COALESCE(live.reserved, 0)  AS expected_scheduled,
		       COALESCE(done.consumed, 0)  AS expected_used
		FROM authorizations a
		LEFT JOIN (
			SELECT authorization_id, SUM(reserved_units) AS reserved
			FROM appointments
			WHERE status IN ('scheduled', 'in_progress')
			GROUP BY authorization_id
		) live ON live.authorization_id = a.id
		LEFT JOIN (
			SELECT ap.authorization_id, SUM(s.units) AS consumed
			FROM sessions s
			JOIN appointments ap ON ap.id = s.appointment_id
			GROUP BY ap.authorization_id
		) done ON done.authorization_id = a.id
	`)
	if err != nil {
		return Report{}, fmt.Errorf("query authorizations: %w", err)
	}
	defer rows.Close()

	var report Report
	for rows.Next() {
		var (
			id                              uuid.UUID
			total, scheduled, used          int
			expectedScheduled, expectedUsed int
		)
		if err := rows.Scan(&id, &total, &scheduled, &used, &expectedScheduled, &expectedUsed); err != nil {
			return report, err
		}

		report.Checked++

		ok := scheduled == expectedScheduled &&
			used == expectedUsed &&
			scheduled >= 0 && used >= 0 &&
			scheduled+used <= total

		if !ok {
			report.Drifted++
			r.log.Warn().
				Stringer("authorization_id", id).
				Int("total_units", total).
				Int("scheduled_units", scheduled).
				Int("used_units", used).
				Int("expected_scheduled", expectedScheduled).
				Int("expected_used", expectedUsed).
				Msg("ledger drift detected")
		}
	}

	if err := rows.Err(); err != nil {
		return report, err
	}

	return report, nil
}
