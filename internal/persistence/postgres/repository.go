// Package postgres provides the pgx-backed authoritative store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/clubactivities/internal/domain"
)

// Schema creates the tables the repository needs. Applied by deploy tooling
// and by the integration tests.
const Schema = `
CREATE TABLE IF NOT EXISTS series (
    series_id      TEXT PRIMARY KEY,
    frequency      TEXT NOT NULL,
    anchor_weekday INT NOT NULL,
    anchor_hour    INT NOT NULL,
    anchor_minute  INT NOT NULL,
    starts_at      TIMESTAMPTZ NOT NULL,
    occurrence_count INT NOT NULL,
    creator_id     TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS activities (
    activity_id    TEXT PRIMARY KEY,
    title          TEXT NOT NULL,
    starts_at      TIMESTAMPTZ NOT NULL,
    tz_offset_sec  INT NOT NULL,
    location       TEXT NOT NULL DEFAULT '',
    sport          TEXT NOT NULL,
    difficulty     TEXT NOT NULL,
    distance_km    DOUBLE PRECISION,
    duration_min   INT,
    elevation_m    INT,
    capacity       INT CHECK (capacity IS NULL OR capacity > 0),
    vis_public     BOOLEAN NOT NULL DEFAULT FALSE,
    vis_club_id    TEXT NOT NULL DEFAULT '',
    vis_group_id   TEXT NOT NULL DEFAULT '',
    access_mode    TEXT NOT NULL,
    status         TEXT NOT NULL,
    series_id      TEXT REFERENCES series(series_id),
    sequence_num   INT,
    detached       BOOLEAN NOT NULL DEFAULT FALSE,
    creator_id     TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL,
    CHECK (NOT (vis_club_id <> '' AND vis_group_id <> '')),
    UNIQUE (series_id, sequence_num)
);

CREATE INDEX IF NOT EXISTS activities_window_idx ON activities (starts_at, activity_id);

CREATE TABLE IF NOT EXISTS participations (
    activity_id  TEXT NOT NULL REFERENCES activities(activity_id),
    user_id      TEXT NOT NULL,
    status       TEXT NOT NULL,
    joined_at    TIMESTAMPTZ NOT NULL,
    confirmed_at TIMESTAMPTZ,
    updated_at   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (activity_id, user_id)
);
`

const activityColumns = `activity_id, title, starts_at, tz_offset_sec, location, sport, difficulty,
        distance_km, duration_min, elevation_m, capacity, vis_public, vis_club_id, vis_group_id,
        access_mode, status, series_id, sequence_num, detached, creator_id, created_at, updated_at`

// Repository is the Postgres implementation of the scheduling store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema applies the schema idempotently.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, Schema)
	return err
}

func scanActivity(row pgx.Row) (*domain.ActivityInstance, error) {
	var (
		inst     domain.ActivityInstance
		seriesID *string
		sequence *int
	)
	if err := row.Scan(
		&inst.ID, &inst.Title, &inst.StartsAt, &inst.TZOffsetSeconds, &inst.Location,
		&inst.Sport, &inst.Difficulty, &inst.DistanceKM, &inst.DurationMin, &inst.ElevationM,
		&inst.Capacity, &inst.Visibility.Public, &inst.Visibility.ClubID, &inst.Visibility.GroupID,
		&inst.Access, &inst.Status, &seriesID, &sequence, &inst.Detached,
		&inst.CreatorID, &inst.CreatedAt, &inst.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if seriesID != nil && sequence != nil {
		inst.Series = &domain.SeriesRef{SeriesID: *seriesID, SequenceNumber: *sequence}
	}
	return &inst, nil
}

func insertActivityArgs(inst domain.ActivityInstance) []any {
	var (
		seriesID *string
		sequence *int
	)
	if inst.Series != nil {
		seriesID = &inst.Series.SeriesID
		sequence = &inst.Series.SequenceNumber
	}
	return []any{
		inst.ID, inst.Title, inst.StartsAt, inst.TZOffsetSeconds, inst.Location,
		inst.Sport, inst.Difficulty, inst.DistanceKM, inst.DurationMin, inst.ElevationM,
		inst.Capacity, inst.Visibility.Public, inst.Visibility.ClubID, inst.Visibility.GroupID,
		inst.Access, inst.Status, seriesID, sequence, inst.Detached,
		inst.CreatorID, inst.CreatedAt, inst.UpdatedAt,
	}
}

const insertActivityStmt = `INSERT INTO activities (` + activityColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`

// CreateActivity persists one instance.
func (r *Repository) CreateActivity(ctx context.Context, inst domain.ActivityInstance) error {
	_, err := r.pool.Exec(ctx, insertActivityStmt, insertActivityArgs(inst)...)
	return err
}

// CreateSeries persists the series and every instance in one transaction, so
// generation is all-or-nothing.
func (r *Repository) CreateSeries(ctx context.Context, s domain.RecurringSeries, instances []domain.ActivityInstance) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const insertSeries = `INSERT INTO series (series_id, frequency, anchor_weekday, anchor_hour, anchor_minute, starts_at, occurrence_count, creator_id, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	if _, err = tx.Exec(ctx, insertSeries,
		s.ID, s.Frequency, int(s.AnchorWeekday), s.AnchorHour, s.AnchorMinute,
		s.StartsAt, s.Count, s.CreatorID, s.CreatedAt,
	); err != nil {
		return err
	}

	for _, inst := range instances {
		if _, err = tx.Exec(ctx, insertActivityStmt, insertActivityArgs(inst)...); err != nil {
			return err
		}
	}

	err = tx.Commit(ctx)
	return err
}

// GetActivity retrieves an instance by ID, nil when absent.
func (r *Repository) GetActivity(ctx context.Context, id string) (*domain.ActivityInstance, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id=$1`, id)
	inst, err := scanActivity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return inst, err
}

// ListSeriesInstances returns a series' instances ordered by sequence.
func (r *Repository) ListSeriesInstances(ctx context.Context, seriesID string) ([]domain.ActivityInstance, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+activityColumns+` FROM activities WHERE series_id=$1 ORDER BY sequence_num`, seriesID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActivities(rows)
}

func collectActivities(rows pgx.Rows) ([]domain.ActivityInstance, error) {
	out := make([]domain.ActivityInstance, 0)
	for rows.Next() {
		inst, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

// ListWindow returns instances in the time range ordered by start time, with
// keyset pagination.
func (r *Repository) ListWindow(ctx context.Context, q domain.WindowQuery) ([]domain.ActivityInstance, *domain.Cursor, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE 1=1`
	args := make([]any, 0, 7)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !q.From.IsZero() {
		query += ` AND starts_at >= ` + arg(q.From)
	}
	if !q.To.IsZero() {
		query += ` AND starts_at <= ` + arg(q.To)
	}
	if q.ClubID != "" {
		query += ` AND vis_club_id = ` + arg(q.ClubID)
	}
	if q.GroupID != "" {
		query += ` AND vis_group_id = ` + arg(q.GroupID)
	}
	if q.Cursor != nil {
		query += ` AND (starts_at, activity_id) > (` + arg(q.Cursor.StartsAt) + `, ` + arg(q.Cursor.ID) + `)`
	}

	query += ` ORDER BY starts_at, activity_id`
	if q.Limit > 0 {
		// Fetch one extra row to know whether a next page exists.
		query += ` LIMIT ` + arg(q.Limit+1)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results, err := collectActivities(rows)
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
		last := results[len(results)-1]
		next = &domain.Cursor{StartsAt: last.StartsAt, ID: last.ID}
	}
	return results, next, nil
}

// UpdateActivities saves already-patched instances in one transaction.
func (r *Repository) UpdateActivities(ctx context.Context, instances []domain.ActivityInstance) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const stmt = `UPDATE activities SET title=$2, starts_at=$3, location=$4, difficulty=$5,
        distance_km=$6, duration_min=$7, elevation_m=$8, capacity=$9, status=$10, detached=$11, updated_at=$12
        WHERE activity_id=$1`
	for _, inst := range instances {
		tag, execErr := tx.Exec(ctx, stmt,
			inst.ID, inst.Title, inst.StartsAt, inst.Location, inst.Difficulty,
			inst.DistanceKM, inst.DurationMin, inst.ElevationM, inst.Capacity,
			inst.Status, inst.Detached, inst.UpdatedAt,
		)
		if execErr != nil {
			err = execErr
			return err
		}
		if tag.RowsAffected() == 0 {
			err = domain.ErrNotFound
			return err
		}
	}

	err = tx.Commit(ctx)
	return err
}

// GetParticipation returns the record or nil.
func (r *Repository) GetParticipation(ctx context.Context, activityID, userID string) (*domain.Participation, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT activity_id, user_id, status, joined_at, confirmed_at, updated_at
         FROM participations WHERE activity_id=$1 AND user_id=$2`, activityID, userID)

	var p domain.Participation
	if err := row.Scan(&p.ActivityID, &p.UserID, &p.Status, &p.JoinedAt, &p.ConfirmedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ListParticipants returns every record for the activity, newest first.
func (r *Repository) ListParticipants(ctx context.Context, activityID string) ([]domain.Participation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT activity_id, user_id, status, joined_at, confirmed_at, updated_at
         FROM participations WHERE activity_id=$1 ORDER BY joined_at DESC, user_id`, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Participation, 0)
	for rows.Next() {
		var p domain.Participation
		if err := rows.Scan(&p.ActivityID, &p.UserID, &p.Status, &p.JoinedAt, &p.ConfirmedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountRegistered returns per-activity counts of slot-occupying records.
func (r *Repository) CountRegistered(ctx context.Context, activityIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(activityIDs))
	if len(activityIDs) == 0 {
		return counts, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT activity_id, COUNT(*) FROM participations
         WHERE activity_id = ANY($1) AND status IN ('registered','attended','missed')
         GROUP BY activity_id`, activityIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// Register upserts the user to registered. The activity row is locked for the
// duration of the capacity check, making the slot award atomic: concurrent
// joins serialise here and exactly one wins the last slot.
func (r *Repository) Register(ctx context.Context, activityID, userID string, now time.Time) (*domain.Participation, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	var (
		capacity *int
		startsAt time.Time
		status   domain.ActivityStatus
	)
	row := tx.QueryRow(ctx, `SELECT capacity, starts_at, status FROM activities WHERE activity_id=$1 FOR UPDATE`, activityID)
	if err = row.Scan(&capacity, &startsAt, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrNotFound
		}
		return nil, err
	}
	if status == domain.ActivityCancelled {
		err = domain.ErrNotFound
		return nil, err
	}
	if startsAt.Before(now) {
		err = domain.ErrAlreadyPast
		return nil, err
	}

	var current *domain.ParticipationStatus
	row = tx.QueryRow(ctx, `SELECT status FROM participations WHERE activity_id=$1 AND user_id=$2`, activityID, userID)
	var existing domain.ParticipationStatus
	switch scanErr := row.Scan(&existing); {
	case scanErr == nil:
		current = &existing
	case errors.Is(scanErr, pgx.ErrNoRows):
	default:
		err = scanErr
		return nil, err
	}

	if current != nil && *current == domain.ParticipationRegistered {
		err = tx.Commit(ctx)
		if err != nil {
			return nil, err
		}
		return r.GetParticipation(ctx, activityID, userID)
	}

	if capacity != nil {
		var registered int
		row = tx.QueryRow(ctx, `SELECT COUNT(*) FROM participations
            WHERE activity_id=$1 AND status IN ('registered','attended','missed')`, activityID)
		if err = row.Scan(&registered); err != nil {
			return nil, err
		}
		if registered >= *capacity {
			err = domain.ErrCapacityExceeded
			return nil, err
		}
	}

	const upsert = `INSERT INTO participations (activity_id, user_id, status, joined_at, updated_at)
        VALUES ($1,$2,'registered',$3,$3)
        ON CONFLICT (activity_id, user_id)
        DO UPDATE SET status='registered', updated_at=$3`
	if _, err = tx.Exec(ctx, upsert, activityID, userID, now); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return r.GetParticipation(ctx, activityID, userID)
}

// SaveParticipation stores a transition already validated by the caller.
func (r *Repository) SaveParticipation(ctx context.Context, p domain.Participation) error {
	const stmt = `INSERT INTO participations (activity_id, user_id, status, joined_at, confirmed_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (activity_id, user_id)
        DO UPDATE SET status=$3, confirmed_at=$5, updated_at=$6`
	_, err := r.pool.Exec(ctx, stmt, p.ActivityID, p.UserID, p.Status, p.JoinedAt, p.ConfirmedAt, p.UpdatedAt)
	return err
}

// ListUnconfirmedPast returns past active instances that still hold
// registered participations.
func (r *Repository) ListUnconfirmedPast(ctx context.Context, now time.Time, limit int) ([]domain.ActivityInstance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+activityColumns+` FROM activities a
         WHERE a.status='active' AND a.starts_at < $1
           AND EXISTS (SELECT 1 FROM participations p WHERE p.activity_id=a.activity_id AND p.status='registered')
         ORDER BY a.starts_at
         LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectActivities(rows)
}
