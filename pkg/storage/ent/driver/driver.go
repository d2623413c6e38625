// Package entdriver implements storage.Driver on ent's SQL dialect layer.
// It is database-agnostic and is embedded by the SQLite and Postgres
// drivers.
package entdriver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/papercomputeco/attend/pkg/entity"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/pipeline"
	"github.com/papercomputeco/attend/pkg/storage"
	"github.com/papercomputeco/attend/pkg/storage/ent/migrate"
)

// EntDriver provides storage operations over an ent SQL driver.
// Timestamps are stored as unix nanoseconds in UTC so every dialect
// round-trips them identically.
type EntDriver struct {
	SQL *entsql.Driver
	b   *entsql.DialectBuilder
}

var _ storage.Driver = (*EntDriver)(nil)

// New wraps an open ent driver and migrates the schema.
func New(ctx context.Context, drv *entsql.Driver) (*EntDriver, error) {
	if err := migrate.Create(ctx, drv); err != nil {
		return nil, err
	}
	return &EntDriver{SQL: drv, b: entsql.Dialect(drv.Dialect())}, nil
}

var (
	entityColumns = []string{"entity_key", "category", "budget_group", "cap", "provisional", "created_at"}
	entryColumns  = []string{"entry_id", "entity_key", "entry_type", "amount", "source", "reason", "run_id", "token", "created_at"}
	runColumns    = []string{"id", "pipeline", "content_hash", "started_at", "completed_at", "status",
		"matched", "processed", "skipped", "artifacts", "errors", "tokens", "spent", "retained", "duration_ms"}
)

// Append stores an entry. Returns false if its token was already written.
func (ed *EntDriver) Append(ctx context.Context, e *ledger.Entry) (bool, error) {
	if e == nil {
		return false, errors.New("cannot append nil entry")
	}

	var source, token entsql.NullString
	if e.Source != nil {
		source = entsql.NullString{String: e.Source.String(), Valid: true}
	}
	if e.Token != "" {
		token = entsql.NullString{String: e.Token, Valid: true}
	}

	query, args := ed.b.Insert(migrate.EntriesTable).
		Columns(entryColumns...).
		Values(e.ID, e.EntityKey.String(), string(e.Type), e.Amount, source, e.Reason, e.RunID, token, toNanos(e.CreatedAt)).
		OnConflict(entsql.ConflictColumns("token"), entsql.DoNothing()).
		Query()

	n, err := ed.exec(ctx, query, args)
	if err != nil {
		return false, fmt.Errorf("inserting ledger entry: %w", err)
	}
	return n > 0, nil
}

// HasToken checks if an entry with the token exists.
func (ed *EntDriver) HasToken(ctx context.Context, token string) (bool, error) {
	query, args := ed.b.Select("COUNT(*)").
		From(ed.b.Table(migrate.EntriesTable)).
		Where(entsql.EQ("token", token)).
		Query()

	var n int
	if err := ed.queryRow(ctx, query, args, &n); err != nil {
		return false, fmt.Errorf("checking token: %w", err)
	}
	return n > 0, nil
}

// Balance returns the sum of the entity's entries.
func (ed *EntDriver) Balance(ctx context.Context, key entity.Key) (float64, error) {
	query, args := ed.b.Select("COALESCE(SUM(amount), 0)").
		From(ed.b.Table(migrate.EntriesTable)).
		Where(entsql.EQ("entity_key", key.String())).
		Query()

	var balance float64
	if err := ed.queryRow(ctx, query, args, &balance); err != nil {
		return 0, fmt.Errorf("summing balance: %w", err)
	}
	return balance, nil
}

// Entries returns up to limit entries for the entity, newest first.
func (ed *EntDriver) Entries(ctx context.Context, key entity.Key, limit int) ([]*ledger.Entry, error) {
	t := ed.b.Table(migrate.EntriesTable)
	sel := ed.b.Select(entryColumns...).
		From(t).
		Where(entsql.EQ("entity_key", key.String())).
		OrderBy(entsql.Desc(t.C("id")))
	if limit > 0 {
		sel.Limit(limit)
	}
	query, args := sel.Query()

	rows := &entsql.Rows{}
	if err := ed.SQL.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Entry
	for rows.Next() {
		var (
			e             ledger.Entry
			rawKey, typ   string
			source, token entsql.NullString
			created       int64
		)
		if err := rows.Scan(&e.ID, &rawKey, &typ, &e.Amount, &source, &e.Reason, &e.RunID, &token, &created); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}

		var err error
		if e.EntityKey, err = entity.Parse(rawKey); err != nil {
			return nil, err
		}
		if source.Valid {
			src, err := entity.Parse(source.String)
			if err != nil {
				return nil, err
			}
			e.Source = &src
		}
		e.Type = ledger.EntryType(typ)
		e.Token = token.String
		e.CreatedAt = fromNanos(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Accounts aggregates every entity's entries in a single statement, which
// reads one consistent snapshot.
func (ed *EntDriver) Accounts(ctx context.Context) ([]ledger.Account, error) {
	query, args := ed.b.Select(
		"entity_key",
		"SUM(amount)",
		"MAX(CASE WHEN entry_type IN ('earn', 'warm') THEN created_at END)",
		"COUNT(*)",
	).
		From(ed.b.Table(migrate.EntriesTable)).
		GroupBy("entity_key").
		Query()

	rows := &entsql.Rows{}
	if err := ed.SQL.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("aggregating accounts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		var (
			rawKey string
			acct   ledger.Account
			last   entsql.NullInt64
		)
		if err := rows.Scan(&rawKey, &acct.Balance, &last, &acct.Entries); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		var err error
		if acct.Key, err = entity.Parse(rawKey); err != nil {
			return nil, err
		}
		if last.Valid {
			acct.LastActivity = fromNanos(last.Int64)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b ledger.Account) int {
		return entity.Compare(a.Key, b.Key)
	})
	return out, nil
}

// PutEntity stores an entity. Returns false if one with the key exists.
func (ed *EntDriver) PutEntity(ctx context.Context, e *entity.Entity) (bool, error) {
	if e == nil {
		return false, errors.New("cannot store nil entity")
	}

	query, args := ed.b.Insert(migrate.EntitiesTable).
		Columns(entityColumns...).
		Values(e.Key.String(), string(e.Category), e.Group, e.Cap, e.Provisional, toNanos(e.CreatedAt)).
		OnConflict(entsql.ConflictColumns("entity_key"), entsql.DoNothing()).
		Query()

	n, err := ed.exec(ctx, query, args)
	if err != nil {
		return false, fmt.Errorf("inserting entity: %w", err)
	}
	return n > 0, nil
}

// GetEntity retrieves an entity by key.
func (ed *EntDriver) GetEntity(ctx context.Context, key entity.Key) (*entity.Entity, error) {
	query, args := ed.b.Select(entityColumns...).
		From(ed.b.Table(migrate.EntitiesTable)).
		Where(entsql.EQ("entity_key", key.String())).
		Query()

	list, err := ed.queryEntities(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, storage.NotFoundError{Kind: "entity", ID: key.String()}
	}
	return list[0], nil
}

// ListEntities returns every entity ordered by key.
func (ed *EntDriver) ListEntities(ctx context.Context) ([]*entity.Entity, error) {
	t := ed.b.Table(migrate.EntitiesTable)
	query, args := ed.b.Select(entityColumns...).
		From(t).
		OrderBy(t.C("entity_key")).
		Query()
	return ed.queryEntities(ctx, query, args)
}

// SetProvisional updates the provisional flag of an entity.
func (ed *EntDriver) SetProvisional(ctx context.Context, key entity.Key, provisional bool) error {
	query, args := ed.b.Update(migrate.EntitiesTable).
		Set("provisional", provisional).
		Where(entsql.EQ("entity_key", key.String())).
		Query()

	n, err := ed.exec(ctx, query, args)
	if err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}
	if n == 0 {
		return storage.NotFoundError{Kind: "entity", ID: key.String()}
	}
	return nil
}

func (ed *EntDriver) queryEntities(ctx context.Context, query string, args []any) ([]*entity.Entity, error) {
	rows := &entsql.Rows{}
	if err := ed.SQL.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var out []*entity.Entity
	for rows.Next() {
		var (
			e        entity.Entity
			rawKey   string
			category string
			created  int64
		)
		if err := rows.Scan(&rawKey, &category, &e.Group, &e.Cap, &e.Provisional, &created); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		key, err := entity.Parse(rawKey)
		if err != nil {
			return nil, err
		}
		e.Key = key
		e.Category = entity.Category(category)
		e.CreatedAt = fromNanos(created)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CreateRun stores a new run record.
func (ed *EntDriver) CreateRun(ctx context.Context, run *pipeline.RunRecord) error {
	if run == nil {
		return errors.New("cannot store nil run")
	}
	errs, err := json.Marshal(nonNilErrors(run.Errors))
	if err != nil {
		return fmt.Errorf("encoding run errors: %w", err)
	}

	query, args := ed.b.Insert(migrate.RunsTable).
		Columns(runColumns...).
		Values(run.ID, run.Pipeline, run.ContentHash, toNanos(run.StartedAt), nullNanos(run.CompletedAt), string(run.Status),
			run.Matched, run.Processed, run.Skipped, run.Artifacts, string(errs),
			run.Usage.Tokens, run.Usage.Spent, run.Usage.Retained, run.Usage.DurationMs).
		Query()

	if _, err := ed.exec(ctx, query, args); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// FinishRun writes the terminal state of a run that is still running.
func (ed *EntDriver) FinishRun(ctx context.Context, run *pipeline.RunRecord) (bool, error) {
	errs, err := json.Marshal(nonNilErrors(run.Errors))
	if err != nil {
		return false, fmt.Errorf("encoding run errors: %w", err)
	}

	query, args := ed.b.Update(migrate.RunsTable).
		Set("completed_at", nullNanos(run.CompletedAt)).
		Set("status", string(run.Status)).
		Set("matched", run.Matched).
		Set("processed", run.Processed).
		Set("skipped", run.Skipped).
		Set("artifacts", run.Artifacts).
		Set("errors", string(errs)).
		Set("tokens", run.Usage.Tokens).
		Set("spent", run.Usage.Spent).
		Set("retained", run.Usage.Retained).
		Set("duration_ms", run.Usage.DurationMs).
		Where(entsql.And(
			entsql.EQ("id", run.ID),
			entsql.EQ("status", string(pipeline.StatusRunning)),
		)).
		Query()

	n, err := ed.exec(ctx, query, args)
	if err != nil {
		return false, fmt.Errorf("updating run: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	if _, err := ed.GetRun(ctx, run.ID); err != nil {
		return false, err
	}
	return false, nil
}

// GetRun retrieves a run record by id.
func (ed *EntDriver) GetRun(ctx context.Context, id string) (*pipeline.RunRecord, error) {
	query, args := ed.b.Select(runColumns...).
		From(ed.b.Table(migrate.RunsTable)).
		Where(entsql.EQ("id", id)).
		Query()

	runs, err := ed.queryRuns(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, storage.NotFoundError{Kind: "run", ID: id}
	}
	return runs[0], nil
}

// ListRuns returns matching run records, newest first.
func (ed *EntDriver) ListRuns(ctx context.Context, filter pipeline.RunFilter) ([]*pipeline.RunRecord, error) {
	t := ed.b.Table(migrate.RunsTable)
	sel := ed.b.Select(runColumns...).From(t)
	if filter.Pipeline != "" {
		sel.Where(entsql.EQ("pipeline", filter.Pipeline))
	}
	if filter.Status != "" {
		sel.Where(entsql.EQ("status", string(filter.Status)))
	}
	sel.OrderBy(entsql.Desc(t.C("started_at")), t.C("id"))
	if filter.Limit > 0 {
		sel.Limit(filter.Limit)
	}
	query, args := sel.Query()
	return ed.queryRuns(ctx, query, args)
}

func (ed *EntDriver) queryRuns(ctx context.Context, query string, args []any) ([]*pipeline.RunRecord, error) {
	rows := &entsql.Rows{}
	if err := ed.SQL.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []*pipeline.RunRecord
	for rows.Next() {
		var (
			run       pipeline.RunRecord
			started   int64
			completed entsql.NullInt64
			status    string
			errs      string
		)
		err := rows.Scan(&run.ID, &run.Pipeline, &run.ContentHash, &started, &completed, &status,
			&run.Matched, &run.Processed, &run.Skipped, &run.Artifacts, &errs,
			&run.Usage.Tokens, &run.Usage.Spent, &run.Usage.Retained, &run.Usage.DurationMs)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}

		run.StartedAt = fromNanos(started)
		if completed.Valid {
			t := fromNanos(completed.Int64)
			run.CompletedAt = &t
		}
		run.Status = pipeline.Status(status)
		if err := json.Unmarshal([]byte(errs), &run.Errors); err != nil {
			return nil, fmt.Errorf("decoding run errors: %w", err)
		}
		if len(run.Errors) == 0 {
			run.Errors = nil
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}

// Close closes the database.
func (ed *EntDriver) Close() error {
	return ed.SQL.Close()
}

func (ed *EntDriver) exec(ctx context.Context, query string, args []any) (int64, error) {
	var res entsql.Result
	if err := ed.SQL.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (ed *EntDriver) queryRow(ctx context.Context, query string, args []any, dest any) error {
	rows := &entsql.Rows{}
	if err := ed.SQL.Query(ctx, query, args, rows); err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return errors.New("no rows returned")
	}
	if err := rows.Scan(dest); err != nil {
		return err
	}
	return rows.Err()
}

func nonNilErrors(errs []pipeline.RunError) []pipeline.RunError {
	if errs == nil {
		return []pipeline.RunError{}
	}
	return errs
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) entsql.NullInt64 {
	if t == nil {
		return entsql.NullInt64{}
	}
	return entsql.NullInt64{Int64: toNanos(*t), Valid: true}
}
