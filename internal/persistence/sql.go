package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/neogan74/rentguard/internal/audit"
	"github.com/neogan74/rentguard/internal/logger"
)

const schema = `
create table if not exists audit_records (
	id text primary key,
	occurred_at timestamptz not null,
	operation text not null,
	entity_name text not null,
	entity_id text,
	action_type text not null,
	actor_id text not null,
	actor_name text not null,
	client_address text,
	user_agent text,
	request_method text,
	request_url text,
	session_id text,
	trace_id text,
	before_state text,
	after_state text,
	outcome text not null,
	error_message text,
	execution_time_ms bigint not null,
	additional_info text
);
create index if not exists audit_records_entity_idx on audit_records (entity_name, entity_id, occurred_at);
create index if not exists audit_records_actor_idx on audit_records (actor_id, occurred_at);
`

const insertRecord = `insert into audit_records (
	id, occurred_at, operation, entity_name, entity_id, action_type, actor_id, actor_name,
	client_address, user_agent, request_method, request_url, session_id, trace_id,
	before_state, after_state, outcome, error_message, execution_time_ms, additional_info
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`

const selectRecords = `select id, occurred_at, operation, entity_name, entity_id, action_type, actor_id, actor_name,
	client_address, user_agent, request_method, request_url, session_id, trace_id,
	before_state, after_state, outcome, error_message, execution_time_ms, additional_info
from audit_records`

// writeTimeout bounds a single insert; Writer.Write has no context.
const writeTimeout = 5 * time.Second

// SQLStore is an audit sink on a SQL database reached through database/sql.
// Statements use PostgreSQL placeholders.
type SQLStore struct {
	db  *sql.DB
	log logger.Logger
}

// OpenSQLStore connects with the pgx driver and creates the schema.
func OpenSQLStore(ctx context.Context, dsn string, log logger.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn cannot be empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach audit database: %w", err)
	}

	store := NewSQLStore(db, log)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, log logger.Logger) *SQLStore {
	if log == nil {
		log = logger.GetDefault()
	}
	return &SQLStore{db: db, log: log}
}

// EnsureSchema creates the audit table and its indexes if missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Write(record *audit.Record) error {
	if record == nil {
		return nil
	}
	if record.ID == "" {
		record.ID = audit.NewID(record.Timestamp)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, insertRecord,
		record.ID, record.Timestamp.UTC(), record.Operation, record.EntityName,
		nullString(record.EntityID), string(record.ActionType), record.ActorID, record.ActorName,
		nullString(record.ClientAddress), nullString(record.UserAgent),
		nullString(record.RequestMethod), nullString(record.RequestURL),
		nullString(record.SessionID), nullString(record.TraceID),
		nullString(record.BeforeState), nullString(record.AfterState),
		string(record.Outcome), nullString(record.ErrorMessage),
		record.ExecutionTimeMillis, nullString(record.AdditionalInfo),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// Query filters with bound parameters and orders by time, oldest first.
func (s *SQLStore) Query(ctx context.Context, q audit.Query) ([]audit.Record, error) {
	q = q.Normalize()

	var where []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if q.EntityName != "" {
		add("entity_name = $%d", q.EntityName)
	}
	if q.EntityID != "" {
		add("entity_id = $%d", q.EntityID)
	}
	if q.ActorID != "" {
		add("actor_id = $%d", q.ActorID)
	}
	if !q.From.IsZero() {
		add("occurred_at >= $%d", q.From.UTC())
	}
	if !q.To.IsZero() {
		add("occurred_at < $%d", q.To.UTC())
	}

	stmt := selectRecords
	if len(where) > 0 {
		stmt += " where " + strings.Join(where, " and ")
	}
	args = append(args, q.Limit)
	stmt += fmt.Sprintf(" order by occurred_at asc, id asc limit $%d", len(args))

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("audit query failed: %w", err)
	}
	defer rows.Close()

	records := []audit.Record{}
	for rows.Next() {
		var (
			r                                         audit.Record
			action, outcome                           string
			entityID, clientAddress, userAgent        sql.NullString
			method, url, sessionID, traceID           sql.NullString
			before, after, errorMessage, additionInfo sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.Timestamp, &r.Operation, &r.EntityName, &entityID, &action, &r.ActorID, &r.ActorName,
			&clientAddress, &userAgent, &method, &url, &sessionID, &traceID,
			&before, &after, &outcome, &errorMessage, &r.ExecutionTimeMillis, &additionInfo,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		r.ActionType = audit.Action(action)
		r.Outcome = audit.Outcome(outcome)
		r.EntityID = entityID.String
		r.ClientAddress = clientAddress.String
		r.UserAgent = userAgent.String
		r.RequestMethod = method.String
		r.RequestURL = url.String
		r.SessionID = sessionID.String
		r.TraceID = traceID.String
		r.BeforeState = before.String
		r.AfterState = after.String
		r.ErrorMessage = errorMessage.String
		r.AdditionalInfo = additionInfo.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit query failed: %w", err)
	}
	return records, nil
}

// Ping reports whether the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Flush() error {
	return nil
}

func (s *SQLStore) Close(context.Context) error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
