package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/xiaot623/dinematch/internal/domain"
	"github.com/xiaot623/dinematch/internal/retry"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS groups (
			group_id TEXT PRIMARY KEY,
			max_members INTEGER NOT NULL,
			created_by TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (group_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_by TEXT NOT NULL,
			max_matches INTEGER NOT NULL DEFAULT 3,
			current_match_count INTEGER NOT NULL DEFAULT 0,
			constraints TEXT,
			feed_exhausted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			CHECK (current_match_count <= max_matches)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_group ON sessions(group_id, status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active ON sessions(group_id) WHERE status = 'active'`,
		`CREATE TABLE IF NOT EXISTS session_members (
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (session_id, user_id),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS swipes (
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			restaurant_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			sequence_no INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (session_id, user_id, restaurant_id),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_swipes_session_seq ON swipes(session_id, sequence_no)`,
		`CREATE TABLE IF NOT EXISTS matches (
			match_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			restaurant_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			voters TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (session_id, restaurant_id),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS session_candidates (
			session_id TEXT NOT NULL,
			restaurant_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			name TEXT,
			payload TEXT,
			PRIMARY KEY (session_id, restaurant_id),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candidates_position ON session_candidates(session_id, position)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a primary key or unique constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// IsTransient reports whether err is a lock contention error worth retrying.
func IsTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// RetryPolicy retries store calls that failed on lock contention.
func RetryPolicy(attempts uint, delay time.Duration) retry.Policy {
	return retry.Policy{Attempts: attempts, Delay: delay, Transient: IsTransient}
}

// DefaultRetry is used by components that are not given a policy.
var DefaultRetry = RetryPolicy(3, 25*time.Millisecond)

// UpsertGroupMember adds a user to a group roster or updates their role.
func (s *SQLiteStore) UpsertGroupMember(ctx context.Context, member *domain.GroupMember) error {
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now()
	}
	if member.Role == "" {
		member.Role = domain.MemberRoleMember
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(group_id, user_id) DO UPDATE SET role = excluded.role`,
		member.GroupID, member.UserID, member.Role, member.JoinedAt)
	return err
}

// GetGroup retrieves a group's settings. It returns nil when none were saved.
func (s *SQLiteStore) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	var g domain.Group
	err := s.db.QueryRowContext(ctx,
		`SELECT group_id, max_members, created_by, created_at FROM groups WHERE group_id = ?`,
		groupID).Scan(&g.GroupID, &g.MaxMembers, &g.CreatedBy, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// SaveGroup creates a group's settings or updates its member cap.
func (s *SQLiteStore) SaveGroup(ctx context.Context, group *domain.Group) error {
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (group_id, max_members, created_by, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(group_id) DO UPDATE SET max_members = excluded.max_members`,
		group.GroupID, group.MaxMembers, group.CreatedBy, group.CreatedAt)
	return err
}

// AddGroupMembers upserts roster entries in one transaction. It fails with
// ErrGroupFull, writing nothing, when the roster would exceed maxMembers.
func (s *SQLiteStore) AddGroupMembers(ctx context.Context, groupID string, members []domain.GroupMember, maxMembers int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	for i := range members {
		m := &members[i]
		m.GroupID = groupID
		if m.JoinedAt.IsZero() {
			m.JoinedAt = now
		}
		if m.Role == "" {
			m.Role = domain.MemberRoleMember
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(group_id, user_id) DO UPDATE SET role = excluded.role`,
			m.GroupID, m.UserID, m.Role, m.JoinedAt); err != nil {
			return err
		}
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM group_members WHERE group_id = ?`, groupID).Scan(&count); err != nil {
		return err
	}
	if count > maxMembers {
		return domain.ErrGroupFull
	}
	return tx.Commit()
}

// RemoveGroupMember deletes a roster entry and reports whether it existed.
func (s *SQLiteStore) RemoveGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetGroupMember retrieves a roster entry.
func (s *SQLiteStore) GetGroupMember(ctx context.Context, groupID, userID string) (*domain.GroupMember, error) {
	var m domain.GroupMember
	err := s.db.QueryRowContext(ctx,
		`SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID).Scan(&m.GroupID, &m.UserID, &m.Role, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListGroupMembers lists a group roster in join order.
func (s *SQLiteStore) ListGroupMembers(ctx context.Context, groupID string) ([]domain.GroupMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, user_id, role, joined_at FROM group_members WHERE group_id = ? ORDER BY joined_at ASC, user_id ASC`,
		groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.GroupMember
	for rows.Next() {
		var m domain.GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// CreateSession creates a session together with its membership snapshot.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session, memberIDs []string) error {
	constraints, err := json.Marshal(session.Constraints)
	if err != nil {
		return fmt.Errorf("failed to marshal constraints: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, group_id, status, created_by, max_matches, current_match_count, constraints, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.GroupID, session.Status, session.CreatedBy, session.MaxMatches,
		session.CurrentMatchCount, string(constraints), session.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}

	for i, userID := range memberIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_members (session_id, user_id, position) VALUES (?, ?, ?)`,
			session.SessionID, userID, i); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return err
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const sessionColumns = `session_id, group_id, status, created_by, max_matches, current_match_count, constraints, created_at, ended_at`

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var constraints sql.NullString
	var endedAt sql.NullTime
	if err := row.Scan(&session.SessionID, &session.GroupID, &session.Status, &session.CreatedBy,
		&session.MaxMatches, &session.CurrentMatchCount, &constraints, &session.CreatedAt, &endedAt); err != nil {
		return nil, err
	}
	if constraints.Valid && constraints.String != "" {
		if err := json.Unmarshal([]byte(constraints.String), &session.Constraints); err != nil {
			return nil, fmt.Errorf("failed to decode constraints: %w", err)
		}
	}
	if endedAt.Valid {
		t := endedAt.Time
		session.EndedAt = &t
	}
	return &session, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return session, err
}

// GetActiveSessionForGroup returns the group's active session, if any.
func (s *SQLiteStore) GetActiveSessionForGroup(ctx context.Context, groupID string) (*domain.Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE group_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`,
		groupID, domain.SessionStatusActive))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return session, err
}

// GetMembership returns the voter snapshot of a session.
func (s *SQLiteStore) GetMembership(ctx context.Context, sessionID string) (*domain.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM session_members WHERE session_id = ? ORDER BY position ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	membership := &domain.Membership{SessionID: sessionID}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		membership.UserIDs = append(membership.UserIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return membership, nil
}

// UpdateSessionStatus moves a session from one status to another. It reports
// false when the session was not in the expected status.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, sessionID string, from, to domain.SessionStatus) (bool, error) {
	var endedAt interface{}
	if to.Terminal() {
		endedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = COALESCE(?, ended_at) WHERE session_id = ? AND status = ?`,
		to, endedAt, sessionID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AppendSwipeEvent durably records a swipe and assigns its sequence number.
// It fails with ErrConflict when the (session, user, restaurant) triple exists
// and with ErrSessionNotActive when the session is not active or has already
// reached its match target.
func (s *SQLiteStore) AppendSwipeEvent(ctx context.Context, event *domain.SwipeEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO swipes (session_id, user_id, restaurant_id, direction, sequence_no, created_at)
		 SELECT ?, ?, ?, ?, COALESCE((SELECT MAX(sequence_no) FROM swipes WHERE session_id = ?), 0) + 1, ?
		 WHERE EXISTS (SELECT 1 FROM sessions
		               WHERE session_id = ? AND status = ? AND current_match_count < max_matches)
		 RETURNING sequence_no`,
		event.SessionID, event.UserID, event.RestaurantID, event.Direction,
		event.SessionID, event.CreatedAt,
		event.SessionID, domain.SessionStatusActive).Scan(&event.SequenceNo)
	if err == sql.ErrNoRows {
		return domain.ErrSessionNotActive
	}
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}

// ListSwipeEvents lists a session's swipes in sequence order.
func (s *SQLiteStore) ListSwipeEvents(ctx context.Context, sessionID string) ([]domain.SwipeEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, user_id, restaurant_id, direction, sequence_no, created_at
		 FROM swipes WHERE session_id = ? ORDER BY sequence_no ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.SwipeEvent
	for rows.Next() {
		var e domain.SwipeEvent
		if err := rows.Scan(&e.SessionID, &e.UserID, &e.RestaurantID, &e.Direction, &e.SequenceNo, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetSwipeEvent returns the swipe recorded for the triple, or nil if there is none.
func (s *SQLiteStore) GetSwipeEvent(ctx context.Context, sessionID, userID, restaurantID string) (*domain.SwipeEvent, error) {
	var e domain.SwipeEvent
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, restaurant_id, direction, sequence_no, created_at
		 FROM swipes WHERE session_id = ? AND user_id = ? AND restaurant_id = ?`,
		sessionID, userID, restaurantID).Scan(&e.SessionID, &e.UserID, &e.RestaurantID, &e.Direction, &e.SequenceNo, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const matchColumns = `match_id, session_id, restaurant_id, ordinal, voters, created_at`

func scanMatch(row rowScanner) (*domain.Match, error) {
	var m domain.Match
	var voters sql.NullString
	if err := row.Scan(&m.MatchID, &m.SessionID, &m.RestaurantID, &m.Ordinal, &voters, &m.CreatedAt); err != nil {
		return nil, err
	}
	if voters.Valid && voters.String != "" {
		if err := json.Unmarshal([]byte(voters.String), &m.Voters); err != nil {
			return nil, fmt.Errorf("failed to decode voters: %w", err)
		}
	}
	return &m, nil
}

// InsertMatchIfAbsent atomically creates the match for (session, restaurant)
// and bumps the session's match count. When the row already exists it returns
// it with Created false. A session that is not active, or that has already
// reached max_matches, fails with ErrSessionNotActive.
func (s *SQLiteStore) InsertMatchIfAbsent(ctx context.Context, match *domain.Match) (*MatchInsert, error) {
	voters, err := json.Marshal(match.Voters)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal voters: %w", err)
	}
	if match.CreatedAt.IsZero() {
		match.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	session, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, match.SessionID))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	existing, err := scanMatch(tx.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE session_id = ? AND restaurant_id = ?`,
		match.SessionID, match.RestaurantID))
	switch {
	case err == nil:
		return &MatchInsert{Match: *existing, Created: false, Session: *session}, tx.Commit()
	case err != sql.ErrNoRows:
		return nil, err
	}

	if session.Status != domain.SessionStatusActive || session.CurrentMatchCount >= session.MaxMatches {
		return nil, domain.ErrSessionNotActive
	}

	match.Ordinal = session.CurrentMatchCount + 1
	_, err = tx.ExecContext(ctx,
		`INSERT INTO matches (`+matchColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		match.MatchID, match.SessionID, match.RestaurantID, match.Ordinal, string(voters), match.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			tx.Rollback()
			return s.existingMatch(ctx, match.SessionID, match.RestaurantID)
		}
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET current_match_count = ? WHERE session_id = ?`,
		match.Ordinal, match.SessionID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	session.CurrentMatchCount = match.Ordinal
	return &MatchInsert{Match: *match, Created: true, Session: *session}, nil
}

// existingMatch resolves a lost insert race to the winning row.
func (s *SQLiteStore) existingMatch(ctx context.Context, sessionID, restaurantID string) (*MatchInsert, error) {
	existing, err := scanMatch(s.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE session_id = ? AND restaurant_id = ?`,
		sessionID, restaurantID))
	if err != nil {
		return nil, err
	}
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrNotFound
	}
	return &MatchInsert{Match: *existing, Created: false, Session: *session}, nil
}

// ListMatches lists a session's matches in insertion order.
func (s *SQLiteStore) ListMatches(ctx context.Context, sessionID string) ([]domain.Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE session_id = ? ORDER BY ordinal ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := []domain.Match{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

// AppendCandidates appends restaurants to the end of a session's queue and
// records whether the feed has more to give. Restaurants already queued keep
// their original position.
func (s *SQLiteStore) AppendCandidates(ctx context.Context, sessionID string, restaurants []domain.Restaurant, exhausted bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status domain.SessionStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE session_id = ?`, sessionID).Scan(&status)
	if err == sql.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != domain.SessionStatusActive {
		return domain.ErrSessionNotActive
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM session_candidates WHERE session_id = ?`,
		sessionID).Scan(&next); err != nil {
		return err
	}

	for _, r := range restaurants {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO session_candidates (session_id, restaurant_id, position, name, payload) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(session_id, restaurant_id) DO NOTHING`,
			sessionID, r.RestaurantID, next, r.Name, nullableJSON(r.Payload))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			next++
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET feed_exhausted = ? WHERE session_id = ?`, exhausted, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func scanRestaurant(row rowScanner) (*domain.Restaurant, error) {
	var r domain.Restaurant
	var name, payload sql.NullString
	if err := row.Scan(&r.RestaurantID, &r.Position, &name, &payload); err != nil {
		return nil, err
	}
	r.Name = name.String
	if payload.Valid && payload.String != "" {
		r.Payload = json.RawMessage(payload.String)
	}
	return &r, nil
}

// GetCandidateQueue returns a session's queue in position order.
func (s *SQLiteStore) GetCandidateQueue(ctx context.Context, sessionID string) (*domain.CandidateQueue, error) {
	queue := &domain.CandidateQueue{SessionID: sessionID, Restaurants: []domain.Restaurant{}}
	err := s.db.QueryRowContext(ctx,
		`SELECT feed_exhausted FROM sessions WHERE session_id = ?`, sessionID).Scan(&queue.Exhausted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT restaurant_id, position, name, payload FROM session_candidates WHERE session_id = ? ORDER BY position ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRestaurant(rows)
		if err != nil {
			return nil, err
		}
		queue.Restaurants = append(queue.Restaurants, *r)
	}
	return queue, rows.Err()
}

// GetCandidate retrieves one restaurant from a session's queue.
func (s *SQLiteStore) GetCandidate(ctx context.Context, sessionID, restaurantID string) (*domain.Restaurant, error) {
	r, err := scanRestaurant(s.db.QueryRowContext(ctx,
		`SELECT restaurant_id, position, name, payload FROM session_candidates WHERE session_id = ? AND restaurant_id = ?`,
		sessionID, restaurantID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}
