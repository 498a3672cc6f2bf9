package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// SQLStore reads profiles and role assignments from the users and
// user_roles tables. It never writes.
type SQLStore struct {
	db           *sql.DB
	queryTimeout time.Duration
	metrics      *observability.Metrics
	now          func() time.Time
}

// NewSQLStore creates a new role store. A zero queryTimeout leaves the
// deadline to the caller's context.
func NewSQLStore(db *sql.DB, queryTimeout time.Duration, metrics *observability.Metrics) *SQLStore {
	return &SQLStore{
		db:           db,
		queryTimeout: queryTimeout,
		metrics:      metrics,
		now:          time.Now,
	}
}

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// ActiveRoles returns the names of active role assignments that have not
// expired, sorted by name.
func (s *SQLStore) ActiveRoles(ctx context.Context, userID string) (roles []string, err error) {
	defer func(start time.Time) { s.metrics.ObserveStoreLookup("roles", start, err) }(time.Now())

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT role_name
		FROM user_roles
		WHERE user_id = $1
		  AND is_active = TRUE
		  AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY role_name
	`

	rows, err := s.db.QueryContext(ctx, query, userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
	}
	defer rows.Close()

	roles = []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		roles = append(roles, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user roles: %w", err)
	}

	return roles, nil
}

// Profile returns the user's profile. A missing row is not an error.
func (s *SQLStore) Profile(ctx context.Context, userID string) (profile *Profile, err error) {
	defer func(start time.Time) { s.metrics.ObserveStoreLookup("profile", start, err) }(time.Now())

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, email, user_type
		FROM users
		WHERE id = $1
	`

	var p Profile
	var email, userType sql.NullString
	err = s.db.QueryRowContext(ctx, query, userID).Scan(&p.ID, &email, &userType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}

	p.Email = email.String
	p.UserType = userType.String
	return &p, nil
}
