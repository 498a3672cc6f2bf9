package portal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// SQLStore reads grants from the portal_access table
type SQLStore struct {
	db           *sql.DB
	queryTimeout time.Duration
	metrics      *observability.Metrics
}

// NewSQLStore creates a new grant store
func NewSQLStore(db *sql.DB, queryTimeout time.Duration, metrics *observability.Metrics) *SQLStore {
	return &SQLStore{db: db, queryTimeout: queryTimeout, metrics: metrics}
}

// ActiveGrants returns the user's active grants ordered by portal type.
// Rows naming an unknown portal type are skipped.
func (s *SQLStore) ActiveGrants(ctx context.Context, userID string) (grants Grants, err error) {
	defer func(start time.Time) { s.metrics.ObserveStoreLookup("portal_access", start, err) }(time.Now())

	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	query := `
		SELECT portal_type, allowed_modules, customer_id, partner_id
		FROM portal_access
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY portal_type
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query portal access: %w", err)
	}
	defer rows.Close()

	grants = Grants{}
	for rows.Next() {
		var (
			portalType, modulesJSON string
			customerID, partnerID   sql.NullString
		)
		if err := rows.Scan(&portalType, &modulesJSON, &customerID, &partnerID); err != nil {
			return nil, fmt.Errorf("failed to scan portal access: %w", err)
		}

		pt, ok := ParseType(portalType)
		if !ok {
			continue
		}

		g := Grant{UserID: userID, PortalType: pt, AllowedModules: []string{}}
		if modulesJSON != "" {
			if err := json.Unmarshal([]byte(modulesJSON), &g.AllowedModules); err != nil {
				return nil, fmt.Errorf("failed to decode allowed modules for %s portal: %w", pt, err)
			}
		}
		if customerID.Valid {
			g.CustomerID = &customerID.String
		}
		if partnerID.Valid {
			g.PartnerID = &partnerID.String
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read portal access: %w", err)
	}

	return grants, nil
}
