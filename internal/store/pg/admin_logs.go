package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"hublievents.com/internal/audit"
)

var _ audit.Store = (*Store)(nil)

// Insert appends one entry. Nothing in this package updates or deletes
// admin_logs rows.
func (s *Store) Insert(ctx context.Context, e *audit.Entry) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into admin_logs(id, admin_id, action, resource_type, resource_id,
			old_values, new_values, changes, ip_address, user_agent, session_id, notes,
			risk_level, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, e.ID, nullIfEmpty(e.AdminID), string(e.Action), e.ResourceType, nullIfEmpty(e.ResourceID),
		nullJSON(e.OldValues), nullJSON(e.NewValues), nullJSON(e.Changes),
		nullIfEmpty(e.IPAddress), nullIfEmpty(e.UserAgent), nullIfEmpty(e.SessionID), nullIfEmpty(e.Notes),
		string(e.RiskLevel), e.CreatedAt.UTC(),
	)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrForeignKeyViolation, pgErrUniqueViolation:
				return fmt.Errorf("%w: %s", audit.ErrRejected, pgErr.Message)
			}
		}
		return fmt.Errorf("insert admin log: %w", err)
	}
	return nil
}

// Query returns one page newest first plus the unpaged count.
func (s *Store) Query(ctx context.Context, f audit.Filter, p audit.Page) (audit.Result, error) {
	if s.db == nil {
		return audit.Result{}, errors.New("database connection unavailable")
	}
	p = p.Normalize()
	where, args := buildLogFilter(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from admin_logs`+where, args...).Scan(&total); err != nil {
		return audit.Result{}, fmt.Errorf("count admin logs: %w", err)
	}

	res := audit.Result{Total: total, Page: p, Entries: []audit.Entry{}}
	if total == 0 || p.Offset() >= total {
		return res, nil
	}

	n := len(args)
	query := `select id, admin_id, action, resource_type, resource_id,
			old_values, new_values, changes, ip_address, user_agent, session_id, notes,
			risk_level, created_at
		from admin_logs` + where + fmt.Sprintf(`
		order by created_at desc, id desc
		limit $%d offset $%d`, n+1, n+2)
	args = append(args, p.Limit, p.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return audit.Result{}, fmt.Errorf("query admin logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return audit.Result{}, err
		}
		res.Entries = append(res.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return audit.Result{}, err
	}
	return res, nil
}

func buildLogFilter(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.AdminID != "" {
		add("admin_id = $%d", f.AdminID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.ResourceType != "" {
		add("resource_type = $%d", f.ResourceType)
	}
	if f.RiskLevel != "" {
		add("risk_level = $%d", string(f.RiskLevel))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " where " + strings.Join(conds, " and "), args
}

func scanLog(row rowScanner) (audit.Entry, error) {
	var (
		e                                           audit.Entry
		action, risk                                string
		adminID, resourceID, ip, ua, session, notes sql.NullString
		oldValues, newValues, changes               []byte
	)
	if err := row.Scan(&e.ID, &adminID, &action, &e.ResourceType, &resourceID,
		&oldValues, &newValues, &changes, &ip, &ua, &session, &notes,
		&risk, &e.CreatedAt,
	); err != nil {
		return audit.Entry{}, err
	}
	e.AdminID = adminID.String
	e.Action = audit.Action(action)
	e.ResourceID = resourceID.String
	e.OldValues = oldValues
	e.NewValues = newValues
	e.Changes = changes
	e.IPAddress = ip.String
	e.UserAgent = ua.String
	e.SessionID = session.String
	e.Notes = notes.String
	e.RiskLevel = audit.RiskLevel(risk)
	return e, nil
}
