package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// IdentityRecord is the read-side projection of an identity row.
type IdentityRecord struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

func GetIdentityName(ctx context.Context, db *sql.DB, identityID int64) (string, error) {
	queryBuilder := psql.Select("name").
		From("identities").
		Where(sq.Eq{"id": identityID}).
		Limit(1)
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return "", fmt.Errorf("failed to build SQL for GetIdentityName: %w", err)
	}
	var name string
	err = db.QueryRowContext(ctx, sqlStr, args...).Scan(&name)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", sql.ErrNoRows
		}
		return "", fmt.Errorf("failed to query name of identity %d: %w", identityID, err)
	}
	return name, nil
}

func GetIdentityByID(ctx context.Context, db *sql.DB, identityID int64) (IdentityRecord, error) {
	var rec IdentityRecord
	queryBuilder := psql.Select("id", "name", "created_at").
		From("identities").
		Where(sq.Eq{"id": identityID}).
		Limit(1)
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return IdentityRecord{}, fmt.Errorf("failed to build SQL for GetIdentityByID: %w", err)
	}
	err = db.QueryRowContext(ctx, sqlStr, args...).Scan(&rec.ID, &rec.Name, &rec.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return IdentityRecord{}, sql.ErrNoRows
		}
		return IdentityRecord{}, fmt.Errorf("failed to query or scan identity with ID %d: %w", identityID, err)
	}
	return rec, nil
}

// ListIdentities returns identities ordered by id. A zero limit means no limit.
func ListIdentities(ctx context.Context, db *sql.DB, limit, offset uint64) ([]IdentityRecord, error) {
	queryBuilder := psql.Select("id", "name", "created_at").
		From("identities").
		OrderBy("id ASC")
	if limit > 0 {
		queryBuilder = queryBuilder.Limit(limit).Offset(offset)
	}
	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL for ListIdentities: %w", err)
	}

	rows, err := db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %w", err)
	}
	defer rows.Close()

	records := make([]IdentityRecord, 0)
	for rows.Next() {
		var rec IdentityRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identity row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identity rows: %w", err)
	}
	return records, nil
}

func CountIdentities(ctx context.Context, db *sql.DB) (int64, error) {
	sqlStr, args, err := psql.Select("COUNT(*)").From("identities").ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL for CountIdentities: %w", err)
	}
	var count int64
	if err := db.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count identities: %w", err)
	}
	return count, nil
}

// IdentityReader serves identity lookups from a plain *sql.DB.
type IdentityReader struct {
	DB *sql.DB
}

// LookupName reports found=false without error when no row matches.
func (r IdentityReader) LookupName(ctx context.Context, identityID int64) (string, bool, error) {
	name, err := GetIdentityName(ctx, r.DB, identityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return name, true, nil
}

func (r IdentityReader) Get(ctx context.Context, identityID int64) (IdentityRecord, error) {
	return GetIdentityByID(ctx, r.DB, identityID)
}

func (r IdentityReader) List(ctx context.Context, limit, offset uint64) ([]IdentityRecord, error) {
	return ListIdentities(ctx, r.DB, limit, offset)
}

func (r IdentityReader) Count(ctx context.Context) (int64, error) {
	return CountIdentities(ctx, r.DB)
}
