package postgres

import (
	"context"
	"database/sql"
	"errors"

	alerts "homewatch-cloud/internal/alerts/domain"
)

// ContactRepository resolves notification recipients for a house.
type ContactRepository struct {
	db *sql.DB
}

// NewContactRepository constructs a repository.
func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// ResolveRecipients returns every contact registered for the house.
func (r *ContactRepository) ResolveRecipients(ctx context.Context, tenantID, houseID string) ([]alerts.Recipient, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("contact repo: nil db")
	}
	if tenantID == "" || houseID == "" {
		return nil, errors.New("contact repo: invalid query")
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, name, email, phone, push_token
FROM house_contacts
WHERE tenant_id = $1 AND house_id = $2
ORDER BY name ASC`, tenantID, houseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Recipient
	for rows.Next() {
		var recipient alerts.Recipient
		var email, phone, pushToken sql.NullString
		if err := rows.Scan(&recipient.ID, &recipient.Name, &email, &phone, &pushToken); err != nil {
			return nil, err
		}
		if email.Valid {
			recipient.Email = email.String
		}
		if phone.Valid {
			recipient.Phone = phone.String
		}
		if pushToken.Valid {
			recipient.PushToken = pushToken.String
		}
		result = append(result, recipient)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
