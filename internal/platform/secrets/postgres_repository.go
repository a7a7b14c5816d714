package secrets

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepository persists secrets, per-secret service policies, and
// access audit logs through database/sql, matching the table shapes in
// 0006_secrets.sql. It implements the narrower Repository interface Manager
// depends on; secret creation/rotation is expected to happen out of band
// (an operator tool or migration), not through the serving path.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an existing connection.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetSecretByName(ctx context.Context, userID, name string) (*Secret, error) {
	var s Secret
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, name, encrypted_value
		FROM secrets
		WHERE user_id = $1 AND name = $2`,
		userID, name)
	if err := row.Scan(&s.UserID, &s.Name, &s.EncryptedValue); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) GetAllowedServices(ctx context.Context, userID, secretName string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT service_id FROM secret_policies
		WHERE user_id = $1 AND secret_name = $2`,
		userID, secretName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []string
	for rows.Next() {
		var svc string
		if err := rows.Scan(&svc); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

func (r *PostgresRepository) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO secret_audit_logs
			(user_id, secret_name, action, service_id, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		log.UserID, log.SecretName, log.Action, log.ServiceID, log.Success, log.ErrorMessage)
	return err
}
