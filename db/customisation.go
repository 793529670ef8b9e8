package db

import (
	"context"
	"fmt"

	"api-vuln-dashboard/models"
)

// CreateUser stores a user and seeds the default weight for every OWASP
// category except the "No Threat" sentinel
func (db *Database) CreateUser(ctx context.Context, user *models.User) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, &user.ID, tx.Rebind(
		"INSERT INTO users (name, email) VALUES (?, ?) RETURNING id"), user.Name, user.Email)
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.Email, err)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO risk_weights (user_id, category_id, weight)
		SELECT CAST(? AS INTEGER), id, CAST(? AS INTEGER) FROM categories WHERE id <> ?`),
		user.ID, models.DefaultRiskWeight, models.NoThreatCategoryID)
	if err != nil {
		return fmt.Errorf("failed to seed risk weights for user %d: %w", user.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user %s: %w", user.Email, err)
	}
	return nil
}

// GetUserByEmail retrieves a user by email address
func (db *Database) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	err := db.conn.GetContext(ctx, user, db.conn.Rebind(
		"SELECT id, name, email FROM users WHERE email = ?"), email)
	if err != nil {
		return nil, notFound(err, "user %s", email)
	}
	return user, nil
}

// ListRiskWeights returns risk weights ordered by category id
func (db *Database) ListRiskWeights(ctx context.Context, filter models.RiskWeightFilter) ([]models.RiskWeight, error) {
	query := `
		SELECT rw.user_id, rw.category_id, c.name AS category_name, rw.weight
		FROM risk_weights rw
		JOIN categories c ON c.id = rw.category_id
		WHERE 1=1`
	var args []any

	if filter.UserID != 0 {
		query += " AND rw.user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Category != "" {
		query += " AND c.name = ?"
		args = append(args, filter.Category)
	}
	query += " ORDER BY rw.category_id, rw.user_id"

	weights := []models.RiskWeight{}
	if err := db.conn.SelectContext(ctx, &weights, db.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query risk weights: %w", err)
	}
	return weights, nil
}

// UpdateRiskWeights applies all weight changes or none of them. A weight is
// addressed by user and either category id or category name.
func (db *Database) UpdateRiskWeights(ctx context.Context, weights []models.RiskWeight) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	byID := tx.Rebind("UPDATE risk_weights SET weight = ? WHERE user_id = ? AND category_id = ?")
	byName := tx.Rebind(`
		UPDATE risk_weights SET weight = ?
		WHERE user_id = ? AND category_id = (SELECT id FROM categories WHERE name = ?)`)

	for _, w := range weights {
		if w.Weight < 0 {
			return fmt.Errorf("weight for user %d must not be negative", w.UserID)
		}

		query, key := byID, any(w.CategoryID)
		label := fmt.Sprintf("category %d", w.CategoryID)
		if w.Category != "" {
			query, key = byName, w.Category
			label = fmt.Sprintf("category %q", w.Category)
		}

		res, err := tx.ExecContext(ctx, query, w.Weight, w.UserID, key)
		if err != nil {
			return fmt.Errorf("failed to update weight of user %d, %s: %w", w.UserID, label, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update weight of user %d, %s: %w", w.UserID, label, err)
		}
		if n == 0 {
			return fmt.Errorf("risk weight of user %d, %s: %w", w.UserID, label, ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit risk weights: %w", err)
	}
	return nil
}
