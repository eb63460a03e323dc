package storage

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/waleed-se/walletd/internal/apperr"
)

// Beneficiary is a user's saved recipient bookmark.
type Beneficiary struct {
	ID       uuid.UUID `db:"id"`
	UserID   uuid.UUID `db:"user_id"`
	WalletID string    `db:"wallet_id"`
	Label    string    `db:"label"`
}

// CreateBeneficiary saves a recipient bookmark for userID.
func (s *Storage) CreateBeneficiary(b *Beneficiary) error {
	_, err := s.db.Exec(`
		INSERT INTO beneficiaries (id, user_id, wallet_id, label) VALUES ($1, $2, $3, $4)
	`, b.ID, b.UserID, b.WalletID, b.Label)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict("wallet %s is already a beneficiary", b.WalletID)
		}
		return fmt.Errorf("storage: create beneficiary: %w", err)
	}
	return nil
}

// ListBeneficiaries returns userID's bookmarks, most recent first.
func (s *Storage) ListBeneficiaries(userID uuid.UUID) ([]*Beneficiary, error) {
	var bs []*Beneficiary
	err := s.db.Select(&bs, `
		SELECT id, user_id, wallet_id, label FROM beneficiaries
		WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: list beneficiaries: %w", err)
	}
	return bs, nil
}

// DeleteBeneficiary removes one of userID's bookmarks. Deleting a bookmark
// that is not yours (or does not exist) is NOT_FOUND, not a silent no-op.
func (s *Storage) DeleteBeneficiary(userID, id uuid.UUID) error {
	res, err := s.db.Exec(`DELETE FROM beneficiaries WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("storage: delete beneficiary: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.NotFound("no beneficiary %s", id)
	}
	return nil
}
