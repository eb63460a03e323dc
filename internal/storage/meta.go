package storage

import (
	"database/sql"
	"fmt"
)

// ChainMeta mirrors the singleton chain_meta row tracking height, supply
// and the current halving-adjusted block reward.
type ChainMeta struct {
	Height          int64  `db:"height"`
	TipHash         string `db:"tip_hash"`
	TotalSupply     uint64 `db:"total_supply"`
	CurrentReward   uint64 `db:"current_reward"`
	HalvingInterval int64  `db:"halving_interval"`
}

// GetMeta reads the chain metadata row.
func (s *Storage) GetMeta() (*ChainMeta, error) {
	var m ChainMeta
	err := s.db.Get(&m, `
		SELECT height, tip_hash, total_supply, current_reward, halving_interval FROM chain_meta LIMIT 1
	`)
	if err != nil {
		return nil, fmt.Errorf("storage: get chain meta: %w", err)
	}
	return &m, nil
}

// InitMeta seeds the singleton chain_meta row if it does not yet exist,
// inside the same transaction that inserts the genesis block so neither can
// exist without the other.
func (s *Storage) InitMeta(tx *sql.Tx, genesisReward uint64, halvingInterval int64, genesisHash string) error {
	_, err := tx.Exec(`
		INSERT INTO chain_meta (id, height, tip_hash, total_supply, current_reward, halving_interval)
		VALUES (TRUE, 0, $1, 0, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, genesisHash, genesisReward, halvingInterval)
	if err != nil {
		return fmt.Errorf("storage: init chain meta: %w", err)
	}
	return nil
}

// AdvanceMeta updates chain_meta after a block is mined: new height, new
// tip hash, and supply increased by reward. The reward itself is left
// unchanged; halving is applied separately through SetReward.
func (s *Storage) AdvanceMeta(tx *sql.Tx, newHeight int64, newTipHash string, reward uint64) error {
	_, err := tx.Exec(`
		UPDATE chain_meta SET
			height = $1,
			tip_hash = $2,
			total_supply = total_supply + $3,
			updated_at = now()
	`, newHeight, newTipHash, reward)
	if err != nil {
		return fmt.Errorf("storage: advance chain meta: %w", err)
	}
	return nil
}

// SetReward updates the current block reward, called by the miner after
// computing the halved value for the new height.
func (s *Storage) SetReward(tx *sql.Tx, reward uint64) error {
	_, err := tx.Exec(`UPDATE chain_meta SET current_reward = $1`, reward)
	if err != nil {
		return fmt.Errorf("storage: set reward: %w", err)
	}
	return nil
}
