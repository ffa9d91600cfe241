package store

import (
	"context"
	"strings"
	"time"

	"github.com/nexusfleet/nexuscore/pkg/controlplane/models"
)

func (s *GORMStore) GetPool(ctx context.Context, node, name string) (*models.Pool, error) {
	var pool models.Pool
	err := s.db.WithContext(ctx).Where("node = ? AND name = ?", node, name).First(&pool).Error
	if err != nil {
		return nil, convertNotFound(err, models.ErrPoolNotFound)
	}
	return &pool, nil
}

func (s *GORMStore) ListPools(ctx context.Context) ([]*models.Pool, error) {
	var pools []*models.Pool
	if err := s.db.WithContext(ctx).Find(&pools).Error; err != nil {
		return nil, err
	}
	return pools, nil
}

// CreatePool is idempotent: creating a pool with the same
// node/name/disks/cluster size as an existing one succeeds and returns the existing record; divergent
// parameters return ErrDuplicatePool (AlreadyExists semantics).
func (s *GORMStore) CreatePool(ctx context.Context, pool *models.Pool) (*models.Pool, error) {
	existing, err := s.GetPool(ctx, pool.Node, pool.Name)
	if err == nil {
		if existing.Disks == pool.Disks && existing.ClusterSize == pool.ClusterSize {
			return existing, nil
		}
		return nil, models.ErrDuplicatePool
	}
	if err != models.ErrPoolNotFound {
		return nil, err
	}

	now := time.Now()
	pool.CreatedAt = now
	pool.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(pool).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, models.ErrDuplicatePool
		}
		return nil, err
	}
	return pool, nil
}

func (s *GORMStore) DestroyPool(ctx context.Context, node, name string) error {
	result := s.db.WithContext(ctx).Where("node = ? AND name = ?", node, name).Delete(&models.Pool{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrPoolNotFound
	}
	return nil
}

// JoinDisks and SplitDisks convert between the []string wire shape and
// the comma-joined column storage.
func JoinDisks(disks []string) string { return strings.Join(disks, ",") }
func SplitDisks(disks string) []string {
	if disks == "" {
		return nil
	}
	return strings.Split(disks, ",")
}
