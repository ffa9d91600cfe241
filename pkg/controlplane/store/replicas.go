package store

import (
	"context"
	"time"

	"github.com/nexusfleet/nexuscore/pkg/controlplane/models"
)

func (s *GORMStore) GetReplica(ctx context.Context, pool, uuid string) (*models.Replica, error) {
	var r models.Replica
	err := s.db.WithContext(ctx).Where("pool = ? AND uuid = ?", pool, uuid).First(&r).Error
	if err != nil {
		return nil, convertNotFound(err, models.ErrReplicaNotFound)
	}
	return &r, nil
}

func (s *GORMStore) ListReplicas(ctx context.Context) ([]*models.Replica, error) {
	var out []*models.Replica
	if err := s.db.WithContext(ctx).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GORMStore) CreateReplica(ctx context.Context, r *models.Replica) error {
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *GORMStore) UpdateReplicaShare(ctx context.Context, uuid string, shared bool, shareURI, protocol string) error {
	result := s.db.WithContext(ctx).Model(&models.Replica{}).Where("uuid = ?", uuid).Updates(map[string]any{
		"shared":     shared,
		"share_uri":  shareURI,
		"protocol":   protocol,
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrReplicaNotFound
	}
	return nil
}

func (s *GORMStore) DestroyReplica(ctx context.Context, pool, uuid string) error {
	result := s.db.WithContext(ctx).Where("pool = ? AND uuid = ?", pool, uuid).Delete(&models.Replica{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrReplicaNotFound
	}
	return nil
}
