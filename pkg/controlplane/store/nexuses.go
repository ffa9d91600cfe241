package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/nexusfleet/nexuscore/pkg/controlplane/models"
)

func (s *GORMStore) GetNexus(ctx context.Context, uuid string) (*models.Nexus, error) {
	var n models.Nexus
	err := s.db.WithContext(ctx).Preload("Children").Where("uuid = ?", uuid).First(&n).Error
	if err != nil {
		return nil, convertNotFound(err, models.ErrNexusNotFound)
	}
	return &n, nil
}

func (s *GORMStore) ListNexuses(ctx context.Context) ([]*models.Nexus, error) {
	var out []*models.Nexus
	if err := s.db.WithContext(ctx).Preload("Children").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CreateNexus is idempotent on {uuid, size, children}; divergent parameters
// on an existing UUID return ErrDuplicateNexus (AlreadyExists).
func (s *GORMStore) CreateNexus(ctx context.Context, n *models.Nexus) (*models.Nexus, error) {
	existing, err := s.GetNexus(ctx, n.UUID)
	if err == nil {
		if existing.SizeBytes == n.SizeBytes && sameChildren(existing.Children, n.Children) {
			return existing, nil
		}
		return nil, models.ErrDuplicateNexus
	}
	if err != models.ErrNexusNotFound {
		return nil, err
	}

	now := time.Now()
	n.CreatedAt = now
	n.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, err
	}
	return n, nil
}

func sameChildren(a, b []models.NexusChild) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, c := range a {
		seen[c.URI] = true
	}
	for _, c := range b {
		if !seen[c.URI] {
			return false
		}
	}
	return true
}

func (s *GORMStore) DestroyNexus(ctx context.Context, uuid string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("uuid = ?", uuid).Delete(&models.Nexus{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrNexusNotFound
		}
		return tx.Where("nexus_uuid = ?", uuid).Delete(&models.NexusChild{}).Error
	})
}

func (s *GORMStore) AddNexusChild(ctx context.Context, uuid, childURI string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n models.Nexus
		if err := tx.Where("uuid = ?", uuid).First(&n).Error; err != nil {
			return convertNotFound(err, models.ErrNexusNotFound)
		}
		return tx.Create(&models.NexusChild{NexusUUID: uuid, URI: childURI, Healthy: false}).Error
	})
}

func (s *GORMStore) RemoveNexusChild(ctx context.Context, uuid, childURI string) error {
	result := s.db.WithContext(ctx).Where("nexus_uuid = ? AND uri = ?", uuid, childURI).Delete(&models.NexusChild{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrNexusNotFound
	}
	return nil
}

func (s *GORMStore) UpdateNexusChildHealth(ctx context.Context, uuid, childURI string, healthy bool) error {
	return s.db.WithContext(ctx).Model(&models.NexusChild{}).
		Where("nexus_uuid = ? AND uri = ?", uuid, childURI).
		Update("healthy", healthy).Error
}

func (s *GORMStore) UpdateNexusShare(ctx context.Context, uuid string, shareURI, protocol string) error {
	result := s.db.WithContext(ctx).Model(&models.Nexus{}).Where("uuid = ?", uuid).Updates(map[string]any{
		"share_uri":  shareURI,
		"protocol":   protocol,
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrNexusNotFound
	}
	return nil
}

func (s *GORMStore) UpdateNexusState(ctx context.Context, uuid, state string) error {
	return s.db.WithContext(ctx).Model(&models.Nexus{}).Where("uuid = ?", uuid).
		Updates(map[string]any{"state": state, "updated_at": time.Now()}).Error
}
