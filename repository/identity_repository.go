package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/camden-git/faceidbackend/models"
	"gorm.io/gorm"
)

// IdentityRepository handles database operations for Identity entities
type IdentityRepository struct {
	DB *gorm.DB
}

// NewIdentityRepository creates a new instance of IdentityRepository
func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{DB: db}
}

// Create inserts a new identity and fills in its generated ID
func (r *IdentityRepository) Create(identity *models.Identity) error {
	identity.Name = strings.TrimSpace(identity.Name)
	if identity.Name == "" {
		return fmt.Errorf("identity name cannot be empty")
	}
	if identity.CreatedAt == 0 {
		identity.CreatedAt = time.Now().Unix()
	}

	if err := r.DB.Create(identity).Error; err != nil {
		return fmt.Errorf("failed to create identity %s: %w", identity.Name, err)
	}
	return nil
}

// GetByID retrieves an identity by ID
func (r *IdentityRepository) GetByID(id int64) (*models.Identity, error) {
	var identity models.Identity
	err := r.DB.First(&identity, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get identity by ID %d: %w", id, err)
	}
	return &identity, nil
}

// ListAll retrieves all identities ordered by ID
func (r *IdentityRepository) ListAll() ([]models.Identity, error) {
	var identities []models.Identity
	if err := r.DB.Order("id ASC").Find(&identities).Error; err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	return identities, nil
}

// Delete removes an identity by ID
func (r *IdentityRepository) Delete(id int64) error {
	result := r.DB.Delete(&models.Identity{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete identity ID %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *IdentityRepository) Transaction(ctx context.Context, fn func(repo IdentityRepositoryInterface) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&IdentityRepository{DB: tx})
	})
}
