package repository

import (
	"context"

	"github.com/camden-git/faceidbackend/models"
)

// IdentityRepositoryInterface defines the methods for identity data operations
type IdentityRepositoryInterface interface {
	Create(identity *models.Identity) error
	GetByID(id int64) (*models.Identity, error)
	ListAll() ([]models.Identity, error)
	Delete(id int64) error
	// Transaction runs fn against a repository bound to one database
	// transaction. A non-nil error from fn rolls everything back.
	Transaction(ctx context.Context, fn func(repo IdentityRepositoryInterface) error) error
}
