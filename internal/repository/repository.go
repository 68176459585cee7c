package repository

import (
	"database/sql"

	"logging_proxy/internal/models"
)

// Authorization stores dashboard users.
type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*models.User, error)
}

type Repository struct {
	Auth Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Auth: NewUserRepository(db),
	}
}
