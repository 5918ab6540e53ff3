package repository

import (
	"github.com/agnosto/toot-scraper/db/models"
	"gorm.io/gorm"
)

// TootRepository defines the interface for toot operations
type TootRepository interface {
	Create(toot *models.Toot) error
	LatestByAccount(accountID string) (*models.Toot, error)
	ExistsByURI(uri string) (bool, error)
	FindByURI(uri string) ([]models.Toot, error)
	Count() (int64, error)
	CountByAccount(accountID string) (int64, error)
}

// GormTootRepository implements TootRepository using GORM
type GormTootRepository struct {
	db *gorm.DB
}

// NewTootRepository creates a new toot repository. db may be a transaction.
func NewTootRepository(db *gorm.DB) TootRepository {
	return &GormTootRepository{db: db}
}

// Create inserts a new row; the dedup trigger purges older rows with the same uri.
func (r *GormTootRepository) Create(toot *models.Toot) error {
	return r.db.Create(toot).Error
}

// LatestByAccount returns the account's row with the greatest sortid, or nil.
func (r *GormTootRepository) LatestByAccount(accountID string) (*models.Toot, error) {
	var toots []models.Toot
	err := r.db.Where("userid = ?", accountID).Order("sortid DESC").Limit(1).Find(&toots).Error
	if err != nil {
		return nil, err
	}
	if len(toots) == 0 {
		return nil, nil
	}
	return &toots[0], nil
}

// ExistsByURI checks if a toot exists in the database by its uri
func (r *GormTootRepository) ExistsByURI(uri string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Toot{}).Where("uri = ?", uri).Count(&count).Error
	return count > 0, err
}

// FindByURI returns every row stored for uri, oldest first.
func (r *GormTootRepository) FindByURI(uri string) ([]models.Toot, error) {
	var toots []models.Toot
	err := r.db.Where("uri = ?", uri).Order("sortid").Find(&toots).Error
	return toots, err
}

func (r *GormTootRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Toot{}).Count(&count).Error
	return count, err
}

func (r *GormTootRepository) CountByAccount(accountID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Toot{}).Where("userid = ?", accountID).Count(&count).Error
	return count, err
}
