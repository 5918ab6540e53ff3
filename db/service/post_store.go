package service

import (
	"fmt"
	"sync"

	"github.com/agnosto/toot-scraper/db"
	"github.com/agnosto/toot-scraper/db/models"
	"github.com/agnosto/toot-scraper/db/repository"
	"github.com/agnosto/toot-scraper/logger"
	"gorm.io/gorm"
)

// PostStore batches writes in a transaction that stays open until Commit.
// Every Upsert runs in its own savepoint, so a failed record never takes
// the rest of the batch down with it.
type PostStore struct {
	database *db.Database

	mu sync.Mutex
	tx *gorm.DB
}

// NewPostStore creates a new post store on an opened database
func NewPostStore(database *db.Database) *PostStore {
	return &PostStore{database: database}
}

// conn returns the open transaction, if any, so reads see pending writes.
func (s *PostStore) conn() *gorm.DB {
	if s.tx != nil {
		return s.tx
	}
	return s.database.DB
}

func (s *PostStore) repo() repository.TootRepository {
	return repository.NewTootRepository(s.conn())
}

// LastSeenID returns the remote id of the account's most recently stored toot.
func (s *PostStore) LastSeenID(accountID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	toot, err := s.repo().LatestByAccount(accountID)
	if err != nil {
		return "", false, fmt.Errorf("failed to read last toot of %s: %w", accountID, err)
	}
	if toot == nil {
		return "", false, nil
	}
	return toot.RemoteID, true, nil
}

// Exists checks if a toot with this uri has already been stored
func (s *PostStore) Exists(uri string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.repo().ExistsByURI(uri)
}

// Upsert stores toot. If rows with the same uri exist, only the new one survives.
func (s *PostStore) Upsert(toot *models.Toot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		tx := s.database.DB.Begin()
		if tx.Error != nil {
			return fmt.Errorf("failed to begin batch: %w", tx.Error)
		}
		s.tx = tx
	}

	// Nested Transaction uses a savepoint inside the open batch.
	return s.tx.Transaction(func(tx *gorm.DB) error {
		return repository.NewTootRepository(tx).Create(toot)
	})
}

// Commit makes every write since the last commit durable.
func (s *PostStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.commitLocked()
}

func (s *PostStore) commitLocked() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit toots: %w", err)
	}
	return nil
}

// Compact commits pending writes and reclaims free pages.
func (s *PostStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.commitLocked(); err != nil {
		return err
	}
	logger.Logger.Info("Compacting database")
	if err := s.database.DB.Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("failed to compact database: %w", err)
	}
	return nil
}

func (s *PostStore) Count() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.repo().Count()
}

func (s *PostStore) CountByAccount(accountID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.repo().CountByAccount(accountID)
}

// FindByURI returns every stored row for uri.
func (s *PostStore) FindByURI(uri string) ([]models.Toot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.repo().FindByURI(uri)
}

// Close commits pending writes and closes the database.
func (s *PostStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	commitErr := s.commitLocked()
	if err := s.database.Close(); err != nil {
		return err
	}
	return commitErr
}
