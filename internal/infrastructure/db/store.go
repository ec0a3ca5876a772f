package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/karaqueue/karaqueue/internal/domain"
	"gorm.io/gorm"
)

// Store is the gorm implementation of domain.Store. Outside WithTx every
// call autocommits; inside, the callback receives a Store bound to the
// transaction.
type Store struct {
	db       *gorm.DB
	database *Database
}

var _ domain.Store = (*Store)(nil)

func NewStore(database *Database) *Store {
	return &Store{db: database.DB(), database: database}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if s.database != nil {
		release, err := s.database.acquireWriter(ctx)
		if err != nil {
			return err
		}
		defer release()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
	return translate(err, domain.ErrConcurrentWrite)
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// translate maps driver errors onto domain errors. Unique violations become
// onUnique; lock contention always becomes ErrConcurrentWrite.
func translate(err error, onUnique error) error {
	if err == nil {
		return nil
	}
	var (
		nf        *domain.NotFoundError
		ve        *domain.ValidationError
		conflict  *domain.ConflictError
		quota     *domain.QuotaExceededError
		transient *domain.TransientError
	)
	if errors.As(err, &nf) || errors.As(err, &ve) || errors.As(err, &conflict) ||
		errors.As(err, &quota) || errors.As(err, &transient) ||
		errors.Is(err, domain.ErrConcurrentWrite) || errors.Is(err, domain.ErrAlreadyExists) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint"):
		return fmt.Errorf("%w: %s", onUnique, msg)
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "SQLITE_BUSY"):
		return fmt.Errorf("%w: %s", domain.ErrConcurrentWrite, msg)
	}
	return err
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NewNotFoundError(kind, id)
	}
	return err
}
