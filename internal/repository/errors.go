package repository

import (
	"errors"
	"fmt"

	"github.com/quocanhngo/clipsync/internal/model"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// storeErr marks a Redis failure as the backing store being unavailable.
// redis.Nil is a miss, not an outage, and is passed through unchanged.
func storeErr(op string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}

// IsNotFound reports whether a gorm lookup found nothing
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
