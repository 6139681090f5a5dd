package repository

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound 更新或删除时记录不存在
var ErrNotFound = errors.New("record not found")

func newID() string {
	return uuid.NewString()
}

// rowsOrNotFound 将零行影响转换为 ErrNotFound
func rowsOrNotFound(tx *gorm.DB) error {
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
