package auth

import (
	"context"
	"fmt"

	"Anicut/model"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// VerifyPassword compares a password with a bcrypt hash.
func VerifyPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// UserStore 开发用户所需的用户访问
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, user *model.User) (string, error)
}

// EnsureDevUser 确保固定的开发用户存在，返回该用户
func EnsureDevUser(ctx context.Context, users UserStore, email, password string) (*model.User, error) {
	user, err := users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("查询开发用户失败: %w", err)
	}
	if user != nil {
		return user, nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user = &model.User{Email: email, PasswordHash: hash}
	if _, err := users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("创建开发用户失败: %w", err)
	}
	return user, nil
}
