package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/sandeepkv93/ticket-access-service/internal/observability"
)

var notFoundErrors = []error{
	ErrUserNotFound,
	ErrSessionNotFound,
	ErrResourceNotFound,
	ErrResetTokenInvalid,
	ErrSettingsNotFound,
	ErrEventNotFound,
}

func recordOp(ctx context.Context, repo, op string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		for _, nf := range notFoundErrors {
			if errors.Is(err, nf) {
				outcome = "not_found"
				break
			}
		}
	}
	observability.RecordRepositoryOperation(ctx, repo, op, outcome)
}

// isDuplicateKey covers drivers whose translator is not wired by TranslateError.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}
