package usecase

import (
	"fmt"

	repo "product-order-api/internal/repository"
)

const (
	DefaultProductLimit = 100
	DefaultOrderLimit   = 10
	MaxListLimit        = 1000
)

func validateListQuery(q repo.ListQuery) error {
	if q.Skip < 0 {
		return NewValidationError("skip must be >= 0")
	}
	if q.Limit < 1 || q.Limit > MaxListLimit {
		return NewValidationError(fmt.Sprintf("limit must be between 1 and %d", MaxListLimit))
	}
	return nil
}
