package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestDataError_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", notFound("scholar %s", "s1"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrStorage)
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Contains(t, err.Error(), "scholar s1")

	var de *DataError
	assert.True(t, errors.As(err, &de))
}

func TestStorageError_Classification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"record not found", gorm.ErrRecordNotFound, CodeNotFound},
		{"deadline", context.DeadlineExceeded, CodeSyncFailure},
		{"other", errors.New("disk I/O error"), CodeStorageError},
		{"passthrough", invalidData("bad"), CodeInvalidData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := storageError("op", tc.err)
			assert.Equal(t, tc.code, CodeOf(err))
		})
	}
	assert.NoError(t, storageError("op", nil))
}

func TestDataError_UnwrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := syncFailure("push", cause)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsSyncFailure(err))
	assert.False(t, IsValidationError(err))
	assert.Equal(t, ErrorCode(""), CodeOf(cause))
}
