package memory

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorWrapping(t *testing.T) {
	err := NewStorageError("gitlog.append", "check that git is installed", ErrNotARepository)

	assert.ErrorIs(t, err, ErrNotARepository)
	assert.Equal(t, CategoryStorage, CategoryOf(err))
	assert.Equal(t, "check that git is installed", HintOf(err))
	assert.Contains(t, err.Error(), "gitlog.append")
	assert.Contains(t, err.Error(), "hint:")
}

func TestErrorThroughExtraWrapping(t *testing.T) {
	inner := NewIndexError("index.insert", "re-run 'engram sync reindex'", ErrNotFound)
	outer := fmt.Errorf("capture failed: %w", inner)

	assert.Equal(t, CategoryIndex, CategoryOf(outer))
	assert.Equal(t, "re-run 'engram sync reindex'", HintOf(outer))
	assert.ErrorIs(t, outer, ErrNotFound)
}

func TestCategoryOfPlainError(t *testing.T) {
	err := errors.New("plain")
	assert.Equal(t, Category(""), CategoryOf(err))
	assert.Equal(t, "", HintOf(err))
}

func TestNewErrorDefaultsHint(t *testing.T) {
	err := NewCaptureError("capture.validate", "", ErrInvalidNamespace)
	assert.NotEmpty(t, HintOf(err))
}

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want Category
	}{
		{name: "storage", err: NewStorageError("op", "h", nil), want: CategoryStorage},
		{name: "index", err: NewIndexError("op", "h", nil), want: CategoryIndex},
		{name: "embedding", err: NewEmbeddingError("op", "h", nil), want: CategoryEmbedding},
		{name: "parse", err: NewParseError("op", "h", nil), want: CategoryParse},
		{name: "capture", err: NewCaptureError("op", "h", nil), want: CategoryCapture},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Category)
			assert.Equal(t, tt.want, CategoryOf(tt.err))
		})
	}
}
