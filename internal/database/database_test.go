package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleamarket/internal/models"
)

func TestInitialize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Initialize(path)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.Category{}).Count(&count).Error)
	assert.Equal(t, int64(len(categories)), count)

	t.Run("reopening does not duplicate categories", func(t *testing.T) {
		again, err := Initialize(path)
		require.NoError(t, err)

		var n int64
		require.NoError(t, again.Model(&models.Category{}).Count(&n).Error)
		assert.Equal(t, count, n)
	})
}
