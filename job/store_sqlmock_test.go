package job

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Driver-level failures are wrapped with context rather than surfaced raw.

func TestRewritePathPrefixDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE jobs").WillReturnError(sqlmock.ErrCancelled)

	store := NewStore(db)
	_, err = store.RewritePathPrefix("proj-a", "/old", "/new")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to rewrite job paths")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE jobs").WillReturnError(sqlmock.ErrCancelled)

	store := NewStore(db)
	_, err = store.Finish("job-1", StatusFailed, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to finish job")
	assert.NoError(t, mock.ExpectationsWereMet())
}
