package identity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	st, err := OpenSQLite(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedUser(t *testing.T, st Store, email string) User {
	t.Helper()

	res, err := st.CreateUser(context.Background(), CreateUserInput{
		Email:        email,
		Name:         "Ada",
		PasswordHash: "$argon2id$v=19$m=8,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaA",
		Now:          time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC),
	})
	require.NoError(t, err)
	return res.User
}

func TestSQLiteStore_CreateAndFind(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	u := seedUser(t, st, "  ada@example.com ")
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Len(t, u.ID, 26)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC), u.CreatedAt)

	byID, err := st.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, byID)

	byEmail, err := st.FindUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, u, byEmail)

	cred, err := st.FindCredential(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, cred.UserID)
	assert.NotEmpty(t, cred.PasswordHash)
	assert.Equal(t, u.CreatedAt, cred.UpdatedAt)
}

func TestSQLiteStore_FindUserByEmail_ExactMatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedUser(t, st, "ada@example.com")

	_, err := st.FindUserByEmail(context.Background(), "ADA@example.com")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestSQLiteStore_FindUserByID_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	id, err := NewULID(time.Now())
	require.NoError(t, err)

	_, err = st.FindUserByID(context.Background(), id)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsMalformedID(err))
}

func TestSQLiteStore_FindUserByID_MalformedID(t *testing.T) {
	st := newTestSQLiteStore(t)

	for _, id := range []string{"", "42", "not-a-ulid", "01HZX3Y7Q2M5N8P0R4S6T9V1W!"} {
		_, err := st.FindUserByID(context.Background(), id)
		require.Error(t, err, "id=%q", id)
		assert.True(t, IsMalformedID(err), "id=%q err=%v", id, err)
		assert.False(t, IsNotFound(err), "id=%q", id)
	}
}

func TestSQLiteStore_FindCredential_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	u := seedUser(t, st, "ada@example.com")
	_, err := st.db.ExecContext(ctx, `DELETE FROM user_credentials WHERE user_id = ?`, u.ID)
	require.NoError(t, err)

	_, err = st.FindCredential(ctx, u.ID)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestSQLiteStore_CreateUser_ConflictEmail(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedUser(t, st, "ada@example.com")

	_, err := st.CreateUser(context.Background(), CreateUserInput{
		Email:        "ada@example.com",
		PasswordHash: "x",
	})
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	var ce ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "email", ce.Field)
}

func TestSQLiteStore_CreateUser_InvalidInput(t *testing.T) {
	st := newTestSQLiteStore(t)

	cases := []CreateUserInput{
		{Email: "", PasswordHash: "x"},
		{Email: "no-at-sign", PasswordHash: "x"},
		{Email: "a@b.c", PasswordHash: "  "},
	}
	for _, in := range cases {
		_, err := st.CreateUser(context.Background(), in)
		require.Error(t, err)
		assert.True(t, IsInvalidInput(err), "input=%+v err=%v", in, err)
	}
}

func TestSQLiteStore_CanceledContext_IsNotNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	u := seedUser(t, st, "ada@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := st.FindUserByID(ctx, u.ID)
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteStore_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Ping(context.Background()))
}

func TestOpenSQLite_Memory(t *testing.T) {
	st, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer st.Close()

	u := seedUser(t, st, "mem@example.com")
	got, err := st.FindUserByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)
}

func TestOpenSQLite_RejectsEmptyPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	require.Error(t, err)
}
