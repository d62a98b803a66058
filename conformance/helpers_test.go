package conformance

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/toasty-orm/toasty/driver/sqlite"
	"github.com/toasty-orm/toasty/schema"
)

// openUserTodo builds the User/Todo fixture and registers it against a
// fresh in-memory SQLite database, the only backend this suite can reach
// without a live server or cloud credentials.
func openUserTodo(t *testing.T) (*schema.Schema, *sqlite.Driver) {
	t.Helper()
	s, err := UserTodoSchema()
	require.NoError(t, err)

	d, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	require.NoError(t, d.RegisterSchema(context.Background(), s.Db))
	return s, d
}

func openFoo(t *testing.T) (*schema.Schema, *sqlite.Driver) {
	t.Helper()
	s, err := FooSchema()
	require.NoError(t, err)

	d, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	require.NoError(t, d.RegisterSchema(context.Background(), s.Db))
	return s, d
}

// mustUUID parses a literal UUID string into the [16]byte stmt.Value shape,
// failing the test on malformed input rather than silently zeroing it.
func mustUUID(t *testing.T, s string) [16]byte {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return [16]byte(id)
}
