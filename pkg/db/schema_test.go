package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchema_TablesMatchStatements(t *testing.T) {
	require.Len(t, schema, len(Tables))
	for i, name := range Tables {
		assert.Contains(t, schema[i], "CREATE TABLE IF NOT EXISTS "+name+" (")
	}
}

func TestSchema_UnreadCounterIsIsolated(t *testing.T) {
	stmt := schema[len(schema)-1]
	assert.Contains(t, stmt, "unread_count counter")
	for _, other := range schema[:len(schema)-1] {
		assert.False(t, strings.Contains(other, "counter"))
	}
}

func TestEnsureKeyspace_RejectsBadName(t *testing.T) {
	for _, name := range []string{"", "1chat", "chat; DROP", "a-b"} {
		err := EnsureKeyspace(nil, name)
		assert.Error(t, err, name)
	}
}
