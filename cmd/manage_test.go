package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/citro80/core/model"
	"github.com/kilianp07/citro80/infra/sqlite"
)

func TestCreateSuperuser(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("CITRO_STORE__DRIVER", "sqlite")
	t.Setenv("CITRO_STORE__SQLITE_PATH", dbPath)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", "", "--env-file", "", "createsuperuser", "Admin@Example.com"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "admin@example.com superuser=true")

	st, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	u, err := st.GetUser(context.Background(), model.UserIDForEmail("admin@example.com"))
	require.NoError(t, err)
	assert.True(t, u.IsSuperuser)
}
