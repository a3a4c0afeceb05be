package database

import (
	"io/fs"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studylink/academy/core"
)

func TestDSN(t *testing.T) {
	conf := core.NewTestConfig()
	conf.Database.Engine = "postgres"
	conf.Database.Host = "db"
	conf.Database.Port = "5432"
	conf.Database.User = "app"
	conf.Database.Password = "p@ss word"
	conf.Database.AdminUser = "root"
	conf.Database.AdminPassword = "toor"

	tests := []struct {
		name       string
		admin      bool
		disableTLS bool
		wantUser   string
		wantSSL    string
	}{
		{"app user", false, false, "app", "require"},
		{"admin user", true, true, "root", "disable"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conf.Database.DisableTLS = tc.disableTLS
			u, err := url.Parse(dsn("studylink", tc.admin, conf))
			require.NoError(t, err)
			assert.Equal(t, "postgres", u.Scheme)
			assert.Equal(t, "db:5432", u.Host)
			assert.Equal(t, "/studylink", u.Path)
			assert.Equal(t, tc.wantUser, u.User.Username())
			assert.Equal(t, tc.wantSSL, u.Query().Get("sslmode"))
			assert.Equal(t, "utc", u.Query().Get("timezone"))
		})
	}

	pwd, _ := url.Parse(dsn("studylink", false, conf))
	p, _ := pwd.User.Password()
	assert.Equal(t, "p@ss word", p)
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrations, MigrationsDir+"/*.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, files)
	for _, f := range files {
		raw, err := fs.ReadFile(migrations, f)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "-- +goose Up", f)
		assert.Contains(t, string(raw), "-- +goose Down", f)
	}
}
