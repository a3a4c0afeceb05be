package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/academy"
	"github.com/studylink/academy/core/event"
	"github.com/studylink/academy/core/user"
	dummydb "github.com/studylink/academy/storage/database/dummy"
	"github.com/studylink/academy/storage/mirror"
	"github.com/studylink/academy/tests"
)

type cliEnv struct {
	*commandLine
	data    *dummydb.DB
	backend mirror.Backend
	out     *bytes.Buffer
}

func setup(t *testing.T) *cliEnv {
	t.Helper()
	conf := core.NewTestConfig()
	events := new(event.Recorder)
	backend := mirror.NewMemoryBackend()
	store := mirror.NewStore(backend, events)
	data, err := dummydb.Open()
	require.NoError(t, err)

	usrSvc := user.NewService(dummydb.NewUserRepository(data), events, nil, conf)
	out := new(bytes.Buffer)

	academySvc := academy.NewService(dummydb.NewAcademyRepository(data), usrSvc, events, conf, core.NopLogger{})
	usrSvc.OnUpdate(academySvc.SyncMember)

	// start CLI
	cli := &commandLine{
		store:   store,
		syncer:  mirror.NewSyncer(store, data, core.NopLogger{}),
		usrSvc:  usrSvc,
		academy: academySvc,
		out:     out,
	}
	return &cliEnv{commandLine: cli, data: data, backend: backend, out: out}
}

// hydrated loads the mirror written by the CLI into a fresh store.
func (env *cliEnv) hydrated(t *testing.T) *user.Service {
	t.Helper()
	data, err := dummydb.Open()
	require.NoError(t, err)
	restored, err := mirror.Hydrate(context.Background(), env.store, data)
	require.NoError(t, err)
	require.True(t, restored)
	return user.NewService(dummydb.NewUserRepository(data), new(event.Recorder), nil, core.NewTestConfig())
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, err)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	t.Run("memory backend", func(t *testing.T) {
		assert.Equal(t, errNoDatabase, cli.run([]string{"admin", "migrate", "up"}))
	})

	cli.db = new(sql.DB) // never used: goose is mocked
	gooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		if dir != "migrations" {
			return fmt.Errorf("unexpected dir %q", dir)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "course", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no username", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "root"}, wantErr: errHelp},
		{name: "invalid role", args: []string{"adduser", "-username", "root", "-role", "janitor"}, extra: extra{pwd: "pwd"}, wantErrStr: `invalid role "janitor"`},
		{name: "create admin", args: []string{"adduser", "-username", "Root", "-email", "root@example.com"}, extra: extra{pwd: "pwd"}},
		{name: "create teacher", args: []string{"adduser", "-username", "prof", "-name", "Prof X", "-role", "teacher"}, extra: extra{pwd: "pwd"}},
		{name: "update admin", args: []string{"adduser", "-username", "root", "-name", "Super User"}, extra: extra{pwd: "new-pwd"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		pwd := ""
		if e, ok := tt.extra.(extra); ok {
			pwd = e.pwd
		}

		t.Run(tt.name, func(t *testing.T) {
			mockPassword(pwd)
			tt.check(t, cli.run(args))
		})
	}

	// the mirror holds the users
	users := cli.hydrated(t)
	root, err := users.GetByUsername("root")
	require.NoError(t, err)
	assert.Equal(t, "Super User", root.Name)
	assert.Equal(t, "root@example.com", root.Email)
	assert.Equal(t, user.RoleAdmin, root.Role)
	assert.True(t, root.IsActive)
	assert.True(t, root.IsApproved)
	assert.NoError(t, root.CheckPassword("new-pwd"))

	prof, err := users.GetByUsername("prof")
	require.NoError(t, err)
	assert.Equal(t, "Prof X", prof.Name)
	assert.Equal(t, user.RoleTeacher, prof.Role)
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, dummydb.NewUserRepository(cli.data), "User", "awe", "awe@test.cd", "mdr", user.RoleStudent, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		pwd := ""
		if e, ok := tt.extra.(extra); ok {
			pwd = e.pwd
		}

		t.Run(tt.name, func(t *testing.T) {
			mockPassword(pwd)
			tt.check(t, cli.run(args))
		})
	}

	refreshedUsr, err := cli.hydrated(t).GetByID(usr.ID)
	require.NoError(t, err)
	assert.False(t, bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash), "failed to update new password")
	assert.NoError(t, refreshedUsr.CheckPassword("lmao"))
}

func Test_commandLine_checkAndRepair(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()
	usrRepo := dummydb.NewUserRepository(cli.data)
	student := testutil.CreateUser(t, usrRepo, "Student", "student", "student@example.com", "", user.RoleStudent, true)
	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teacher", "teacher@example.com", "", user.RoleTeacher, true)

	t.Run("empty mirror", func(t *testing.T) {
		require.NoError(t, cli.run([]string{"admin", "check"}))
		assert.Contains(t, cli.out.String(), "mirror is empty")
	})

	_, err := cli.academy.CreateClass(academy.NewClass{Name: "C1", TeacherIDs: []int{teacher.ID}, StudentIDs: []int{student.ID}})
	require.NoError(t, err)
	require.NoError(t, cli.syncer.SyncAll(ctx))

	t.Run("consistent", func(t *testing.T) {
		cli.out.Reset()
		require.NoError(t, cli.run([]string{"admin", "check"}))
		assert.Contains(t, cli.out.String(), "no inconsistency found")
	})

	// drop the student side of the membership
	require.NoError(t, dummydb.NewAcademyRepository(cli.data).Update(func(tx academy.Tx) error {
		tx.PutStudentProfile(academy.StudentProfile{UserID: student.ID, Classes: []academy.ClassRef{}})
		return nil
	}))
	require.NoError(t, cli.syncer.SyncAll(ctx))

	t.Run("inconsistent", func(t *testing.T) {
		cli.out.Reset()
		assert.Equal(t, errInconsistent, cli.run([]string{"admin", "check"}))
		assert.Contains(t, cli.out.String(), academy.MissingStudentRef)
	})

	t.Run("repair", func(t *testing.T) {
		cli.out.Reset()
		require.NoError(t, cli.run([]string{"admin", "repair"}))
		assert.Contains(t, cli.out.String(), "1 inconsistencies fixed")

		cli.out.Reset()
		require.NoError(t, cli.run([]string{"admin", "check"}))
		assert.Contains(t, cli.out.String(), "no inconsistency found")
	})
}
