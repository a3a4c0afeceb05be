package user

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studylink/academy/core"
)

func TestPasswordPolicyViolation(t *testing.T) {
	tests := []struct {
		name string
		pwd  string
		want string
	}{
		{"empty", "", ""},
		{"too short", "ab1", pwdMinLenTag},
		{"whitespace", "abc def12", pwdNoSpaceTag},
		{"all numeric", "12345678", pwdNotAllNumTag},
		{"similar to username", "kimminji1", pwdAttrSimTag},
		{"similar to email", "minji@mail.com", pwdAttrSimTag},
		{"valid", "Tr0ub4dor&3", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := passwordPolicyViolation(tc.pwd, "Kim Minji", "kimminji", "minji@mail.com")
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNewUserValidation(t *testing.T) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)

	tests := []struct {
		name      string
		nu        NewUser
		wantField string
	}{
		{
			name: "valid",
			nu: NewUser{Name: "Kim", Username: "kim_1", Role: RoleStudent,
				Password: "Tr0ub4dor&3", PasswordConfirm: "Tr0ub4dor&3"},
		},
		{
			name: "bad role",
			nu: NewUser{Name: "Kim", Username: "kim_1", Role: "janitor",
				Password: "Tr0ub4dor&3", PasswordConfirm: "Tr0ub4dor&3"},
			wantField: "role",
		},
		{
			name: "bad username",
			nu: NewUser{Name: "Kim", Username: "kim-1", Role: RoleStudent,
				Password: "Tr0ub4dor&3", PasswordConfirm: "Tr0ub4dor&3"},
			wantField: "username",
		},
		{
			name: "passwords differ",
			nu: NewUser{Name: "Kim", Username: "kim_1", Role: RoleStudent,
				Password: "Tr0ub4dor&3", PasswordConfirm: "Tr0ub4dor&4"},
			wantField: "password_confirm",
		},
		{
			name: "weak password",
			nu: NewUser{Name: "Kim", Username: "kim_1", Role: RoleStudent,
				Password: "123456789", PasswordConfirm: "123456789"},
			wantField: "password",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validate.Struct(tc.nu)
			if tc.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			verrs, ok := err.(validator.ValidationErrors)
			require.True(t, ok)
			assert.Equal(t, tc.wantField, verrs[0].Field())
		})
	}
}
