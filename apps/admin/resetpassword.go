package main

import (
	"github.com/pkg/errors"

	"github.com/studylink/academy/core/user"
)

func (cli *commandLine) resetPassword(uname, pwd string) error {
	usr, err := cli.usrSvc.GetByUsernameOrEmail(uname)
	if err != nil {
		return err
	}
	_, err = cli.usrSvc.Update(usr.ID, user.UpdateUser{
		Name:     usr.Name,
		Username: usr.Username,
		Email:    usr.Email,
		Phone:    usr.Phone,
		Role:     usr.Role,
		Password: pwd,
	})
	return errors.Wrap(err, "updating user")
}
