package main

import (
	"github.com/pkg/errors"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/user"
)

// addUser updates or creates an active, approved user.User
func (cli *commandLine) addUser(name, uname, email, role, pwd string) error {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	role = core.CleanString(role, true /* lower */)
	if name = core.CleanString(name); name == "" {
		name = uname
	}
	if !user.IsValidRole(role) {
		return errors.Errorf("invalid role %q", role)
	}

	active := true
	usr, err := cli.usrSvc.GetByUsername(uname)
	switch {
	case core.IsNotFound(err):
		if err = cli.usrSvc.CheckUniqueness(uname, email); err != nil {
			return err
		}
		_, err = cli.usrSvc.Create(user.NewUser{
			Name:       name,
			Username:   uname,
			Email:      email,
			Role:       role,
			Password:   pwd,
			IsApproved: &active,
		})
		return errors.Wrap(err, "creating user")
	case err != nil:
		return errors.Wrap(err, "finding user by username")
	}

	if email == "" {
		email = usr.Email
	} else if err = cli.usrSvc.CheckUniqueness(uname, email, usr.ID); err != nil {
		return err
	}
	_, err = cli.usrSvc.Update(usr.ID, user.UpdateUser{
		Name:       name,
		Username:   usr.Username,
		Email:      email,
		Phone:      usr.Phone,
		Role:       role,
		IsApproved: &active,
		IsActive:   &active,
		Password:   pwd,
	})
	return errors.Wrap(err, "updating user")
}
