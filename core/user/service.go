package user

import (
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/studylink/academy/core"
	"github.com/studylink/academy/core/event"
)

var (
	// errors
	ErrNotFound          = core.NewNotFoundError("user")
	ErrEmailExists       = errors.New("a user with this email already exists")
	ErrUsernameExists    = errors.New("a user with this username already exists")
	ErrAdminRegistration = errors.New("admin accounts cannot be registered")
)

const approvalMailTemplate = `Hello {{.Data.Name}},

Your {{.AppName}} account "{{.Data.Username}}" has been approved.
You can now sign in at {{.FrontendBaseURL}}.
`

type (
	Repository interface {
		// CheckUniqueness returns ErrUsernameExists or ErrEmailExists when another user, not in
		// excludedIDs, already holds the username or (non-empty) email.
		CheckUniqueness(username, email string, excludedIDs ...int) error
		CreateUser(usr User) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		QueryUsers(filter *QueryFilter, ordering []core.Ordering) ([]User, error)
		GetUserByID(id int) (User, error)
		GetUserByUsername(username string) (User, error)
		GetUserByUsernameOrEmail(username string) (User, error)
		UpdateUser(usr User) (User, error)
		DeleteUsersByID(ids ...int) error
	}

	// DeleteHook runs before users are deleted; an error aborts the deletion.
	DeleteHook func(ids ...int) error

	// UpdateHook runs before an updated user is saved; an error aborts the update.
	UpdateHook func(old, updated User) error

	Service struct {
		repo        Repository
		pub         event.Publisher
		mailSvc     core.EmailService
		conf        *core.Config
		hooks       []DeleteHook
		updateHooks []UpdateHook
	}
)

func NewService(repo Repository, pub event.Publisher, mailSvc core.EmailService, conf *core.Config) *Service {
	return &Service{repo: repo, pub: pub, mailSvc: mailSvc, conf: conf}
}

// OnDelete registers a hook run before every deletion.
func (svc *Service) OnDelete(hook DeleteHook) {
	svc.hooks = append(svc.hooks, hook)
}

// OnUpdate registers a hook run before every Update is saved.
func (svc *Service) OnUpdate(hook UpdateHook) {
	svc.updateHooks = append(svc.updateHooks, hook)
}

func (svc *Service) CheckUniqueness(uname, email string, excludedIDs ...int) error {
	if err := svc.repo.CheckUniqueness(uname, email, excludedIDs...); err != nil {
		var field string
		switch err {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return errors.Wrap(err, "checking uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

func (svc *Service) Create(nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		Name:       nu.Name,
		Username:   nu.Username,
		Email:      nu.Email,
		Phone:      nu.Phone,
		Role:       nu.Role,
		IsApproved: true,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if nu.IsApproved != nil {
		usr.IsApproved = *nu.IsApproved
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr, err := svc.repo.CreateUser(usr)
	if err != nil {
		return User{}, errors.Wrap(err, "creating user")
	}
	svc.pub.Publish(event.New(event.Created, event.User, usr.ID, usr))
	return usr, nil
}

// Register creates a self-registered user. The account stays unapproved, and cannot sign in, until an
// admin approves it.
func (svc *Service) Register(nu NewUser) (User, error) {
	approved := false
	nu.IsApproved = &approved
	return svc.Create(nu)
}

// Pending lists the users waiting for approval, oldest first.
func (svc *Service) Pending() ([]User, error) {
	approved := false
	return svc.repo.QueryUsers(
		&QueryFilter{IsApproved: &approved},
		[]core.Ordering{{Field: "created_at", Ascending: true}, {Field: "id", Ascending: true}},
	)
}

func (svc *Service) Query(filter *QueryFilter, ordering []core.Ordering) ([]User, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	return svc.repo.QueryUsers(filter, ordering)
}

func (svc *Service) GetByID(id int) (User, error) {
	return svc.repo.GetUserByID(id)
}

func (svc *Service) GetByUsername(uname string) (User, error) {
	return svc.repo.GetUserByUsername(core.CleanString(uname, true /* lower */))
}

func (svc *Service) GetByUsernameOrEmail(uname string) (User, error) {
	return svc.repo.GetUserByUsernameOrEmail(core.CleanString(uname, true /* lower */))
}

// Update applies a validated UpdateUser on the user with the given id.
func (svc *Service) Update(id int, uu UpdateUser) (User, error) {
	usr, err := svc.repo.GetUserByID(id)
	if err != nil {
		return User{}, errors.Wrap(err, "finding user by ID")
	}
	old := usr
	usr.Name = uu.Name
	usr.Username = uu.Username
	usr.Email = uu.Email
	usr.Phone = uu.Phone
	usr.Role = uu.Role
	if uu.IsApproved != nil {
		usr.IsApproved = *uu.IsApproved
	}
	if uu.IsActive != nil {
		usr.IsActive = *uu.IsActive
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	for _, hook := range svc.updateHooks {
		if err := hook(old, usr); err != nil {
			return User{}, errors.Wrap(err, "running update hook")
		}
	}
	return svc.save(usr)
}

// Approve marks the user approved and notifies them by email.
func (svc *Service) Approve(id int) (User, error) {
	usr, err := svc.repo.GetUserByID(id)
	if err != nil {
		return User{}, errors.Wrap(err, "finding user by ID")
	}
	if usr.IsApproved {
		return usr, nil
	}
	usr.IsApproved = true
	if usr, err = svc.save(usr); err != nil {
		return User{}, err
	}
	svc.sendApprovalMail(usr)
	return usr, nil
}

// Deactivate is the soft removal of a user.
func (svc *Service) Deactivate(id int) (User, error) {
	usr, err := svc.repo.GetUserByID(id)
	if err != nil {
		return User{}, errors.Wrap(err, "finding user by ID")
	}
	usr.IsActive = false
	return svc.save(usr)
}

func (svc *Service) SetLastLogin(usr User) (User, error) {
	usr.LastLogin = time.Now().UTC()
	return svc.save(usr)
}

// Delete runs the delete hooks (membership clean-up) then removes the users.
func (svc *Service) Delete(ids ...int) error {
	if len(ids) == 0 {
		return nil
	}
	for _, hook := range svc.hooks {
		if err := hook(ids...); err != nil {
			return errors.Wrap(err, "running delete hook")
		}
	}
	if err := svc.repo.DeleteUsersByID(ids...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	events := make([]event.Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, event.New(event.Deleted, event.User, id, nil))
	}
	svc.pub.Publish(events...)
	return nil
}

func (svc *Service) save(usr User) (User, error) {
	usr.UpdatedAt = time.Now().UTC()
	usr, err := svc.repo.UpdateUser(usr)
	if err != nil {
		return User{}, errors.Wrap(err, "updating user")
	}
	svc.pub.Publish(event.New(event.Updated, event.User, usr.ID, usr))
	return usr, nil
}

func (svc *Service) sendApprovalMail(usr User) {
	if usr.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Your account has been approved",
		Template:     approvalMailTemplate,
		TemplateData: usr,
	})
}
