package app

import "errors"

var (
	// ErrInvalidCredentials is returned on any login failure so callers
	// cannot distinguish a wrong password from an unknown account.
	ErrInvalidCredentials = errors.New("Incorrect email address or password")

	// ErrEmailAlreadyExists is returned when a registration reuses an email.
	ErrEmailAlreadyExists = errors.New("An account with this email already exists")

	// ErrMissingFields is returned when a registration omits a required field.
	ErrMissingFields = errors.New("name, email and password are required")

	// ErrUserNotFound is returned when an authenticated email resolves to no
	// stored account.
	ErrUserNotFound = errors.New("user account not found")

	// ErrWeakPassword wraps the specific policy failure from the password
	// validator.
	ErrWeakPassword = errors.New("password does not meet the policy")

	// ErrInvalidPlan is returned when a premium payment names an unknown plan.
	ErrInvalidPlan = errors.New("unknown premium plan")

	// ErrInvalidPaymentType is returned when a payment submission carries a
	// type outside the supported set.
	ErrInvalidPaymentType = errors.New("unsupported payment type")

	// ErrInvalidAmount is returned when a mock-exam payment omits the fee.
	ErrInvalidAmount = errors.New("payment amount must be positive")
)
