package session

import (
	"regexp"
	"sort"
	"strings"

	"github.com/dmitrijs2005/eagleeye/internal/client/models"
)

const (
	FieldUsername        = "username"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirm_password"

	minUsernameLen = 3
	minPasswordLen = 6
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	emailPattern    = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}$`)
)

// ValidationError maps input fields to the reason each was rejected.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return "invalid input: " + strings.Join(parts, "; ")
}

type fieldErrors map[string]string

func (f fieldErrors) add(field, msg string) {
	if _, taken := f[field]; !taken {
		f[field] = msg
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}

func checkPassword(f fieldErrors, password string) {
	switch {
	case password == "":
		f.add(FieldPassword, "Password is required")
	case len(password) < minPasswordLen:
		f.add(FieldPassword, "Password must be at least 6 characters")
	}
}

func checkUsernameLength(f fieldErrors, username string) {
	switch {
	case username == "":
		f.add(FieldUsername, "Username is required")
	case len(username) < minUsernameLen:
		f.add(FieldUsername, "Username must be at least 3 characters")
	}
}

// ValidateLogin checks login input before it is sent anywhere.
func ValidateLogin(username, password string) error {
	f := fieldErrors{}
	checkUsernameLength(f, strings.TrimSpace(username))
	checkPassword(f, password)
	return f.err()
}

// ValidateRegistration checks every registration field and reports all
// failures at once.
func ValidateRegistration(reg models.Registration) error {
	f := fieldErrors{}

	username := strings.TrimSpace(reg.Username)
	checkUsernameLength(f, username)
	if username != "" && !usernamePattern.MatchString(username) {
		f.add(FieldUsername, "Username can only contain letters, numbers, and underscores")
	}

	email := strings.TrimSpace(reg.Email)
	switch {
	case email == "":
		f.add(FieldEmail, "Email is required")
	case !emailPattern.MatchString(email):
		f.add(FieldEmail, "Invalid email address")
	}

	checkPassword(f, reg.Password)

	switch {
	case reg.ConfirmPassword == "":
		f.add(FieldConfirmPassword, "Please confirm your password")
	case reg.ConfirmPassword != reg.Password:
		f.add(FieldConfirmPassword, "Passwords do not match")
	}

	return f.err()
}
