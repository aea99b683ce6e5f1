package forms

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

// Field caps. Anything longer is rejected, not truncated.
const (
	maxNameLen    = 200
	maxEmailLen   = 254
	maxPhoneLen   = 50
	maxServiceLen = 100
	maxMessageLen = 5000
)

var emailRE = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether s looks like an address. Deliberately loose:
// one @, no whitespace, a dot in the domain.
func ValidEmail(s string) bool {
	return emailRE.MatchString(s)
}

type contactRequest struct {
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Phone       string   `json:"phone"`
	Service     string   `json:"service"`
	Message     string   `json:"message"`
	CompanyName honeypot `json:"company_name"`
}

type subscribeRequest struct {
	Email       string   `json:"email"`
	CompanyName honeypot `json:"company_name"`
}

// honeypot is the hidden company_name field. Bots fill it with all sorts of
// values, so any JSON value other than null, false, 0 or "" counts as filled.
type honeypot bool

func (h *honeypot) UnmarshalJSON(b []byte) error {
	v := bytes.TrimSpace(b)
	switch string(v) {
	case "null", "false", `""`:
		*h = false
		return nil
	}
	if f, err := strconv.ParseFloat(string(v), 64); err == nil {
		*h = f != 0
		return nil
	}
	*h = true
	return nil
}

// validationError carries the message shown to the visitor.
type validationError string

func (e validationError) Error() string { return string(e) }

// normalize trims every field in place.
func (r *contactRequest) normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
	r.Service = strings.TrimSpace(r.Service)
	r.Message = strings.TrimSpace(r.Message)
}

// validate returns the first problem in form order, or nil.
func (r *contactRequest) validate() error {
	switch {
	case r.Name == "":
		return validationError("Name is required.")
	case len(r.Name) > maxNameLen:
		return validationError("Name is too long.")
	}
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	switch {
	case r.Message == "":
		return validationError("Message is required.")
	case len(r.Message) > maxMessageLen:
		return validationError("Message is too long.")
	case len(r.Phone) > maxPhoneLen:
		return validationError("Phone number is too long.")
	case len(r.Service) > maxServiceLen:
		return validationError("Service is too long.")
	}
	return nil
}

func (r *subscribeRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
}

func (r *subscribeRequest) validate() error {
	return validateEmail(r.Email)
}

func validateEmail(email string) error {
	switch {
	case email == "":
		return validationError("Email is required.")
	case len(email) > maxEmailLen || !ValidEmail(email):
		return validationError("Please enter a valid email address.")
	}
	return nil
}
