// Package models holds the client-side records exchanged with the EagleEye
// API and the push channel.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Preferences struct {
	DefaultQuality   string `json:"default_quality,omitempty"`
	DownloadLocation string `json:"download_location,omitempty"`
	AutoSubtitle     bool   `json:"auto_subtitle"`
}

type Profile struct {
	FullName    string       `json:"full_name,omitempty"`
	Avatar      string       `json:"avatar,omitempty"`
	Preferences *Preferences `json:"preferences,omitempty"`
}

// User is the identity attached to an authenticated session.
type User struct {
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	CreatedAt string   `json:"created_at,omitempty"`
	LastLogin string   `json:"last_login,omitempty"`
	Profile   *Profile `json:"profile,omitempty"`
}

// AuthResult is what a successful login or registration yields.
type AuthResult struct {
	User  User
	Token string
}

type Registration struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	FullName        string
}

// ProfileUpdate is a partial profile change. Nil fields are left alone by
// the server; a non-nil Preferences replaces the stored preferences whole.
type ProfileUpdate struct {
	FullName    *string      `json:"full_name,omitempty"`
	Avatar      *string      `json:"avatar,omitempty"`
	Preferences *Preferences `json:"preferences,omitempty"`
}

// Empty reports whether the update carries no fields.
func (u ProfileUpdate) Empty() bool {
	return u.FullName == nil && u.Avatar == nil && u.Preferences == nil
}

var ErrIncorrectProfileField = errors.New("profile field must be name=value")

// ParseProfileUpdate builds an update from "name=value" items. Preference
// keys are merged into a copy of current's preferences, since the server
// replaces preferences as a unit.
//
// Recognised names: full_name, avatar, default_quality, download_location,
// auto_subtitle.
func ParseProfileUpdate(current *Profile, items []string) (ProfileUpdate, error) {
	var upd ProfileUpdate

	prefs := func() *Preferences {
		if upd.Preferences == nil {
			p := Preferences{}
			if current != nil && current.Preferences != nil {
				p = *current.Preferences
			}
			upd.Preferences = &p
		}
		return upd.Preferences
	}

	for _, item := range items {
		name, value, ok := strings.Cut(item, "=")
		if !ok || name == "" {
			return ProfileUpdate{}, ErrIncorrectProfileField
		}
		switch name {
		case "full_name":
			v := value
			upd.FullName = &v
		case "avatar":
			v := value
			upd.Avatar = &v
		case "default_quality":
			prefs().DefaultQuality = value
		case "download_location":
			prefs().DownloadLocation = value
		case "auto_subtitle":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return ProfileUpdate{}, fmt.Errorf("auto_subtitle: %w", err)
			}
			prefs().AutoSubtitle = b
		default:
			return ProfileUpdate{}, fmt.Errorf("unknown profile field %q", name)
		}
	}
	return upd, nil
}
