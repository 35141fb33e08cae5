package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/eagleeye/internal/client/models"
	"github.com/dmitrijs2005/eagleeye/internal/client/session"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for the account fields and creates the account. Field
// problems found before sending are printed next to each field name.
func (a *App) Register(ctx context.Context) error {
	var reg models.Registration
	var err error

	if reg.Username, err = getSimpleText(a.reader, "Choose a username", a.out); err != nil {
		return err
	}
	if reg.Email, err = getSimpleText(a.reader, "Email", a.out); err != nil {
		return err
	}
	if reg.FullName, err = getSimpleText(a.reader, "Full name (optional)", a.out); err != nil {
		return err
	}
	pw, err := getPassword("Password", a.out)
	if err != nil {
		return err
	}
	confirm, err := getPassword("Confirm password", a.out)
	if err != nil {
		return err
	}
	reg.Password, reg.ConfirmPassword = string(pw), string(confirm)

	err = a.sessions.Register(ctx, reg)
	a.printValidation(err)
	return err
}

// Login prompts for credentials and signs in.
func (a *App) Login(ctx context.Context) error {
	username, err := getSimpleText(a.reader, "Username", a.out)
	if err != nil {
		return err
	}
	pw, err := getPassword("Password", a.out)
	if err != nil {
		return err
	}

	err = a.sessions.Login(ctx, username, string(pw))
	a.printValidation(err)
	return err
}

func (a *App) Logout(ctx context.Context) error {
	a.sessions.Logout(ctx)
	return nil
}

func (a *App) printValidation(err error) {
	var verr *session.ValidationError
	if !errors.As(err, &verr) {
		return
	}
	names := make([]string, 0, len(verr.Fields))
	for name := range verr.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(a.out, "  %s: %s\n", name, verr.Fields[name])
	}
}

// Profile prints the signed-in user's profile.
func (a *App) Profile(ctx context.Context) error {
	u := a.sessions.Current().User
	if u == nil {
		return session.ErrNotAuthenticated
	}

	fmt.Fprintf(a.out, "Username:  %s\n", u.Username)
	fmt.Fprintf(a.out, "Email:     %s\n", u.Email)
	if u.CreatedAt != "" {
		fmt.Fprintf(a.out, "Member since: %s\n", u.CreatedAt)
	}
	p := u.Profile
	if p == nil {
		return nil
	}
	if p.FullName != "" {
		fmt.Fprintf(a.out, "Full name: %s\n", p.FullName)
	}
	if p.Avatar != "" {
		fmt.Fprintf(a.out, "Avatar:    %s\n", p.Avatar)
	}
	if prefs := p.Preferences; prefs != nil {
		fmt.Fprintln(a.out, "Preferences:")
		fmt.Fprintf(a.out, "  default_quality   = %s\n", prefs.DefaultQuality)
		fmt.Fprintf(a.out, "  download_location = %s\n", prefs.DownloadLocation)
		fmt.Fprintf(a.out, "  auto_subtitle     = %t\n", prefs.AutoSubtitle)
	}
	return nil
}

// ProfileSet applies "name=value" items to the profile.
func (a *App) ProfileSet(ctx context.Context, items []string) error {
	u := a.sessions.Current().User
	if u == nil {
		return session.ErrNotAuthenticated
	}

	upd, err := models.ParseProfileUpdate(u.Profile, items)
	if err != nil {
		fmt.Fprintln(a.out, "Error:", err)
		return err
	}
	if upd.Empty() {
		fmt.Fprintln(a.out, "Usage: profile set "+strings.Join([]string{
			"full_name=...", "avatar=...", "default_quality=...", "download_location=...", "auto_subtitle=true|false",
		}, " "))
		return nil
	}
	return a.sessions.UpdateProfile(ctx, upd)
}
