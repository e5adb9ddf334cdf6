package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MrEthical07/authclient"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

var errNotSignedIn = errors.New("not signed in; run `authctl login`")

func subcommandFlags(name string, r *rootConfig) *flag.FlagSet {
	fs := flag.NewFlagSet("authctl "+name, flag.ContinueOnError)
	fs.SetOutput(r.stderr)
	return fs
}

func subcommandOptions() []ff.Option {
	return []ff.Option{ff.WithEnvVarPrefix(envPrefix)}
}

// withSession opens a session, runs fn and closes it.
func withSession(ctx context.Context, r *rootConfig, fn func(*session) error) error {
	s, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(s)
}

func loginCommand(r *rootConfig) *ffcli.Command {
	fs := subcommandFlags("login", r)
	email := fs.String("email", "", "email or username")
	password := fs.String("password", "", "password (or AUTHCTL_PASSWORD)")

	return &ffcli.Command{
		Name:       "login",
		ShortUsage: "authctl login -email <email> -password <password>",
		ShortHelp:  "sign in and persist the credential",
		FlagSet:    fs,
		Options:    subcommandOptions(),
		Exec: func(ctx context.Context, _ []string) error {
			return withSession(ctx, r, func(s *session) error {
				u, err := s.client.Login(ctx, *email, *password)
				if err != nil {
					return errors.New(authclient.Message(err, authclient.DefaultConfig().Messages.LoginFailed))
				}
				return printUser(r.stdout, u)
			})
		},
	}
}

func registerCommand(r *rootConfig) *ffcli.Command {
	fs := subcommandFlags("register", r)
	var (
		email    = fs.String("email", "", "email")
		password = fs.String("password", "", "password (or AUTHCTL_PASSWORD)")
		username = fs.String("username", "", "username (defaults to the email local part)")
		name     = fs.String("name", "", "full name")
		role     = fs.String("role", string(authclient.RoleStudent), "student, instructor or admin")
		level    = fs.String("level", "", "JLPT level N5..N1")
		bio      = fs.String("bio", "", "short bio")
	)

	return &ffcli.Command{
		Name:       "register",
		ShortUsage: "authctl register -email <email> -password <password> [flags]",
		ShortHelp:  "create an account and sign in",
		FlagSet:    fs,
		Options:    subcommandOptions(),
		Exec: func(ctx context.Context, _ []string) error {
			in := authclient.RegisterInput{
				Email:    *email,
				Password: *password,
				Username: *username,
				FullName: *name,
				Bio:      *bio,
			}
			parsedRole, err := authclient.ParseRole(*role)
			if err != nil {
				return err
			}
			in.Role = parsedRole
			if *level != "" {
				if in.Level, err = authclient.ParseTier(*level); err != nil {
					return err
				}
			}

			return withSession(ctx, r, func(s *session) error {
				u, err := s.client.Register(ctx, in)
				if err != nil {
					return errors.New(authclient.Message(err, authclient.DefaultConfig().Messages.RegisterFailed))
				}
				return printUser(r.stdout, u)
			})
		},
	}
}

func whoamiCommand(r *rootConfig) *ffcli.Command {
	return &ffcli.Command{
		Name:       "whoami",
		ShortUsage: "authctl whoami",
		ShortHelp:  "print the signed-in user",
		FlagSet:    subcommandFlags("whoami", r),
		Exec: func(ctx context.Context, _ []string) error {
			return withSession(ctx, r, func(s *session) error {
				u, ok := s.client.User()
				if !ok {
					return errNotSignedIn
				}
				return printUser(r.stdout, u)
			})
		},
	}
}

func updateCommand(r *rootConfig) *ffcli.Command {
	fs := subcommandFlags("update", r)
	var p authclient.ProfileUpdate
	fs.Func("name", "new full name", func(v string) error { p.FullName = &v; return nil })
	fs.Func("bio", "new bio", func(v string) error { p.Bio = &v; return nil })
	fs.Func("avatar", "new avatar URL", func(v string) error { p.AvatarURL = &v; return nil })
	fs.Func("preferences", "learning preferences (free text or JSON)", func(v string) error {
		p.LearningPreferences = &v
		return nil
	})
	fs.Func("level", "new JLPT level N5..N1", func(v string) error {
		t, err := authclient.ParseTier(v)
		if err != nil {
			return err
		}
		p.Level = &t
		return nil
	})

	return &ffcli.Command{
		Name:       "update",
		ShortUsage: "authctl update [-name ..] [-bio ..] [-level ..] [-avatar ..] [-preferences ..]",
		ShortHelp:  "update the signed-in user's profile",
		FlagSet:    fs,
		Exec: func(ctx context.Context, _ []string) error {
			return withSession(ctx, r, func(s *session) error {
				if !s.client.Authenticated() {
					return errNotSignedIn
				}
				u, err := s.client.UpdateProfile(ctx, p)
				if err != nil {
					return errors.New(authclient.Message(err, authclient.DefaultConfig().Messages.ProfileUpdateFailed))
				}
				return printUser(r.stdout, u)
			})
		},
	}
}

func logoutCommand(r *rootConfig) *ffcli.Command {
	return &ffcli.Command{
		Name:       "logout",
		ShortUsage: "authctl logout",
		ShortHelp:  "forget the persisted credential",
		FlagSet:    subcommandFlags("logout", r),
		Exec: func(ctx context.Context, _ []string) error {
			return withSession(ctx, r, func(s *session) error {
				s.client.Logout(ctx)
				fmt.Fprintln(r.stdout, authclient.DefaultConfig().Messages.LoggedOut)
				return nil
			})
		},
	}
}

func printUser(w io.Writer, u authclient.User) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(k, v string) { fmt.Fprintf(tw, "%s\t%s\n", k, v) }

	row("id", fmt.Sprint(u.ID))
	row("email", u.Email)
	row("name", u.DisplayName())
	row("role", string(u.Role))
	if u.Level != "" {
		row("level", string(u.Level))
	}
	if u.Bio != "" {
		row("bio", u.Bio)
	}
	if u.LearningPreferences != "" {
		row("preferences", strings.TrimSpace(u.LearningPreferences))
	}
	row("streak", fmt.Sprintf("%d days", u.StudyStreak))
	if u.LastLogin != nil {
		row("last login", u.LastLogin.Local().Format(time.RFC1123))
	}
	return tw.Flush()
}
