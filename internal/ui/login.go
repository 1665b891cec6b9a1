package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"

	"github.com/bgunnarsson/binadmin/internal/db"
)

func requiredValidator(field string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func portValidator(s string) error {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}

// RunLoginForm asks for any connection field the user has not supplied yet.
// Fields already set are shown prefilled.
func RunLoginForm(creds *db.Credentials) error {
	host := creds.Host
	if host == "" {
		host = creds.HostOrDefault()
	}
	port := ""
	if creds.Port != 0 {
		port = strconv.Itoa(creds.Port)
	}

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Host").
				Prompt(": ").
				Inline(true).
				Value(&host).
				Validate(requiredValidator("host")),
			huh.NewInput().
				Title("Port").
				Prompt(": ").
				Inline(true).
				Placeholder(strconv.Itoa(creds.PortOrDefault())).
				Value(&port).
				Validate(portValidator),
			huh.NewInput().
				Title("User").
				Prompt(": ").
				Inline(true).
				Value(&creds.User).
				Validate(requiredValidator("user")),
			huh.NewInput().
				Title("Password").
				Prompt(": ").
				Inline(true).
				EchoMode(huh.EchoModePassword).
				Value(&creds.Password),
			huh.NewInput().
				Title("Database").
				Prompt(": ").
				Inline(true).
				Placeholder("optional").
				Value(&creds.Database),
		),
	).WithTheme(Theme()).Run()
	if err != nil {
		return err
	}

	creds.Host = host
	if port != "" {
		creds.Port, _ = strconv.Atoi(port)
	}
	return nil
}

// PromptPassword asks for the password only.
func PromptPassword(creds *db.Credentials) error {
	title := fmt.Sprintf("Password for %s@%s", creds.User, creds.HostOrDefault())
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				Prompt(": ").
				Inline(true).
				EchoMode(huh.EchoModePassword).
				Value(&creds.Password),
		),
	).WithTheme(Theme()).Run()
}

// ConfirmName asks the user to type name again before a destructive action.
func ConfirmName(action, name string) (string, error) {
	var typed string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(fmt.Sprintf("Type %q to %s it", name, action)).
				Prompt(": ").
				Inline(true).
				Value(&typed),
		),
	).WithTheme(Theme()).Run()
	return typed, err
}
