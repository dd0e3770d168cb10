package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// interactive reports whether prompts can be shown.
func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// promptText asks for a value unless one was given. Outside a terminal a
// missing value is an error.
func promptText(value, title string, secret bool) (string, error) {
	if value != "" {
		return value, nil
	}
	if !interactive() {
		return "", fmt.Errorf("%s is required", strings.ToLower(title))
	}
	input := huh.NewInput().Title(title).Value(&value).Validate(func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("required")
		}
		return nil
	})
	if secret {
		input = input.EchoMode(huh.EchoModePassword)
	}
	if err := input.Run(); err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// confirm asks a yes/no question; outside a terminal it returns def.
func confirm(title string, def bool) bool {
	if !interactive() {
		return def
	}
	answer := def
	if err := huh.NewConfirm().Title(title).Value(&answer).Run(); err != nil {
		return false
	}
	return answer
}

// choose offers options unless value is already one of them.
func choose(value, title string, options ...string) (string, error) {
	for _, o := range options {
		if strings.EqualFold(value, o) {
			return o, nil
		}
	}
	if value != "" {
		return "", fmt.Errorf("invalid %s %q (one of %s)", strings.ToLower(title), value, strings.Join(options, ", "))
	}
	if !interactive() {
		return options[0], nil
	}
	value = options[0]
	if err := huh.NewSelect[string]().Title(title).Options(huh.NewOptions(options...)...).Value(&value).Run(); err != nil {
		return "", err
	}
	return value, nil
}
