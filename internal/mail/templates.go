package mail

import (
	"fmt"
	"html/template"
	"strings"
)

var resetTmpl = template.Must(template.New("reset").Parse(
	`<p>Hi {{.Name}},</p>
<p>Kindly click the link and <a href="{{.Link}}">reset your password</a>.</p>
<p>The link is valid for one hour. If you did not ask for a reset, ignore this mail.</p>`))

var welcomeTmpl = template.Must(template.New("welcome").Parse(
	`<p>Hi {{.Name}},</p>
<p>An account has been created for you ({{.Role}}).</p>
<p>Sign in at <a href="{{.LoginURL}}">{{.LoginURL}}</a> with your email address. You can change your password after logging in.</p>`))

func PasswordResetMessage(to, name, link string) (Message, error) {
	var b strings.Builder

	err := resetTmpl.Execute(&b, struct {
		Name string
		Link string
	}{Name: name, Link: link})

	if err != nil {
		return Message{}, fmt.Errorf("render reset mail: %w", err)
	}

	return Message{
		To:      to,
		Subject: "Reset your password",
		HTML:    b.String(),
	}, nil
}

func WelcomeMessage(to, name, role, loginURL string) (Message, error) {
	var b strings.Builder

	err := welcomeTmpl.Execute(&b, struct {
		Name     string
		Role     string
		LoginURL string
	}{Name: name, Role: role, LoginURL: loginURL})

	if err != nil {
		return Message{}, fmt.Errorf("render welcome mail: %w", err)
	}

	return Message{
		To:      to,
		Subject: "Welcome to the platform",
		HTML:    b.String(),
	}, nil
}
