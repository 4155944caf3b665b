package mail

import (
	"context"
	"errors"
)

var (
	ErrAlreadySent = errors.New("mail already sent")
	ErrInProgress  = errors.New("mail send in progress")
)

type Message struct {
	To      string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}
