package worker

import (
	"errors"
	"fmt"
	"net/textproto"
	"testing"

	"github.com/wneessen/go-mail"
)

func TestSMTPRejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"mailbox unavailable", &textproto.Error{Code: 550, Msg: "no such user"}, true},
		{"wrapped rejection", fmt.Errorf("rcpt: %w", &textproto.Error{Code: 553, Msg: "bad address"}), true},
		{"greylisted", &textproto.Error{Code: 451, Msg: "try again later"}, false},
		{"network", errors.New("dial tcp: connection refused"), false},
		{"send error without reply", &mail.SendError{Reason: mail.ErrSMTPRcptTo}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := smtpRejected(tt.err); got != tt.want {
				t.Errorf("smtpRejected(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
