// Package messenger holds what the chat platform integrations share.
package messenger

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/walletgate/server/internal/grant"
)

// Check is one line of a setup report
type Check struct {
	Name   string
	Detail string
	Err    error
}

// VerifyURL builds the wallet page link handed to a user, e.g.
// https://verify.example.com/verify?discordId=123
func VerifyURL(server, param, identity string) string {
	return server + "/verify?" + url.Values{param: []string{identity}}.Encode()
}

// PrintChecks writes a setup report to w and reports whether every check passed
func PrintChecks(w io.Writer, checks []Check) bool {
	ok := true
	for _, c := range checks {
		if c.Err != nil {
			ok = false
			fmt.Fprintf(w, "FAIL  %-22s %v\n", c.Name, c.Err)
			continue
		}
		fmt.Fprintf(w, "ok    %-22s %s\n", c.Name, c.Detail)
	}
	return ok
}

// Platform is a connected chat platform: the grant operations plus lifecycle
type Platform interface {
	grant.Messenger
	Open() error
	Close() error
	CheckSetup(ctx context.Context) []Check
}
