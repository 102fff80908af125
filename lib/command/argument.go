package command

import (
	"net/url"
	"strings"
)

// Argument is a command-line argument that may hold a secret.
type Argument interface {
	// Original returns the value passed to the adapter.
	Original() string
	// ForDisplay returns the value with secrets masked.
	ForDisplay() string
	String() string
}

const passwordMask = "******"

// URLArgument is a repository URL. Its display form masks the password part of
// the user info.
type URLArgument struct {
	raw string
}

// NewURLArgument wraps raw as a URL argument.
func NewURLArgument(raw string) *URLArgument {
	return &URLArgument{raw: raw}
}

// Original returns the URL as given.
func (u *URLArgument) Original() string {
	return u.raw
}

// ForDisplay returns the URL with any password replaced by a mask.
func (u *URLArgument) ForDisplay() string {
	parsed, err := url.Parse(u.raw)
	if err != nil || parsed.User == nil {
		return u.raw
	}
	if _, ok := parsed.User.Password(); !ok {
		return u.raw
	}

	// url.UserPassword would percent-encode the mask.
	userInfo := parsed.User.Username() + ":" + passwordMask
	parsed.User = nil
	rendered := parsed.String()
	prefix := parsed.Scheme + "://"
	return prefix + userInfo + "@" + strings.TrimPrefix(rendered, prefix)
}

func (u *URLArgument) String() string {
	return u.ForDisplay()
}

// StringArgument is a plain, non-secret argument.
type StringArgument string

func (s StringArgument) Original() string   { return string(s) }
func (s StringArgument) ForDisplay() string { return string(s) }
func (s StringArgument) String() string     { return string(s) }
