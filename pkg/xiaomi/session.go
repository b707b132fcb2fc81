package xiaomi

import (
	"fmt"
	"strings"
)

// Session is the state of one login. ssecurity, passToken and userID are
// either all set (authenticated) or all empty. A Session belongs to a single
// Client and is not safe for concurrent use.
type Session struct {
	sid       string
	cookies   string
	userID    int64
	ssecurity []byte
	passToken string
}

// SID returns the application id the session logs in to.
func (s *Session) SID() string { return s.sid }

// UserID returns the account id, zero when not authenticated.
func (s *Session) UserID() int64 { return s.userID }

// PassToken returns the resumable credential.
func (s *Session) PassToken() string { return s.passToken }

// Cookies returns the Cookie header sent with API requests.
func (s *Session) Cookies() string { return s.cookies }

// Authenticated reports whether the session can sign requests.
func (s *Session) Authenticated() bool {
	return len(s.ssecurity) > 0 && s.passToken != "" && s.userID != 0
}

// Token serializes the session as "userID:passToken".
func (s *Session) Token() string {
	if !s.Authenticated() {
		return ""
	}
	return fmt.Sprintf("%d:%s", s.userID, s.passToken)
}

// Reset drops all credentials.
func (s *Session) Reset() {
	s.cookies = ""
	s.userID = 0
	s.ssecurity = nil
	s.passToken = ""
}

func (s *Session) establish(userID int64, ssecurity []byte, passToken, cookies string) error {
	if userID == 0 || len(ssecurity) == 0 || passToken == "" {
		s.Reset()
		return ErrIncompleteSession
	}
	s.userID = userID
	s.ssecurity = ssecurity
	s.passToken = passToken
	s.cookies = cookies
	return nil
}

// joinCookies keeps the name=value part of each Set-Cookie header.
func joinCookies(setCookies []string) string {
	var b strings.Builder
	for _, s := range setCookies {
		s, _, _ = strings.Cut(s, ";")
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(s)
	}
	return b.String()
}
