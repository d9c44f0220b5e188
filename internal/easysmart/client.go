// Package easysmart drives the web management interface of Easy Smart
// ethernet switches: form login for a session cookie, then CGI port
// commands carrying that cookie.
package easysmart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrAuthFailed means the switch rejected the credentials or kept
	// rejecting a freshly established session.
	ErrAuthFailed = errors.New("switch authentication failed")
	// ErrUnreachable means the switch could not be reached at all.
	ErrUnreachable = errors.New("switch unreachable")
	// ErrCommandFailed means the switch answered but refused the command.
	ErrCommandFailed = errors.New("switch command failed")
)

// Target identifies one switch and the credentials to manage it.
type Target struct {
	Address  string
	Username string
	Password string
}

// The port form requires link parameters on every write; the daemon
// never changes them, so they are pinned to auto-negotiation with flow
// control off.
const (
	speedAuto      = "1"
	flowControlOff = "0"
)

// Client manages sessions against any number of switches, keyed by
// address. Sessions are established lazily and re-established once,
// transparently, when a switch expires one mid-command.
type Client struct {
	httpClient *http.Client

	mu       sync.Mutex
	sessions map[string]string
}

// NewClient creates a new switch client
func NewClient(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		sessions:   make(map[string]string),
	}
}

// Close closes the client
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetPortState drives one port to the requested state. A stale session
// triggers a single re-login and retry; a second rejection in the same
// call means the credentials themselves are bad.
func (c *Client) SetPortState(ctx context.Context, t Target, port int, enabled bool) error {
	session, ok := c.session(t.Address)
	if !ok {
		var err error
		if session, err = c.login(ctx, t); err != nil {
			return err
		}
	}

	rejected, err := c.setPort(ctx, t.Address, session, port, enabled)
	if err != nil {
		return err
	}
	if !rejected {
		return nil
	}

	c.invalidate(t.Address)
	if session, err = c.login(ctx, t); err != nil {
		return err
	}
	rejected, err = c.setPort(ctx, t.Address, session, port, enabled)
	if err != nil {
		return err
	}
	if rejected {
		c.invalidate(t.Address)
		return fmt.Errorf("%w: %s rejected a fresh session", ErrAuthFailed, t.Address)
	}

	return nil
}

func (c *Client) loginURL(address string) string {
	return fmt.Sprintf("http://%s/logon.cgi", address)
}

func (c *Client) portURL(address string) string {
	return fmt.Sprintf("http://%s/port_setting.cgi", address)
}

// login posts the credential form and captures the session cookie. The
// firmware answers a bad login with 200 and no cookie, so both shapes
// map to ErrAuthFailed.
func (c *Client) login(ctx context.Context, t Target) (string, error) {
	form := url.Values{}
	form.Set("username", t.Username)
	form.Set("password", t.Password)
	form.Set("logon", "Login")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL(t.Address), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: login status %d from %s", ErrAuthFailed, resp.StatusCode, t.Address)
	}

	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return "", fmt.Errorf("%w: %s returned no session cookie", ErrAuthFailed, t.Address)
	}
	session := cookies[0].Name + "=" + cookies[0].Value

	c.mu.Lock()
	c.sessions[t.Address] = session
	c.mu.Unlock()

	log.Debug().Str("address", t.Address).Msg("Switch session established")
	return session, nil
}

// setPort issues the port command. The rejected return distinguishes a
// stale session, which the caller may retry after logging in again, from
// terminal failures.
func (c *Client) setPort(ctx context.Context, address, session string, port int, enabled bool) (rejected bool, err error) {
	state := "0"
	if enabled {
		state = "1"
	}

	q := url.Values{}
	q.Set("portid", strconv.Itoa(port))
	q.Set("state", state)
	q.Set("speed", speedAuto)
	q.Set("flowcontrol", flowControlOff)
	q.Set("apply", "Apply")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.portURL(address)+"?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Cookie", session)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return true, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		log.Debug().
			Str("address", address).
			Int("port", port).
			Bool("enabled", enabled).
			Msg("Port command applied")
		return false, nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("%w: status %d: %s", ErrCommandFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func (c *Client) session(address string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.sessions[address]
	return session, ok
}

func (c *Client) invalidate(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, address)
}
