package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattermost/mattermost-server/v6/model"
)

// Timeouts per call class. Metadata lookups are cheap, posts carry
// attachment payloads, uploads carry whole files.
const (
	metadataTimeout = 10 * time.Second
	postTimeout     = 30 * time.Second
	uploadTimeout   = 60 * time.Second
)

// Client is the interface for the Mattermost operations courier needs.
type Client interface {
	Probe() error
	CurrentUser() (*model.User, error)
	ListTeams() ([]*model.Team, error)
	FindChannelByName(teamID, name string) (string, bool, error)
	ListChannels(teamID string) ([]*model.Channel, error)
	PostMessage(channelID, message string, props map[string]interface{}, fileIDs []string) error
	UploadFile(channelID string, data []byte, filename string) (string, error)
}

// Options controls optional transport behavior.
type Options struct {
	// InsecureSkipVerify disables TLS certificate verification. Off by
	// default; only enable against servers with self-signed certificates.
	InsecureSkipVerify bool
}

// APIClient talks to a Mattermost server over its v4 REST API.
type APIClient struct {
	meta   *model.Client4
	post   *model.Client4
	upload *model.Client4
}

// NewAPIClient creates an APIClient for the given server URL and bearer
// token. The URL may omit the scheme, see NormalizeServerURL.
func NewAPIClient(serverURL, token string, opts Options) *APIClient {
	serverURL = NormalizeServerURL(serverURL)

	newClient := func(timeout time.Duration) *model.Client4 {
		c := model.NewAPIv4Client(serverURL)
		c.SetOAuthToken(token)
		c.HTTPClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
			},
		}
		return c
	}

	return &APIClient{
		meta:   newClient(metadataTimeout),
		post:   newClient(postTimeout),
		upload: newClient(uploadTimeout),
	}
}

// Probe checks that the server answers its ping endpoint. The probe is
// anonymous; a nil return means the server is reachable.
func (c *APIClient) Probe() error {
	status, _, err := c.meta.GetPing()
	if err != nil {
		return &ConnectivityError{Op: "ping", Err: err}
	}
	if status != "OK" {
		return &ConnectivityError{Op: "ping", Err: fmt.Errorf("server status %q", status)}
	}
	return nil
}

// CurrentUser fetches the authenticated principal.
func (c *APIClient) CurrentUser() (*model.User, error) {
	user, resp, err := c.meta.GetMe("")
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, &AuthError{Err: err}
		}
		return nil, &ConnectivityError{Op: "get me", Err: err}
	}
	return user, nil
}

// ListTeams returns the teams the authenticated user belongs to, in
// server order.
func (c *APIClient) ListTeams() ([]*model.Team, error) {
	teams, resp, err := c.meta.GetTeamsForUser("me", "")
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, &AuthError{Err: err}
		}
		return nil, &ConnectivityError{Op: "list teams", Err: err}
	}
	return teams, nil
}

// FindChannelByName looks a channel up by its slug within a team. The
// second return is false when the team has no channel with that slug.
func (c *APIClient) FindChannelByName(teamID, name string) (string, bool, error) {
	channel, resp, err := c.meta.GetChannelByName(name, teamID, "")
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, &ConnectivityError{Op: "get channel by name", Err: err}
	}
	return channel.Id, true, nil
}

// ListChannels returns the channels of a team visible to the
// authenticated user.
func (c *APIClient) ListChannels(teamID string) ([]*model.Channel, error) {
	channels, _, err := c.meta.GetChannelsForTeamForUser(teamID, "me", false, "")
	if err != nil {
		return nil, &ConnectivityError{Op: "list channels", Err: err}
	}
	return channels, nil
}

// PostMessage creates a post in a channel. Anything but HTTP 201 is a
// PostError.
func (c *APIClient) PostMessage(channelID, message string, props map[string]interface{}, fileIDs []string) error {
	post := &model.Post{
		ChannelId: channelID,
		Message:   message,
		FileIds:   fileIDs,
	}
	if props != nil {
		post.SetProps(props)
	}
	_, resp, err := c.post.CreatePost(post)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return &PostError{StatusCode: status, Body: err.Error()}
	}
	if resp.StatusCode != http.StatusCreated {
		return &PostError{StatusCode: resp.StatusCode, Body: "unexpected status"}
	}
	return nil
}

// UploadFile uploads file bytes to a channel and returns the server-side
// file ID for use in a follow-up post.
func (c *APIClient) UploadFile(channelID string, data []byte, filename string) (string, error) {
	uploaded, resp, err := c.upload.UploadFile(data, channelID, filename)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return "", &PostError{StatusCode: status, Body: err.Error()}
	}
	if resp.StatusCode != http.StatusCreated {
		return "", &PostError{StatusCode: resp.StatusCode, Body: "unexpected status"}
	}
	if len(uploaded.FileInfos) == 0 {
		return "", &PostError{StatusCode: resp.StatusCode, Body: "upload response carries no file info"}
	}
	return uploaded.FileInfos[0].Id, nil
}

// CloseIdleConnections drops pooled connections. In-flight calls are
// not cancelled.
func (c *APIClient) CloseIdleConnections() {
	for _, cl := range []*model.Client4{c.meta, c.post, c.upload} {
		cl.HTTPClient.CloseIdleConnections()
	}
}

// NormalizeServerURL adds a scheme to a server address that lacks one.
// Loopback and private addresses default to plain HTTP, everything else
// to HTTPS. URLs that already carry a scheme pass through unchanged.
func NormalizeServerURL(serverURL string) string {
	if strings.Contains(serverURL, "://") {
		return strings.TrimRight(serverURL, "/")
	}

	host := serverURL
	if h, _, err := net.SplitHostPort(serverURL); err == nil {
		host = h
	}

	scheme := "https"
	if host == "localhost" {
		scheme = "http"
	} else if ip := net.ParseIP(host); ip != nil && (ip.IsLoopback() || ip.IsPrivate()) {
		scheme = "http"
	}

	u := url.URL{Scheme: scheme, Host: serverURL}
	return strings.TrimRight(u.String(), "/")
}
