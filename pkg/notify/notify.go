package notify

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ncode/mattermost-courier/pkg/transport"
)

const downloadTimeout = 60 * time.Second

// ChannelResolver maps a channel reference to a channel ID.
type ChannelResolver interface {
	Resolve(reference string) (string, error)
}

// AttachmentField is one key/value row inside an attachment.
type AttachmentField struct {
	Title string `json:"title,omitempty"`
	Value string `json:"value,omitempty"`
	Short bool   `json:"short,omitempty"`
}

// Attachment is a Slack-style message attachment as Mattermost renders
// it in post props.
type Attachment struct {
	Fallback   string            `json:"fallback,omitempty"`
	Color      string            `json:"color,omitempty"`
	Pretext    string            `json:"pretext,omitempty"`
	AuthorName string            `json:"author_name,omitempty"`
	AuthorLink string            `json:"author_link,omitempty"`
	AuthorIcon string            `json:"author_icon,omitempty"`
	Title      string            `json:"title,omitempty"`
	TitleLink  string            `json:"title_link,omitempty"`
	Text       string            `json:"text,omitempty"`
	Fields     []AttachmentField `json:"fields,omitempty"`
	ImageURL   string            `json:"image_url,omitempty"`
	ThumbURL   string            `json:"thumb_url,omitempty"`
	Footer     string            `json:"footer,omitempty"`
	FooterIcon string            `json:"footer_icon,omitempty"`
}

// FileRef points at a file to upload alongside a message: either a
// local path or a remote URL with optional basic-auth credentials.
type FileRef struct {
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Request is one logical notification to deliver.
type Request struct {
	Message     string       `json:"message"`
	Title       string       `json:"title,omitempty"`
	Targets     []string     `json:"targets,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	File        *FileRef     `json:"file,omitempty"`
}

// Config carries the dispatcher's policy knobs.
type Config struct {
	// DefaultChannel receives requests that name no targets.
	DefaultChannel string
	// AllowedPaths lists directories local file references may live in.
	AllowedPaths []string
	// AllowedURLs lists URL prefixes remote file references may use.
	AllowedURLs []string
	// AuthorName and AuthorIcon are injected into attachments that do
	// not set their own.
	AuthorName string
	AuthorIcon string
	// TempDir holds downloaded remote files until upload; defaults to
	// the OS temp directory.
	TempDir string
}

// Dispatcher fans notification requests out to Mattermost channels.
type Dispatcher struct {
	client   transport.Client
	resolver ChannelResolver
	cfg      Config
	logger   *slog.Logger
	download *http.Client
}

// New creates a Dispatcher.
func New(client transport.Client, resolver ChannelResolver, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Dispatcher{
		client:   client,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		download: &http.Client{Timeout: downloadTimeout},
	}
}

// Send delivers one request to every target, continuing past individual
// target failures. It returns an AggregateError naming every failed
// target, or nil when all targets succeeded.
func (d *Dispatcher) Send(req Request) error {
	targets := req.Targets
	if len(targets) == 0 {
		if d.cfg.DefaultChannel == "" {
			return fmt.Errorf("request has no targets and no default channel is configured")
		}
		targets = []string{d.cfg.DefaultChannel}
	}

	if req.File == nil {
		return d.sendText(targets, req)
	}
	if req.File.Path != "" {
		return d.sendLocalFile(targets, req)
	}
	return d.sendRemoteFile(targets, req)
}

func (d *Dispatcher) sendText(targets []string, req Request) error {
	text := renderText(req.Title, req.Message)
	if text == "" && len(req.Attachments) == 0 {
		d.logger.Warn("nothing to send: no title, no message, no attachments")
		return nil
	}

	props := map[string]interface{}{"from_webhook": "true"}
	if len(req.Attachments) > 0 {
		props["attachments"] = d.withDefaultAuthor(req.Attachments)
	}

	var failed []string
	for _, target := range targets {
		channelID, err := d.resolver.Resolve(target)
		if err != nil {
			d.logger.Error("could not resolve channel", "channel", target, "error", err)
			failed = append(failed, target)
			continue
		}
		if err := d.client.PostMessage(channelID, text, props, nil); err != nil {
			d.logger.Error("could not post message", "channel", target, "error", err)
			failed = append(failed, target)
		}
	}
	return aggregate(failed)
}

func (d *Dispatcher) sendLocalFile(targets []string, req Request) error {
	filePath := filepath.Clean(req.File.Path)
	if !d.pathAllowed(filePath) {
		return &PathNotAllowedError{Path: filePath}
	}
	info, err := os.Stat(filePath)
	if err != nil || info.IsDir() {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", filePath, err)
	}
	return d.fanOutFile(targets, req, data, filepath.Base(filePath))
}

func (d *Dispatcher) sendRemoteFile(targets []string, req Request) error {
	if !d.urlAllowed(req.File.URL) {
		return &URLNotAllowedError{URL: req.File.URL}
	}

	tmpPath, err := d.downloadToTemp(req.File)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", req.File.URL, err)
	}
	defer os.Remove(tmpPath)

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return fmt.Errorf("reading downloaded file: %w", err)
	}
	return d.fanOutFile(targets, req, data, filenameFromURL(req.File.URL))
}

// fanOutFile uploads the bytes once per target and posts a follow-up
// message referencing the uploaded file.
func (d *Dispatcher) fanOutFile(targets []string, req Request, data []byte, filename string) error {
	text := renderText(req.Title, req.Message)
	props := map[string]interface{}{"from_webhook": "true"}
	if d.cfg.AuthorName != "" || d.cfg.AuthorIcon != "" {
		props["attachments"] = []Attachment{{
			AuthorName: d.cfg.AuthorName,
			AuthorIcon: d.cfg.AuthorIcon,
		}}
	}

	var failed []string
	for _, target := range targets {
		channelID, err := d.resolver.Resolve(target)
		if err != nil {
			d.logger.Error("could not resolve channel", "channel", target, "error", err)
			failed = append(failed, target)
			continue
		}
		fileID, err := d.client.UploadFile(channelID, data, filename)
		if err != nil {
			d.logger.Error("could not upload file", "channel", target, "file", filename, "error", err)
			failed = append(failed, target)
			continue
		}
		if err := d.client.PostMessage(channelID, text, props, []string{fileID}); err != nil {
			d.logger.Error("could not post file message", "channel", target, "error", err)
			failed = append(failed, target)
		}
	}
	return aggregate(failed)
}

// downloadToTemp fetches the remote file into a temp file and returns
// its path. The temp file is removed here on any failure; on success
// the caller owns the removal.
func (d *Dispatcher) downloadToTemp(file *FileRef) (string, error) {
	httpReq, err := http.NewRequest(http.MethodGet, file.URL, nil)
	if err != nil {
		return "", err
	}
	if file.Username != "" && file.Password != "" {
		httpReq.SetBasicAuth(file.Username, file.Password)
	}

	resp, err := d.download.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(d.cfg.TempDir, "courier-*")
	if err != nil {
		return "", err
	}
	_, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp.Name())
		if copyErr != nil {
			return "", copyErr
		}
		return "", closeErr
	}
	return tmp.Name(), nil
}

// withDefaultAuthor copies the attachments, filling in the configured
// author name and icon where the attachment sets none. Explicit values
// are never overwritten.
func (d *Dispatcher) withDefaultAuthor(attachments []Attachment) []Attachment {
	out := make([]Attachment, len(attachments))
	copy(out, attachments)
	for i := range out {
		if out[i].AuthorName == "" {
			out[i].AuthorName = d.cfg.AuthorName
		}
		if out[i].AuthorIcon == "" {
			out[i].AuthorIcon = d.cfg.AuthorIcon
		}
	}
	return out
}

func (d *Dispatcher) pathAllowed(filePath string) bool {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return false
	}
	for _, dir := range d.cfg.AllowedPaths {
		allowedAbs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if abs == allowedAbs || strings.HasPrefix(abs, allowedAbs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) urlAllowed(fileURL string) bool {
	for _, prefix := range d.cfg.AllowedURLs {
		if strings.HasPrefix(fileURL, prefix) {
			return true
		}
	}
	return false
}

// renderText combines title and body into the post message.
func renderText(title, message string) string {
	switch {
	case title != "" && message != "":
		return fmt.Sprintf("**%s**\n\n%s", title, message)
	case title != "":
		return fmt.Sprintf("**%s**", title)
	default:
		return message
	}
}

func filenameFromURL(fileURL string) string {
	parsed, err := url.Parse(fileURL)
	if err != nil {
		return "attachment"
	}
	name := path.Base(parsed.Path)
	if name == "." || name == "/" {
		return "attachment"
	}
	return name
}
