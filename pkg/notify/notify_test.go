package notify

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mattermost/mattermost-server/v6/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockClient is a mock for the transport.Client interface
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Probe() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockClient) CurrentUser() (*model.User, error) {
	args := m.Called()
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockClient) ListTeams() ([]*model.Team, error) {
	args := m.Called()
	return args.Get(0).([]*model.Team), args.Error(1)
}

func (m *MockClient) FindChannelByName(teamID, name string) (string, bool, error) {
	args := m.Called(teamID, name)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockClient) ListChannels(teamID string) ([]*model.Channel, error) {
	args := m.Called(teamID)
	return args.Get(0).([]*model.Channel), args.Error(1)
}

func (m *MockClient) PostMessage(channelID, message string, props map[string]interface{}, fileIDs []string) error {
	args := m.Called(channelID, message, props, fileIDs)
	return args.Error(0)
}

func (m *MockClient) UploadFile(channelID string, data []byte, filename string) (string, error) {
	args := m.Called(channelID, data, filename)
	return args.String(0), args.Error(1)
}

// MockResolver is a mock for the ChannelResolver interface
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(reference string) (string, error) {
	args := m.Called(reference)
	return args.String(0), args.Error(1)
}

func TestRenderText(t *testing.T) {
	for _, tt := range []struct {
		name     string
		title    string
		message  string
		expected string
	}{
		{"Title and body", "Alert", "Door open", "**Alert**\n\nDoor open"},
		{"Body only", "", "Door open", "Door open"},
		{"Title only", "Alert", "", "**Alert**"},
		{"Neither", "", "", ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, renderText(tt.title, tt.message))
		})
	}
}

func TestDispatcher_Send_Text(t *testing.T) {
	mockClient := new(MockClient)
	mockResolver := new(MockResolver)
	d := New(mockClient, mockResolver, Config{}, nil)

	mockResolver.On("Resolve", "alerts").Return("chan1", nil).Once()
	mockClient.On("PostMessage", "chan1", "**Alert**\n\nDoor open",
		map[string]interface{}{"from_webhook": "true"}, []string(nil)).Return(nil).Once()

	err := d.Send(Request{Title: "Alert", Message: "Door open", Targets: []string{"alerts"}})
	assert.NoError(t, err)
	mockClient.AssertExpectations(t)
	mockResolver.AssertExpectations(t)
}

func TestDispatcher_Send_DefaultChannel(t *testing.T) {
	mockClient := new(MockClient)
	mockResolver := new(MockResolver)
	d := New(mockClient, mockResolver, Config{DefaultChannel: "town-square"}, nil)

	mockResolver.On("Resolve", "town-square").Return("chan1", nil).Once()
	mockClient.On("PostMessage", "chan1", "hello", mock.Anything, []string(nil)).Return(nil).Once()

	err := d.Send(Request{Message: "hello"})
	assert.NoError(t, err)
	mockResolver.AssertExpectations(t)
}

func TestDispatcher_Send_AttachmentDefaults(t *testing.T) {
	mockClient := new(MockClient)
	mockResolver := new(MockResolver)
	d := New(mockClient, mockResolver, Config{
		AuthorName: "Courier",
		AuthorIcon: "https://example.com/icon.png",
	}, nil)

	mockResolver.On("Resolve", "alerts").Return("chan1", nil).Once()
	mockClient.On("PostMessage", "chan1", "", mock.MatchedBy(func(props map[string]interface{}) bool {
		attachments, ok := props["attachments"].([]Attachment)
		if !ok || len(attachments) != 2 {
			return false
		}
		// Absent fields get the defaults; explicit ones are kept.
		return attachments[0].AuthorName == "Courier" &&
			attachments[0].AuthorIcon == "https://example.com/icon.png" &&
			attachments[1].AuthorName == "Door Sensor" &&
			attachments[1].AuthorIcon == "https://example.com/icon.png"
	}), []string(nil)).Return(nil).Once()

	err := d.Send(Request{
		Targets: []string{"alerts"},
		Attachments: []Attachment{
			{Text: "attachment without author"},
			{Text: "attachment with author", AuthorName: "Door Sensor"},
		},
	})
	assert.NoError(t, err)
	mockClient.AssertExpectations(t)
}

func TestDispatcher_Send_EmptyRequest(t *testing.T) {
	mockClient := new(MockClient)
	mockResolver := new(MockResolver)

	var logBuffer bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuffer, &slog.HandlerOptions{Level: slog.LevelDebug}))
	d := New(mockClient, mockResolver, Config{DefaultChannel: "town-square"}, logger)

	err := d.Send(Request{})
	assert.NoError(t, err)
	assert.Contains(t, logBuffer.String(), "nothing to send")
	mockResolver.AssertNotCalled(t, "Resolve")
	mockClient.AssertNotCalled(t, "PostMessage")
}

func TestDispatcher_Send_PartialFailure(t *testing.T) {
	mockClient := new(MockClient)
	mockResolver := new(MockResolver)
	d := New(mockClient, mockResolver, Config{}, nil)

	mockResolver.On("Resolve", "one").Return("chan1", nil).Once()
	mockResolver.On("Resolve", "two").Return("", fmt.Errorf("channel not found: two")).Once()
	mockResolver.On("Resolve", "three").Return("chan3", nil).Once()
	mockClient.On("PostMessage", "chan1", "hello", mock.Anything, []string(nil)).Return(nil).Once()
	mockClient.On("PostMessage", "chan3", "hello", mock.Anything, []string(nil)).Return(nil).Once()

	err := d.Send(Request{Message: "hello", Targets: []string{"one", "two", "three"}})

	var agg *AggregateError
	assert.ErrorAs(t, err, &agg)
	assert.Equal(t, []string{"two"}, agg.Failed)
	mockClient.AssertExpectations(t)
	mockResolver.AssertExpectations(t)
}

func TestDispatcher_Send_LocalFile(t *testing.T) {
	t.Run("Allowed path", func(t *testing.T) {
		dir := t.TempDir()
		filePath := filepath.Join(dir, "door.jpg")
		assert.NoError(t, os.WriteFile(filePath, []byte("image bytes"), 0o600))

		mockClient := new(MockClient)
		mockResolver := new(MockResolver)
		d := New(mockClient, mockResolver, Config{AllowedPaths: []string{dir}}, nil)

		mockResolver.On("Resolve", "alerts").Return("chan1", nil).Once()
		mockClient.On("UploadFile", "chan1", []byte("image bytes"), "door.jpg").Return("file1", nil).Once()
		mockClient.On("PostMessage", "chan1", "**Alert**\n\nDoor open", mock.Anything, []string{"file1"}).Return(nil).Once()

		err := d.Send(Request{
			Title:   "Alert",
			Message: "Door open",
			Targets: []string{"alerts"},
			File:    &FileRef{Path: filePath},
		})
		assert.NoError(t, err)
		mockClient.AssertExpectations(t)
	})

	t.Run("Path outside allow-list", func(t *testing.T) {
		mockClient := new(MockClient)
		mockResolver := new(MockResolver)
		d := New(mockClient, mockResolver, Config{AllowedPaths: []string{t.TempDir()}}, nil)

		err := d.Send(Request{
			Targets: []string{"alerts"},
			File:    &FileRef{Path: "/etc/passwd"},
		})

		var pathErr *PathNotAllowedError
		assert.ErrorAs(t, err, &pathErr)
		mockResolver.AssertNotCalled(t, "Resolve")
		mockClient.AssertNotCalled(t, "UploadFile")
		mockClient.AssertNotCalled(t, "PostMessage")
	})

	t.Run("File does not exist", func(t *testing.T) {
		dir := t.TempDir()
		mockClient := new(MockClient)
		mockResolver := new(MockResolver)
		d := New(mockClient, mockResolver, Config{AllowedPaths: []string{dir}}, nil)

		err := d.Send(Request{
			Targets: []string{"alerts"},
			File:    &FileRef{Path: filepath.Join(dir, "missing.jpg")},
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
		mockClient.AssertNotCalled(t, "UploadFile")
	})
}

func TestDispatcher_Send_RemoteFile(t *testing.T) {
	t.Run("URL outside allow-list", func(t *testing.T) {
		mockClient := new(MockClient)
		mockResolver := new(MockResolver)
		d := New(mockClient, mockResolver, Config{AllowedURLs: []string{"https://cam.example.com/"}}, nil)

		err := d.Send(Request{
			Targets: []string{"alerts"},
			File:    &FileRef{URL: "https://evil.example.com/snapshot.jpg"},
		})

		var urlErr *URLNotAllowedError
		assert.ErrorAs(t, err, &urlErr)
		mockResolver.AssertNotCalled(t, "Resolve")
	})

	t.Run("Download and upload", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "camera", username)
			assert.Equal(t, "secret", password)
			w.Write([]byte("snapshot bytes"))
		}))
		defer server.Close()

		tempDir := t.TempDir()
		mockClient := new(MockClient)
		mockResolver := new(MockResolver)
		d := New(mockClient, mockResolver, Config{
			AllowedURLs: []string{server.URL},
			TempDir:     tempDir,
		}, nil)

		mockResolver.On("Resolve", "alerts").Return("chan1", nil).Once()
		mockClient.On("UploadFile", "chan1", []byte("snapshot bytes"), "snapshot.jpg").Return("file1", nil).Once()
		mockClient.On("PostMessage", "chan1", "", mock.Anything, []string{"file1"}).Return(nil).Once()

		err := d.Send(Request{
			Targets: []string{"alerts"},
			File: &FileRef{
				URL:      server.URL + "/snapshot.jpg",
				Username: "camera",
				Password: "secret",
			},
		})
		assert.NoError(t, err)
		mockClient.AssertExpectations(t)

		// The temporary copy is gone after a successful send.
		entries, readErr := os.ReadDir(tempDir)
		assert.NoError(t, readErr)
		assert.Empty(t, entries)
	})

	t.Run("Temp file removed on upload failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("snapshot bytes"))
		}))
		defer server.Close()

		tempDir := t.TempDir()
		mockClient := new(MockClient)
		mockResolver := new(MockResolver)
		d := New(mockClient, mockResolver, Config{
			AllowedURLs: []string{server.URL},
			TempDir:     tempDir,
		}, nil)

		mockResolver.On("Resolve", "alerts").Return("chan1", nil).Once()
		mockClient.On("UploadFile", "chan1", []byte("snapshot bytes"), "snapshot.jpg").
			Return("", fmt.Errorf("upload rejected")).Once()

		err := d.Send(Request{
			Targets: []string{"alerts"},
			File:    &FileRef{URL: server.URL + "/snapshot.jpg"},
		})

		var agg *AggregateError
		assert.ErrorAs(t, err, &agg)
		assert.Equal(t, []string{"alerts"}, agg.Failed)

		entries, readErr := os.ReadDir(tempDir)
		assert.NoError(t, readErr)
		assert.Empty(t, entries)
	})

	t.Run("Download failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		tempDir := t.TempDir()
		mockClient := new(MockClient)
		mockResolver := new(MockResolver)
		d := New(mockClient, mockResolver, Config{
			AllowedURLs: []string{server.URL},
			TempDir:     tempDir,
		}, nil)

		err := d.Send(Request{
			Targets: []string{"alerts"},
			File:    &FileRef{URL: server.URL + "/snapshot.jpg"},
		})
		assert.Error(t, err)
		mockClient.AssertNotCalled(t, "UploadFile")

		entries, readErr := os.ReadDir(tempDir)
		assert.NoError(t, readErr)
		assert.Empty(t, entries)
	})
}

func TestFilenameFromURL(t *testing.T) {
	assert.Equal(t, "snapshot.jpg", filenameFromURL("https://cam.example.com/front/snapshot.jpg?size=big"))
	assert.Equal(t, "attachment", filenameFromURL("https://cam.example.com/"))
}
