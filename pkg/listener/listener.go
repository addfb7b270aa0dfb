package listener

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/panjf2000/gnet"

	"github.com/ncode/mattermost-courier/pkg/notify"
	"github.com/ncode/mattermost-courier/pkg/relay"
)

// Listener ingests JSON-encoded notification requests from a socket and
// hands them to the relay. One frame carries one request.
type Listener struct {
	*gnet.EventServer
	relay  relay.Sender
	logger *slog.Logger
	addr   string
}

// New creates a Listener bound to network ("udp" or "tcp") and address.
func New(sender relay.Sender, network, address string, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Listener{
		EventServer: &gnet.EventServer{},
		relay:       sender,
		logger:      logger,
		addr:        fmt.Sprintf("%s://%s", network, address),
	}
}

// ListenAndServe runs the event loop until the process exits.
func (l *Listener) ListenAndServe() error {
	l.logger.Info("Starting ingest listener", "address", l.addr)
	return gnet.Serve(l, l.addr)
}

// OnInitComplete logs the bound address once the loop is up.
func (l *Listener) OnInitComplete(srv gnet.Server) gnet.Action {
	l.logger.Info("Ingest listener ready", "address", srv.Addr.String())
	return gnet.None
}

// React parses one frame and dispatches it. Delivery happens off the
// event loop; a frame that fails to parse is dropped.
func (l *Listener) React(frame []byte, c gnet.Conn) (out []byte, action gnet.Action) {
	var req notify.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		l.logger.Error("Error parsing notification request", "error", err)
		return nil, gnet.Close
	}

	go func() {
		if err := l.relay.Send(req); err != nil {
			l.logger.Error("Failed to deliver notification", "title", req.Title, "error", err)
		}
	}()

	return nil, gnet.Close
}
