package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"github.com/collabwire/collabwire/internal/collab"
	"github.com/collabwire/collabwire/internal/ops"
	"github.com/collabwire/collabwire/pkg/protocol"
	"github.com/collabwire/collabwire/pkg/transport"
)

func main() {
	if err := run(); err != nil {
		log.Printf("collab: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "JSON config path (optional)")
	urlFlag := flag.String("url", "", "backend endpoint, e.g. wss://host/collab")
	userFlag := flag.String("user", "", "user id")
	nameFlag := flag.String("name", "", "display name")
	docsFlag := flag.String("docs", "", "comma-separated document ids to join")
	mockFlag := flag.Bool("mock", false, "use the in-memory mock transport")
	chatterFlag := flag.Duration("chatter", 0, "send synthetic cursor/presence traffic at this interval")
	profileFlag := flag.String("profile", "", "pyroscope server address, empty to disable")
	flag.Parse()

	loaded, err := resolveConfig(*configFlag, *urlFlag, *userFlag, *nameFlag, *mockFlag)
	if err != nil {
		return err
	}

	if *profileFlag != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "collabwire/client",
			ServerAddress:   *profileFlag,
			Tags:            map[string]string{"user": loaded.Option.UserID},
			Logger:          emptyLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return fmt.Errorf("pyroscope start failed: %w", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dialer transport.Dialer
	if loaded.Transport == ops.TransportMock {
		dialer = transport.NewMockDialer()
	} else {
		dialer = &transport.WebSocketDialer{HandshakeTimeout: loaded.Option.ConnectTimeout}
	}

	mgr, err := collab.NewManager(dialer, loaded.Option)
	if err != nil {
		return err
	}
	defer mgr.Destroy()

	subscribeLogging(mgr)

	session := collab.NewSession(mgr)
	defer session.Close()

	if err := mgr.Connect(ctx); err != nil {
		if !loaded.Option.AutoReconnect {
			return err
		}
		logs.Warnf("initial connect failed, waiting for reconnect, err: %+v", err)
	}

	for _, doc := range splitDocs(*docsFlag) {
		session.JoinDocument(doc)
	}

	if *chatterFlag > 0 {
		go chatter(ctx, session, splitDocs(*docsFlag), *chatterFlag)
	}

	select {
	case <-ctx.Done():
	case <-sys.Shutdown():
	}

	mgr.Disconnect()
	stats := mgr.Stats()
	logs.Infof("session stats, sent: %d, received: %d, errors: %d, reconnects: %d",
		stats.TotalMessagesSent, stats.TotalMessagesReceived, stats.TotalErrors, stats.ReconnectAttempts)
	return nil
}

func resolveConfig(path, url, user, name string, mock bool) (ops.Loaded, error) {
	if path != "" {
		loaded, err := ops.Load(path)
		if err != nil {
			return ops.Loaded{}, err
		}
		return loaded, nil
	}

	cfg := ops.FileConfig{URL: url, UserID: user, UserName: name}
	if mock {
		cfg.Transport = ops.TransportMock
	}
	if cfg.UserID == "" {
		return ops.Loaded{}, errors.New("missing user id; use -user or -config")
	}
	return ops.Resolve(cfg)
}

func splitDocs(raw string) []string {
	var docs []string
	for _, doc := range strings.Split(raw, ",") {
		doc = strings.TrimSpace(doc)
		if doc != "" {
			docs = append(docs, doc)
		}
	}
	return docs
}

func subscribeLogging(mgr *collab.Manager) {
	mgr.On(collab.EventConnected, func(event collab.Event) {
		connected := event.(collab.ConnectedEvent)
		logs.Infof("connected, reconnect: %v", connected.Reconnect)
	})
	mgr.On(collab.EventDisconnected, func(event collab.Event) {
		closed := event.(collab.DisconnectedEvent)
		logs.Infof("disconnected, code: %d, clean: %v, reason: %s", closed.Code, closed.WasClean, closed.Reason)
	})
	mgr.On(collab.EventReconnecting, func(event collab.Event) {
		retry := event.(collab.ReconnectingEvent)
		logs.Infof("reconnecting, attempt: %d, delay: %s", retry.Attempt, retry.Delay)
	})
	mgr.On(collab.EventReconnectFailed, func(collab.Event) {
		logs.Error("reconnect failed; manual connect required")
	})
	mgr.On(collab.EventLatencyUpdate, func(event collab.Event) {
		latency := event.(collab.LatencyEvent)
		logs.Infof("latency: %s", latency.RTT)
	})
	mgr.On(collab.EventMessage, func(event collab.Event) {
		envelope := event.(collab.EnvelopeEvent).Envelope
		logs.Infof("recv %s, from: %s, doc: %s", envelope.Type, envelope.UserID, envelope.DocumentID)
	})
}

// chatter emits synthetic traffic so a broadcast backend has something to fan
// out during manual testing.
func chatter(ctx context.Context, session *collab.Session, docs []string, interval time.Duration) {
	if len(docs) == 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	offset := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			offset++
			doc := docs[offset%len(docs)]
			session.SendCursorUpdate(doc, protocol.CursorUpdate{Offset: offset})
			if offset%10 == 0 {
				session.SendPresenceUpdate(doc, protocol.Presence{Status: protocol.PresenceActive, Editing: true})
			}
		}
	}
}

type emptyLogger struct{}

func (emptyLogger) Infof(_ string, _ ...interface{})  {}
func (emptyLogger) Debugf(_ string, _ ...interface{}) {}
func (emptyLogger) Errorf(_ string, _ ...interface{}) {}
