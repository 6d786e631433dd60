// ABOUTME: Production Client implementation backed by whatsmeow
// ABOUTME: Roots the credential store inside the session artifact directory and maps events to Handlers

package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"log/slog"
)

// credentialDBName is the sqlite file the protocol library persists pairing
// credentials to, inside the session artifact directory.
const credentialDBName = "session.db"

// NewWhatsmeowFactory returns a ClientFactory producing whatsmeow-backed
// clients. Each client stores its credentials inside the artifact directory
// it is given, so purging the directory fully unpairs the session.
func NewWhatsmeowFactory(logger *slog.Logger) ClientFactory {
	return func(ctx context.Context, artifactDir string, handlers Handlers) (Client, error) {
		if err := os.MkdirAll(artifactDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating artifact directory: %w", err)
		}

		dbPath := filepath.Join(artifactDir, credentialDBName)
		dsn := "file:" + dbPath + "?_foreign_keys=on"
		container, err := sqlstore.New(ctx, "sqlite3", dsn, newWALogger(logger.With("component", "wa-store")))
		if err != nil {
			return nil, fmt.Errorf("opening credential store: %w", err)
		}

		device, err := container.GetFirstDevice(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading device credentials: %w", err)
		}

		w := &whatsmeowClient{
			cli:      whatsmeow.NewClient(device, newWALogger(logger.With("component", "wa-client"))),
			handlers: handlers,
			logger:   logger.With("component", "channel-client"),
		}
		// Handlers must be attached before Start so a cached session that
		// connects instantly still reaches them.
		w.cli.AddEventHandler(w.handleEvent)
		return w, nil
	}
}

type whatsmeowClient struct {
	cli      *whatsmeow.Client
	handlers Handlers
	logger   *slog.Logger

	stopOnce sync.Once
}

func (w *whatsmeowClient) Start(ctx context.Context) error {
	if w.cli.Store.ID == nil {
		// No stored credentials: run the QR pairing flow. GetQRChannel must
		// be called before Connect.
		qrChan, err := w.cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("opening QR channel: %w", err)
		}
		go w.consumeQR(qrChan)
	}
	if err := w.cli.Connect(); err != nil {
		return fmt.Errorf("connecting to channel: %w", err)
	}
	return nil
}

func (w *whatsmeowClient) consumeQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			if w.handlers.OnQR != nil {
				w.handlers.OnQR(item.Code)
			}
		case whatsmeow.QRChannelSuccess.Event:
			w.logger.Info("QR pairing succeeded")
		case whatsmeow.QRChannelTimeout.Event:
			w.logger.Warn("QR pairing window expired")
		default:
			if item.Error != nil && w.handlers.OnAuthFailure != nil {
				w.handlers.OnAuthFailure(item.Error)
			}
		}
	}
}

func (w *whatsmeowClient) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		if w.handlers.OnReady != nil {
			w.handlers.OnReady()
		}
	case *events.PairSuccess:
		w.logger.Info("device paired", "jid", v.ID.String())
	case *events.Disconnected:
		if w.handlers.OnDisconnected != nil {
			w.handlers.OnDisconnected("connection lost")
		}
	case *events.LoggedOut:
		if w.handlers.OnAuthFailure != nil {
			w.handlers.OnAuthFailure(fmt.Errorf("logged out by channel: %v", v.Reason))
		}
		if w.handlers.OnDisconnected != nil {
			w.handlers.OnDisconnected("logged out")
		}
	case *events.Message:
		if w.handlers.OnMessage != nil {
			w.handlers.OnMessage(toMessage(v))
		}
	}
}

// toMessage flattens a protocol message event into the connector's shape.
func toMessage(v *events.Message) Message {
	msg := Message{
		ID:        string(v.Info.ID),
		Sender:    v.Info.Sender.User,
		FromSelf:  v.Info.IsFromMe,
		Timestamp: v.Info.Timestamp,
	}
	if v.Message == nil {
		return msg
	}
	switch {
	case v.Message.GetConversation() != "":
		msg.Text = v.Message.GetConversation()
	case v.Message.GetExtendedTextMessage().GetText() != "":
		msg.Text = v.Message.GetExtendedTextMessage().GetText()
	}
	if v.Message.GetImageMessage() != nil || v.Message.GetDocumentMessage() != nil ||
		v.Message.GetAudioMessage() != nil || v.Message.GetVideoMessage() != nil {
		msg.HasMedia = true
	}
	return msg
}

func (w *whatsmeowClient) Stop() error {
	w.stopOnce.Do(func() {
		w.cli.Disconnect()
	})
	return nil
}

func (w *whatsmeowClient) SendText(ctx context.Context, to, body string) (string, error) {
	jid := types.NewJID(to, types.DefaultUserServer)
	resp, err := w.cli.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("sending to %s: %w", jid, err)
	}
	return string(resp.ID), nil
}

func (w *whatsmeowClient) SessionInfo() (*SessionInfo, error) {
	if !w.cli.IsConnected() {
		return nil, errors.New("client not connected")
	}
	id := w.cli.Store.ID
	if id == nil {
		return nil, errors.New("session not paired")
	}
	return &SessionInfo{
		PhoneNumber: "+" + id.User,
		Platform:    w.cli.Store.Platform,
		DisplayName: w.cli.Store.PushName,
	}, nil
}
