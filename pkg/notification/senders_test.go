package notification_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/Eld3rt/aflow-sub000/pkg/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailSender_Send(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		to         any
		expectedTo []string
		wantErr    error
	}{
		{"comma separated", "a@example.com, b@example.com", []string{"a@example.com", "b@example.com"}, nil},
		{"list", []any{"a@example.com", 42, " b@example.com "}, []string{"a@example.com", "b@example.com"}, nil},
		{"missing", nil, nil, notification.ErrNoRecipients},
		{"blank", " , ", nil, notification.ErrNoRecipients},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var (
				gotAddr string
				gotFrom string
				gotTo   []string
				gotMsg  string
			)

			sender := notification.NewEmailSender(notification.SMTPConfig{Host: "mail.local", Port: 2525, From: "aflow@example.com"}).
				WithSendMail(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
					gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)

					return nil
				})

			message := notification.Message{Subject: "[aflow] Workflow wf-1 execution paused", Body: []byte(`{"status":"paused"}`)}

			err := sender.Send(context.Background(), map[string]any{"to": tt.to}, message)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, "mail.local:2525", gotAddr)
			assert.Equal(t, "aflow@example.com", gotFrom)
			assert.Equal(t, tt.expectedTo, gotTo)
			assert.Contains(t, gotMsg, "Subject: [aflow] Workflow wf-1 execution paused\r\n")
			assert.True(t, strings.HasSuffix(gotMsg, "\r\n\r\n{\"status\":\"paused\"}\r\n"))
		})
	}
}

func TestEmailSender_RespectsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	sender := notification.NewEmailSender(notification.SMTPConfig{Host: "mail.local"}).
		WithSendMail(func(string, smtp.Auth, string, []string, []byte) error {
			<-release

			return nil
		})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sender.Send(ctx, map[string]any{"to": "ops@example.com"}, notification.Message{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWebhookSender_Send(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr string
	}{
		{"ok", http.StatusOK, ""},
		{"accepted", http.StatusAccepted, ""},
		{"server error", http.StatusInternalServerError, "webhook returned status 500"},
		{"redirect is not success", http.StatusNotModified, "webhook returned status 304"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := notification.NewWebhookSender(server.Client()).
				Send(context.Background(), map[string]any{"url": server.URL}, notification.Message{Body: []byte(`{}`)})

			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.EqualError(t, err, tt.wantErr)
			}
		})
	}
}

func TestWebhookSender_MissingURL(t *testing.T) {
	t.Parallel()

	err := notification.NewWebhookSender(nil).Send(context.Background(), map[string]any{}, notification.Message{})
	require.ErrorIs(t, err, notification.ErrMissingURL)
}
