package queue

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aplabs/labreserve/internal/logging"
	"github.com/aplabs/labreserve/internal/model"
	"github.com/aplabs/labreserve/internal/notify"
)

func TestNotificationEventRoundTrip(t *testing.T) {
	n := model.Notification{
		ID: "id-1", RecipientID: 9, Kind: model.NotifyGeneral, Title: "Préstamo vencido",
		Body: "2 días", Metadata: map[string]string{"days_overdue": "2"},
		CreatedAt: time.Date(2025, 3, 14, 6, 0, 0, 0, time.UTC),
	}
	body, err := json.Marshal(notificationEvent(n))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := ev.Notification()
	if got.ID != n.ID || got.Kind != n.Kind || !got.CreatedAt.Equal(n.CreatedAt) || got.Metadata["days_overdue"] != "2" {
		t.Fatalf("round trip changed the notification: %+v", got)
	}
}

func TestConsumerStoresNotifications(t *testing.T) {
	var stored []model.Notification
	c := &Consumer{
		Inbox: notify.SenderFunc(func(_ context.Context, n model.Notification) error {
			stored = append(stored, n)
			return nil
		}),
		Log: logging.Discard(),
	}
	body, _ := json.Marshal(NotificationEvent{ID: "n-1", RecipientID: 3, Kind: "mensaje", Title: "Devolución registrada"})
	if err := c.handleNotification(context.Background(), body); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(stored) != 1 || stored[0].RecipientID != 3 {
		t.Fatalf("stored = %+v", stored)
	}
	if err := c.handleNotification(context.Background(), []byte(`{"title":"no recipient"}`)); err == nil {
		t.Fatal("expected an error for a notification without recipient")
	}
	if err := c.handleNotification(context.Background(), []byte(`{`)); err == nil {
		t.Fatal("expected an error for malformed json")
	}
}

func TestConsumerAppendsAuditLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.log")
	c := &Consumer{AuditLog: path, Log: logging.Discard()}
	for _, action := range []string{"approve", "return"} {
		body, _ := json.Marshal(AuditEvent{ID: action, Actor: 2, Action: action, Module: "requests", Detail: "request 5", At: "2025-03-10 08:00:00"})
		if err := c.handleAudit(body); err != nil {
			t.Fatalf("handle %s: %v", action, err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "approve | actor=2 | module=requests") {
		t.Fatalf("unexpected audit log:\n%s", data)
	}
}

func TestPublisherAgainstBroker(t *testing.T) {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		t.Skip("RABBITMQ_URL not set")
	}
	p := NewPublisher(url, logging.Discard())
	defer p.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Record(ctx, model.AuditEntry{ID: "test", Actor: 1, Action: "ping", Module: "tests", At: time.Now()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}
