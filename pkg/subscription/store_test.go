package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/DeBrosOfficial/subchannel/pkg/channel"
	"github.com/DeBrosOfficial/subchannel/pkg/config"
	apperrors "github.com/DeBrosOfficial/subchannel/pkg/errors"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLStore(context.Background(), config.StoreConfig{Driver: config.DriverSQLite3, DSN: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("OpenSQLStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sub := &ActiveSubscription{
		ID:         "sub-1",
		Type:       channel.TypeRestHook,
		Endpoint:   "https://hooks.example.org/fhir",
		RoutingKey: "observations",
		Criteria:   "Observation?code=1234",
		Headers:    map[string]string{"Authorization": "Bearer x"},
		Channel:    "subscription-delivery-rest-hook.observations",
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	if err := s.Save(ctx, sub); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Endpoint != sub.Endpoint || got.Channel != sub.Channel || got.Type != sub.Type || got.Criteria != sub.Criteria {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.Headers["Authorization"] != "Bearer x" {
		t.Fatalf("headers not round-tripped: %v", got.Headers)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, created)
	}

	// Save again updates in place.
	sub.Endpoint = "https://hooks.example.org/v2"
	sub.UpdatedAt = created.Add(time.Hour)
	if err := s.Save(ctx, sub); err != nil {
		t.Fatalf("Save update: %v", err)
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Endpoint != "https://hooks.example.org/v2" {
		t.Fatalf("unexpected list %+v", list)
	}

	if err := s.Delete(ctx, "sub-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "sub-1"); !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := s.Delete(ctx, "sub-1"); !apperrors.IsNotFound(err) {
		t.Fatalf("expected not found deleting twice, got %v", err)
	}
}

func TestSQLStore_MigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("-- comment\nCREATE TABLE a (x TEXT);\n\nCREATE INDEX i ON a(x);\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[0] != "CREATE TABLE a (x TEXT)" {
		t.Errorf("unexpected first statement %q", got[0])
	}
}

func TestNameFactory(t *testing.T) {
	f := NameFactory{Prefix: "subscription-delivery-"}
	tests := []struct {
		typ  channel.ChannelType
		key  string
		want string
	}{
		{channel.TypeEmail, "", "subscription-delivery-email"},
		{channel.TypeRestHook, "lab", "subscription-delivery-rest-hook.lab"},
	}
	for _, tt := range tests {
		if got := f.Name(tt.typ, tt.key); got != tt.want {
			t.Errorf("Name(%s, %q) = %q, want %q", tt.typ, tt.key, got, tt.want)
		}
	}
}

func TestActiveSubscription_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sub     ActiveSubscription
		wantErr bool
	}{
		{"rest-hook ok", ActiveSubscription{Type: channel.TypeRestHook, Endpoint: "http://localhost:9000/hook"}, false},
		{"rest-hook bad url", ActiveSubscription{Type: channel.TypeRestHook, Endpoint: "ftp://x"}, true},
		{"email ok", ActiveSubscription{Type: channel.TypeEmail, Endpoint: "mailto:ops@example.org"}, false},
		{"email bad", ActiveSubscription{Type: channel.TypeEmail, Endpoint: "ops"}, true},
		{"websocket needs no endpoint", ActiveSubscription{Type: channel.TypeWebSocket}, false},
		{"sms needs endpoint", ActiveSubscription{Type: channel.TypeSMS}, true},
		{"unknown type", ActiveSubscription{Type: "fax"}, true},
		{"routing key whitespace", ActiveSubscription{Type: channel.TypeMessage, RoutingKey: "a b"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sub.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperrors.IsValidation(err) {
				t.Fatalf("expected validation error, got %T", err)
			}
		})
	}
}
