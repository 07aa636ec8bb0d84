package store

import (
	"context"
	"errors"
	"testing"

	"github.com/openfork/openfork/pkg/models"
)

// Both implementations must satisfy the same contract, so every test
// runs against both.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sq.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func mustSession(t *testing.T, s Store) *models.Session {
	t.Helper()
	sess := &models.Session{AgentSlug: "primary", Title: "t"}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func TestSessionRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := mustSession(t, s)
			if sess.ID == "" {
				t.Fatal("id not assigned")
			}

			got, err := s.GetSession(ctx, sess.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.AgentSlug != "primary" || got.Title != "t" {
				t.Errorf("round trip mismatch: %+v", got)
			}

			got.Title = "renamed"
			if err := s.UpdateSession(ctx, got); err != nil {
				t.Fatalf("update: %v", err)
			}
			again, _ := s.GetSession(ctx, sess.ID)
			if again.Title != "renamed" {
				t.Error("update not persisted")
			}

			if err := s.DeleteSession(ctx, sess.ID); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := s.GetSession(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
				t.Errorf("want ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestMessageIDsMonotonicPerSession(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := mustSession(t, s)
			b := mustSession(t, s)

			for i := 0; i < 3; i++ {
				if err := s.AppendMessage(ctx, &models.Message{SessionID: a.ID, Role: models.RoleUser}); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			if err := s.AppendMessage(ctx, &models.Message{SessionID: b.ID, Role: models.RoleUser}); err != nil {
				t.Fatalf("append: %v", err)
			}

			history, err := s.GetHistory(ctx, a.ID, 0)
			if err != nil {
				t.Fatalf("history: %v", err)
			}
			if len(history) != 3 {
				t.Fatalf("len = %d, want 3", len(history))
			}
			for i, msg := range history {
				if msg.ID != int64(i+1) {
					t.Errorf("message %d has id %d", i, msg.ID)
				}
			}

			other, _ := s.GetHistory(ctx, b.ID, 0)
			if len(other) != 1 || other[0].ID != 1 {
				t.Error("ids must be scoped per session")
			}
		})
	}
}

func TestPartsPersistTypedBodies(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := mustSession(t, s)

			msg := &models.Message{
				SessionID: sess.ID,
				Role:      models.RoleAssistant,
				Parts: []*models.Part{
					{Type: models.PartTypeText, Body: &models.TextPart{Content: "hi", ContentType: models.TextMarkdown}},
					{Type: models.PartTypeTool, Body: &models.ToolPart{CallID: "c1", ToolName: "bash", Status: models.ToolPending}},
				},
			}
			if err := s.AppendMessage(ctx, msg); err != nil {
				t.Fatalf("append: %v", err)
			}

			parts, err := s.ListParts(ctx, sess.ID, msg.ID)
			if err != nil {
				t.Fatalf("list parts: %v", err)
			}
			if len(parts) != 2 {
				t.Fatalf("len = %d, want 2", len(parts))
			}
			for i, p := range parts {
				if p.ID <= 0 {
					t.Errorf("part %d missing assigned id: %d", i, p.ID)
				}
				if msg.Parts[i].ID != p.ID {
					t.Errorf("part %d id not reflected to caller: %d != %d", i, msg.Parts[i].ID, p.ID)
				}
			}
			text, ok := parts[0].Body.(*models.TextPart)
			if !ok || text.Content != "hi" {
				t.Errorf("text body lost: %#v", parts[0].Body)
			}
			tool, ok := parts[1].Body.(*models.ToolPart)
			if !ok || tool.ToolName != "bash" {
				t.Fatalf("tool body lost: %#v", parts[1].Body)
			}

			// Status transition persists through UpdatePart.
			if err := tool.Advance(models.ToolRunning); err != nil {
				t.Fatalf("advance: %v", err)
			}
			parts[1].Body = tool
			if err := s.UpdatePart(ctx, parts[1]); err != nil {
				t.Fatalf("update part: %v", err)
			}
			reread, _ := s.ListParts(ctx, sess.ID, msg.ID)
			if got := reread[1].Body.(*models.ToolPart).Status; got != models.ToolRunning {
				t.Errorf("status = %s, want running", got)
			}
		})
	}
}

func TestMarkCompacted(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := mustSession(t, s)
			for i := 0; i < 3; i++ {
				if err := s.AppendMessage(ctx, &models.Message{SessionID: sess.ID, Role: models.RoleUser}); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			if err := s.MarkCompacted(ctx, sess.ID, []int64{1, 2}); err != nil {
				t.Fatalf("mark compacted: %v", err)
			}
			history, _ := s.GetHistory(ctx, sess.ID, 0)
			if !history[0].Compacted || !history[1].Compacted || history[2].Compacted {
				t.Errorf("compacted flags wrong: %v %v %v",
					history[0].Compacted, history[1].Compacted, history[2].Compacted)
			}

			if err := s.MarkCompacted(ctx, sess.ID, []int64{99}); !errors.Is(err, ErrNotFound) {
				t.Errorf("unknown id should be ErrNotFound, got %v", err)
			}
		})
	}
}

func TestSubSessionRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sub := &models.SubSession{
				ParentSessionID: "parent-1",
				AgentSlug:       "explorer",
				Status:          models.SubSessionPending,
				Prompt:          "find the config loader",
				MaxIterations:   10,
			}
			if err := s.CreateSubSession(ctx, sub); err != nil {
				t.Fatalf("create: %v", err)
			}

			sub.Status = models.SubSessionCompleted
			sub.Result = "found it"
			if err := s.UpdateSubSession(ctx, sub); err != nil {
				t.Fatalf("update: %v", err)
			}

			got, err := s.GetSubSession(ctx, sub.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != models.SubSessionCompleted || got.Result != "found it" {
				t.Errorf("round trip mismatch: %+v", got)
			}

			list, _ := s.ListSubSessions(ctx, "parent-1")
			if len(list) != 1 {
				t.Errorf("list len = %d, want 1", len(list))
			}
		})
	}
}

func TestAppState(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.GetState(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("missing key should be ErrNotFound, got %v", err)
			}
			if err := s.SetState(ctx, "k", "v1"); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := s.SetState(ctx, "k", "v2"); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			v, err := s.GetState(ctx, "k")
			if err != nil || v != "v2" {
				t.Errorf("got %q, %v; want v2", v, err)
			}
			if err := s.DeleteState(ctx, "k"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := s.GetState(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Error("deleted key should be ErrNotFound")
			}
		})
	}
}

func TestHistoryLimitReturnsNewest(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := mustSession(t, s)
			for i := 0; i < 5; i++ {
				if err := s.AppendMessage(ctx, &models.Message{SessionID: sess.ID, Role: models.RoleUser}); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			history, err := s.GetHistory(ctx, sess.ID, 2)
			if err != nil {
				t.Fatalf("history: %v", err)
			}
			if len(history) != 2 || history[0].ID != 4 || history[1].ID != 5 {
				t.Errorf("limit should keep the newest messages, got %+v", history)
			}
		})
	}
}
