package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := OpenMigrated(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	change, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if change.Applied() {
		t.Errorf("second Migrate() applied %d -> %d", change.From, change.To)
	}
	if change.To != 2 {
		t.Errorf("version = %d, want 2 (init + friends)", change.To)
	}
}

func TestMigrateFreshDatabase(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	change, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if change.From != 0 || change.To != 2 || !change.Applied() {
		t.Errorf("change = %+v, want 0 -> 2", change)
	}
}

func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"queue outbox", "INSERT INTO outbox (client_msg_id, peer_id, payload, status) VALUES (?, ?, ?, ?)", []any{"cid", "7", "{}", "queued"}},
		{"set kv", "INSERT INTO kv (key, value) VALUES (?, ?)", []any{"k", "v"}},
		{"insert friend", "INSERT INTO friends (id, username) VALUES (?, ?)", []any{"7", "ana"}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestOutboxOrderAndStates(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := db.QueueOutbox(id, "7", []byte(`{"type":"text","text":"`+id+`"}`), 10); err != nil {
			t.Fatalf("QueueOutbox(%s): %v", id, err)
		}
	}
	// Duplicate client id is ignored.
	if err := db.QueueOutbox("a", "7", []byte(`{}`), 10); err != nil {
		t.Fatalf("duplicate QueueOutbox: %v", err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	for i, want := range []string{"a", "b", "c"} {
		if pending[i].ClientMsgID != want {
			t.Errorf("pending[%d] = %s, want %s", i, pending[i].ClientMsgID, want)
		}
	}
	if string(pending[0].Payload) != `{"type":"text","text":"a"}` {
		t.Errorf("payload = %s", pending[0].Payload)
	}

	if err := db.MarkOutboxAttempt("a", "socket closed"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("b"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("c", "gave up"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != "a" {
		t.Fatalf("pending after marks = %+v, want only a", pending)
	}
	if pending[0].Attempts != 1 || pending[0].ErrorMessage != "socket closed" {
		t.Errorf("attempt bookkeeping = %d %q", pending[0].Attempts, pending[0].ErrorMessage)
	}

	depth, err := db.OutboxDepth()
	if err != nil || depth != 1 {
		t.Errorf("OutboxDepth() = %d, %v; want 1", depth, err)
	}

	pruned, err := db.PruneOutbox(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 2 {
		t.Errorf("pruned = %d, want 2", pruned)
	}
}

func TestOutboxCapacity(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("a", "7", []byte(`{}`), 2); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("b", "7", []byte(`{}`), 2); err != nil {
		t.Fatal(err)
	}
	err := db.QueueOutbox("c", "7", []byte(`{}`), 2)
	if !errors.Is(err, ErrOutboxFull) {
		t.Fatalf("third QueueOutbox error = %v, want ErrOutboxFull", err)
	}

	// Sending frees a slot.
	if err := db.MarkOutboxSent("a"); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("c", "7", []byte(`{}`), 2); err != nil {
		t.Errorf("QueueOutbox after drain: %v", err)
	}
}

func TestKV(t *testing.T) {
	db := testDB(t)

	v, err := db.Value(KeyToken)
	if err != nil || v != "" {
		t.Fatalf("Value(missing) = %q, %v", v, err)
	}
	if err := db.SetValue(KeyToken, "t1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetValue(KeyToken, "t2"); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.Value(KeyToken); v != "t2" {
		t.Errorf("Value = %q, want t2", v)
	}
	if err := db.SetValue(KeyUsername, "ana"); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteValues(KeyToken, KeyUsername); err != nil {
		t.Fatal(err)
	}
	if v, _ := db.Value(KeyUsername); v != "" {
		t.Errorf("Value after delete = %q", v)
	}
}

func TestFriends(t *testing.T) {
	db := testDB(t)

	if err := db.ReplaceFriends([]Friend{{ID: "2", Username: "bob"}, {ID: "1", Username: "Ana"}}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetFriendStatus("2", "online", time.UnixMilli(1000)); err != nil {
		t.Fatal(err)
	}

	// Second list drops Ana, keeps bob's presence, blank username does not clobber.
	if err := db.ReplaceFriends([]Friend{{ID: "2"}, {ID: "3", Username: "cy"}}); err != nil {
		t.Fatal(err)
	}

	friends, err := db.ListFriends()
	if err != nil {
		t.Fatal(err)
	}
	if len(friends) != 2 {
		t.Fatalf("friends = %+v, want 2", friends)
	}
	if friends[0].ID != "2" || friends[0].Username != "bob" || friends[0].Status != "online" || friends[0].SeenAt != 1000 {
		t.Errorf("friends[0] = %+v", friends[0])
	}
	if friends[1].ID != "3" {
		t.Errorf("friends[1] = %+v", friends[1])
	}

	if err := db.ReplaceFriends(nil); err != nil {
		t.Fatal(err)
	}
	if friends, _ := db.ListFriends(); len(friends) != 0 {
		t.Errorf("friends after empty replace = %+v", friends)
	}
}
