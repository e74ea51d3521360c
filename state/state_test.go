package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/pst-to-mime/model"
)

func message(folderID, itemID uint64, mailbox, hash string) model.Message {
	return model.Message{ID: "m@example.org", FolderID: folderID, ItemID: itemID, Mailbox: mailbox, Hash: hash}
}

func TestKey(t *testing.T) {
	key := KeyOf(model.Message{FolderID: 32802, ItemID: 2097188})
	assert.Equal(t, Key{FolderID: 32802, ItemID: 2097188}, key)
	assert.Equal(t, "32802/2097188", key.String())
}

func TestLedger_PersistsAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	ledger, err := Open(dir, "gov_2017", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "gov_2017.jsonl"), ledger.Path())

	msg := message(32802, 2097188, "Archive/inbox", "h1")
	require.NoError(t, ledger.Record(msg))
	require.NoError(t, ledger.Record(msg))
	require.NoError(t, ledger.Close())

	data, err := os.ReadFile(ledger.Path())
	require.NoError(t, err)
	assert.Equal(t, `{"folder_id":32802,"item_id":2097188,"mailbox":"Archive/inbox","hash":"h1","message_id":"m@example.org"}`+"\n", string(data))

	reopened, err := Open(dir, "gov_2017", false)
	require.NoError(t, err)
	assert.True(t, reopened.Holds(msg))
	assert.Equal(t, 1, reopened.Len())
	assert.Equal(t, map[string]int{"Archive/inbox": 1}, reopened.Mailboxes())
}

func TestLedger_HoldsMatchesIdentityMailboxAndContent(t *testing.T) {
	ledger, err := Open(t.TempDir(), "acct", false)
	require.NoError(t, err)
	require.NoError(t, ledger.Record(message(5, 10, "Archive/inbox", "h")))

	tests := []struct {
		name string
		msg  model.Message
		want bool
	}{
		{name: "same", msg: message(5, 10, "Archive/inbox", "h"), want: true},
		// The Message-Id header plays no part in the identity.
		{name: "other message id", msg: model.Message{ID: "x", FolderID: 5, ItemID: 10, Mailbox: "Archive/inbox", Hash: "h"}, want: true},
		{name: "other item", msg: message(5, 11, "Archive/inbox", "h")},
		{name: "same item id in other folder", msg: message(6, 10, "Archive/inbox", "h")},
		{name: "content changed", msg: message(5, 10, "Archive/inbox", "h2")},
		{name: "mailbox changed", msg: message(5, 10, "Other/inbox", "h")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ledger.Holds(tt.msg))
		})
	}
}

func TestLedger_LaterLineWins(t *testing.T) {
	dir := t.TempDir()
	lines := `{"folder_id":5,"item_id":10,"mailbox":"Old/inbox","hash":"h"}` + "\n\n" +
		`{"folder_id":5,"item_id":10,"mailbox":"New/inbox","hash":"h"}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acct.jsonl"), []byte(lines), 0o600))

	ledger, err := Open(dir, "acct", false)
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.Len())
	assert.True(t, ledger.Holds(message(5, 10, "New/inbox", "h")))
	assert.False(t, ledger.Holds(message(5, 10, "Old/inbox", "h")))
}

func TestLedger_RerouteAppendsEntry(t *testing.T) {
	dir := t.TempDir()
	ledger, err := Open(dir, "acct", true)
	require.NoError(t, err)
	require.NoError(t, ledger.Record(message(5, 10, "Old/inbox", "h")))
	require.NoError(t, ledger.Record(message(5, 10, "New/inbox", "h")))
	require.NoError(t, ledger.Close())

	reopened, err := Open(dir, "acct", false)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
	assert.True(t, reopened.Holds(message(5, 10, "New/inbox", "h")))
}

func TestLedger_AccountsAreSeparate(t *testing.T) {
	dir := t.TempDir()

	a, err := Open(dir, "alpha", true)
	require.NoError(t, err)
	require.NoError(t, a.Record(message(1, 1, "INBOX", "h")))
	require.NoError(t, a.Close())

	b, err := Open(dir, "beta", true)
	require.NoError(t, err)
	defer b.Close()
	assert.False(t, b.Holds(message(1, 1, "INBOX", "h")))
}

func TestLedger_NoPersistInDryRun(t *testing.T) {
	dir := t.TempDir()

	ledger, err := Open(dir, "acct", false)
	require.NoError(t, err)
	require.NoError(t, ledger.Record(message(1, 1, "INBOX", "h")))
	assert.True(t, ledger.Holds(message(1, 1, "INBOX", "h")))
	require.NoError(t, ledger.Close())

	assert.NoFileExists(t, ledger.Path())
}

func TestLedger_RecordWithoutIdentity(t *testing.T) {
	ledger, err := Open(t.TempDir(), "acct", false)
	require.NoError(t, err)
	assert.ErrorIs(t, ledger.Record(model.Message{FolderID: 5, Mailbox: "INBOX"}), ErrNoIdentity)
	assert.Zero(t, ledger.Len())
}

func TestLedger_CorruptStateFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acct.jsonl"), []byte("{\"folder_id\":1,\"item_id\":2}\n\nnot json\n"), 0o600))
	_, err := Open(dir, "acct", false)
	assert.ErrorContains(t, err, "line 3")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "acct.jsonl"), []byte("{\"hash\":\"only\"}\n"), 0o600))
	_, err = Open(dir, "acct", false)
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(" ", "acct", false)
	assert.Error(t, err)
	_, err = Open(t.TempDir(), "", false)
	assert.Error(t, err)
}

func BenchmarkLedger_Record(b *testing.B) {
	ledger, err := Open(b.TempDir(), "bench", true)
	require.NoError(b, err)
	defer ledger.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg := message(32802, uint64(i+1), "Archive/inbox", "h")
		if err := ledger.Record(msg); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLedger_Holds(b *testing.B) {
	ledger, err := Open(b.TempDir(), "bench", false)
	require.NoError(b, err)
	for i := 1; i <= 10000; i++ {
		require.NoError(b, ledger.Record(message(32802, uint64(i), "Archive/inbox", "h")))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ledger.Holds(message(32802, uint64(i%10000+1), "Archive/inbox", "h"))
	}
}
