package journal

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func testEntry(stream string) *Entry {
	return &Entry{
		Stream:         stream,
		Endpoint:       "/api/employee",
		Payload:        []byte(`{"employeeData":{"recordId":"e-1"}}`),
		Reason:         "ledger returned status 503",
		FailedAtMillis: time.Now().UnixMilli(),
	}
}

func TestAppendAssignsMonotonicSequences(t *testing.T) {
	j := openTestJournal(t)

	for i := 1; i <= 5; i++ {
		e := testEntry("cdc.hrdb.employees")
		require.NoError(t, j.Append(e))
		assert.Equal(t, uint64(i), e.Seq)
	}

	pending, err := j.Pending()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), pending)
}

func TestReadFromReturnsEntriesAboveCursor(t *testing.T) {
	j := openTestJournal(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, j.Append(testEntry(fmt.Sprintf("stream-%d", i))))
	}

	entries, err := j.ReadFrom(0, 4)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, "stream-0", entries[0].Stream)

	entries, err = j.ReadFrom(4, 100)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	assert.Equal(t, uint64(5), entries[0].Seq)
}

func TestAdvanceCursorPrunesReplayedEntries(t *testing.T) {
	j := openTestJournal(t)

	for i := 0; i < 6; i++ {
		require.NoError(t, j.Append(testEntry("cdc.hrdb.employees")))
	}

	require.NoError(t, j.AdvanceCursor(4))

	cursor, err := j.Cursor()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), cursor)

	pending, err := j.Pending()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), pending)

	// Pruned entries are gone even when reading from zero
	entries, err := j.ReadFrom(0, 100)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(5), entries[0].Seq)
}

func TestSequencesSurviveReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append(testEntry("cdc.hrdb.employees")))
	require.NoError(t, j.Append(testEntry("cdc.hrdb.employees")))
	require.NoError(t, j.Close())

	j, err = Open(dir)
	require.NoError(t, err)
	defer j.Close()

	e := testEntry("cdc.hrdb.employees")
	require.NoError(t, j.Append(e))
	assert.Equal(t, uint64(3), e.Seq)
}

func TestEntryRoundTripPreservesPayload(t *testing.T) {
	j := openTestJournal(t)

	want := testEntry("cdc.hrdb.employees")
	want.Payload = []byte(`{"employeeData":{"recordId":"e-42","allData":"{\"name\":\"Ada\"}"}}`)
	require.NoError(t, j.Append(want))

	entries, err := j.ReadFrom(0, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, want.Payload, got.Payload)
	assert.Equal(t, want.Endpoint, got.Endpoint)
	assert.Equal(t, want.Reason, got.Reason)
	assert.Equal(t, want.FailedAtMillis, got.FailedAtMillis)
}

func TestClosedJournalRejectsOperations(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Error(t, j.Append(testEntry("s")))
	_, err = j.ReadFrom(0, 1)
	assert.Error(t, err)
	assert.Error(t, j.Close())
}
