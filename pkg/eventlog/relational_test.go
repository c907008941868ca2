package eventlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelationalLog(t *testing.T, sub Subscriber) *RelationalLog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eventlog.db")
	l, err := OpenRelationalLog(RelationalConfig{SQLite: struct{ Path string }{Path: path}}, sub)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRelationalLog_AppendAssignsIncreasingCommitIDs(t *testing.T) {
	l := newTestRelationalLog(t, nil)

	first, err := l.Append(Event{ZoneID: "zone-1", Type: EventWrite, Path: "/a.txt"})
	require.NoError(t, err)
	second, err := l.Append(Event{ZoneID: "zone-1", Type: EventDelete, Path: "/b.txt"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.CommitID)
	assert.Equal(t, uint64(2), second.CommitID)
}

func TestRelationalLog_NotifiesSubscriber(t *testing.T) {
	sub := &fakeSubscriber{}
	l := newTestRelationalLog(t, sub)

	_, err := l.Append(Event{ZoneID: "zone-1", Type: EventRebacCreate})
	require.NoError(t, err)

	require.Len(t, sub.events, 1)
	assert.Equal(t, EventRebacCreate, sub.events[0].Type)
}

func TestRelationalLog_ReplayFromReturnsEventsAfterCommit(t *testing.T) {
	l := newTestRelationalLog(t, nil)

	for i := 0; i < 3; i++ {
		_, err := l.Append(Event{ZoneID: "zone-1", Type: EventWrite, Path: "/file"})
		require.NoError(t, err)
	}

	events, err := l.ReplayFrom(1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(2), events[0].CommitID)
	assert.Equal(t, uint64(3), events[1].CommitID)
}

func TestRelationalLog_PreservesPayloadBytes(t *testing.T) {
	l := newTestRelationalLog(t, nil)

	appended, err := l.Append(Event{ZoneID: "zone-1", Type: EventWrite, Payload: []byte("hello")})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), appended.Payload)

	events, err := l.ReplayFrom(0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []byte("hello"), events[0].Payload)
}

func TestRelationalLog_ProducesNoSegmentFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenRelationalLog(RelationalConfig{SQLite: struct{ Path string }{Path: filepath.Join(dir, "eventlog.db")}}, nil)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Append(Event{ZoneID: "zone-1", Type: EventWrite})
	require.NoError(t, err)

	segments, err := ListSegments(dir)
	require.NoError(t, err)
	assert.Empty(t, segments, "relational fallback must never create .seg segment files")
}
