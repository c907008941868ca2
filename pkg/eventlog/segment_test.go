package eventlog

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	events []Event
}

func (f *fakeSubscriber) Publish(event Event) { f.events = append(f.events, event) }

func TestSegmentLog_AppendAssignsIncreasingCommitIDs(t *testing.T) {
	l, err := OpenSegmentLog(SegmentConfig{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	defer l.Close()

	first, err := l.Append(Event{ZoneID: "zone-1", Type: EventWrite, Path: "/a.txt"})
	require.NoError(t, err)
	second, err := l.Append(Event{ZoneID: "zone-1", Type: EventDelete, Path: "/b.txt"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.CommitID)
	assert.Equal(t, uint64(2), second.CommitID)
}

func TestSegmentLog_NotifiesSubscriber(t *testing.T) {
	sub := &fakeSubscriber{}
	l, err := OpenSegmentLog(SegmentConfig{Dir: t.TempDir()}, sub)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Append(Event{ZoneID: "zone-1", Type: EventMkdir, Path: "/dir"})
	require.NoError(t, err)

	require.Len(t, sub.events, 1)
	assert.Equal(t, EventMkdir, sub.events[0].Type)
}

func TestSegmentLog_SegmentFileNamingConvention(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenSegmentLog(SegmentConfig{Dir: dir}, nil)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Append(Event{ZoneID: "zone-1", Type: EventWrite})
	require.NoError(t, err)

	segments, err := ListSegments(dir)
	require.NoError(t, err)
	require.Len(t, segments, 1)

	name := filepath.Base(segments[0])
	require.True(t, strings.HasPrefix(name, "wal-"))
	require.True(t, strings.HasSuffix(name, ".seg"))
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(name, "wal-"), ".seg"), "-")
	require.Len(t, parts, 2, "segment name must be wal-{seq}-{epoch}.seg")
}

func TestSegmentLog_RotatesOnSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenSegmentLog(SegmentConfig{Dir: dir, MaxSegmentBytes: segmentHeaderSize + 1}, nil)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Append(Event{ZoneID: "zone-1", Type: EventWrite, Path: "/first"})
	require.NoError(t, err)
	_, err = l.Append(Event{ZoneID: "zone-1", Type: EventWrite, Path: "/second"})
	require.NoError(t, err)

	segments, err := ListSegments(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(segments), 2, "exceeding MaxSegmentBytes must rotate to a new segment")
}

func TestSegmentLog_RotatesOnAgeThreshold(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenSegmentLog(SegmentConfig{Dir: dir, MaxSegmentAge: time.Nanosecond}, nil)
	require.NoError(t, err)
	defer l.Close()

	time.Sleep(time.Millisecond)

	_, err = l.Append(Event{ZoneID: "zone-1", Type: EventWrite})
	require.NoError(t, err)
	_, err = l.Append(Event{ZoneID: "zone-1", Type: EventWrite})
	require.NoError(t, err)

	segments, err := ListSegments(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(segments), 2)
}

func TestReplayAll_ReturnsEventsInCommitOrder(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenSegmentLog(SegmentConfig{Dir: dir, MaxSegmentBytes: segmentHeaderSize + 1}, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := l.Append(Event{ZoneID: "zone-1", Type: EventWrite, Path: "/file"})
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	events, err := ReplayAll(dir)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.CommitID)
	}
}

func TestOpenSegmentLog_ResumesSequenceAfterRestart(t *testing.T) {
	dir := t.TempDir()
	l1, err := OpenSegmentLog(SegmentConfig{Dir: dir}, nil)
	require.NoError(t, err)
	_, err = l1.Append(Event{ZoneID: "zone-1", Type: EventWrite})
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	l2, err := OpenSegmentLog(SegmentConfig{Dir: dir}, nil)
	require.NoError(t, err)
	defer l2.Close()

	second, err := l2.Append(Event{ZoneID: "zone-1", Type: EventWrite})
	require.NoError(t, err)

	segments, err := ListSegments(dir)
	require.NoError(t, err)
	require.Len(t, segments, 2, "restart must create a new segment rather than overwrite the prior one")
	assert.Equal(t, uint64(1), second.CommitID, "commit IDs are per-process, not resumed from disk")
}
