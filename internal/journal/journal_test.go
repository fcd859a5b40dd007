package journal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mmo-overlay/internal/transport"
	"github.com/annel0/mmo-overlay/internal/transport/transporttest"
	"github.com/annel0/mmo-overlay/internal/vec"
)

func openMemory(t *testing.T, compression string) *Journal {
	t.Helper()
	j, err := Open(Options{InMemory: true, Compression: compression}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func collect(t *testing.T, j *Journal, from uint64) []Record {
	t.Helper()
	var out []Record
	require.NoError(t, j.Scan(from, func(r Record) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func TestAppendAndScan(t *testing.T) {
	for _, comp := range []string{"none", "gzip", "zstd"} {
		t.Run(comp, func(t *testing.T) {
			j := openMemory(t, comp)

			seq, err := j.Append(transport.Sequenced(transport.PacketUpdatePos, 7, transport.PosPayload{Pos: vec.Vec3{X: 1, Y: 2, Z: 3}}))
			require.NoError(t, err)
			assert.Equal(t, uint64(1), seq)

			_, err = j.Append(transport.Ordered(transport.PacketObjectRemove, 8, nil))
			require.NoError(t, err)

			records := collect(t, j, 0)
			require.Len(t, records, 2)
			assert.Equal(t, "UpdatePos", records[0].Type)
			assert.Equal(t, "ObjectRemove", records[1].Type)
			assert.Equal(t, uint64(2), j.Last())

			p, err := records[0].Decode()
			require.NoError(t, err)
			assert.Equal(t, transport.ReliableSequenced, p.Reliability)
			assert.Equal(t, &transport.PosPayload{Pos: vec.Vec3{X: 1, Y: 2, Z: 3}}, p.Payload)
		})
	}
}

func TestScanFromSequence(t *testing.T) {
	j := openMemory(t, "zstd")
	for i := 0; i < 5; i++ {
		_, err := j.Append(transport.Ordered(transport.PacketUpdateLock, 1, transport.LockPayload{Level: uint32(i)}))
		require.NoError(t, err)
	}

	records := collect(t, j, 4)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(4), records[0].Seq)
	assert.Equal(t, uint64(5), records[1].Seq)
}

func TestScanStopsOnError(t *testing.T) {
	j := openMemory(t, "")
	for i := 0; i < 3; i++ {
		_, err := j.Append(transport.Ordered(transport.PacketChat, 1, transport.ChatPayload{Message: "hi"}))
		require.NoError(t, err)
	}

	stop := errors.New("stop")
	n := 0
	err := j.Scan(0, func(Record) error {
		n++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)
}

func TestSequenceResumesAfterReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(Options{Path: dir}, nil)
	require.NoError(t, err)
	_, err = j.Append(transport.Ordered(transport.PacketChat, 1, transport.ChatPayload{Message: "a"}))
	require.NoError(t, err)
	_, err = j.Append(transport.Ordered(transport.PacketChat, 1, transport.ChatPayload{Message: "b"}))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(Options{Path: dir}, nil)
	require.NoError(t, err)
	defer j.Close()

	assert.Equal(t, uint64(2), j.Last())
	seq, err := j.Append(transport.Ordered(transport.PacketChat, 1, transport.ChatPayload{Message: "c"}))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
}

func TestTeeRecordsAndForwards(t *testing.T) {
	j := openMemory(t, "zstd")
	rec := transporttest.New()
	out := j.Tee(rec)

	require.NoError(t, out.Broadcast(context.Background(), transport.Ordered(transport.PacketUpdateLock, 3, transport.LockPayload{Level: 50})))

	assert.Equal(t, 1, rec.Len())
	assert.Len(t, collect(t, j, 0), 1)
}

func TestClosedJournal(t *testing.T) {
	j, err := Open(Options{InMemory: true}, nil)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	_, err = j.Append(transport.Ordered(transport.PacketChat, 1, transport.ChatPayload{}))
	assert.ErrorIs(t, err, ErrClosed)

	// закрытый журнал не мешает отправке
	rec := transporttest.New()
	require.NoError(t, j.Tee(rec).Broadcast(context.Background(), transport.Ordered(transport.PacketChat, 1, transport.ChatPayload{})))
	assert.Equal(t, 1, rec.Len())
}
