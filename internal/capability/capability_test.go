package capability

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lerrors "lifod/internal/errors"
	"lifod/internal/metrics"
	"lifod/internal/session"
	"lifod/internal/wire"
	"lifod/lifo"
	"lifod/util"
)

// serve runs c on one end of a pipe and returns the other end plus the
// handler's result.
func serve(t *testing.T, ctx context.Context, c Capability, role session.Role) (net.Conn, <-chan error) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	done := make(chan error, 1)
	go func() {
		defer server.Close()
		done <- c.Handle(ctx, session.New(server, role, util.NewLogger(0)))
	}()
	return client, done
}

func roundTrip(t *testing.T, conn net.Conn, req *wire.Request) *wire.Response {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, wire.WriteRequest(conn, req))
	resp, err := wire.ReadResponse(conn, req.Op)
	require.NoError(t, err)
	return resp
}

func push(t *testing.T, conn net.Conn, s string) *wire.Response {
	return roundTrip(t, conn, &wire.Request{Op: wire.OpWrite, Payload: []byte(s)})
}

func pop(t *testing.T, conn net.Conn, n uint32, flags uint8) *wire.Response {
	return roundTrip(t, conn, &wire.Request{Op: wire.OpRead, Length: n, Flags: flags})
}

func waitHandler(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return")
		return nil
	}
}

func TestEndpoints_WriteThenRead(t *testing.T) {
	st := lifo.New(lifo.Config{})
	m := metrics.New()
	ctx := context.Background()

	wconn, wdone := serve(t, ctx, &WriteEndpoint{Writer: st.Writer(), Metrics: m}, session.RoleWrite)
	rconn, rdone := serve(t, ctx, &ReadEndpoint{Stack: st, Metrics: m, NonBlocking: true}, session.RoleRead)

	resp := push(t, wconn, "hi")
	assert.Equal(t, wire.StatusOK, resp.Status)
	assert.EqualValues(t, 2, resp.Length)
	push(t, wconn, "bye")

	resp = pop(t, rconn, 1023, 0)
	assert.Equal(t, wire.StatusOK, resp.Status)
	assert.Equal(t, "eybih", string(resp.Payload))

	resp = pop(t, rconn, 1023, 0)
	assert.Equal(t, wire.StatusOK, resp.Status)
	assert.Empty(t, resp.Payload)

	wconn.Close()
	rconn.Close()
	assert.NoError(t, waitHandler(t, wdone))
	assert.NoError(t, waitHandler(t, rdone))

	snap := m.Snapshot()
	assert.EqualValues(t, 5, snap.BytesPushed)
	assert.EqualValues(t, 5, snap.BytesPopped)
	assert.EqualValues(t, 1, snap.EmptyReads)
}

func TestWriteEndpoint_StatusMapping(t *testing.T) {
	st := lifo.New(lifo.Config{Capacity: 4, RejectOversize: true})
	conn, _ := serve(t, context.Background(), &WriteEndpoint{Writer: st.Writer()}, session.RoleWrite)

	assert.Equal(t, wire.StatusOK, push(t, conn, "abc").Status)
	assert.Equal(t, wire.StatusNoSpace, push(t, conn, "de").Status)
	assert.Equal(t, wire.StatusTooLarge, push(t, conn, "abcdef").Status)
	assert.Equal(t, 3, st.Len())

	st.Close()
	assert.Equal(t, wire.StatusClosed, push(t, conn, "x").Status)
}

func TestWriteEndpoint_TruncatedWriteIsFlagged(t *testing.T) {
	st := lifo.New(lifo.Config{Capacity: 8})
	conn, _ := serve(t, context.Background(), &WriteEndpoint{Writer: st.Writer()}, session.RoleWrite)

	resp := push(t, conn, "0123456789ab")
	assert.Equal(t, wire.StatusOK, resp.Status)
	assert.True(t, resp.Truncated())
	assert.EqualValues(t, 8, resp.Length)
	assert.Equal(t, 8, st.Len())

	// A short count from the allocator carries no flag.
	st2 := lifo.New(lifo.Config{Capacity: 8, Allocator: lifo.NewBudget(2)})
	conn2, _ := serve(t, context.Background(), &WriteEndpoint{Writer: st2.Writer()}, session.RoleWrite)
	resp = push(t, conn2, "abcd")
	assert.Equal(t, wire.StatusOK, resp.Status)
	assert.False(t, resp.Truncated())
	assert.EqualValues(t, 2, resp.Length)
}

func TestWriteEndpoint_PartialWrite(t *testing.T) {
	st := lifo.New(lifo.Config{Allocator: lifo.NewBudget(3)})
	conn, _ := serve(t, context.Background(), &WriteEndpoint{Writer: st.Writer()}, session.RoleWrite)

	resp := push(t, conn, "hello")
	assert.Equal(t, wire.StatusOK, resp.Status)
	assert.EqualValues(t, 3, resp.Length)

	resp = push(t, conn, "x")
	assert.Equal(t, wire.StatusOutOfMemory, resp.Status)
	assert.EqualValues(t, 0, resp.Length)
}

func TestEndpoints_WrongOpNotPermitted(t *testing.T) {
	st := lifo.New(lifo.Config{})
	ctx := context.Background()
	wconn, _ := serve(t, ctx, &WriteEndpoint{Writer: st.Writer()}, session.RoleWrite)
	rconn, _ := serve(t, ctx, &ReadEndpoint{Stack: st}, session.RoleRead)

	assert.Equal(t, wire.StatusNotPermitted, pop(t, wconn, 10, 0).Status)
	assert.Equal(t, wire.StatusNotPermitted, push(t, rconn, "x").Status)
	assert.Equal(t, 0, st.Len())

	// The connection stays usable after a refusal.
	assert.Equal(t, wire.StatusOK, push(t, wconn, "ok").Status)
}

func TestWriteEndpoint_RateLimited(t *testing.T) {
	st := lifo.New(lifo.Config{})
	m := metrics.New()
	conn, _ := serve(t, context.Background(),
		&WriteEndpoint{Writer: st.Writer(), Metrics: m, Rate: 0.001, Burst: 2}, session.RoleWrite)

	assert.Equal(t, wire.StatusOK, push(t, conn, "a").Status)
	assert.Equal(t, wire.StatusOK, push(t, conn, "b").Status)
	assert.Equal(t, wire.StatusRateLimited, push(t, conn, "c").Status)
	assert.Equal(t, 2, st.Len())
	assert.EqualValues(t, 1, m.Snapshot().RateLimited)
}

func TestReadEndpoint_FlagNonBlock(t *testing.T) {
	st := lifo.New(lifo.Config{})
	conn, _ := serve(t, context.Background(), &ReadEndpoint{Stack: st}, session.RoleRead)

	resp := pop(t, conn, 16, wire.FlagNonBlock)
	assert.Equal(t, wire.StatusOK, resp.Status)
	assert.Empty(t, resp.Payload)
	assert.Equal(t, 0, st.Waiting())
}

func TestReadEndpoint_BlockingReadWokenByWrite(t *testing.T) {
	st := lifo.New(lifo.Config{})
	conn, _ := serve(t, context.Background(), &ReadEndpoint{Stack: st}, session.RoleRead)

	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, wire.WriteRequest(conn, &wire.Request{Op: wire.OpRead, Length: 1023}))
	require.Eventually(t, func() bool { return st.Waiting() == 1 }, time.Second, time.Millisecond)

	_, err := st.Writer().Write([]byte("wake"))
	require.NoError(t, err)

	resp, err := wire.ReadResponse(conn, wire.OpRead)
	require.NoError(t, err)
	assert.Equal(t, "ekaw", string(resp.Payload))
}

func TestReadEndpoint_CancelInterruptsRead(t *testing.T) {
	st := lifo.New(lifo.Config{})
	m := metrics.New()
	conn, _ := serve(t, context.Background(), &ReadEndpoint{Stack: st, Metrics: m}, session.RoleRead)

	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, wire.WriteRequest(conn, &wire.Request{Op: wire.OpRead, Length: 8}))
	require.Eventually(t, func() bool { return st.Waiting() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, wire.WriteRequest(conn, &wire.Request{Op: wire.OpCancel}))
	resp, err := wire.ReadResponse(conn, wire.OpRead)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusInterrupted, resp.Status)
	assert.EqualValues(t, 1, m.Snapshot().Interrupted)

	// Nothing was consumed and the connection still serves reads.
	_, err = st.Writer().Write([]byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, "ko", string(pop(t, conn, 8, 0).Payload))
}

func TestReadEndpoint_CancelReachesBlockedReadBehindPipelinedOne(t *testing.T) {
	st := lifo.New(lifo.Config{})
	conn, _ := serve(t, context.Background(), &ReadEndpoint{Stack: st}, session.RoleRead)

	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, wire.WriteRequest(conn, &wire.Request{Op: wire.OpRead, Length: 8}))
	require.NoError(t, wire.WriteRequest(conn, &wire.Request{Op: wire.OpRead, Length: 8}))
	require.Eventually(t, func() bool { return st.Waiting() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, wire.WriteRequest(conn, &wire.Request{Op: wire.OpCancel}))
	resp, err := wire.ReadResponse(conn, wire.OpRead)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusInterrupted, resp.Status)

	// The queued read runs next and takes the following write.
	require.Eventually(t, func() bool { return st.Waiting() == 1 }, time.Second, time.Millisecond)
	_, err = st.Writer().Write([]byte("ok"))
	require.NoError(t, err)
	resp, err = wire.ReadResponse(conn, wire.OpRead)
	require.NoError(t, err)
	assert.Equal(t, "ko", string(resp.Payload))
}

func TestFrameLoop_TooManyPipelinedRequests(t *testing.T) {
	st := lifo.New(lifo.Config{})
	conn, done := serve(t, context.Background(), &ReadEndpoint{Stack: st}, session.RoleRead)

	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i <= wire.MaxPipelined; i++ {
		require.NoError(t, wire.WriteRequest(conn, &wire.Request{Op: wire.OpRead, Length: 8}))
	}

	// Every queued read is interrupted, then the excess one is refused.
	for i := 0; i < wire.MaxPipelined; i++ {
		resp, err := wire.ReadResponse(conn, wire.OpRead)
		require.NoError(t, err)
		assert.Equal(t, wire.StatusInterrupted, resp.Status, "response %d", i)
	}
	resp, err := wire.ReadResponse(conn, wire.OpRead)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusBadRequest, resp.Status)

	var pe *lerrors.ProtocolError
	require.ErrorAs(t, waitHandler(t, done), &pe)
	assert.Zero(t, st.Waiting())
}

func TestReadEndpoint_CancelWithoutReadIsIgnored(t *testing.T) {
	st := lifo.New(lifo.Config{})
	conn, _ := serve(t, context.Background(), &ReadEndpoint{Stack: st, NonBlocking: true}, session.RoleRead)

	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, wire.WriteRequest(conn, &wire.Request{Op: wire.OpCancel}))
	assert.Equal(t, wire.StatusOK, pop(t, conn, 8, 0).Status)
}

func TestReadEndpoint_HangupReleasesBlockedRead(t *testing.T) {
	st := lifo.New(lifo.Config{})
	conn, done := serve(t, context.Background(), &ReadEndpoint{Stack: st}, session.RoleRead)

	require.NoError(t, wire.WriteRequest(conn, &wire.Request{Op: wire.OpRead, Length: 8}))
	require.Eventually(t, func() bool { return st.Waiting() == 1 }, time.Second, time.Millisecond)

	conn.Close()
	waitHandler(t, done) //nolint:errcheck
	assert.Equal(t, 0, st.Waiting())
}

func TestReadEndpoint_CloseWakesReader(t *testing.T) {
	st := lifo.New(lifo.Config{})
	conn, _ := serve(t, context.Background(), &ReadEndpoint{Stack: st}, session.RoleRead)

	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, wire.WriteRequest(conn, &wire.Request{Op: wire.OpRead, Length: 8}))
	require.Eventually(t, func() bool { return st.Waiting() == 1 }, time.Second, time.Millisecond)

	st.Close()
	resp, err := wire.ReadResponse(conn, wire.OpRead)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusInterrupted, resp.Status)
}

func TestFrameLoop_MalformedFrame(t *testing.T) {
	st := lifo.New(lifo.Config{})
	conn, done := serve(t, context.Background(), &WriteEndpoint{Writer: st.Writer()}, session.RoleWrite)

	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	var hdr [wire.HeaderSize]byte
	hdr[0] = 0x7f
	binary.BigEndian.PutUint32(hdr[4:], 1)
	_, err := conn.Write(hdr[:])
	require.NoError(t, err)

	resp, err := wire.ReadResponse(conn, wire.OpWrite)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusBadRequest, resp.Status)

	var pe *lerrors.ProtocolError
	require.ErrorAs(t, waitHandler(t, done), &pe)
	assert.Equal(t, "lifo_write", pe.Endpoint)
}

func TestFrameLoop_IdleTimeout(t *testing.T) {
	st := lifo.New(lifo.Config{})
	conn, done := serve(t, context.Background(),
		&WriteEndpoint{Writer: st.Writer(), IdleTimeout: 30 * time.Millisecond}, session.RoleWrite)

	assert.Equal(t, wire.StatusOK, push(t, conn, "a").Status)
	assert.NoError(t, waitHandler(t, done))
}

func TestFrameLoop_IdleTimeoutSparesBlockedRead(t *testing.T) {
	st := lifo.New(lifo.Config{})
	conn, _ := serve(t, context.Background(),
		&ReadEndpoint{Stack: st, IdleTimeout: 20 * time.Millisecond}, session.RoleRead)

	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, wire.WriteRequest(conn, &wire.Request{Op: wire.OpRead, Length: 8}))
	require.Eventually(t, func() bool { return st.Waiting() == 1 }, time.Second, time.Millisecond)

	time.Sleep(80 * time.Millisecond) // several idle periods
	_, err := st.Writer().Write([]byte("late"))
	require.NoError(t, err)

	resp, err := wire.ReadResponse(conn, wire.OpRead)
	require.NoError(t, err)
	assert.Equal(t, "etal", string(resp.Payload))
}

func TestHandle_ContextCancelEndsConnection(t *testing.T) {
	st := lifo.New(lifo.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	conn, done := serve(t, ctx, &ReadEndpoint{Stack: st}, session.RoleRead)

	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, wire.WriteRequest(conn, &wire.Request{Op: wire.OpRead, Length: 8}))
	require.Eventually(t, func() bool { return st.Waiting() == 1 }, time.Second, time.Millisecond)

	cancel()
	resp, err := wire.ReadResponse(conn, wire.OpRead)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusInterrupted, resp.Status)
	assert.NoError(t, waitHandler(t, done))
}
