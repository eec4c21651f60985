package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/txmux/internal/protocol"
	"github.com/danmuck/txmux/internal/testutil/testlog"
	"github.com/danmuck/txmux/internal/transport"
)

const (
	testProfile    = protocol.ProfileID(0x1234)
	foreignProfile = protocol.ProfileID(0x9999)
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached: %s", msg)
}

type captureMetrics struct {
	mu     sync.Mutex
	reads  map[string]int
	writes map[string]int
}

func newCaptureMetrics() *captureMetrics {
	return &captureMetrics{reads: map[string]int{}, writes: map[string]int{}}
}

func (m *captureMetrics) MessageRead(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[outcome]++
}

func (m *captureMetrics) MessageWritten(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes[kind]++
}

func (m *captureMetrics) read(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[outcome]
}

func newEnginePair(t *testing.T) (*Peer, *Peer) {
	t.Helper()
	ca, cb := transport.Pipe()
	a := New(ca, Config{ProfileID: testProfile})
	b := New(cb, Config{ProfileID: testProfile})
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

// rawEnd drives the far side of a pipe by hand so tests can craft packets
// the engine API refuses to produce.
type rawEnd struct {
	t  *testing.T
	mc transport.MessageConn
}

func newEngineAndRaw(t *testing.T, cfg Config) (*Peer, *rawEnd) {
	t.Helper()
	ce, cr := transport.Pipe()
	p := New(ce, cfg)
	t.Cleanup(func() {
		_ = p.Close()
		_ = cr.Close()
	})
	return p, &rawEnd{t: t, mc: cr}
}

func (r *rawEnd) sendPacket(h protocol.Header, body []byte) {
	r.t.Helper()
	buf := make([]byte, h.EncodedLen()+len(body))
	if err := h.Encode(buf[:h.EncodedLen()]); err != nil {
		r.t.Fatalf("encode: %v", err)
	}
	copy(buf[h.EncodedLen():], body)
	if _, err := r.mc.WriteMessage(buf); err != nil {
		r.t.Fatalf("raw write: %v", err)
	}
}

func (r *rawEnd) readPacket() (protocol.Header, []byte) {
	r.t.Helper()
	type result struct {
		h    protocol.Header
		body []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, 4096)
		n, err := r.mc.ReadMessage(buf)
		if err != nil {
			ch <- result{err: err}
			return
		}
		h, err := protocol.DecodeHeader(buf[:n])
		if err != nil {
			ch <- result{err: err}
			return
		}
		body := append([]byte(nil), buf[h.EncodedLen():n]...)
		ch <- result{h: h, body: body}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			r.t.Fatalf("raw read: %v", res.err)
		}
		return res.h, res.body
	case <-time.After(5 * time.Second):
		r.t.Fatalf("raw read timed out")
	}
	return protocol.Header{}, nil
}

// expectSilence leaks its reader goroutine until the pipe closes, so it
// must be the last raw operation of a test.
func (r *rawEnd) expectSilence(d time.Duration) {
	r.t.Helper()
	got := make(chan int, 1)
	go func() {
		buf := make([]byte, 4096)
		n, err := r.mc.ReadMessage(buf)
		if err == nil {
			got <- n
		}
	}()
	select {
	case n := <-got:
		r.t.Fatalf("expected no message, got %d bytes", n)
	case <-time.After(d):
	}
}

func commandHeader(label protocol.TransactionLabel, pid protocol.ProfileID) protocol.Header {
	return protocol.Header{
		Label:       label,
		PacketType:  protocol.PacketTypeSingle,
		MessageType: protocol.MessageTypeCommand,
		ProfileID:   pid,
	}
}

func responseHeader(label protocol.TransactionLabel, pid protocol.ProfileID) protocol.Header {
	h := commandHeader(label, pid)
	h.MessageType = protocol.MessageTypeResponse
	return h
}

func TestCommandResponseRoundTrip(t *testing.T) {
	testlog.Start(t)
	a, b := newEnginePair(t)

	stream, err := a.SendCommand([]byte{1, 2, 3})
	if err != nil {
		t.Fatalf("send command: %v", err)
	}

	cs, err := b.TakeCommandStream()
	if err != nil {
		t.Fatalf("take command stream: %v", err)
	}
	cmd, err := cs.Next(testCtx(t))
	if err != nil {
		t.Fatalf("next command: %v", err)
	}
	if !bytes.Equal(cmd.Body(), []byte{1, 2, 3}) {
		t.Fatalf("unexpected command body %v", cmd.Body())
	}
	h := cmd.Header()
	if h.MessageType != protocol.MessageTypeCommand || h.PacketType != protocol.PacketTypeSingle {
		t.Fatalf("unexpected command header %+v", h)
	}
	if h.ProfileID != testProfile {
		t.Fatalf("unexpected profile id %s", h.ProfileID)
	}

	if err := cmd.SendResponse([]byte{9, 9}); err != nil {
		t.Fatalf("send response: %v", err)
	}
	pkt, err := stream.Next(testCtx(t))
	if err != nil {
		t.Fatalf("next response: %v", err)
	}
	if !bytes.Equal(pkt.Body(), []byte{9, 9}) {
		t.Fatalf("unexpected response body %v", pkt.Body())
	}
	if pkt.Header().MessageType != protocol.MessageTypeResponse {
		t.Fatalf("unexpected response header %+v", pkt.Header())
	}
	if pkt.Header().Label != stream.Label() {
		t.Fatalf("response label %d does not match stream label %d", pkt.Header().Label, stream.Label())
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("close stream: %v", err)
	}
	if got := a.Snapshot().LabelsInUse; got != 0 {
		t.Fatalf("labels still in use after close: %d", got)
	}
}

func TestResponsesCorrelateAcrossTransactions(t *testing.T) {
	testlog.Start(t)
	a, b := newEnginePair(t)

	const n = 4
	streams := make([]*ResponseStream, n)
	for i := 0; i < n; i++ {
		s, err := a.SendCommand([]byte(fmt.Sprintf("req-%d", i)))
		if err != nil {
			t.Fatalf("send command %d: %v", i, err)
		}
		streams[i] = s
	}

	cs, err := b.TakeCommandStream()
	if err != nil {
		t.Fatalf("take command stream: %v", err)
	}
	cmds := make([]*Command, n)
	for i := 0; i < n; i++ {
		cmd, err := cs.Next(testCtx(t))
		if err != nil {
			t.Fatalf("next command %d: %v", i, err)
		}
		if got := string(cmd.Body()); got != fmt.Sprintf("req-%d", i) {
			t.Fatalf("commands out of order: slot %d got %q", i, got)
		}
		cmds[i] = cmd
	}

	// answer in reverse to prove correlation is by label, not arrival order
	for i := n - 1; i >= 0; i-- {
		if err := cmds[i].SendResponse([]byte("ack-" + string(cmds[i].Body()))); err != nil {
			t.Fatalf("send response %d: %v", i, err)
		}
	}

	for i, s := range streams {
		pkt, err := s.Next(testCtx(t))
		if err != nil {
			t.Fatalf("next response %d: %v", i, err)
		}
		want := fmt.Sprintf("ack-req-%d", i)
		if got := string(pkt.Body()); got != want {
			t.Fatalf("stream %d got %q, want %q", i, got, want)
		}
		_ = s.Close()
	}
}

func TestLabelsDistinctUntilExhaustion(t *testing.T) {
	testlog.Start(t)
	p, _ := newEngineAndRaw(t, Config{ProfileID: testProfile})

	seen := map[protocol.TransactionLabel]bool{}
	streams := make([]*ResponseStream, 0, protocol.LabelSpaceSize)
	for i := 0; i < protocol.LabelSpaceSize; i++ {
		s, err := p.SendCommand([]byte("fill"))
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if seen[s.Label()] {
			t.Fatalf("label %d handed out twice", s.Label())
		}
		seen[s.Label()] = true
		streams = append(streams, s)
	}

	if _, err := p.SendCommand([]byte("overflow")); !errors.Is(err, ErrNoFreeLabels) {
		t.Fatalf("expected ErrNoFreeLabels, got %v", err)
	}

	released := streams[5].Label()
	_ = streams[5].Close()
	s, err := p.SendCommand([]byte("again"))
	if err != nil {
		t.Fatalf("send after release: %v", err)
	}
	if s.Label() != released {
		t.Fatalf("expected released label %d to be reused, got %d", released, s.Label())
	}
}

func TestMaxPendingBoundsAndClamp(t *testing.T) {
	testlog.Start(t)

	p, _ := newEngineAndRaw(t, Config{ProfileID: testProfile, MaxPending: 2})
	if got := p.Snapshot().MaxPending; got != 2 {
		t.Fatalf("unexpected max pending %d", got)
	}
	for i := 0; i < 2; i++ {
		if _, err := p.SendCommand([]byte("x")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if _, err := p.SendCommand([]byte("x")); !errors.Is(err, ErrNoFreeLabels) {
		t.Fatalf("expected ErrNoFreeLabels, got %v", err)
	}

	clamped, _ := newEngineAndRaw(t, Config{ProfileID: testProfile, MaxPending: 99})
	if got := clamped.Snapshot().MaxPending; got != protocol.LabelSpaceSize {
		t.Fatalf("expected clamp to %d, got %d", protocol.LabelSpaceSize, got)
	}
}

func TestTakeCommandStreamSingleConsumer(t *testing.T) {
	testlog.Start(t)
	p, _ := newEngineAndRaw(t, Config{ProfileID: testProfile})

	cs, err := p.TakeCommandStream()
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if got := p.Snapshot(); !got.Claimed {
		t.Fatalf("claim not visible in snapshot")
	}

	if _, err := p.TakeCommandStream(); !errors.Is(err, ErrCommandStreamTaken) {
		t.Fatalf("expected ErrCommandStreamTaken, got %v", err)
	}

	if err := cs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.TakeCommandStream(); err != nil {
		t.Fatalf("retake after close: %v", err)
	}
}

func TestQueuedCommandsSurviveClaimRelease(t *testing.T) {
	testlog.Start(t)
	p, raw := newEngineAndRaw(t, Config{ProfileID: testProfile})

	raw.sendPacket(commandHeader(0, testProfile), []byte("first"))
	raw.sendPacket(commandHeader(1, testProfile), []byte("second"))

	cs, err := p.TakeCommandStream()
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	cmd, err := cs.Next(testCtx(t))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got := string(cmd.Body()); got != "first" {
		t.Fatalf("unexpected body %q", got)
	}
	_ = cs.Close()

	cs2, err := p.TakeCommandStream()
	if err != nil {
		t.Fatalf("retake: %v", err)
	}
	cmd, err = cs2.Next(testCtx(t))
	if err != nil {
		t.Fatalf("next after retake: %v", err)
	}
	if got := string(cmd.Body()); got != "second" {
		t.Fatalf("queued command lost across claims, got %q", got)
	}
}

func TestUnknownLabelResponseDropped(t *testing.T) {
	testlog.Start(t)
	metrics := newCaptureMetrics()
	p, raw := newEngineAndRaw(t, Config{ProfileID: testProfile, Metrics: metrics})

	raw.sendPacket(responseHeader(7, testProfile), []byte("stale"))
	waitFor(t, func() bool { return metrics.read(ReadDroppedUnknownLabel) == 1 },
		"unknown-label drop counted")

	// engine must still run a clean transaction afterwards
	stream, err := p.SendCommand([]byte("probe"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	h, body := raw.readPacket()
	if string(body) != "probe" {
		t.Fatalf("unexpected outbound body %q", body)
	}
	raw.sendPacket(h.CreateResponse(), []byte("alive"))
	pkt, err := stream.Next(testCtx(t))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got := string(pkt.Body()); got != "alive" {
		t.Fatalf("unexpected response %q", got)
	}
}

func TestForeignProfileCommandAutoRejected(t *testing.T) {
	testlog.Start(t)
	metrics := newCaptureMetrics()
	p, raw := newEngineAndRaw(t, Config{ProfileID: testProfile, Metrics: metrics})

	raw.sendPacket(commandHeader(3, foreignProfile), []byte("wrong home"))

	h, body := raw.readPacket()
	if h.MessageType != protocol.MessageTypeResponse {
		t.Fatalf("reject is not a response: %+v", h)
	}
	if !h.IsInvalidProfileID() {
		t.Fatalf("reject missing invalid-profile flag: %+v", h)
	}
	if h.Label != 3 {
		t.Fatalf("reject label %d, want 3", h.Label)
	}
	if h.ProfileID != foreignProfile {
		t.Fatalf("reject echoes %s, want %s", h.ProfileID, foreignProfile)
	}
	if len(body) != 0 {
		t.Fatalf("reject carries body %q", body)
	}
	if got := metrics.read(ReadDispatchedCommand); got != 0 {
		t.Fatalf("foreign command reached the inbound queue (%d)", got)
	}
	if got := p.Snapshot().InboundDepth; got != 0 {
		t.Fatalf("foreign command queued (depth %d)", got)
	}

	// an inbound packet already flagged invalid must not trigger a
	// counter-reject
	flagged := commandHeader(4, foreignProfile)
	flagged.InvalidProfileID = true
	raw.sendPacket(flagged, []byte("poke"))
	waitFor(t, func() bool { return metrics.read(ReadRejectedProfile) == 2 },
		"second foreign packet counted")
	raw.expectSilence(200 * time.Millisecond)
}

func TestRejectedCommandSurfacesInvalidProfileID(t *testing.T) {
	testlog.Start(t)
	p, raw := newEngineAndRaw(t, Config{ProfileID: testProfile})

	stream, err := p.SendCommand([]byte("hello"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	h, _ := raw.readPacket()
	raw.sendPacket(h.CreateInvalidProfileIDResponse(), nil)

	_, err = stream.Next(testCtx(t))
	if !errors.Is(err, ErrInvalidProfileID) {
		t.Fatalf("expected ErrInvalidProfileID, got %v", err)
	}
}

func TestDisconnectResolvesBlockedConsumers(t *testing.T) {
	testlog.Start(t)
	a, b := newEnginePair(t)

	stream, err := a.SendCommand([]byte("pending"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	cs, err := a.TakeCommandStream()
	if err != nil {
		t.Fatalf("take: %v", err)
	}

	resErr := make(chan error, 1)
	cmdErr := make(chan error, 1)
	go func() {
		_, err := stream.Next(context.Background())
		resErr <- err
	}()
	go func() {
		_, err := cs.Next(context.Background())
		cmdErr <- err
	}()

	if err := b.Close(); err != nil {
		t.Fatalf("close remote: %v", err)
	}

	for name, ch := range map[string]chan error{"response": resErr, "command": cmdErr} {
		select {
		case err := <-ch:
			if !errors.Is(err, ErrPeerDisconnected) {
				t.Fatalf("%s consumer got %v", name, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s consumer still blocked after disconnect", name)
		}
	}

	waitFor(t, func() bool { return !a.Snapshot().Connected }, "snapshot shows disconnect")
}

func TestPacketsQueuedBeforeDisconnectDelivered(t *testing.T) {
	testlog.Start(t)
	p, raw := newEngineAndRaw(t, Config{ProfileID: testProfile})

	stream, err := p.SendCommand([]byte("ask"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	h, _ := raw.readPacket()

	raw.sendPacket(h.CreateResponse(), []byte("late answer"))
	raw.sendPacket(commandHeader(9, testProfile), []byte("parting shot"))
	_ = raw.mc.Close()

	pkt, err := stream.Next(testCtx(t))
	if err != nil {
		t.Fatalf("queued response lost: %v", err)
	}
	if got := string(pkt.Body()); got != "late answer" {
		t.Fatalf("unexpected response %q", got)
	}
	if _, err := stream.Next(testCtx(t)); !errors.Is(err, ErrPeerDisconnected) {
		t.Fatalf("expected ErrPeerDisconnected, got %v", err)
	}

	cs, err := p.TakeCommandStream()
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	cmd, err := cs.Next(testCtx(t))
	if err != nil {
		t.Fatalf("queued command lost: %v", err)
	}
	if got := string(cmd.Body()); got != "parting shot" {
		t.Fatalf("unexpected command %q", got)
	}
	if _, err := cs.Next(testCtx(t)); !errors.Is(err, ErrPeerDisconnected) {
		t.Fatalf("expected ErrPeerDisconnected, got %v", err)
	}
}

func TestReceiveLoopAbsorbsNoise(t *testing.T) {
	testlog.Start(t)
	metrics := newCaptureMetrics()
	p, raw := newEngineAndRaw(t, Config{ProfileID: testProfile, Metrics: metrics})

	// empty datagram, truncated header, header-only command
	if _, err := raw.mc.WriteMessage(nil); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if _, err := raw.mc.WriteMessage([]byte{0x00}); err != nil {
		t.Fatalf("write short: %v", err)
	}
	raw.sendPacket(commandHeader(2, testProfile), nil)

	raw.sendPacket(commandHeader(2, testProfile), []byte("real"))

	cs, err := p.TakeCommandStream()
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	cmd, err := cs.Next(testCtx(t))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got := string(cmd.Body()); got != "real" {
		t.Fatalf("unexpected command %q", got)
	}

	if got := metrics.read(ReadDroppedShortHeader); got != 1 {
		t.Fatalf("short-header drops=%d, want 1", got)
	}
	if got := metrics.read(ReadDroppedNoBody); got != 1 {
		t.Fatalf("no-body drops=%d, want 1", got)
	}
	if got := metrics.read(ReadDispatchedCommand); got != 1 {
		t.Fatalf("dispatched=%d, want 1", got)
	}
}

type brokenConn struct{}

func (brokenConn) ReadMessage([]byte) (int, error)    { return 0, errors.New("wire torn") }
func (brokenConn) WriteMessage(p []byte) (int, error) { return len(p), nil }
func (brokenConn) Close() error                       { return nil }

func TestReadFailureSurfacesErrPeerRead(t *testing.T) {
	testlog.Start(t)
	p := New(brokenConn{}, Config{ProfileID: testProfile})
	t.Cleanup(func() { _ = p.Close() })

	cs, err := p.TakeCommandStream()
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	_, err = cs.Next(testCtx(t))
	if !errors.Is(err, ErrPeerRead) {
		t.Fatalf("expected ErrPeerRead, got %v", err)
	}
	if errors.Is(err, ErrPeerDisconnected) {
		t.Fatalf("read failure should not read as clean disconnect")
	}
}

type writeBrokenConn struct {
	*transport.PipeConn
}

func (writeBrokenConn) WriteMessage([]byte) (int, error) { return 0, errors.New("wire torn") }

func TestSendFailureReleasesLabel(t *testing.T) {
	testlog.Start(t)
	ce, cr := transport.Pipe()
	p := New(writeBrokenConn{PipeConn: ce}, Config{ProfileID: testProfile})
	t.Cleanup(func() {
		_ = p.Close()
		_ = cr.Close()
	})

	_, err := p.SendCommand([]byte("doomed"))
	if !errors.Is(err, ErrPeerWrite) {
		t.Fatalf("expected ErrPeerWrite, got %v", err)
	}
	if got := p.Snapshot().LabelsInUse; got != 0 {
		t.Fatalf("label leaked by failed send: %d in use", got)
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type timeoutThenConn struct {
	*transport.PipeConn
	remaining int
}

func (c *timeoutThenConn) ReadMessage(buf []byte) (int, error) {
	if c.remaining > 0 {
		c.remaining--
		return 0, timeoutError{}
	}
	return c.PipeConn.ReadMessage(buf)
}

func TestReadTimeoutsReArmTheLoop(t *testing.T) {
	testlog.Start(t)
	ce, cr := transport.Pipe()
	p := New(&timeoutThenConn{PipeConn: ce, remaining: 3}, Config{ProfileID: testProfile})
	t.Cleanup(func() {
		_ = p.Close()
		_ = cr.Close()
	})
	raw := &rawEnd{t: t, mc: cr}

	raw.sendPacket(commandHeader(0, testProfile), []byte("after timeouts"))

	cs, err := p.TakeCommandStream()
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	cmd, err := cs.Next(testCtx(t))
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got := string(cmd.Body()); got != "after timeouts" {
		t.Fatalf("unexpected command %q", got)
	}
}

func TestNextCancellationLeavesQueueIntact(t *testing.T) {
	testlog.Start(t)
	p, raw := newEngineAndRaw(t, Config{ProfileID: testProfile})

	cs, err := p.TakeCommandStream()
	if err != nil {
		t.Fatalf("take: %v", err)
	}

	blocked := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, err := cs.Next(ctx)
		blocked <- err
	}()
	cancel()
	if err := <-blocked; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	raw.sendPacket(commandHeader(0, testProfile), []byte("kept"))
	cmd, err := cs.Next(testCtx(t))
	if err != nil {
		t.Fatalf("next after cancel: %v", err)
	}
	if got := string(cmd.Body()); got != "kept" {
		t.Fatalf("unexpected command %q", got)
	}
}

func TestOperationsOnClosedPeer(t *testing.T) {
	testlog.Start(t)
	p, raw := newEngineAndRaw(t, Config{ProfileID: testProfile})

	cs, err := p.TakeCommandStream()
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	raw.sendPacket(commandHeader(0, testProfile), []byte("job"))
	cmd, err := cs.Next(testCtx(t))
	if err != nil {
		t.Fatalf("next: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if _, err := p.SendCommand([]byte("x")); !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("send on closed peer: %v", err)
	}
	if err := cmd.SendResponse([]byte("x")); !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("respond on closed peer: %v", err)
	}
	_ = cs.Close()
	if _, err := p.TakeCommandStream(); !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("take on closed peer: %v", err)
	}
}

func TestStreamCloseIsTerminal(t *testing.T) {
	testlog.Start(t)
	p, _ := newEngineAndRaw(t, Config{ProfileID: testProfile})

	stream, err := p.SendCommand([]byte("x"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
	if _, err := stream.Next(testCtx(t)); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestFragmentedResponsePassthrough(t *testing.T) {
	testlog.Start(t)
	p, raw := newEngineAndRaw(t, Config{ProfileID: testProfile})

	stream, err := p.SendCommand([]byte("big ask"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	h, _ := raw.readPacket()
	label := h.Label

	start := protocol.Header{
		Label:         label,
		PacketType:    protocol.PacketTypeStart,
		MessageType:   protocol.MessageTypeResponse,
		FragmentCount: 3,
		ProfileID:     testProfile,
	}
	cont := protocol.Header{
		Label:       label,
		PacketType:  protocol.PacketTypeContinue,
		MessageType: protocol.MessageTypeResponse,
	}
	end := protocol.Header{
		Label:       label,
		PacketType:  protocol.PacketTypeEnd,
		MessageType: protocol.MessageTypeResponse,
	}
	raw.sendPacket(start, []byte("part-1"))
	raw.sendPacket(cont, []byte("part-2"))
	raw.sendPacket(end, []byte("part-3"))

	wantTypes := []protocol.PacketType{
		protocol.PacketTypeStart,
		protocol.PacketTypeContinue,
		protocol.PacketTypeEnd,
	}
	for i, wantType := range wantTypes {
		pkt, err := stream.Next(testCtx(t))
		if err != nil {
			t.Fatalf("next fragment %d: %v", i, err)
		}
		if pkt.Header().PacketType != wantType {
			t.Fatalf("fragment %d type %s, want %s", i, pkt.Header().PacketType, wantType)
		}
		want := fmt.Sprintf("part-%d", i+1)
		if got := string(pkt.Body()); got != want {
			t.Fatalf("fragment %d body %q, want %q", i, got, want)
		}
		if i == 0 && pkt.Header().FragmentCount != 3 {
			t.Fatalf("fragment count %d, want 3", pkt.Header().FragmentCount)
		}
	}
}
