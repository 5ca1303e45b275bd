package server

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"io"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/itzg/mc-legacy-forwarder/forwarding"
	"github.com/itzg/mc-legacy-forwarder/mcproto"
	"github.com/pires/go-proxyproto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	handshakeTimeout         = 5 * time.Second
	defaultForwardingTimeout = 5 * time.Second
	backendDialTimeout       = 5 * time.Second
	disconnectWriteTimeout   = time.Second

	// serverbound frames held back while the forwarding response is outstanding
	maxPendingFrames = 16
	maxPendingBytes  = 64 * 1024
)

var noDeadline time.Time

// Phase is the position of a session in its lifecycle. Phases only ever move forward.
type Phase int

const (
	PhaseAccepted Phase = iota
	PhaseTrustChecked
	PhaseHandshakeRead
	PhaseStatusPassthrough
	PhaseForwardingPending
	PhaseForwardingVerified
	PhaseLegacyHandshakeSent
	PhaseRelaying
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAccepted:
		return "accepted"
	case PhaseTrustChecked:
		return "trust-checked"
	case PhaseHandshakeRead:
		return "handshake-read"
	case PhaseStatusPassthrough:
		return "status-passthrough"
	case PhaseForwardingPending:
		return "forwarding-pending"
	case PhaseForwardingVerified:
		return "forwarding-verified"
	case PhaseLegacyHandshakeSent:
		return "legacy-handshake-sent"
	case PhaseRelaying:
		return "relaying"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type session struct {
	id         uint64
	connector  *Connector
	snapshot   *Snapshot
	upstream   net.Conn
	reader     *bufio.Reader
	clientAddr net.Addr
	logger     *logrus.Entry

	phase Phase
	// failedIn is the phase an error was detected in
	failedIn Phase

	protocolVersion mcproto.ProtocolVersion
	handshake       *mcproto.Handshake
	rawHandshake    []byte
	loginStart      *mcproto.LoginStart
	messageID       int32
	verification    *forwarding.Verification
	payload         *forwarding.Payload

	pending      [][]byte
	pendingBytes int

	backend net.Conn
}

func newSession(id uint64, connector *Connector, snapshot *Snapshot, upstream net.Conn) *session {
	clientAddr := upstream.RemoteAddr()
	return &session{
		id:           id,
		connector:    connector,
		snapshot:     snapshot,
		upstream:     upstream,
		reader:       bufio.NewReader(upstream),
		clientAddr:   clientAddr,
		logger:       logrus.WithField("client", clientAddr).WithField("session", id),
		phase:        PhaseAccepted,
		verification: snapshot.Verifier.NewVerification(),
	}
}

// run drives the session until it is relaying, then relays until either side is done.
// Both connections are closed when it returns.
func (s *session) run(ctx context.Context) error {
	defer s.close()

	for s.phase != PhaseRelaying {
		next, err := s.step(ctx)
		if err != nil {
			s.failedIn = s.phase
			return err
		}
		if err := s.advance(next); err != nil {
			s.failedIn = s.phase
			return err
		}
	}

	return s.relay(ctx)
}

func (s *session) step(ctx context.Context) (Phase, error) {
	switch s.phase {
	case PhaseAccepted:
		return s.checkTrust()
	case PhaseTrustChecked:
		return s.readHandshake()
	case PhaseHandshakeRead:
		return s.dispatch()
	case PhaseStatusPassthrough:
		return s.passthroughStatus(ctx)
	case PhaseForwardingPending:
		return s.awaitForwarding()
	case PhaseForwardingVerified:
		return s.sendLegacyHandshake(ctx)
	case PhaseLegacyHandshakeSent:
		return PhaseRelaying, nil
	default:
		return PhaseClosed, errors.Wrapf(ErrProtocolViolation, "no step for phase %s", s.phase)
	}
}

func (s *session) advance(next Phase) error {
	if next <= s.phase {
		return errors.Wrapf(ErrProtocolViolation, "session cannot move from %s to %s", s.phase, next)
	}
	s.logger.
		WithField("from", s.phase).
		WithField("to", next).
		Trace("Session phase changed")
	s.phase = next
	return nil
}

func (s *session) close() {
	s.phase = PhaseClosed
	if s.backend != nil {
		_ = s.backend.Close()
	}
	_ = s.upstream.Close()
}

func (s *session) checkTrust() (Phase, error) {
	if !s.snapshot.TrustGate.Trusted(s.clientAddr) {
		return PhaseClosed, ErrConnectionRejected
	}
	return PhaseTrustChecked, nil
}

// readPacket reads one whole packet and also returns the exact bytes it was read from
func (s *session) readPacket() (*mcproto.Packet, []byte, error) {
	raw := new(bytes.Buffer)
	packet, err := mcproto.ReadPacket(io.TeeReader(s.reader, raw), s.clientAddr)
	return packet, raw.Bytes(), err
}

func (s *session) readError(err error, what string) error {
	if isIoError(err) {
		return errors.Wrapf(err, "failed to read %s", what)
	}
	return protocolViolation(err, "failed to read "+what)
}

func (s *session) readHandshake() (Phase, error) {
	if err := s.upstream.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return PhaseClosed, errors.Wrap(err, "failed to set read deadline")
	}

	packet, raw, err := s.readPacket()
	if err != nil {
		return PhaseClosed, s.readError(err, "handshake")
	}
	if packet.PacketID != mcproto.PacketIdHandshake {
		return PhaseClosed, protocolViolation(
			errors.Wrapf(mcproto.ErrUnexpectedPacketID, "got %#x", packet.PacketID), "expected handshake")
	}

	handshake, err := mcproto.DecodeHandshake(packet.Data)
	if err != nil {
		return PhaseClosed, protocolViolation(err, "invalid handshake")
	}
	switch handshake.NextState {
	case mcproto.StateStatus, mcproto.StateLogin:
	default:
		return PhaseClosed, errors.Wrapf(ErrProtocolViolation, "unsupported next state %s", handshake.NextState)
	}

	s.handshake = handshake
	s.protocolVersion = handshake.ProtocolVersion
	s.rawHandshake = raw

	s.logger.
		WithField("protocolVersion", handshake.ProtocolVersion).
		WithField("server", serverHost(handshake.ServerAddress)).
		WithField("nextState", handshake.NextState).
		Debug("Got handshake")
	return PhaseHandshakeRead, nil
}

// dispatch routes status sessions straight through. Login sessions read the Login Start and ask the
// proxy for the signed player info.
func (s *session) dispatch() (Phase, error) {
	if s.handshake.NextState == mcproto.StateStatus {
		return PhaseStatusPassthrough, nil
	}

	packet, _, err := s.readPacket()
	if err != nil {
		return PhaseClosed, s.readError(err, "login start")
	}
	if packet.PacketID != mcproto.PacketIdLoginStart {
		return PhaseClosed, protocolViolation(
			errors.Wrapf(mcproto.ErrUnexpectedPacketID, "got %#x", packet.PacketID), "expected login start")
	}
	loginStart, err := mcproto.DecodeLoginStart(s.protocolVersion, packet.Data)
	if err != nil {
		return PhaseClosed, protocolViolation(err, "invalid login start")
	}
	s.loginStart = loginStart

	s.messageID, err = newMessageID()
	if err != nil {
		return PhaseClosed, errors.Wrap(err, "failed to generate message id")
	}

	request, err := mcproto.EncodeLoginPluginRequest(&mcproto.LoginPluginRequest{
		MessageID: s.messageID,
		Channel:   forwarding.Channel,
		Data:      []byte{forwarding.MaxSupportedForwardingVersion},
	})
	if err != nil {
		return PhaseClosed, err
	}
	if _, err := s.upstream.Write(request); err != nil {
		return PhaseClosed, errors.Wrap(err, "failed to send forwarding request")
	}

	s.logger.
		WithField("player", loginStart.Name).
		Debug("Requested player info from proxy")
	return PhaseForwardingPending, nil
}

func newMessageID() (int32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:]) & 0x7FFFFFFF), nil
}

// awaitForwarding waits for the answer to the player info request. Other frames that arrive in the
// meantime are kept, in order, for the backend.
func (s *session) awaitForwarding() (Phase, error) {
	timeout := s.snapshot.ForwardingTimeout
	if err := s.upstream.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return PhaseClosed, errors.Wrap(err, "failed to set read deadline")
	}

	for {
		packet, raw, err := s.readPacket()
		if err != nil {
			if isTimeout(err) {
				return PhaseClosed, errors.Wrapf(forwarding.ErrForwardingTimeout, "no response after %s", timeout)
			}
			return PhaseClosed, s.readError(err, "forwarding response")
		}

		if packet.PacketID != mcproto.PacketIdLoginPluginResponse {
			if err := s.holdPending(raw); err != nil {
				return PhaseClosed, err
			}
			continue
		}

		response, err := mcproto.DecodeLoginPluginResponse(packet.Data)
		if err != nil {
			return PhaseClosed, protocolViolation(err, "invalid login plugin response")
		}
		if response.MessageID != int(s.messageID) {
			return PhaseClosed, errors.Wrapf(forwarding.ErrForwardingUnsupported, "response for message id %d", response.MessageID)
		}
		if !response.Successful {
			return PhaseClosed, errors.Wrap(forwarding.ErrForwardingUnsupported, "proxy did not understand the player info request")
		}

		payload, err := s.verification.Verify(response.Data)
		if err != nil {
			s.connector.metrics.Verifications.With("result", errorType(err)).Add(1)
			return PhaseClosed, err
		}
		s.connector.metrics.Verifications.With("result", "verified").Add(1)
		s.payload = payload
		s.logger = s.logger.
			WithField("player", payload.Username).
			WithField("playerUuid", payload.PlayerUuid)
		s.logger.
			WithField("clientAddress", payload.ClientAddress).
			Debug("Verified player info")

		if !s.snapshot.PlayerAccess.ServerAllowsPlayer(serverHost(s.handshake.ServerAddress), PlayerInfoFromPayload(payload)) {
			s.disconnect("You are not allowed to join this server")
			return PhaseClosed, ErrPlayerDenied
		}

		s.dropDuplicateResponses()
		return PhaseForwardingVerified, nil
	}
}

// dropDuplicateResponses discards further answers to the player info request that are already buffered
// right behind the verified one. A backend never asked for them and would end the login. They are not verified.
func (s *session) dropDuplicateResponses() {
	for s.reader.Buffered() > 0 {
		buffered, err := s.reader.Peek(s.reader.Buffered())
		if err != nil {
			return
		}
		frame, n, err := mcproto.DecodeFrame(buffered, mcproto.MaxFrameLength)
		if err != nil {
			return
		}
		body := bytes.NewBuffer(frame.Payload)
		packetID, err := mcproto.ReadVarInt(body)
		if err != nil || packetID != mcproto.PacketIdLoginPluginResponse {
			return
		}
		response, err := mcproto.DecodeLoginPluginResponse(body.Bytes())
		if err != nil || response.MessageID != int(s.messageID) {
			return
		}
		if _, err := s.reader.Discard(n); err != nil {
			return
		}
		s.logger.Debug("Dropped duplicate player info response")
	}
}

func (s *session) holdPending(raw []byte) error {
	if len(s.pending) >= maxPendingFrames || s.pendingBytes+len(raw) > maxPendingBytes {
		return errors.Wrapf(ErrProtocolViolation, "more than %d frames or %d bytes before forwarding response",
			maxPendingFrames, maxPendingBytes)
	}
	s.pending = append(s.pending, append([]byte(nil), raw...))
	s.pendingBytes += len(raw)
	return nil
}

// sendLegacyHandshake opens the backend connection and writes the rewritten handshake, the Login Start
// carrying the verified identity and any held back frames, in that order.
func (s *session) sendLegacyHandshake(ctx context.Context) (Phase, error) {
	rewritten, err := s.snapshot.Encoder.RewriteHandshake(s.handshake, s.payload)
	if err != nil {
		return PhaseClosed, err
	}
	handshakeFrame, err := mcproto.EncodeHandshake(rewritten)
	if err != nil {
		return PhaseClosed, err
	}
	loginStartFrame, err := mcproto.EncodeLoginStart(s.protocolVersion, &mcproto.LoginStart{
		Name:          s.payload.Username,
		PlayerUuid:    s.payload.PlayerUuid,
		SignatureData: s.loginStart.SignatureData,
	})
	if err != nil {
		return PhaseClosed, err
	}

	var out bytes.Buffer
	out.Write(handshakeFrame)
	out.Write(loginStartFrame)
	for _, frame := range s.pending {
		out.Write(frame)
	}
	s.pending = nil

	if err := s.dialBackend(ctx); err != nil {
		return PhaseClosed, err
	}
	if _, err := s.backend.Write(out.Bytes()); err != nil {
		return PhaseClosed, errors.Wrap(err, "failed to write legacy handshake to backend")
	}

	s.logger.
		WithField("backend", s.snapshot.Backend).
		Debug("Sent legacy forwarding handshake")
	return PhaseLegacyHandshakeSent, nil
}

func (s *session) passthroughStatus(ctx context.Context) (Phase, error) {
	if err := s.dialBackend(ctx); err != nil {
		return PhaseClosed, err
	}

	amount, err := s.backend.Write(s.rawHandshake)
	if err != nil {
		return PhaseClosed, errors.Wrap(err, "failed to write handshake to backend")
	}
	s.logger.WithField("amount", amount).Debug("Relayed status handshake to backend")
	return PhaseRelaying, nil
}

func (s *session) dialBackend(ctx context.Context) error {
	backendHostPort := s.snapshot.Backend
	dialer := net.Dialer{Timeout: backendDialTimeout}
	backendConn, err := dialer.DialContext(ctx, "tcp", backendHostPort)
	if err != nil {
		s.logger.
			WithError(err).
			WithField("backend", backendHostPort).
			Warn("Unable to connect to backend")
		s.connector.notifier().NotifyFailedBackendConnection(ctx, s.clientAddr, s.serverAddress(),
			PlayerInfoFromPayload(s.payload), backendHostPort, err)
		return errors.Wrapf(ErrBackendUnreachable, "%v", err)
	}
	s.backend = backendConn

	if tcpConn, ok := backendConn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	s.connector.metrics.ConnectionsBackend.With("next_state", s.handshake.NextState.String()).Add(1)

	if s.snapshot.UseProxyProtocol {
		header := proxyproto.HeaderProxyFromAddrs(2, s.proxySourceAddr(), backendConn.RemoteAddr())
		if _, err := header.WriteTo(backendConn); err != nil {
			s.logger.
				WithError(err).
				WithField("clientAddr", header.SourceAddr).
				WithField("destAddr", header.DestinationAddr).
				Error("Failed to write PROXY header")
			return errors.Wrap(err, "failed to write PROXY header")
		}
	}

	if s.payload != nil {
		s.connector.notifier().NotifyConnected(ctx, s.clientAddr, s.serverAddress(),
			PlayerInfoFromPayload(s.payload), backendHostPort)
	}
	return nil
}

// proxySourceAddr is the verified player address when there is one, otherwise the proxy's
func (s *session) proxySourceAddr() net.Addr {
	if s.payload != nil {
		if ip, err := netip.ParseAddr(s.payload.ClientAddress); err == nil {
			return net.TCPAddrFromAddrPort(netip.AddrPortFrom(ip.Unmap(), 0))
		}
	}
	return s.clientAddr
}

func (s *session) relay(ctx context.Context) error {
	if err := s.upstream.SetReadDeadline(noDeadline); err != nil {
		return errors.Wrap(err, "failed to clear read deadline")
	}

	err := s.connector.pumpConnections(ctx, s.clientAddr, s.reader, s.upstream, s.backend)

	if s.payload != nil {
		s.connector.notifier().NotifyDisconnected(ctx, s.clientAddr, s.serverAddress(),
			PlayerInfoFromPayload(s.payload), s.snapshot.Backend)
	}
	return err
}

// disconnect sends a Login Disconnect, which is only valid while the upstream is in the login state
func (s *session) disconnect(reason string) {
	frame, err := mcproto.EncodeLoginDisconnect(reason)
	if err != nil {
		return
	}
	_ = s.upstream.SetWriteDeadline(time.Now().Add(disconnectWriteTimeout))
	if _, err := s.upstream.Write(frame); err != nil {
		s.logger.WithError(err).Debug("Failed to send disconnect")
	}
}

func (s *session) serverAddress() string {
	if s.handshake == nil {
		return ""
	}
	return serverHost(s.handshake.ServerAddress)
}

func (s *session) isLogin() bool {
	return s.handshake != nil && s.handshake.NextState == mcproto.StateLogin
}

// serverHost drops mod loader suffixes and the trailing dot of fully qualified SRV names
func serverHost(serverAddress string) string {
	host, _, _ := strings.Cut(serverAddress, "\x00")
	return strings.TrimSuffix(host, ".")
}
