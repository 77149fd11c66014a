/*
Package client implements the client side of the group messaging engine.

This file defines the Session: exactly one authenticated connection to the
real-time channel per active user, with explicit lifecycle. The Session owns
the reconnect policy (exponential backoff with jitter, capped), re-announces
presence in every joined group after a reconnect, and queues outbound frames
locally while the transport is down so Send never blocks its caller.
*/
package client

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"collabchat/internal/app/chat"
	"collabchat/internal/app/member"
	"collabchat/internal/pkg/logx"
)

// SessionState describes the connection lifecycle.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateOpen
	StateReconnecting
	StateClosed
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateOpen:
		return "Open"
	case StateReconnecting:
		return "Reconnecting"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

const (
	// defaultBackoffMin is the initial reconnect delay.
	defaultBackoffMin = 1 * time.Second

	// defaultBackoffMax caps the reconnect delay.
	defaultBackoffMax = 30 * time.Second

	// defaultPendingLimit bounds the local retry queue for frames sent while
	// the transport is down. The oldest frame is dropped on overflow.
	defaultPendingLimit = 128

	// outboundBuffer is the capacity of the writer goroutine's frame queue.
	outboundBuffer = 256

	// dialTimeout bounds each individual reconnect attempt.
	dialTimeout = 10 * time.Second
)

// Handler receives inbound frames of a subscribed type.
type Handler func(chat.Frame)

// SessionConfig carries everything needed to open a Session.
type SessionConfig struct {
	// URL of the real-time channel endpoint.
	URL string

	// Token is the caller-supplied identity token. The Session never
	// refreshes it; a rejected token surfaces as ErrReauthRequired.
	Token string

	// Identity is the member this session speaks for.
	Identity member.Member

	// Dial opens the transport. Defaults to WebSocketDialer().
	Dial Dialer

	// BackoffMin/BackoffMax bound the reconnect delay. Defaults 1s/30s.
	BackoffMin time.Duration
	BackoffMax time.Duration

	// PendingLimit bounds the local retry queue. Default 128 frames.
	PendingLimit int

	// OnStateChange, if set, is invoked on every lifecycle transition.
	OnStateChange func(SessionState)

	// OnError, if set, receives unrecoverable session errors
	// (ErrReauthRequired after a transport drop).
	OnError func(error)
}

// Session is one authenticated real-time connection, exclusively owned by
// its creator. Consumers read events through On handlers and never touch the
// transport directly.
type Session struct {
	cfg SessionConfig

	mu        sync.Mutex
	state     SessionState
	transport Transport

	// joined is the rejoin-on-reconnect set: group code to display name.
	joined map[string]string

	// pending holds frames submitted while the transport was down.
	pending [][]byte

	handlers map[chat.FrameType][]Handler

	outbound chan []byte
	closed   chan struct{}
	wg       sync.WaitGroup

	logger zerolog.Logger
}

// Open dials the real-time channel and returns an Open session. A rejected
// identity token returns ErrReauthRequired: the caller must refresh the token
// and call Open again; this layer does not refresh tokens itself.
func Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.Dial == nil {
		cfg.Dial = WebSocketDialer()
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = defaultBackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.PendingLimit <= 0 {
		cfg.PendingLimit = defaultPendingLimit
	}

	s := &Session{
		cfg:      cfg,
		state:    StateConnecting,
		joined:   make(map[string]string),
		handlers: make(map[chat.FrameType][]Handler),
		outbound: make(chan []byte, outboundBuffer),
		closed:   make(chan struct{}),
		logger: logx.Logger().With().
			Str("component", "Session").
			Str("user_id", cfg.Identity.UserID).
			Logger(),
	}

	transport, err := cfg.Dial(ctx, cfg.URL, cfg.Token)
	if err != nil {
		if errors.Is(err, ErrReauthRequired) {
			return nil, ErrReauthRequired
		}
		return nil, err
	}

	s.transport = transport
	s.setState(StateOpen)

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()

	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next SessionState) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(next)
	}
}

// On registers a handler for inbound frames of the given type. Multiple
// handlers per type are allowed and run in registration order, so the UI and
// the Reconciler can observe the same stream.
func (s *Session) On(frameType chat.FrameType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[frameType] = append(s.handlers[frameType], h)
}

// JoinGroup announces presence in a group and adds it to the
// rejoin-on-reconnect set. Idempotent: joining an already-joined group is a
// no-op that sends nothing.
func (s *Session) JoinGroup(groupID, displayName string) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if _, ok := s.joined[groupID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.joined[groupID] = displayName
	s.mu.Unlock()

	frame, err := chat.NewFrame(chat.TypeJoinGroup, groupID, s.cfg.Identity, chat.JoinGroupPayload{
		DisplayName: displayName,
	})
	if err != nil {
		return err
	}

	s.Send(frame)
	return nil
}

// LeaveGroup removes the group from the rejoin-on-reconnect set. Frames for
// the group are no longer re-announced after reconnects; live events still in
// flight are the Reconciler's responsibility to drop.
func (s *Session) LeaveGroup(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joined, groupID)
}

// SendMessage posts a chat message. The dedup key must stay the same across
// retries of one logical message.
func (s *Session) SendMessage(groupID, body, dedupKey string) error {
	if dedupKey == "" {
		return errors.New("client: dedup key is required")
	}

	frame, err := chat.NewFrame(chat.TypeSendMessage, groupID, s.cfg.Identity, chat.SendMessagePayload{
		Body:     body,
		DedupKey: dedupKey,
	})
	if err != nil {
		return err
	}

	s.Send(frame)
	return nil
}

// SendTyping transmits a typing-state change, best-effort.
func (s *Session) SendTyping(groupID string, isTyping bool) {
	frame, err := chat.NewFrame(chat.TypeTyping, groupID, s.cfg.Identity, chat.TypingPayload{
		IsTyping: isTyping,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to build TYPING frame.")
		return
	}

	s.Send(frame)
}

// Send queues a frame for transmission. It never blocks: while the session is
// not Open the frame lands in the bounded local retry queue, flushed in order
// once the transport reopens.
func (s *Session) Send(frame chat.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal outbound frame.")
		return
	}

	s.mu.Lock()
	open := s.state == StateOpen
	s.mu.Unlock()

	if !open {
		s.queuePending(data)
		return
	}

	select {
	case s.outbound <- data:
	default:
		s.logger.Warn().Msg("Outbound queue full, frame moved to retry queue.")
		s.queuePending(data)
	}
}

// queuePending appends to the bounded retry queue, dropping the oldest frame
// on overflow.
func (s *Session) queuePending(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) >= s.cfg.PendingLimit {
		s.pending = s.pending[1:]
		s.logger.Warn().Msg("Retry queue full, oldest frame dropped.")
	}
	s.pending = append(s.pending, data)
}

// Close releases the transport and terminates both loops. Idempotent and
// safe on every exit path.
func (s *Session) Close() error {
	err := s.shutdown()
	s.wg.Wait()
	return err
}

// shutdown marks the session closed and releases the transport without
// waiting for the loops, so the read loop itself can trigger it.
func (s *Session) shutdown() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	transport := s.transport
	s.transport = nil
	close(s.closed)
	s.mu.Unlock()

	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(StateClosed)
	}

	if transport != nil {
		return transport.Close()
	}
	return nil
}

// readLoop consumes inbound frames and dispatches them to handlers. On a
// transport failure it runs the reconnect policy and resumes; it returns only
// when the session closes or authentication is rejected.
func (s *Session) readLoop() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		transport := s.transport
		s.mu.Unlock()

		if transport == nil {
			return
		}

		data, err := transport.ReadFrame()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}

			s.logger.Info().Err(err).Msg("Transport dropped, entering reconnect loop.")
			transport.Close()

			if !s.reconnect() {
				return
			}
			continue
		}

		s.dispatch(data)
	}
}

// dispatch parses a frame and fans it in to every registered handler for its type.
func (s *Session) dispatch(data []byte) {
	var frame chat.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.logger.Warn().Err(err).Msg("Server sent invalid frame JSON.")
		return
	}

	s.mu.Lock()
	handlers := make([]Handler, len(s.handlers[frame.Type]))
	copy(handlers, s.handlers[frame.Type])
	s.mu.Unlock()

	for _, h := range handlers {
		h(frame)
	}
}

// reconnect runs exponential backoff with jitter until a dial succeeds, the
// session closes, or the token is rejected. On success it installs the new
// transport, re-announces every joined group exactly once, and flushes the
// retry queue. Returns false when the read loop should exit.
func (s *Session) reconnect() bool {
	s.setState(StateReconnecting)

	backoff := s.cfg.BackoffMin

	for attempt := 1; ; attempt++ {
		select {
		case <-s.closed:
			return false
		case <-time.After(withJitter(backoff)):
		}

		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		transport, err := s.cfg.Dial(ctx, s.cfg.URL, s.cfg.Token)
		cancel()

		if err != nil {
			if errors.Is(err, ErrReauthRequired) {
				s.logger.Warn().Msg("Token rejected during reconnect. Session cannot self-heal.")
				if s.cfg.OnError != nil {
					s.cfg.OnError(ErrReauthRequired)
				}
				s.shutdown()
				return false
			}

			s.logger.Info().
				Err(err).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Reconnect attempt failed.")

			backoff = nextBackoff(backoff, s.cfg.BackoffMax)
			continue
		}

		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			transport.Close()
			return false
		}
		s.transport = transport
		s.mu.Unlock()

		s.setState(StateOpen)
		s.afterReconnect()

		s.logger.Info().Int("attempts", attempt).Msg("Reconnected.")
		return true
	}
}

// afterReconnect rebuilds server-side presence: one rejoin announcement per
// joined group, then the retry queue in submission order.
func (s *Session) afterReconnect() {
	s.mu.Lock()
	joined := make(map[string]string, len(s.joined))
	for groupID, displayName := range s.joined {
		joined[groupID] = displayName
	}
	flush := s.pending
	s.pending = nil
	s.mu.Unlock()

	for groupID, displayName := range joined {
		frame, err := chat.NewFrame(chat.TypeJoinGroup, groupID, s.cfg.Identity, chat.JoinGroupPayload{
			DisplayName: displayName,
			Rejoin:      true,
		})
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to build rejoin frame.")
			continue
		}
		s.Send(frame)
	}

	for _, data := range flush {
		select {
		case s.outbound <- data:
		default:
			s.queuePending(data)
		}
	}
}

// writeLoop serializes all transport writes. Frames that cannot be written
// return to the retry queue.
func (s *Session) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.closed:
			return

		case data := <-s.outbound:
			s.mu.Lock()
			transport := s.transport
			open := s.state == StateOpen
			s.mu.Unlock()

			if !open || transport == nil {
				s.queuePending(data)
				continue
			}

			if err := transport.WriteFrame(data); err != nil {
				s.logger.Warn().Err(err).Msg("Write failed, frame moved to retry queue.")
				s.queuePending(data)
			}
		}
	}
}

// nextBackoff doubles the delay up to the cap.
func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// withJitter spreads a delay over [d/2, d) so reconnecting clients do not
// stampede the server in lockstep.
func withJitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}
