/*
Package chat contains the server-side core of the group messaging engine:
group hubs, connected clients, and the frame protocol spoken over the
real-time channel.

This file defines the Group struct, the fan-out hub for a single group. It
tracks which connections are present, relays frames to every member except
the originator, announces presence at most once per physical connection, and
shuts itself down after a period with no one connected.
*/
package chat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"collabchat/internal/app/member"
	"collabchat/internal/pkg/errs"
	"collabchat/internal/pkg/logx"
)

const broadcastChannelBuffer = 1024

// GroupInactivityTimeout is the duration after which a hub with no connected
// members shuts down. Durable state is unaffected; the hub is recreated on
// the next connection.
const GroupInactivityTimeout = 5 * time.Minute

// presence is a registration request: a connection announcing itself in the group.
type presence struct {
	client *Client

	// rejoin marks a presence announcement following a reconnect.
	rejoin bool
}

// outbound pairs a frame with the user it must not be delivered to (its originator).
type outbound struct {
	frame         Frame
	excludeUserID string
}

// GroupCleanupMsg notifies the Manager that a hub has stopped and can be removed.
type GroupCleanupMsg struct {
	GroupCode string
}

// Group represents the live fan-out hub for a single group.
type Group struct {
	// Code is the group's opaque identifier.
	Code string

	// a map of currently connected clients, keyed by their user ID.
	clients map[string]*Client

	// a buffered channel of frames to be relayed to group members.
	broadcast chan outbound

	// a channel for connections announcing presence in the group.
	register chan presence

	// a channel for connections leaving the group.
	unregister chan *Client

	// a write-only channel used to notify the Manager to clean up this hub.
	cleanupChan chan<- GroupCleanupMsg

	// used to signal the Group to stop its Run loop immediately.
	stopChan chan struct{}

	// the timer used to track hub inactivity.
	shutdownTimer *time.Timer

	// mu protects access to the clients map.
	mu sync.RWMutex

	// structured logger with group context.
	logger zerolog.Logger
}

// NewGroup creates and initializes a new Group hub.
func NewGroup(code string, cleanupChan chan<- GroupCleanupMsg) *Group {
	groupLogger := logx.Logger().With().
		Str("group_code", code).
		Logger()

	return &Group{
		Code:          code,
		clients:       make(map[string]*Client),
		broadcast:     make(chan outbound, broadcastChannelBuffer),
		register:      make(chan presence),
		unregister:    make(chan *Client),
		cleanupChan:   cleanupChan,
		stopChan:      make(chan struct{}),
		shutdownTimer: time.NewTimer(GroupInactivityTimeout),
		logger:        groupLogger,
	}
}

// Stop sends a signal to immediately terminate the Group's Run loop.
func (g *Group) Stop() {
	g.logger.Info().Msg("Received stop signal. Stopping group hub immediately.")

	select {
	case <-g.stopChan:
	default:
		close(g.stopChan)
	}
}

// Run starts the main event loop for the Group.
// It handles presence registration, deregistration, frame fan-out, and hub shutdown.
func (g *Group) Run() {
	defer func() {
		g.logger.Info().Msg("Group Run loop finished. Notifying Manager for cleanup.")

		if g.shutdownTimer != nil {
			g.shutdownTimer.Stop()
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					logx.Warn("Recovered from panic during Manager cleanup notification (channel likely closed).")
				}
			}()

			select {
			case g.cleanupChan <- GroupCleanupMsg{GroupCode: g.Code}:
				g.logger.Info().Msg("Sent cleanup notification to Manager.")
			default:
				g.logger.Warn().Msg("Manager cleanup channel blocked/full. Skipping cleanup notification.")
			}
		}()

		g.mu.Lock()
		g.clients = make(map[string]*Client)
		g.mu.Unlock()
	}()

	timerChan := g.shutdownTimer.C

	for {
		select {
		case p := <-g.register:
			g.handleRegister(p)

		case client := <-g.unregister:
			g.handleUnregister(client)

		case out := <-g.broadcast:
			g.fanOut(out)

		case <-timerChan:
			g.logger.Info().Msgf("Group inactivity timeout (%s) reached. Shutting down hub.", GroupInactivityTimeout)
			return

		case <-g.stopChan:
			g.logger.Info().Msg("Group hub forced stop initiated.")
			return
		}
	}
}

// handleRegister adds a connection to the hub and announces it to the other
// members. The announcement happens at most once per physical connection:
// a repeated registration of the same connection is a silent no-op, and a
// new connection for an already-present user replaces (kicks) the old one
// and announces as a rejoin.
func (g *Group) handleRegister(p presence) {
	client := p.client
	userID := client.member.UserID

	g.mu.Lock()

	existing, present := g.clients[userID]

	if present && existing == client {
		g.mu.Unlock()
		g.logger.Debug().Str("client_id", userID).Msg("Repeated registration for same connection ignored.")
		return
	}

	rejoined := p.rejoin

	if present {
		g.logger.Warn().
			Str("client_id", userID).
			Msg("User already connected. Closing old connection for replacement.")

		existing.Kick(errs.NewError(errs.ErrSessionKicked).Message)
		rejoined = true
	}

	if g.shutdownTimer != nil {
		if g.shutdownTimer.Stop() {
			select {
			case <-g.shutdownTimer.C:
			default:
			}
		}
	}

	g.clients[userID] = client

	g.logger.Info().
		Str("client_id", userID).
		Int("total_online", len(g.clients)).
		Bool("rejoined", rejoined).
		Msg("Connection joined group hub.")

	g.mu.Unlock()

	frame, err := NewFrame(TypeUserJoined, g.Code, member.System, UserJoinedPayload{
		Member:   client.member,
		Rejoined: rejoined,
	})
	if err != nil {
		g.logger.Error().
			Str("client_id", userID).
			Err(err).
			Msg("Failed to build USER_JOINED frame.")
		return
	}

	select {
	case g.broadcast <- outbound{frame: frame, excludeUserID: userID}:
	default:
		g.logger.Warn().Msg("Broadcast channel full during USER_JOINED.")
	}
}

// handleUnregister removes a connection from the hub, ignoring stale
// unregisters from connections that were already replaced.
func (g *Group) handleUnregister(client *Client) {
	userID := client.member.UserID

	g.mu.Lock()
	defer g.mu.Unlock()

	if currentClient, ok := g.clients[userID]; ok && currentClient == client {
		delete(g.clients, userID)

		g.logger.Info().
			Str("client_id", userID).
			Int("total_online", len(g.clients)).
			Msg("Connection left group hub.")
	} else if ok && currentClient != client {
		g.logger.Info().
			Str("stale_client_id", userID).
			Msg("Ignoring unregister for STALE connection.")
	} else {
		g.logger.Warn().
			Str("client_id", userID).
			Msg("Unregister for unknown/already removed connection.")
	}

	if len(g.clients) == 0 {
		g.logger.Info().Msg("Group hub is empty. Arming inactivity shutdown timer.")
		if g.shutdownTimer.Stop() {
			select {
			case <-g.shutdownTimer.C:
			default:
			}
		}
		g.shutdownTimer.Reset(GroupInactivityTimeout)
	}
}

// fanOut delivers a frame to every connected member except the originator.
func (g *Group) fanOut(out outbound) {
	frameBytes, err := json.Marshal(out.frame)
	if err != nil {
		g.logger.Error().
			Str("frame_type", string(out.frame.Type)).
			Err(err).
			Msg("Error marshaling frame for fan-out.")
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for userID, client := range g.clients {
		if userID == out.excludeUserID {
			continue
		}

		if !client.enqueue(frameBytes) {
			g.logger.Warn().
				Str("client_id", userID).
				Msg("Client send channel full or closed, frame dropped for this member.")
		}
	}
}

// RegisterClient queues a presence announcement for the given connection.
func (g *Group) RegisterClient(client *Client, rejoin bool) {
	select {
	case g.register <- presence{client: client, rejoin: rejoin}:
	case <-g.stopChan:
		g.logger.Warn().Msg("Registration after hub stop ignored.")
	}
}

// Broadcast queues a frame for fan-out to every member except excludeUserID.
// Delivery is best-effort: a full hub drops the frame rather than block the caller.
func (g *Group) Broadcast(frame Frame, excludeUserID string) {
	select {
	case g.broadcast <- outbound{frame: frame, excludeUserID: excludeUserID}:
	default:
		g.logger.Warn().
			Str("frame_type", string(frame.Type)).
			Msg("Broadcast channel full, frame dropped.")
	}
}

// OnlineMembers returns a snapshot of the members currently connected to the hub.
func (g *Group) OnlineMembers() []member.Member {
	g.mu.RLock()
	defer g.mu.RUnlock()

	online := make([]member.Member, 0, len(g.clients))
	for _, client := range g.clients {
		online = append(online, client.member)
	}

	return online
}
