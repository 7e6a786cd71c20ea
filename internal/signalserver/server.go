// Package signalserver is a development relay speaking the receiver's
// signaling protocol. A room has one receiver and any number of uniquely
// named senders; signals only travel between a room's receiver and its
// senders.
package signalserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"

	"github.com/Jeong-dawon/MultiFlexer/internal/signaling"
)

const (
	socketIDKey    = "socket_id"
	defaultRoom    = "main"
	maxMessageSize = 64 * 1024
)

type peer struct {
	id   string
	name string
}

type room struct {
	name     string
	receiver string
	senders  map[string]*peer
	order    []string
}

func newRoom(name string) *room {
	return &room{name: name, senders: make(map[string]*peer)}
}

func (r *room) list() []signaling.SenderEntry {
	list := make([]signaling.SenderEntry, 0, len(r.order))
	for _, id := range r.order {
		list = append(list, signaling.SenderEntry{ID: id, Name: r.senders[id].name})
	}
	return list
}

func (r *room) nameTaken(name string) bool {
	for _, p := range r.senders {
		if p.name == name {
			return true
		}
	}
	return false
}

func (r *room) removeSender(id string) {
	delete(r.senders, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

type outgoing struct {
	to  string
	env *signaling.Envelope
}

type Server struct {
	websocket *melody.Melody

	lock    sync.Mutex
	sockets map[string]*melody.Session
	// socket id -> room name
	members map[string]string
	rooms   map[string]*room
}

func New() *Server {
	s := &Server{
		websocket: melody.New(),
		sockets:   make(map[string]*melody.Session),
		members:   make(map[string]string),
		rooms:     make(map[string]*room),
	}
	s.websocket.Config.MaxMessageSize = maxMessageSize

	s.websocket.HandleConnect(s.handleConnect)
	s.websocket.HandleDisconnect(s.handleDisconnect)
	s.websocket.HandleMessage(s.handleMessage)
	s.websocket.HandleError(func(session *melody.Session, err error) {
		log.Error().Err(err).Str("service", "signalserver").Str("socketID", socketID(session)).Msg("error in websocket session")
	})

	return s
}

// Router is function for construct http router
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		keys := map[string]interface{}{socketIDKey: uuid.NewString()}
		if err := s.websocket.HandleRequestWithKeys(w, r, keys); err != nil {
			log.Error().Err(err).Str("service", "signalserver").Msg("can't handle request")
		}
	})

	return r
}

func (s *Server) Close() error {
	return s.websocket.Close()
}

func socketID(session *melody.Session) string {
	id, _ := session.Keys[socketIDKey].(string)
	return id
}

func (s *Server) handleConnect(session *melody.Session) {
	id := socketID(session)

	s.lock.Lock()
	s.sockets[id] = session
	s.lock.Unlock()

	log.Debug().Str("service", "signalserver").Str("socketID", id).Msg("socket connected")
}

func (s *Server) handleDisconnect(session *melody.Session) {
	id := socketID(session)

	s.lock.Lock()
	delete(s.sockets, id)
	out := s.leave(id)
	s.lock.Unlock()

	log.Debug().Str("service", "signalserver").Str("socketID", id).Msg("socket disconnected")
	s.flush(out)
}

func (s *Server) handleMessage(session *melody.Session, msg []byte) {
	id := socketID(session)

	var env signaling.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		log.Warn().Err(err).Str("service", "signalserver").Str("socketID", id).Msg("malformed frame")
		return
	}

	s.lock.Lock()
	var out []outgoing
	switch env.Event {
	case signaling.EventJoinRoom:
		out = s.join(id, &env)
	case signaling.EventShareRequest:
		out = s.shareRequest(id, env.Data)
	case signaling.EventSenderShareStarted:
		out = s.shareStarted(id, env.Data)
	case signaling.EventShareStopped:
		out = s.shareStopped(id)
	case signaling.EventSignal:
		out = s.signal(id, env.Data)
	case signaling.EventDelRoom:
		out = s.delRoom(id, env.Data)
	default:
		log.Warn().Str("service", "signalserver").Str("socketID", id).Str("event", env.Event).Msg("unknown event")
	}
	s.lock.Unlock()

	s.flush(out)
}

func (s *Server) join(id string, env *signaling.Envelope) []outgoing {
	var req signaling.JoinRoom
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return []outgoing{ack(id, env.ID, signaling.JoinAck{Message: "malformed join-room"})}
	}
	if req.Room == "" {
		req.Room = defaultRoom
	}

	// a socket lives in one room; a receiver joining its own room again
	// keeps it
	var out []outgoing
	if cur := s.roomOf(id); cur != nil && !(cur.name == req.Room && cur.receiver == id && req.Role == signaling.RoleReceiver) {
		out = s.leave(id)
	}

	r, ok := s.rooms[req.Room]
	if req.Role == signaling.RoleReceiver {
		if !ok {
			r = newRoom(req.Room)
			s.rooms[req.Room] = r
		}
		r.receiver = id
		s.members[id] = r.name

		log.Info().Str("service", "signalserver").Str("room", r.name).Str("socketID", id).Msg("receiver joined")
		out = append(out, ack(id, env.ID, signaling.JoinAck{Success: true, Name: req.Name}))
		return append(out, s.senderList(r)...)
	}

	if !ok || r.receiver == "" {
		return append(out, ack(id, env.ID, signaling.JoinAck{Message: "no receiver in room"}))
	}
	if req.Name != "" && r.nameTaken(req.Name) {
		return append(out, ack(id, env.ID, signaling.JoinAck{Message: "name already in use"}))
	}

	name := req.Name
	if name == "" {
		name = "Sender-" + id[:5]
	}
	r.senders[id] = &peer{id: id, name: name}
	r.order = append(r.order, id)
	s.members[id] = r.name

	log.Info().Str("service", "signalserver").Str("room", r.name).Str("socketID", id).Str("name", name).Msg("sender joined")

	out = append(out, s.senderList(r)...)
	out = append(out, event(id, signaling.EventJoinedRoom, map[string]string{"name": name}))
	return append(out, ack(id, env.ID, signaling.JoinAck{Success: true, Name: name}))
}

func (s *Server) shareRequest(id string, data json.RawMessage) []outgoing {
	var req signaling.ShareRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil
	}

	r := s.roomOf(id)
	if r == nil || r.receiver != id || r.senders[req.To] == nil {
		return nil
	}

	return []outgoing{event(req.To, signaling.EventShareRequest, signaling.ShareRequest{From: id})}
}

func (s *Server) shareStarted(id string, data json.RawMessage) []outgoing {
	r := s.roomOf(id)
	if r == nil || r.receiver == "" || r.senders[id] == nil {
		return nil
	}

	name := r.senders[id].name
	if name == "" {
		var entry signaling.SenderEntry
		_ = json.Unmarshal(data, &entry)
		name = entry.Name
	}

	out := []outgoing{event(r.receiver, signaling.EventShareStarted, signaling.SenderEntry{ID: id, Name: name})}
	return append(out, s.senderList(r)...)
}

func (s *Server) shareStopped(id string) []outgoing {
	r := s.roomOf(id)
	if r == nil || r.receiver == "" || r.senders[id] == nil {
		return nil
	}

	return []outgoing{event(r.receiver, signaling.EventShareStopped, signaling.SenderEntry{ID: id})}
}

// signal stamps the origin and forwards between the receiver and its
// senders only.
func (s *Server) signal(id string, data json.RawMessage) []outgoing {
	var sig signaling.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil
	}
	sig.From = id

	r := s.roomOf(id)
	if r == nil {
		return nil
	}

	switch {
	case r.senders[id] != nil:
		if r.receiver == "" {
			return nil
		}
		sig.To = r.receiver
	case r.receiver == id:
		if r.senders[sig.To] == nil {
			log.Debug().Str("service", "signalserver").Str("to", sig.To).Msg("signal to unknown sender dropped")
			return nil
		}
	default:
		return nil
	}

	return []outgoing{event(sig.To, signaling.EventSignal, sig)}
}

func (s *Server) delRoom(id string, data json.RawMessage) []outgoing {
	var req signaling.DelRoom
	if err := json.Unmarshal(data, &req); err != nil || req.Role != signaling.RoleReceiver {
		return nil
	}

	r := s.roomOf(id)
	if r == nil || r.receiver != id {
		return nil
	}

	return s.dissolve(r)
}

// leave removes the socket from its room.
func (s *Server) leave(id string) []outgoing {
	r := s.roomOf(id)
	delete(s.members, id)
	if r == nil {
		return nil
	}

	if r.receiver == id {
		return s.dissolve(r)
	}

	if r.senders[id] == nil {
		return nil
	}
	r.removeSender(id)

	if r.receiver == "" {
		return nil
	}
	out := []outgoing{event(r.receiver, signaling.EventSenderDisconnected, signaling.SenderEntry{ID: id})}
	return append(out, s.senderList(r)...)
}

func (s *Server) dissolve(r *room) []outgoing {
	out := make([]outgoing, 0, len(r.order))
	for _, sid := range r.order {
		out = append(out, event(sid, signaling.EventRoomDeleted, nil))
		delete(s.members, sid)
	}
	delete(s.members, r.receiver)
	delete(s.rooms, r.name)

	log.Info().Str("service", "signalserver").Str("room", r.name).Msg("room deleted")

	return out
}

func (s *Server) roomOf(id string) *room {
	name, ok := s.members[id]
	if !ok {
		return nil
	}
	return s.rooms[name]
}

func (s *Server) senderList(r *room) []outgoing {
	if r.receiver == "" {
		return nil
	}
	return []outgoing{event(r.receiver, signaling.EventSenderList, r.list())}
}

func (s *Server) flush(out []outgoing) {
	for _, o := range out {
		data, err := json.Marshal(o.env)
		if err != nil {
			log.Error().Err(err).Str("service", "signalserver").Msg("can't encode frame")
			continue
		}

		s.lock.Lock()
		session, ok := s.sockets[o.to]
		s.lock.Unlock()
		if !ok {
			continue
		}

		if err := session.Write(data); err != nil {
			log.Warn().Err(err).Str("service", "signalserver").Str("socketID", o.to).Msg("write failed")
		}
	}
}

func event(to, name string, payload interface{}) outgoing {
	env, err := signaling.NewEnvelope(name, payload)
	if err != nil {
		log.Error().Err(err).Str("service", "signalserver").Str("event", name).Msg("can't encode payload")
		env = &signaling.Envelope{Event: name}
	}
	return outgoing{to: to, env: env}
}

func ack(to, id string, reply signaling.JoinAck) outgoing {
	data, _ := json.Marshal(reply)
	return outgoing{to: to, env: &signaling.Envelope{Ack: id, Data: data}}
}
