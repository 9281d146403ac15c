package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Tyrowin/nexus-realtime/internal/events"
	"github.com/Tyrowin/nexus-realtime/internal/fanout"
	"github.com/Tyrowin/nexus-realtime/internal/rooms"
	"github.com/Tyrowin/nexus-realtime/internal/voice"
)

const maxInternalBody = 1 << 20

type deliverRequest struct {
	Message    events.Message `json:"message" validate:"required"`
	Room       string         `json:"room" validate:"required"`
	Recipients []string       `json:"recipients" validate:"dive,required"`
}

type updateRequest struct {
	Message events.Message `json:"message" validate:"required"`
	Room    string         `json:"room" validate:"required"`
}

type deleteRequest struct {
	ID   string `json:"id" validate:"required"`
	Room string `json:"room" validate:"required"`
}

type broadcastRequest struct {
	Room  string          `json:"room" validate:"required"`
	Event events.Name     `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data"`
}

type presenceResponse struct {
	Online []string `json:"online"`
}

type voiceResponse struct {
	ChannelID    string              `json:"channelId"`
	Participants []voice.Participant `json:"participants"`
}

// requireInternalToken guards the internal API with the shared bearer token.
// Without a configured token the API is open.
func (g *Gateway) requireInternalToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.InternalToken != "" {
			token := extractToken(r)
			if subtle.ConstantTimeCompare([]byte(token), []byte(g.cfg.InternalToken)) != 1 {
				http.Error(w, "Invalid internal token", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (g *Gateway) handleDeliver(w http.ResponseWriter, r *http.Request) {
	var req deliverRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	room, ok := parseRoom(w, req.Room)
	if !ok {
		return
	}
	if err := g.fanout.Deliver(r.Context(), req.Message, room, req.Recipients); err != nil {
		g.writeFanoutError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (g *Gateway) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	room, ok := parseRoom(w, req.Room)
	if !ok {
		return
	}
	if err := g.fanout.Update(r.Context(), req.Message, room); err != nil {
		g.writeFanoutError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	room, ok := parseRoom(w, req.Room)
	if !ok {
		return
	}
	if err := g.fanout.Delete(r.Context(), req.ID, room); err != nil {
		g.writeFanoutError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleBroadcast relays a pass-through event from the REST layer verbatim.
func (g *Gateway) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	if !events.IsPassThrough(req.Event) {
		http.Error(w, "Event cannot be broadcast: "+string(req.Event), http.StatusBadRequest)
		return
	}
	room, ok := parseRoom(w, req.Room)
	if !ok {
		return
	}
	if room.Kind() == rooms.KindVoice {
		http.Error(w, "Voice rooms do not accept broadcasts", http.StatusBadRequest)
		return
	}

	var data any
	if len(req.Data) > 0 {
		data = req.Data
	}
	g.rooms.Broadcast(room, req.Event, data)
	w.WriteHeader(http.StatusAccepted)
}

func (g *Gateway) handlePresence(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, presenceResponse{Online: g.presence.Online()})
}

func (g *Gateway) handleVoiceRoster(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("channelId")
	g.writeJSON(w, voiceResponse{ChannelID: channelID, Participants: g.voice.Roster(channelID)})
}

func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInternalBody))
	if err := dec.Decode(dst); err != nil {
		http.Error(w, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := events.Validate(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func parseRoom(w http.ResponseWriter, raw string) (rooms.ID, bool) {
	room, err := rooms.Parse(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	return room, true
}

func (g *Gateway) writeFanoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, events.ErrInvalidPayload), errors.Is(err, fanout.ErrUnsupportedRoom):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		g.log.Error("Fanout failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (g *Gateway) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.log.Warn("Error writing JSON response", "error", err)
	}
}
