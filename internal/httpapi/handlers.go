// Package httpapi exposes the relay's operator-facing status as JSON
// over plain net/http, with no router or middleware framework.
package httpapi

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/xpdustry/claj/internal/relay"
	"github.com/xpdustry/claj/internal/room"
)

// roomView is the JSON shape of one room in the status response.
type roomView struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Public          bool   `json:"public"`
	Protected       bool   `json:"protected"`
	Clients         int    `json:"clients"`
	BytesToHost     uint64 `json:"bytesToHost"`
	BytesFromHost   uint64 `json:"bytesFromHost"`
	PacketsToHost   uint64 `json:"packetsToHost"`
	PacketsFromHost uint64 `json:"packetsFromHost"`
}

// statusView is the JSON shape of the whole response.
type statusView struct {
	RoomCount       int        `json:"roomCount"`
	ConnectionCount int        `json:"connectionCount"`
	Closing         bool       `json:"closing"`
	Rooms           []roomView `json:"rooms"`
}

// ServeStatus responds with the relay's current status, rooms sorted by
// client count descending then id.
func ServeStatus(r *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		s := r.Status()
		view := statusView{RoomCount: s.RoomCount, ConnectionCount: s.ConnectionCount, Closing: s.Closing}
		for _, rm := range s.Rooms {
			view.Rooms = append(view.Rooms, roomView{
				ID:              room.ShortIDOf(rm.ID),
				Type:            rm.Type.String(),
				Public:          rm.IsPublic,
				Protected:       rm.IsProtected,
				Clients:         rm.ClientCount,
				BytesToHost:     rm.BytesToHost,
				BytesFromHost:   rm.BytesFromHost,
				PacketsToHost:   rm.PacketsToHost,
				PacketsFromHost: rm.PacketsFromHost,
			})
		}
		sort.Slice(view.Rooms, func(i, j int) bool {
			if view.Rooms[i].Clients != view.Rooms[j].Clients {
				return view.Rooms[i].Clients > view.Rooms[j].Clients
			}
			return view.Rooms[i].ID < view.Rooms[j].ID
		})

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	}
}

// WithCORS wraps a handler with permissive read-only CORS headers.
func WithCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}
