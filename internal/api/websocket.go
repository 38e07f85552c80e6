package api

import (
	"log"
	"net/http"
	"strings"

	"options-core/internal/events"
	"options-core/internal/market"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams price ticks. Clients pass ?symbols=BTC,ETH to watch a
// subset; the subscription keeps the cache entries hot while connected.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	watched := make(map[string]bool)
	if raw := c.Query("symbols"); raw != "" {
		for _, sym := range strings.Split(raw, ",") {
			sym = strings.TrimSpace(sym)
			if sym == "" {
				continue
			}
			watched[sym] = true
			s.Prices.Subscribe(sym)
			defer s.Prices.Unsubscribe(sym)
		}
	}

	stream, unsub := s.Bus.Subscribe(events.EventPriceTick, 100)
	defer unsub()

	for msg := range stream {
		if q, ok := msg.(market.Quote); ok && len(watched) > 0 && !watched[q.Symbol] {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
