package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-core/internal/events"
	"options-core/internal/market"
)

func dialWS(t *testing.T, s *Server, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.Router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebsocketStreamsTicks(t *testing.T) {
	s := newTestServer(t)
	conn := dialWS(t, s, "?symbols=AAPL")
	time.Sleep(20 * time.Millisecond) // let the handler subscribe

	s.Bus.Publish(events.EventPriceTick, market.Quote{Symbol: "AAPL", Price: 231.5, Source: market.SourceSimulated})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var q market.Quote
	require.NoError(t, conn.ReadJSON(&q))
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, 231.5, q.Price)
}

func TestWebsocketFiltersSymbols(t *testing.T) {
	s := newTestServer(t)
	conn := dialWS(t, s, "?symbols=AAPL")
	time.Sleep(20 * time.Millisecond)

	s.Bus.Publish(events.EventPriceTick, market.Quote{Symbol: "EUR/USD", Price: 1.1})
	s.Bus.Publish(events.EventPriceTick, market.Quote{Symbol: "AAPL", Price: 232})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var q market.Quote
	require.NoError(t, conn.ReadJSON(&q))
	assert.Equal(t, "AAPL", q.Symbol, "unwatched symbol must be filtered out")
}

func TestWebsocketKeepsCacheSubscribed(t *testing.T) {
	s := newTestServer(t)
	dialWS(t, s, "?symbols=AAPL,EUR%2FUSD")
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, s.Prices.Subscribers("AAPL"))
	assert.Equal(t, 1, s.Prices.Subscribers("EUR/USD"))
}
