package api

import (
	"net/http"
	"time"

	"options-core/internal/account"
	"options-core/internal/assets"
	"options-core/internal/events"
	"options-core/internal/funds"
	"options-core/internal/market"
	"options-core/internal/monitor"
	"options-core/internal/trade"
	"options-core/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the trading core.
type Server struct {
	Router   *gin.Engine
	Bus      *events.Bus
	DB       *db.Database
	Accounts *account.Manager
	Engine   *trade.Engine
	Funds    *funds.Service
	Catalog  *assets.Catalog
	Prices   *market.Service
	Metrics  *monitor.SystemMetrics

	JWTSecret           string
	AdminEmail          string
	DemoStartingBalance float64
	Meta                SystemMeta
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	UseMockFeed bool
	PayoutRate  float64
	Version     string
}

// Deps carries everything the server needs; keeps NewServer readable.
type Deps struct {
	Bus      *events.Bus
	DB       *db.Database
	Accounts *account.Manager
	Engine   *trade.Engine
	Funds    *funds.Service
	Catalog  *assets.Catalog
	Prices   *market.Service
	Metrics  *monitor.SystemMetrics

	JWTSecret           string
	AdminEmail          string
	DemoStartingBalance float64
	Meta                SystemMeta
}

func NewServer(deps Deps) *Server {
	r := gin.New()
	// Symbols like BTC/USD arrive URL-encoded in path params.
	r.UseRawPath = true

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                      // Panic recovery (first)
	r.Use(RequestIDMiddleware())               // Request ID tracking
	r.Use(RequestLogger(deps.Metrics))         // Request logging (after ID is set)
	r.Use(RateLimitMiddleware())               // Rate limiting
	r.Use(TimeoutMiddleware(30 * time.Second)) // Request timeout (30s)
	r.Use(CORSMiddleware())                    // CORS (last before routes)

	s := &Server{
		Router:              r,
		Bus:                 deps.Bus,
		DB:                  deps.DB,
		Accounts:            deps.Accounts,
		Engine:              deps.Engine,
		Funds:               deps.Funds,
		Catalog:             deps.Catalog,
		Prices:              deps.Prices,
		Metrics:             deps.Metrics,
		JWTSecret:           deps.JWTSecret,
		AdminEmail:          deps.AdminEmail,
		DemoStartingBalance: deps.DemoStartingBalance,
		Meta:                deps.Meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/assets", s.getAssets)
		api.GET("/prices/:symbol", s.getPrice)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/balance", s.getBalance)
			protected.POST("/trades", s.placeTrade)
			protected.GET("/trades", s.getTrades)
			protected.GET("/trades/active", s.getActiveTrades)
			protected.POST("/transactions", s.createTransaction)
			protected.GET("/transactions", s.getTransactions)

			// Admin back-office
			admin := protected.Group("/admin")
			admin.Use(s.AdminMiddleware())
			{
				admin.PUT("/assets/:id", s.updateAsset)
				admin.GET("/transactions", s.getPendingTransactions)
				admin.POST("/transactions/:id/approve", s.approveTransaction)
				admin.POST("/transactions/:id/reject", s.rejectTransaction)
			}
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
