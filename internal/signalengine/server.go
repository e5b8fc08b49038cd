package signalengine

import (
	"fmt"
	"sort"
	"time"

	"dexabsorption/internal/domain"
	"dexabsorption/internal/scorer"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// Server is the live-mode HTTP publish surface (§6): GET /signals, GET
// /wallets, GET /health. Unlike the teacher's signal server — which
// accepted inbound Telegram-parsed signals via POST /signal — this
// server never accepts writes; pipeline state is the only producer of a
// Signal.
type Server struct {
	app     *fiber.App
	emitter *Emitter
	scorer  *scorer.Scorer
	host    string
	port    int
}

// NewServer creates the publish-only signal server.
func NewServer(host string, port int, emitter *Emitter, sc *scorer.Scorer) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})

	s := &Server{app: app, emitter: emitter, scorer: sc, host: host, port: port}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().Unix()})
	})

	s.app.Get("/signals", s.handleSignals)
	s.app.Get("/wallets", s.handleWallets)
}

func (s *Server) handleSignals(c *fiber.Ctx) error {
	signals := s.emitter.Snapshot()
	sort.Slice(signals, func(i, j int) bool { return signals[i].CreatedAt.After(signals[j].CreatedAt) })

	if status := c.Query("status"); status != "" {
		filtered := signals[:0]
		for _, sig := range signals {
			if string(sig.Status) == status {
				filtered = append(filtered, sig)
			}
		}
		signals = filtered
	}

	return c.JSON(fiber.Map{"signals": signals, "count": len(signals)})
}

func (s *Server) handleWallets(c *fiber.Ctx) error {
	var wallets []domain.WalletBehavior
	if c.Query("infra") == "true" {
		wallets = s.scorer.InfrastructureWallets()
	} else {
		wallets = s.scorer.Snapshot()
	}
	return c.JSON(fiber.Map{"wallets": wallets, "count": len(wallets)})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("starting signal server")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
