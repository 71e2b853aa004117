package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"peanutpal/internal/keys"
	"peanutpal/internal/proto"
	"peanutpal/internal/urcode"
	"peanutpal/internal/wallet"
)

// Server exposes the wallet over HTTP: balance/stats/history queries,
// quote creation, payment processing, settings, and two websocket streams
// (ledger changes and the rotating withdrawal token).
type Server struct {
	log      zerolog.Logger
	svc      *wallet.Service
	identity keys.Identity
	sender   wallet.Sender

	// watchCtx bounds quote watches, which must outlive the request that
	// created them. It is the daemon's lifetime.
	watchCtx context.Context

	upgrader websocket.Upgrader
}

func NewServer(log zerolog.Logger, svc *wallet.Service, identity keys.Identity, sender wallet.Sender, watchCtx context.Context) *Server {
	return &Server{
		log:      log.With().Str("component", "api").Logger(),
		svc:      svc,
		identity: identity,
		sender:   sender,
		watchCtx: watchCtx,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/balance", s.getBalance)
		api.GET("/stats", s.getStats)
		api.GET("/history", s.getHistory)
		api.GET("/identity", s.getIdentity)
		api.POST("/quotes", s.createQuote)
		api.POST("/payments", s.processPayment)
		api.POST("/remote/:pub/quotes", s.chargeRemote)
		api.POST("/withdrawals", s.withdraw)
		api.GET("/settings", s.getSettings)
		api.PUT("/settings", s.putSettings)
		api.POST("/purge", s.purge)
	}
	r.GET("/ws/events", s.streamEvents)
	r.GET("/ws/token", s.streamToken)
	return r
}

func (s *Server) getBalance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"balance": s.svc.Balance()})
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Stats())
}

func (s *Server) getHistory(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	pg, err := s.svc.History(page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pg)
}

func (s *Server) getIdentity(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"public_key": s.identity.Public})
}

type createQuoteRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

func (s *Server) createQuote(c *gin.Context) {
	var req createQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q, err := s.svc.CreateQuote(c.Request.Context(), s.watchCtx, req.Amount)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) processPayment(c *gin.Context) {
	var q proto.QuoteDescriptor
	if err := c.ShouldBindJSON(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Quote == "" || q.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quote id and positive amount required"})
		return
	}
	res := s.svc.ProcessPaidQuote(c.Request.Context(), q)
	if !res.Success {
		c.JSON(http.StatusBadGateway, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) chargeRemote(c *gin.Context) {
	var req createQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	q, err := s.svc.ChargeRemote(c.Request.Context(), s.watchCtx, s.sender, c.Param("pub"), req.Amount)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, q)
}

type withdrawRequest struct {
	Secrets  []string `json:"secrets" binding:"required,min=1"`
	Metadata string   `json:"metadata"`
}

func (s *Server) withdraw(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := s.svc.Withdraw(req.Secrets, req.Metadata)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount, "balance": s.svc.Balance()})
}

type settingsResponse struct {
	MintURL   string   `json:"mint_url"`
	Relays    []string `json:"relays"`
	Onboarded bool     `json:"onboarded"`
}

func (s *Server) getSettings(c *gin.Context) {
	st := s.svc.Settings()
	mintURL, err := st.MintURL()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	relays, err := st.Relays()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settingsResponse{MintURL: mintURL, Relays: relays, Onboarded: st.Onboarded()})
}

type putSettingsRequest struct {
	MintURL string   `json:"mint_url"`
	Relays  []string `json:"relays"`
}

func (s *Server) putSettings(c *gin.Context) {
	var req putSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st := s.svc.Settings()
	if req.MintURL != "" {
		if err := st.SetMintURL(req.MintURL); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if len(req.Relays) > 0 {
		if err := st.SetRelays(req.Relays); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// relay connections are established at startup
		s.log.Info().Strs("relays", req.Relays).Msg("relay list updated, effective on restart")
	}
	if err := st.SetOnboarded(true); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) purge(c *gin.Context) {
	if c.Query("confirm") != "yes" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pass confirm=yes to wipe the proof ledger"})
		return
	}
	if err := s.svc.Purge(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// streamEvents pushes ledger-change notifications over a websocket until
// the client goes away.
func (s *Server) streamEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := s.svc.Bus().Subscribe()
	defer cancel()

	// drain client frames so pings and closes are handled
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for change := range ch {
		b, _ := json.Marshal(change)
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			return
		}
	}
}

// streamToken serializes the unspent proofs into a withdrawal token and
// streams its rotating fragments, one frame per part, for animated QR
// display.
func (s *Server) streamToken(c *gin.Context) {
	fragLen, _ := strconv.Atoi(c.DefaultQuery("fragment", "200"))
	intervalMs, _ := strconv.Atoi(c.DefaultQuery("interval", "100"))
	if fragLen <= 0 || intervalMs <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fragment and interval must be positive"})
		return
	}

	proofs, err := s.svc.UnspentProofs()
	if err != nil || len(proofs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "nothing to withdraw"})
		return
	}
	mintURL, err := s.svc.Settings().MintURL()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	payload, err := json.Marshal(gin.H{"mint": mintURL, "proofs": proofs})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	parts := make(chan string, 4)
	rot := urcode.NewRotator(func(part string) {
		select {
		case parts <- part:
		default:
		}
	})
	if err := rot.Replace(payload, fragLen, time.Duration(intervalMs)*time.Millisecond); err != nil {
		return
	}
	defer rot.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case part := <-parts:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(part)); err != nil {
				return
			}
		}
	}
}
