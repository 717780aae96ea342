package web

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"go.uber.org/zap"
)

const errCycleBusy = "cycle already in progress"

func (s *Server) handleStatus(c *gin.Context) {
	resp := gin.H{
		"info":  s.opts.Info,
		"phase": s.opts.Cycler.Phase(),
	}
	if last := s.opts.Cycler.LastReport(); last != nil {
		resp["last_cycle"] = last
	}
	if s.opts.Audit != nil {
		if st, err := s.opts.Audit.LastMarketState(); err == nil && st != nil {
			resp["market"] = st
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleCycle starts a manual cycle. With wait=true the report is returned,
// otherwise the cycle runs in the background.
func (s *Server) handleCycle(c *gin.Context) {
	manual := c.DefaultQuery("manual", "true") != "false"

	if c.Query("wait") == "true" {
		rep, err := s.opts.Cycler.RunCycle(c.Request.Context(), manual)
		if err != nil {
			s.cycleError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"report": rep})
		return
	}

	if s.opts.Cycler.Phase() != domain.PhaseIdle {
		c.JSON(http.StatusConflict, gin.H{"error": errCycleBusy})
		return
	}

	go func() {
		if _, err := s.opts.Cycler.RunCycle(context.Background(), manual); err != nil {
			s.logger.Warn("manual cycle not started", zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "manual": manual})
}

func (s *Server) cycleError(c *gin.Context, err error) {
	if s.opts.IsBusy(err) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) handleListInstruments(c *gin.Context) {
	list, err := s.opts.Instruments.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instruments": list})
}

func (s *Server) handleGetInstrument(c *gin.Context) {
	inst, err := s.opts.Instruments.Get(c.Request.Context(), symbolParam(c))
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instrument": inst})
}

// instrumentRequest is the editable part of an instrument. Nil fields are left unchanged on update.
type instrumentRequest struct {
	Symbol           string           `json:"symbol"`
	Exchange         *string          `json:"exchange"`
	Token            *string          `json:"token"`
	Mode             *string          `json:"mode"`
	Quantity         *decimal.Decimal `json:"quantity"`
	AvgPrice         *decimal.Decimal `json:"avg_price"`
	SIPAmount        *decimal.Decimal `json:"sip_amount"`
	SIPFrequencyDays *int             `json:"sip_frequency_days"`
	OrderQuantity    *decimal.Decimal `json:"order_quantity"`
	Notes            *string          `json:"notes"`
}

func (r instrumentRequest) apply(inst *domain.Instrument) error {
	if r.Exchange != nil {
		inst.Exchange = strings.ToUpper(strings.TrimSpace(*r.Exchange))
	}
	if r.Token != nil {
		inst.BrokerToken = strings.TrimSpace(*r.Token)
	}
	if r.Mode != nil {
		mode, err := domain.ParseMode(*r.Mode)
		if err != nil {
			return err
		}
		inst.Mode = mode
	}
	if r.Quantity != nil {
		inst.Quantity = *r.Quantity
	}
	if r.AvgPrice != nil {
		inst.AvgPrice = *r.AvgPrice
	}
	if r.SIPAmount != nil {
		inst.SIPAmount = *r.SIPAmount
	}
	if r.SIPFrequencyDays != nil {
		inst.SIPFrequencyDays = *r.SIPFrequencyDays
	}
	if r.OrderQuantity != nil {
		inst.OrderQuantity = *r.OrderQuantity
	}
	if r.Notes != nil {
		inst.Notes = *r.Notes
	}
	return inst.Validate()
}

func (s *Server) handleCreateInstrument(c *gin.Context) {
	release, ok := s.hold(c)
	if !ok {
		return
	}
	defer release()

	var req instrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst := domain.Instrument{
		Symbol:   strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Exchange: "NSE",
		Mode:     domain.ModeHold,
	}
	if err := req.apply(&inst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if inst.Mode == domain.ModeSIP && inst.SIPFrequencyDays == 0 {
		inst.SIPFrequencyDays = 30
	}
	if inst.Mode == domain.ModeBuy && inst.OrderQuantity.IsZero() {
		inst.OrderQuantity = decimal.NewFromInt(1)
	}

	created, err := s.opts.Instruments.Create(c.Request.Context(), inst)
	if err != nil {
		s.storeError(c, err)
		return
	}
	s.logger.Info("instrument created", zap.String("symbol", created.Symbol), zap.String("mode", string(created.Mode)))
	c.JSON(http.StatusCreated, gin.H{"instrument": created})
}

func (s *Server) handleUpdateInstrument(c *gin.Context) {
	release, ok := s.hold(c)
	if !ok {
		return
	}
	defer release()

	var req instrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	inst, err := s.opts.Instruments.Get(ctx, symbolParam(c))
	if err != nil {
		s.storeError(c, err)
		return
	}
	if err := req.apply(&inst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.opts.Instruments.Save(ctx, inst); err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instrument": inst})
}

func (s *Server) handleDeleteInstrument(c *gin.Context) {
	release, ok := s.hold(c)
	if !ok {
		return
	}
	defer release()
	if err := s.opts.Instruments.Delete(c.Request.Context(), symbolParam(c)); err != nil {
		s.storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// hold keeps cycles out for the duration of an instrument edit and
// rejects the edit while a cycle may be mutating the same rows.
func (s *Server) hold(c *gin.Context) (func(), bool) {
	release, ok := s.opts.Cycler.Hold()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": errCycleBusy})
		return nil, false
	}
	return release, true
}

func (s *Server) storeError(c *gin.Context, err error) {
	switch {
	case s.opts.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case s.opts.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleAudit(c *gin.Context) {
	after, limit, ok := pageParams(c)
	if !ok {
		return
	}
	records, err := s.opts.Audit.AuditRecordsAfter(after)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if symbol := strings.ToUpper(c.Query("symbol")); symbol != "" {
		filtered := records[:0]
		for _, r := range records {
			if r.Record.Symbol == symbol {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	c.JSON(http.StatusOK, gin.H{"records": tail(records, limit)})
}

func (s *Server) handleOracleCalls(c *gin.Context) {
	after, limit, ok := pageParams(c)
	if !ok {
		return
	}
	calls, err := s.opts.Audit.OracleCallsAfter(after)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": tail(calls, limit)})
}

func (s *Server) handleCycles(c *gin.Context) {
	after, limit, ok := pageParams(c)
	if !ok {
		return
	}
	reports, err := s.opts.Audit.CycleReportsAfter(after)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycles": tail(reports, limit)})
}

// handleAuditStream polls the audit trail and pushes new records as SSE.
func (s *Server) handleAuditStream(c *gin.Context) {
	after, _, ok := pageParams(c)
	if !ok {
		return
	}

	poll := time.NewTicker(snapshotPollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	lastIndex := after
	send := func() error {
		records, err := s.opts.Audit.AuditRecordsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, r := range records {
			c.SSEvent("audit", r)
			lastIndex = r.Index
		}
		return nil
	}

	openStream(c)
	c.Stream(func(w io.Writer) bool {
		if err := send(); err != nil {
			s.logger.Warn("audit stream load failed", zap.Error(err))
			return false
		}
		select {
		case <-c.Request.Context().Done():
			return false
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": ping\n\n")
		case <-poll.C:
		}
		return true
	})
}

// handleEvents streams live cycle events.
func (s *Server) handleEvents(c *gin.Context) {
	if s.opts.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream not available"})
		return
	}

	ch := s.opts.Events.Subscribe()
	defer s.opts.Events.Unsubscribe(ch)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	openStream(c)
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": ping\n\n")
			return true
		case e, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(e.Type), e)
			return true
		}
	})
}

func (s *Server) handleTestNotification(c *gin.Context) {
	if s.opts.Notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications are disabled"})
		return
	}
	text := "🔔 *Test Notification*\n\nThe trading bot can reach this chat."
	if err := s.opts.Notifier.Send(c.Request.Context(), text); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

// openStream sends SSE headers right away so clients see the stream before the first event.
func openStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()
}

func symbolParam(c *gin.Context) string {
	return strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
}

func pageParams(c *gin.Context) (uint64, int, bool) {
	after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "after must be a non-negative integer"})
		return 0, 0, false
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, 0, false
	}
	return after, limit, true
}

func tail[T any](items []T, n int) []T {
	if items == nil {
		return []T{}
	}
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
