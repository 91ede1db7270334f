package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/events"
	"github.com/heraldlabs/herald/internal/modules/trades"
)

// handleListIncomingAlerts handles GET /api/alerts.
func (s *Server) handleListIncomingAlerts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.alerts.ListRecent(limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": list})
}

// handleIncomingAlertCounts handles GET /api/alerts/counts.
func (s *Server) handleIncomingAlertCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.alerts.CountByStatus()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

// handleGetIncomingAlert handles GET /api/alerts/{id}.
func (s *Server) handleGetIncomingAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.alerts.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

// handleListTrades handles GET /api/trades.
func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	status := domain.TradeStatus(q.Get("status"))
	switch status {
	case "", domain.TradeStatusOpen, domain.TradeStatusClosed, domain.TradeStatusReplaced:
	default:
		s.writeError(w, domain.NewValidationError("unknown trade status", "status"))
		return
	}

	list, err := s.trades.List(q.Get("user_id"), status, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"trades": list})
}

// handleTradeCounts handles GET /api/trades/counts.
func (s *Server) handleTradeCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.trades.CountByStatus()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

// handleGetTrade handles GET /api/trades/{tradeNumber}.
func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	number, err := pathID(r, "tradeNumber")
	if err != nil {
		s.writeError(w, err)
		return
	}

	trade, err := s.trades.GetByNumber(number)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trade)
}

// handleCloseTrade handles POST /api/trades/{tradeNumber}/close: an
// operator closing an open trade outside the signal flow.
func (s *Server) handleCloseTrade(w http.ResponseWriter, r *http.Request) {
	number, err := pathID(r, "tradeNumber")
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body struct {
		ExitPrice float64 `json:"exitPrice"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if body.ExitPrice <= 0 {
		s.writeError(w, domain.NewValidationError("exitPrice must be positive", "exitPrice"))
		return
	}

	trade, err := s.trades.GetByNumber(number)
	if err != nil {
		s.writeError(w, err)
		return
	}

	now := s.clock.Now().UTC()
	pnl := trades.ComputePnL(trade.Signal, trade.EntryPrice, body.ExitPrice, "")
	if err := s.trades.Close(number, body.ExitPrice, domain.ExitReasonManual, now, pnl); err != nil {
		s.writeError(w, err)
		return
	}

	data := &events.TradeClosedData{
		TradeNumber: number,
		UserID:      trade.UserID,
		ExitReason:  string(domain.ExitReasonManual),
		ExitPrice:   body.ExitPrice,
	}
	if pnl != nil {
		data.PnLAmount = &pnl.Amount
	}
	s.events.Publish("server", data)

	closed, err := s.trades.GetByNumber(number)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, closed)
}
