package server

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"strategyvaults/core/types"
)

// handleEvents lists the committed event log. ?type= filters by event type
// and ?limit= keeps only the newest entries.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := strings.TrimSpace(r.URL.Query().Get("type"))
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a non-negative integer", errBadRequest))
			return
		}
		limit = n
	}
	all := s.sb.Events()
	out := make([]*types.Event, 0, len(all))
	for _, evt := range all {
		if filter != "" && evt.Type != filter {
			continue
		}
		out = append(out, evt)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	token, _, err := s.sb.Token(chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	holder, err := parseAddress("holder", chi.URLParam(r, "holder"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var balance *big.Int
	err = s.sb.Read(r.Context(), func(context.Context) error {
		var err error
		balance, err = s.sb.Balance(token, holder)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   token.Hex(),
		"holder":  holder.Hex(),
		"balance": amount(balance),
	})
}

func (s *Server) handleClock(w http.ResponseWriter, r *http.Request) {
	clock := s.sb.Clock()
	writeJSON(w, http.StatusOK, clockView{Unix: clock.Now().Unix(), Block: clock.BlockNumber()})
}

func (s *Server) handlePauses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"paused": s.sb.Pauses().Paused()})
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Seconds == 0 && req.Blocks == 0 {
		s.writeError(w, r, fmt.Errorf("%w: seconds or blocks required", errBadRequest))
		return
	}
	refresh := req.Refresh == nil || *req.Refresh
	err := s.sb.Do(r.Context(), func(context.Context) error {
		return s.sb.Advance(req.Seconds, req.Blocks, refresh)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	clock := s.sb.Clock()
	writeJSON(w, http.StatusOK, clockView{Unix: clock.Now().Unix(), Block: clock.BlockNumber()})
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, _, err := s.sb.Token(req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.sb.Do(r.Context(), func(context.Context) error {
		if err := s.sb.SetPrice(token, req.Price, req.Arbitrage); err != nil {
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token.Hex(), "price": req.Price, "arbitrage": req.Arbitrage})
}

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Module) == "" {
		s.writeError(w, r, fmt.Errorf("%w: module required", errBadRequest))
		return
	}
	s.sb.Pauses().Set(req.Module, req.Paused)
	s.logger.Info("module pause updated",
		slog.String("component", "vaultd"),
		slog.String("module", req.Module),
		slog.Bool("paused", req.Paused),
		slog.String("principal", caller(r).Name))
	writeJSON(w, http.StatusOK, map[string]any{"paused": s.sb.Pauses().Paused()})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, _, err := s.sb.Token(req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := parseAmount("amount", req.Amount, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var balance *big.Int
	err = s.sb.Do(r.Context(), func(context.Context) error {
		if err := s.sb.Mint(token, to, value); err != nil {
			return err
		}
		var err error
		balance, err = s.sb.Balance(token, to)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token.Hex(), "holder": to.Hex(), "balance": amount(balance)})
}

func (s *Server) handleAccrueRewards(w http.ResponseWriter, r *http.Request) {
	var req rewardsRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, _, err := s.sb.Token(req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	value, err := parseAmount("amount", req.Amount, true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.sb.Do(r.Context(), func(context.Context) error {
		return s.sb.AccrueRewards(req.Pool, token, value)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pool": req.Pool, "token": token.Hex(), "amount": amount(value)})
}
