package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vctt94/bisonbotkit/utils"

	"github.com/vctt94/jackpotbot/pot"
	"github.com/vctt94/jackpotbot/trading"
)

// ErrItemNotHeld rejects a join naming an item outside the user's holdings.
var ErrItemNotHeld = errors.New("item not in user holdings")

// JoinRequest asks to deposit the given items into the active round.
type JoinRequest struct {
	UserID  string   `json:"user_id"`
	ItemIDs []string `json:"item_ids"`
}

// JoinResponse carries the handle of the submitted exchange proposal. The
// deposit is credited only after the counterparty accepts it.
type JoinResponse struct {
	RoundID  string `json:"round_id"`
	OfferID  string `json:"offer_id"`
	OfferURL string `json:"offer_url"`
}

// HandleJoin resolves the user's trade address and item records, submits the
// exchange proposal and hands the result to the tracker. Every failure is a
// structured error; nothing here panics on network rejections.
func (s *Server) HandleJoin(ctx context.Context, req *JoinRequest) (*JoinResponse, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("join: user ID required")
	}
	if len(req.ItemIDs) == 0 {
		return nil, trading.ErrNoItems
	}

	user, err := s.db.User(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}
	if user.TradeURL == "" {
		return nil, trading.ErrNoTradeAddress
	}

	held := make(map[string]struct{}, len(user.Holdings))
	for _, id := range user.Holdings {
		held[id] = struct{}{}
	}

	// A repeated ID in the request is the same item; the proposal must not
	// request the asset twice.
	itemIDs := dedupeIDs(req.ItemIDs)

	assets := make([]trading.Asset, 0, len(itemIDs))
	for _, id := range itemIDs {
		if _, ok := held[id]; !ok {
			return nil, fmt.Errorf("join: item %s: %w", id, ErrItemNotHeld)
		}
		item, err := s.db.Item(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("join: item %s: %w", id, err)
		}
		assets = append(assets, trading.Asset{
			AssetID:   item.AssetID,
			AppID:     item.AppID,
			ContextID: item.ContextID,
		})
	}

	round, err := s.ledger.ActiveRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("join: active round: %w", err)
	}

	// A short token in the offer message lets the user match the incoming
	// proposal to this request.
	token, err := utils.GenerateRandomString(8)
	if err != nil {
		return nil, fmt.Errorf("join: verification token: %w", err)
	}

	offer, err := s.dispatcher.Submit(ctx, user.TradeURL, assets, token)
	if err != nil {
		return nil, err
	}

	s.tracker.Track(offer.RemoteID, req.UserID, itemIDs, round.ID)

	s.log.Infof("join: user %s offered %d items into round %s (offer %s)",
		req.UserID, len(itemIDs), round.ID, offer.RemoteID)

	return &JoinResponse{
		RoundID:  round.ID,
		OfferID:  offer.RemoteID,
		OfferURL: offer.URL,
	}, nil
}

// dedupeIDs drops repeated IDs, keeping first-occurrence order.
func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// CancelOffer aborts tracking of a submitted proposal. Returns false when
// the offer is unknown or already settled.
func (s *Server) CancelOffer(remoteID string) bool {
	return s.tracker.Cancel(remoteID)
}

func (s *Server) router() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Post("/join", s.handleJoin)
	r.Get("/rounds/active", s.handleActiveRound)
	r.Get("/rounds/{roundID}", s.handleRound)
	r.Delete("/offers/{remoteID}", s.handleCancelOffer)
	return r
}

type healthResponse struct {
	SessionState  string `json:"session_state"`
	SessionUsable bool   `json:"session_usable"`
	TrackedOffers int    `json:"tracked_offers"`
	PricesFresh   bool   `json:"prices_fresh"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		TrackedOffers: len(s.tracker.Active()),
	}
	if s.session != nil {
		resp.SessionState = s.session.State().String()
		resp.SessionUsable = s.session.IsUsable()
	}
	if s.rates != nil {
		resp.PricesFresh = !s.rates.FetchedAt().IsZero()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	resp, err := s.HandleJoin(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActiveRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.ledger.ActiveRound(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, round)
}

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.ledger.Round(r.Context(), chi.URLParam(r, "roundID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, round)
}

func (s *Server) handleCancelOffer(w http.ResponseWriter, r *http.Request) {
	remoteID := chi.URLParam(r, "remoteID")
	if !s.CancelOffer(remoteID) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "offer not tracked"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"canceled": remoteID})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("encoding response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pot.ErrUserNotFound),
		errors.Is(err, pot.ErrItemNotFound),
		errors.Is(err, pot.ErrRoundNotFound):
		status = http.StatusNotFound
	case errors.Is(err, trading.ErrNoItems),
		errors.Is(err, trading.ErrNoTradeAddress),
		errors.Is(err, ErrItemNotHeld):
		status = http.StatusBadRequest
	case errors.Is(err, trading.ErrSessionUnavailable),
		errors.Is(err, trading.ErrMaxRetryExceeded),
		errors.Is(err, trading.ErrLoginFailure):
		status = http.StatusServiceUnavailable
	case errors.Is(err, trading.ErrTradeBanned):
		status = http.StatusForbidden
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
