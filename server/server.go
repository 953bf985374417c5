// Package server wires the trading subsystem, the round ledger, the price
// cache and the persistence layer into one supervised process with a small
// HTTP surface for join requests and read-only state queries.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/vctt94/bisonbotkit/logging"
	"golang.org/x/sync/errgroup"

	"github.com/vctt94/jackpotbot/pot"
	"github.com/vctt94/jackpotbot/rates"
	"github.com/vctt94/jackpotbot/server/jackpotdb"
	"github.com/vctt94/jackpotbot/trading"
)

// Config configures the server.
type Config struct {
	LogBackend *logging.LogBackend

	// DataDir holds the bolt database file.
	DataDir string

	// HTTPListen is the bind address of the HTTP surface. Empty disables it.
	HTTPListen string

	// Trading network access.
	TradeAPIURL   string
	Account       string
	Secret        string
	TwoFactorCode string
	OfferMessage  string
	OfferURLBase  string

	MaxLoginAttempts     int
	MaxReconnectAttempts int
	LivenessInterval     time.Duration
	PollInterval         time.Duration
	MaxTracking          time.Duration

	// Price feed.
	RatesURL             string
	RatesRefreshInterval time.Duration

	// StartRoundTimer is invoked once per round when it gathers its second
	// distinct participant. Winner selection and payout live outside this
	// subsystem.
	StartRoundTimer func(roundID string)
}

// offerSubmitter and offerTracker are the slices of the dispatcher and
// tracker the request boundary needs.
type offerSubmitter interface {
	Submit(ctx context.Context, tradeURL string, assets []trading.Asset, note string) (*trading.SubmittedOffer, error)
}

type offerTracker interface {
	Track(remoteID, userID string, itemIDs []string, roundID string)
	Cancel(remoteID string) bool
	Active() []string
	Stop()
}

type roundLedger interface {
	ActiveRound(ctx context.Context) (*pot.Round, error)
	Round(ctx context.Context, id string) (*pot.Round, error)
	Credit(ctx context.Context, userID string, itemIDs []string, roundID string) error
}

// ParticipantsUpdate is the snapshot published to observers after a credit
// has been fully persisted.
type ParticipantsUpdate struct {
	RoundID      string            `json:"round_id"`
	TotalValue   int64             `json:"total_value"`
	Participants []pot.Participant `json:"participants"`
}

// Server owns every long-running component and implements pot.RoundManager
// and pot.Notifier for the ledger.
type Server struct {
	log slog.Logger
	cfg Config

	db         jackpotdb.DB
	client     *trading.WebClient
	session    *trading.Manager
	dispatcher offerSubmitter
	tracker    offerTracker
	ledger     roundLedger
	rates      *rates.Cache
	httpSrv    *http.Server

	mu   sync.RWMutex
	subs []chan ParticipantsUpdate
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.LogBackend == nil {
		return nil, fmt.Errorf("server requires a log backend")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("server requires a data directory")
	}

	s := &Server{
		log: cfg.LogBackend.Logger("SRV"),
		cfg: cfg,
	}

	db, err := jackpotdb.NewBoltDB(filepath.Join(cfg.DataDir, "jackpot.db"))
	if err != nil {
		return nil, err
	}
	s.db = db

	creds := trading.Credentials{Account: cfg.Account, Secret: cfg.Secret}
	if cfg.TwoFactorCode != "" {
		code := cfg.TwoFactorCode
		creds.TwoFactor = func() string { return code }
	}
	s.client, err = trading.NewWebClient(trading.WebClientConfig{
		Log:         cfg.LogBackend.Logger("NETW"),
		BaseURL:     cfg.TradeAPIURL,
		Credentials: creds,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s.session, err = trading.NewManager(trading.ManagerConfig{
		Log:                  cfg.LogBackend.Logger("SESS"),
		Session:              s.client,
		MaxLoginAttempts:     cfg.MaxLoginAttempts,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		LivenessInterval:     cfg.LivenessInterval,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s.rates, err = rates.New(rates.Config{
		Log:             cfg.LogBackend.Logger("RATE"),
		URL:             cfg.RatesURL,
		RefreshInterval: cfg.RatesRefreshInterval,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	ledger, err := pot.NewLedger(pot.LedgerConfig{
		Log:    cfg.LogBackend.Logger("POT"),
		Store:  db,
		Prices: s.rates,
		Rounds: s,
		Ntfn:   s,
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ledger = ledger

	s.dispatcher, err = trading.NewDispatcher(trading.DispatcherConfig{
		Log:          cfg.LogBackend.Logger("DISP"),
		Session:      s.session,
		Sender:       s.client,
		Message:      cfg.OfferMessage,
		OfferURLBase: cfg.OfferURLBase,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s.tracker, err = trading.NewTracker(trading.TrackerConfig{
		Log:          cfg.LogBackend.Logger("TRCK"),
		Fetcher:      s.client,
		Ledger:       ledger,
		Outbox:       db,
		PollInterval: cfg.PollInterval,
		MaxTracking:  cfg.MaxTracking,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if cfg.HTTPListen != "" {
		s.httpSrv = &http.Server{
			Addr:              cfg.HTTPListen,
			Handler:           s.router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return s, nil
}

// Run drives all long-running components until ctx is canceled or the
// session manager fails fatally. The tracker and database are torn down on
// the way out.
func (s *Server) Run(ctx context.Context) error {
	s.replayPendingCredits(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.session.Run(gctx) })
	g.Go(func() error {
		s.rates.Run(gctx)
		return nil
	})

	if s.httpSrv != nil {
		g.Go(func() error {
			s.log.Infof("http surface listening on %s", s.httpSrv.Addr)
			err := s.httpSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.httpSrv.Shutdown(sctx)
		})
	}

	err := g.Wait()

	s.log.Infof("shutting down")
	s.tracker.Stop()
	if cerr := s.db.Close(); cerr != nil {
		s.log.Errorf("closing database: %v", cerr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// replayPendingCredits re-applies credits whose durable records survived a
// crash between offer acceptance and ledger persistence. Replay is
// at-least-once; a credit that persisted but whose record failed to clear is
// applied again and flagged for the operator.
func (s *Server) replayPendingCredits(ctx context.Context) {
	pending, err := s.db.PendingCredits(ctx)
	if err != nil {
		s.log.Errorf("listing pending credits: %v", err)
		return
	}
	for _, p := range pending {
		s.log.Warnf("replaying pending credit for offer %s (accepted %s)",
			p.RemoteID, p.AcceptedAt.Format(time.RFC3339))
		if err := s.ledger.Credit(ctx, p.UserID, p.ItemIDs, p.RoundID); err != nil {
			s.log.Errorf("replay of pending credit %s failed, record kept: %v", p.RemoteID, err)
			continue
		}
		if err := s.db.DeletePendingCredit(ctx, p.RemoteID); err != nil {
			s.log.Warnf("clearing replayed credit %s: %v", p.RemoteID, err)
		}
	}
}

// Subscribe registers an observer for participant snapshots. The returned
// channel is never closed; slow observers miss updates instead of blocking
// the credit path.
func (s *Server) Subscribe() <-chan ParticipantsUpdate {
	ch := make(chan ParticipantsUpdate, 8)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// ParticipantsChanged implements pot.Notifier.
func (s *Server) ParticipantsChanged(roundID string, totalValue int64, participants []pot.Participant) {
	upd := ParticipantsUpdate{
		RoundID:      roundID,
		TotalValue:   totalValue,
		Participants: participants,
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- upd:
		default:
			s.log.Warnf("observer channel full; dropping snapshot of round %s", roundID)
		}
	}
}

// StartRoundTimer implements pot.RoundManager. The countdown itself is owned
// by the configured hook; this subsystem only reports the transition.
func (s *Server) StartRoundTimer(roundID string) {
	s.log.Infof("round %s gathered two distinct participants; round timer started", roundID)
	if s.cfg.StartRoundTimer != nil {
		go s.cfg.StartRoundTimer(roundID)
	}
}
