// Package server streams bus events and pool snapshots to JSON-RPC websocket subscribers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	uniswapv3 "github.com/defistate/defistate-amm-go/protocols/uniswapv3"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/events"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/pool"
)

const (
	// RpcNamespace is the namespace under which the stream is registered.
	RpcNamespace = "amm"

	MessageEvent = "event"
	MessagePool  = "pool"
)

var ErrUnknownPool = errors.New("unknown pool")

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PoolSource enumerates the pools whose snapshots are streamed.
type PoolSource interface {
	AllPoolsLength() int
	AllPools(i int) (common.Address, error)
	Pool(address common.Address) (*pool.Pool, bool)
}

// Message is the envelope every subscriber notification is wrapped in.
// A "pool" message carries a full uniswapv3.Pool snapshot, an "event" message an
// events.Log.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// Config holds the configuration for the server.
type Config struct {
	Bus    *events.Bus
	Pools  PoolSource
	Logger Logger
	// BufferSize is the number of messages a subscriber may fall behind before it is dropped.
	BufferSize uint
}

func (c *Config) validate() error {
	if c.Bus == nil {
		return errors.New("config: Bus is required")
	}
	if c.Pools == nil {
		return errors.New("config: Pools is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	return nil
}

type subscriber struct {
	ch      chan Message
	dropped chan struct{}
}

// Server fans bus logs out to subscribers. A subscriber that falls BufferSize
// messages behind is dropped and receives nothing further; it has to resubscribe.
type Server struct {
	rpc        *rpc.Server
	bus        *events.Bus
	pools      PoolSource
	logger     Logger
	bufferSize uint

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
}

func New(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Server{
		rpc:        rpc.NewServer(),
		bus:        cfg.Bus,
		pools:      cfg.Pools,
		logger:     cfg.Logger,
		bufferSize: cfg.BufferSize,
		subs:       make(map[uint64]*subscriber),
	}
	if err := s.rpc.RegisterName(RpcNamespace, &api{server: s}); err != nil {
		return nil, fmt.Errorf("failed to register API: %w", err)
	}
	return s, nil
}

// Handler serves JSON-RPC over websocket.
func (s *Server) Handler() http.Handler {
	return s.rpc.WebsocketHandler([]string{"*"})
}

// Run forwards bus logs to subscribers until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	logs := make(chan events.Log, s.bufferSize)
	sub := s.bus.Subscribe(logs)
	defer sub.Unsubscribe()
	return s.forward(ctx, logs, sub.Err())
}

func (s *Server) forward(ctx context.Context, logs <-chan events.Log, subErr <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-subErr:
			return err
		case l := <-logs:
			msg, err := newMessage(MessageEvent, l)
			if err != nil {
				s.logger.Error("failed to encode event", "seq", l.Seq, "name", l.Name, "error", err)
				continue
			}
			s.broadcast(msg)

			// the emitter's state changed; follow up with its snapshot
			if p, ok := s.pools.Pool(l.Address); ok {
				if msg, err := newMessage(MessagePool, p.View()); err == nil {
					s.broadcast(msg)
				} else {
					s.logger.Error("failed to encode pool snapshot", "pool", l.Address, "error", err)
				}
			}
		}
	}
}

// Stop closes every connection.
func (s *Server) Stop() {
	s.rpc.Stop()
}

func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		select {
		case sub.ch <- msg:
		default:
			s.logger.Warn("dropping slow subscriber", "id", id)
			close(sub.dropped)
			delete(s.subs, id)
		}
	}
}

func (s *Server) subscribe() (uint64, *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub := &subscriber{
		ch:      make(chan Message, s.bufferSize),
		dropped: make(chan struct{}),
	}
	s.subs[s.nextID] = sub
	return s.nextID, sub
}

func (s *Server) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

func (s *Server) snapshots() []uniswapv3.Pool {
	n := s.pools.AllPoolsLength()
	out := make([]uniswapv3.Pool, 0, n)
	for i := range n {
		address, err := s.pools.AllPools(i)
		if err != nil {
			continue
		}
		if p, ok := s.pools.Pool(address); ok {
			out = append(out, p.View())
		}
	}
	return out
}

func newMessage(kind string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: kind, Payload: data, SentAt: time.Now().UnixNano()}, nil
}

// api is the RPC receiver; its exported methods form the amm namespace.
type api struct {
	server *Server
}

// SubscribeEvents sends a snapshot of every pool, then every event as it is emitted,
// each event from a pool followed by that pool's new snapshot.
func (a *api) SubscribeEvents(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	rpcSub := notifier.CreateSubscription()

	s := a.server
	id, sub := s.subscribe()
	go func() {
		defer s.unsubscribe(id)

		for _, view := range s.snapshots() {
			msg, err := newMessage(MessagePool, view)
			if err != nil {
				s.logger.Error("failed to encode pool snapshot", "pool", view.Address, "error", err)
				continue
			}
			if err := notifier.Notify(rpcSub.ID, msg); err != nil {
				s.logger.Debug("subscriber gone", "id", id, "error", err)
				return
			}
		}

		for {
			select {
			case msg := <-sub.ch:
				if err := notifier.Notify(rpcSub.ID, msg); err != nil {
					s.logger.Debug("subscriber gone", "id", id, "error", err)
					return
				}
			case <-sub.dropped:
				return
			case <-rpcSub.Err():
				return
			}
		}
	}()
	s.logger.Info("subscriber joined", "id", id)
	return rpcSub, nil
}

// GetPool returns the current snapshot of a pool.
func (a *api) GetPool(address common.Address) (*uniswapv3.Pool, error) {
	p, ok := a.server.pools.Pool(address)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, address)
	}
	view := p.View()
	return &view, nil
}
