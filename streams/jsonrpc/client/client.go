package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	uniswapv3 "github.com/defistate/defistate-amm-go/protocols/uniswapv3"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/events"
	"github.com/defistate/defistate-amm-go/protocols/uniswapv3/indexer"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// RpcNamespace is the namespace under which the streamer is registered.
	RpcNamespace                  = "amm"
	EventStreamSubscriptionMethod = "subscribeEvents"

	messageEvent      = "event"
	messagePoolUpdate = "pool"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DecoderFunc turns the payload of a named event back into a typed event.
type DecoderFunc func(name string, data json.RawMessage) (events.Event, error)

// Config holds the configuration for the client.
type Config struct {
	URL          string
	Logger       Logger
	BufferSize   uint
	EventDecoder DecoderFunc
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.EventDecoder == nil {
		return errors.New("config: EventDecoder is required")
	}
	return nil
}

// SubscriptionEvent is the wrapper object received from the server.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// Update is one processed message: either a decoded event or a pool snapshot.
type Update struct {
	Log  *events.Log
	Pool *uniswapv3.Pool
}

// -----------------------------------------------------------------------------
// StreamProcessor
// -----------------------------------------------------------------------------

// StreamProcessor handles the business logic of parsing messages, keeping the
// latest snapshot of every pool, and broadcasting updates.
// It is decoupled from the networking layer.
type StreamProcessor struct {
	mu      sync.RWMutex
	pools   []uniswapv3.Pool
	index   indexer.IndexedUniswapV3
	indexer *indexer.Indexer
	lastSeq uint64

	decoder  DecoderFunc
	updateCh chan Update
	logger   Logger
}

// NewStreamProcessor creates a pure logic processor without networking.
func NewStreamProcessor(logger Logger, bufferSize uint, decoder DecoderFunc) *StreamProcessor {
	return &StreamProcessor{
		logger:   logger,
		index:    indexer.NewIndexableUniswapV3System(nil),
		indexer:  indexer.New(),
		updateCh: make(chan Update, bufferSize),
		decoder:  decoder,
	}
}

// Updates returns a read-only channel for receiving processed messages.
func (sp *StreamProcessor) Updates() <-chan Update {
	return sp.updateCh
}

// Pool returns the latest snapshot received for a pool.
func (sp *StreamProcessor) Pool(address common.Address) (uniswapv3.Pool, bool) {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	return sp.index.GetByAddress(address)
}

// PoolsByToken returns the latest snapshots of every pool trading token.
func (sp *StreamProcessor) PoolsByToken(token common.Address) []uniswapv3.Pool {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	return sp.index.ByToken(token)
}

// Pools returns the latest snapshot of every known pool, sorted by address.
func (sp *StreamProcessor) Pools() []uniswapv3.Pool {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	return sp.index.All()
}

// ProcessMessage accepts a raw JSON message, processes it, and updates the internal state.
func (sp *StreamProcessor) ProcessMessage(rawData json.RawMessage) error {
	processingStart := time.Now()
	var event SubscriptionEvent

	if err := json.Unmarshal(rawData, &event); err != nil {
		return fmt.Errorf("failed to unmarshal subscription event: %w", err)
	}

	switch event.Type {
	case messagePoolUpdate:
		return sp.handlePool(event, processingStart)
	case messageEvent:
		return sp.handleEvent(event, processingStart)
	default:
		return fmt.Errorf("received unknown event type: %s", event.Type)
	}
}

func (sp *StreamProcessor) handlePool(event SubscriptionEvent, start time.Time) error {
	var p uniswapv3.Pool
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return fmt.Errorf("failed to unmarshal pool payload: %w", err)
	}
	if p.Address == (common.Address{}) {
		return errors.New("pool snapshot without an address")
	}

	// Snapshots are resent after every pool event and on resubscription;
	// only those that change the replica produce an update.
	sp.mu.Lock()
	var diff uniswapv3.SystemDiff
	prev, known := sp.index.GetByAddress(p.Address)
	switch {
	case !known:
		diff.Additions = []uniswapv3.Pool{p}
	case uniswapv3.Changed(prev, p):
		diff.Updates = []uniswapv3.Pool{p}
	default:
		sp.mu.Unlock()
		return nil
	}
	next, err := uniswapv3.Patch(sp.pools, diff)
	if err != nil {
		sp.mu.Unlock()
		return fmt.Errorf("failed to apply pool snapshot: %w", err)
	}
	sp.pools = next
	sp.index = sp.indexer.Index(next)
	sp.mu.Unlock()

	sp.logLatency(messagePoolUpdate, time.Since(start), event.SentAt, "pool", p.Address)
	sp.updateCh <- Update{Pool: &p}
	return nil
}

func (sp *StreamProcessor) handleEvent(event SubscriptionEvent, start time.Time) error {
	var cLog clientLog
	if err := json.Unmarshal(event.Payload, &cLog); err != nil {
		return fmt.Errorf("failed to unmarshal event payload: %w", err)
	}

	sp.mu.Lock()
	if cLog.Seq <= sp.lastSeq {
		last := sp.lastSeq
		sp.mu.Unlock()
		sp.logger.Warn(
			"Received out-of-order event. Discarding.",
			"last_seq", last,
			"seq", cLog.Seq,
			"name", cLog.Name,
		)
		return nil // Non-fatal, just ignored
	}
	sp.mu.Unlock()

	typed, err := sp.decoder(cLog.Name, cLog.Event)
	if err != nil {
		return fmt.Errorf("failed to decode %s event %d: %w", cLog.Name, cLog.Seq, err)
	}

	sp.mu.Lock()
	sp.lastSeq = cLog.Seq
	sp.mu.Unlock()

	l := events.Log{Seq: cLog.Seq, Address: cLog.Address, Name: cLog.Name, Event: typed}
	sp.logLatency(messageEvent, time.Since(start), event.SentAt, "name", cLog.Name, "seq", cLog.Seq)
	sp.updateCh <- Update{Log: &l}
	return nil
}

func (sp *StreamProcessor) logLatency(kind string, processingDur time.Duration, sentAt int64, args ...any) {
	clientFinishTime := time.Now()
	clientStartTime := clientFinishTime.Add(-processingDur)
	transportTime := clientStartTime.Sub(time.Unix(0, sentAt))

	sp.logger.Debug("Message Processed", append([]any{
		"type", kind,
		"latency_transport_ms", transportTime.Milliseconds(),
		"latency_proc_ms", processingDur.Milliseconds(),
	}, args...)...)
}

// -----------------------------------------------------------------------------
// Client (Networking Wrapper)
// -----------------------------------------------------------------------------

// Client manages the connection and uses StreamProcessor for logic.
type Client struct {
	processor *StreamProcessor
	errCh     chan error
	logger    Logger
}

// NewClient creates a new client with networking enabled.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := &Client{
		processor: NewStreamProcessor(cfg.Logger, cfg.BufferSize, cfg.EventDecoder),
		errCh:     make(chan error, 1),
		logger:    cfg.Logger,
	}

	go client.run(ctx, cfg.URL)
	return client, nil
}

// Updates delegates to the processor's update channel.
func (c *Client) Updates() <-chan Update {
	return c.processor.Updates()
}

// Pool returns the latest snapshot received for a pool.
func (c *Client) Pool(address common.Address) (uniswapv3.Pool, bool) {
	return c.processor.Pool(address)
}

// PoolsByToken returns the latest snapshots of every pool trading token.
func (c *Client) PoolsByToken(token common.Address) []uniswapv3.Pool {
	return c.processor.PoolsByToken(token)
}

// Pools returns the latest snapshot of every known pool.
func (c *Client) Pools() []uniswapv3.Pool {
	return c.processor.Pools()
}

// Err returns a read-only channel for receiving fatal (unrecoverable) errors.
func (c *Client) Err() <-chan error {
	return c.errCh
}

// run handles the networking lifecycle and feeds data to the processor.
func (c *Client) run(ctx context.Context, url string) {
	defer close(c.errCh)
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			c.logger.Info("Client context canceled, shutting down.")
			return
		}

		c.logger.Info("Attempting to connect to RPC server", "url", url)
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			c.logger.Error("Failed to connect to RPC server, will retry...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		c.logger.Info("Successfully connected to RPC server.")
		reconnectDelay = initialReconnectDelay

		err = c.subscribeAndProcess(ctx, rpcClient)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context canceled, shutting down.")
				return
			}
			c.logger.Error("Subscription failed, will reconnect...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
		}
	}
}

func (c *Client) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client) error {
	defer rpcClient.Close()

	rawCh := make(chan json.RawMessage)
	sub, err := rpcClient.Subscribe(ctx, RpcNamespace, rawCh, EventStreamSubscriptionMethod)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("Successfully subscribed. Waiting for data...")
	for {
		select {
		case rawData := <-rawCh:
			// Delegate logic to the processor
			if err := c.processor.ProcessMessage(rawData); err != nil {
				c.logger.Error("Error processing message", "error", err)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}

// sleep waits for d or until ctx is done, reporting whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
