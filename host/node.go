// Package host wires the pure replica core into a process: one Node
// owns a replica behind a mutex, translates protocol messages into core
// operations, and keeps anti-entropy sessions running against peers.
package host

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/local-first-systems/replika"
	"github.com/local-first-systems/replika/causal"
	"github.com/local-first-systems/replika/network"
	"github.com/local-first-systems/replika/protocol"
	"github.com/local-first-systems/replika/utils"
)

const (
	defaultCacheSize    = 128
	defaultSyncInterval = 30 * time.Second
	outQueueLimit       = 1 << 24
)

type NodeOptions struct {
	// CacheSize bounds the sync-response cache, entries.
	CacheSize int
	// SyncInterval paces the periodic digest exchange.
	SyncInterval time.Duration
	// Registerer receives the node's metrics; nil disables registration.
	Registerer prometheus.Registerer
	TlsConfig  *tls.Config
}

// Node hosts one replica. The replica itself is a single-threaded
// state machine; every access goes through the node's mutex so no two
// operations ever observe the same pre-image.
type Node struct {
	mu      sync.Mutex
	replica *replika.Replica
	log     utils.Logger
	metrics *Metrics

	// encoded SyncResponses keyed by request digest hash, flushed on
	// every mutation
	respCache *lru.Cache[uint64, []byte]

	net      *network.Net
	sessions map[string]*session
	slock    sync.Mutex
	interval time.Duration
}

func NewNode(replica *replika.Replica, log utils.Logger, opts NodeOptions) (*Node, error) {
	if opts.CacheSize == 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.SyncInterval == 0 {
		opts.SyncInterval = defaultSyncInterval
	}
	cache, err := lru.New[uint64, []byte](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	n := &Node{
		replica:   replica,
		log:       log,
		metrics:   NewMetrics(opts.Registerer),
		respCache: cache,
		sessions:  make(map[string]*session),
		interval:  opts.SyncInterval,
	}
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(replika.NewReplicaCollector(replica, &n.mu))
	}
	n.net = network.NewNet(log, opts.TlsConfig, n.installSession, n.destroySession)
	return n, nil
}

// ApplyOp applies a local mutation through the node's serialization.
func (n *Node) ApplyOp(crdtID string, op any) (causal.Dot, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	dot, err := n.replica.ApplyOp(crdtID, op)
	if err != nil {
		return dot, err
	}
	n.metrics.opsApplied.Inc()
	n.respCache.Purge()
	return dot, nil
}

// ApplyRemote ingests one remote delta through the node's serialization.
func (n *Node) ApplyRemote(crdtID string, dot causal.Dot, delta []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.applyRemoteLocked(crdtID, dot, delta)
}

func (n *Node) applyRemoteLocked(crdtID string, dot causal.Dot, delta []byte) error {
	if n.replica.Context().Contains(dot) {
		n.metrics.deltasDeduped.Inc()
		return n.replica.ApplyRemote(crdtID, dot, delta)
	}
	if err := n.replica.ApplyRemote(crdtID, dot, delta); err != nil {
		return err
	}
	n.metrics.deltasApplied.Inc()
	n.respCache.Purge()
	return nil
}

// EnsureCrdt binds a CRDT through the node's serialization.
func (n *Node) EnsureCrdt(crdtID, typeTag string, opts replika.AddOptions) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.replica.EnsureCrdt(crdtID, typeTag, opts)
}

// Value reads a CRDT's projected value through the node's serialization.
func (n *Node) Value(crdtID string) (any, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.replica.Value(crdtID)
}

// Digest snapshots the replica's digest.
func (n *Node) Digest() causal.Digest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.replica.Digest()
}

// HandleFrame processes one inbound envelope and returns any frames to
// send back on the same connection.
func (n *Node) HandleFrame(frame []byte) (network.Frames, error) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		return nil, err
	}
	n.metrics.messages.WithLabelValues(messageTypeName(msg.Header.Type)).Inc()

	switch p := msg.Payload.(type) {
	case protocol.DigestRequest:
		return n.answerDigestRequest()
	case protocol.DigestResponse:
		return n.answerDigestResponse(p)
	case protocol.SyncRequest:
		return n.answerSyncRequest(p)
	case protocol.SyncResponse:
		return nil, n.ingestSyncResponse(p)
	}
	return nil, fmt.Errorf("%w: %d", protocol.ErrInvalidMessageType, msg.Header.Type)
}

func (n *Node) answerDigestRequest() (network.Frames, error) {
	resp, err := protocol.Encode(protocol.DigestResponse{Digest: n.Digest()})
	if err != nil {
		return nil, err
	}
	return network.Frames{resp}, nil
}

// A peer's digest answers our DigestRequest; we follow up by asking for
// everything beyond our own progress.
func (n *Node) answerDigestResponse(p protocol.DigestResponse) (network.Frames, error) {
	ours := n.Digest()
	if !p.Digest.Since(ours).Eq(causal.NewDigest()) || !ours.CoversNonzero(p.Digest) {
		req, err := protocol.Encode(protocol.SyncRequest{
			SyncType:      protocol.SyncDelta,
			IncludeDigest: true,
			Digest:        ours,
		})
		if err != nil {
			return nil, err
		}
		return network.Frames{req}, nil
	}
	return nil, nil
}

// A delta request is served from this replica's own authorship beyond
// the requester's marks; a full request replays the whole log, third
// party lanes included, through the components query.
func (n *Node) answerSyncRequest(p protocol.SyncRequest) (network.Frames, error) {
	since := causal.NewDigest()
	if p.SyncType == protocol.SyncDelta && p.IncludeDigest {
		since = p.Digest
	}

	key, err := requestCacheKey(p.SyncType, since)
	if err != nil {
		return nil, err
	}
	if resp, ok := n.respCache.Get(key); ok {
		n.metrics.cacheHits.Inc()
		return network.Frames{resp}, nil
	}

	n.mu.Lock()
	var bundle causal.Bundle
	if p.SyncType == protocol.SyncFull {
		bundle = n.replica.Components().SinceDigest(causal.NewDigest())
	} else {
		bundle = n.replica.Delta(since)
	}
	digest := n.replica.Digest()
	n.mu.Unlock()

	resp, err := protocol.Encode(protocol.SyncResponse{
		HasDigest: true,
		Digest:    digest,
		Bundle:    bundle,
	})
	if err != nil {
		return nil, err
	}
	n.respCache.Add(key, resp)
	return network.Frames{resp}, nil
}

func (n *Node) ingestSyncResponse(p protocol.SyncResponse) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, crdtID := range p.Bundle.SortedIDs() {
		for _, item := range p.Bundle[crdtID] {
			if err := n.applyRemoteLocked(crdtID, item.Dot, item.Delta); err != nil {
				n.log.Warn("sync: delta rejected",
					"crdt", fmt.Sprintf("%x", crdtID), "dot", item.Dot.String(), "err", err)
				return err
			}
		}
	}
	return nil
}

func requestCacheKey(syncType byte, since causal.Digest) (uint64, error) {
	raw, err := since.Bytes()
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(append(raw, syncType)), nil
}

// Listen accepts anti-entropy connections on addr.
func (n *Node) Listen(ctx context.Context, addr string) error {
	return n.net.Listen(ctx, addr)
}

// Connect keeps an anti-entropy connection to a peer alive.
func (n *Node) Connect(ctx context.Context, addr string) error {
	return n.net.Connect(ctx, addr)
}

// Run kicks a digest exchange on every open session each interval,
// until the context ends. It owns the anti-entropy cadence only; call
// Listen/Connect first.
func (n *Node) Run(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.kickSessions(ctx)
		}
	}
}

func (n *Node) kickSessions(ctx context.Context) {
	req, err := protocol.Encode(protocol.DigestRequest{})
	if err != nil {
		return
	}
	n.slock.Lock()
	defer n.slock.Unlock()
	for name, s := range n.sessions {
		if err := s.out.Drain(ctx, network.Frames{req}); err != nil {
			n.log.Warn("sync: couldn't kick session", "name", name, "err", err)
		}
	}
}

func (n *Node) Close() error {
	return n.net.Close()
}

func (n *Node) installSession(name string) network.FeedDrainCloser {
	s := &session{node: n, name: name, out: utils.NewFrameQueue(outQueueLimit)}
	n.slock.Lock()
	n.sessions[name] = s
	n.slock.Unlock()

	// open the exchange immediately; the ticker only repeats it
	if req, err := protocol.Encode(protocol.DigestRequest{}); err == nil {
		_ = s.out.Drain(context.Background(), network.Frames{req})
	}
	return s
}

func (n *Node) destroySession(name string, _ network.FeedDrainCloser) {
	n.slock.Lock()
	delete(n.sessions, name)
	n.slock.Unlock()
}
