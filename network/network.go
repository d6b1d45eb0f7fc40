// Package network implements the Network Manager (spec §4.11): it
// orchestrates subscription lifecycle (pipeline construction, cache-first
// delivery, per-relay REQ fan-out, EOSE tracking, per-subscription ring
// output) and mirrors the Connection Registry's publish lifecycle (spec
// §4.9) for hosts that don't want to drive the registry directly. Grounded
// on the teacher's pkg/protocol/ws subscription bookkeeping (per-sub relay
// tracking, EOSE-count-to-completion) generalized from a server-side relay
// pool to a client-side multi-relay fan-out, and wired directly on top of
// this engine's own cache, pipeline, connreg, and ring packages.
package network

import (
	"context"
	"sync"

	"nostrengine.dev/cache"
	"nostrengine.dev/codec"
	"nostrengine.dev/config"
	"nostrengine.dev/connreg"
	"nostrengine.dev/errorf"
	"nostrengine.dev/event"
	"nostrengine.dev/filter"
	"nostrengine.dev/log"
	"nostrengine.dev/parser"
	"nostrengine.dev/persist"
	"nostrengine.dev/pipeline"
	"nostrengine.dev/request"
	"nostrengine.dev/ring"
	"nostrengine.dev/wireenv"
)

// Manager owns every open subscription's pipeline and ring buffer, and
// implements connreg.Dispatcher so a Registry can route decoded relay
// frames straight to the right subscription.
type Manager struct {
	cfg      *config.C
	worker   *cache.Worker
	registry *connreg.Registry
	parser   *parser.Registry

	mu            sync.Mutex
	subs          map[string]*subscription
	seenFollowups map[string]bool

	persistor *persist.Persistor
}

// New builds a Manager. registry should already exist; callers typically
// wire WithDispatcher(manager) onto it after construction (the two packages
// can't construct each other's dependency first, hence the two-step setup
// rather than New taking a not-yet-built Registry).
func New(cfg *config.C, worker *cache.Worker, registry *connreg.Registry, parserReg *parser.Registry) *Manager {
	return &Manager{cfg: cfg, worker: worker, registry: registry, parser: parserReg, subs: map[string]*subscription{}}
}

// UsePersistor wires p into the Manager so every event the pipeline saves to
// the Cache Worker is followed by an opportunistic persist_if_due (spec
// §4.2, §6). Callers that want persistence typically build p with
// persist.Open(cfg), call p.Restore(worker) once before the Manager starts
// taking subscriptions, then call UsePersistor(p) — a Manager with no
// persistor just never snapshots, which is a valid in-memory-only mode.
func (m *Manager) UsePersistor(p *persist.Persistor) {
	m.mu.Lock()
	m.persistor = p
	m.mu.Unlock()
}

// Shutdown flushes a final unconditional snapshot through the wired
// persistor, if any, and closes it. Safe to call on a Manager with no
// persistor wired (no-op).
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	p := m.persistor
	m.mu.Unlock()
	if p == nil {
		return nil
	}
	if err := p.Persist(m.worker); err != nil {
		return err
	}
	return p.Close()
}

var _ connreg.Dispatcher = (*Manager)(nil)

// Subscribe implements spec §4.11 step 1-2: build sc's pipeline, replay any
// cached_batches into the subscription's ring immediately, and send one REQ
// per relay for whatever the cache didn't already answer.
func (m *Manager) Subscribe(ctx context.Context, subID string, reqs []*request.R, sc SubscriptionConfig) error {
	m.mu.Lock()
	if _, exists := m.subs[subID]; exists {
		m.mu.Unlock()
		return errorf.E("network: subscription %q already open", subID)
	}
	m.mu.Unlock()

	pl, dedup, err := buildPipeline(m.cfg, sc, m.parser, m.worker, subID, func(reqs []*request.R) {
		m.dispatchFollowups(ctx, subID, reqs)
	})
	if err != nil {
		return err
	}

	sub := &subscription{
		id:            subID,
		pl:            pl,
		dedup:         dedup,
		out:           ring.NewBuffer(uint32(m.cfg.SubscriptionRingBytes)),
		closeOnEOSE:   anyCloseOnEOSE(reqs),
		pendingRelays: map[string]bool{},
		eosedRelays:   map[string]bool{},
	}

	m.mu.Lock()
	m.subs[subID] = sub
	m.mu.Unlock()

	remaining, cachedBatches, err := m.worker.QueryEventsForRequests(reqs, true)
	if err != nil {
		m.mu.Lock()
		delete(m.subs, subID)
		m.mu.Unlock()
		return err
	}

	for _, batch := range cachedBatches {
		out, berr := pl.ProcessCachedBatch(batch.Records)
		if berr != nil {
			log.W.F("network: %s: cached batch failed: %v", subID, berr)
			continue
		}
		for _, rec := range out {
			sub.write(rec)
		}
	}

	groups := groupByRelay(remaining, m.cfg.DefaultRelays)
	if len(groups) == 0 {
		m.emitEoce(sub)
		if sub.closeOnEOSE {
			m.Unsubscribe(ctx, subID)
		}
		return nil
	}

	for url, filters := range groups {
		frame, ferr := codec.EncodeClient(&codec.ReqMsg{SubID: subID, Filters: filters})
		if ferr != nil {
			log.W.F("network: %s: encode REQ for %s failed: %v", subID, url, ferr)
			continue
		}
		if errs := m.registry.SendToRelays(ctx, []string{url}, [][]byte{frame}); len(errs) > 0 {
			log.W.F("network: %s: send REQ to %s failed: %v", subID, url, errs[0])
			continue
		}
		sub.mu.Lock()
		sub.pendingRelays[url] = true
		sub.mu.Unlock()
		m.registry.TrackSub(subID, url)
	}
	return nil
}

// Unsubscribe implements spec §4.11 step 5: CLOSE every relay tracking
// subID, tear down the pipeline's resources, and forget the subscription.
// Reading whatever is still in the ring remains possible until the host
// calls Read one last time and discards the Manager's reference — flushing
// here means no further writes happen, not that the buffer is erased.
func (m *Manager) Unsubscribe(ctx context.Context, subID string) {
	m.mu.Lock()
	sub, ok := m.subs[subID]
	if ok {
		delete(m.subs, subID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.registry.CloseAll(ctx, subID)
	if sub.dedup != nil {
		sub.dedup.Close()
	}
}

// Read drains every record written to subID's ring since the last Read
// call, along with the buffer's cumulative dropped-record count (spec
// §6.4).
func (m *Manager) Read(subID string) ([][]byte, uint64, error) {
	sub := m.get(subID)
	if sub == nil {
		return nil, 0, errorf.E("network: no such subscription %q", subID)
	}
	return sub.drain(), sub.out.Dropped(), nil
}

// Publish mirrors the Connection Registry's publish lifecycle (spec §4.9,
// §4.11 "Publish lifecycle mirrors §4.9"), resolving target relays via
// DetermineTargetRelays when the caller doesn't supply an explicit set.
func (m *Manager) Publish(ctx context.Context, ev *event.E, relays []string) *connreg.PublishHandle {
	if len(relays) == 0 {
		relays = m.registry.DetermineTargetRelays(ev)
	}
	return m.registry.Publish(ctx, ev, relays)
}

// VerifyProof runs ev through a standalone proof-verification pipeline
// (spec §4.10's Pipeline::proof_verification, grounded in
// pipeline.ProofVerificationPipeline) without opening a subscription or
// touching the cache, for hosts implementing the VerifyProof signer RPC op.
func (m *Manager) VerifyProof(ev *event.E, maxProofs int) (bool, error) {
	pl, err := pipeline.ProofVerificationPipeline(m.parser, "verify-proof", maxProofs)
	if err != nil {
		return false, err
	}
	return pl.Survives(pipeline.FromRaw(ev, ""))
}

// WalletProofs aggregates every cached kind-7375 token event matching f
// into a per-mint unspent proof set (SPEC_FULL.md's Cashu wallet
// aggregation supplement), for a host rendering a wallet balance without
// opening a subscription — the subscription path (Subscribe with a
// kind-7375 filter) gets the same aggregation for free through
// QueryEventsForRequests's cached_batches, since AggregateProofs and
// QueryEventsForRequests share the same underlying planner query.
func (m *Manager) WalletProofs(f *filter.F) (wireenv.ProofsResponse, error) {
	groups, err := m.worker.AggregateProofs(f)
	if err != nil {
		return wireenv.ProofsResponse{}, err
	}
	resp := wireenv.ProofsResponse{Mints: make([]wireenv.ProofsResponseMint, 0, len(groups))}
	for _, g := range groups {
		resp.Mints = append(resp.Mints, wireenv.ProofsResponseMint{Mint: g.Mint, Proofs: g.Proofs})
	}
	return resp, nil
}

func (m *Manager) get(subID string) *subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs[subID]
}

// --- connreg.Dispatcher ---

// Event implements connreg.Dispatcher: route a relay-delivered frame
// through its subscription's pipeline (spec §4.11 step 3).
func (m *Manager) Event(url, subID string, ev *event.E) {
	sub := m.get(subID)
	if sub == nil {
		return
	}
	out, err := sub.pl.Process(pipeline.FromRaw(ev, url))
	if err != nil {
		log.W.F("network: %s: pipeline error from %s: %v", subID, url, err)
		return
	}
	if out != nil {
		sub.write(out)
	}

	m.mu.Lock()
	p := m.persistor
	m.mu.Unlock()
	if p != nil {
		if perr := p.PersistIfDue(m.worker); perr != nil {
			log.W.F("network: persist_if_due failed: %v", perr)
		}
	}
}

// Eose implements connreg.Dispatcher: track per-relay EOSE and, once every
// relay the subscription was sent to has signalled, emit a single Eoce
// status (spec §4.11 step 4).
func (m *Manager) Eose(url, subID string) {
	sub := m.get(subID)
	if sub == nil {
		return
	}
	sub.mu.Lock()
	sub.eosedRelays[url] = true
	done := sub.allEosedLocked() && !sub.eoced
	if done {
		sub.eoced = true
	}
	closeOnEOSE := sub.closeOnEOSE
	sub.mu.Unlock()

	if done {
		m.emitEoce(sub)
		if closeOnEOSE {
			m.Unsubscribe(context.Background(), subID)
		}
	}
}

// ClosedSub implements connreg.Dispatcher: a relay unilaterally closing the
// subscription counts as that relay's EOSE for completion-tracking purposes
// — there will be no further events or EOSE from it.
func (m *Manager) ClosedSub(url, subID, reason string) {
	log.W.F("network: relay %s closed sub %s: %s", url, subID, reason)
	m.Eose(url, subID)
}

// Count implements connreg.Dispatcher: a relay's NIP-45 COUNT reply is
// surfaced to the host as a CountResponse DirectOutput, same envelope shape
// the pipeline's own Counter pipe uses, distinguished from it by the
// subscription having no local Counter stage.
func (m *Manager) Count(url, subID string, count int) {
	sub := m.get(subID)
	if sub == nil {
		return
	}
	resp := wireenv.CountResponse{Count: int64(count)}
	env := wireenv.Encode(&wireenv.Envelope{SubID: subID, URL: url, Type: wireenv.MsgCountResponse, Content: wireenv.EncodeCountResponse(resp)})
	sub.write(env)
}

// dispatchFollowups sends a parsed event's derived follow-up Requests
// (SPEC_FULL.md's parser requests-derivation supplement) as additional REQ
// frames under parentSubID, so their results flow through the same
// pipeline and ring the triggering subscription already has open rather
// than opening orphan subscriptions nobody reads. Coalesces by filter
// fingerprint so, e.g., a burst of kind-7 reactions from many authors all
// missing the same cached profile doesn't re-request it once per reaction
// (ground: nostr-worker/src/network/mod.rs's worker-side request
// coalescing, folded into this step per SPEC_FULL.md).
func (m *Manager) dispatchFollowups(ctx context.Context, parentSubID string, reqs []*request.R) {
	sub := m.get(parentSubID)
	if sub == nil {
		return
	}
	for _, req := range reqs {
		key := req.Filter.Fingerprint()
		m.mu.Lock()
		if m.seenFollowups == nil {
			m.seenFollowups = map[string]bool{}
		}
		if m.seenFollowups[key] {
			m.mu.Unlock()
			continue
		}
		m.seenFollowups[key] = true
		m.mu.Unlock()

		relays := req.Relays
		if len(relays) == 0 {
			relays = m.cfg.DefaultRelays
		}
		frame, ferr := codec.EncodeClient(&codec.ReqMsg{SubID: parentSubID, Filters: []*filter.F{req.Filter}})
		if ferr != nil {
			log.W.F("network: %s: encode follow-up REQ failed: %v", parentSubID, ferr)
			continue
		}
		for _, url := range relays {
			if errs := m.registry.SendToRelays(ctx, []string{url}, [][]byte{frame}); len(errs) > 0 {
				log.W.F("network: %s: follow-up REQ to %s failed: %v", parentSubID, url, errs[0])
				continue
			}
			sub.mu.Lock()
			sub.pendingRelays[url] = true
			sub.eoced = false
			sub.mu.Unlock()
			m.registry.TrackSub(parentSubID, url)
		}
	}
}

func (m *Manager) emitEoce(sub *subscription) {
	sub.write(wireenv.Encode(&wireenv.Envelope{SubID: sub.id, Type: wireenv.MsgEoce}))
}

// groupByRelay fans requests out per target relay (falling back to
// defaultRelays, capped at MaxRelays) and merges same-shape filters within
// each group into a single filter (spec §4.11 step 2: "optimizer
// deduplicates overlapping filters within a group").
func groupByRelay(reqs []*request.R, defaultRelays []string) map[string][]*filter.F {
	byRelay := map[string][]*filter.F{}
	for _, req := range reqs {
		relays := req.Relays
		if len(relays) == 0 {
			relays = defaultRelays
		}
		if req.MaxRelays > 0 && len(relays) > req.MaxRelays {
			relays = relays[:req.MaxRelays]
		}
		for _, url := range relays {
			byRelay[url] = append(byRelay[url], req.Filter)
		}
	}
	merged := make(map[string][]*filter.F, len(byRelay))
	for url, filters := range byRelay {
		merged[url] = mergeFilters(filters)
	}
	return merged
}

func mergeFilters(filters []*filter.F) []*filter.F {
	var out []*filter.F
	for _, f := range filters {
		placed := false
		for i, existing := range out {
			if existing.SameShape(f) {
				out[i] = existing.MergeKinds(f)
				placed = true
				break
			}
		}
		if !placed {
			out = append(out, f)
		}
	}
	return out
}

func anyCloseOnEOSE(reqs []*request.R) bool {
	if len(reqs) == 0 {
		return false
	}
	for _, r := range reqs {
		if !r.CloseOnEOSE {
			return false
		}
	}
	return true
}
