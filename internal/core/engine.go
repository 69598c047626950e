package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ReserveBank/internal/event"
	"ReserveBank/internal/ledger"
	"ReserveBank/internal/observability"
)

// Engine is the ledger facade. Every mutating operation runs to completion
// under a single lock; queries take the read lock and never mutate.
type Engine struct {
	mu sync.RWMutex

	// Last applied sequence. 0 until genesis.
	sequence  int64
	owner     ledger.Account
	endowment ledger.Amount

	hasher      *StateHasher
	balances    *ledger.BalanceTracker
	debts       *ledger.DebtBook
	validator   *ledger.InvariantValidator
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	clock       func() time.Time

	persistChan chan<- Output
	notifyChan  chan<- Output
}

// Output is everything downstream workers need to mirror one applied operation.
type Output struct {
	Envelope     *event.EventEnvelope
	Notification *event.Notification
	Delta        ledger.Delta
	Owner        ledger.Account
	Endowment    ledger.Amount
}

// Result is returned to the caller of a mutating operation.
type Result struct {
	Sequence  int64
	EventID   uuid.UUID
	StateHash [32]byte

	// Duplicate is set when the request id was already applied. Nothing
	// else is filled in that case.
	Duplicate bool

	// Repay only.
	Settlement *ledger.SettlementResult
}

type Options struct {
	// PersistChan receives every output with a blocking send. Nil disables persistence.
	PersistChan chan<- Output
	// NotifyChan receives outputs with a non-blocking send; full means dropped.
	NotifyChan chan<- Output

	DBChecker   DBIdempotencyChecker
	LRUCapacity int
	Metrics     *observability.Metrics

	// Clock stamps envelopes. Defaults to time.Now.
	Clock func() time.Time
}

func NewEngine(opts Options) *Engine {
	balances := ledger.NewBalanceTracker()
	debts := ledger.NewDebtBook()

	capacity := opts.LRUCapacity
	if capacity <= 0 {
		capacity = 100_000
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Engine{
		hasher:      NewStateHasher(),
		balances:    balances,
		debts:       debts,
		validator:   ledger.NewInvariantValidator(balances, debts),
		idempotency: NewIdempotencyChecker(capacity, opts.DBChecker, opts.Metrics),
		metrics:     opts.Metrics,
		clock:       clock,
		persistChan: opts.PersistChan,
		notifyChan:  opts.NotifyChan,
	}
}

// Genesis creates the ledger by crediting endowment to owner. It can run
// only once, on an engine that was neither initialized nor restored.
func (c *Engine) Genesis(owner ledger.Account, endowment ledger.Amount) (*Result, error) {
	return c.Execute(&event.Genesis{Owner: owner, Endowment: endowment})
}

// Transfer moves value from one account to another.
func (c *Engine) Transfer(requestID string, from, to ledger.Account, value ledger.Amount) (*Result, error) {
	return c.Execute(&event.Transfer{RequestID: requestID, From: from, To: to, Value: value})
}

// Borrow debits lender and records that borrower owes lender value.
func (c *Engine) Borrow(requestID string, lender, borrower ledger.Account, value ledger.Amount) (*Result, error) {
	return c.Execute(&event.Borrow{RequestID: requestID, Lender: lender, Borrower: borrower, Value: value})
}

// Repay settles debtor's debts with value, or transfers value from
// counterparty to debtor when debtor owes nothing.
func (c *Engine) Repay(requestID string, debtor, counterparty ledger.Account, value ledger.Amount) (*Result, error) {
	return c.Execute(&event.Repay{RequestID: requestID, Debtor: debtor, Counterparty: counterparty, Value: value})
}

// applied collects what a handler changed.
type applied struct {
	balanceKeys  []ledger.Account
	debtKeys     []ledger.Account
	notification event.Notification
	settlement   *ledger.SettlementResult
}

// Execute is the processing pipeline shared by every mutating operation.
func (c *Engine) Execute(evt event.Event) (*Result, error) {
	return c.execute(evt, nil)
}

// Replay re-applies an operation read back from the event log. Deduplication
// is skipped, the logged event id and timestamp are reused and the resulting
// state hash must equal the logged one. Replayed operations reach the persist
// channel but never the notify channel.
func (c *Engine) Replay(evt event.Event, rec *ReplayRecord) (*Result, error) {
	return c.execute(evt, rec)
}

// ReplayRecord carries the logged values a replayed operation must reproduce.
type ReplayRecord struct {
	Sequence  int64
	EventID   uuid.UUID
	Timestamp time.Time
	StateHash [32]byte
}

func (c *Engine) execute(evt event.Event, replay *ReplayRecord) (*Result, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	key := evt.IdempotencyKey()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, isGenesis := evt.(*event.Genesis); isGenesis {
		if c.sequence != 0 {
			return nil, ErrAlreadyInitialized
		}
	} else if c.sequence == 0 {
		return nil, ErrNotInitialized
	}

	if replay != nil && replay.Sequence != c.sequence+1 {
		return nil, fmt.Errorf("%w: logged sequence %d, engine at %d", ErrReplayDivergence, replay.Sequence, c.sequence)
	}

	// Step 1: idempotency
	if replay == nil && c.idempotency.IsDuplicate(eventType, key) {
		c.reject(eventType, "duplicate")
		return &Result{Duplicate: true}, nil
	}

	// Step 2: validate and apply. Handlers check everything before mutating.
	app, err := c.dispatch(evt)
	if err != nil {
		c.reject(eventType, rejectReason(err))
		return nil, err
	}

	// Step 3: post-checks
	if err := c.validator.ValidateConservation(c.endowment); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s: %v", eventType, err))
	}
	if err := c.validator.ValidateDebtBook(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s: %v", eventType, err))
	}

	// Step 4: sequence, hash and envelope
	c.sequence++
	delta := ledger.CollectDelta(c.balances, c.debts, app.balanceKeys, app.debtKeys)
	prevHash := c.hasher.Tip()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest(delta))

	n := app.notification
	n.EventID = uuid.New()
	n.Timestamp = c.clock().UTC()
	if replay != nil {
		if stateHash != replay.StateHash {
			panic(fmt.Sprintf("FATAL: %v: state hash mismatch at sequence %d", ErrReplayDivergence, c.sequence))
		}
		n.EventID = replay.EventID
		n.Timestamp = replay.Timestamp.UTC()
	}
	n.Sequence = c.sequence
	n.Kind = evt.EventType()
	n.RequestID = key
	n.SetStateHash(stateHash)

	payload, err := n.Marshal()
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode notification %d: %v", c.sequence, err))
	}

	output := Output{
		Envelope: &event.EventEnvelope{
			Sequence:       c.sequence,
			EventID:        n.EventID,
			IdempotencyKey: key,
			EventType:      evt.EventType(),
			Timestamp:      n.Timestamp,
			Payload:        payload,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Notification: &n,
		Delta:        delta,
		Owner:        c.owner,
		Endowment:    c.endowment,
	}

	// Step 5: emit. The persist send blocks while holding the lock so the
	// log observes operations in sequence order. Replayed operations were
	// already announced when they first ran, so only the state store sees
	// them again.
	if c.persistChan != nil {
		c.persistChan <- output
	}
	if c.notifyChan != nil && replay == nil {
		select {
		case c.notifyChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.NotifyDrops.Inc()
			}
		}
	}

	// Step 6: remember the request id
	c.idempotency.MarkProcessed(eventType, key)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.DebtorsOutstanding.Set(float64(len(c.debts.Debtors())))
		c.metrics.DebtOutstanding.Set(c.debts.Total().Float64())
		if s := app.settlement; s != nil {
			if s.Fallback {
				c.metrics.CoreFallbacks.Inc()
			}
			c.metrics.CoreSettlements.Add(float64(len(s.Settlements)))
			c.metrics.CoreRefunded.Add(s.Refunded.Float64())
		}
	}

	return &Result{
		Sequence:   c.sequence,
		EventID:    n.EventID,
		StateHash:  stateHash,
		Settlement: app.settlement,
	}, nil
}

func (c *Engine) dispatch(evt event.Event) (*applied, error) {
	switch e := evt.(type) {
	case *event.Genesis:
		return c.handleGenesis(e)
	case *event.Transfer:
		return c.handleTransfer(e)
	case *event.Borrow:
		return c.handleBorrow(e)
	case *event.Repay:
		return c.handleRepay(e)
	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func (c *Engine) handleGenesis(evt *event.Genesis) (*applied, error) {
	if err := requireAccounts(evt.Owner); err != nil {
		return nil, err
	}
	c.owner = evt.Owner
	c.endowment = evt.Endowment
	c.balances.Credit(evt.Owner, evt.Endowment)

	return &applied{
		balanceKeys: []ledger.Account{evt.Owner},
		notification: event.Notification{
			To:    evt.Owner,
			Value: evt.Endowment,
		},
	}, nil
}

func (c *Engine) handleTransfer(evt *event.Transfer) (*applied, error) {
	if err := requireAccounts(evt.From, evt.To); err != nil {
		return nil, err
	}
	if err := ledger.Transfer(c.balances, evt.From, evt.To, evt.Value); err != nil {
		return nil, err
	}

	from := evt.From
	return &applied{
		balanceKeys: []ledger.Account{evt.From, evt.To},
		notification: event.Notification{
			From:  &from,
			To:    evt.To,
			Value: evt.Value,
		},
	}, nil
}

func (c *Engine) handleBorrow(evt *event.Borrow) (*applied, error) {
	if err := requireAccounts(evt.Lender, evt.Borrower); err != nil {
		return nil, err
	}
	if err := ledger.Borrow(c.balances, c.debts, evt.Borrower, evt.Lender, evt.Value); err != nil {
		return nil, err
	}

	lender := evt.Lender
	return &applied{
		balanceKeys: []ledger.Account{evt.Lender},
		debtKeys:    []ledger.Account{evt.Borrower},
		notification: event.Notification{
			From:  &lender,
			To:    evt.Borrower,
			Value: evt.Value,
		},
	}, nil
}

func (c *Engine) handleRepay(evt *event.Repay) (*applied, error) {
	if err := requireAccounts(evt.Debtor, evt.Counterparty); err != nil {
		return nil, err
	}
	res, err := ledger.Settle(c.balances, c.debts, evt.Debtor, evt.Counterparty, evt.Value)
	if err != nil {
		return nil, err
	}

	counterparty := evt.Counterparty
	app := &applied{
		settlement: res,
		notification: event.Notification{
			From:     &counterparty,
			To:       evt.Debtor,
			Value:    evt.Value,
			Fallback: res.Fallback,
		},
	}

	if res.Fallback {
		app.balanceKeys = []ledger.Account{evt.Counterparty, evt.Debtor}
		return app, nil
	}

	refunded := res.Refunded
	app.notification.Refunded = &refunded
	app.notification.Settlements = res.Settlements
	app.debtKeys = []ledger.Account{evt.Debtor}
	for _, s := range res.Settlements {
		app.balanceKeys = append(app.balanceKeys, s.Lender)
	}
	return app, nil
}

func requireAccounts(accounts ...ledger.Account) error {
	for _, a := range accounts {
		if a.IsZero() {
			return fmt.Errorf("%w: zero account", ledger.ErrInvalidAccount)
		}
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidAccount):
		return "invalid_account"
	default:
		return "other"
	}
}

func (c *Engine) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

// stateDigest serializes the post-operation values of the touched keys in
// a fixed order:
//
//	'B' || account || amount(16 BE)               per balance, accounts sorted
//	'D' || debtor || count(4 BE) || (lender || amount(16 BE))*   per debtor, sorted
func stateDigest(d ledger.Delta) []byte {
	balanceKeys := sortedKeys(d.Balances)
	debtKeys := make([]ledger.Account, 0, len(d.Debts))
	for k := range d.Debts {
		debtKeys = append(debtKeys, k)
	}
	sortAccounts(debtKeys)

	digest := make([]byte, 0, len(balanceKeys)*49+len(debtKeys)*64)
	for _, a := range balanceKeys {
		amount := d.Balances[a].Bytes16()
		digest = append(digest, 'B')
		digest = append(digest, a[:]...)
		digest = append(digest, amount[:]...)
	}
	for _, debtor := range debtKeys {
		entries := d.Debts[debtor]
		digest = append(digest, 'D')
		digest = append(digest, debtor[:]...)
		n := uint32(len(entries))
		digest = append(digest, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
		for _, e := range entries {
			amount := e.Amount.Bytes16()
			digest = append(digest, e.Lender[:]...)
			digest = append(digest, amount[:]...)
		}
	}
	return digest
}

func sortedKeys(m map[ledger.Account]ledger.Amount) []ledger.Account {
	keys := make([]ledger.Account, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortAccounts(keys)
	return keys
}

func sortAccounts(accounts []ledger.Account) {
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Compare(accounts[j]) < 0
	})
}
