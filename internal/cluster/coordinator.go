package cluster

import (
	"time"

	"go.uber.org/zap"

	"github.com/openendpoint/replicator/internal/object"
)

// RepairEnqueuer is the repair queue contract from spec.md §4.4/§6.
// Enqueue is best-effort from the coordinator's point of view: it has
// no return value the coordinator can act on.
type RepairEnqueuer interface {
	Publish(kind object.ErrorKind, partitionID int64, key []byte)
}

// errEntry is one recorded replica failure.
type errEntry struct {
	Node  string
	Cause string
}

// Reply is the single message the coordinator ever sends the facade.
type Reply struct {
	OK       bool
	Method   object.Method
	Checksum []byte
	Errors   []errEntry
	Timeout  bool
}

// coordinator owns one replication request end to end: it spawns no
// goroutines of its own (the facade spawns endpoints; endpoints post
// to coordinator.inbox) and holds state touched only by its own run
// loop — the "state is not shared" invariant from spec.md §5.
type coordinator struct {
	method      object.Method
	partitionID int64
	key         []byte

	n         int
	remaining int
	needed    int
	acks      [][]byte
	errors    []errEntry
	replied   bool

	inbox   chan object.Outcome
	replyCh chan Reply

	repair RepairEnqueuer
	logger *zap.Logger
}

func newCoordinator(method object.Method, partitionID int64, key []byte, n, w int, repair RepairEnqueuer, logger *zap.Logger) *coordinator {
	return &coordinator{
		method:      method,
		partitionID: partitionID,
		key:         key,
		n:           n,
		remaining:   n,
		needed:      w,
		inbox:       make(chan object.Outcome, n),
		replyCh:     make(chan Reply, 1),
		repair:      repair,
		logger:      logger,
	}
}

// postTimeoutDrain bounds how long the coordinator keeps waiting for
// stragglers after REQ_TIMEOUT has already fired. It must outlast
// HTTPTransport's per-cast handshake timeout (the time a remote node
// takes to even accept the write) with margin for the write itself, but
// it must still be finite: an outcome that never arrives — a crashed
// remote node, a callback that never lands — must not pin the
// coordinator's goroutine and buffered inbox open forever.
const postTimeoutDrain = 30 * time.Second

// run is the coordinator's single-consumer loop. It suspends only on
// its inbox, with a deadline timer disabled after it fires once — per
// spec.md §4.3, the coordinator must keep draining outcomes after
// replying (or timing out) so every failure still gets a repair
// enqueue, but it must never reply twice. Once the deadline fires, a
// second, finite grace timer (postTimeoutDrain) bounds that drain so a straggler that
// never arrives cannot leak the coordinator past REQ_TIMEOUT+grace —
// spec.md §3's "terminates ... on deadline expiry" and §5's resource
// bounds both require the coordinator to actually exit.
func (c *coordinator) run(reqTimeout time.Duration) {
	timerC := time.After(reqTimeout)
	var grace <-chan time.Time

	for c.remaining > 0 {
		select {
		case outcome := <-c.inbox:
			c.handle(outcome)
			c.evaluate()
		case <-timerC:
			c.handleTimeout()
			timerC = nil // disable: a nil channel never becomes ready again
			grace = time.After(postTimeoutDrain)
		case <-grace:
			// Stragglers that still haven't shown up after the grace
			// window are given up on; their repair enqueues, if any,
			// never happened and won't now.
			return
		}
	}

	c.finalize()
}

// handle applies one outcome to the coordinator's counters and, for a
// failure, enqueues repair. This is the only place state is mutated.
func (c *coordinator) handle(o object.Outcome) {
	c.remaining--

	if o.Ok {
		c.acks = append(c.acks, o.Checksum)
		c.needed--
		return
	}

	// Best-effort: a repair enqueue failure must never affect the
	// coordinator's reply to its caller.
	c.repair.Publish(object.KindFor(c.method), c.partitionID, c.key)
	// Prepend: spec.md fixes "most-recent-first" error ordering.
	c.errors = append([]errEntry{{Node: o.Node, Cause: o.Cause}}, c.errors...)
}

// evaluate applies the transition precedence from spec.md §4.3:
// quorum-failure before quorum-success, neither fires twice.
func (c *coordinator) evaluate() {
	if !c.replied && c.remaining < c.needed {
		// Not enough replies are still outstanding to ever collect
		// `needed` more acks: success has become impossible.
		c.reply(Reply{OK: false, Method: c.method, Errors: c.errors})
	}

	if !c.replied && c.needed <= 0 && len(c.acks) > 0 {
		// The checksum of the ack that completed quorum; later acks for
		// the same object are assumed (not verified) to agree — see
		// DESIGN.md's resolution of the checksum-agreement open question.
		c.reply(Reply{OK: true, Method: c.method, Checksum: c.acks[len(c.acks)-1]})
	}
}

// handleTimeout fires the timeout reply if no reply has been sent yet.
// Outcomes still arriving afterward are drained by run's loop so their
// repair enqueues still complete; see spec.md §4.3's deadline clause.
func (c *coordinator) handleTimeout() {
	if c.replied {
		return
	}
	c.reply(Reply{Timeout: true, Method: c.method})
}

// finalize runs once, when remaining has reached zero. Per spec.md
// §4.3 clause 3, this should be unreachable when W <= N and no timeout
// has fired, but is implemented defensively: success if any ack was
// collected, failure otherwise.
func (c *coordinator) finalize() {
	if c.replied {
		return
	}
	if len(c.acks) > 0 {
		c.reply(Reply{OK: true, Method: c.method, Checksum: c.acks[0]})
		return
	}
	c.reply(Reply{OK: false, Method: c.method, Errors: c.errors})
}

// reply is the one-way latch: the first call wins, every later call is
// a no-op. This is the single most important invariant of the
// coordinator (spec.md §4.3).
func (c *coordinator) reply(r Reply) {
	if c.replied {
		return
	}
	c.replied = true
	c.replyCh <- r
}
