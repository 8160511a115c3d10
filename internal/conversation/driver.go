package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/loan-sales-assistant/internal/agents"
	"github.com/wolfman30/loan-sales-assistant/internal/loan"
	"github.com/wolfman30/loan-sales-assistant/internal/observability/metrics"
	"github.com/wolfman30/loan-sales-assistant/internal/statestore"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

var tracer = otel.Tracer("loan.internal.conversation")

const (
	// ApologyMessage is returned when a turn could not be processed.
	ApologyMessage = "I apologize, but I encountered an error processing your request. Please try again."

	extractionHistory = 6
	defaultPollEvery  = 250 * time.Millisecond
)

// Rules runs the business-rule function behind a stage machine agent.
type Rules interface {
	Identify(s *loan.State) bool
	Run(ctx context.Context, agent loan.Agent, s *loan.State) (agents.Outcome, error)
}

// Archiver keeps a copy of a finished conversation.
type Archiver interface {
	Archive(ctx context.Context, s *loan.State) error
}

// Result is what one processed message produced.
type Result struct {
	Response  string
	Stage     loan.Stage
	Decision  loan.Decision
	NextAgent loan.Agent
	State     *loan.State
}

func resultFrom(s *loan.State, response string) Result {
	return Result{
		Response:  response,
		Stage:     s.Stage,
		Decision:  s.Decision,
		NextAgent: s.NextAgent,
		State:     s.Clone(),
	}
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

func WithExtractor(e Extractor) DriverOption {
	return func(d *Driver) {
		if e != nil {
			d.extractor = e
		}
	}
}

func WithResponder(r Responder) DriverOption {
	return func(d *Driver) {
		if r != nil {
			d.responder = r
		}
	}
}

func WithArchiver(a Archiver) DriverOption {
	return func(d *Driver) { d.archiver = a }
}

func WithLogger(l *logging.Logger) DriverOption {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithMetrics(m *metrics.ConversationMetrics) DriverOption {
	return func(d *Driver) { d.metrics = m }
}

// WithLoopGuardLimit bounds stage machine passes per message.
func WithLoopGuardLimit(n int) DriverOption {
	return func(d *Driver) {
		if n > 0 {
			d.loopLimit = n
		}
	}
}

// WithSyncWait lets a turn wait up to d for the background workers to
// score pending documents or issue a due sanction letter. Zero disables
// waiting; the next turn picks the results up instead.
func WithSyncWait(wait, pollEvery time.Duration) DriverOption {
	return func(d *Driver) {
		if wait >= 0 {
			d.syncWait = wait
		}
		if pollEvery > 0 {
			d.pollEvery = pollEvery
		}
	}
}

// WithTransitionFunc replaces the stage machine.
func WithTransitionFunc(fn func(*loan.State) loan.Step) DriverOption {
	return func(d *Driver) {
		if fn != nil {
			d.next = fn
		}
	}
}

// Driver runs one conversation. It owns the stage, the turns and the
// extracted details; the background workers own document scores and the
// sanction letter id, and their progress arrives through the store.
type Driver struct {
	mu        sync.Mutex
	sessionID string
	store     statestore.Store
	rules     Rules
	extractor Extractor
	responder Responder
	archiver  Archiver
	logger    *logging.Logger
	metrics   *metrics.ConversationMetrics
	loopLimit int
	syncWait  time.Duration
	pollEvery time.Duration
	next      func(*loan.State) loan.Step

	state    *loan.State
	archived bool

	// published is what the current turn wrote before it finished, if
	// anything. A rollback withdraws it.
	published *loan.State
}

// NewDriver binds a conversation to store, resuming whatever snapshot the
// store already holds.
func NewDriver(ctx context.Context, sessionID string, store statestore.Store, rules Rules, opts ...DriverOption) (*Driver, error) {
	if store == nil {
		panic("conversation: store cannot be nil")
	}
	if rules == nil {
		panic("conversation: rules cannot be nil")
	}
	d := &Driver{
		sessionID: sessionID,
		store:     store,
		rules:     rules,
		extractor: RuleExtractor{},
		responder: CannedResponder{},
		logger:    logging.Default(),
		loopLimit: loan.DefaultLoopGuardLimit,
		pollEvery: defaultPollEvery,
		next:      loan.Next,
	}
	for _, opt := range opts {
		opt(d)
	}

	state, err := store.Load(ctx, loan.NewState(sessionID))
	if err != nil {
		return nil, fmt.Errorf("conversation: load state: %w", err)
	}
	if state.SessionID == "" {
		state.SessionID = sessionID
	}
	d.sessionID = state.SessionID
	d.state = state
	d.archived = state.Stage == loan.StageClosure
	return d, nil
}

func (d *Driver) SessionID() string {
	return d.sessionID
}

// Start greets the customer when the conversation has no turns yet.
func (d *Driver) Start(ctx context.Context) (Result, error) {
	d.mu.Lock()
	if len(d.state.Messages) > 0 {
		res := resultFrom(d.state, lastAssistantReply(d.state))
		d.mu.Unlock()
		return res, nil
	}
	d.mu.Unlock()
	return d.ProcessMessage(ctx, "Hello")
}

func lastAssistantReply(s *loan.State) string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == loan.RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}

// ProcessMessage runs one customer turn end to end. On failure the state
// rolls back to the last good snapshot plus the turn and an apology, and
// the returned Result still carries the apology and the last known decision.
func (d *Driver) ProcessMessage(ctx context.Context, text string) (res Result, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, span := tracer.Start(ctx, "conversation.process_message",
		trace.WithAttributes(attribute.String("loan.session_id", d.sessionID)))
	defer span.End()

	started := time.Now()
	d.published = nil
	lastGood := d.refresh(ctx, d.state)
	work := lastGood.Clone()
	recent := work.RecentMessages(extractionHistory)
	userMsg := work.AddMessage(loan.RoleUser, text)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("conversation: panic during turn: %v", r)
			res = d.rollback(ctx, lastGood, userMsg, err)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.String("loan.stage", string(res.Stage)),
			attribute.String("loan.decision", string(res.Decision)),
		)
		d.metrics.ObserveTurn(string(res.Stage), outcome, time.Since(started).Seconds())
	}()

	work, reply, err := d.turn(ctx, work, recent, text)
	if err != nil {
		return d.rollback(ctx, lastGood, userMsg, err), err
	}
	d.state = work
	d.archive(ctx)
	return resultFrom(work, reply), nil
}

func (d *Driver) turn(ctx context.Context, work *loan.State, recent []loan.Message, text string) (*loan.State, string, error) {
	d.extract(ctx, work, recent, text)

	notes, err := d.advance(ctx, work)
	if err != nil {
		return nil, "", err
	}
	work = d.sync(ctx, work)

	reply, err := d.responder.Reply(ctx, work, notes)
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil && ctx.Err() == nil {
			d.logger.Warn("reply generation failed, using canned reply", "session_id", d.sessionID, "stage", string(work.Stage), "error", err)
		}
		reply, _ = CannedResponder{}.Reply(ctx, work, notes)
	}
	work.AddMessage(loan.RoleAssistant, reply)
	work = d.sync(ctx, work)
	return work, reply, nil
}

func (d *Driver) extract(ctx context.Context, work *loan.State, recent []loan.Message, text string) {
	ext, err := d.extractor.Extract(ctx, work.Stage, recent, text)
	if err != nil {
		d.logger.Warn("entity extraction failed", "session_id", d.sessionID, "stage", string(work.Stage), "error", err)
		work.AddError("extraction", err.Error(), loan.AgentNone)
		return
	}
	applied := loan.ApplyEntities(work, ext.Entities)
	if !loan.CustomerIdentified(work) {
		d.rules.Identify(work)
	}
	if len(applied) > 0 {
		d.logger.Debug("entities applied", "session_id", d.sessionID, "intent", ext.Intent, "keys", applied)
	}
}

// advance steps the stage machine until it settles on a stage, reaches a
// terminal stage or trips the loop guard.
func (d *Driver) advance(ctx context.Context, work *loan.State) ([]string, error) {
	guard := loan.NewLoopGuard(d.loopLimit)
	var notes []string
	seen := map[string]bool{}
	waited := false

	for {
		if err := guard.Tick(); err != nil {
			d.logger.Warn("stage machine loop guard tripped", "session_id", d.sessionID, "stage", string(work.Stage), "passes", guard.Count())
			d.metrics.ObserveLoopGuardTrip()
			loan.ResetToGreeting(work, err)
			return notes, nil
		}

		step := d.next(work)
		if step.Warning != "" {
			d.logger.Warn("stage machine fallback", "session_id", d.sessionID, "warning", step.Warning)
			work.AddError("unknown_stage", step.Warning, step.Agent)
		}
		work.Stage = step.Stage
		work.NextAgent = step.Agent
		if step.Terminal {
			return notes, nil
		}

		out, err := d.rules.Run(ctx, step.Agent, work)
		if err != nil {
			return nil, err
		}
		for _, n := range out.Notes {
			if !seen[n] {
				seen[n] = true
				notes = append(notes, n)
			}
		}

		if !waited && d.waitingOnWorkers(work) {
			waited = true
			if err := d.awaitWorkers(ctx, work); err != nil {
				return nil, err
			}
		}

		if !step.Advanced() && d.next(work).Stage == work.Stage {
			return notes, nil
		}
	}
}

func (d *Driver) waitingOnWorkers(s *loan.State) bool {
	if d.syncWait <= 0 {
		return false
	}
	return len(s.PendingDocuments()) > 0 || (s.Decision.Approved() && s.SanctionLetterID == "")
}

// awaitWorkers publishes the current state and polls the store until the
// workers have caught up or the wait runs out.
func (d *Driver) awaitWorkers(ctx context.Context, work *loan.State) error {
	d.published = work.Clone()
	*work = *d.sync(ctx, work)

	deadline := time.NewTimer(d.syncWait)
	defer deadline.Stop()
	ticker := time.NewTicker(d.pollEvery)
	defer ticker.Stop()

	for d.waitingOnWorkers(work) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			d.logger.Debug("workers still busy after sync wait", "session_id", d.sessionID, "wait", d.syncWait.String())
			return nil
		case <-ticker.C:
			disk, err := d.store.Load(ctx, nil)
			if err != nil {
				d.logger.Warn("poll state failed", "session_id", d.sessionID, "error", err)
				continue
			}
			if disk != nil {
				*work = *loan.Merge(work, disk)
			}
		}
	}
	return nil
}

// refresh folds in whatever the workers committed since the last turn.
func (d *Driver) refresh(ctx context.Context, s *loan.State) *loan.State {
	disk, err := d.store.Load(ctx, nil)
	if err != nil {
		d.logger.Warn("load state failed", "session_id", d.sessionID, "error", err)
		return s.Clone()
	}
	return loan.Merge(s, disk)
}

// sync writes work through the store, folding in whatever the workers
// committed meanwhile, and returns the merged view. Store failures leave
// the in-memory state authoritative for this turn.
func (d *Driver) sync(ctx context.Context, work *loan.State) *loan.State {
	written, _, err := d.store.Update(ctx, work, func(disk *loan.State) (bool, error) {
		*disk = *loan.Merge(work, disk)
		return true, nil
	})
	if err != nil {
		d.logger.Error("persist state failed", "session_id", d.sessionID, "location", d.store.Location(), "error", err)
		return work
	}
	return loan.Merge(work, written)
}

// rollback restores the last good snapshot, records the failed turn with an
// apology and persists that on a best-effort basis. When the turn already
// published its work so the workers could pick it up, only the workers'
// output is kept from the store; the turn's own decision and replies are
// withdrawn.
func (d *Driver) rollback(ctx context.Context, lastGood *loan.State, userMsg loan.Message, cause error) Result {
	d.logger.Error("turn failed", "session_id", d.sessionID, "stage", string(lastGood.Stage), "error", cause)
	state := lastGood.Clone()
	state.Messages = append(state.Messages, userMsg)
	state.AddError("processing", cause.Error(), state.NextAgent)
	state.AddMessage(loan.RoleAssistant, ApologyMessage)

	persistCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if d.published == nil {
		state = d.sync(persistCtx, state)
	} else {
		state = d.withdraw(persistCtx, state, d.published.Messages)
		d.published = nil
	}
	d.state = state
	return resultFrom(state, ApologyMessage)
}

func (d *Driver) withdraw(ctx context.Context, state *loan.State, withdrawn []loan.Message) *loan.State {
	written, _, err := d.store.Update(ctx, state, func(disk *loan.State) (bool, error) {
		*disk = *loan.MergeWorkerOutput(state, disk, withdrawn)
		return true, nil
	})
	if err != nil {
		d.logger.Error("persist rollback failed", "session_id", d.sessionID, "location", d.store.Location(), "error", err)
		return state
	}
	return written
}

func (d *Driver) archive(ctx context.Context) {
	if d.archived || d.archiver == nil || d.state.Stage != loan.StageClosure {
		return
	}
	d.archived = true
	if err := d.archiver.Archive(ctx, d.state.Clone()); err != nil {
		d.logger.Error("archive conversation failed", "session_id", d.sessionID, "error", err)
	}
}

// RecordUpload registers an uploaded income document and returns its id.
// The document verifier scores it on its next cycle.
func (d *Driver) RecordUpload(ctx context.Context, docType, filename string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	work := d.state.Clone()
	id, err := work.RecordUpload(docType, filename)
	if err != nil {
		return "", err
	}
	work.AddMessage(loan.RoleSystem, fmt.Sprintf("Document uploaded: %s (%s)", filename, docType))

	written, _, err := d.store.Update(ctx, work, func(disk *loan.State) (bool, error) {
		*disk = *loan.Merge(work, disk)
		return true, nil
	})
	if err != nil {
		return "", fmt.Errorf("conversation: persist upload: %w", err)
	}
	d.state = loan.Merge(work, written)
	d.logger.Info("document uploaded", "session_id", d.sessionID, "doc_id", id, "document_type", docType)
	return id, nil
}

// Snapshot returns the current state with any worker progress folded in.
func (d *Driver) Snapshot(ctx context.Context) (*loan.State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	disk, err := d.store.Load(ctx, nil)
	if err != nil {
		return d.state.Clone(), fmt.Errorf("conversation: load state: %w", err)
	}
	if disk != nil {
		d.state = loan.Merge(d.state, disk)
	}
	return d.state.Clone(), nil
}

// Reset starts the conversation over under the same session id.
func (d *Driver) Reset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	fresh := loan.NewState(d.sessionID)
	if err := d.store.Save(ctx, fresh); err != nil {
		return fmt.Errorf("conversation: reset state: %w", err)
	}
	d.state = fresh
	d.archived = false
	return nil
}

// IsApology reports whether r came from a failed turn.
func IsApology(r Result) bool {
	return r.Response == ApologyMessage
}

var errEmptyMessage = errors.New("conversation: empty message")

// Validate rejects blank customer input before it reaches the driver.
func Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return errEmptyMessage
	}
	return nil
}
