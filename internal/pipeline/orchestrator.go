package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"supplybot/internal/catalog"
	"supplybot/internal/domain"
	"supplybot/internal/escalation"
	"supplybot/internal/idempotency"
	"supplybot/internal/logx"
	"supplybot/internal/matching"
	"supplybot/internal/storage/sqlite"
	"supplybot/internal/verify"
)

const reasonEscalationTimeout = "escalation timeout"

// CatalogSource serves the current catalog snapshot.
type CatalogSource interface {
	Get(ctx context.Context) (*catalog.Snapshot, error)
	Degraded() bool
}

// Escalator hands a decision to a human and waits for the outcome.
type Escalator interface {
	Escalate(ctx context.Context, req domain.EscalationRequest) (domain.EscalationRequest, error)
}

// Submitter creates the supply record in the inventory service.
type Submitter interface {
	CreateSupply(ctx context.Context, s domain.Supply) (string, error)
}

// Reporter is told about every finished document.
type Reporter interface {
	Report(ctx context.Context, rec domain.AuditRecord)
}

type Options struct {
	DB        *sql.DB
	Catalog   CatalogSource
	Resolver  *matching.Resolver
	Verifier  *verify.Verifier
	Guard     *idempotency.Guard
	Escalator Escalator
	Submitter Submitter
	Reporter  Reporter
	Budget    time.Duration
	Currency  string
	Logger    logrus.FieldLogger
}

// Orchestrator runs one document at a time through matching, verification,
// deduplication and submission. Many documents may run concurrently.
type Orchestrator struct {
	db        *sql.DB
	catalog   CatalogSource
	resolver  *matching.Resolver
	verifier  *verify.Verifier
	guard     *idempotency.Guard
	escalator Escalator
	submitter Submitter
	reporter  Reporter
	budget    time.Duration
	currency  string
	logger    logrus.FieldLogger
	now       func() time.Time
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logx.Logger()
	}
	return &Orchestrator{
		db:        opts.DB,
		catalog:   opts.Catalog,
		resolver:  opts.Resolver,
		verifier:  opts.Verifier,
		guard:     opts.Guard,
		escalator: opts.Escalator,
		submitter: opts.Submitter,
		reporter:  opts.Reporter,
		budget:    opts.Budget,
		currency:  opts.Currency,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

// stop ends a run early with a terminal disposition.
type stop struct {
	disposition domain.Disposition
	reason      string
}

func (s *stop) Error() string { return string(s.disposition) + ": " + s.reason }

func failed(format string, args ...any) *stop {
	return &stop{disposition: domain.DispositionFailed, reason: fmt.Sprintf(format, args...)}
}

// run is the state of one document passing through the pipeline.
type run struct {
	rec   *domain.AuditRecord
	doc   domain.ExtractedDocument
	snap  *catalog.Snapshot
	claim *idempotency.Claim
	log   logrus.FieldLogger
}

// Process takes doc to a terminal disposition and appends its audit record.
// Business outcomes (duplicate, rejected, failed) are reported in the record;
// the error is non-nil only when the record itself could not be stored.
func (o *Orchestrator) Process(ctx context.Context, doc domain.ExtractedDocument) (domain.AuditRecord, error) {
	if strings.TrimSpace(doc.Currency) == "" {
		doc.Currency = o.currency
	}
	rec := domain.AuditRecord{
		ID:          uuid.NewString(),
		DocumentKey: idempotency.LabelKey(doc),
		Document:    doc,
		StartedAt:   o.now().UTC(),
	}
	r := &run{
		rec: &rec,
		doc: doc,
		log: o.logger.WithFields(logrus.Fields{
			"document_key": shortKey(rec.DocumentKey),
			"supplier":     doc.SupplierLabel,
			"number":       doc.Number,
		}),
	}
	r.log.Info("processing document")

	err := o.execute(ctx, r)
	r.claim.Release()

	var s *stop
	switch {
	case err == nil:
		rec.Disposition = domain.DispositionSubmitted
	case errors.As(err, &s):
		rec.Disposition = s.disposition
		rec.Reason = s.reason
	default:
		rec.Disposition = domain.DispositionFailed
		rec.Reason = err.Error()
	}
	return o.finish(ctx, r)
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	claim, decision, err := o.guard.ShouldProcess(ctx, r.rec.DocumentKey)
	if err != nil {
		return failed("idempotency check: %v", err)
	}
	if decision == idempotency.Duplicate {
		return o.duplicate(ctx, r, r.rec.DocumentKey, "already processed")
	}
	r.claim = claim

	snap, err := o.catalog.Get(ctx)
	if err != nil {
		return failed("%v", err)
	}
	r.snap = snap
	if o.catalog.Degraded() {
		r.rec.Degraded = true
	}
	if len(snap.Entries(domain.KindSupplier)) == 0 {
		return failed("no supplier catalog entries loaded")
	}
	if len(snap.Entries(domain.KindProduct)) == 0 {
		return failed("no product catalog entries loaded")
	}

	supplier, err := o.resolveSupplier(ctx, r)
	if err != nil {
		return err
	}
	if supplier.Resolved() {
		r.rec.SupplierID = supplier.ID
		d, err := claim.Add(ctx, idempotency.SupplierKey(r.doc, supplier.ID))
		if err != nil {
			return failed("idempotency check: %v", err)
		}
		if d == idempotency.Duplicate {
			return o.duplicate(ctx, r, idempotency.SupplierKey(r.doc, supplier.ID), "already processed for supplier "+supplier.ID)
		}
	}

	lines, err := o.resolveLines(ctx, r)
	if err != nil {
		return err
	}

	result, err := o.verifier.Verify(r.doc, lines)
	if errors.Is(err, verify.ErrUnknownUnit) {
		return failed("unit conversion: %v", err)
	}
	if err != nil {
		return failed("verification: %v", err)
	}
	r.rec.Verification = &result.Outcome
	if !result.Outcome.Passed() {
		if err := o.escalateTotals(ctx, r); err != nil {
			return err
		}
	}
	if len(result.Lines) == 0 {
		return &stop{disposition: domain.DispositionRejected, reason: "every line was skipped"}
	}

	supply := domain.Supply{
		IdempotencyKey: r.rec.DocumentKey,
		SupplierID:     r.rec.SupplierID,
		Number:         r.doc.Number,
		Date:           r.doc.Date,
		Currency:       r.doc.Currency,
		Lines:          result.Lines,
	}
	if supplier.CreateNew {
		supply.SupplierName = strings.TrimSpace(r.doc.SupplierLabel)
	}
	if keys := claim.Keys(); len(keys) > 1 {
		supply.IdempotencyKey = keys[len(keys)-1]
	}
	return o.submit(ctx, r, supply)
}

// submit is the point of no return: cancellation is honoured before the
// call and ignored from then on.
func (o *Orchestrator) submit(ctx context.Context, r *run, supply domain.Supply) error {
	if err := ctx.Err(); err != nil {
		return failed("cancelled before submission: %v", err)
	}
	ctx = context.WithoutCancel(ctx)

	supplyID, err := o.submitter.CreateSupply(ctx, supply)
	if err != nil {
		return failed("submit supply: %v", err)
	}
	r.rec.SupplyID = supplyID
	if err := r.claim.Commit(ctx, supplyID); err != nil {
		logx.LogError(r.log, "pipeline", "submit", "record processed keys", supplyID, err)
	}
	r.log.WithField("supply_id", supplyID).Info("supply submitted")
	return nil
}

func (o *Orchestrator) resolveSupplier(ctx context.Context, r *run) (domain.MatchResult, error) {
	res := o.resolver.ResolveSupplier(r.snap, r.doc.SupplierLabel)
	if res.Resolved() {
		r.rec.Matches = append(r.rec.Matches, res)
		return res, nil
	}
	res, err := o.escalateMatch(ctx, r, res, domain.SubjectSupplier)
	r.rec.Matches = append(r.rec.Matches, res)
	return res, err
}

// resolveLines matches every line, escalating the unsettled ones in
// parallel so a human sees all open questions for the document at once.
func (o *Orchestrator) resolveLines(ctx context.Context, r *run) ([]verify.Line, error) {
	matches := make([]domain.MatchResult, len(r.doc.Items))
	for i, item := range r.doc.Items {
		matches[i] = o.resolver.ResolveLine(r.snap, i, item)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range matches {
		if matches[i].Settled() {
			continue
		}
		g.Go(func() error {
			res, err := o.escalateMatch(gctx, r, matches[i], domain.SubjectLine)
			matches[i] = res
			return err
		})
	}
	err := g.Wait()
	r.rec.Matches = append(r.rec.Matches, matches...)
	if err != nil {
		return nil, err
	}

	lines := make([]verify.Line, len(matches))
	for i, m := range matches {
		lines[i] = verify.Line{Item: r.doc.Items[i], Match: m}
		if m.Resolved() {
			if p, ok := r.snap.Lookup(domain.KindProduct, m.ID); ok {
				lines[i].CatalogUnit = p.Unit
			}
		}
	}
	return lines, nil
}

func (o *Orchestrator) escalateMatch(ctx context.Context, r *run, res domain.MatchResult, subject domain.EscalationSubject) (domain.MatchResult, error) {
	detail := "no confident match"
	if res.Status == domain.MatchAmbiguous {
		detail = "several equally close matches"
	}
	out, err := o.escalator.Escalate(ctx, domain.EscalationRequest{
		DocumentKey: r.rec.DocumentKey,
		Kind:        domain.EscalationMatch,
		Subject:     subject,
		LineIndex:   res.LineIndex,
		Label:       res.Label,
		Detail:      detail,
		Candidates:  res.Candidates,
	})
	if err != nil {
		return res, escalationFailure(err)
	}

	d := out.Decision
	switch d.Action {
	case domain.ActionChoose:
		e, ok := r.snap.Lookup(res.Kind, d.CandidateID)
		if !ok {
			c, _ := out.CandidateByID(d.CandidateID)
			e = domain.CatalogEntry{ID: c.ID, Name: c.Name}
		}
		res.Status = domain.MatchResolved
		res.ID = e.ID
		res.Name = e.Name
		res.Method = domain.MethodHuman
		res.Score = 1
	case domain.ActionCreateNew:
		res.CreateNew = true
	case domain.ActionSkipLine:
		res.Skipped = true
	case domain.ActionReject:
		return res, rejectedBy(d.DecidedBy, fmt.Sprintf("%s %q", subject, res.Label))
	default:
		return res, failed("unexpected decision %q", d.Action)
	}
	return res, nil
}

// duplicate names the supply that key was first submitted as.
func (o *Orchestrator) duplicate(ctx context.Context, r *run, key, reason string) *stop {
	id, err := o.guard.SupplyFor(context.WithoutCancel(ctx), key)
	if err != nil {
		logx.LogError(r.log, "pipeline", "duplicate", "look up earlier supply", nil, err)
	}
	if id != "" {
		reason += " as supply " + id
	}
	return &stop{disposition: domain.DispositionDuplicate, reason: reason}
}

func (o *Orchestrator) escalateTotals(ctx context.Context, r *run) error {
	v := r.rec.Verification
	out, err := o.escalator.Escalate(ctx, domain.EscalationRequest{
		DocumentKey: r.rec.DocumentKey,
		Kind:        domain.EscalationVerification,
		Subject:     domain.SubjectTotals,
		LineIndex:   -1,
		Label:       r.doc.Number,
		Detail: fmt.Sprintf("computed %s, declared %s, difference %s exceeds allowed %s",
			v.Computed.StringFixed(2), v.Declared.StringFixed(2), v.AbsoluteDelta.StringFixed(2), v.Allowed.StringFixed(2)),
	})
	if err != nil {
		return escalationFailure(err)
	}
	switch out.Decision.Action {
	case domain.ActionAcceptComputed:
		v.AcceptedTotal = "computed"
	case domain.ActionAcceptDeclared:
		v.AcceptedTotal = "declared"
	case domain.ActionReject:
		return rejectedBy(out.Decision.DecidedBy, "totals")
	default:
		return failed("unexpected decision %q", out.Decision.Action)
	}
	v.Overridden = true
	v.OverriddenBy = out.Decision.DecidedBy
	r.log.WithField("accepted_total", v.AcceptedTotal).Info("total mismatch settled")
	return nil
}

func escalationFailure(err error) error {
	var s *stop
	switch {
	case errors.As(err, &s):
		return s
	case errors.Is(err, escalation.ErrEscalationTimeout):
		return failed(reasonEscalationTimeout)
	default:
		return failed("escalation: %v", err)
	}
}

func rejectedBy(user, what string) *stop {
	reason := "rejected " + what
	if user != "" {
		reason += " by " + user
	}
	return &stop{disposition: domain.DispositionRejected, reason: reason}
}

func (o *Orchestrator) finish(ctx context.Context, r *run) (domain.AuditRecord, error) {
	rec := r.rec
	rec.FinishedAt = o.now().UTC()
	if o.budget > 0 && rec.FinishedAt.Sub(rec.StartedAt) > o.budget {
		rec.Degraded = true
		r.log.WithField("elapsed", rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond)).Warn("document exceeded its time budget")
	}

	log := r.log.WithFields(logrus.Fields{"disposition": rec.Disposition, "reason": rec.Reason})
	if rec.Disposition == domain.DispositionFailed {
		log.Warn("document failed")
	} else {
		log.Info("document finished")
	}

	ctx = context.WithoutCancel(ctx)
	if err := sqlite.InsertAuditRecord(ctx, o.db, *rec); err != nil {
		return *rec, fmt.Errorf("write audit record: %w", err)
	}
	if o.reporter != nil {
		o.reporter.Report(ctx, *rec)
	}
	return *rec, nil
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
