// Package engine executes triggers: it evaluates a definition's condition
// chain, walks the gated action list consulting claim limits, mutates
// principal state through the store, and folds the outcomes into deliverable
// payloads.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"actionforge.gg/internal/indexdb"
	auditlog "actionforge.gg/internal/persistence/log"
	"actionforge.gg/internal/protocol"
	"actionforge.gg/internal/rules"
	"actionforge.gg/internal/store"
)

// AuditSink receives audit entries; failures are logged, never fatal.
type AuditSink interface {
	Write(auditlog.Entry) error
}

// IndexSink receives async rows for the operator query index.
type IndexSink interface {
	RecordExecution(indexdb.ExecutionRow)
	RecordClaim(indexdb.ClaimRow)
}

type Engine struct {
	store  *store.Store
	logger *log.Logger
	audit  AuditSink
	index  IndexSink

	metrics Metrics
}

// Metrics are cheap atomic counters scraped by /metrics.
type Metrics struct {
	Triggers      atomic.Int64
	ClaimsGranted atomic.Int64
	ClaimsDenied  atomic.Int64
	Failures      atomic.Int64
}

func New(st *store.Store, audit AuditSink, logger *log.Logger) *Engine {
	return &Engine{store: st, logger: logger, audit: audit}
}

func (e *Engine) MetricsRef() *Metrics { return &e.metrics }

// SetIndex attaches the optional query index. Not safe to call after the
// engine starts serving.
func (e *Engine) SetIndex(ix IndexSink) { e.index = ix }

// Error is a coded engine failure; Code is one of the protocol error codes.
type Error struct {
	Code string
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

func codedErr(code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Trigger is one inbound trigger event.
type Trigger struct {
	DefinitionID string
	PrincipalID  string
	LocationID   string
}

// TriggerResult is everything one invocation produced.
type TriggerResult struct {
	CondResult bool
	Outcomes   []Outcome
	Payloads   []protocol.Payload
}

// HandleTrigger runs one trigger invocation. The whole evaluate + claim +
// mutate + persist sequence executes as a single store update, so concurrent
// invocations against the same definition/principal pair cannot interleave.
func (e *Engine) HandleTrigger(ctx context.Context, trig Trigger) (TriggerResult, error) {
	e.metrics.Triggers.Add(1)

	var res TriggerResult
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		def, ok := tx.Definition(trig.DefinitionID)
		if !ok {
			return codedErr(protocol.ErrNotFound, "definition %q not found", trig.DefinitionID)
		}

		principal, seen := tx.Principal(trig.PrincipalID)
		if !seen && len(def.Conditions) > 0 {
			e.logger.Printf("warn: trigger for never-seen principal %q on %q; conditions fail closed",
				trig.PrincipalID, trig.DefinitionID)
		}
		res.CondResult = rules.Evaluate(def.Conditions, principal)

		run := &runState{
			tx:          tx,
			def:         def,
			principal:   principal,
			principalID: trig.PrincipalID,
		}
		for i := range def.Actions {
			res.Outcomes = append(res.Outcomes, e.applyAction(run, i, res.CondResult))
		}
		if run.principalDirty {
			tx.PutPrincipal(run.principal)
		}
		if run.defDirty {
			tx.PutDefinition(def)
		}
		return nil
	})
	if err != nil {
		e.metrics.Failures.Add(1)
		e.auditTrigger(trig, false, errCode(err))
		e.indexTrigger(trig, false, errCode(err), nil)
		return TriggerResult{}, err
	}

	res.Payloads = e.bundle(res.Outcomes)
	e.auditTrigger(trig, true, "")
	e.indexTrigger(trig, true, "", res.Outcomes)
	for _, o := range res.Outcomes {
		if !o.Limited {
			continue
		}
		switch o.Status {
		case StatusApplied, StatusPartial:
			e.metrics.ClaimsGranted.Add(1)
		case StatusAlreadyClaimed:
			e.metrics.ClaimsDenied.Add(1)
		}
	}
	return res, nil
}

func (e *Engine) indexTrigger(trig Trigger, ok bool, code string, outcomes []Outcome) {
	if e.index == nil {
		return
	}
	now := time.Now().UTC()
	e.index.RecordExecution(indexdb.ExecutionRow{
		At:           now,
		DefinitionID: trig.DefinitionID,
		PrincipalID:  trig.PrincipalID,
		LocationID:   trig.LocationID,
		OK:           ok,
		Code:         code,
		Outcomes:     outcomes,
	})
	for _, o := range outcomes {
		if !o.Limited {
			continue
		}
		e.index.RecordClaim(indexdb.ClaimRow{
			At:           now,
			DefinitionID: trig.DefinitionID,
			ActionIndex:  o.Index,
			PrincipalID:  trig.PrincipalID,
			Granted:      o.Status != StatusAlreadyClaimed,
		})
	}
}

func (e *Engine) auditTrigger(trig Trigger, ok bool, code string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Write(auditlog.Entry{
		Kind:         "trigger",
		DefinitionID: trig.DefinitionID,
		PrincipalID:  trig.PrincipalID,
		LocationID:   trig.LocationID,
		OK:           ok,
		Code:         code,
	}); err != nil {
		e.logger.Printf("audit write: %v", err)
	}
}

func errCode(err error) string {
	if ce, ok := err.(*Error); ok {
		return ce.Code
	}
	return protocol.ErrInternal
}
