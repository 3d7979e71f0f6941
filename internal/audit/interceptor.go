package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/neogan74/rentguard/internal/identity"
	"github.com/neogan74/rentguard/internal/logger"
	"github.com/neogan74/rentguard/internal/metrics"
)

// Recorder accepts finished audit records. *Manager implements it.
type Recorder interface {
	Record(ctx context.Context, record *Record) (string, error)
}

// Identifiable is implemented by inputs and results that carry an entity id.
// ok is false when the id is not assigned yet.
type Identifiable interface {
	AuditID() (id string, ok bool)
}

// Operation describes an audited business operation.
type Operation struct {
	Name        string
	Entity      string
	Action      Action
	Description string
}

type options struct {
	loadBefore     func(ctx context.Context, id string) (any, error)
	entityID       func(in any) string
	additionalInfo func(in any) string
}

// Option customizes a wrapped operation.
type Option func(*options)

// WithBeforeState loads the entity before the operation runs so its state
// can be recorded. It is only called when an entity id is known.
func WithBeforeState(loader func(ctx context.Context, id string) (any, error)) Option {
	return func(o *options) {
		o.loadBefore = loader
	}
}

// WithEntityID extracts the entity id from inputs that are not Identifiable,
// such as a bare id string.
func WithEntityID[In any](f func(In) string) Option {
	return func(o *options) {
		o.entityID = func(in any) string {
			if v, ok := in.(In); ok {
				return f(v)
			}
			return ""
		}
	}
}

// WithAdditionalInfo sets the free-form info of each record. The operation
// description is used otherwise.
func WithAdditionalInfo[In any](f func(In) string) Option {
	return func(o *options) {
		o.additionalInfo = func(in any) string {
			if v, ok := in.(In); ok {
				return f(v)
			}
			return ""
		}
	}
}

// Interceptor builds audit records around wrapped operations and hands them
// to a Recorder. Recording is best effort: nothing it does changes the
// result, the error or the panic of the wrapped operation.
type Interceptor struct {
	recorder Recorder
	log      logger.Logger
	now      func() time.Time
}

// NewInterceptor returns an interceptor. A nil recorder disables auditing.
func NewInterceptor(recorder Recorder, log logger.Logger) *Interceptor {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Interceptor{
		recorder: recorder,
		log:      log,
		now:      time.Now,
	}
}

// Enabled reports whether wrapped operations produce records.
func (ic *Interceptor) Enabled() bool {
	return ic != nil && ic.recorder != nil
}

// Wrap decorates fn so that every invocation produces exactly one audit
// record, whatever its outcome. The returned function has the same
// signature and returns fn's results unchanged.
func Wrap[In, Out any](ic *Interceptor, op Operation, fn func(context.Context, In) (Out, error), opts ...Option) func(context.Context, In) (Out, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	action := InferAction(op.Action, op.Name)

	return func(ctx context.Context, in In) (Out, error) {
		if !ic.Enabled() {
			return fn(ctx, in)
		}

		inv := ic.begin(ctx, op, action, in, o)
		start := time.Now()

		completed := false
		defer func() {
			if completed {
				return
			}
			if r := recover(); r != nil {
				inv.fail(fmt.Sprintf("panic: %v", r), time.Since(start))
				ic.emit(ctx, op, inv.record)
				panic(r)
			}
		}()

		out, err := fn(ctx, in)
		completed = true

		if err != nil {
			inv.fail(err.Error(), time.Since(start))
		} else {
			inv.succeed(out, time.Since(start))
		}
		ic.emit(ctx, op, inv.record)
		return out, err
	}
}

// invocation is the per-call scratch state of one wrapped operation.
type invocation struct {
	action Action
	record *Record
}

func (ic *Interceptor) begin(ctx context.Context, op Operation, action Action, in any, o *options) *invocation {
	principal := identity.FromContext(ctx)
	req, _ := RequestFromContext(ctx)

	rec := &Record{
		Timestamp:      ic.now().UTC(),
		Operation:      op.Name,
		EntityName:     op.Entity,
		ActionType:     action,
		ActorID:        SystemActor,
		ActorName:      SystemActor,
		ClientAddress:  req.ClientAddress,
		UserAgent:      req.UserAgent,
		RequestMethod:  req.Method,
		RequestURL:     req.URL,
		SessionID:      req.SessionID,
		TraceID:        req.TraceID,
		AdditionalInfo: op.Description,
	}
	if !principal.IsAnonymous() {
		rec.ActorID = principal.Subject
		rec.ActorName = principal.DisplayName()
	}
	if rec.TraceID == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			rec.TraceID = sc.TraceID().String()
		}
	}
	if o.additionalInfo != nil {
		if info := o.additionalInfo(in); info != "" {
			rec.AdditionalInfo = info
		}
	}

	if action == ActionCreate || action == ActionUpdate {
		rec.AfterState = Serialize(in)
	}

	if action != ActionCreate {
		// Ids often come straight from request params; the record is written
		// after the request buffers are reused.
		rec.EntityID = strings.Clone(ic.entityID(in, o))
		if rec.EntityID != "" && o.loadBefore != nil {
			rec.BeforeState = ic.loadBefore(ctx, rec.EntityID, o)
		}
	}

	return &invocation{action: action, record: rec}
}

func (ic *Interceptor) entityID(in any, o *options) string {
	if o.entityID != nil {
		if id := o.entityID(in); id != "" {
			return id
		}
	}
	if v, ok := in.(Identifiable); ok {
		if id, ok := v.AuditID(); ok {
			return id
		}
	}
	return ""
}

func (ic *Interceptor) loadBefore(ctx context.Context, id string, o *options) (state string) {
	defer func() {
		if r := recover(); r != nil {
			ic.log.Warn("Audit before-state loader panicked", logger.String("entity_id", id), logger.String("panic", fmt.Sprint(r)))
			state = ""
		}
	}()

	before, err := o.loadBefore(ctx, id)
	if err != nil {
		ic.log.Debug("Audit before-state not available", logger.String("entity_id", id), logger.Error(err))
		return ""
	}
	if before == nil {
		return ""
	}
	return Serialize(before)
}

func (inv *invocation) succeed(out any, elapsed time.Duration) {
	inv.record.Outcome = OutcomeSuccess
	inv.record.ExecutionTimeMillis = elapsed.Milliseconds()
	if inv.action == ActionCreate || inv.action == ActionUpdate {
		inv.record.AfterState = Serialize(out)
	}
	if inv.record.EntityID == "" {
		if v, ok := out.(Identifiable); ok {
			if id, ok := v.AuditID(); ok {
				inv.record.EntityID = strings.Clone(id)
			}
		}
	}
}

func (inv *invocation) fail(message string, elapsed time.Duration) {
	inv.record.Outcome = OutcomeFailure
	inv.record.ErrorMessage = message
	inv.record.ExecutionTimeMillis = elapsed.Milliseconds()
}

// emit never panics and never returns an error; failures are logged and
// counted.
func (ic *Interceptor) emit(ctx context.Context, op Operation, rec *Record) {
	defer func() {
		if r := recover(); r != nil {
			metrics.AuditEmissionFailuresTotal.WithLabelValues("panic").Inc()
			ic.log.Error("Audit emission panicked",
				logger.String("operation", op.Name),
				logger.String("panic", fmt.Sprint(r)))
		}
	}()

	metrics.AuditRecordsTotal.WithLabelValues(rec.EntityName, string(rec.ActionType), string(rec.Outcome)).Inc()
	metrics.AuditOperationDuration.WithLabelValues(op.Name).Observe(float64(rec.ExecutionTimeMillis) / 1000)

	if _, err := ic.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		metrics.AuditEmissionFailuresTotal.WithLabelValues(emissionFailureReason(err)).Inc()
		ic.log.Warn("Failed to record audit entry",
			logger.String("operation", op.Name),
			logger.String("entity", rec.EntityName),
			logger.Error(err))
	}
}

func emissionFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrBufferFull):
		return "buffer_full"
	case errors.Is(err, ErrManagerClosed):
		return "manager_closed"
	default:
		return "sink_error"
	}
}

// Serialize renders v as JSON. Values that cannot be encoded render as "{}".
func Serialize(v any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = "{}"
		}
	}()

	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
