package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"expediter/internal/audit"
	"expediter/internal/errs"
	"expediter/internal/models"
	"expediter/internal/monitoring"
	"expediter/internal/realtime"
	"expediter/internal/store"
)

// PermissionTable answers whether a role may perform an action. Loaded from
// configuration; the executor never hardcodes policy.
type PermissionTable interface {
	Allowed(role, action string) bool
}

// conflictRetries bounds re-reads after an optimistic-lock failure.
const conflictRetries = 3

// Executor is the single mutation path for routing records. Touch input and
// voice both land here; idempotency-key replay, permission checks, version
// conflicts and history all live in one place.
type Executor struct {
	store   store.Store
	channel realtime.Channel
	perms   PermissionTable
	sink    audit.Sink
	metrics *monitoring.Metrics
}

// NewExecutor wires the executor. sink may be audit.Discard{}; metrics may
// be nil.
func NewExecutor(st store.Store, ch realtime.Channel, perms PermissionTable, sink audit.Sink, m *monitoring.Metrics) *Executor {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Executor{store: st, channel: ch, perms: perms, sink: sink, metrics: m}
}

// Execute runs cmd on behalf of actor. key is the client-supplied
// idempotency token: replaying a seen key returns the original result
// without a new transition. Soft failures (target already completed by a
// racing actor) come back as an unsuccessful Result, not an error; only
// validation, permission and gateway-level failures surface as errors.
func (x *Executor) Execute(ctx context.Context, key string, actor Actor, cmd Command) (*Result, error) {
	if key == "" {
		return nil, &errs.ValidationError{Field: "idempotency_key", Reason: "required"}
	}

	if prior, err := x.store.GetCommandByKey(ctx, key); err == nil {
		return resultFromRecord(prior), nil
	} else if errs.IsTransient(err) {
		return nil, err
	}

	if !x.perms.Allowed(actor.Role, cmd.Action()) {
		return nil, &errs.PermissionError{Role: actor.Role, Action: cmd.Action()}
	}

	res, target, err := x.dispatch(ctx, actor, cmd)
	if err != nil {
		return nil, err
	}

	rec := x.record(ctx, key, actor, cmd, target, res)
	x.sink.Command(rec)
	x.metrics.Command(cmd.Action(), actor.Source, res.Success)
	x.publishCommand(ctx, rec)
	return res, nil
}

// dispatch is the exhaustive handler over the closed command set.
func (x *Executor) dispatch(ctx context.Context, actor Actor, cmd Command) (*Result, string, error) {
	switch c := cmd.(type) {
	case Start:
		res, err := x.startRecord(ctx, c.RoutingID)
		return res, fmt.Sprintf("routing:%d", c.RoutingID), err
	case Bump:
		res, err := x.bumpRecord(ctx, c.RoutingID, actor.ID)
		return res, fmt.Sprintf("routing:%d", c.RoutingID), err
	case Recall:
		res, err := x.recallRecord(ctx, c.RoutingID)
		return res, fmt.Sprintf("routing:%d", c.RoutingID), err
	case StartOrder:
		res, err := x.orderBatch(ctx, c.OrderNumber, actor.ID, "start")
		return res, fmt.Sprintf("order:%d", c.OrderNumber), err
	case BumpOrder:
		res, err := x.orderBatch(ctx, c.OrderNumber, actor.ID, "bump")
		return res, fmt.Sprintf("order:%d", c.OrderNumber), err
	case RecallOrder:
		res, err := x.orderBatch(ctx, c.OrderNumber, actor.ID, "recall")
		return res, fmt.Sprintf("order:%d", c.OrderNumber), err
	case BumpTable:
		res, err := x.bumpTable(ctx, c.TableNumber, actor.ID)
		return res, "table:" + c.TableNumber, err
	case BumpAll:
		res, err := x.bumpAll(ctx, actor.ID)
		return res, "all", err
	case SetPriority:
		res, err := x.setPriority(ctx, c.RoutingID, c.Level)
		return res, fmt.Sprintf("routing:%d", c.RoutingID), err
	case SetOrderPriority:
		res, err := x.setOrderPriority(ctx, c.OrderNumber, c.Level)
		return res, fmt.Sprintf("order:%d", c.OrderNumber), err
	case Archive:
		res, err := x.archive(ctx, c.OrderNumber)
		return res, fmt.Sprintf("order:%d", c.OrderNumber), err
	default:
		return nil, "", &errs.ValidationError{Field: "command", Reason: "unknown command type"}
	}
}

// mutate applies fn to the routing record until the versioned write lands
// or the retry budget runs out. fn returns false to signal "no transition
// applies" without an error.
func (x *Executor) mutate(ctx context.Context, id uint, fn func(r *models.RoutingRecord) (bool, error)) (*models.RoutingRecord, bool, error) {
	for attempt := 0; attempt < conflictRetries; attempt++ {
		r, err := x.store.GetRouting(ctx, id)
		if err != nil {
			return nil, false, err
		}
		apply, err := fn(r)
		if err != nil || !apply {
			return r, false, err
		}
		if err := x.store.UpdateRouting(ctx, r); err != nil {
			if errs.IsConflict(err) {
				continue
			}
			return nil, false, err
		}
		x.publishRouting(ctx, r)
		return r, true, nil
	}
	return nil, false, &errs.ConflictError{Kind: "routing record", ID: fmt.Sprint(id)}
}

func (x *Executor) startRecord(ctx context.Context, id uint) (*Result, error) {
	var already bool
	r, applied, err := x.mutate(ctx, id, func(r *models.RoutingRecord) (bool, error) {
		switch models.RoutingStatus(r.Status) {
		case models.RoutingStatusNew:
			now := time.Now()
			r.Status = string(models.RoutingStatusPreparing)
			r.StartedAt = &now
			return true, nil
		case models.RoutingStatusPreparing:
			already = true
			return false, nil
		default:
			return false, nil
		}
	})
	if err != nil {
		if errs.IsNotFound(err) {
			return softFail(id, "already completed or unknown"), nil
		}
		return nil, err
	}
	if applied {
		return x.okResult(ctx, r, 1, "started")
	}
	if already {
		return x.okResult(ctx, r, 0, "already started")
	}
	return softFail(id, "cannot start from "+r.Status), nil
}

func (x *Executor) bumpRecord(ctx context.Context, id uint, actorID string) (*Result, error) {
	r, n, err := x.applyBump(ctx, id, actorID)
	if err != nil {
		if errs.IsNotFound(err) {
			return softFail(id, "already completed or unknown"), nil
		}
		return nil, err
	}
	if n == 0 {
		return softFail(id, "already ready"), nil
	}
	return x.okResult(ctx, r, 1, "marked ready")
}

// applyBump moves a record to ready. A record still in new passes through
// preparing first so the lifecycle history stays monotonic.
func (x *Executor) applyBump(ctx context.Context, id uint, actorID string) (*models.RoutingRecord, int, error) {
	r, err := x.store.GetRouting(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if models.RoutingStatus(r.Status) == models.RoutingStatusNew {
		if _, _, err := x.mutate(ctx, id, func(r *models.RoutingRecord) (bool, error) {
			if models.RoutingStatus(r.Status) != models.RoutingStatusNew {
				return false, nil
			}
			now := time.Now()
			r.Status = string(models.RoutingStatusPreparing)
			r.StartedAt = &now
			return true, nil
		}); err != nil {
			return nil, 0, err
		}
	}
	r, applied, err := x.mutate(ctx, id, func(r *models.RoutingRecord) (bool, error) {
		if models.RoutingStatus(r.Status) != models.RoutingStatusPreparing {
			return false, nil
		}
		now := time.Now()
		r.Status = string(models.RoutingStatusReady)
		r.BumpedAt = &now
		r.CompletedAt = &now
		r.BumpedBy = actorID
		return true, nil
	})
	if err != nil {
		return nil, 0, err
	}
	if !applied {
		return r, 0, nil
	}
	return r, 1, nil
}

func (x *Executor) recallRecord(ctx context.Context, id uint) (*Result, error) {
	r, applied, err := x.mutate(ctx, id, func(r *models.RoutingRecord) (bool, error) {
		if models.RoutingStatus(r.Status) != models.RoutingStatusReady {
			return false, nil
		}
		r.Status = string(models.RoutingStatusPreparing)
		r.BumpedAt = nil
		r.CompletedAt = nil
		r.RecallCount++
		return true, nil
	})
	if err != nil {
		if errs.IsNotFound(err) {
			return softFail(id, "already completed or unknown"), nil
		}
		return nil, err
	}
	if !applied {
		return softFail(id, "nothing to recall"), nil
	}
	x.bumpOrderRecallCount(ctx, r.OrderID)
	return x.okResult(ctx, r, 1, "recalled")
}

// bumpOrderRecallCount keeps the order-level aggregate in step. Best-effort:
// the per-record count is authoritative.
func (x *Executor) bumpOrderRecallCount(ctx context.Context, orderID uint) {
	o, err := x.store.GetOrder(ctx, orderID)
	if err != nil {
		return
	}
	o.RecallCount++
	if err := x.store.UpdateOrder(ctx, o); err != nil {
		log.Printf("router: recall aggregate update failed for order %d: %v", orderID, err)
	}
}

// orderBatch applies op to every applicable routing record of one order.
func (x *Executor) orderBatch(ctx context.Context, orderNumber int, actorID, op string) (*Result, error) {
	o, err := x.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		if errs.IsNotFound(err) {
			return &Result{
				Success:  false,
				Feedback: fmt.Sprintf("Order %d not found", orderNumber),
			}, nil
		}
		return nil, err
	}
	records, err := x.store.ListRouting(ctx, store.RoutingFilter{OrderID: o.ID})
	if err != nil {
		return nil, err
	}

	affected := 0
	var itemErrs []ItemError
	for _, r := range records {
		if r.Terminal() {
			continue
		}
		var n int
		var opErr error
		switch op {
		case "start":
			res, e := x.startRecord(ctx, r.ID)
			if e == nil && res.AffectedCount > 0 {
				n = 1
			}
			opErr = e
		case "bump":
			_, n, opErr = x.applyBump(ctx, r.ID, actorID)
		case "recall":
			_, applied, e := x.mutate(ctx, r.ID, func(rr *models.RoutingRecord) (bool, error) {
				if models.RoutingStatus(rr.Status) != models.RoutingStatusReady {
					return false, nil
				}
				rr.Status = string(models.RoutingStatusPreparing)
				rr.BumpedAt = nil
				rr.CompletedAt = nil
				rr.RecallCount++
				return true, nil
			})
			if applied {
				n = 1
				x.bumpOrderRecallCount(ctx, r.OrderID)
			}
			opErr = e
		}
		if opErr != nil {
			itemErrs = append(itemErrs, ItemError{ID: r.ID, Reason: opErr.Error()})
			continue
		}
		affected += n
	}

	verb := map[string]string{"start": "started", "bump": "marked ready", "recall": "recalled"}[op]
	feedback := fmt.Sprintf("Order %d for table %s %s at %d station(s)", o.Number, o.TableNumber, verb, affected)
	return &Result{
		Success:       len(itemErrs) == 0,
		AffectedCount: affected,
		Errors:        itemErrs,
		Feedback:      feedback,
	}, nil
}

// bumpTable bumps every non-terminal routing record of every open order at
// the table. Per-record failures land in Errors with their ids; records the
// loop never reached stay untouched and are also reported, never silently
// skipped.
func (x *Executor) bumpTable(ctx context.Context, table string, actorID string) (*Result, error) {
	orders, err := x.store.ListOrders(ctx, store.OrderFilter{TableNumber: table, Status: string(models.OrderStatusOpen)})
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return &Result{Success: false, Feedback: "No open orders for table " + table}, nil
	}

	var pending []models.RoutingRecord
	for _, o := range orders {
		records, err := x.store.ListRouting(ctx, store.RoutingFilter{OrderID: o.ID})
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if !r.Terminal() {
				pending = append(pending, r)
			}
		}
	}

	affected := 0
	var itemErrs []ItemError
	for i, r := range pending {
		_, n, err := x.applyBump(ctx, r.ID, actorID)
		if err != nil {
			itemErrs = append(itemErrs, ItemError{ID: r.ID, Reason: err.Error()})
			if errs.IsTransient(err) {
				// Gateway is gone; report everything not attempted.
				for _, rest := range pending[i+1:] {
					itemErrs = append(itemErrs, ItemError{ID: rest.ID, Reason: "not attempted"})
				}
				break
			}
			continue
		}
		affected += n
	}

	return &Result{
		Success:       len(itemErrs) == 0,
		AffectedCount: affected,
		Errors:        itemErrs,
		Feedback:      fmt.Sprintf("Table %s: %d item(s) marked ready", table, affected),
	}, nil
}

// bumpAll bumps every outstanding routing record in the kitchen, with the
// same per-id error reporting as bumpTable.
func (x *Executor) bumpAll(ctx context.Context, actorID string) (*Result, error) {
	pending, err := x.store.ListRouting(ctx, store.RoutingFilter{
		Statuses: []string{string(models.RoutingStatusNew), string(models.RoutingStatusPreparing)},
	})
	if err != nil {
		return nil, err
	}
	affected := 0
	var itemErrs []ItemError
	for i, r := range pending {
		_, n, err := x.applyBump(ctx, r.ID, actorID)
		if err != nil {
			itemErrs = append(itemErrs, ItemError{ID: r.ID, Reason: err.Error()})
			if errs.IsTransient(err) {
				for _, rest := range pending[i+1:] {
					itemErrs = append(itemErrs, ItemError{ID: rest.ID, Reason: "not attempted"})
				}
				break
			}
			continue
		}
		affected += n
	}
	return &Result{
		Success:       len(itemErrs) == 0,
		AffectedCount: affected,
		Errors:        itemErrs,
		Feedback:      fmt.Sprintf("All stations: %d item(s) marked ready", affected),
	}, nil
}

func (x *Executor) setPriority(ctx context.Context, id uint, level int) (*Result, error) {
	if level < models.PriorityNormal || level > models.PriorityRush {
		return nil, &errs.ValidationError{Field: "level", Reason: "must be 0, 1 or 2"}
	}
	r, applied, err := x.mutate(ctx, id, func(r *models.RoutingRecord) (bool, error) {
		if r.Terminal() {
			return false, nil
		}
		r.Priority = level
		return true, nil
	})
	if err != nil {
		if errs.IsNotFound(err) {
			return softFail(id, "already completed or unknown"), nil
		}
		return nil, err
	}
	if !applied {
		return softFail(id, "record archived"), nil
	}
	return x.okResult(ctx, r, 1, fmt.Sprintf("priority set to %d", level))
}

func (x *Executor) setOrderPriority(ctx context.Context, orderNumber, level int) (*Result, error) {
	if level < models.PriorityNormal || level > models.PriorityRush {
		return nil, &errs.ValidationError{Field: "level", Reason: "must be 0, 1 or 2"}
	}
	o, err := x.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		if errs.IsNotFound(err) {
			return &Result{Success: false, Feedback: fmt.Sprintf("Order %d not found", orderNumber)}, nil
		}
		return nil, err
	}
	o.Priority = level
	if err := x.store.UpdateOrder(ctx, o); err != nil {
		return nil, err
	}
	records, err := x.store.ListRouting(ctx, store.RoutingFilter{OrderID: o.ID})
	if err != nil {
		return nil, err
	}
	affected := 0
	var itemErrs []ItemError
	for _, r := range records {
		if r.Terminal() {
			continue
		}
		_, applied, err := x.mutate(ctx, r.ID, func(rr *models.RoutingRecord) (bool, error) {
			rr.Priority = level
			return true, nil
		})
		if err != nil {
			itemErrs = append(itemErrs, ItemError{ID: r.ID, Reason: err.Error()})
			continue
		}
		if applied {
			affected++
		}
	}
	return &Result{
		Success:       len(itemErrs) == 0,
		AffectedCount: affected,
		Errors:        itemErrs,
		Feedback:      fmt.Sprintf("Order %d for table %s priority set to %d", o.Number, o.TableNumber, level),
	}, nil
}

func (x *Executor) archive(ctx context.Context, orderNumber int) (*Result, error) {
	o, err := x.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		if errs.IsNotFound(err) {
			return &Result{Success: false, Feedback: fmt.Sprintf("Order %d not found", orderNumber)}, nil
		}
		return nil, err
	}
	records, err := x.store.ListRouting(ctx, store.RoutingFilter{OrderID: o.ID})
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Terminal() {
			continue
		}
		if models.RoutingStatus(r.Status) != models.RoutingStatusReady {
			return nil, &errs.ValidationError{Field: "order", Reason: fmt.Sprintf("routing record %d is %s, not ready", r.ID, r.Status)}
		}
	}
	affected := 0
	var itemErrs []ItemError
	for _, r := range records {
		if r.Terminal() {
			continue
		}
		_, applied, err := x.mutate(ctx, r.ID, func(rr *models.RoutingRecord) (bool, error) {
			if models.RoutingStatus(rr.Status) != models.RoutingStatusReady {
				return false, nil
			}
			rr.Status = string(models.RoutingStatusArchived)
			return true, nil
		})
		if err != nil {
			itemErrs = append(itemErrs, ItemError{ID: r.ID, Reason: err.Error()})
			continue
		}
		if applied {
			affected++
		}
	}
	if len(itemErrs) == 0 {
		o.Status = string(models.OrderStatusArchived)
		if err := x.store.UpdateOrder(ctx, o); err != nil {
			return nil, err
		}
		x.publishOrder(ctx, o, realtime.ActionUpdated)
	}
	return &Result{
		Success:       len(itemErrs) == 0,
		AffectedCount: affected,
		Errors:        itemErrs,
		Feedback:      fmt.Sprintf("Order %d for table %s archived", o.Number, o.TableNumber),
	}, nil
}

// okResult builds the success result with order context in the feedback so
// it reads well on a display or spoken back.
func (x *Executor) okResult(ctx context.Context, r *models.RoutingRecord, affected int, verb string) (*Result, error) {
	feedback := verb
	if o, err := x.store.GetOrder(ctx, r.OrderID); err == nil {
		feedback = fmt.Sprintf("Order %d for table %s %s", o.Number, o.TableNumber, verb)
	}
	return &Result{Success: true, AffectedCount: affected, Feedback: feedback}, nil
}

func softFail(id uint, reason string) *Result {
	return &Result{
		Success:  false,
		Errors:   []ItemError{{ID: id, Reason: reason}},
		Feedback: fmt.Sprintf("Item %d: %s", id, reason),
	}
}

func (x *Executor) record(ctx context.Context, key string, actor Actor, cmd Command, target string, res *Result) *models.CommandRecord {
	errsJSON, _ := json.Marshal(res.Errors)
	rec := &models.CommandRecord{
		IdempotencyKey: key,
		Action:         cmd.Action(),
		Target:         target,
		ActorID:        actor.ID,
		Role:           actor.Role,
		Source:         actor.Source,
		Transcript:     actor.Transcript,
		Confidence:     actor.Confidence,
		Success:        res.Success,
		AffectedCount:  res.AffectedCount,
		Feedback:       res.Feedback,
		ErrorsJSON:     string(errsJSON),
		ExecutedAt:     time.Now(),
	}
	if err := x.store.CreateCommandRecord(ctx, rec); err != nil {
		log.Printf("router: command history write failed: %v", err)
	}
	return rec
}

func resultFromRecord(rec *models.CommandRecord) *Result {
	var itemErrs []ItemError
	if rec.ErrorsJSON != "" {
		_ = json.Unmarshal([]byte(rec.ErrorsJSON), &itemErrs)
	}
	return &Result{
		Success:       rec.Success,
		AffectedCount: rec.AffectedCount,
		Errors:        itemErrs,
		Feedback:      rec.Feedback,
	}
}

func (x *Executor) publishRouting(ctx context.Context, r *models.RoutingRecord) {
	if x.channel == nil {
		return
	}
	payload, _ := json.Marshal(r)
	table := ""
	if o, err := x.store.GetOrder(ctx, r.OrderID); err == nil {
		table = o.TableNumber
	}
	ev := realtime.ChangeEvent{
		Kind:        realtime.KindRouting,
		Action:      realtime.ActionUpdated,
		RecordID:    r.ID,
		OrderID:     r.OrderID,
		StationID:   r.StationID,
		TableNumber: table,
		Payload:     payload,
	}
	if err := x.channel.Publish(ctx, ev); err != nil {
		log.Printf("router: publish failed: %v", err)
	}
}

func (x *Executor) publishOrder(ctx context.Context, o *models.Order, action string) {
	if x.channel == nil {
		return
	}
	payload, _ := json.Marshal(o)
	ev := realtime.ChangeEvent{
		Kind:        realtime.KindOrder,
		Action:      action,
		RecordID:    o.ID,
		OrderID:     o.ID,
		TableNumber: o.TableNumber,
		Payload:     payload,
	}
	if err := x.channel.Publish(ctx, ev); err != nil {
		log.Printf("router: publish failed: %v", err)
	}
}

func (x *Executor) publishCommand(ctx context.Context, rec *models.CommandRecord) {
	if x.channel == nil {
		return
	}
	payload, _ := json.Marshal(rec)
	ev := realtime.ChangeEvent{
		Kind:     realtime.KindCommand,
		Action:   realtime.ActionCreated,
		RecordID: rec.ID,
		Payload:  payload,
	}
	if err := x.channel.Publish(ctx, ev); err != nil {
		log.Printf("router: publish failed: %v", err)
	}
}
