package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/planvault/planvault/internal/adapter/memory"
	adapterotel "github.com/planvault/planvault/internal/adapter/otel"
	"github.com/planvault/planvault/internal/domain"
	"github.com/planvault/planvault/internal/domain/entity"
	"github.com/planvault/planvault/internal/domain/link"
	"github.com/planvault/planvault/internal/domain/plan"
)

// OpAction is the mutation type of one batch operation.
type OpAction string

const (
	OpCreate     OpAction = "create"
	OpUpdate     OpAction = "update"
	OpCreateLink OpAction = "create_link"
)

// Op is one heterogeneous batch operation. For entity operations Kind
// selects the repository; link operations leave Kind empty and carry
// sourceId/targetId/relationType in the payload. TempID registers the
// created entity's real id for later operations of the same batch; ID (or
// any allow-listed reference field in the payload) may hold a temp token
// registered by an earlier operation.
type Op struct {
	Action  OpAction       `json:"action"`
	Kind    entity.Kind    `json:"kind,omitempty"`
	TempID  string         `json:"tempId,omitempty"`
	ID      string         `json:"id,omitempty"`
	Payload map[string]any `json:"payload"`
}

// OpResult reports the outcome of one replayed operation.
type OpResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is the outcome of a committed batch.
type Result struct {
	Results []OpResult        `json:"results"`
	TempIDs map[string]string `json:"tempIdMapping"`
}

// overlay is the batch engine's private in-memory copy of one plan's
// state. It is discarded on any failure and flushed to the persistent
// repositories only after every operation replayed cleanly.
type overlay struct {
	entities map[entity.Kind]*memory.EntityRepository
	links    *memory.LinkRepository
	manifest *plan.Manifest
}

// BatchEngine executes all-or-nothing batches of heterogeneous mutations
// against one plan. Atomicity before the commit step comes from never
// writing to disk: operations replay against an in-memory overlay. Two
// concurrent batches on the same plan are not serialized against each
// other; that isolation is the caller's responsibility.
type BatchEngine struct {
	factory *Factory
	log     *slog.Logger
	metrics *adapterotel.Metrics
	tenant  string
}

// NewBatchEngine creates a batch engine over the given factory. tenant is
// recorded on traces only; metrics may be nil when instrumentation is
// disabled.
func NewBatchEngine(f *Factory, tenant string, log *slog.Logger, metrics *adapterotel.Metrics) *BatchEngine {
	if log == nil {
		log = slog.Default()
	}
	return &BatchEngine{factory: f, tenant: tenant, log: log, metrics: metrics}
}

// Execute runs ops against planID. On success every mutation is flushed
// and the temp-id mapping is returned. Any failure before the commit step
// leaves the plan untouched; a *domain.CommitError means the flush itself
// failed and plan state must be considered indeterminate.
func (e *BatchEngine) Execute(ctx context.Context, planID string, ops []Op) (*Result, error) {
	ctx, span := adapterotel.StartBatchSpan(ctx, e.tenant, planID, len(ops))
	defer span.End()
	started := time.Now()
	if e.metrics != nil {
		e.metrics.BatchesExecuted.Add(ctx, 1)
	}

	result, err := e.execute(ctx, planID, ops)
	if e.metrics != nil {
		e.metrics.BatchDurationSec.Record(ctx, time.Since(started).Seconds())
		if err != nil {
			e.metrics.BatchesFailed.Add(ctx, 1)
		}
	}
	if err != nil {
		return nil, err
	}

	e.log.Info("batch committed",
		"plan", planID,
		"operations", len(ops),
		"duration", time.Since(started),
	)
	return result, nil
}

func (e *BatchEngine) execute(ctx context.Context, planID string, ops []Op) (*Result, error) {
	uow := e.factory.UnitOfWork(planID)

	if err := e.validate(ctx, uow, planID, ops); err != nil {
		return nil, err
	}

	ov, err := e.buildOverlay(ctx, uow, planID)
	if err != nil {
		return nil, fmt.Errorf("load overlay for plan %q: %w", planID, err)
	}

	result, err := e.replay(ctx, ov, ops)
	if err != nil {
		return nil, err
	}

	if err := e.commit(ctx, uow, ov); err != nil {
		return nil, &domain.CommitError{Stage: domain.StageCommitting, Err: err}
	}
	return result, nil
}

func (e *BatchEngine) validate(ctx context.Context, uow *UnitOfWork, planID string, ops []Op) error {
	if len(ops) == 0 {
		return domain.Validation("batch requires at least one operation")
	}
	exists, err := uow.Plans.PlanExists(ctx, planID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.NotFound("plan", planID)
	}
	for i, op := range ops {
		switch op.Action {
		case OpCreate:
			if !op.Kind.Valid() {
				return domain.Validation("operation %d: unknown entity kind %q", i, op.Kind)
			}
			if op.Payload == nil {
				return domain.Validation("operation %d: create requires a payload", i)
			}
		case OpUpdate:
			if !op.Kind.Valid() {
				return domain.Validation("operation %d: unknown entity kind %q", i, op.Kind)
			}
			if op.ID == "" {
				return domain.Validation("operation %d: update requires an id", i)
			}
			if len(op.Payload) == 0 {
				return domain.Validation("operation %d: update requires a payload", i)
			}
		case OpCreateLink:
			if op.Payload == nil {
				return domain.Validation("operation %d: create_link requires a payload", i)
			}
		default:
			return domain.Validation("operation %d: unknown action %q", i, op.Action)
		}
	}
	return nil
}

// buildOverlay snapshots every entity kind, all links, and the manifest
// into memory repositories mirroring the persistent contract.
func (e *BatchEngine) buildOverlay(ctx context.Context, uow *UnitOfWork, planID string) (*overlay, error) {
	ctx, span := adapterotel.StartStageSpan(ctx, "overlay")
	defer span.End()

	ov := &overlay{entities: make(map[entity.Kind]*memory.EntityRepository, len(entity.Kinds))}
	for _, kind := range entity.Kinds {
		items, err := uow.Entities[kind].FindAll(ctx)
		if err != nil {
			return nil, err
		}
		repo := memory.NewEntityRepository(kind)
		repo.Seed(items)
		ov.entities[kind] = repo
	}

	links, err := uow.Links.FindAllLinks(ctx, "")
	if err != nil {
		return nil, err
	}
	ov.links = memory.NewLinkRepository()
	ov.links.Seed(links)

	manifest, err := uow.Plans.LoadManifest(ctx, planID)
	if err != nil {
		return nil, err
	}
	ov.manifest = manifest
	return ov, nil
}

// replay executes every operation strictly in input order against the
// overlay, building up the temp-id mapping as it goes. Any error aborts
// the batch and is returned verbatim.
func (e *BatchEngine) replay(ctx context.Context, ov *overlay, ops []Op) (*Result, error) {
	ctx, span := adapterotel.StartStageSpan(ctx, "replay")
	defer span.End()

	tempIDs := make(map[string]string)
	resolve := func(token string) (string, bool) {
		real, ok := tempIDs[token]
		return real, ok
	}

	results := make([]OpResult, 0, len(ops))
	for i, op := range ops {
		id, err := e.applyOp(ctx, ov, op, tempIDs, resolve)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s): %w", i, op.Action, err)
		}
		results = append(results, OpResult{Success: true, ID: id})
	}
	return &Result{Results: results, TempIDs: tempIDs}, nil
}

func (e *BatchEngine) applyOp(ctx context.Context, ov *overlay, op Op, tempIDs map[string]string, resolve func(string) (string, bool)) (string, error) {
	switch op.Action {
	case OpCreate:
		payload := clonePayload(op.Payload)
		entity.RewriteRefs(op.Kind, payload, resolve)
		ent, err := entityFromPayload(op.Kind, payload)
		if err != nil {
			return "", err
		}
		created, err := ov.entities[op.Kind].Create(ctx, ent)
		if err != nil {
			return "", err
		}
		if op.TempID != "" {
			tempIDs[op.TempID] = created.ID
		}
		return created.ID, nil

	case OpUpdate:
		id := op.ID
		if real, ok := resolve(id); ok {
			id = real
		}
		payload := clonePayload(op.Payload)
		entity.RewriteRefs(op.Kind, payload, resolve)
		updated, err := ov.entities[op.Kind].Update(ctx, id, payload)
		if err != nil {
			return "", err
		}
		return updated.ID, nil

	case OpCreateLink:
		l, err := linkFromPayload(op.Payload, resolve)
		if err != nil {
			return "", err
		}
		created, err := ov.links.CreateLink(ctx, l)
		if err != nil {
			return "", err
		}
		return created.ID, nil

	default:
		return "", domain.Validation("unknown action %q", op.Action)
	}
}

// commit flushes the overlay: links first, then all dirty entities of
// every kind in parallel, then the manifest with refreshed statistics.
func (e *BatchEngine) commit(ctx context.Context, uow *UnitOfWork, ov *overlay) error {
	ctx, span := adapterotel.StartStageSpan(ctx, "commit")
	defer span.End()

	for _, l := range ov.links.Created() {
		if _, err := uow.Links.CreateLink(ctx, l); err != nil {
			if isSameLinkConflict(ctx, uow, l, err) {
				// Already flushed by an earlier attempt; nothing to do.
				continue
			}
			return fmt.Errorf("flush link %s -> %s: %w", l.SourceID, l.TargetID, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range entity.Kinds {
		dirty := ov.entities[kind].Dirty()
		if len(dirty) == 0 {
			continue
		}
		repo := uow.Entities[kind]
		g.Go(func() error {
			if _, err := repo.UpsertMany(gctx, dirty); err != nil {
				return fmt.Errorf("flush %s entities: %w", kind, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if e.metrics != nil {
		var written int64
		for _, kind := range entity.Kinds {
			written += int64(len(ov.entities[kind].Dirty()))
		}
		e.metrics.EntitiesWritten.Add(ctx, written)
	}

	manifest := ov.manifest.Clone()
	manifest.Stats = e.recomputeStats(ctx, ov)
	return uow.Plans.SaveManifest(ctx, manifest)
}

// isSameLinkConflict reports whether err is a duplicate-link conflict for
// the exact triple of l. Only that case is swallowed during flush; any
// other conflict aborts the commit.
func isSameLinkConflict(ctx context.Context, uow *UnitOfWork, l *link.Link, err error) bool {
	if !errors.Is(err, domain.ErrConflict) {
		return false
	}
	exists, checkErr := uow.Links.LinkExists(ctx, l.SourceID, l.TargetID, l.Relation)
	return checkErr == nil && exists
}

func (e *BatchEngine) recomputeStats(ctx context.Context, ov *overlay) plan.Statistics {
	stats := plan.Statistics{Entities: make(map[entity.Kind]int, len(entity.Kinds))}
	for kind, repo := range ov.entities {
		n, err := repo.Count(ctx, nil)
		if err != nil {
			continue
		}
		stats.Entities[kind] = n
	}
	if links, err := ov.links.FindAllLinks(ctx, ""); err == nil {
		stats.Links = len(links)
	}
	return stats
}

// entityFromPayload splits a create payload into an entity: an explicit
// "id" and "metadata" feed the envelope, everything else is the payload.
// A "version" key is dropped; creates always start at version 1.
func entityFromPayload(kind entity.Kind, payload map[string]any) (*entity.Entity, error) {
	ent := &entity.Entity{Kind: kind, Fields: make(map[string]any, len(payload))}
	for k, v := range payload {
		switch k {
		case "id":
			s, ok := v.(string)
			if !ok {
				return nil, domain.Validation("id must be a string, got %T", v)
			}
			ent.ID = s
		case "metadata":
			meta, err := decodeMeta(v)
			if err != nil {
				return nil, err
			}
			ent.Meta = meta
		case "type", "version", "createdAt", "updatedAt":
			// Envelope fields are assigned by the repository.
		default:
			ent.Fields[k] = v
		}
	}
	return ent, nil
}

// linkFromPayload builds a link from a create_link payload, resolving temp
// tokens in sourceId and targetId.
func linkFromPayload(payload map[string]any, resolve func(string) (string, bool)) (*link.Link, error) {
	str := func(key string) string {
		s, _ := payload[key].(string)
		return s
	}
	source := str("sourceId")
	target := str("targetId")
	relation := link.RelationType(str("relationType"))
	if source == "" || target == "" || relation == "" {
		return nil, domain.Validation("link requires sourceId, targetId, and relationType")
	}
	if real, ok := resolve(source); ok {
		source = real
	}
	if real, ok := resolve(target); ok {
		target = real
	}

	l := &link.Link{
		SourceID:  source,
		TargetID:  target,
		Relation:  relation,
		CreatedBy: str("createdBy"),
	}
	if meta, ok := payload["metadata"].(map[string]any); ok {
		l.Metadata = make(map[string]string, len(meta))
		for k, v := range meta {
			if s, ok := v.(string); ok {
				l.Metadata[k] = s
			}
		}
	}
	return l, nil
}

func decodeMeta(v any) (entity.Meta, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return entity.Meta{}, domain.Validation("metadata: %v", err)
	}
	var meta entity.Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return entity.Meta{}, domain.Validation("metadata: %v", err)
	}
	return meta, nil
}

func clonePayload(payload map[string]any) map[string]any {
	data, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return payload
	}
	return out
}
