// Package executor is the per-agent A2A request handler: it converts an
// inbound message into a session prompt, invokes the LLM session
// collaborator, attaches the reply as an artifact, and records the task
// and audit trail. It implements a2asrv.AgentExecutor directly, with an
// Execute/Cancel split and event-translation shape matching the rest of
// the A2A server stack.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	flocka2a "github.com/flock-run/flock/pkg/a2a"
	"github.com/flock-run/flock/pkg/audit"
	"github.com/flock-run/flock/pkg/flocklog"
	"github.com/flock-run/flock/pkg/flockstate"
	"github.com/flock-run/flock/pkg/migration"
	"github.com/flock-run/flock/pkg/observability"
	"github.com/flock-run/flock/pkg/session"
	"github.com/flock-run/flock/pkg/store"
	"github.com/flock-run/flock/pkg/triage"
)

const sysadminRole = "sysadmin"

// Config is the static, per-agent configuration an Executor is bound to.
type Config struct {
	AgentID            string
	Role               string
	Model              string
	SystemPrompt       string
	Tools              []string
	ThinkingLevel      session.ThinkingLevel
	GetAPIKey          func() (string, error)
	MaxContextMessages int
	Timeout            time.Duration
}

// Executor implements a2asrv.AgentExecutor for one agent.
type Executor struct {
	cfg     Config
	tasks   store.TaskStore
	audit   *audit.Log
	triage  *triage.Table
	guard   *migration.FrozenGuard
	llm     session.Session
	tracer  trace.Tracer
	metrics *observability.Metrics
}

func New(cfg Config, tasks store.TaskStore, auditLog *audit.Log, triageTable *triage.Table, guard *migration.FrozenGuard, llm session.Session) *Executor {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Executor{cfg: cfg, tasks: tasks, audit: auditLog, triage: triageTable, guard: guard, llm: llm, tracer: observability.Tracer("github.com/flock-run/flock/pkg/executor")}
}

// WithObservability attaches a node-wide tracer and metrics registry,
// used to wrap every Execute call in a span and record its latency and
// outcome.
func (e *Executor) WithObservability(mgr *observability.Manager) *Executor {
	e.tracer = mgr.Tracer()
	e.metrics = mgr.Metrics()
	return e
}

// Execute implements a2asrv.AgentExecutor. The frozen guard is consulted
// before anything else touches the session layer: a rejected agent gets
// a deterministic failed status event instead.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	start := time.Now()
	outcome := "failed"
	ctx, span := e.tracer.Start(ctx, "executor.execute", trace.WithAttributes(
		attribute.String("agent_id", e.cfg.AgentID),
		attribute.String("task_id", string(reqCtx.TaskID)),
	))
	defer func() {
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
		e.metrics.ObserveExecutorLatency(e.cfg.AgentID, outcome, time.Since(start).Seconds())
	}()

	if e.guard != nil {
		if result := e.guard.Check(e.cfg.AgentID); result.Rejected {
			outcome = "rejected"
			ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateFailed,
				a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: result.Reason}))
			ev.Final = true
			return queue.Write(ctx, ev)
		}
	}

	msg := reqCtx.Message
	if msg == nil {
		return fmt.Errorf("executor: message not provided")
	}

	task := &flockstate.TaskRecord{
		TaskID:      string(reqCtx.TaskID),
		ContextID:   reqCtx.ContextID,
		ToAgentID:   e.cfg.AgentID,
		State:       flockstate.TaskSubmitted,
		MessageType: string(msg.Role),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if reqCtx.StoredTask == nil {
		if err := e.tasks.Insert(ctx, task); err != nil {
			flocklog.GetLogger().Error("executor: failed to insert task record", "taskId", task.TaskID, "error", err)
		}
		submitted := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateSubmitted, nil)
		if err := queue.Write(ctx, submitted); err != nil {
			return err
		}
	}

	text, meta, _ := flocka2a.Extract(msg)
	task.Summary = truncate(text, 200)
	if meta != nil {
		if meta.FlockType != "" {
			task.MessageType = string(meta.FlockType)
		}
		if meta.FromHome != "" {
			// fromHome is "<agentId>@<nodeId>".
			if at := strings.Index(meta.FromHome, "@"); at > 0 {
				task.FromAgentID = meta.FromHome[:at]
			}
		}
	}

	working := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateWorking, nil)
	if err := queue.Write(ctx, working); err != nil {
		return err
	}

	isSysadminRequest := meta != nil && meta.FlockType == flocka2a.TypeSysadminRequest && e.cfg.Role == sysadminRole

	var requestID string
	prompt := text
	if isSysadminRequest {
		requestID = uuid.NewString()
		prompt = fmt.Sprintf("%s\n\n(request_id: %s)", text, requestID)
	}

	sessCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	reply, err := e.llm.Send(sessCtx, e.cfg.AgentID, prompt, session.Config{
		Model:              e.cfg.Model,
		SystemPrompt:       e.cfg.SystemPrompt,
		Tools:              e.cfg.Tools,
		ThinkingLevel:      e.cfg.ThinkingLevel,
		GetAPIKey:          e.cfg.GetAPIKey,
		MaxContextMessages: e.cfg.MaxContextMessages,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.finishFailed(ctx, task, err)
		failEvent := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateFailed,
			a2a.NewMessageForTask(a2a.MessageRoleAgent, reqCtx, a2a.TextPart{Text: err.Error()}))
		failEvent.Final = true
		return queue.Write(ctx, failEvent)
	}

	responseText := ""
	if reply.Text != nil {
		responseText = *reply.Text
	}

	artifact := a2a.NewArtifactEvent(reqCtx, a2a.TextPart{Text: responseText})
	if err := queue.Write(ctx, artifact); err != nil {
		return err
	}

	level := flockstate.AuditGreen
	if isSysadminRequest {
		if decision, ok := e.triage.Pop(requestID); ok {
			triageArtifact := a2a.NewArtifactUpdateEvent(reqCtx, artifact.Artifact.ID,
				flocka2a.Build(a2a.MessageRoleAgent, "", &flocka2a.Meta{
					FlockType: flocka2a.TypeTriageDecision,
				}, map[string]any{
					"level":       string(decision.Level),
					"reasoning":   decision.Reasoning,
					"actionPlan":  decision.ActionPlan,
					"riskFactors": decision.RiskFactors,
					"requestId":   requestID,
				}).Parts...)
			if err := queue.Write(ctx, triageArtifact); err != nil {
				return err
			}
			if decision.Level == flockstate.AuditYellow || decision.Level == flockstate.AuditRed {
				level = decision.Level
			}
		} else {
			level = flockstate.AuditWhite
		}
	}

	e.finishCompleted(ctx, task, responseText, level)
	outcome = "completed"

	closeArtifact := a2a.NewArtifactUpdateEvent(reqCtx, artifact.Artifact.ID)
	closeArtifact.LastChunk = true
	if err := queue.Write(ctx, closeArtifact); err != nil {
		return err
	}

	completed := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCompleted, nil)
	completed.Final = true
	return queue.Write(ctx, completed)
}

// Cancel implements a2asrv.AgentExecutor.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	if t, err := e.tasks.Get(ctx, string(reqCtx.TaskID)); err == nil {
		t.State = flockstate.TaskCanceled
		t.UpdatedAt = time.Now().UTC()
		_ = e.tasks.Update(ctx, t)
	}
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	ev.Final = true
	return queue.Write(ctx, ev)
}

func (e *Executor) finishCompleted(ctx context.Context, task *flockstate.TaskRecord, responseText string, level flockstate.AuditLevel) {
	now := time.Now().UTC()
	task.State = flockstate.TaskCompleted
	task.ResponseText = responseText
	task.UpdatedAt = now
	task.CompletedAt = &now
	if err := e.tasks.Update(ctx, task); err != nil {
		flocklog.GetLogger().Error("executor: failed to update completed task", "taskId", task.TaskID, "error", err)
	}
	e.appendAudit(ctx, task, level, "ok")
}

func (e *Executor) finishFailed(ctx context.Context, task *flockstate.TaskRecord, cause error) {
	now := time.Now().UTC()
	task.State = flockstate.TaskFailed
	task.UpdatedAt = now
	task.CompletedAt = &now
	if err := e.tasks.Update(ctx, task); err != nil {
		flocklog.GetLogger().Error("executor: failed to update failed task", "taskId", task.TaskID, "error", err)
	}
	// A session timeout is a bounded, expected failure mode; a hard error
	// from the session layer is not.
	level := flockstate.AuditRed
	if errors.Is(cause, context.DeadlineExceeded) {
		level = flockstate.AuditYellow
	}
	e.appendAudit(ctx, task, level, cause.Error())
}

func (e *Executor) appendAudit(ctx context.Context, task *flockstate.TaskRecord, level flockstate.AuditLevel, result string) {
	if e.audit == nil {
		return
	}
	if _, err := e.audit.Append(ctx, audit.Entry{
		AgentID: e.cfg.AgentID,
		Action:  "a2a-message",
		Level:   level,
		Result:  result,
		Detail:  map[string]any{"taskId": task.TaskID, "contextId": task.ContextID},
	}); err != nil {
		flocklog.GetLogger().Error("executor: failed to append audit entry", "taskId", task.TaskID, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ a2asrv.AgentExecutor = (*Executor)(nil)
