package router

import "github.com/workspace-agents/orchestrator/observability"

// Router event types emitted while handling a request.
const (
	EventRequestStart     observability.EventType = "router.request.start"
	EventClassified       observability.EventType = "router.classified"
	EventClassifierFailed observability.EventType = "router.classifier.failed"
	EventDelegation       observability.EventType = "router.delegation"
	EventLoopBlocked      observability.EventType = "router.loop.blocked"
	EventFanoutStart      observability.EventType = "router.fanout.start"
	EventFanoutComplete   observability.EventType = "router.fanout.complete"
	EventGuardrailBlocked observability.EventType = "router.guardrail.blocked"
	EventApprovalPending  observability.EventType = "router.approval.pending"
	EventApprovalResolved observability.EventType = "router.approval.resolved"
	EventCapabilityFailed observability.EventType = "router.capability.failed"
	EventContextDegraded  observability.EventType = "router.context.degraded"
	EventResponse         observability.EventType = "router.response"
)
