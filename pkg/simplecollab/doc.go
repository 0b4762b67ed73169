// Package simplecollab provides a reusable real-time collaboration core for
// content management systems: a typed publish/subscribe event bus, a
// connection hub that tracks live client sessions and their channel
// subscriptions, per-entry editing presence with concurrent-edit conflict
// warnings, and a broadcast dispatcher that fans domain events out to
// subscribed connections.
//
// The surrounding CMS (CRUD handlers, validation, persistence, auth token
// issuance) is treated as an external collaborator: it publishes typed
// domain events through a Bus (or the Sink convenience adapter) and hands
// live transport connections to the Hub. Bus backends are provided under
// subpackages: an in-process dispatcher (bus/memory) for single-instance
// deployments, and a Redis-Streams-backed dispatcher (bus/redis) for
// multi-instance fan-out with transparent in-process fallback.
//
// Tenancy
//
// A connection may carry a tenant id, fixed at registration. Events
// published with a tenant id in their dispatch context are only delivered
// to connections whose tenant matches or is unset.
package simplecollab
