// Package gateway exposes the messaging edge: a REST API for the durable
// operations and a websocket endpoint for the live channel.
//
// # REST Surface
//
// All /api routes require a Bearer JWT; the user id travels in the "sub"
// claim.
//
//	POST /api/conversations                      open (or return) a thread
//	GET  /api/conversations                      list with unread counts
//	GET  /api/conversations/{id}/messages        newest-first page
//	POST /api/conversations/{id}/messages        send
//	POST /api/conversations/{id}/read            bulk mark-read
//	POST /api/messages/{id}/read                 single mark-read
//	GET  /api/unread-count                       total unread
//
// # Live Channel
//
// GET /ws?token=… upgrades to a websocket. The server emits exactly one
// {type:"connected"} event with the current unread count, then one
// {type:"message"} event per delivery. The only inbound command is
// {type:"mark_read"}; it is fire-and-forget because the server-side operation
// is idempotent.
//
// Sends persist first, then dispatch: a message is never pushed before it is
// durable, and a recipient without a live connection recovers it by pulling
// on reconnect.
package gateway
