// Package api is the HTTP edge of the service.
//
// Vote submissions are not processed inline: POST /rooms/:roomID/votes
// validates the body, appends it to the change feed as an INSERT record and
// wakes the feed poller, then answers 202 with the feed position. The room
// endpoints cover the administrative status edges the core does not own.
package api
