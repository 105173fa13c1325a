// Package livechannel is the persistent streaming connection bound to the
// active database session.
//
// A Channel carries typed Commands to the gateway and dispatches typed
// inbound Messages to subscribers. Each inbound message is delivered first
// to TopicMessage subscribers, then to subscribers of its own type.
//
// On unexpected closure the channel retries a bounded number of times at a
// fixed interval, then emits TopicMaxReconnect and stays closed until Open
// is called again. Close zeroes the retry budget so an intentional close
// never reconnects.
package livechannel
