// Package livemode tracks whether a user's conversation is handled by
// the automated flow engine or by a human operator.
//
// # States
//
// A user is in BOT mode when no live-mode record exists (or the record
// is inactive), and in LIVE mode when an active record points at an
// open support ticket. The record lives in the user's session under a
// single key, so an expired session naturally falls back to bot mode.
//
// # Transitions
//
//   - BOT -> LIVE: Start. Idempotent - an existing open ticket is
//     reused rather than duplicated.
//   - LIVE -> BOT: Stop, driven by an operator closing the ticket.
//     Evicts the record and sends a one-time reconnection notice.
//   - LIVE -> LIVE: Claim. Operator assignment changes on the ticket;
//     session state is untouched.
//
// While LIVE, inbound user messages bypass the flow engine and attach
// to the ticket as comments. Operator comments flow back out to the
// user unless they carry a suppression marker, which prevents system
// notes and automated echoes from looping back as fresh replies.
package livemode
