// Package ticket persists support conversations opened while a user is
// in live mode.
//
// A ticket links one user to one human-operator conversation: at most
// one open ticket exists per user (enforced by the store), operator and
// system messages attach as comments, and closing the ticket is what
// hands the user back to the automated flow.
package ticket
