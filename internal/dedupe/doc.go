// Package dedupe tracks recently seen webhook job identities so provider
// redeliveries of the same event are not processed twice.
package dedupe
