// Package snipe lets chat users retrieve the most recently edited or deleted
// message of a conversation with /snipe.
//
// Edits and deletions are recorded per conversation in an in-memory Store
// for max_age. A sniped message is removed from the Store before it is
// presented, so every change can be sniped at most once. Messages written by
// bots or through bot identities are tracked but never sniped.
//
// A response can be deleted by the sniper or the sniped author, either with
// a 🚮 reaction or by replying /unsnipe, until confirm_timeout passes.
package snipe
