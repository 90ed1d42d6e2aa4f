// Package confirmation gates destructive actions behind an explicit yes/no
// from the user.
//
// Detection is a keyword heuristic, not intent recognition: the keyword sets
// are fixed and both false positives and false negatives are accepted.
// At most one PendingConfirmation exists per session, and it expires after
// the store timeout measured from the time it was armed.
package confirmation
