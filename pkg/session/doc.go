// Package session persists conversation sessions.
//
// Every Save keeps only the most recent 2 × contextSize messages. Sessions are
// never removed by the conversation flow itself; DeleteOlderThan is called by
// Retention or the cleanup command.
package session
