// Package ltatest provides helpers for use by the LTA package tests.
package ltatest

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"os"
)

// EnableDebugLogging turns on debug-level structured logging, which can be
// helpful for tracking down tricky issues in tests.
func EnableDebugLogging() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(handler))
}

// Token fabricates a bearer access token granting the given LTA roles. The
// token carries no signature, which suffices for services that delegate
// signature checking to their gateway.
func Token(roles ...string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	claims := map[string]any{
		"resource_access": map[string]any{
			"long-term-archive": map[string]any{
				"roles": roles,
			},
		},
	}
	payload, _ := json.Marshal(claims)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "."
}
