package domain

import "strings"

type TokenType string

const (
	TokenTypeAccess            TokenType = "access_token"
	TokenTypeRefresh           TokenType = "refresh_token"
	TokenTypeAuthorizationCode TokenType = "authorization_code"
)

type TokenStatus string

const (
	TokenStatusValid    TokenStatus = "valid"
	TokenStatusRedeemed TokenStatus = "redeemed"
	TokenStatusRevoked  TokenStatus = "revoked"
)

type AuthorizationStatus string

const (
	AuthorizationStatusValid   AuthorizationStatus = "valid"
	AuthorizationStatusRevoked AuthorizationStatus = "revoked"
)

// SubjectType tells whether an authorization was granted to a user or to
// a client acting on its own behalf.
type SubjectType string

const (
	SubjectUser   SubjectType = "user"
	SubjectClient SubjectType = "client"
)

type ClientType string

const (
	ClientConfidential ClientType = "confidential"
	ClientPublic       ClientType = "public"
)

// Flow is a grant type a client may be allowed to use.
type Flow string

const (
	FlowAuthorizationCode Flow = "authorization_code"
	FlowPassword          Flow = "password"
	FlowRefreshToken      Flow = "refresh_token"
	FlowClientCredentials Flow = "client_credentials"
)

// Normalize produces the lookup key for user names, e-mails and role names.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ParseScope splits a space-delimited scope string, dropping duplicates.
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// JoinScope is the inverse of ParseScope.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}
