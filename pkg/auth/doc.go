// Package auth implements credential handling for the portal: the peppered
// API-key hasher, the API-key authenticator with route and CIDR allow-lists,
// and the typed error kinds every access decision in the system resolves to.
//
// Keys are stored only as HMAC-SHA256 digests computed with an
// application-wide pepper, so a leaked database dump alone cannot be
// brute-forced offline. The cleartext key is returned exactly once, at
// creation. An 8-character prefix of the cleartext is retained for display.
package auth
