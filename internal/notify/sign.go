// Package notify delivers the signed session outcome to the caller's
// webhook. The signature scheme is fixed by the remote verifier and must
// be reproduced byte for byte: sorted key=value pairs joined with '&',
// a trailing key=<secret>, MD5, uppercase hex.
package notify

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Sign computes the canonical signature over params. Keys are sorted
// lexicographically, pairs with empty values are skipped, and the shared
// secret is appended as key=<secret> before hashing.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		v := params[k]
		if v == "" {
			continue
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(v)
		sb.WriteByte('&')
	}
	sb.WriteString("key=")
	sb.WriteString(secret)

	sum := md5.Sum([]byte(sb.String()))
	return strings.ToUpper(fmt.Sprintf("%x", sum))
}

// SignedURL appends money, status, timestamp and the computed sign to
// the caller-supplied callback URL. An oid query parameter already on
// the URL participates in the signature but is not re-appended.
//
// Values are concatenated verbatim, not URL-encoded: the verifier hashes
// the raw query text, and every signed value is plain [0-9A-Z.] anyway.
func SignedURL(callbackURL, amountText, status, timestamp, secret string) (string, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", fmt.Errorf("parse callback url: %w", err)
	}

	params := map[string]string{
		"money":     amountText,
		"status":    status,
		"timestamp": timestamp,
	}
	if oid := u.Query().Get("oid"); oid != "" {
		params["oid"] = oid
	}
	sign := Sign(params, secret)

	sep := "?"
	if strings.Contains(callbackURL, "?") {
		sep = "&"
	}
	return callbackURL + sep +
		"money=" + amountText +
		"&status=" + status +
		"&timestamp=" + timestamp +
		"&sign=" + sign, nil
}
