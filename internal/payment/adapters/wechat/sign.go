package wechat

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"
)

const (
	SignTypeMD5        = "MD5"
	SignTypeHMACSHA256 = "HMAC-SHA256"
)

// Sign computes the uppercase hex signature over the sorted non-empty
// params joined k=v with &, with &key=<apiKey> appended.
func Sign(params map[string]string, apiKey, signType string) string {
	content := signContent(params) + "&key=" + apiKey
	if strings.EqualFold(signType, SignTypeHMACSHA256) {
		mac := hmac.New(sha256.New, []byte(apiKey))
		mac.Write([]byte(content))
		return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
	}
	sum := md5.Sum([]byte(content))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// VerifySignature recomputes the signature from params and compares it
// to the embedded sign field in constant time.
func VerifySignature(params map[string]string, apiKey, signType string) bool {
	provided := strings.ToUpper(strings.TrimSpace(params["sign"]))
	if provided == "" {
		return false
	}
	expected := Sign(params, apiKey, signType)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

func signContent(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key, value := range params {
		if key == "sign" || value == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(params[key])
	}
	return b.String()
}
