package twitter

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Credentials holds the OAuth 1.0a user-context keys for posting.
type Credentials struct {
	APIKey            string
	APISecret         string
	AccessToken       string
	AccessTokenSecret string
}

// signer produces OAuth 1.0a HMAC-SHA1 Authorization headers. JSON request
// bodies do not participate in the signature base string, only the oauth
// parameters themselves.
type signer struct {
	creds Credentials
	nonce func() string
	now   func() time.Time
}

func newSigner(creds Credentials) *signer {
	return &signer{
		creds: creds,
		nonce: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
		now:   time.Now,
	}
}

func (s *signer) authorizationHeader(method, requestURL string) string {
	params := map[string]string{
		"oauth_consumer_key":     s.creds.APIKey,
		"oauth_nonce":            s.nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        fmt.Sprintf("%d", s.now().Unix()),
		"oauth_token":            s.creds.AccessToken,
		"oauth_version":          "1.0",
	}
	params["oauth_signature"] = s.signature(method, requestURL, params)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%q", percentEncode(k), percentEncode(params[k]))
	}
	return sb.String()
}

func (s *signer) signature(method, requestURL string, params map[string]string) string {
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(v))
	}
	sort.Strings(pairs)

	base := strings.ToUpper(method) + "&" +
		percentEncode(baseURI(requestURL)) + "&" +
		percentEncode(strings.Join(pairs, "&"))
	key := percentEncode(s.creds.APISecret) + "&" + percentEncode(s.creds.AccessTokenSecret)

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// baseURI strips query and fragment per RFC 5849 §3.4.1.2.
func baseURI(requestURL string) string {
	u, err := url.Parse(requestURL)
	if err != nil {
		return requestURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// percentEncode applies the stricter RFC 3986 encoding OAuth requires.
func percentEncode(s string) string {
	var sb strings.Builder
	for _, b := range []byte(s) {
		if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') ||
			b == '-' || b == '.' || b == '_' || b == '~' {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "%%%02X", b)
		}
	}
	return sb.String()
}
