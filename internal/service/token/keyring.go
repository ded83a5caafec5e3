package token

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errUnknownKey = errors.New("unknown signing key")
	errRetiredKey = errors.New("signing key retired")
)

// Keyring holds the HS256 keys by kid. Exactly one key signs; the others
// only verify, each until its optional not-after instant. A Keyring is
// immutable after construction.
type Keyring struct {
	keys     map[string][]byte
	notAfter map[string]time.Time
	active   string
}

type KeyringOption func(*Keyring)

// WithNotAfter stops kid from verifying tokens once the clock passes at.
func WithNotAfter(kid string, at time.Time) KeyringOption {
	return func(k *Keyring) { k.notAfter[kid] = at }
}

func NewKeyring(keys map[string][]byte, active string, opts ...KeyringOption) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, errors.New("keyring: no signing keys")
	}
	if _, ok := keys[active]; !ok {
		return nil, fmt.Errorf("keyring: active key %q not found", active)
	}
	k := &Keyring{
		keys:     make(map[string][]byte, len(keys)),
		notAfter: make(map[string]time.Time),
		active:   active,
	}
	for kid, secret := range keys {
		if len(secret) == 0 {
			return nil, fmt.Errorf("keyring: key %q is empty", kid)
		}
		k.keys[kid] = append([]byte(nil), secret...)
	}
	for _, opt := range opts {
		opt(k)
	}
	for kid := range k.notAfter {
		if _, ok := k.keys[kid]; !ok {
			return nil, fmt.Errorf("keyring: not-after set for unknown key %q", kid)
		}
		if kid == active {
			return nil, fmt.Errorf("keyring: active key %q cannot be retired", kid)
		}
	}
	return k, nil
}

func (k *Keyring) ActiveKeyID() string { return k.active }

func (k *Keyring) KeyIDs() []string {
	out := make([]string, 0, len(k.keys))
	for kid := range k.keys {
		out = append(out, kid)
	}
	sort.Strings(out)
	return out
}

// Sign signs claims with the active key and stamps its kid in the header.
func (k *Keyring) Sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = k.active
	return t.SignedString(k.keys[k.active])
}

// keyfunc resolves the verification key from the kid header as of now.
func (k *Keyring) keyfunc(now time.Time) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		kid, _ := t.Header["kid"].(string)
		secret, ok := k.keys[kid]
		if !ok {
			return nil, fmt.Errorf("%w: %q", errUnknownKey, kid)
		}
		if at, retired := k.notAfter[kid]; retired && now.After(at) {
			return nil, fmt.Errorf("%w: %q", errRetiredKey, kid)
		}
		return secret, nil
	}
}

// Parse verifies tokenStr into claims, reading the clock as now.
func (k *Keyring) Parse(now time.Time, tokenStr string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}, opts...)
	tkn, err := jwt.ParseWithClaims(tokenStr, claims, k.keyfunc(now), opts...)
	if err != nil {
		return err
	}
	if !tkn.Valid {
		return errors.New("invalid token")
	}
	return nil
}
