package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	errInitDataMissingHash = errors.New("telegram init data has no hash")
	errInitDataBadHash     = errors.New("telegram init data hash mismatch")
	errInitDataExpired     = errors.New("telegram init data is too old")
	errInitDataNoUser      = errors.New("telegram init data has no user")
)

// TelegramUser is the user object embedded in mini-app init data.
type TelegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

// DisplayName joins the user's first and last name, falling back to the username.
func (u TelegramUser) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// VerifyInitData checks the mini-app init data signature against the bot
// token and returns the embedded user. A zero maxAge skips the age check.
func VerifyInitData(initData, botToken string, maxAge time.Duration, now time.Time) (*TelegramUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("parse telegram init data: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, errInitDataMissingHash
	}

	expected := initDataHash(values, botToken)
	got, err := hex.DecodeString(hash)
	if err != nil || !hmac.Equal(got, expected) {
		return nil, errInitDataBadHash
	}

	if maxAge > 0 {
		authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse telegram auth_date: %w", err)
		}
		if now.Sub(time.Unix(authDate, 0)) > maxAge {
			return nil, errInitDataExpired
		}
	}

	raw := values.Get("user")
	if raw == "" {
		return nil, errInitDataNoUser
	}
	var user TelegramUser
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("decode telegram user: %w", err)
	}
	if user.ID == 0 {
		return nil, errInitDataNoUser
	}
	return &user, nil
}

// initDataHash computes HMAC-SHA256 of the data-check string with the key
// HMAC-SHA256("WebAppData", botToken).
func initDataHash(values url.Values, botToken string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return mac.Sum(nil)
}
