package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// telegramMaxAge bounds how old a widget auth_date may be.
const telegramMaxAge = 24 * time.Hour

var (
	// ErrInvalidSignature is returned when a Telegram payload fails verification.
	ErrInvalidSignature = errors.New("invalid telegram signature")
	// ErrTelegramDisabled is returned when no bot token is configured.
	ErrTelegramDisabled = errors.New("telegram login is not configured")
)

// TelegramPayload is the raw object posted by the Telegram login widget.
// Values are kept as decoded JSON so the check string matches what was signed.
type TelegramPayload map[string]any

// DecodeTelegramPayload decodes a widget payload keeping numbers verbatim.
func DecodeTelegramPayload(data []byte) (TelegramPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload TelegramPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode telegram payload: %w", err)
	}
	return payload, nil
}

// ID returns the Telegram user id.
func (p TelegramPayload) ID() string {
	return p.field("id")
}

// FirstName returns the user's first name, "User" when absent.
func (p TelegramPayload) FirstName() string {
	if name := strings.TrimSpace(p.field("first_name")); name != "" {
		return name
	}
	return "User"
}

func (p TelegramPayload) field(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		// Python-style rendering, as the widget's signer produces it.
		if t {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(t)
	}
}

// checkString builds the sorted "key=value" lines of every field except hash.
func (p TelegramPayload) checkString() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+p.field(k))
	}
	return strings.Join(lines, "\n")
}

// VerifyTelegram checks the payload hash against botToken and rejects
// payloads whose auth_date is older than a day.
func VerifyTelegram(p TelegramPayload, botToken string, now time.Time) error {
	if botToken == "" {
		return ErrTelegramDisabled
	}
	got, err := hex.DecodeString(p.field("hash"))
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}

	if !hmac.Equal(got, telegramSignature(p, botToken)) {
		return ErrInvalidSignature
	}

	authDate, err := strconv.ParseInt(p.field("auth_date"), 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if time.Unix(authDate, 0).Before(now.Add(-telegramMaxAge)) {
		return ErrInvalidSignature
	}
	if p.ID() == "" {
		return ErrInvalidSignature
	}
	return nil
}

func telegramSignature(p TelegramPayload, botToken string) []byte {
	secret := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(p.checkString()))
	return mac.Sum(nil)
}
