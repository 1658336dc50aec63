package endpoints

import (
	"net/mail"
	"net/url"
	"regexp"
	"strings"

	"philcali.me/notify/internal/data"
	"philcali.me/notify/internal/exceptions"
)

var (
	e164Pattern   = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	arnPattern    = regexp.MustCompile(`^arn:[a-z0-9-]+:[a-z0-9-]+:[a-z0-9-]*:\d{0,12}:\S+$`)
	phoneCleanser = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

// Normalize validates address for the endpoint kind and returns its canonical form.
func Normalize(kind data.EndpointKind, address string) (string, error) {
	switch kind {
	case data.EMAIL:
		return NormalizeEmail(address)
	case data.SMS:
		return NormalizeE164(address)
	case data.PUSH:
		return NormalizePush(address)
	}
	return "", exceptions.InvalidEndpoint(string(kind), address, "unsupported protocol")
}

// NormalizeEmail lowercases a bare address. Display names are rejected.
func NormalizeEmail(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", exceptions.InvalidEndpoint(string(data.EMAIL), value, "value is empty")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", exceptions.InvalidEndpoint(string(data.EMAIL), value, err.Error())
	}
	if addr.Name != "" || addr.Address != trimmed {
		return "", exceptions.InvalidEndpoint(string(data.EMAIL), value, "must be a bare address")
	}
	return strings.ToLower(addr.Address), nil
}

// NormalizeE164 strips common separators and requires the E.164 form, ie +15555550100.
func NormalizeE164(value string) (string, error) {
	cleaned := phoneCleanser.Replace(strings.TrimSpace(value))
	if cleaned == "" {
		return "", exceptions.InvalidEndpoint(string(data.SMS), value, "value is empty")
	}
	if !e164Pattern.MatchString(cleaned) {
		return "", exceptions.InvalidEndpoint(string(data.SMS), value, "expected E.164 format +<country><number>")
	}
	return cleaned, nil
}

// NormalizePush accepts either a platform endpoint ARN or an absolute http(s) URL.
func NormalizePush(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", exceptions.InvalidEndpoint(string(data.PUSH), value, "value is empty")
	}
	if arnPattern.MatchString(trimmed) {
		return trimmed, nil
	}
	u, err := url.Parse(trimmed)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return "", exceptions.InvalidEndpoint(string(data.PUSH), value, "expected an endpoint ARN or http(s) URL")
	}
	return trimmed, nil
}
