package scan

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/miekg/dns"

	"github.com/cyberguard/cyberguard/internal/errors"
)

const maxTargetLength = 253

var (
	ipv4Pattern = regexp.MustCompile(
		`^(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)(?:/(?:3[0-2]|[12]?[0-9]))?$`)
	hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// ValidateTarget trims target and checks that it is an IPv4 address, an
// IPv4 network in CIDR notation, or a DNS hostname with an alphabetic TLD.
// The trimmed target is returned on success.
func ValidateTarget(target string) (string, error) {
	t := strings.TrimSpace(target)
	if t == "" || len(t) > maxTargetLength {
		return "", errors.ErrInvalidTarget(target)
	}
	if ipv4Pattern.MatchString(t) {
		return t, nil
	}
	if hostnamePattern.MatchString(t) {
		if _, ok := dns.IsDomainName(t); ok && !strings.Contains(t, "..") {
			return t, nil
		}
	}
	return "", errors.ErrInvalidTarget(target)
}

// TargetTag is the validator tag checking scan targets.
const TargetTag = "scantarget"

// RegisterValidation adds the scantarget tag to v.
func RegisterValidation(v *validator.Validate) error {
	return v.RegisterValidation(TargetTag, func(fl validator.FieldLevel) bool {
		_, err := ValidateTarget(fl.Field().String())
		return err == nil
	})
}
