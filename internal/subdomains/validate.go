package subdomains

import (
	"strings"

	"github.com/denhq/control-plane/internal/apperrors"
)

// reservedLabels are names that routing infrastructure claims for itself.
// They can never be taken as project subdomains.
var reservedLabels = map[string]struct{}{
	"www": {}, "mail": {}, "ftp": {}, "admin": {}, "api": {}, "app": {},
	"blog": {}, "dev": {}, "test": {}, "staging": {}, "demo": {},
	"support": {}, "help": {}, "docs": {}, "forum": {}, "shop": {},
	"store": {}, "cdn": {}, "static": {}, "media": {}, "assets": {},
	"img": {}, "images": {}, "files": {}, "download": {}, "upload": {},
	"secure": {}, "ssl": {}, "vpn": {}, "proxy": {}, "gateway": {},
	"router": {}, "firewall": {}, "ns": {}, "ns1": {}, "ns2": {},
	"dns": {}, "mx": {}, "smtp": {}, "pop": {}, "imap": {}, "webmail": {},
}

// validateLabel enforces DNS-label syntax: 1-63 chars, alphanumerics and
// hyphens, no leading or trailing hyphen.
func validateLabel(label string) error {
	if len(label) < 1 || len(label) > 63 {
		return apperrors.Validation("subdomain must be between 1 and 63 characters")
	}
	for _, char := range label {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '-') {
			return apperrors.Validation("subdomain can only contain alphanumeric characters and hyphens")
		}
	}
	if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
		return apperrors.Validation("subdomain cannot start or end with a hyphen")
	}
	return nil
}

func isReserved(label string) bool {
	_, ok := reservedLabels[strings.ToLower(label)]
	return ok
}
