package compose

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/iBekzod/next-gen-being-sub006/internal/storage"
)

var ErrBrandingURL = errors.New("branding url must be an http(s) url or a stored media url")

// CheckBrandingURL accepts URLs produced by blob, and public http(s) URLs.
// Local paths, other schemes and loopback or private hosts are rejected.
func CheckBrandingURL(blob storage.Blob, ref string) error {
	if _, ok := blob.KeyFromURL(ref); ok {
		return nil
	}
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" || u.User != nil {
		return ErrBrandingURL
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: host %s", ErrBrandingURL, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("%w: host %s", ErrBrandingURL, host)
		}
	}
	return nil
}
