// Package imagecache serves campaign images through size-tiered caches in front of the
// image origin.
package imagecache

import (
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Tier selects the cache bucket and policy for an image request.
type Tier string

const (
	TierThumbnail Tier = "thumbnail"
	TierMedium    Tier = "medium"
	TierLarge     Tier = "large"
)

const (
	thumbnailMaxWidth = 300
	mediumMaxWidth    = 600
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
	".avif": {},
}

// IsImageRequest reports whether the path names a cacheable image.
func IsImageRequest(requestPath string) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(requestPath))]
	return ok
}

// Classify picks the tier from the width query parameter. Missing or malformed widths are large.
func Classify(requestURL *url.URL) Tier {
	if requestURL == nil {
		return TierLarge
	}
	width, err := strconv.Atoi(requestURL.Query().Get("width"))
	switch {
	case err != nil || width <= 0:
		return TierLarge
	case width <= thumbnailMaxWidth:
		return TierThumbnail
	case width <= mediumMaxWidth:
		return TierMedium
	default:
		return TierLarge
	}
}

// normalizedURL keeps the path and a positive integer width. Every other query parameter is
// dropped so it can neither split cache entries nor reach the origin.
func normalizedURL(requestURL *url.URL) *url.URL {
	normalized := &url.URL{Path: requestURL.Path}
	if width, err := strconv.Atoi(requestURL.Query().Get("width")); err == nil && width > 0 {
		normalized.RawQuery = "width=" + strconv.Itoa(width)
	}
	return normalized
}

// cacheKey identifies a normalized image request.
func cacheKey(requestURL *url.URL) string {
	if requestURL.RawQuery == "" {
		return requestURL.Path
	}
	return requestURL.Path + "?" + requestURL.RawQuery
}
