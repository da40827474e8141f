// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package download

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ExpiryFromHeaders derives the expiry of a response. Cache-Control
// no-cache, no-store and max-age win over Expires; s-maxage is ignored as
// this is a private cache. A nil result means the response carries no
// expiry and stays fresh until revalidated.
func ExpiryFromHeaders(h http.Header, now time.Time) *time.Time {
	if cc := h.Get("Cache-Control"); cc != "" {
		for _, directive := range strings.Split(cc, ",") {
			name, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
			switch strings.ToLower(strings.TrimSpace(name)) {
			case "no-cache", "no-store":
				t := now
				return &t
			case "max-age":
				secs, err := strconv.ParseInt(strings.Trim(value, `"`), 10, 64)
				if err != nil || secs < 0 {
					continue
				}
				age := ageSeconds(h)
				t := now.Add(time.Duration(secs-age) * time.Second)
				return &t
			}
		}
	}

	if exp := h.Get("Expires"); exp != "" {
		t, err := http.ParseTime(exp)
		if err != nil {
			// Invalid dates, including "0", mean already expired.
			t = now
		}
		return &t
	}
	return nil
}

func ageSeconds(h http.Header) int64 {
	age, err := strconv.ParseInt(h.Get("Age"), 10, 64)
	if err != nil || age < 0 {
		return 0
	}
	return age
}
