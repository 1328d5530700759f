package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSuspiciousUserAgent(t *testing.T) {
	tests := []struct {
		name       string
		userAgent  string
		suspicious bool
	}{
		{"empty agent", "", true},
		{"curl", "curl/8.0.1", false},
		{"browser", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)", false},
		{"googlebot", "Mozilla/5.0 (compatible; Googlebot/2.1)", true},
		{"scraper", "my-scraper/1.0", true},
		{"uppercase crawler", "SuperCRAWLER", true},
		{"spider", "baiduspider", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.suspicious, isSuspiciousUserAgent(tt.userAgent))
		})
	}
}
