package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobIDUnique(t *testing.T) {
	a := NewJobID()
	b := NewJobID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}

func TestScrapeJobDescriptorValidate(t *testing.T) {
	j := &ScrapeJobDescriptor{
		JobID:     NewJobID(),
		TenantID:  "t1",
		URL:       "https://example.com",
		CreatedAt: time.Now(),
		TimeoutMs: 5000,
	}
	require.NoError(t, j.Validate())

	missing := &ScrapeJobDescriptor{}
	assert.Error(t, missing.Validate())
}

func TestErrorMapping(t *testing.T) {
	e := NewError(ErrScrapeTimeout, "deadline exceeded")
	assert.Equal(t, 408, e.Status)
	assert.Equal(t, "SCRAPE_TIMEOUT: deadline exceeded", e.Error())

	dns := NewError(ErrScrapeDNSResolution, "no such host")
	assert.Equal(t, 200, dns.Status)

	wrapped := AsError(assertErr{"boom"})
	assert.Equal(t, ErrUnknown, wrapped.Code)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
