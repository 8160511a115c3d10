package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHashIdentifier(t *testing.T) {
	h1 := HashIdentifier("TC002")
	h2 := HashIdentifier(" tc002 ")
	h3 := HashIdentifier("TC003")

	assert.Equal(t, h1, h2, "case and spacing are normalised")
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}

func TestScrubPII(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{"email", "mail me at priya@example.com please", "mail me at [EMAIL] please"},
		{"pan", "PAN is BPSPS7812K", "PAN is [PAN]"},
		{"ifsc", "IFSC HDFC0001234", "IFSC [IFSC]"},
		{"account", "account TATACAP12346", "account [ACCOUNT]"},
		{"phone", "call +91 98765 43211", "call [PHONE]"},
		{"bare phone", "my number is 9876543211", "my number is [PHONE]"},
		{"aadhaar", "aadhaar 2345 6789 0123", "aadhaar [AADHAAR]"},
		{"bank account", "a/c 123456789012", "a/c [ACCOUNT]"},
		{"amounts kept", "I need 500000 over 36 months", "I need 500000 over 36 months"},
		{"name kept", "My name is Priya Sharma", "My name is Priya Sharma"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, ScrubPII(tt.input))
		})
	}
}

func TestScrubMessages(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "my email is test@test.com", Timestamp: time.Now()},
		{Role: "assistant", Content: "Got it!", Timestamp: time.Now()},
	}
	assert.True(t, ScrubMessages(msgs))
	assert.Equal(t, "my email is [EMAIL]", msgs[0].Content)
	assert.Equal(t, "Got it!", msgs[1].Content)

	assert.False(t, ScrubMessages([]Message{{Content: "hello"}}))
}
