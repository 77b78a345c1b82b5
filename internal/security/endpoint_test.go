package security

import "testing"

func TestValidateEndpointURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https public IP", "https://93.184.216.34/hook", false},
		{"http allowed", "http://93.184.216.34/hook", false},
		{"bad scheme", "ftp://example.com/hook", true},
		{"no host", "https:///hook", true},
		{"localhost blocked", "https://localhost:8080/hook", true},
		{"loopback blocked", "https://127.0.0.1/hook", true},
		{"private blocked", "https://10.0.0.5/hook", true},
		{"link-local blocked", "https://169.254.169.254/latest/meta-data", true},
		{"unspecified blocked", "https://0.0.0.0/hook", true},
		{"metadata host blocked", "https://metadata.google.internal/computeMetadata", true},
		{"garbage", "://not a url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEndpointURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEndpointURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
